// Package shape models partially-constrained tensor shapes.
//
// A Shape is an ordered sequence of per-dimension constraints. Each dimension
// is either Known (a single concrete extent), Unknown, or an inclusive
// interval of admissible extents. Shapes are refined by merging: the result of
// a merge is the intersection of the two constraints, and an empty
// intersection is a conflict.
//
// Merging is pure and monotone (constraints only ever narrow), which is what
// lets the graph engine run constraint propagation to a fixed point in any
// visitation order.
package shape

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// unbounded marks an interval with no upper limit.
const unbounded = math.MaxInt

// Dim is a constraint on a single tensor dimension: an inclusive interval of
// admissible extents. Known dimensions are intervals of width zero.
type Dim struct {
	lo, hi int
}

// Known returns a fully determined dimension of extent n.
// Panics if n < 1; zero-size dimensions are not representable.
func Known(n int) Dim {
	if n < 1 {
		panic(fmt.Sprintf("shape: Known dimension must be positive, got %d", n))
	}
	return Dim{lo: n, hi: n}
}

// Unknown returns a fully unconstrained dimension.
func Unknown() Dim {
	return Dim{lo: 1, hi: unbounded}
}

// Interval returns a dimension constrained to [lo, hi] inclusive.
// Panics if the interval is empty or lo < 1.
func Interval(lo, hi int) Dim {
	if lo < 1 || hi < lo {
		panic(fmt.Sprintf("shape: invalid interval [%d, %d]", lo, hi))
	}
	return Dim{lo: lo, hi: hi}
}

// IsKnown reports whether the dimension has a single admissible extent.
func (d Dim) IsKnown() bool {
	return d.lo == d.hi
}

// Value returns the concrete extent and true if the dimension is Known.
func (d Dim) Value() (int, bool) {
	return d.lo, d.lo == d.hi
}

// Min returns the smallest admissible extent.
func (d Dim) Min() int {
	return d.lo
}

// Merge intersects two dimension constraints. An empty intersection is a
// conflict and returns an error naming both constraints.
func (d Dim) Merge(o Dim) (Dim, error) {
	lo := max(d.lo, o.lo)
	hi := min(d.hi, o.hi)
	if lo > hi {
		return Dim{}, errors.Errorf("incompatible dimensions %s and %s", d, o)
	}
	return Dim{lo: lo, hi: hi}, nil
}

// Equal reports whether two constraints admit exactly the same extents.
func (d Dim) Equal(o Dim) bool {
	return d.lo == o.lo && d.hi == o.hi
}

func (d Dim) String() string {
	switch {
	case d.lo == d.hi:
		return strconv.Itoa(d.lo)
	case d.lo == 1 && d.hi == unbounded:
		return "?"
	case d.hi == unbounded:
		return fmt.Sprintf("%d..", d.lo)
	default:
		return fmt.Sprintf("%d..%d", d.lo, d.hi)
	}
}

// Shape is an ordered sequence of dimension constraints. The zero value is a
// rank-0 (scalar) shape. Shapes are immutable; Merge and CollapseToMinimum
// return new values.
type Shape struct {
	dims []Dim
}

// Of builds a shape from explicit dimension constraints.
func Of(dims ...Dim) Shape {
	s := Shape{dims: make([]Dim, len(dims))}
	copy(s.dims, dims)
	return s
}

// OfKnown builds a fully determined shape from concrete extents.
func OfKnown(extents ...int) Shape {
	dims := make([]Dim, len(extents))
	for i, e := range extents {
		dims[i] = Known(e)
	}
	return Shape{dims: dims}
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s.dims)
}

// Dim returns the constraint for dimension i.
func (s Shape) Dim(i int) Dim {
	return s.dims[i]
}

// Dims returns a copy of the per-dimension constraints.
func (s Shape) Dims() []Dim {
	out := make([]Dim, len(s.dims))
	copy(out, s.dims)
	return out
}

// Merge intersects two shapes dimension by dimension. The shapes must have
// equal rank and every dimension pair must be compatible.
func (s Shape) Merge(o Shape) (Shape, error) {
	if len(s.dims) != len(o.dims) {
		return Shape{}, errors.Errorf("cannot merge %s with %s: rank %d != %d", s, o, len(s.dims), len(o.dims))
	}
	merged := make([]Dim, len(s.dims))
	for i := range s.dims {
		d, err := s.dims[i].Merge(o.dims[i])
		if err != nil {
			return Shape{}, errors.Wrapf(err, "cannot merge %s with %s at dimension %d", s, o, i)
		}
		merged[i] = d
	}
	return Shape{dims: merged}, nil
}

// CollapseToMinimum forces every underdetermined dimension to its smallest
// admissible extent, producing a fully Known shape.
func (s Shape) CollapseToMinimum() Shape {
	dims := make([]Dim, len(s.dims))
	for i, d := range s.dims {
		dims[i] = Known(d.lo)
	}
	return Shape{dims: dims}
}

// IsKnown reports whether every dimension is fully determined.
func (s Shape) IsKnown() bool {
	for _, d := range s.dims {
		if !d.IsKnown() {
			return false
		}
	}
	return true
}

// Extents returns the concrete extents of a fully Known shape.
func (s Shape) Extents() ([]int, error) {
	out := make([]int, len(s.dims))
	for i, d := range s.dims {
		v, ok := d.Value()
		if !ok {
			return nil, errors.Errorf("shape %s is not fully determined at dimension %d", s, i)
		}
		out[i] = v
	}
	return out, nil
}

// FlatSize returns the product of extents of a fully Known shape.
func (s Shape) FlatSize() (int, error) {
	extents, err := s.Extents()
	if err != nil {
		return 0, err
	}
	n := 1
	for _, e := range extents {
		n *= e
	}
	return n, nil
}

// Equal reports whether two shapes admit exactly the same extents.
func (s Shape) Equal(o Shape) bool {
	if len(s.dims) != len(o.dims) {
		return false
	}
	for i := range s.dims {
		if !s.dims[i].Equal(o.dims[i]) {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s.dims))
	for i, d := range s.dims {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
