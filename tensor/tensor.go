// Package tensor provides the dense float32 buffers the graph engine
// executes against: row-major storage with stride-based broadcast iteration,
// plus the fill and accumulate primitives used by passes and by the
// gradient-verification harness.
package tensor

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Tensor is a dense row-major float32 buffer with a concrete shape.
type Tensor struct {
	shape Shape
	data  []float32
}

// New creates a zero-filled tensor with the given shape.
func New(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid shape")
	}
	return &Tensor{
		shape: shape.Clone(),
		data:  make([]float32, shape.NumElements()),
	}, nil
}

// FromSlice creates a tensor wrapping the given data. The data length must
// match the shape's element count. The slice is not copied.
func FromSlice(data []float32, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid shape")
	}
	if len(data) != shape.NumElements() {
		return nil, errors.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	return &Tensor{shape: shape.Clone(), data: data}, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the underlying element slice.
func (t *Tensor) Data() []float32 {
	return t.data
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return len(t.data)
}

// ByteSize returns the buffer size in bytes.
func (t *Tensor) ByteSize() int {
	return len(t.data) * 4
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape.Clone(), data: data}
}

// Zero resets every element to zero.
func (t *Tensor) Zero() {
	for i := range t.data {
		t.data[i] = 0
	}
}

// Fill sets every element from successive calls to f.
func (t *Tensor) Fill(f func() float32) {
	for i := range t.data {
		t.data[i] = f()
	}
}

// FillNormal fills the tensor with samples from a zero-mean normal
// distribution with the given standard deviation.
func (t *Tensor) FillNormal(rng *rand.Rand, stdDev float32) {
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64()) * stdDev
	}
}

// ScaledAdd accumulates alpha*o into t. Shapes must match exactly.
func (t *Tensor) ScaledAdd(alpha float32, o *Tensor) error {
	if !t.shape.Equal(o.shape) {
		return errors.Errorf("scaled add shape mismatch: %v vs %v", t.shape, o.shape)
	}
	for i, v := range o.data {
		t.data[i] += alpha * v
	}
	return nil
}

// SumSquares returns the sum of squared elements.
func (t *Tensor) SumSquares() float32 {
	var sum float32
	for _, v := range t.data {
		sum += v * v
	}
	return sum
}
