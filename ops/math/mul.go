// Package math provides arithmetic ops over graph nodes.
package math

import (
	"github.com/pkg/errors"

	"github.com/hi-T0day/alumina/graph"
	"github.com/hi-T0day/alumina/internal/parallel"
	"github.com/hi-T0day/alumina/ops"
	"github.com/hi-T0day/alumina/shape"
	"github.com/hi-T0day/alumina/tensor"
)

var cfg = parallel.Default()

// Mul is element-wise multiplication with broadcasting: the value of input2
// is broadcast to the shape of input1, multiplied in, and accumulated into
// the output.
type Mul struct {
	input1, input2, output graph.NodeID
	name                   string
}

// NewMul creates a broadcasting multiply of input1 by input2 into output.
func NewMul(input1, input2, output graph.NodeID) *Mul {
	return &Mul{input1: input1, input2: input2, output: output}
}

// WithName overrides the standard instance name.
func (o *Mul) WithName(name string) *Mul {
	o.name = name
	return o
}

// TypeName identifies the op kind.
func (o *Mul) TypeName() string {
	return "Mul"
}

// Build registers the forward and backward passes.
func (o *Mul) Build(g *graph.GraphDef, _ graph.OpID) (graph.OpInstance, error) {
	name := ops.StandardName(g, o.TypeName(), o.name,
		[]graph.NodeID{o.input1, o.input2}, []graph.NodeID{o.output})
	inst := &mulInstance{name: name, op: *o}
	inst.forward = g.AddPass(&mulForward{op: *o})
	inst.backward = g.AddPass(&mulBackward{op: *o})
	return inst, nil
}

type mulInstance struct {
	name              string
	op                Mul
	forward, backward graph.PassID
}

func (i *mulInstance) Name() string { return i.name }

func (i *mulInstance) Dependencies() (inputs, outputs []graph.NodeID) {
	return []graph.NodeID{i.op.input1, i.op.input2}, []graph.NodeID{i.op.output}
}

func (i *mulInstance) InnerPasses() []graph.PassID {
	return []graph.PassID{i.forward, i.backward}
}

func (i *mulInstance) InnerOps() []graph.OpID     { return nil }
func (i *mulInstance) InnerNodes() []graph.NodeID { return nil }

// PropagateShapeConstraints derives the output shape from input1's shape
// constrained by input2's non-broadcast dimensions: a Known(1) dimension of
// input2 broadcasts, every other Known dimension must match.
func (i *mulInstance) PropagateShapeConstraints(shapes *graph.GraphShapes) error {
	in2 := shapes.Get(i.op.input2)
	dims := make([]shape.Dim, in2.Rank())
	for d := 0; d < in2.Rank(); d++ {
		if v, ok := in2.Dim(d).Value(); ok && v != 1 {
			dims[d] = shape.Known(v)
		} else {
			dims[d] = shape.Unknown()
		}
	}
	outputShape, err := shape.Of(dims...).Merge(shapes.Get(i.op.input1))
	if err != nil {
		return errors.Wrap(err, "combining input shapes")
	}
	return shapes.MergeWith(i.op.output, outputShape)
}

type mulForward struct {
	op Mul
}

func (p *mulForward) TypeName() string { return "MulForward" }

func (p *mulForward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.op.input1.ValueID(), p.op.input2.ValueID()},
		[]graph.DataID{p.op.output.ValueID()}
}

func (p *mulForward) Run(storage *graph.Storage) error {
	input1, err := storage.Get(p.op.input1.ValueID())
	if err != nil {
		return err
	}
	input2, err := storage.Get(p.op.input2.ValueID())
	if err != nil {
		return err
	}
	output, err := storage.GetMut(p.op.output.ValueID())
	if err != nil {
		return err
	}
	if !input1.Shape().Equal(output.Shape()) {
		return errors.Errorf("input1 shape %v did not match output shape %v", input1.Shape(), output.Shape())
	}
	in2Strides, err := tensor.BroadcastStrides(input2.Shape(), output.Shape())
	if err != nil {
		return errors.Wrap(err, "broadcasting input2 to output")
	}

	outStrides := output.Shape().Strides()
	a, b, out := input1.Data(), input2.Data(), output.Data()
	parallel.For(cfg, len(out), func(start, end int) {
		for i := start; i < end; i++ {
			out[i] += a[i] * b[tensor.FlatIndex(i, outStrides, in2Strides)]
		}
	})
	return nil
}

type mulBackward struct {
	op Mul
}

func (p *mulBackward) TypeName() string { return "MulBackward" }

func (p *mulBackward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.op.input1.ValueID(), p.op.input2.ValueID(), p.op.output.GradientID()},
		[]graph.DataID{p.op.input1.GradientID(), p.op.input2.GradientID()}
}

func (p *mulBackward) Run(storage *graph.Storage) error {
	input1, err := storage.Get(p.op.input1.ValueID())
	if err != nil {
		return err
	}
	input2, err := storage.Get(p.op.input2.ValueID())
	if err != nil {
		return err
	}
	outputGrad, err := storage.Get(p.op.output.GradientID())
	if err != nil {
		return err
	}
	if !input1.Shape().Equal(outputGrad.Shape()) {
		return errors.Errorf("input1 shape %v did not match output gradient shape %v",
			input1.Shape(), outputGrad.Shape())
	}
	in2Strides, err := tensor.BroadcastStrides(input2.Shape(), outputGrad.Shape())
	if err != nil {
		return errors.Wrap(err, "broadcasting input2 to output gradient")
	}
	outStrides := outputGrad.Shape().Strides()

	if storage.IsRequired(p.op.input1.GradientID()) {
		input1Grad, err := storage.GetMut(p.op.input1.GradientID())
		if err != nil {
			return err
		}
		g1, b, og := input1Grad.Data(), input2.Data(), outputGrad.Data()
		parallel.For(cfg, len(og), func(start, end int) {
			for i := start; i < end; i++ {
				g1[i] += b[tensor.FlatIndex(i, outStrides, in2Strides)] * og[i]
			}
		})
	}

	if storage.IsRequired(p.op.input2.GradientID()) {
		input2Grad, err := storage.GetMut(p.op.input2.GradientID())
		if err != nil {
			return err
		}
		// Scatter-add: distinct output positions fold into the same
		// gradient element wherever input2 was broadcast. The loop must
		// stay on a single goroutine.
		g2, a, og := input2Grad.Data(), input1.Data(), outputGrad.Data()
		for i := range og {
			g2[tensor.FlatIndex(i, outStrides, in2Strides)] += a[i] * og[i]
		}
	}
	return nil
}
