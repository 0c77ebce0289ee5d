// Package activ provides element-wise activation ops. Each activation is a
// pure scalar function plus its derivative; the shared Elementwise op turns
// one into a forward and a backward pass over the connected nodes.
package activ

import (
	"github.com/pkg/errors"

	"github.com/hi-T0day/alumina/graph"
	"github.com/hi-T0day/alumina/internal/parallel"
	"github.com/hi-T0day/alumina/ops"
)

var cfg = parallel.Default()

// Func is an element-wise activation: a scalar function and its gradient.
type Func interface {
	// Value computes the activation at x.
	Value(x float32) float32

	// Gradient computes d(loss)/dx from x and d(loss)/d(Value(x)).
	Gradient(x, outputGrad float32) float32
}

// Elementwise is the generic build-time op for any activation Func. The
// output node takes the input node's shape.
type Elementwise struct {
	typeName      string
	input, output graph.NodeID
	f             Func
	name          string
}

// NewElementwise wraps an activation Func as an op between two nodes.
func NewElementwise(typeName string, input, output graph.NodeID, f Func) *Elementwise {
	return &Elementwise{typeName: typeName, input: input, output: output, f: f}
}

// WithName overrides the standard instance name.
func (o *Elementwise) WithName(name string) *Elementwise {
	o.name = name
	return o
}

// TypeName identifies the activation kind.
func (o *Elementwise) TypeName() string {
	return o.typeName
}

// Build registers the forward and backward passes.
func (o *Elementwise) Build(g *graph.GraphDef, _ graph.OpID) (graph.OpInstance, error) {
	name := ops.StandardName(g, o.typeName, o.name,
		[]graph.NodeID{o.input}, []graph.NodeID{o.output})
	inst := &elementwiseInstance{
		name:   name,
		input:  o.input,
		output: o.output,
	}
	inst.forward = g.AddPass(&elementwiseForward{
		passName: o.typeName + "Forward",
		input:    o.input, output: o.output, f: o.f,
	})
	inst.backward = g.AddPass(&elementwiseBackward{
		passName: o.typeName + "Backward",
		input:    o.input, output: o.output, f: o.f,
	})
	return inst, nil
}

type elementwiseInstance struct {
	name              string
	input, output     graph.NodeID
	forward, backward graph.PassID
}

func (i *elementwiseInstance) Name() string { return i.name }

func (i *elementwiseInstance) Dependencies() (inputs, outputs []graph.NodeID) {
	return []graph.NodeID{i.input}, []graph.NodeID{i.output}
}

func (i *elementwiseInstance) InnerPasses() []graph.PassID {
	return []graph.PassID{i.forward, i.backward}
}

func (i *elementwiseInstance) InnerOps() []graph.OpID     { return nil }
func (i *elementwiseInstance) InnerNodes() []graph.NodeID { return nil }

func (i *elementwiseInstance) PropagateShapeConstraints(shapes *graph.GraphShapes) error {
	if err := shapes.MergeWith(i.output, shapes.Get(i.input)); err != nil {
		return err
	}
	return shapes.MergeWith(i.input, shapes.Get(i.output))
}

type elementwiseForward struct {
	passName      string
	input, output graph.NodeID
	f             Func
}

func (p *elementwiseForward) TypeName() string { return p.passName }

func (p *elementwiseForward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.input.ValueID()}, []graph.DataID{p.output.ValueID()}
}

func (p *elementwiseForward) Run(storage *graph.Storage) error {
	in, err := storage.Get(p.input.ValueID())
	if err != nil {
		return err
	}
	out, err := storage.GetMut(p.output.ValueID())
	if err != nil {
		return err
	}
	if !in.Shape().Equal(out.Shape()) {
		return errors.Errorf("input shape %v did not match output shape %v", in.Shape(), out.Shape())
	}

	inData, outData := in.Data(), out.Data()
	parallel.For(cfg, len(inData), func(start, end int) {
		for i := start; i < end; i++ {
			outData[i] += p.f.Value(inData[i])
		}
	})
	return nil
}

type elementwiseBackward struct {
	passName      string
	input, output graph.NodeID
	f             Func
}

func (p *elementwiseBackward) TypeName() string { return p.passName }

func (p *elementwiseBackward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.input.ValueID(), p.output.GradientID()},
		[]graph.DataID{p.input.GradientID()}
}

func (p *elementwiseBackward) Run(storage *graph.Storage) error {
	if !storage.IsRequired(p.input.GradientID()) {
		return nil
	}
	in, err := storage.Get(p.input.ValueID())
	if err != nil {
		return err
	}
	outGrad, err := storage.Get(p.output.GradientID())
	if err != nil {
		return err
	}
	inGrad, err := storage.GetMut(p.input.GradientID())
	if err != nil {
		return err
	}
	if !in.Shape().Equal(outGrad.Shape()) {
		return errors.Errorf("input shape %v did not match output gradient shape %v", in.Shape(), outGrad.Shape())
	}

	inData, ogData, igData := in.Data(), outGrad.Data(), inGrad.Data()
	parallel.For(cfg, len(inData), func(start, end int) {
		for i := start; i < end; i++ {
			igData[i] += p.f.Gradient(inData[i], ogData[i])
		}
	})
	return nil
}
