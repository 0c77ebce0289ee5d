package math

import (
	"github.com/pkg/errors"

	"github.com/hi-T0day/alumina/graph"
	"github.com/hi-T0day/alumina/internal/parallel"
	"github.com/hi-T0day/alumina/ops"
	"github.com/hi-T0day/alumina/shape"
)

// Broadcast adds the input node to every channel slice of the output node.
// The input must collapse to a fixed shape whose flat size equals the
// output's channel (last) dimension; a mismatch is a shape conflict, never a
// truncation.
type Broadcast struct {
	input, output graph.NodeID
	name          string
}

// NewBroadcast creates a channel-wise broadcast add from input to output.
func NewBroadcast(input, output graph.NodeID) *Broadcast {
	return &Broadcast{input: input, output: output}
}

// WithName overrides the standard instance name.
func (o *Broadcast) WithName(name string) *Broadcast {
	o.name = name
	return o
}

// TypeName identifies the op kind.
func (o *Broadcast) TypeName() string {
	return "Broadcast"
}

// Build registers the forward and backward passes.
func (o *Broadcast) Build(g *graph.GraphDef, _ graph.OpID) (graph.OpInstance, error) {
	name := ops.StandardName(g, o.TypeName(), o.name,
		[]graph.NodeID{o.input}, []graph.NodeID{o.output})
	inst := &broadcastInstance{name: name, op: *o}
	inst.forward = g.AddPass(&broadcastForward{op: *o})
	inst.backward = g.AddPass(&broadcastBackward{op: *o})
	return inst, nil
}

type broadcastInstance struct {
	name              string
	op                Broadcast
	forward, backward graph.PassID
}

func (i *broadcastInstance) Name() string { return i.name }

func (i *broadcastInstance) Dependencies() (inputs, outputs []graph.NodeID) {
	return []graph.NodeID{i.op.input}, []graph.NodeID{i.op.output}
}

func (i *broadcastInstance) InnerPasses() []graph.PassID {
	return []graph.PassID{i.forward, i.backward}
}

func (i *broadcastInstance) InnerOps() []graph.OpID     { return nil }
func (i *broadcastInstance) InnerNodes() []graph.NodeID { return nil }

// PropagateShapeConstraints collapses the input to a fixed shape and
// constrains the output's channel dimension to the input's flat size.
func (i *broadcastInstance) PropagateShapeConstraints(shapes *graph.GraphShapes) error {
	shapes.CollapseToMinimum(i.op.input)
	flat, err := shapes.Get(i.op.input).FlatSize()
	if err != nil {
		return errors.Wrap(err, "input could not be fixed to a concrete shape")
	}

	out := shapes.Get(i.op.output)
	if out.Rank() == 0 {
		return errors.New("output must have at least a channel dimension")
	}
	dims := make([]shape.Dim, out.Rank())
	for d := range dims {
		dims[d] = shape.Unknown()
	}
	dims[len(dims)-1] = shape.Known(flat)
	return shapes.MergeWith(i.op.output, shape.Of(dims...))
}

type broadcastForward struct {
	op Broadcast
}

func (p *broadcastForward) TypeName() string { return "BroadcastForward" }

func (p *broadcastForward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.op.input.ValueID()}, []graph.DataID{p.op.output.ValueID()}
}

func (p *broadcastForward) Run(storage *graph.Storage) error {
	in, err := storage.Get(p.op.input.ValueID())
	if err != nil {
		return err
	}
	out, err := storage.GetMut(p.op.output.ValueID())
	if err != nil {
		return err
	}
	channels := in.NumElements()
	outShape := out.Shape()
	if outShape[len(outShape)-1] != channels {
		return errors.Errorf("input flat size %d did not match output channel dimension %d",
			channels, outShape[len(outShape)-1])
	}

	inData, outData := in.Data(), out.Data()
	rows := len(outData) / channels
	parallel.For(cfg, rows, func(start, end int) {
		for row := start; row < end; row++ {
			slice := outData[row*channels : (row+1)*channels]
			for j, v := range inData {
				slice[j] += v
			}
		}
	})
	return nil
}

type broadcastBackward struct {
	op Broadcast
}

func (p *broadcastBackward) TypeName() string { return "BroadcastBackward" }

func (p *broadcastBackward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.op.output.GradientID()}, []graph.DataID{p.op.input.GradientID()}
}

func (p *broadcastBackward) Run(storage *graph.Storage) error {
	if !storage.IsRequired(p.op.input.GradientID()) {
		return nil
	}
	outGrad, err := storage.Get(p.op.output.GradientID())
	if err != nil {
		return err
	}
	inGrad, err := storage.GetMut(p.op.input.GradientID())
	if err != nil {
		return err
	}
	channels := inGrad.NumElements()
	if outGrad.NumElements()%channels != 0 {
		return errors.Errorf("output gradient size %d is not a multiple of input flat size %d",
			outGrad.NumElements(), channels)
	}

	// Every output row folds into the same input gradient; serialized.
	igData, ogData := inGrad.Data(), outGrad.Data()
	for i, v := range ogData {
		igData[i%channels] += v
	}
	return nil
}
