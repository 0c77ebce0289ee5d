package graph_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hi-T0day/alumina/graph"
	"github.com/hi-T0day/alumina/shape"
	"github.com/hi-T0day/alumina/tensor"
)

// addPair: output.value += a.value + b.value. Its backward pass records which
// gradient slots the request actually required.
type addPair struct {
	a, b, output graph.NodeID

	sawARequired, sawBRequired bool
}

func (o *addPair) TypeName() string { return "AddPair" }

func (o *addPair) Build(g *graph.GraphDef, id graph.OpID) (graph.OpInstance, error) {
	inst := &addPairInstance{op: o, name: fmt.Sprintf("AddPair%d", id)}
	inst.forward = g.AddPass(&addPairForward{op: o})
	inst.backward = g.AddPass(&addPairBackward{op: o})
	return inst, nil
}

type addPairInstance struct {
	op                *addPair
	name              string
	forward, backward graph.PassID
}

func (i *addPairInstance) Name() string { return i.name }
func (i *addPairInstance) Dependencies() (inputs, outputs []graph.NodeID) {
	return []graph.NodeID{i.op.a, i.op.b}, []graph.NodeID{i.op.output}
}
func (i *addPairInstance) InnerPasses() []graph.PassID {
	return []graph.PassID{i.forward, i.backward}
}
func (i *addPairInstance) InnerOps() []graph.OpID     { return nil }
func (i *addPairInstance) InnerNodes() []graph.NodeID { return nil }
func (i *addPairInstance) PropagateShapeConstraints(shapes *graph.GraphShapes) error {
	for _, n := range []graph.NodeID{i.op.b, i.op.output} {
		if err := shapes.MergeWith(n, shapes.Get(i.op.a)); err != nil {
			return err
		}
	}
	return shapes.MergeWith(i.op.a, shapes.Get(i.op.output))
}

type addPairForward struct{ op *addPair }

func (p *addPairForward) TypeName() string { return "AddPairForward" }
func (p *addPairForward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.op.a.ValueID(), p.op.b.ValueID()},
		[]graph.DataID{p.op.output.ValueID()}
}
func (p *addPairForward) Run(storage *graph.Storage) error {
	a, err := storage.Get(p.op.a.ValueID())
	if err != nil {
		return err
	}
	b, err := storage.Get(p.op.b.ValueID())
	if err != nil {
		return err
	}
	out, err := storage.GetMut(p.op.output.ValueID())
	if err != nil {
		return err
	}
	for i := range out.Data() {
		out.Data()[i] += a.Data()[i] + b.Data()[i]
	}
	return nil
}

type addPairBackward struct{ op *addPair }

func (p *addPairBackward) TypeName() string { return "AddPairBackward" }
func (p *addPairBackward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.op.output.GradientID()},
		[]graph.DataID{p.op.a.GradientID(), p.op.b.GradientID()}
}
func (p *addPairBackward) Run(storage *graph.Storage) error {
	outGrad, err := storage.Get(p.op.output.GradientID())
	if err != nil {
		return err
	}
	p.op.sawARequired = storage.IsRequired(p.op.a.GradientID())
	p.op.sawBRequired = storage.IsRequired(p.op.b.GradientID())

	for _, target := range []struct {
		id graph.DataID
		ok bool
	}{
		{p.op.a.GradientID(), p.op.sawARequired},
		{p.op.b.GradientID(), p.op.sawBRequired},
	} {
		if !target.ok {
			continue
		}
		grad, err := storage.GetMut(target.id)
		if err != nil {
			return err
		}
		for i, v := range outGrad.Data() {
			grad.Data()[i] += v
		}
	}
	return nil
}

func TestGradientComputationGatedByRequirement(t *testing.T) {
	g := graph.New()
	a, err := g.NewNode(shape.OfKnown(4), "a")
	require.NoError(t, err)
	b, err := g.NewNode(shape.OfKnown(4), "b")
	require.NoError(t, err)
	out, err := g.NewNode(shape.OfKnown(4), "out")
	require.NoError(t, err)

	op := &addPair{a: a, b: b, output: out}
	_, err = g.NewOp(op)
	require.NoError(t, err)
	_, err = g.NewOp(&sumLoss{input: out})
	require.NoError(t, err)

	// Only a's gradient is requested; b's must be neither required nor
	// allocated.
	sg, err := g.Subgraph(
		[]graph.DataID{a.ValueID(), b.ValueID()},
		[]graph.DataID{a.GradientID()},
	)
	require.NoError(t, err)

	av, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{4})
	bv, _ := tensor.FromSlice([]float32{5, 6, 7, 8}, tensor.Shape{4})
	result, err := sg.Execute(map[graph.DataID]*tensor.Tensor{
		a.ValueID(): av,
		b.ValueID(): bv,
	})
	require.NoError(t, err)

	assert.True(t, op.sawARequired)
	assert.False(t, op.sawBRequired)
	assert.Equal(t, []float32{1, 1, 1, 1}, result.Get(a.GradientID()).Data())
	assert.Nil(t, result.Get(b.GradientID()))
}
