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

// scale is a minimal test op: output.value += k * input.value, with the
// matching backward accumulation. Shapes of input and output must agree.
type scale struct {
	input, output graph.NodeID
	k             float32
}

func (o *scale) TypeName() string { return "Scale" }

func (o *scale) Build(g *graph.GraphDef, id graph.OpID) (graph.OpInstance, error) {
	inst := &scaleInstance{scale: *o, name: fmt.Sprintf("Scale%d", id)}
	inst.forward = g.AddPass(&scaleForward{op: o})
	inst.backward = g.AddPass(&scaleBackward{op: o})
	return inst, nil
}

type scaleInstance struct {
	scale
	name              string
	forward, backward graph.PassID
}

func (i *scaleInstance) Name() string { return i.name }
func (i *scaleInstance) Dependencies() (inputs, outputs []graph.NodeID) {
	return []graph.NodeID{i.input}, []graph.NodeID{i.output}
}
func (i *scaleInstance) InnerPasses() []graph.PassID { return []graph.PassID{i.forward, i.backward} }
func (i *scaleInstance) InnerOps() []graph.OpID      { return nil }
func (i *scaleInstance) InnerNodes() []graph.NodeID  { return nil }
func (i *scaleInstance) PropagateShapeConstraints(shapes *graph.GraphShapes) error {
	if err := shapes.MergeWith(i.output, shapes.Get(i.input)); err != nil {
		return err
	}
	return shapes.MergeWith(i.input, shapes.Get(i.output))
}

type scaleForward struct{ op *scale }

func (p *scaleForward) TypeName() string { return "ScaleForward" }
func (p *scaleForward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.op.input.ValueID()}, []graph.DataID{p.op.output.ValueID()}
}
func (p *scaleForward) Run(storage *graph.Storage) error {
	in, err := storage.Get(p.op.input.ValueID())
	if err != nil {
		return err
	}
	out, err := storage.GetMut(p.op.output.ValueID())
	if err != nil {
		return err
	}
	for i, v := range in.Data() {
		out.Data()[i] += p.op.k * v
	}
	return nil
}

type scaleBackward struct{ op *scale }

func (p *scaleBackward) TypeName() string { return "ScaleBackward" }
func (p *scaleBackward) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.op.output.GradientID()}, []graph.DataID{p.op.input.GradientID()}
}
func (p *scaleBackward) Run(storage *graph.Storage) error {
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
	for i, v := range outGrad.Data() {
		inGrad.Data()[i] += p.op.k * v
	}
	return nil
}

// sumLoss is a joint loss: adds the sum of the node's value to the scalar
// loss and accumulates d(sum)/d(value) = 1 into the node's gradient.
type sumLoss struct {
	input graph.NodeID
}

func (o *sumLoss) TypeName() string { return "SumLoss" }

func (o *sumLoss) Build(g *graph.GraphDef, id graph.OpID) (graph.OpInstance, error) {
	inst := &sumLossInstance{sumLoss: *o, name: fmt.Sprintf("SumLoss%d", id)}
	inst.joint = g.AddPass(&sumLossJoint{op: o})
	return inst, nil
}

type sumLossInstance struct {
	sumLoss
	name  string
	joint graph.PassID
}

func (i *sumLossInstance) Name() string { return i.name }
func (i *sumLossInstance) Dependencies() (inputs, outputs []graph.NodeID) {
	return []graph.NodeID{i.input}, nil
}
func (i *sumLossInstance) InnerPasses() []graph.PassID { return []graph.PassID{i.joint} }
func (i *sumLossInstance) InnerOps() []graph.OpID      { return nil }
func (i *sumLossInstance) InnerNodes() []graph.NodeID  { return nil }
func (i *sumLossInstance) PropagateShapeConstraints(*graph.GraphShapes) error {
	return nil
}

type sumLossJoint struct{ op *sumLoss }

func (p *sumLossJoint) TypeName() string { return "SumLossJoint" }
func (p *sumLossJoint) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.op.input.ValueID()}, []graph.DataID{p.op.input.GradientID()}
}
func (p *sumLossJoint) Run(storage *graph.Storage) error {
	in, err := storage.Get(p.op.input.ValueID())
	if err != nil {
		return err
	}
	var sum float32
	for _, v := range in.Data() {
		sum += v
	}
	storage.AddLoss(sum)

	if storage.IsRequired(p.op.input.GradientID()) {
		grad, err := storage.GetMut(p.op.input.GradientID())
		if err != nil {
			return err
		}
		for i := range grad.Data() {
			grad.Data()[i] += 1
		}
	}
	return nil
}

func TestDataIDSlots(t *testing.T) {
	n := graph.NodeID(3)
	assert.Equal(t, n, n.ValueID().Node())
	assert.Equal(t, n, n.GradientID().Node())
	assert.True(t, n.ValueID().IsValue())
	assert.True(t, n.GradientID().IsGradient())
	assert.NotEqual(t, n.ValueID(), n.GradientID())
}

func TestNewNodeDuplicateName(t *testing.T) {
	g := graph.New()
	_, err := g.NewNode(shape.OfKnown(2), "x")
	require.NoError(t, err)
	_, err = g.NewNode(shape.OfKnown(2), "x")
	require.Error(t, err)
}

func TestNodeTags(t *testing.T) {
	g := graph.New()
	w, err := g.NewNode(shape.OfKnown(2), "w", graph.TagParameter)
	require.NoError(t, err)
	x, err := g.NewNode(shape.OfKnown(2), "x", graph.TagInput)
	require.NoError(t, err)

	assert.True(t, g.NodeHasTag(w, graph.TagParameter))
	assert.False(t, g.NodeHasTag(x, graph.TagParameter))
	assert.Equal(t, []graph.NodeID{w}, g.NodesWithTag(graph.TagParameter))
}

func buildChain(t *testing.T) (*graph.GraphDef, graph.NodeID, graph.NodeID) {
	t.Helper()
	g := graph.New()
	x, err := g.NewNode(shape.OfKnown(2, 2), "x")
	require.NoError(t, err)
	y, err := g.NewNode(shape.OfKnown(2, 2), "y")
	require.NoError(t, err)
	_, err = g.NewOp(&scale{input: x, output: y, k: 3})
	require.NoError(t, err)
	_, err = g.NewOp(&sumLoss{input: y})
	require.NoError(t, err)
	return g, x, y
}

func TestDependencies(t *testing.T) {
	g, x, y := buildChain(t)
	deps := graph.NewDependencies(g)

	assert.Empty(t, deps.DataInputs(x.ValueID()), "x value is a leaf")
	assert.Len(t, deps.DataInputs(y.ValueID()), 1, "y value produced by ScaleForward")
	assert.Len(t, deps.DataInputs(y.GradientID()), 1, "y gradient produced by SumLossJoint")
	assert.Len(t, deps.DataOutputs(x.ValueID()), 1, "x value read by ScaleForward")
	assert.Equal(t, []graph.NodeID{x}, deps.LeafValues())
}

func TestExecuteForwardBackward(t *testing.T) {
	g, x, y := buildChain(t)

	sg, err := g.Subgraph(
		[]graph.DataID{x.ValueID()},
		[]graph.DataID{y.ValueID(), x.GradientID()},
	)
	require.NoError(t, err)

	xv, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	require.NoError(t, err)
	result, err := sg.Execute(map[graph.DataID]*tensor.Tensor{x.ValueID(): xv})
	require.NoError(t, err)

	assert.Equal(t, []float32{3, 6, 9, 12}, result.Get(y.ValueID()).Data())
	// d(sum(3x))/dx = 3 everywhere.
	assert.Equal(t, []float32{3, 3, 3, 3}, result.Get(x.GradientID()).Data())
	assert.InDelta(t, 30, result.Loss(), 1e-6)
}

func TestExecuteIdempotent(t *testing.T) {
	g, x, _ := buildChain(t)

	sg, err := g.Subgraph([]graph.DataID{x.ValueID()}, []graph.DataID{x.GradientID()})
	require.NoError(t, err)

	xv, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	first, err := sg.Execute(map[graph.DataID]*tensor.Tensor{x.ValueID(): xv})
	require.NoError(t, err)
	second, err := sg.Execute(map[graph.DataID]*tensor.Tensor{x.ValueID(): xv})
	require.NoError(t, err)

	assert.Equal(t, first.Get(x.GradientID()).Data(), second.Get(x.GradientID()).Data())
	assert.Equal(t, first.Loss(), second.Loss())
	// Caller's buffer is untouched.
	assert.Equal(t, []float32{1, 2, 3, 4}, xv.Data())
}

func TestSubgraphMissingDependency(t *testing.T) {
	g, x, _ := buildChain(t)
	detached, err := g.NewNode(shape.OfKnown(2), "detached")
	require.NoError(t, err)

	_, err = g.Subgraph([]graph.DataID{x.ValueID()}, []graph.DataID{detached.GradientID()})
	require.Error(t, err)
	var missing *graph.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "detached", missing.Node)
}

func TestExecuteShapeConflict(t *testing.T) {
	g := graph.New()
	x, err := g.NewNode(shape.OfKnown(2, 3), "x")
	require.NoError(t, err)
	y, err := g.NewNode(shape.OfKnown(2, 4), "y")
	require.NoError(t, err)
	_, err = g.NewOp(&scale{input: x, output: y, k: 1})
	require.NoError(t, err)

	sg, err := g.Subgraph([]graph.DataID{x.ValueID()}, []graph.DataID{y.ValueID()})
	require.NoError(t, err)

	xv, _ := tensor.New(tensor.Shape{2, 3})
	_, err = sg.Execute(map[graph.DataID]*tensor.Tensor{x.ValueID(): xv})
	require.Error(t, err)
	var conflict *graph.ShapeConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestExecuteResolvesUnknownShapeFromInput(t *testing.T) {
	g := graph.New()
	x, err := g.NewNode(shape.Of(shape.Unknown(), shape.Known(3)), "x")
	require.NoError(t, err)
	y, err := g.NewNode(shape.Of(shape.Unknown(), shape.Unknown()), "y")
	require.NoError(t, err)
	_, err = g.NewOp(&scale{input: x, output: y, k: 2})
	require.NoError(t, err)

	sg, err := g.Subgraph([]graph.DataID{x.ValueID()}, []graph.DataID{y.ValueID()})
	require.NoError(t, err)

	xv, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	result, err := sg.Execute(map[graph.DataID]*tensor.Tensor{x.ValueID(): xv})
	require.NoError(t, err)
	assert.True(t, result.Get(y.ValueID()).Shape().Equal(tensor.Shape{2, 3}))
	assert.Equal(t, []float32{2, 4, 6, 8, 10, 12}, result.Get(y.ValueID()).Data())
}

func TestExecuteInputShapeConflictsWithConstraint(t *testing.T) {
	g := graph.New()
	x, err := g.NewNode(shape.Of(shape.Unknown(), shape.Known(3)), "x")
	require.NoError(t, err)
	y, err := g.NewNode(shape.Of(shape.Unknown(), shape.Unknown()), "y")
	require.NoError(t, err)
	_, err = g.NewOp(&scale{input: x, output: y, k: 2})
	require.NoError(t, err)

	sg, err := g.Subgraph([]graph.DataID{x.ValueID()}, []graph.DataID{y.ValueID()})
	require.NoError(t, err)

	xv, _ := tensor.New(tensor.Shape{2, 4})
	_, err = sg.Execute(map[graph.DataID]*tensor.Tensor{x.ValueID(): xv})
	require.Error(t, err)
	var conflict *graph.ShapeConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "x", conflict.Node)
}

func TestExecuteRejectsWrongInputSet(t *testing.T) {
	g, x, y := buildChain(t)
	sg, err := g.Subgraph([]graph.DataID{x.ValueID()}, []graph.DataID{y.ValueID()})
	require.NoError(t, err)

	xv, _ := tensor.New(tensor.Shape{2, 2})
	_, err = sg.Execute(map[graph.DataID]*tensor.Tensor{})
	require.Error(t, err)

	_, err = sg.Execute(map[graph.DataID]*tensor.Tensor{y.ValueID(): xv})
	require.Error(t, err)
}
