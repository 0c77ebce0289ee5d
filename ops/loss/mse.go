// Package loss provides loss ops. A loss op is "joint": it registers a
// single pass that both adds its scalar term to the execution's loss
// accumulator and accumulates the gradients of the nodes it touches, so the
// backward sweep starts from it without an explicit output node.
package loss

import (
	"github.com/pkg/errors"

	"github.com/hi-T0day/alumina/graph"
	"github.com/hi-T0day/alumina/ops"
)

// Mse is the mean-squared-error loss between an input node and a target
// node: loss = Σ(input - target)² / n.
type Mse struct {
	input, target graph.NodeID
	name          string
}

// NewMse creates a mean-squared-error loss between input and target.
func NewMse(input, target graph.NodeID) *Mse {
	return &Mse{input: input, target: target}
}

// WithName overrides the standard instance name.
func (o *Mse) WithName(name string) *Mse {
	o.name = name
	return o
}

// TypeName identifies the op kind.
func (o *Mse) TypeName() string {
	return "Mse"
}

// Build registers the joint loss pass.
func (o *Mse) Build(g *graph.GraphDef, _ graph.OpID) (graph.OpInstance, error) {
	name := ops.StandardName(g, o.TypeName(), o.name,
		[]graph.NodeID{o.input, o.target}, nil)
	inst := &mseInstance{name: name, input: o.input, target: o.target}
	inst.joint = g.AddPass(&mseJoint{input: o.input, target: o.target})
	return inst, nil
}

type mseInstance struct {
	name          string
	input, target graph.NodeID
	joint         graph.PassID
}

func (i *mseInstance) Name() string { return i.name }

func (i *mseInstance) Dependencies() (inputs, outputs []graph.NodeID) {
	return []graph.NodeID{i.input, i.target}, nil
}

func (i *mseInstance) InnerPasses() []graph.PassID { return []graph.PassID{i.joint} }
func (i *mseInstance) InnerOps() []graph.OpID      { return nil }
func (i *mseInstance) InnerNodes() []graph.NodeID  { return nil }

func (i *mseInstance) PropagateShapeConstraints(shapes *graph.GraphShapes) error {
	if err := shapes.MergeWith(i.target, shapes.Get(i.input)); err != nil {
		return err
	}
	return shapes.MergeWith(i.input, shapes.Get(i.target))
}

type mseJoint struct {
	input, target graph.NodeID
}

func (p *mseJoint) TypeName() string { return "MseJoint" }

func (p *mseJoint) Dependencies() (reads, writes []graph.DataID) {
	return []graph.DataID{p.input.ValueID(), p.target.ValueID()},
		[]graph.DataID{p.input.GradientID(), p.target.GradientID()}
}

func (p *mseJoint) Run(storage *graph.Storage) error {
	in, err := storage.Get(p.input.ValueID())
	if err != nil {
		return err
	}
	target, err := storage.Get(p.target.ValueID())
	if err != nil {
		return err
	}
	if !in.Shape().Equal(target.Shape()) {
		return errors.Errorf("input shape %v did not match target shape %v", in.Shape(), target.Shape())
	}

	inData, targetData := in.Data(), target.Data()
	scale := 1.0 / float32(len(inData))

	var loss float32
	for i, v := range inData {
		diff := v - targetData[i]
		loss += diff * diff
	}
	storage.AddLoss(loss * scale)

	if storage.IsRequired(p.input.GradientID()) {
		grad, err := storage.GetMut(p.input.GradientID())
		if err != nil {
			return err
		}
		for i, v := range inData {
			grad.Data()[i] += 2 * scale * (v - targetData[i])
		}
	}
	if storage.IsRequired(p.target.GradientID()) {
		grad, err := storage.GetMut(p.target.GradientID())
		if err != nil {
			return err
		}
		for i, v := range inData {
			grad.Data()[i] -= 2 * scale * (v - targetData[i])
		}
	}
	return nil
}
