package graph

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/hi-T0day/alumina/shape"
	"github.com/hi-T0day/alumina/tensor"
)

// GraphShapes is the working state of one shape-propagation run: the current
// best-known shape of every node. Op constraint rules read shapes with Get
// and refine them with MergeWith / CollapseToMinimum.
type GraphShapes struct {
	g       *GraphDef
	shapes  []shape.Shape
	changed []NodeID // nodes refined by the rule currently running
}

func newGraphShapes(g *GraphDef) *GraphShapes {
	shapes := make([]shape.Shape, len(g.nodes))
	for i, n := range g.nodes {
		shapes[i] = n.shape
	}
	return &GraphShapes{g: g, shapes: shapes}
}

// Get returns the node's current shape.
func (gs *GraphShapes) Get(id NodeID) shape.Shape {
	return gs.shapes[id]
}

// MergeWith refines the node's shape by merging s into it. A merge conflict
// is a ShapeConflictError naming the node; the calling op is filled in by the
// propagation driver.
func (gs *GraphShapes) MergeWith(id NodeID, s shape.Shape) error {
	merged, err := gs.shapes[id].Merge(s)
	if err != nil {
		return &ShapeConflictError{Node: gs.g.NodeName(id), Err: err}
	}
	if !merged.Equal(gs.shapes[id]) {
		gs.shapes[id] = merged
		gs.changed = append(gs.changed, id)
	}
	return nil
}

// CollapseToMinimum forces every underdetermined dimension of the node's
// shape to its minimal admissible extent. Used by ops that need a fully fixed
// input shape before they can state their own constraint.
func (gs *GraphShapes) CollapseToMinimum(id NodeID) {
	collapsed := gs.shapes[id].CollapseToMinimum()
	if !collapsed.Equal(gs.shapes[id]) {
		gs.shapes[id] = collapsed
		gs.changed = append(gs.changed, id)
	}
}

// propagateShapes runs every op's constraint rule to a fixed point, starting
// from the nodes' declared shapes refined by the given concrete seeds
// (typically the shapes of the buffers provided to an execute call).
//
// The worklist re-visits an op only when a node it touches has changed.
// Correctness does not depend on visitation order: rules are pure and merges
// only narrow, so the fixed point is unique. The iteration bound exists to
// turn a non-converging (contradictory yet oscillation-free diverging) rule
// set into a detected failure rather than a hang.
func (g *GraphDef) propagateShapes(seeds map[DataID]tensor.Shape) (*GraphShapes, error) {
	gs := newGraphShapes(g)

	for id, ts := range seeds {
		if err := gs.MergeWith(id.Node(), shape.OfKnown(ts...)); err != nil {
			return nil, err
		}
	}

	// Which ops subscribe to which node.
	subscribers := make([][]OpID, len(g.nodes))
	for _, opID := range g.Ops() {
		instance := g.Op(opID)
		inputs, outputs := instance.Dependencies()
		for _, nodes := range [][]NodeID{inputs, outputs, instance.InnerNodes()} {
			for _, n := range nodes {
				subscribers[n] = append(subscribers[n], opID)
			}
		}
	}

	queue := g.Ops()
	queued := make([]bool, len(g.ops))
	for i := range queued {
		queued[i] = true
	}

	maxVisits := (len(g.ops) + 1) * (len(g.nodes) + 8)
	visits := 0
	for len(queue) > 0 {
		visits++
		if visits > maxVisits {
			return nil, errors.New("shape propagation did not converge; the graph carries contradictory constraints")
		}

		opID := queue[0]
		queue = queue[1:]
		queued[opID] = false
		instance := g.Op(opID)

		gs.changed = gs.changed[:0]
		if err := instance.PropagateShapeConstraints(gs); err != nil {
			var conflict *ShapeConflictError
			if errors.As(err, &conflict) && conflict.Op == "" {
				conflict.Op = instance.Name()
				return nil, conflict
			}
			return nil, &ShapeConflictError{Op: instance.Name(), Err: err}
		}

		for _, n := range gs.changed {
			klog.V(2).Infof("shape of node %q refined to %s by op %q", g.NodeName(n), gs.shapes[n], instance.Name())
			for _, sub := range subscribers[n] {
				if !queued[sub] {
					queued[sub] = true
					queue = append(queue, sub)
				}
			}
		}
	}
	gs.changed = nil

	return gs, nil
}

// resolved returns the concrete shape of every node whose constraints are
// fully determined; entries stay nil for underdetermined nodes, which is only
// an error if a pass actually needs their storage.
func (gs *GraphShapes) resolved() []tensor.Shape {
	out := make([]tensor.Shape, len(gs.shapes))
	for i, s := range gs.shapes {
		if !s.IsKnown() {
			continue
		}
		extents, err := s.Extents()
		if err != nil {
			continue
		}
		out[i] = tensor.Shape(extents)
	}
	return out
}
