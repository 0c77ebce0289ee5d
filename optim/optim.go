// Package optim implements gradient descent updates for parameter tensors
// trained through graph execution.
//
// Optimizers own no graph state. The caller executes a subgraph that
// requests the gradient slot of each parameter node, then hands the result
// to Step; parameters whose gradient the subgraph did not produce are
// skipped.
package optim

import (
	"github.com/pkg/errors"

	"github.com/hi-T0day/alumina/graph"
	"github.com/hi-T0day/alumina/tensor"
)

// Param binds a parameter node to the tensor holding its current value.
// The optimizer updates the tensor in place.
type Param struct {
	Node  graph.NodeID
	Value *tensor.Tensor
}

// Optimizer applies one update from the gradients an execution produced.
type Optimizer interface {
	Step(result *graph.Result) error
	LR() float32
}

// gradFor pulls the gradient tensor for a parameter out of a result and
// checks it against the parameter's shape. A nil tensor with a nil error
// means the subgraph did not request this gradient.
func gradFor(p Param, result *graph.Result) (*tensor.Tensor, error) {
	grad := result.Get(p.Node.GradientID())
	if grad == nil {
		return nil, nil
	}
	if !grad.Shape().Equal(p.Value.Shape()) {
		return nil, errors.Errorf("gradient shape %v did not match parameter shape %v",
			grad.Shape(), p.Value.Shape())
	}
	return grad, nil
}
