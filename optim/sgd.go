package optim

import (
	"github.com/hi-T0day/alumina/graph"
	"github.com/hi-T0day/alumina/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// With momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
type SGD struct {
	params     []Param
	lr         float32
	momentum   float32
	velocities map[*tensor.Tensor]*tensor.Tensor
}

// SGDConfig holds the SGD hyperparameters.
type SGDConfig struct {
	LR       float32 // learning rate, defaults to 0.01
	Momentum float32 // momentum factor in [0, 1), defaults to 0
}

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD(params []Param, config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*tensor.Tensor]*tensor.Tensor),
	}
}

// LR returns the learning rate.
func (s *SGD) LR() float32 { return s.lr }

// Step applies one SGD update from the gradients in result.
func (s *SGD) Step(result *graph.Result) error {
	for _, p := range s.params {
		grad, err := gradFor(p, result)
		if err != nil {
			return err
		}
		if grad == nil {
			continue
		}

		if s.momentum == 0 {
			if err := p.Value.ScaledAdd(-s.lr, grad); err != nil {
				return err
			}
			continue
		}

		velocity, ok := s.velocities[p.Value]
		if !ok {
			velocity, err = tensor.New(grad.Shape())
			if err != nil {
				return err
			}
			s.velocities[p.Value] = velocity
		}
		vData, gData := velocity.Data(), grad.Data()
		for i := range vData {
			vData[i] = s.momentum*vData[i] + gData[i]
		}
		if err := p.Value.ScaledAdd(-s.lr, velocity); err != nil {
			return err
		}
	}
	return nil
}
