package optim

import (
	"math"

	"github.com/hi-T0day/alumina/graph"
	"github.com/hi-T0day/alumina/tensor"
)

// Adam implements the Adam optimizer (Kingma & Ba, 2014).
//
// Update rule, with bias-corrected moment estimates:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient^2
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
type Adam struct {
	params []Param
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int
	m      map[*tensor.Tensor]*tensor.Tensor
	v      map[*tensor.Tensor]*tensor.Tensor
}

// AdamConfig holds the Adam hyperparameters.
type AdamConfig struct {
	LR    float32    // learning rate, defaults to 0.001
	Betas [2]float32 // moving average coefficients, default [0.9, 0.999]
	Eps   float32    // numerical stability term, defaults to 1e-8
}

// NewAdam creates an Adam optimizer over the given parameters.
func NewAdam(params []Param, config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[*tensor.Tensor]*tensor.Tensor),
		v:      make(map[*tensor.Tensor]*tensor.Tensor),
	}
}

// LR returns the learning rate.
func (a *Adam) LR() float32 { return a.lr }

// Step applies one Adam update from the gradients in result. The timestep
// advances once per call, not per parameter, so bias correction is shared
// across the parameter set.
func (a *Adam) Step(result *graph.Result) error {
	a.t++
	biasCorrection1 := float32(1 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, p := range a.params {
		grad, err := gradFor(p, result)
		if err != nil {
			return err
		}
		if grad == nil {
			continue
		}

		m, ok := a.m[p.Value]
		if !ok {
			m, err = tensor.New(grad.Shape())
			if err != nil {
				return err
			}
			a.m[p.Value] = m
		}
		v, ok := a.v[p.Value]
		if !ok {
			v, err = tensor.New(grad.Shape())
			if err != nil {
				return err
			}
			a.v[p.Value] = v
		}

		mData, vData := m.Data(), v.Data()
		gData, pData := grad.Data(), p.Value.Data()
		for i, g := range gData {
			mData[i] = a.beta1*mData[i] + (1-a.beta1)*g
			vData[i] = a.beta2*vData[i] + (1-a.beta2)*g*g
			mHat := mData[i] / biasCorrection1
			vHat := vData[i] / biasCorrection2
			pData[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
	return nil
}
