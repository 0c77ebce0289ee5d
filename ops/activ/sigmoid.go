package activ

import (
	"math"

	"github.com/hi-T0day/alumina/graph"
)

// SigmoidFunc is the logistic activation σ(x) = 1 / (1 + exp(-x)).
type SigmoidFunc struct{}

// Value computes σ(x).
func (SigmoidFunc) Value(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Gradient computes outputGrad * σ(x) * (1 - σ(x)).
func (f SigmoidFunc) Gradient(x, outputGrad float32) float32 {
	s := f.Value(x)
	return outputGrad * s * (1 - s)
}

// Sigmoid applies the logistic function element-wise from input to output.
func Sigmoid(input, output graph.NodeID) *Elementwise {
	return NewElementwise("Sigmoid", input, output, SigmoidFunc{})
}
