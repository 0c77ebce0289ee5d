package activ

import (
	"math"

	"github.com/hi-T0day/alumina/graph"
)

// TanhFunc is the hyperbolic tangent activation.
type TanhFunc struct{}

// Value computes tanh(x).
func (TanhFunc) Value(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Gradient computes outputGrad / cosh²(x), i.e. outputGrad * (1 - tanh²(x)).
func (TanhFunc) Gradient(x, outputGrad float32) float32 {
	c := math.Cosh(float64(x))
	return outputGrad / float32(c*c)
}

// Tanh applies the hyperbolic tangent element-wise from input to output.
func Tanh(input, output graph.NodeID) *Elementwise {
	return NewElementwise("Tanh", input, output, TanhFunc{})
}
