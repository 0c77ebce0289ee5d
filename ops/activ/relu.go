package activ

import "github.com/hi-T0day/alumina/graph"

// ReLUFunc is the rectified linear activation max(0, x). Its kink at zero is
// the canonical reason the numeric-check harness carries a failure budget.
type ReLUFunc struct{}

// Value computes max(0, x).
func (ReLUFunc) Value(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

// Gradient passes outputGrad through where x > 0.
func (ReLUFunc) Gradient(x, outputGrad float32) float32 {
	if x > 0 {
		return outputGrad
	}
	return 0
}

// ReLU applies the rectifier element-wise from input to output.
func ReLU(input, output graph.NodeID) *Elementwise {
	return NewElementwise("ReLU", input, output, ReLUFunc{})
}
