// Package numericcheck cross-validates analytic gradients against finite
// differences. It is the correctness oracle for every op with a backward
// pass: a graph ending in a loss op is executed at a random point, then the
// loss is re-evaluated after two symmetric steps along the normalized
// gradient direction, and the observed change is compared with the change
// the gradient predicts.
//
// Trials are repeated with fresh random samples, and a small number of
// failures is tolerated: random points occasionally land on ill-conditioned
// spots, e.g. near an activation kink.
package numericcheck

import (
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/hi-T0day/alumina/graph"
	"github.com/hi-T0day/alumina/tensor"
)

// Config controls a gradient check.
type Config struct {
	Iters     int     // Number of random trials.
	Failures  int     // Trials allowed to exceed Tolerance (or go non-finite).
	Tolerance float32 // Maximum relative error per trial.
	StepSize  float32 // Magnitude of each step along the normalized gradient.
	Variance  float32 // Std deviation of the default zero-mean normal fill.

	// Fill overrides the sampling distribution per node.
	Fill map[graph.NodeID]func() float32

	// Rand is the sampling source; time-seeded when nil.
	Rand *rand.Rand
}

// DefaultConfig returns the parameters the built-in op validations use.
func DefaultConfig() Config {
	return Config{
		Iters:     100,
		Failures:  1,
		Tolerance: 0.002,
		StepSize:  1e-2,
		Variance:  1.0,
	}
}

// Check runs cfg.Iters random trials against the graph, which must end in a
// loss op, and fails if more than cfg.Failures trials exceed the tolerance
// for either the parameter gradients or the input gradients.
func Check(g *graph.GraphDef, cfg Config) error {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var paramErrs, inputErrs []float32
	paramCount, inputCount := 0, 0
	for i := 0; i < cfg.Iters; i++ {
		paramErr, inputErr, err := trial(g, cfg, rng)
		if err != nil {
			return errors.Wrapf(err, "trial %d", i)
		}
		paramErrs = append(paramErrs, paramErr)
		inputErrs = append(inputErrs, inputErr)
		if exceeds(paramErr, cfg.Tolerance) {
			paramCount++
		}
		if exceeds(inputErr, cfg.Tolerance) {
			inputCount++
		}
	}

	if paramCount > cfg.Failures {
		return errors.Errorf("parameter gradient check failed: %d of %d trials exceeded tolerance %v; errors: %v",
			paramCount, cfg.Iters, cfg.Tolerance, paramErrs)
	}
	if inputCount > cfg.Failures {
		return errors.Errorf("input gradient check failed: %d of %d trials exceeded tolerance %v; errors: %v",
			inputCount, cfg.Iters, cfg.Tolerance, inputErrs)
	}
	klog.V(1).Infof("gradient check passed: %d trials, %d param / %d input excursions", cfg.Iters, paramCount, inputCount)
	return nil
}

func exceeds(relErr, tolerance float32) bool {
	return relErr > tolerance || math.IsNaN(float64(relErr)) || math.IsInf(float64(relErr), 0)
}

// trial samples fresh leaf values, executes the graph for baseline gradients,
// then measures the relative error of the predicted loss change for the
// parameter group and the input group separately.
func trial(g *graph.GraphDef, cfg Config, rng *rand.Rand) (paramErr, inputErr float32, err error) {
	deps := graph.NewDependencies(g)

	var paramIDs, inputIDs []graph.NodeID
	for _, n := range deps.LeafValues() {
		if g.NodeHasTag(n, graph.TagParameter) {
			paramIDs = append(paramIDs, n)
		} else {
			inputIDs = append(inputIDs, n)
		}
	}
	leafIDs := append(append([]graph.NodeID(nil), inputIDs...), paramIDs...)

	baseline := make(map[graph.DataID]*tensor.Tensor, len(leafIDs))
	for _, n := range leafIDs {
		t, err := sample(g, n, cfg, rng)
		if err != nil {
			return 0, 0, err
		}
		baseline[n.ValueID()] = t
	}

	subInputs := make([]graph.DataID, 0, len(leafIDs))
	subOutputs := make([]graph.DataID, 0, len(leafIDs))
	for _, n := range leafIDs {
		subInputs = append(subInputs, n.ValueID())
		subOutputs = append(subOutputs, n.GradientID())
	}
	sg, err := g.Subgraph(subInputs, subOutputs)
	if err != nil {
		return 0, 0, err
	}

	result, err := sg.Execute(baseline)
	if err != nil {
		return 0, 0, err
	}

	if len(paramIDs) > 0 {
		paramErr, err = stepError(sg, cfg.StepSize, paramIDs, baseline, result)
		if err != nil {
			return 0, 0, err
		}
	}
	if len(inputIDs) > 0 {
		inputErr, err = stepError(sg, cfg.StepSize, inputIDs, baseline, result)
		if err != nil {
			return 0, 0, err
		}
	}
	return paramErr, inputErr, nil
}

func sample(g *graph.GraphDef, n graph.NodeID, cfg Config, rng *rand.Rand) (*tensor.Tensor, error) {
	extents, err := g.NodeShape(n).Extents()
	if err != nil {
		return nil, errors.Wrapf(err, "node %q needs a concrete shape for gradient checking", g.NodeName(n))
	}
	t, err := tensor.New(tensor.Shape(extents))
	if err != nil {
		return nil, err
	}
	if fill, ok := cfg.Fill[n]; ok {
		t.Fill(fill)
	} else {
		t.FillNormal(rng, cfg.Variance)
	}
	return t, nil
}

// stepError takes two symmetric steps of stepSize along the normalized
// gradient of the given nodes and compares the observed loss change against
// the expected 2 * stepSize * ||gradient||.
func stepError(sg *graph.Subgraph, stepSize float32, nodes []graph.NodeID, baseline map[graph.DataID]*tensor.Tensor, result *graph.Result) (float32, error) {
	var gradSq float32
	for _, n := range nodes {
		gradSq += result.Get(n.GradientID()).SumSquares()
	}
	gradNorm := float32(math.Sqrt(float64(gradSq)))

	lossAt := func(direction float32) (float32, error) {
		stepped := make(map[graph.DataID]*tensor.Tensor, len(baseline))
		for id, t := range baseline {
			stepped[id] = t
		}
		for _, n := range nodes {
			t := baseline[n.ValueID()].Clone()
			if err := t.ScaledAdd(direction*stepSize/gradNorm, result.Get(n.GradientID())); err != nil {
				return 0, err
			}
			stepped[n.ValueID()] = t
		}
		r, err := sg.Execute(stepped)
		if err != nil {
			return 0, err
		}
		return r.Loss(), nil
	}

	loss1, err := lossAt(-1)
	if err != nil {
		return 0, err
	}
	loss2, err := lossAt(+1)
	if err != nil {
		return 0, err
	}

	expected := 2 * stepSize * gradNorm
	observed := loss2 - loss1
	relErr := float32(math.Abs(float64(expected-observed))) /
		float32(math.Max(math.Abs(float64(observed)), math.Abs(float64(expected))))
	return relErr, nil
}
