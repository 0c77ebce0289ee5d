package graph

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/hi-T0day/alumina/tensor"
)

// plan is the memoized scheduling result for one (inputs, outputs) request:
// the minimal pass list in a valid dependency order, and the set of data
// slots some scheduled consumer actually needs.
type plan struct {
	order    []PassID
	required map[DataID]bool
}

// Subgraph is a restricted, executable view of the graph: a fixed set of
// externally supplied data slots and a fixed set of requested outputs.
// Construction fails with MissingDependencyError if any requested output has
// no path back to the supplied inputs.
//
// A Subgraph is immutable and safe for concurrent Execute calls; each call
// gets its own Storage.
type Subgraph struct {
	g       *GraphDef
	inputs  []DataID
	outputs []DataID
	plan    *plan
}

// Subgraph derives the minimal ordered pass list producing outputs from
// inputs. Plans are cached per graph, keyed by the request signature.
func (g *GraphDef) Subgraph(inputs, outputs []DataID) (*Subgraph, error) {
	key := planKey(inputs, outputs, g.NumPasses())
	p, ok := g.plans.Get(key)
	if !ok {
		var err error
		p, err = g.computePlan(inputs, outputs)
		if err != nil {
			return nil, err
		}
		g.plans.Add(key, p)
		klog.V(1).Infof("planned subgraph: %d passes for %d outputs from %d inputs",
			len(p.order), len(outputs), len(inputs))
	}
	return &Subgraph{
		g:       g,
		inputs:  append([]DataID(nil), inputs...),
		outputs: append([]DataID(nil), outputs...),
		plan:    p,
	}, nil
}

func planKey(inputs, outputs []DataID, numPasses int) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(numPasses))
	for _, set := range [][]DataID{inputs, outputs} {
		sorted := append([]DataID(nil), set...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		b.WriteByte('|')
		for _, d := range sorted {
			b.WriteString(strconv.Itoa(int(d)))
			b.WriteByte(',')
		}
	}
	return b.String()
}

// computePlan walks backward from the requested outputs through producer
// edges, bounded by the provided inputs, then topologically orders the
// required passes.
func (g *GraphDef) computePlan(inputs, outputs []DataID) (*plan, error) {
	deps := NewDependencies(g)

	provided := make(map[DataID]bool, len(inputs))
	for _, d := range inputs {
		provided[d] = true
	}

	required := make(map[DataID]bool)
	requiredPass := make(map[PassID]bool)
	stack := append([]DataID(nil), outputs...)
	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if required[d] {
			continue
		}
		required[d] = true
		if provided[d] {
			continue
		}
		producers := deps.DataInputs(d)
		if len(producers) == 0 {
			return nil, &MissingDependencyError{Data: d, Node: g.dataName(d)}
		}
		// Every producer contributes an accumulation term, so all of
		// them are required, along with everything they read.
		for _, p := range producers {
			if requiredPass[p] {
				continue
			}
			requiredPass[p] = true
			stack = append(stack, deps.PassInputs(p)...)
		}
	}
	for _, d := range inputs {
		required[d] = true
	}

	order, err := g.orderPasses(deps, requiredPass, provided)
	if err != nil {
		return nil, err
	}
	return &plan{order: order, required: required}, nil
}

// orderPasses is Kahn's algorithm over the required passes, with an edge from
// P to Q whenever P writes a slot Q reads. Ready passes are scheduled in
// ascending PassID order, so the schedule is deterministic.
func (g *GraphDef) orderPasses(deps *Dependencies, requiredPass map[PassID]bool, provided map[DataID]bool) ([]PassID, error) {
	indegree := make(map[PassID]int, len(requiredPass))
	dependents := make(map[PassID][]PassID, len(requiredPass))
	for q := range requiredPass {
		for _, d := range deps.PassInputs(q) {
			if provided[d] {
				continue
			}
			for _, p := range deps.DataInputs(d) {
				if !requiredPass[p] {
					continue
				}
				indegree[q]++
				dependents[p] = append(dependents[p], q)
			}
		}
	}

	ready := make([]PassID, 0, len(requiredPass))
	for p := range requiredPass {
		if indegree[p] == 0 {
			ready = append(ready, p)
		}
	}

	order := make([]PassID, 0, len(requiredPass))
	for len(ready) > 0 {
		minIdx := 0
		for i, p := range ready {
			if p < ready[minIdx] {
				minIdx = i
			}
		}
		p := ready[minIdx]
		ready = append(ready[:minIdx], ready[minIdx+1:]...)
		order = append(order, p)

		for _, q := range dependents[p] {
			indegree[q]--
			if indegree[q] == 0 {
				ready = append(ready, q)
			}
		}
	}
	if len(order) < len(requiredPass) {
		return nil, errors.Errorf("pass dependency cycle: %d of %d required passes unschedulable",
			len(requiredPass)-len(order), len(requiredPass))
	}
	return order, nil
}

// Result holds the buffers for the requested outputs of one execute call,
// plus the scalar loss accumulated by any loss passes that ran.
type Result struct {
	outputs map[DataID]*tensor.Tensor
	loss    float32
}

// Get returns the buffer for a requested output, or nil if the slot was not
// part of the request.
func (r *Result) Get(id DataID) *tensor.Tensor {
	return r.outputs[id]
}

// Map returns the full output mapping.
func (r *Result) Map() map[DataID]*tensor.Tensor {
	return r.outputs
}

// Loss returns the accumulated scalar loss.
func (r *Result) Loss() float32 {
	return r.loss
}

// Execute runs the subgraph against the provided buffers. Exactly the
// subgraph's input slots must be supplied. Each call builds fresh Storage, so
// repeated calls with the same buffers produce identical results.
func (sg *Subgraph) Execute(inputs map[DataID]*tensor.Tensor) (*Result, error) {
	if len(inputs) != len(sg.inputs) {
		return nil, errors.Errorf("expected %d input buffers, got %d", len(sg.inputs), len(inputs))
	}
	seeds := make(map[DataID]tensor.Shape, len(inputs))
	for _, id := range sg.inputs {
		t, ok := inputs[id]
		if !ok {
			return nil, errors.Errorf("missing input buffer for %s of node %q", id, sg.g.dataName(id))
		}
		seeds[id] = t.Shape()
	}

	gs, err := sg.g.propagateShapes(seeds)
	if err != nil {
		return nil, err
	}

	storage := newStorage(sg.g, gs.resolved(), sg.plan.required)
	for id, t := range inputs {
		storage.insert(id, t)
	}

	for _, passID := range sg.plan.order {
		pass := sg.g.passes[passID].pass
		klog.V(2).Infof("running pass %q", pass.TypeName())
		if err := pass.Run(storage); err != nil {
			var pe *PassError
			if errors.As(err, &pe) {
				return nil, err
			}
			return nil, &PassError{Pass: pass.TypeName(), Err: err}
		}
	}
	klog.V(2).Infof("execute complete: %s", storage)

	outputs := make(map[DataID]*tensor.Tensor, len(sg.outputs))
	for _, id := range sg.outputs {
		t, err := storage.Get(id)
		if err != nil {
			return nil, errors.Wrap(err, "collecting requested output")
		}
		outputs[id] = t
	}
	return &Result{outputs: outputs, loss: storage.Loss()}, nil
}
