// Package graph implements the computation-graph engine: graph definition,
// shape-constraint propagation, dependency derivation, and the forward/
// backward execution scheduler with double-buffered gradient accumulation.
//
// A GraphDef is a mutable builder owning append-only tables of nodes, op
// instances, and passes, indexed by small integer ids. Users declare named
// nodes with (possibly partial) shapes and attach ops; each op registers its
// passes at build time. Execution happens through subgraphs: a Subgraph fixes
// the requested input and output data slots, derives the minimal ordered pass
// list, and executes it against per-call Storage.
//
// Once fully built, a GraphDef is treated as immutable and may be read
// concurrently by independent Execute calls.
package graph

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/hi-T0day/alumina/shape"
)

// planCacheSize bounds the number of memoized subgraph pass orders per graph.
const planCacheSize = 64

type nodeRecord struct {
	name  string
	shape shape.Shape
	tags  map[Tag]bool
}

type opRecord struct {
	instance OpInstance
	tags     map[Tag]bool
}

type passRecord struct {
	pass   Pass
	reads  []DataID
	writes []DataID
}

// GraphDef is the mutable graph builder. Node, op, and pass tables are
// append-only: identities are stable for the life of the graph and records
// are immutable once created.
type GraphDef struct {
	nodes     []nodeRecord
	ops       []opRecord
	passes    []passRecord
	nodeNames map[string]NodeID
	opNames   map[string]OpID
	plans     *lru.Cache[string, *plan]
}

// New creates an empty graph definition.
func New() *GraphDef {
	plans, _ := lru.New[string, *plan](planCacheSize)
	return &GraphDef{
		nodeNames: map[string]NodeID{},
		opNames:   map[string]OpID{},
		plans:     plans,
	}
}

// NewNode adds a named tensor slot with the given shape constraint and tags.
// Names must be unique within the graph.
func (g *GraphDef) NewNode(s shape.Shape, name string, tags ...Tag) (NodeID, error) {
	if name == "" {
		return 0, errors.New("node name must not be empty")
	}
	if prev, ok := g.nodeNames[name]; ok {
		return 0, errors.Errorf("node name %q already used by node %d", name, prev)
	}

	id := NodeID(len(g.nodes))
	tagSet := make(map[Tag]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}
	g.nodes = append(g.nodes, nodeRecord{name: name, shape: s, tags: tagSet})
	g.nodeNames[name] = id
	return id, nil
}

// NewOp builds op against the graph, registering its passes, and stores the
// resulting instance. A build error is structural and leaves the graph
// unusable.
func (g *GraphDef) NewOp(op Op, tags ...Tag) (OpID, error) {
	id := OpID(len(g.ops))
	tagSet := make(map[Tag]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}
	g.ops = append(g.ops, opRecord{tags: tagSet})

	instance, err := op.Build(g, id)
	if err != nil {
		return 0, errors.Wrapf(err, "building op %q", op.TypeName())
	}
	name := instance.Name()
	if prev, ok := g.opNames[name]; ok {
		return 0, errors.Errorf("op name %q already used by op %d", name, prev)
	}

	g.ops[id].instance = instance
	g.opNames[name] = id
	return id, nil
}

// AddPass registers a pass. Called by ops during Build; the pass's declared
// dependencies are recorded once and never re-queried.
func (g *GraphDef) AddPass(p Pass) PassID {
	reads, writes := p.Dependencies()
	id := PassID(len(g.passes))
	g.passes = append(g.passes, passRecord{pass: p, reads: reads, writes: writes})
	return id
}

// Nodes returns all node ids in creation order.
func (g *GraphDef) Nodes() []NodeID {
	out := make([]NodeID, len(g.nodes))
	for i := range out {
		out[i] = NodeID(i)
	}
	return out
}

// NodesWithTag returns the nodes carrying the given tag, in creation order.
func (g *GraphDef) NodesWithTag(tag Tag) []NodeID {
	var out []NodeID
	for i, n := range g.nodes {
		if n.tags[tag] {
			out = append(out, NodeID(i))
		}
	}
	return out
}

// NodeName returns the node's name.
func (g *GraphDef) NodeName(id NodeID) string {
	return g.nodes[id].name
}

// NodeShape returns the node's declared shape constraint.
func (g *GraphDef) NodeShape(id NodeID) shape.Shape {
	return g.nodes[id].shape
}

// NodeHasTag reports whether the node carries the given tag.
func (g *GraphDef) NodeHasTag(id NodeID, tag Tag) bool {
	return g.nodes[id].tags[tag]
}

// HasOpName reports whether an op with the given name is already registered.
// Used by name-uniquing helpers while an op is being built.
func (g *GraphDef) HasOpName(name string) bool {
	_, ok := g.opNames[name]
	return ok
}

// Op returns the instance record for an op id.
func (g *GraphDef) Op(id OpID) OpInstance {
	return g.ops[id].instance
}

// Ops returns all op ids in creation order.
func (g *GraphDef) Ops() []OpID {
	out := make([]OpID, len(g.ops))
	for i := range out {
		out[i] = OpID(i)
	}
	return out
}

// NumPasses returns the number of registered passes.
func (g *GraphDef) NumPasses() int {
	return len(g.passes)
}

// PassName returns the pass's type name, used in error attribution.
func (g *GraphDef) PassName(id PassID) string {
	return g.passes[id].pass.TypeName()
}

func (g *GraphDef) numData() int {
	return len(g.nodes) * 2
}

func (g *GraphDef) dataName(d DataID) string {
	return g.nodes[d.Node()].name
}
