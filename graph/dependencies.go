package graph

// Dependencies is the bipartite producer/consumer view of the pass table:
// for every data slot, which passes write it and which read it. It is derived
// on demand from the finalized pass table and used both to classify leaf data
// (no producing pass, so it must be supplied externally) and to order passes
// for execution.
type Dependencies struct {
	g       *GraphDef
	writers [][]PassID // indexed by DataID
	readers [][]PassID
}

// NewDependencies derives the producer/consumer maps from the graph's pass
// table.
func NewDependencies(g *GraphDef) *Dependencies {
	d := &Dependencies{
		g:       g,
		writers: make([][]PassID, g.numData()),
		readers: make([][]PassID, g.numData()),
	}
	for i, rec := range g.passes {
		id := PassID(i)
		for _, r := range rec.reads {
			d.readers[r] = append(d.readers[r], id)
		}
		for _, w := range rec.writes {
			d.writers[w] = append(d.writers[w], id)
		}
	}
	return d
}

// DataInputs returns the passes that write the given data slot, in
// registration order. Slots with no writers are leaves: their values must be
// supplied by the caller (inputs or parameters).
func (d *Dependencies) DataInputs(id DataID) []PassID {
	return d.writers[id]
}

// DataOutputs returns the passes that read the given data slot.
func (d *Dependencies) DataOutputs(id DataID) []PassID {
	return d.readers[id]
}

// PassInputs returns the data slots the pass declared it reads.
func (d *Dependencies) PassInputs(id PassID) []DataID {
	return d.g.passes[id].reads
}

// PassOutputs returns the data slots the pass declared it writes.
func (d *Dependencies) PassOutputs(id PassID) []DataID {
	return d.g.passes[id].writes
}

// IsLeaf reports whether the slot has no producing pass.
func (d *Dependencies) IsLeaf(id DataID) bool {
	return len(d.writers[id]) == 0
}

// LeafValues returns the nodes whose value slot has no producing pass, in
// creation order. These are the graph's externally supplied inputs and
// parameters.
func (d *Dependencies) LeafValues() []NodeID {
	var out []NodeID
	for _, n := range d.g.Nodes() {
		if d.IsLeaf(n.ValueID()) {
			out = append(out, n)
		}
	}
	return out
}
