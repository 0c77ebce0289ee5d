package graph

// Op is a build-time operation specification. Building an op against a
// GraphDef registers its passes and produces the OpInstance that becomes the
// graph's permanent record of the op.
//
// Op values are cheap descriptors (node ids plus configuration); all
// registration side effects happen inside Build.
type Op interface {
	// TypeName identifies the op kind, e.g. "Mul".
	TypeName() string

	// Build registers the op's passes (and any inner nodes/ops) against the
	// graph and returns the instance record. Called exactly once, by
	// GraphDef.NewOp, with the OpID reserved for the instance.
	Build(g *GraphDef, id OpID) (OpInstance, error)
}

// OpInstance is the immutable record of a built op.
type OpInstance interface {
	// Name is the instance's unique name within its graph.
	Name() string

	// Dependencies returns the node ids the op reads from and writes to.
	Dependencies() (inputs, outputs []NodeID)

	// InnerPasses returns the passes the op registered.
	InnerPasses() []PassID

	// InnerOps returns ops a composite op registered, if any.
	InnerOps() []OpID

	// InnerNodes returns nodes a composite op introduced, if any.
	InnerNodes() []NodeID

	// PropagateShapeConstraints reads current node shapes and merges the
	// op's constraints back in. Must be a pure function of the current
	// shapes; the engine calls it repeatedly until a fixed point.
	PropagateShapeConstraints(shapes *GraphShapes) error
}

// Pass is one atomic computation step of an op, e.g. one direction of one
// op. A pass declares the data slots it touches and must only touch those.
type Pass interface {
	// TypeName identifies the pass kind, e.g. "MulForward".
	TypeName() string

	// Dependencies returns the data slots the pass reads and writes.
	Dependencies() (reads, writes []DataID)

	// Run executes the step against storage. Gradient writes accumulate
	// into the (zero-initialized) buffer rather than overwrite, since
	// multiple passes may contribute to the same node's gradient.
	Run(storage *Storage) error
}
