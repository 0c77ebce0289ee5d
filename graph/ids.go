package graph

import "fmt"

// NodeID identifies a node in a GraphDef's node table.
type NodeID int

// OpID identifies a registered op instance.
type OpID int

// PassID identifies a registered pass.
type PassID int

// DataID identifies one of a node's two storage slots: its value or its
// gradient. The two slots of a node never alias.
type DataID int

// ValueID returns the DataID of the node's value slot.
func (n NodeID) ValueID() DataID {
	return DataID(n * 2)
}

// GradientID returns the DataID of the node's gradient slot.
func (n NodeID) GradientID() DataID {
	return DataID(n*2 + 1)
}

// Node returns the node this slot belongs to.
func (d DataID) Node() NodeID {
	return NodeID(d / 2)
}

// IsValue reports whether this is a value slot.
func (d DataID) IsValue() bool {
	return d%2 == 0
}

// IsGradient reports whether this is a gradient slot.
func (d DataID) IsGradient() bool {
	return d%2 == 1
}

func (d DataID) String() string {
	if d.IsValue() {
		return fmt.Sprintf("value(%d)", d.Node())
	}
	return fmt.Sprintf("gradient(%d)", d.Node())
}

// Tag marks a node for classification queries. Engine-recognized tags are
// TagParameter and TagInput; callers may attach arbitrary additional tags.
type Tag string

// Tags recognized by the engine and the verification harness.
const (
	TagParameter Tag = "parameter"
	TagInput     Tag = "input"
)
