package graph

import "fmt"

// ShapeConflictError reports a merge or collapse failure during shape
// propagation. It names the op whose constraint rule failed and, when
// identifiable, the node whose shape could not be merged. Structural: the
// graph definition itself is inconsistent and the build is aborted.
type ShapeConflictError struct {
	Op   string
	Node string
	Err  error
}

func (e *ShapeConflictError) Error() string {
	switch {
	case e.Op != "" && e.Node != "":
		return fmt.Sprintf("shape conflict at node %q in op %q: %v", e.Node, e.Op, e.Err)
	case e.Node != "":
		return fmt.Sprintf("shape conflict at node %q: %v", e.Node, e.Err)
	default:
		return fmt.Sprintf("shape conflict in op %q: %v", e.Op, e.Err)
	}
}

func (e *ShapeConflictError) Unwrap() error {
	return e.Err
}

// MissingDependencyError reports a requested output with no path back to the
// provided inputs: the data is neither supplied nor produced by any pass
// reachable from the supplied inputs.
type MissingDependencyError struct {
	Data DataID
	Node string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("unresolved dependency: %s of node %q is not provided and has no producing pass", e.Data, e.Node)
}

// PassError reports a runtime failure inside a pass's run step. It aborts the
// enclosing execute call.
type PassError struct {
	Pass string
	Err  error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("pass %q: %v", e.Pass, e.Err)
}

func (e *PassError) Unwrap() error {
	return e.Err
}
