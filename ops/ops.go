// Package ops carries helpers shared by the op implementations layered on
// the graph engine: standard instance naming and small pass utilities. The
// Op/OpInstance/Pass contracts themselves live in the graph package.
package ops

import (
	"fmt"
	"strings"

	"github.com/hi-T0day/alumina/graph"
)

// StandardName builds the unique instance name for an op being built. When
// the user supplied no custom name, the name is derived from the op type and
// the node names it connects, e.g. "Mul(input1,input2=>output)". Collisions
// get a numeric suffix.
func StandardName(g *graph.GraphDef, typeName, custom string, inputs, outputs []graph.NodeID) string {
	base := custom
	if base == "" {
		base = fmt.Sprintf("%s(%s=>%s)", typeName, joinNodeNames(g, inputs), joinNodeNames(g, outputs))
	}
	if !g.HasOpName(base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !g.HasOpName(candidate) {
			return candidate
		}
	}
}

func joinNodeNames(g *graph.GraphDef, nodes []graph.NodeID) string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = g.NodeName(n)
	}
	return strings.Join(names, ",")
}
