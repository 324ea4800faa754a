package validate

import (
	"sort"

	"github.com/nextlevelbuilder/routegen/internal/faults"
)

const (
	colorWhite = iota // unvisited
	colorGray         // on the active traversal stack
	colorBlack        // fully explored
)

// dfsFrame is one explicit-stack frame: a node and the index of the
// next neighbor to explore.
type dfsFrame struct {
	node string
	next int
}

// detectCycles runs depth-first search over the fallback graph with an
// explicit recursion stack, so worst-case depth is bounded by heap
// allocation rather than the goroutine call stack. A back edge to a
// node still on the active stack yields the complete cycle path, entry
// node repeated at the end. Roots are visited in sorted order so the
// reported paths are stable across declaration order.
func detectCycles(adjacency map[string][]string) []*faults.CycleError {
	nodes := make(map[string]bool, len(adjacency))
	for from, tos := range adjacency {
		nodes[from] = true
		for _, to := range tos {
			nodes[to] = true
		}
	}
	roots := make([]string, 0, len(nodes))
	for n := range nodes {
		roots = append(roots, n)
	}
	sort.Strings(roots)

	color := make(map[string]int, len(nodes))
	var cycles []*faults.CycleError

	for _, root := range roots {
		if color[root] != colorWhite {
			continue
		}
		stack := []dfsFrame{{node: root}}
		path := []string{root}
		color[root] = colorGray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			neighbors := adjacency[top.node]
			if top.next < len(neighbors) {
				n := neighbors[top.next]
				top.next++
				switch color[n] {
				case colorWhite:
					color[n] = colorGray
					stack = append(stack, dfsFrame{node: n})
					path = append(path, n)
				case colorGray:
					cycles = append(cycles, &faults.CycleError{Path: cyclePath(path, n)})
				}
			} else {
				color[top.node] = colorBlack
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
			}
		}
	}
	return cycles
}

// cyclePath slices the active path from the first occurrence of the
// revisited node and closes the loop, e.g. [A B C] + A -> [A B C A].
func cyclePath(path []string, revisited string) []string {
	start := 0
	for i, n := range path {
		if n == revisited {
			start = i
			break
		}
	}
	out := make([]string, 0, len(path)-start+1)
	out = append(out, path[start:]...)
	out = append(out, revisited)
	return out
}
