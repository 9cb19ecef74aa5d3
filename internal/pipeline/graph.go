package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// edge is a binding between two nodes of the processor arena.
//
// Node 0 is the pipeline entry, nodes 1..n are processors in declared
// order, and node n+1 is the pipeline exit.
type edge struct {
	from, fromArg int
	to, toArg     int
}

// graph is the dependency graph used by Initialize.
type graph struct {
	names []string // node index -> display name
	deps  [][]int  // node index -> nodes it depends on
}

func newGraph(names []string, edges []edge) *graph {
	g := &graph{
		names: names,
		deps:  make([][]int, len(names)),
	}
	for _, e := range edges {
		g.deps[e.to] = append(g.deps[e.to], e.from)
	}
	return g
}

// forwardReferences returns every edge whose source is not strictly before
// its destination in declared order.
func forwardReferences(edges []edge) []edge {
	var bad []edge
	for _, e := range edges {
		if e.from >= e.to {
			bad = append(bad, e)
		}
	}
	return bad
}

// cycles finds strongly connected components with more than one node, or a
// single node depending on itself, using Tarjan's algorithm. Each cycle is
// returned as the list of node names in a walkable order that starts and
// ends on the same node.
func (g *graph) cycles() [][]string {
	var (
		index   = 0
		stack   []int
		indices = make([]int, len(g.names))
		lowlink = make([]int, len(g.names))
		onStack = make([]bool, len(g.names))
		sccs    [][]int
	)
	for i := range indices {
		indices[i] = -1
	}

	var strongConnect func(v int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.deps[v] {
			if indices[w] < 0 {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for v := range g.names {
		if indices[v] < 0 {
			strongConnect(v)
		}
	}

	var out [][]string
	for _, scc := range sccs {
		if len(scc) > 1 || g.selfLoop(scc[0]) {
			out = append(out, g.cyclePath(scc))
		}
	}
	return out
}

func (g *graph) selfLoop(v int) bool {
	for _, w := range g.deps[v] {
		if w == v {
			return true
		}
	}
	return false
}

// cyclePath walks dependency edges inside scc starting at its lowest node.
func (g *graph) cyclePath(scc []int) []string {
	members := make(map[int]bool, len(scc))
	for _, v := range scc {
		members[v] = true
	}
	sorted := append([]int(nil), scc...)
	sort.Ints(sorted)
	start := sorted[0]

	path := []string{g.names[start]}
	visited := map[int]bool{start: true}
	current := start
	for {
		next := -1
		for _, w := range g.deps[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next < 0 {
			break
		}
		path = append(path, g.names[next])
		if next == start {
			break
		}
		visited[next] = true
		current = next
	}
	return path
}

func formatCycle(path []string) string {
	return fmt.Sprintf("cycle: %s", strings.Join(path, " <- "))
}
