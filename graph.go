package karakuri

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

type nodeStatus int

const (
	nodePending nodeStatus = iota
	nodeReady
	nodeRunning
	nodeDone
	nodeFailed
	nodeSkipped
)

func (x nodeStatus) terminal() bool {
	return x == nodeDone || x == nodeFailed || x == nodeSkipped
}

type graphNode struct {
	op     *Operation
	index  int
	status nodeStatus

	// remaining counts unresolved dependencies; the node becomes ready at
	// zero.
	remaining  int
	dependents []int
}

// executionGraph is the transient DAG built for one batch. Nodes keep their
// input order so that ready candidates are always admitted with a stable
// tie-break: original batch position.
type executionGraph struct {
	nodes []*graphNode
	byID  map[string]*graphNode
}

// newExecutionGraph wires the batch into a graph and verifies topological
// feasibility. A cycle rejects the whole batch before anything runs, naming
// one representative cycle.
func newExecutionGraph(ops []*Operation, edges map[string][]string) (*executionGraph, error) {
	g := &executionGraph{
		nodes: make([]*graphNode, 0, len(ops)),
		byID:  make(map[string]*graphNode, len(ops)),
	}

	for i, op := range ops {
		if _, ok := g.byID[op.ID]; ok {
			return nil, goerr.Wrap(ErrInvalidParameter, "duplicate operation id", goerr.V("op_id", op.ID))
		}
		node := &graphNode{op: op, index: i}
		g.nodes = append(g.nodes, node)
		g.byID[op.ID] = node
	}

	for opID, deps := range edges {
		node, ok := g.byID[opID]
		if !ok {
			return nil, goerr.Wrap(ErrInvalidParameter, "dependency edge for unknown operation", goerr.V("op_id", opID))
		}
		for _, depID := range deps {
			dep, ok := g.byID[depID]
			if !ok {
				return nil, goerr.Wrap(ErrInvalidParameter, "dependency on unknown operation",
					goerr.V("op_id", opID), goerr.V("depends_on", depID))
			}
			if dep == node {
				return nil, goerr.Wrap(ErrCyclicDependency, "operation depends on itself",
					goerr.V("op_id", opID), goerr.V("cycle", opID+" -> "+opID))
			}
			node.remaining++
			dep.dependents = append(dep.dependents, node.index)
		}
	}

	order := make([]string, len(ops))
	for i, op := range ops {
		order[i] = op.ID
	}
	if cycle := detectCycle(order, edges); len(cycle) > 0 {
		return nil, goerr.Wrap(ErrCyclicDependency, "dependency cycle in batch",
			goerr.V("cycle", strings.Join(cycle, " -> ")))
	}

	for _, node := range g.nodes {
		if node.remaining == 0 {
			node.status = nodeReady
		}
	}

	return g, nil
}

// detectCycle runs a DFS over the dependency edges and returns one
// representative cycle as a sequence of IDs with the first repeated at the
// end, or nil when the edges form a DAG. IDs are visited in the given order
// so the reported cycle is deterministic.
func detectCycle(order []string, edges map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(order))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)

		for _, depID := range edges[id] {
			switch color[depID] {
			case gray:
				// Walk the stack back to the repeated node.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == depID {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, depID)
					}
				}
			case white:
				if cycle := visit(depID); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range order {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// nextReady returns the first ready node in input order, or nil.
func (g *executionGraph) nextReady() *graphNode {
	for _, node := range g.nodes {
		if node.status == nodeReady {
			return node
		}
	}
	return nil
}

// markDone resolves the node and promotes dependents whose dependencies are
// now all complete.
func (g *executionGraph) markDone(node *graphNode) {
	node.status = nodeDone
	for _, i := range node.dependents {
		dep := g.nodes[i]
		dep.remaining--
		if dep.remaining == 0 && dep.status == nodePending {
			dep.status = nodeReady
		}
	}
}

// markFailed resolves the node as failed and skips every transitive
// dependent that has not started. The returned nodes are the newly skipped
// ones, in input order.
func (g *executionGraph) markFailed(node *graphNode) []*graphNode {
	node.status = nodeFailed

	queue := append([]int{}, node.dependents...)
	skipped := map[int]bool{}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		dep := g.nodes[i]
		if dep.status.terminal() || skipped[i] {
			continue
		}
		skipped[i] = true
		queue = append(queue, dep.dependents...)
	}

	var result []*graphNode
	for _, n := range g.nodes {
		if skipped[n.index] {
			n.status = nodeSkipped
			result = append(result, n)
		}
	}
	return result
}

// unfinished reports whether any node still needs scheduling or is running.
func (g *executionGraph) unfinished() bool {
	for _, node := range g.nodes {
		if !node.status.terminal() {
			return true
		}
	}
	return false
}
