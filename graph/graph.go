// Package graph implements the dominator-tree machinery of the retained-heap
// engine over a dense-id compressed sparse row representation. Original
// snapshot addresses survive only in a side table kept by the caller.
package graph

import (
	"context"

	"github.com/pkg/errors"
)

// NodeID is a dense node number. Node 0 is always the root.
type NodeID = int32

// Root is the id of the synthetic root node.
const Root NodeID = 0

// none marks an id slot as unassigned.
const none NodeID = -1

// ErrDominatorCycle indicates the dominator construction produced an
// inconsistent tree. It cannot occur on a well-formed CSR and is fatal.
var ErrDominatorCycle = errors.New("cycle in dominator construction")

// CSR is a forward adjacency in compressed sparse row form. Edge targets of
// node v are Edges[Start[v]:Start[v+1]]. Duplicate edges and self-loops are
// permitted.
type CSR struct {
	Start []int32
	Edges []NodeID
}

// NumNodes returns the number of nodes.
func (g *CSR) NumNodes() int { return len(g.Start) - 1 }

// Succ returns the edge targets of v.
func (g *CSR) Succ(v NodeID) []NodeID { return g.Edges[g.Start[v]:g.Start[v+1]] }

// NewCSR packs adjacency lists into CSR form.
func NewCSR(adj [][]NodeID) *CSR {
	start := make([]int32, len(adj)+1)
	var edges int32
	for i, succ := range adj {
		start[i] = edges
		edges += int32(len(succ))
	}
	start[len(adj)] = edges

	packed := make([]NodeID, 0, edges)
	for _, succ := range adj {
		packed = append(packed, succ...)
	}
	return &CSR{Start: start, Edges: packed}
}

// DomTree is the dominator tree of a CSR rooted at node 0.
type DomTree struct {
	// IDom maps every node to its immediate dominator; IDom[Root] == Root.
	// Nodes unreachable from the root hold -1.
	IDom []NodeID
	// Order is the reverse post-order of the reachable nodes, root first.
	Order []NodeID
	// pos is each node's index in Order, -1 for unreachable nodes.
	pos []int32
}

// Dominators computes the immediate dominator of every node reachable from
// the root using the iterative Cooper-Harvey-Kennedy algorithm: process
// nodes in reverse post-order, intersecting the dominator sets of processed
// predecessors, until a fixed point. The context is polled per outer
// iteration.
func Dominators(ctx context.Context, g *CSR) (*DomTree, error) {
	n := g.NumNodes()
	order := reversePostOrder(g)
	pos := make([]int32, n)
	for i := range pos {
		pos[i] = -1
	}
	for i, v := range order {
		pos[v] = int32(i)
	}

	// Predecessor lists restricted to reachable nodes, in CSR form.
	predStart := make([]int32, n+1)
	for _, v := range order {
		for _, w := range g.Succ(v) {
			predStart[w+1]++
		}
	}
	for i := 0; i < n; i++ {
		predStart[i+1] += predStart[i]
	}
	preds := make([]NodeID, predStart[n])
	fill := make([]int32, n)
	for _, v := range order {
		for _, w := range g.Succ(v) {
			preds[predStart[w]+fill[w]] = v
			fill[w]++
		}
	}

	idom := make([]NodeID, n)
	for i := range idom {
		idom[i] = none
	}
	idom[Root] = Root

	intersect := func(a, b NodeID) NodeID {
		for a != b {
			for pos[a] > pos[b] {
				a = idom[a]
			}
			for pos[b] > pos[a] {
				b = idom[b]
			}
		}
		return a
	}

	changed := true
	for changed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed = false
		for _, v := range order[1:] {
			newIdom := none
			for _, p := range preds[predStart[v] : predStart[v]+fill[v]] {
				if idom[p] == none {
					continue
				}
				if newIdom == none {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != none && idom[v] != newIdom {
				idom[v] = newIdom
				changed = true
			}
		}
	}

	return &DomTree{IDom: idom, Order: order, pos: pos}, nil
}

// reversePostOrder runs an iterative DFS from the root and returns the
// reverse post-order of the visited nodes.
func reversePostOrder(g *CSR) []NodeID {
	n := g.NumNodes()
	visited := make([]bool, n)
	post := make([]NodeID, 0, n)

	type frame struct {
		node NodeID
		next int32
	}
	stack := make([]frame, 0, 64)
	stack = append(stack, frame{node: Root})
	visited[Root] = true

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succ := g.Succ(top.node)
		if int(top.next) < len(succ) {
			w := succ[top.next]
			top.next++
			if !visited[w] {
				visited[w] = true
				stack = append(stack, frame{node: w})
			}
			continue
		}
		post = append(post, top.node)
		stack = stack[:len(stack)-1]
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}
