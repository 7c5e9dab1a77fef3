package graph

import "github.com/pkg/errors"

// RetainedSizes computes, for every reachable node, the sum of shallow sizes
// of all nodes it dominates, itself included. The accumulation walks the
// dominator tree bottom-up by traversing the reverse post-order backwards:
// every node's immediate dominator precedes it in that order, so each R[v]
// is final before it is folded into its dominator.
//
// Unreachable nodes get 0. The returned slice is indexed by NodeID.
func RetainedSizes(t *DomTree, sizes []uint64) ([]uint64, error) {
	if len(sizes) != len(t.IDom) {
		return nil, errors.Errorf("size table has %d entries for %d nodes", len(sizes), len(t.IDom))
	}

	retained := make([]uint64, len(sizes))
	for _, v := range t.Order {
		retained[v] = sizes[v]
	}
	for i := len(t.Order) - 1; i > 0; i-- {
		v := t.Order[i]
		dom := t.IDom[v]
		if dom == none || t.pos[dom] >= t.pos[v] {
			return nil, errors.Wrapf(ErrDominatorCycle, "node %d, idom %d", v, dom)
		}
		retained[dom] += retained[v]
	}
	return retained, nil
}

// Dominates reports whether node u dominates node v in the tree. Every node
// dominates itself.
func (t *DomTree) Dominates(u, v NodeID) bool {
	if t.pos[u] < 0 || t.pos[v] < 0 {
		return false
	}
	for {
		if v == u {
			return true
		}
		if v == Root {
			return u == Root
		}
		v = t.IDom[v]
	}
}

// Children returns, for every node, the list of nodes it immediately
// dominates, in reverse post-order.
func (t *DomTree) Children() [][]NodeID {
	children := make([][]NodeID, len(t.IDom))
	for _, v := range t.Order {
		if v == Root {
			continue
		}
		dom := t.IDom[v]
		children[dom] = append(children[dom], v)
	}
	return children
}
