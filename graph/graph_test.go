package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDominators(t *testing.T) {
	tests := []struct {
		name string
		adj  [][]NodeID
		// expected immediate dominators for nodes 1..n-1
		idom map[NodeID]NodeID
	}{
		{
			name: "linear chain",
			adj:  [][]NodeID{{1}, {2}, {3}, {}},
			idom: map[NodeID]NodeID{1: 0, 2: 1, 3: 2},
		},
		{
			name: "diamond",
			adj:  [][]NodeID{{1}, {2, 3}, {4}, {4}, {}},
			idom: map[NodeID]NodeID{1: 0, 2: 1, 3: 1, 4: 1},
		},
		{
			name: "multiple paths",
			adj:  [][]NodeID{{1}, {2, 3}, {4}, {4, 5}, {6}, {6}, {}},
			idom: map[NodeID]NodeID{1: 0, 2: 1, 3: 1, 4: 1, 5: 3, 6: 1},
		},
		{
			name: "two-node cycle",
			adj:  [][]NodeID{{1}, {2}, {1}},
			idom: map[NodeID]NodeID{1: 0, 2: 1},
		},
		{
			name: "self loop",
			adj:  [][]NodeID{{1}, {1}},
			idom: map[NodeID]NodeID{1: 0},
		},
		{
			name: "duplicate edges",
			adj:  [][]NodeID{{1, 1}, {2, 2, 2}, {}},
			idom: map[NodeID]NodeID{1: 0, 2: 1},
		},
		{
			name: "back edge into branch",
			adj:  [][]NodeID{{1}, {2, 3}, {4}, {4}, {2}},
			idom: map[NodeID]NodeID{1: 0, 2: 1, 3: 1, 4: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := Dominators(context.Background(), NewCSR(tt.adj))
			require.NoError(t, err)

			assert.Equal(t, Root, tree.IDom[Root])
			for node, dom := range tt.idom {
				assert.Equal(t, dom, tree.IDom[node], "idom of node %d", node)
			}
		})
	}
}

func TestDominatorsUnreachableNodes(t *testing.T) {
	// Node 3 has an edge into the reachable region but is itself
	// unreachable from the root.
	adj := [][]NodeID{{1}, {2}, {}, {2}}
	tree, err := Dominators(context.Background(), NewCSR(adj))
	require.NoError(t, err)

	assert.Equal(t, NodeID(1), tree.IDom[2], "unreachable predecessors must not influence idom")
	assert.Equal(t, none, tree.IDom[3])
	assert.Len(t, tree.Order, 3)
}

func TestDominatorsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dominators(ctx, NewCSR([][]NodeID{{1}, {}}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetainedSizes(t *testing.T) {
	tests := []struct {
		name     string
		adj      [][]NodeID
		sizes    []uint64
		retained []uint64
	}{
		{
			name:     "chain",
			adj:      [][]NodeID{{1}, {2}, {3}, {}},
			sizes:    []uint64{0, 10, 20, 30},
			retained: []uint64{60, 60, 50, 30},
		},
		{
			name:     "diamond keeps merge at fork",
			adj:      [][]NodeID{{1}, {2, 3}, {4}, {4}, {}},
			sizes:    []uint64{0, 10, 20, 30, 40},
			retained: []uint64{100, 100, 20, 30, 40},
		},
		{
			name:     "cycle collapses into entry",
			adj:      [][]NodeID{{1}, {2}, {1}},
			sizes:    []uint64{0, 5, 7},
			retained: []uint64{12, 12, 7},
		},
		{
			name:     "self loop retains only itself",
			adj:      [][]NodeID{{1}, {1}},
			sizes:    []uint64{0, 9},
			retained: []uint64{9, 9},
		},
		{
			name:     "unreachable nodes retain nothing",
			adj:      [][]NodeID{{1}, {}, {1}},
			sizes:    []uint64{0, 3, 100},
			retained: []uint64{3, 3, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := Dominators(context.Background(), NewCSR(tt.adj))
			require.NoError(t, err)
			retained, err := RetainedSizes(tree, tt.sizes)
			require.NoError(t, err)
			assert.Equal(t, tt.retained, retained)
		})
	}
}

func TestRetainedSizesRejectsMismatchedSizes(t *testing.T) {
	tree, err := Dominators(context.Background(), NewCSR([][]NodeID{{1}, {}}))
	require.NoError(t, err)
	_, err = RetainedSizes(tree, []uint64{0})
	assert.Error(t, err)
}

func TestDominates(t *testing.T) {
	adj := [][]NodeID{{1}, {2, 3}, {4}, {4}, {}}
	tree, err := Dominators(context.Background(), NewCSR(adj))
	require.NoError(t, err)

	assert.True(t, tree.Dominates(0, 4))
	assert.True(t, tree.Dominates(1, 4))
	assert.True(t, tree.Dominates(4, 4))
	assert.False(t, tree.Dominates(2, 4))
	assert.False(t, tree.Dominates(3, 4))
	assert.False(t, tree.Dominates(4, 1))
}

func TestChildren(t *testing.T) {
	adj := [][]NodeID{{1}, {2, 3}, {4}, {4}, {}}
	tree, err := Dominators(context.Background(), NewCSR(adj))
	require.NoError(t, err)

	children := tree.Children()
	assert.Equal(t, []NodeID{1}, children[0])
	assert.ElementsMatch(t, []NodeID{2, 3, 4}, children[1])
	assert.Empty(t, children[4])
}
