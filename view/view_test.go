package view

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanyu/pyheap/heap"
	"github.com/ivanyu/pyheap/retained"
)

// fixture: MainThread -> dict@1 -> {str@2, list@3 -> str@2}, plus a worker
// thread holding int@4. str@5 is unreachable.
func fixture(t *testing.T) (*heap.Snapshot, *heap.InboundIndex, *retained.RetainedHeap) {
	t.Helper()
	b := heap.NewBuilder()
	b.AddType(100, "dict")
	b.AddType(101, "str")
	b.AddType(102, "list")
	b.AddType(103, "int")

	repr := "{'k': 'v'}"
	b.AddObject(&heap.Object{
		Address: 1, Type: 100, Size: 64, StrRepr: &repr,
		Referents:  []heap.Address{2, 3},
		Attributes: map[string]heap.Address{"k": 2},
	})
	b.AddObject(&heap.Object{Address: 2, Type: 101, Size: 50, Referents: []heap.Address{}})
	b.AddObject(&heap.Object{
		Address: 3, Type: 102, Size: 40,
		Referents: []heap.Address{2, 999},
		Elements:  []heap.Address{2},
	})
	b.AddObject(&heap.Object{Address: 4, Type: 103, Size: 28, Referents: []heap.Address{}})
	b.AddObject(&heap.Object{Address: 5, Type: 101, Size: 1000, Referents: []heap.Address{}})

	b.AddThread(&heap.Thread{Name: "MainThread", Alive: true, Frames: []heap.Frame{
		{File: "main.py", Line: 1, Function: "main", Locals: map[string]heap.Address{"d": 1}},
	}})
	b.AddThread(&heap.Thread{Name: "worker", Alive: true, Daemon: true, Frames: []heap.Frame{
		{File: "worker.py", Line: 7, Function: "loop", Locals: map[string]heap.Address{"n": 4}},
	}})

	s := b.Build()
	ix, err := heap.NewInboundIndex(context.Background(), s)
	require.NoError(t, err)
	rh, err := retained.Compute(context.Background(), s, retained.Options{})
	require.NoError(t, err)
	return s, ix, rh
}

func TestObjectProjection(t *testing.T) {
	s, ix, rh := fixture(t)

	v, ok := Object(s, ix, rh, 1)
	require.True(t, ok)
	assert.Equal(t, "dict", v.TypeName)
	assert.Equal(t, uint64(64), v.ShallowSize)
	assert.Equal(t, uint64(154), v.Retained) // 64 + 50 + 40
	assert.Equal(t, "{'k': 'v'}", v.StrRepr)
	assert.Equal(t, []heap.Address{2, 3}, v.Referents)
	assert.Empty(t, v.Inbound)

	v, ok = Object(s, ix, rh, 2)
	require.True(t, ok)
	assert.Equal(t, []heap.Address{1, 3}, v.Inbound)
	assert.Equal(t, uint64(50), v.Retained)
}

func TestObjectProjectionUnknown(t *testing.T) {
	s, ix, rh := fixture(t)

	v, ok := Object(s, ix, rh, 999)
	require.True(t, ok)
	assert.True(t, v.Unknown)
	assert.Equal(t, uint64(0), v.ShallowSize)
	assert.Equal(t, []heap.Address{3}, v.Inbound)

	_, ok = Object(s, ix, rh, 424242)
	assert.False(t, ok)
}

func TestPageByRetained(t *testing.T) {
	s, _, rh := fixture(t)

	rows := PageByRetained(s, rh, 0, 10)
	require.Len(t, rows, 5)
	assert.Equal(t, heap.Address(1), rows[0].Address)
	assert.Equal(t, uint64(154), rows[0].Retained)
	assert.Equal(t, heap.Address(2), rows[1].Address)
	assert.Equal(t, heap.Address(3), rows[2].Address)
	assert.Equal(t, heap.Address(4), rows[3].Address)

	// Unreachable object 5 sorts by zero retained, after everything else.
	assert.Equal(t, heap.Address(5), rows[4].Address)
	assert.Equal(t, uint64(0), rows[4].Retained)
}

func TestPageByRetainedPaging(t *testing.T) {
	s, _, rh := fixture(t)

	all := PageByRetained(s, rh, 0, -1)
	require.Len(t, all, 5)

	assert.Equal(t, all[2:4], PageByRetained(s, rh, 2, 2))
	assert.Equal(t, all[4:], PageByRetained(s, rh, 4, 10))
	assert.Empty(t, PageByRetained(s, rh, 5, 10))
	assert.Empty(t, PageByRetained(s, rh, 100, 10))
}

func TestPageByRetainedTieBreaksByAddress(t *testing.T) {
	b := heap.NewBuilder()
	b.AddType(100, "int")
	b.AddObject(&heap.Object{Address: 9, Type: 100, Size: 8})
	b.AddObject(&heap.Object{Address: 3, Type: 100, Size: 8})
	b.AddObject(&heap.Object{Address: 6, Type: 100, Size: 8})
	b.AddThread(&heap.Thread{Name: "T", Frames: []heap.Frame{
		{Locals: map[string]heap.Address{"a": 9, "b": 3, "c": 6}},
	}})
	s := b.Build()
	rh, err := retained.Compute(context.Background(), s, retained.Options{})
	require.NoError(t, err)

	rows := PageByRetained(s, rh, 0, 10)
	require.Len(t, rows, 3)
	assert.Equal(t, heap.Address(3), rows[0].Address)
	assert.Equal(t, heap.Address(6), rows[1].Address)
	assert.Equal(t, heap.Address(9), rows[2].Address)
}

func TestPageByType(t *testing.T) {
	s, _, rh := fixture(t)

	rows := PageByType(s, rh, 0, 10, "")
	require.Len(t, rows, 4)
	// dict: 154; str: 50 + 0 (unreachable instance); list: 40; int: 28.
	assert.Equal(t, "dict", rows[0].Name)
	assert.Equal(t, uint64(154), rows[0].Retained)
	assert.Equal(t, "str", rows[1].Name)
	assert.Equal(t, uint64(50), rows[1].Retained)
	assert.Equal(t, 2, rows[1].Instances)

	filtered := PageByType(s, rh, 0, 10, "st")
	require.Len(t, filtered, 1)
	assert.Equal(t, "str", filtered[0].Name)
}

func TestThreads(t *testing.T) {
	s, _, rh := fixture(t)

	threads := Threads(s, rh)
	require.Len(t, threads, 2)
	assert.Equal(t, "MainThread", threads[0].Name)
	assert.Equal(t, uint64(154), threads[0].Retained)
	assert.Equal(t, "worker", threads[1].Name)
	assert.Equal(t, uint64(28), threads[1].Retained)

	require.Len(t, threads[0].Frames, 1)
	require.Len(t, threads[0].Frames[0].Locals, 1)
	local := threads[0].Frames[0].Locals[0]
	assert.Equal(t, "d", local.Name)
	assert.Equal(t, uint64(154), local.Retained)
}
