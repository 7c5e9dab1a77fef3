package pyheap_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanyu/pyheap"
	"github.com/ivanyu/pyheap/heap"
	"github.com/ivanyu/pyheap/heapfile"
	"github.com/ivanyu/pyheap/retained"
	"github.com/ivanyu/pyheap/view"
)

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, pyheap.Version)
}

// TestPipeline drives the whole flow: write a snapshot file, load it, index
// inbound references, compute retained heap with caching, and serve
// projections.
func TestPipeline(t *testing.T) {
	b := heap.NewBuilder()
	b.SetHeader(heap.Header{Meta: map[string]interface{}{
		"producer_version": "1.0.0",
		"pid":              uint64(100),
		"created_at":       "2022-11-01T10:00:00",
	}})
	b.AddType(100, "dict")
	b.AddType(101, "str")
	b.AddObject(&heap.Object{Address: 1, Type: 100, Size: 64, Referents: []heap.Address{2, 3}})
	b.AddObject(&heap.Object{Address: 2, Type: 101, Size: 50, Referents: []heap.Address{}})
	b.AddObject(&heap.Object{Address: 3, Type: 101, Size: 30, Referents: []heap.Address{2}})
	b.AddThread(&heap.Thread{Name: "MainThread", Alive: true, Frames: []heap.Frame{
		{File: "main.py", Line: 1, Function: "main", Locals: map[string]heap.Address{"d": 1}},
	}})

	path := filepath.Join(t.TempDir(), "app.pyheap")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, heapfile.Write(f, b.Build()))
	require.NoError(t, f.Close())

	ctx := context.Background()

	in, err := os.Open(path)
	require.NoError(t, err)
	defer in.Close()
	snap, err := heapfile.Load(ctx, in, heapfile.LoadOptions{})
	require.NoError(t, err)

	ix, err := heap.NewInboundIndex(ctx, snap)
	require.NoError(t, err)

	rh, err := retained.Provide(ctx, path, snap, retained.Options{})
	require.NoError(t, err)

	// dict@1 dominates everything; str@2 is reachable both directly and
	// through str@3, so only dict@1 retains it.
	assert.Equal(t, uint64(144), rh.ForObject(1))
	assert.Equal(t, uint64(50), rh.ForObject(2))
	assert.Equal(t, uint64(30), rh.ForObject(3))
	assert.Equal(t, uint64(144), rh.ForThread("MainThread"))

	rows := view.PageByRetained(snap, rh, 0, 1)
	require.Len(t, rows, 1)
	assert.Equal(t, heap.Address(1), rows[0].Address)

	v, ok := view.Object(snap, ix, rh, 2)
	require.True(t, ok)
	assert.Equal(t, []heap.Address{1, 3}, v.Inbound)

	// The cache written by Provide is adopted on a second run.
	fingerprint, err := retained.Fingerprint(path)
	require.NoError(t, err)
	_, err = os.Stat(retained.CachePath(path, fingerprint))
	require.NoError(t, err)

	again, err := retained.Provide(ctx, path, snap, retained.Options{})
	require.NoError(t, err)
	assert.Equal(t, rh.ObjectEntries(), again.ObjectEntries())
}
