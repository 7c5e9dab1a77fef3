package retained

import (
	"context"
	"math"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/ivanyu/pyheap/graph"
	"github.com/ivanyu/pyheap/heap"
)

// ErrGraphTooLarge is returned when the reachable set exceeds the node cap.
var ErrGraphTooLarge = errors.New("reachable graph exceeds node cap")

// Options tunes the engine.
type Options struct {
	// MaxNodes caps the reachable node count, synthetic root and thread
	// nodes included. Defaults to 2^31 - 1.
	MaxNodes int
	Logger   log.Logger
}

func (o Options) maxNodes() int {
	if o.MaxNodes > 0 {
		return o.MaxNodes
	}
	return math.MaxInt32
}

func (o Options) logger() log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.NewNopLogger()
}

// Compute builds the reachability graph and derives retained sizes from its
// dominator tree.
//
// Node layout: node 0 is the synthetic global root; one zero-sized virtual
// node per thread follows, each pointing at that thread's frame locals;
// objects come after in breadth-first discovery order. The virtual thread
// nodes make per-thread retained heap fall out of the same dominator pass:
// an object held by two threads has the global root as immediate dominator
// and is credited to neither thread, so a thread's retained heap is exactly
// what terminating it alone would free.
func Compute(ctx context.Context, snap *heap.Snapshot, opts Options) (*RetainedHeap, error) {
	logger := opts.logger()
	start := time.Now()

	threads := snap.Threads()
	maxNodes := opts.maxNodes()

	numSynthetic := 1 + len(threads)
	if numSynthetic > maxNodes {
		return nil, errors.Wrapf(ErrGraphTooLarge, "%d synthetic nodes, cap %d", numSynthetic, maxNodes)
	}

	adj := make([][]graph.NodeID, numSynthetic)
	sizes := make([]uint64, numSynthetic)
	addrToID := make(map[heap.Address]graph.NodeID)
	queue := make([]heap.Address, 0)

	capExceeded := false
	idOf := func(addr heap.Address) graph.NodeID {
		if id, ok := addrToID[addr]; ok {
			return id
		}
		if len(adj) >= maxNodes {
			capExceeded = true
			return graph.Root
		}
		id := graph.NodeID(len(adj))
		addrToID[addr] = id
		adj = append(adj, nil)
		sizes = append(sizes, snap.ShallowSize(addr))
		queue = append(queue, addr)
		return id
	}

	for i, t := range threads {
		node := graph.NodeID(1 + i)
		adj[graph.Root] = append(adj[graph.Root], node)
		for _, local := range t.LocalAddresses() {
			if snap.Object(local) == nil {
				continue // unknown locals are not roots
			}
			adj[node] = append(adj[node], idOf(local))
		}
	}

	for head := 0; head < len(queue); head++ {
		if head%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		addr := queue[head]
		v := addrToID[addr]
		for _, ref := range snap.Referents(addr) {
			if snap.Object(ref) == nil {
				continue
			}
			adj[v] = append(adj[v], idOf(ref))
		}
	}
	if capExceeded {
		return nil, errors.Wrapf(ErrGraphTooLarge, "cap %d", maxNodes)
	}

	csr := graph.NewCSR(adj)
	level.Debug(logger).Log(
		"msg", "reachability graph built",
		"nodes", csr.NumNodes(),
		"edges", len(csr.Edges),
		"duration", time.Since(start),
	)

	tree, err := graph.Dominators(ctx, csr)
	if err != nil {
		return nil, err
	}
	sizesByNode, err := graph.RetainedSizes(tree, sizes)
	if err != nil {
		return nil, err
	}

	objects := make([]ObjectEntry, 0, len(queue))
	for _, addr := range queue {
		objects = append(objects, ObjectEntry{
			Address:  addr,
			Retained: sizesByNode[addrToID[addr]],
		})
	}
	threadEntries := make([]ThreadEntry, 0, len(threads))
	for i, t := range threads {
		threadEntries = append(threadEntries, ThreadEntry{
			Name:     t.Name,
			Retained: sizesByNode[graph.NodeID(1+i)],
		})
	}

	level.Info(logger).Log(
		"msg", "retained heap computed",
		"objects", len(objects),
		"threads", len(threadEntries),
		"duration", time.Since(start),
	)
	return New(objects, threadEntries), nil
}
