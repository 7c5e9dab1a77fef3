package heap

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// InboundIndex maps every address to the set of objects that reference it.
// Vectors are sorted ascending with duplicates collapsed, so memory is
// bounded by the number of distinct edges.
type InboundIndex struct {
	refs map[Address][]Address
}

// NewInboundIndex builds the reverse adjacency of the snapshot in one linear
// pass over the object records. The accumulation is sharded across
// GOMAXPROCS workers; the result is deterministic.
func NewInboundIndex(ctx context.Context, s *Snapshot) (*InboundIndex, error) {
	addrs := s.Addresses()

	workers := runtime.GOMAXPROCS(0)
	if workers > len(addrs) {
		workers = 1
	}
	partials := make([]map[Address][]Address, workers)

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(addrs) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			part := make(map[Address][]Address)
			lo := w * chunk
			hi := lo + chunk
			if hi > len(addrs) {
				hi = len(addrs)
			}
			for i := lo; i < hi; i++ {
				if i%4096 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				source := addrs[i]
				for _, target := range s.Referents(source) {
					part[target] = append(part[target], source)
				}
			}
			partials[w] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refs := make(map[Address][]Address)
	for _, part := range partials {
		for target, sources := range part {
			refs[target] = append(refs[target], sources...)
		}
	}
	for target, sources := range refs {
		sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
		deduped := sources[:0]
		for i, a := range sources {
			if i == 0 || a != deduped[len(deduped)-1] {
				deduped = append(deduped, a)
			}
		}
		refs[target] = deduped
	}

	return &InboundIndex{refs: refs}, nil
}

// Inbound returns the addresses of objects referencing addr, sorted
// ascending without duplicates. Nil if nothing references addr.
func (ix *InboundIndex) Inbound(addr Address) []Address {
	return ix.refs[addr]
}
