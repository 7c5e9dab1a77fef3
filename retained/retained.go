// Package retained computes and caches retained heap sizes: for every
// reachable object, the number of bytes that would be freed if that object
// were collected, and the same quantity per thread.
package retained

import (
	"sort"

	"github.com/ivanyu/pyheap/heap"
)

// RetainedHeap is the result of one analysis: retained bytes per reachable
// object address and per thread name. Immutable.
type RetainedHeap struct {
	objects map[heap.Address]uint64
	threads map[string]uint64
}

// ObjectEntry is one (address, retained) pair.
type ObjectEntry struct {
	Address  heap.Address
	Retained uint64
}

// ThreadEntry is one (thread name, retained) pair.
type ThreadEntry struct {
	Name     string
	Retained uint64
}

// ForObject returns the retained size of addr, or 0 if addr was not
// reachable from any thread.
func (r *RetainedHeap) ForObject(addr heap.Address) uint64 {
	return r.objects[addr]
}

// ForThread returns the retained heap of the named thread: the bytes that
// would be freed if the thread terminated while all other threads kept
// their locals.
func (r *RetainedHeap) ForThread(name string) uint64 {
	return r.threads[name]
}

// ObjectEntries returns all (address, retained) pairs sorted by address.
func (r *RetainedHeap) ObjectEntries() []ObjectEntry {
	result := make([]ObjectEntry, 0, len(r.objects))
	for addr, retained := range r.objects {
		result = append(result, ObjectEntry{Address: addr, Retained: retained})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result
}

// ThreadEntries returns all (name, retained) pairs sorted by name.
func (r *RetainedHeap) ThreadEntries() []ThreadEntry {
	result := make([]ThreadEntry, 0, len(r.threads))
	for name, retained := range r.threads {
		result = append(result, ThreadEntry{Name: name, Retained: retained})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// New assembles a RetainedHeap from entry lists. Used by the engine and the
// cache decoder.
func New(objects []ObjectEntry, threads []ThreadEntry) *RetainedHeap {
	r := &RetainedHeap{
		objects: make(map[heap.Address]uint64, len(objects)),
		threads: make(map[string]uint64, len(threads)),
	}
	for _, e := range objects {
		r.objects[e.Address] = e.Retained
	}
	for _, e := range threads {
		r.threads[e.Name] = e.Retained
	}
	return r
}
