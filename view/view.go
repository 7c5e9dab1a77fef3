// Package view provides the read-only projections consumed by the browser
// UI and the CLI. Every projection is a pure function of the snapshot, the
// inbound index, and the retained-heap table; no state is mutated by read
// traffic, so projections may be served concurrently.
package view

import (
	"sort"
	"strings"

	"github.com/ivanyu/pyheap/heap"
	"github.com/ivanyu/pyheap/retained"
)

// ObjectSummary is one row of an object listing.
type ObjectSummary struct {
	Address     heap.Address
	TypeName    string
	ShallowSize uint64
	Retained    uint64
	StrRepr     string
}

// ObjectView is the full per-object projection.
type ObjectView struct {
	ObjectSummary
	Referents  []heap.Address
	Inbound    []heap.Address
	Attributes map[string]heap.Address
	Elements   []heap.Address
	Unknown    bool
}

// Object projects one address. The second return is false when the address
// is entirely absent from the snapshot; unknown addresses (edge targets that
// were not traced) project with Unknown set and zero sizes.
func Object(s *heap.Snapshot, ix *heap.InboundIndex, rh *retained.RetainedHeap, addr heap.Address) (ObjectView, bool) {
	if o := s.Object(addr); o != nil {
		v := ObjectView{
			ObjectSummary: summarize(s, rh, o),
			Referents:     o.Referents,
			Inbound:       ix.Inbound(addr),
			Attributes:    o.Attributes,
			Elements:      o.Elements,
		}
		return v, true
	}
	if s.IsUnknown(addr) {
		return ObjectView{
			ObjectSummary: ObjectSummary{Address: addr},
			Inbound:       ix.Inbound(addr),
			Unknown:       true,
		}, true
	}
	return ObjectView{}, false
}

func summarize(s *heap.Snapshot, rh *retained.RetainedHeap, o *heap.Object) ObjectSummary {
	summary := ObjectSummary{
		Address:     o.Address,
		TypeName:    s.TypeName(o.Address),
		ShallowSize: o.Size,
		Retained:    rh.ForObject(o.Address),
	}
	if o.StrRepr != nil {
		summary.StrRepr = *o.StrRepr
	}
	return summary
}

// PageByRetained returns one page of objects sorted descending by retained
// size, ties broken by ascending address. Offsets are 0-based.
func PageByRetained(s *heap.Snapshot, rh *retained.RetainedHeap, offset, limit int) []ObjectSummary {
	rows := make([]ObjectSummary, 0, s.NumObjects())
	s.ForEachObject(func(o *heap.Object) bool {
		rows = append(rows, summarize(s, rh, o))
		return true
	})
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Retained != rows[j].Retained {
			return rows[i].Retained > rows[j].Retained
		}
		return rows[i].Address < rows[j].Address
	})
	return page(rows, offset, limit)
}

// TypeSummary is one row of the per-type listing.
type TypeSummary struct {
	TypeAddress heap.Address
	Name        string
	Instances   int
	Retained    uint64
}

// PageByType returns one page of types sorted descending by the summed
// retained sizes of their instances, ties broken by ascending type address.
// When filter is non-empty, only type names containing it survive.
func PageByType(s *heap.Snapshot, rh *retained.RetainedHeap, offset, limit int, filter string) []TypeSummary {
	byType := make(map[heap.Address]*TypeSummary)
	s.ForEachObject(func(o *heap.Object) bool {
		summary := byType[o.Type]
		if summary == nil {
			summary = &TypeSummary{TypeAddress: o.Type, Name: s.Type(o.Type).Name}
			byType[o.Type] = summary
		}
		summary.Instances++
		summary.Retained += rh.ForObject(o.Address)
		return true
	})

	rows := make([]TypeSummary, 0, len(byType))
	for _, summary := range byType {
		if filter != "" && !strings.Contains(summary.Name, filter) {
			continue
		}
		rows = append(rows, *summary)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Retained != rows[j].Retained {
			return rows[i].Retained > rows[j].Retained
		}
		return rows[i].TypeAddress < rows[j].TypeAddress
	})
	return page(rows, offset, limit)
}

// LocalView is one frame local with its retained size.
type LocalView struct {
	Name     string
	Address  heap.Address
	Retained uint64
}

// FrameView is one stack frame.
type FrameView struct {
	File     string
	Line     uint64
	Function string
	Locals   []LocalView
}

// ThreadSummary is one thread with its retained heap and stack.
type ThreadSummary struct {
	Name     string
	Alive    bool
	Daemon   bool
	Retained uint64
	Frames   []FrameView
}

// Threads projects all threads sorted descending by retained heap, ties
// broken by ascending name. Frame locals are sorted by name.
func Threads(s *heap.Snapshot, rh *retained.RetainedHeap) []ThreadSummary {
	rows := make([]ThreadSummary, 0, len(s.Threads()))
	for _, t := range s.Threads() {
		summary := ThreadSummary{
			Name:     t.Name,
			Alive:    t.Alive,
			Daemon:   t.Daemon,
			Retained: rh.ForThread(t.Name),
		}
		for _, f := range t.Frames {
			fv := FrameView{File: f.File, Line: f.Line, Function: f.Function}
			names := make([]string, 0, len(f.Locals))
			for name := range f.Locals {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				addr := f.Locals[name]
				fv.Locals = append(fv.Locals, LocalView{
					Name:     name,
					Address:  addr,
					Retained: rh.ForObject(addr),
				})
			}
			summary.Frames = append(summary.Frames, fv)
		}
		rows = append(rows, summary)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Retained != rows[j].Retained {
			return rows[i].Retained > rows[j].Retained
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}

func page[T any](rows []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return nil
	}
	end := len(rows)
	if limit >= 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}
