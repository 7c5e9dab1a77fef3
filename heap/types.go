// Package heap holds the in-memory model of one loaded snapshot: the object,
// type, and thread tables, load-time integrity diagnostics, and the derived
// inbound-reference index.
package heap

import "sort"

// Address identifies one object within one snapshot. Addresses are opaque
// 64-bit values assigned by the producer; absence from the object table means
// the object was not traced.
type Address uint64

// Object is a single traced heap object. Attributes and Elements are nil
// unless the producer emitted them; StrRepr is nil when the snapshot was
// captured without string representations.
type Object struct {
	Address    Address
	Type       Address
	Size       uint64
	StrRepr    *string
	Referents  []Address
	Attributes map[string]Address
	Elements   []Address
}

// Type is an entry of the type table. Synthetic is set when the type address
// was referenced by an object but missing from the snapshot.
type Type struct {
	Address   Address
	Name      string
	Synthetic bool
}

// Frame is one entry of a thread's stack, outermost caller first.
type Frame struct {
	File     string
	Line     uint64
	Function string
	Locals   map[string]Address
}

// Thread is one traced thread with its stack.
type Thread struct {
	Name   string
	Alive  bool
	Daemon bool
	Frames []Frame
}

// LocalAddresses returns the union of all frames' local addresses, sorted
// ascending without duplicates.
func (t *Thread) LocalAddresses() []Address {
	seen := make(map[Address]struct{})
	for _, f := range t.Frames {
		for _, addr := range f.Locals {
			seen[addr] = struct{}{}
		}
	}
	result := make([]Address, 0, len(seen))
	for addr := range seen {
		result = append(result, addr)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Header carries the snapshot metadata written by the producer. Meta holds
// every header entry as decoded, including keys this implementation does not
// recognize.
type Header struct {
	ProducerVersion string
	PID             uint64
	CreatedAt       string
	Meta            map[string]interface{}
}

// Diagnostics accumulates the non-fatal integrity findings of a load. All of
// them are reported, never raised.
type Diagnostics struct {
	// DanglingReferences counts edges (referents, attribute targets, element
	// targets, and thread locals) whose target is not in the object table.
	DanglingReferences int
	// DuplicateObjects and DuplicateTypes count map keys that occurred more
	// than once; the second occurrence won.
	DuplicateObjects int
	DuplicateTypes   int
	// SyntheticTypes counts type addresses referenced by objects but missing
	// from the type table.
	SyntheticTypes int
	// SkippedSections counts top-level sections with unrecognized tags.
	SkippedSections int
}
