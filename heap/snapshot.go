package heap

import "sort"

// Snapshot is one fully loaded heap snapshot. It is immutable after Build
// and safe for concurrent readers.
type Snapshot struct {
	version Version
	header  Header
	types   map[Address]*Type
	objects map[Address]*Object
	threads []*Thread
	unknown map[Address]struct{}
	diags   Diagnostics
}

// Version is the container version tag the snapshot was read from.
type Version uint64

// Builder accumulates records streamed out of the container codec and
// produces an immutable Snapshot. It is not safe for concurrent use.
type Builder struct {
	version Version
	header  Header
	types   map[Address]*Type
	objects map[Address]*Object
	threads []*Thread
	diags   Diagnostics
}

func NewBuilder() *Builder {
	return &Builder{
		types:   make(map[Address]*Type),
		objects: make(map[Address]*Object),
	}
}

func (b *Builder) SetVersion(v Version) { b.version = v }

func (b *Builder) SetHeader(h Header) { b.header = h }

func (b *Builder) AddType(addr Address, name string) {
	if _, dup := b.types[addr]; dup {
		b.diags.DuplicateTypes++
	}
	b.types[addr] = &Type{Address: addr, Name: name}
}

func (b *Builder) AddObject(o *Object) {
	if _, dup := b.objects[o.Address]; dup {
		b.diags.DuplicateObjects++
	}
	b.objects[o.Address] = o
}

func (b *Builder) AddThread(t *Thread) {
	b.threads = append(b.threads, t)
}

func (b *Builder) NoteSkippedSection() {
	b.diags.SkippedSections++
}

// Build freezes the accumulated records into a Snapshot and runs the
// integrity pass: missing type records are substituted with synthetic ones,
// and every edge whose target is absent from the object table is counted and
// the target marked unknown.
func (b *Builder) Build() *Snapshot {
	s := &Snapshot{
		version: b.version,
		header:  b.header,
		types:   b.types,
		objects: b.objects,
		threads: b.threads,
		unknown: make(map[Address]struct{}),
		diags:   b.diags,
	}

	note := func(target Address) {
		if _, ok := s.objects[target]; ok {
			return
		}
		s.diags.DanglingReferences++
		s.unknown[target] = struct{}{}
	}

	for _, o := range s.objects {
		if _, ok := s.types[o.Type]; !ok {
			s.types[o.Type] = &Type{Address: o.Type, Name: "<unknown type>", Synthetic: true}
			s.diags.SyntheticTypes++
		}
		for _, r := range o.Referents {
			note(r)
		}
		for _, a := range o.Attributes {
			note(a)
		}
		for _, e := range o.Elements {
			note(e)
		}
	}
	for _, t := range s.threads {
		for _, f := range t.Frames {
			for _, addr := range f.Locals {
				note(addr)
			}
		}
	}
	return s
}

// Version returns the container version the snapshot was read from.
func (s *Snapshot) Version() Version { return s.version }

// Header returns the producer metadata.
func (s *Snapshot) Header() Header { return s.header }

// Object returns the record at addr, or nil if addr is unknown or absent.
func (s *Snapshot) Object(addr Address) *Object { return s.objects[addr] }

// IsUnknown reports whether addr appeared as an edge target but was not
// itself traced.
func (s *Snapshot) IsUnknown(addr Address) bool {
	_, ok := s.unknown[addr]
	return ok
}

// ShallowSize returns the stored shallow size, or 0 for unknown and absent
// addresses.
func (s *Snapshot) ShallowSize(addr Address) uint64 {
	if o := s.objects[addr]; o != nil {
		return o.Size
	}
	return 0
}

// Referents returns the outbound edges of addr in producer order, duplicates
// preserved. Empty for unknown and absent addresses.
func (s *Snapshot) Referents(addr Address) []Address {
	if o := s.objects[addr]; o != nil {
		return o.Referents
	}
	return nil
}

// Type returns the type record at addr, or nil.
func (s *Snapshot) Type(addr Address) *Type { return s.types[addr] }

// TypeName returns the type name of the object at addr, or "" if the object
// is unknown or absent.
func (s *Snapshot) TypeName(addr Address) string {
	o := s.objects[addr]
	if o == nil {
		return ""
	}
	return s.types[o.Type].Name
}

// NumObjects returns the number of traced objects.
func (s *Snapshot) NumObjects() int { return len(s.objects) }

// ForEachObject calls fn for every object until fn returns false. Iteration
// order is unspecified.
func (s *Snapshot) ForEachObject(fn func(*Object) bool) {
	for _, o := range s.objects {
		if !fn(o) {
			return
		}
	}
}

// Addresses returns all traced object addresses sorted ascending.
func (s *Snapshot) Addresses() []Address {
	result := make([]Address, 0, len(s.objects))
	for addr := range s.objects {
		result = append(result, addr)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Types returns the type table sorted by address, synthetic records included.
func (s *Snapshot) Types() []*Type {
	result := make([]*Type, 0, len(s.types))
	for _, t := range s.types {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result
}

// Threads returns the thread list in producer order.
func (s *Snapshot) Threads() []*Thread { return s.threads }

// TotalHeapSize returns the sum of shallow sizes of all traced objects.
func (s *Snapshot) TotalHeapSize() uint64 {
	var total uint64
	for _, o := range s.objects {
		total += o.Size
	}
	return total
}

// Diagnostics returns the integrity findings recorded during load.
func (s *Snapshot) Diagnostics() Diagnostics { return s.diags }
