package heapfile

import (
	"compress/gzip"
	"io"
	"sort"

	"github.com/ivanyu/pyheap/heap"
)

// Write encodes a snapshot into the container format. Map entries are
// written in ascending key order so identical snapshots produce identical
// bytes. Synthetic type records are not written; they are regenerated on
// load.
func Write(w io.Writer, s *heap.Snapshot) error {
	zw := gzip.NewWriter(w)
	sw := &snapshotWriter{e: NewEncoder(zw)}

	sw.rawUint64(Magic)
	version := uint64(s.Version())
	if version == 0 {
		version = MaxVersion
	}
	sw.tag(tagUint)
	sw.uint(version)

	sw.writeHeader(s.Header())
	sw.writeTypes(s)
	sw.writeObjects(s)
	sw.writeThreads(s.Threads())

	if sw.err == nil {
		sw.err = sw.e.Flush()
	}
	if sw.err != nil {
		zw.Close()
		return sw.err
	}
	return zw.Close()
}

// snapshotWriter wraps Encoder with a sticky error so section writers stay
// readable.
type snapshotWriter struct {
	e   *Encoder
	err error
}

func (w *snapshotWriter) tag(t byte) {
	if w.err == nil {
		w.err = w.e.writeByte(t)
	}
}

func (w *snapshotWriter) rawUint64(v uint64) {
	if w.err == nil {
		w.err = w.e.WriteRawUint64(v)
	}
}

func (w *snapshotWriter) uint(v uint64) {
	if w.err == nil {
		w.err = w.e.WriteUint(v)
	}
}

func (w *snapshotWriter) count(n int) {
	if w.err == nil {
		w.err = w.e.WriteCount(n)
	}
}

func (w *snapshotWriter) shortString(s string) {
	if w.err == nil {
		w.err = w.e.WriteShortString(s)
	}
}

func (w *snapshotWriter) longString(s string) {
	if w.err == nil {
		w.err = w.e.WriteLongString(s)
	}
}

func (w *snapshotWriter) boolean(v bool) {
	if w.err == nil {
		w.err = w.e.WriteBool(v)
	}
}

func (w *snapshotWriter) address(a heap.Address) {
	if w.err == nil {
		w.err = w.e.WriteAddress(a)
	}
}

func (w *snapshotWriter) taggedAddress(a heap.Address) {
	w.tag(tagAddress)
	w.address(a)
}

func (w *snapshotWriter) addressList(addrs []heap.Address) {
	w.tag(tagList)
	w.count(len(addrs))
	for _, a := range addrs {
		w.taggedAddress(a)
	}
}

func (w *snapshotWriter) writeHeader(h heap.Header) {
	meta := h.Meta
	if meta == nil {
		meta = make(map[string]interface{})
		if h.ProducerVersion != "" {
			meta["producer_version"] = h.ProducerVersion
		}
		if h.PID != 0 {
			meta["pid"] = h.PID
		}
		if h.CreatedAt != "" {
			meta["created_at"] = h.CreatedAt
		}
	}
	w.tag(sectionHeader)
	w.writeValue(meta)
}

func (w *snapshotWriter) writeTypes(s *heap.Snapshot) {
	types := s.Types()
	concrete := types[:0:0]
	for _, t := range types {
		if !t.Synthetic {
			concrete = append(concrete, t)
		}
	}
	w.tag(sectionTypes)
	w.tag(tagAddrMap)
	w.count(len(concrete))
	for _, t := range concrete {
		w.address(t.Address)
		w.tag(tagShortStr)
		w.shortString(t.Name)
	}
}

func (w *snapshotWriter) writeObjects(s *heap.Snapshot) {
	addrs := s.Addresses()
	w.tag(sectionObjects)
	w.tag(tagAddrMap)
	w.count(len(addrs))
	for _, addr := range addrs {
		w.address(addr)
		w.writeObjectRecord(s.Object(addr))
	}
}

func (w *snapshotWriter) writeObjectRecord(o *heap.Object) {
	w.tag(tagStrMap)
	w.count(6)

	w.shortString("type")
	w.taggedAddress(o.Type)

	w.shortString("size")
	w.tag(tagUint)
	w.uint(o.Size)

	w.shortString("str")
	if o.StrRepr == nil {
		w.tag(tagNull)
	} else {
		w.tag(tagShortStr)
		w.shortString(*o.StrRepr)
	}

	w.shortString("referents")
	w.addressList(o.Referents)

	w.shortString("attributes")
	if o.Attributes == nil {
		w.tag(tagNull)
	} else {
		w.writeAddressValuedMap(o.Attributes)
	}

	w.shortString("elements")
	if o.Elements == nil {
		w.tag(tagNull)
	} else {
		w.addressList(o.Elements)
	}
}

func (w *snapshotWriter) writeAddressValuedMap(m map[string]heap.Address) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.tag(tagStrMap)
	w.count(len(keys))
	for _, k := range keys {
		w.shortString(k)
		w.taggedAddress(m[k])
	}
}

func (w *snapshotWriter) writeThreads(threads []*heap.Thread) {
	w.tag(sectionThreads)
	w.tag(tagList)
	w.count(len(threads))
	for _, t := range threads {
		w.writeThreadRecord(t)
	}
}

func (w *snapshotWriter) writeThreadRecord(t *heap.Thread) {
	w.tag(tagStrMap)
	w.count(4)

	w.shortString("name")
	w.tag(tagShortStr)
	w.shortString(t.Name)

	w.shortString("alive")
	w.tag(tagBool)
	w.boolean(t.Alive)

	w.shortString("daemon")
	w.tag(tagBool)
	w.boolean(t.Daemon)

	w.shortString("frames")
	w.tag(tagList)
	w.count(len(t.Frames))
	for _, f := range t.Frames {
		w.writeFrameRecord(f)
	}
}

func (w *snapshotWriter) writeFrameRecord(f heap.Frame) {
	w.tag(tagStrMap)
	w.count(4)

	w.shortString("file")
	w.tag(tagLongStr)
	w.longString(f.File)

	w.shortString("line")
	w.tag(tagUint)
	w.uint(f.Line)

	w.shortString("function")
	w.tag(tagShortStr)
	w.shortString(f.Function)

	w.shortString("locals")
	locals := f.Locals
	if locals == nil {
		locals = map[string]heap.Address{}
	}
	w.writeAddressValuedMap(locals)
}

// writeValue encodes one tagged value generically; the inverse of the
// reader's generic decode.
func (w *snapshotWriter) writeValue(v interface{}) {
	switch x := v.(type) {
	case nil:
		w.tag(tagNull)
	case bool:
		w.tag(tagBool)
		w.boolean(x)
	case uint64:
		w.tag(tagUint)
		w.uint(x)
	case int64:
		w.tag(tagInt)
		if w.err == nil {
			w.err = w.e.WriteInt(x)
		}
	case string:
		w.tag(tagShortStr)
		w.shortString(x)
	case heap.Address:
		w.taggedAddress(x)
	case []interface{}:
		w.tag(tagList)
		w.count(len(x))
		for _, item := range x {
			w.writeValue(item)
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.tag(tagStrMap)
		w.count(len(keys))
		for _, k := range keys {
			w.shortString(k)
			w.writeValue(x[k])
		}
	case map[heap.Address]interface{}:
		keys := make([]heap.Address, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		w.tag(tagAddrMap)
		w.count(len(keys))
		for _, k := range keys {
			w.address(k)
			w.writeValue(x[k])
		}
	default:
		w.err = malformedf("unsupported header value %T", v)
	}
}
