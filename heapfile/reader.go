package heapfile

import (
	"compress/gzip"
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/ivanyu/pyheap/heap"
)

// LoadOptions tunes a snapshot load.
type LoadOptions struct {
	// Progress, when set, is called with the cumulative number of records
	// (types, objects, threads) decoded so far.
	Progress func(records int)
}

// Load parses a snapshot container from r and returns the immutable heap
// model. Records are streamed into the model's builder one at a time; no
// copy of the raw section bytes is retained. The context is polled per
// section and in batches within the large sections.
func Load(ctx context.Context, r io.Reader, opts LoadOptions) (*heap.Snapshot, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, malformed("not a gzip stream")
	}
	defer zr.Close()

	sr := &snapshotReader{d: NewDecoder(zr), b: heap.NewBuilder(), opts: opts}

	magic, err := sr.d.ReadRawUint64()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, malformedf("magic 0x%016x", magic)
	}
	if err := sr.expectTag(tagUint, "version"); err != nil {
		return nil, err
	}
	version, err := sr.d.ReadUint()
	if err != nil {
		return nil, err
	}
	if version > MaxVersion {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d, max supported %d", version, MaxVersion)
	}
	sr.b.SetVersion(heap.Version(version))

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tag, err := sr.d.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, malformed("truncated input")
		}
		if err != nil {
			return nil, err
		}
		switch tag {
		case sectionHeader:
			err = sr.readHeader()
		case sectionTypes:
			err = sr.readTypes(ctx)
		case sectionObjects:
			err = sr.readObjects(ctx)
		case sectionThreads:
			err = sr.readThreads()
		default:
			// Forward compatibility: an unknown section holds one value.
			if _, err = sr.readValue(); err == nil {
				sr.b.NoteSkippedSection()
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return sr.b.Build(), nil
}

type snapshotReader struct {
	d       *Decoder
	b       *heap.Builder
	opts    LoadOptions
	records int
}

func (r *snapshotReader) progress(n int) {
	r.records += n
	if r.opts.Progress != nil {
		r.opts.Progress(r.records)
	}
}

func (r *snapshotReader) expectTag(want byte, what string) error {
	got, err := r.d.readByte()
	if err != nil {
		return err
	}
	if got != want {
		return malformedf("%s: tag 0x%02x, want 0x%02x", what, got, want)
	}
	return nil
}

func (r *snapshotReader) readHeader() error {
	v, err := r.readValue()
	if err != nil {
		return err
	}
	meta, ok := v.(map[string]interface{})
	if !ok {
		return malformed("header section is not a string map")
	}
	h := heap.Header{Meta: meta}
	if s, ok := meta["producer_version"].(string); ok {
		h.ProducerVersion = s
	}
	if pid, ok := meta["pid"].(uint64); ok {
		h.PID = pid
	}
	if s, ok := meta["created_at"].(string); ok {
		h.CreatedAt = s
	}
	r.b.SetHeader(h)
	return nil
}

func (r *snapshotReader) readTypes(ctx context.Context) error {
	if err := r.expectTag(tagAddrMap, "types section"); err != nil {
		return err
	}
	count, err := r.d.ReadCount()
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		addr, err := r.d.ReadAddress()
		if err != nil {
			return err
		}
		if err := r.expectTag(tagShortStr, "type name"); err != nil {
			return err
		}
		name, err := r.d.ReadShortString()
		if err != nil {
			return err
		}
		r.b.AddType(addr, name)
		r.progress(1)
	}
	return nil
}

func (r *snapshotReader) readObjects(ctx context.Context) error {
	if err := r.expectTag(tagAddrMap, "objects section"); err != nil {
		return err
	}
	count, err := r.d.ReadCount()
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		addr, err := r.d.ReadAddress()
		if err != nil {
			return err
		}
		o, err := r.readObjectRecord(addr)
		if err != nil {
			return err
		}
		r.b.AddObject(o)
		r.progress(1)
	}
	return nil
}

func (r *snapshotReader) readObjectRecord(addr heap.Address) (*heap.Object, error) {
	if err := r.expectTag(tagStrMap, "object record"); err != nil {
		return nil, err
	}
	n, err := r.d.ReadCount()
	if err != nil {
		return nil, err
	}
	o := &heap.Object{Address: addr}
	for i := 0; i < n; i++ {
		key, err := r.d.ReadShortString()
		if err != nil {
			return nil, err
		}
		switch key {
		case "type":
			if err := r.expectTag(tagAddress, "object type"); err != nil {
				return nil, err
			}
			if o.Type, err = r.d.ReadAddress(); err != nil {
				return nil, err
			}
		case "size":
			if err := r.expectTag(tagUint, "object size"); err != nil {
				return nil, err
			}
			if o.Size, err = r.d.ReadUint(); err != nil {
				return nil, err
			}
		case "str":
			tag, err := r.d.readByte()
			if err != nil {
				return nil, err
			}
			switch tag {
			case tagNull:
			case tagShortStr:
				s, err := r.d.ReadShortString()
				if err != nil {
					return nil, err
				}
				o.StrRepr = &s
			default:
				return nil, malformedf("object str: tag 0x%02x", tag)
			}
		case "referents":
			if o.Referents, err = r.readAddressList("object referents"); err != nil {
				return nil, err
			}
		case "attributes":
			tag, err := r.d.readByte()
			if err != nil {
				return nil, err
			}
			switch tag {
			case tagNull:
			case tagStrMap:
				if o.Attributes, err = r.readAddressValuedMap("object attributes"); err != nil {
					return nil, err
				}
			default:
				return nil, malformedf("object attributes: tag 0x%02x", tag)
			}
		case "elements":
			tag, err := r.d.readByte()
			if err != nil {
				return nil, err
			}
			switch tag {
			case tagNull:
			case tagList:
				if o.Elements, err = r.readAddressListBody("object elements"); err != nil {
					return nil, err
				}
			default:
				return nil, malformedf("object elements: tag 0x%02x", tag)
			}
		default:
			// Unknown record keys are tolerated for forward compatibility.
			if _, err := r.readValue(); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

func (r *snapshotReader) readAddressList(what string) ([]heap.Address, error) {
	if err := r.expectTag(tagList, what); err != nil {
		return nil, err
	}
	return r.readAddressListBody(what)
}

func (r *snapshotReader) readAddressListBody(what string) ([]heap.Address, error) {
	count, err := r.d.ReadCount()
	if err != nil {
		return nil, err
	}
	result := make([]heap.Address, 0, count)
	for i := 0; i < count; i++ {
		if err := r.expectTag(tagAddress, what); err != nil {
			return nil, err
		}
		addr, err := r.d.ReadAddress()
		if err != nil {
			return nil, err
		}
		result = append(result, addr)
	}
	return result, nil
}

func (r *snapshotReader) readAddressValuedMap(what string) (map[string]heap.Address, error) {
	count, err := r.d.ReadCount()
	if err != nil {
		return nil, err
	}
	result := make(map[string]heap.Address, count)
	for i := 0; i < count; i++ {
		key, err := r.d.ReadShortString()
		if err != nil {
			return nil, err
		}
		if err := r.expectTag(tagAddress, what); err != nil {
			return nil, err
		}
		addr, err := r.d.ReadAddress()
		if err != nil {
			return nil, err
		}
		result[key] = addr
	}
	return result, nil
}

func (r *snapshotReader) readThreads() error {
	if err := r.expectTag(tagList, "threads section"); err != nil {
		return err
	}
	count, err := r.d.ReadCount()
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		t, err := r.readThreadRecord()
		if err != nil {
			return err
		}
		r.b.AddThread(t)
		r.progress(1)
	}
	return nil
}

func (r *snapshotReader) readThreadRecord() (*heap.Thread, error) {
	if err := r.expectTag(tagStrMap, "thread record"); err != nil {
		return nil, err
	}
	n, err := r.d.ReadCount()
	if err != nil {
		return nil, err
	}
	t := &heap.Thread{}
	for i := 0; i < n; i++ {
		key, err := r.d.ReadShortString()
		if err != nil {
			return nil, err
		}
		switch key {
		case "name":
			if err := r.expectTag(tagShortStr, "thread name"); err != nil {
				return nil, err
			}
			if t.Name, err = r.d.ReadShortString(); err != nil {
				return nil, err
			}
		case "alive":
			if err := r.expectTag(tagBool, "thread alive"); err != nil {
				return nil, err
			}
			if t.Alive, err = r.d.ReadBool(); err != nil {
				return nil, err
			}
		case "daemon":
			if err := r.expectTag(tagBool, "thread daemon"); err != nil {
				return nil, err
			}
			if t.Daemon, err = r.d.ReadBool(); err != nil {
				return nil, err
			}
		case "frames":
			if err := r.expectTag(tagList, "thread frames"); err != nil {
				return nil, err
			}
			frameCount, err := r.d.ReadCount()
			if err != nil {
				return nil, err
			}
			t.Frames = make([]heap.Frame, 0, frameCount)
			for j := 0; j < frameCount; j++ {
				f, err := r.readFrameRecord()
				if err != nil {
					return nil, err
				}
				t.Frames = append(t.Frames, f)
			}
		default:
			if _, err := r.readValue(); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

func (r *snapshotReader) readFrameRecord() (heap.Frame, error) {
	var f heap.Frame
	if err := r.expectTag(tagStrMap, "frame record"); err != nil {
		return f, err
	}
	n, err := r.d.ReadCount()
	if err != nil {
		return f, err
	}
	for i := 0; i < n; i++ {
		key, err := r.d.ReadShortString()
		if err != nil {
			return f, err
		}
		switch key {
		case "file":
			if err := r.expectTag(tagLongStr, "frame file"); err != nil {
				return f, err
			}
			if f.File, err = r.d.ReadLongString(); err != nil {
				return f, err
			}
		case "line":
			if err := r.expectTag(tagUint, "frame line"); err != nil {
				return f, err
			}
			if f.Line, err = r.d.ReadUint(); err != nil {
				return f, err
			}
		case "function":
			if err := r.expectTag(tagShortStr, "frame function"); err != nil {
				return f, err
			}
			if f.Function, err = r.d.ReadShortString(); err != nil {
				return f, err
			}
		case "locals":
			if err := r.expectTag(tagStrMap, "frame locals"); err != nil {
				return f, err
			}
			if f.Locals, err = r.readAddressValuedMap("frame locals"); err != nil {
				return f, err
			}
		default:
			if _, err := r.readValue(); err != nil {
				return f, err
			}
		}
	}
	return f, nil
}

// readValue decodes one tagged value generically. Used for the header
// section and for skipping unrecognized sections and record keys.
func (r *snapshotReader) readValue() (interface{}, error) {
	tag, err := r.d.readByte()
	if err != nil {
		return nil, err
	}
	return r.readValuePayload(tag)
}

func (r *snapshotReader) readValuePayload(tag byte) (interface{}, error) {
	switch tag {
	case tagNull:
		return nil, nil
	case tagBool:
		return r.d.ReadBool()
	case tagUint:
		return r.d.ReadUint()
	case tagInt:
		return r.d.ReadInt()
	case tagShortStr:
		return r.d.ReadShortString()
	case tagLongStr:
		return r.d.ReadLongString()
	case tagAddress:
		return r.d.ReadAddress()
	case tagList:
		count, err := r.d.ReadCount()
		if err != nil {
			return nil, err
		}
		result := make([]interface{}, 0, count)
		for i := 0; i < count; i++ {
			v, err := r.readValue()
			if err != nil {
				return nil, err
			}
			result = append(result, v)
		}
		return result, nil
	case tagStrMap:
		count, err := r.d.ReadCount()
		if err != nil {
			return nil, err
		}
		result := make(map[string]interface{}, count)
		for i := 0; i < count; i++ {
			key, err := r.d.ReadShortString()
			if err != nil {
				return nil, err
			}
			v, err := r.readValue()
			if err != nil {
				return nil, err
			}
			result[key] = v
		}
		return result, nil
	case tagAddrMap:
		count, err := r.d.ReadCount()
		if err != nil {
			return nil, err
		}
		result := make(map[heap.Address]interface{}, count)
		for i := 0; i < count; i++ {
			key, err := r.d.ReadAddress()
			if err != nil {
				return nil, err
			}
			v, err := r.readValue()
			if err != nil {
				return nil, err
			}
			result[key] = v
		}
		return result, nil
	default:
		return nil, malformedf("unknown value tag 0x%02x", tag)
	}
}
