// Package heapfile reads and writes the PyHeap snapshot container: a
// gzip-compressed stream of a length-prefixed typed value format shared
// between the dumper and the loader. The same integer and string encodings
// back the retained-heap cache file.
package heapfile

import (
	"bufio"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/ivanyu/pyheap/heap"
)

// Magic opens every snapshot file, as an 8-byte big-endian value.
const Magic uint64 = 123_000_321

// MaxVersion is the newest container version this implementation reads.
const MaxVersion = 1

// maxUintBytes bounds the magnitude of variable-length integers.
const maxUintBytes = 16

// Value tags of the typed wire format.
const (
	tagNull     byte = 0x00
	tagBool     byte = 0x01
	tagUint     byte = 0x02
	tagInt      byte = 0x03
	tagShortStr byte = 0x04
	tagLongStr  byte = 0x05
	tagAddress  byte = 0x06
	tagList     byte = 0x07
	tagStrMap   byte = 0x08
	tagAddrMap  byte = 0x09
)

// Top-level section tags.
const (
	sectionHeader  byte = 0x21
	sectionTypes   byte = 0x22
	sectionObjects byte = 0x23
	sectionThreads byte = 0x24
)

// Decoder reads the untagged wire primitives from a byte stream. Tag
// dispatch is layered on top by the snapshot reader; the retained-heap cache
// uses the primitives directly.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return 0, malformed("truncated input")
	}
	return b, err
}

func (d *Decoder) readFull(buf []byte) error {
	_, err := io.ReadFull(d.r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return malformed("truncated input")
	}
	return err
}

// ReadRawUint64 reads a fixed 8-byte big-endian unsigned integer.
func (d *Decoder) ReadRawUint64() (uint64, error) {
	var buf [8]byte
	if err := d.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// ReadAddress reads a fixed 8-byte big-endian address.
func (d *Decoder) ReadAddress() (heap.Address, error) {
	v, err := d.ReadRawUint64()
	return heap.Address(v), err
}

// ReadUint reads a variable-length unsigned integer: a 1-byte magnitude
// length followed by that many big-endian magnitude bytes.
func (d *Decoder) ReadUint() (uint64, error) {
	n, err := d.readByte()
	if err != nil {
		return 0, err
	}
	if int(n) > maxUintBytes {
		return 0, malformedf("unsigned integer magnitude of %d bytes", n)
	}
	var v uint64
	for i := 0; i < int(n); i++ {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if v>>56 != 0 {
			return 0, malformed("unsigned integer overflows 64 bits")
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// ReadInt reads a variable-length signed integer in minimal two's-complement
// big-endian form.
func (d *Decoder) ReadInt() (int64, error) {
	n, err := d.readByte()
	if err != nil {
		return 0, err
	}
	if int(n) > maxUintBytes {
		return 0, malformedf("signed integer magnitude of %d bytes", n)
	}
	if n == 0 {
		return 0, nil
	}
	if n > 8 {
		return 0, malformed("signed integer overflows 64 bits")
	}
	buf := make([]byte, n)
	if err := d.readFull(buf); err != nil {
		return 0, err
	}
	v := int64(int8(buf[0])) // sign-extend the leading byte
	for _, b := range buf[1:] {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// ReadBool reads a 1-byte boolean; any payload other than 0 or 1 is
// malformed.
func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.readByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, malformedf("boolean payload 0x%02x", b)
	}
}

func (d *Decoder) readString(lengthBytes int) (string, error) {
	buf := make([]byte, lengthBytes)
	if err := d.readFull(buf); err != nil {
		return "", err
	}
	var length uint32
	for _, b := range buf {
		length = length<<8 | uint32(b)
	}
	if length >= 1<<31 {
		return "", malformed("negative string length")
	}
	data := make([]byte, length)
	if err := d.readFull(data); err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", malformed("string is not valid UTF-8")
	}
	return string(data), nil
}

// ReadShortString reads a 2-byte-length-prefixed UTF-8 string.
func (d *Decoder) ReadShortString() (string, error) {
	return d.readString(2)
}

// ReadLongString reads a 4-byte-length-prefixed UTF-8 string.
func (d *Decoder) ReadLongString() (string, error) {
	return d.readString(4)
}

// ReadCount reads a 4-byte big-endian collection count.
func (d *Decoder) ReadCount() (int, error) {
	var buf [4]byte
	if err := d.readFull(buf[:]); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(buf[:])
	if v >= 1<<31 {
		return 0, malformed("negative collection length")
	}
	return int(v), nil
}

// ExpectEOF fails unless the stream is exhausted.
func (d *Decoder) ExpectEOF() error {
	if _, err := d.r.ReadByte(); err != io.EOF {
		return malformed("trailing bytes after final section")
	}
	return nil
}

// Encoder writes the untagged wire primitives. The snapshot writer layers
// value tags on top; the retained-heap cache uses the primitives directly.
type Encoder struct {
	w *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Flush flushes buffered output to the underlying writer.
func (e *Encoder) Flush() error { return e.w.Flush() }

func (e *Encoder) writeByte(b byte) error { return e.w.WriteByte(b) }

// WriteRawUint64 writes a fixed 8-byte big-endian unsigned integer.
func (e *Encoder) WriteRawUint64(v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := e.w.Write(buf[:])
	return err
}

// WriteAddress writes a fixed 8-byte big-endian address.
func (e *Encoder) WriteAddress(a heap.Address) error {
	return e.WriteRawUint64(uint64(a))
}

// WriteUint writes a variable-length unsigned integer with a minimal
// magnitude.
func (e *Encoder) WriteUint(v uint64) error {
	var buf [8]byte
	n := 0
	for x := v; x > 0; x >>= 8 {
		n++
	}
	for i := 0; i < n; i++ {
		buf[n-1-i] = byte(v >> (8 * i))
	}
	if err := e.writeByte(byte(n)); err != nil {
		return err
	}
	_, err := e.w.Write(buf[:n])
	return err
}

// WriteInt writes a variable-length signed integer in minimal
// two's-complement form.
func (e *Encoder) WriteInt(v int64) error {
	if v == 0 {
		return e.writeByte(0)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	// Trim redundant leading bytes while the sign bit stays intact.
	start := 0
	for start < 7 {
		lead := buf[start]
		next := buf[start+1]
		if (lead == 0x00 && next&0x80 == 0) || (lead == 0xFF && next&0x80 != 0) {
			start++
			continue
		}
		break
	}
	n := 8 - start
	if err := e.writeByte(byte(n)); err != nil {
		return err
	}
	_, err := e.w.Write(buf[start:])
	return err
}

// WriteBool writes a 1-byte boolean.
func (e *Encoder) WriteBool(v bool) error {
	if v {
		return e.writeByte(1)
	}
	return e.writeByte(0)
}

// WriteShortString writes a 2-byte-length-prefixed UTF-8 string.
func (e *Encoder) WriteShortString(s string) error {
	if len(s) > 0xFFFF {
		return malformedf("short string of %d bytes", len(s))
	}
	if err := e.writeByte(byte(len(s) >> 8)); err != nil {
		return err
	}
	if err := e.writeByte(byte(len(s))); err != nil {
		return err
	}
	_, err := e.w.WriteString(s)
	return err
}

// WriteLongString writes a 4-byte-length-prefixed UTF-8 string.
func (e *Encoder) WriteLongString(s string) error {
	if err := e.WriteCount(len(s)); err != nil {
		return err
	}
	_, err := e.w.WriteString(s)
	return err
}

// WriteCount writes a 4-byte big-endian collection count.
func (e *Encoder) WriteCount(n int) error {
	if n < 0 || n >= 1<<31 {
		return malformedf("collection length %d", n)
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	_, err := e.w.Write(buf[:])
	return err
}
