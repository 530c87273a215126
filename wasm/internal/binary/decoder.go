// Package binary holds the low-level primitives of the WebAssembly binary
// format: LEB128 integers, little-endian floats and length-prefixed names.
package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

var (
	// ErrOverflow is returned when a LEB128 value does not fit its type.
	ErrOverflow = errors.New("leb128 overflow")
	// ErrInvalidName is returned for names that are not valid UTF-8.
	ErrInvalidName = errors.New("name is not valid utf-8")
)

// OffsetError records where in the input decoding failed.
type OffsetError struct {
	Err    error
	Offset int
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("offset %d: %v", e.Offset, e.Err)
}

func (e *OffsetError) Unwrap() error {
	return e.Err
}

// Decoder reads from a byte slice. The first failure is sticky: every later
// read returns a zero value and Err reports the original error.
type Decoder struct {
	err  error
	buf  []byte
	pos  int
	base int
}

// NewDecoder decodes buf. Offsets in errors are relative to buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// NewDecoderAt decodes buf, which starts at offset of some larger input.
func NewDecoderAt(buf []byte, offset int) *Decoder {
	return &Decoder{buf: buf, base: offset}
}

// Sub returns a decoder over the next n bytes and advances past them.
// Offsets reported by the sub decoder stay relative to the outer input.
func (d *Decoder) Sub(n int) *Decoder {
	at := d.Offset()
	b := d.Bytes(n)
	return &Decoder{buf: b, base: at, err: d.err}
}

// Err returns the first error encountered, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Fail records err at the current offset unless an error is already set.
// Errors that already carry an offset are kept as they are.
func (d *Decoder) Fail(err error) {
	if d.err != nil {
		return
	}
	var oe *OffsetError
	if errors.As(err, &oe) {
		d.err = err
		return
	}
	d.err = &OffsetError{Offset: d.Offset(), Err: err}
}

// Pos returns the number of bytes consumed.
func (d *Decoder) Pos() int {
	return d.pos
}

// Offset returns the position in the outermost input.
func (d *Decoder) Offset() int {
	return d.base + d.pos
}

// Since returns the bytes consumed since position start.
func (d *Decoder) Since(start int) []byte {
	return d.buf[start:d.pos:d.pos]
}

// Len returns the number of unread bytes.
func (d *Decoder) Len() int {
	return len(d.buf) - d.pos
}

// Byte reads one byte.
func (d *Decoder) Byte() byte {
	if d.err != nil {
		return 0
	}
	if d.pos >= len(d.buf) {
		d.Fail(io.ErrUnexpectedEOF)
		return 0
	}
	b := d.buf[d.pos]
	d.pos++
	return b
}

// Bytes reads exactly n bytes. The result aliases the input.
func (d *Decoder) Bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.Len() {
		d.Fail(io.ErrUnexpectedEOF)
		return nil
	}
	b := d.buf[d.pos : d.pos+n : d.pos+n]
	d.pos += n
	return b
}

// Rest reads everything that is left.
func (d *Decoder) Rest() []byte {
	return d.Bytes(d.Len())
}

// U32 reads an unsigned LEB128 uint32.
func (d *Decoder) U32() uint32 {
	return uint32(d.uleb(32))
}

// U64 reads an unsigned LEB128 uint64.
func (d *Decoder) U64() uint64 {
	return d.uleb(64)
}

// S32 reads a signed LEB128 int32.
func (d *Decoder) S32() int32 {
	return int32(d.sleb(32))
}

// S33 reads the signed 33-bit LEB128 used by block and heap types.
func (d *Decoder) S33() int64 {
	return d.sleb(33)
}

// S64 reads a signed LEB128 int64.
func (d *Decoder) S64() int64 {
	return d.sleb(64)
}

// U32LE reads a fixed 4-byte little-endian uint32.
func (d *Decoder) U32LE() uint32 {
	b := d.Bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// F32 reads an IEEE 754 single, bit-exact.
func (d *Decoder) F32() float32 {
	return math.Float32frombits(d.U32LE())
}

// F64 reads an IEEE 754 double, bit-exact.
func (d *Decoder) F64() float64 {
	b := d.Bytes(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// Name reads a length-prefixed UTF-8 string.
func (d *Decoder) Name() string {
	n := d.U32()
	b := d.Bytes(int(n))
	if d.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		d.Fail(ErrInvalidName)
		return ""
	}
	return string(b)
}

func (d *Decoder) uleb(bits uint) uint64 {
	var v uint64
	for shift := uint(0); ; shift += 7 {
		b := d.Byte()
		if d.err != nil {
			return 0
		}
		// The last byte may only carry the bits that remain.
		if rem := bits - shift; rem < 7 && (b&0x80 != 0 || b>>rem != 0) {
			d.Fail(ErrOverflow)
			return 0
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v
		}
	}
}

func (d *Decoder) sleb(bits uint) int64 {
	var v int64
	var shift uint
	for {
		b := d.Byte()
		if d.err != nil {
			return 0
		}
		if rem := bits - shift; rem < 7 {
			// Unused high bits of the last byte must repeat the sign bit.
			unused := byte(0x7f) &^ (1<<rem - 1)
			sign := b&(1<<(rem-1)) != 0
			if b&0x80 != 0 || (sign && b&unused != unused) || (!sign && b&unused != 0) {
				d.Fail(ErrOverflow)
				return 0
			}
		}
		v |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= -1 << shift
			}
			return v
		}
	}
}

// Vec reads a count-prefixed vector, calling read once per element. Reading
// stops at the first error.
func Vec[T any](d *Decoder, read func(*Decoder) T) []T {
	n := d.U32()
	if d.err != nil {
		return nil
	}
	// Every element takes at least one byte.
	out := make([]T, 0, min(int(n), d.Len()))
	for i := uint32(0); i < n && d.err == nil; i++ {
		out = append(out, read(d))
	}
	return out
}
