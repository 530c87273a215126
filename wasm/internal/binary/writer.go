package binary

import (
	"encoding/binary"
	"math"
)

// Writer appends binary-format values to a byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer that appends to buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// U32 writes an unsigned LEB128 uint32.
func (w *Writer) U32(v uint32) {
	w.U64(uint64(v))
}

// U64 writes an unsigned LEB128 uint64.
func (w *Writer) U64(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// S32 writes a signed LEB128 int32.
func (w *Writer) S32(v int32) {
	w.S64(int64(v))
}

// S64 writes a signed LEB128 int64. S33 values use it too.
func (w *Writer) S64(v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.buf = append(w.buf, b)
			return
		}
		w.buf = append(w.buf, b|0x80)
	}
}

// U32LE writes a fixed 4-byte little-endian uint32.
func (w *Writer) U32LE(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) F32(v float32) {
	w.U32LE(math.Float32bits(v))
}

func (w *Writer) F64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// Name writes a length-prefixed string.
func (w *Writer) Name(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Section writes a section or subsection: its ID, payload size and payload.
func (w *Writer) Section(id byte, payload []byte) {
	w.Byte(id)
	w.U32(uint32(len(payload)))
	w.Raw(payload)
}
