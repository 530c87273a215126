package bitstream

import (
	"github.com/wippyai/wasm-watermarker/errors"
)

// CircularReader reads bits MSB first from a fixed buffer, wrapping around at
// the end. It is not safe for concurrent use.
type CircularReader struct {
	data []byte
	pos  int
}

// NewCircularReader creates a reader over a copy of data.
// An empty buffer has no bits to repeat and is rejected.
func NewCircularReader(data []byte) (*CircularReader, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.PhaseEmbed, errors.KindInvalidInput).
			Detail("watermark payload must not be empty").
			Build()
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &CircularReader{data: buf}, nil
}

// NewCircularReaderString creates a reader over the bytes of s.
func NewCircularReaderString(s string) (*CircularReader, error) {
	return NewCircularReader([]byte(s))
}

// ReadBit returns the next bit and advances the cursor modulo SizeBits.
func (r *CircularReader) ReadBit() bool {
	n := r.pos >> 3
	k := r.pos & 7

	bit := (r.data[n] >> (7 - k)) & 1

	r.pos++
	if r.pos == r.SizeBits() {
		r.pos = 0
	}

	return bit != 0
}

// Read composes the next n bits (n <= 64) into an unsigned integer, MSB first.
func (r *CircularReader) Read(n int) uint64 {
	if n < 0 || n > 64 {
		panic("bitstream: read width out of range")
	}

	var x uint64
	for i := 0; i < n; i++ {
		x <<= 1
		if r.ReadBit() {
			x |= 1
		}
	}
	return x
}

// Position returns the current bit offset into the buffer.
func (r *CircularReader) Position() int {
	return r.pos
}

// SizeBytes returns the payload length in bytes.
func (r *CircularReader) SizeBytes() int {
	return len(r.data)
}

// SizeBits returns the payload length in bits.
func (r *CircularReader) SizeBits() int {
	return len(r.data) * 8
}
