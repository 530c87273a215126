package binary

import (
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLEB128RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, 64, -64, -65, 127, 128, 624485, -123456, math.MaxInt32, math.MinInt32, math.MaxInt64, math.MinInt64} {
		w := NewWriter(nil)
		w.S64(v)
		d := NewDecoder(w.Bytes())
		assert.Equal(t, v, d.S64(), "s64 %d", v)
		require.NoError(t, d.Err())
		assert.Zero(t, d.Len())
	}

	for _, v := range []uint64{0, 1, 127, 128, 16383, 16384, math.MaxUint32, math.MaxUint64} {
		w := NewWriter(nil)
		w.U64(v)
		d := NewDecoder(w.Bytes())
		assert.Equal(t, v, d.U64(), "u64 %d", v)
		require.NoError(t, d.Err())
	}
}

func TestLEB128Known(t *testing.T) {
	w := NewWriter(nil)
	w.U32(624485)
	assert.Equal(t, []byte{0xE5, 0x8E, 0x26}, w.Bytes())

	w = NewWriter(nil)
	w.S32(-123456)
	assert.Equal(t, []byte{0xC0, 0xBB, 0x78}, w.Bytes())

	// Padded encodings decode to the same value.
	d := NewDecoder([]byte{0x80, 0x80, 0x80, 0x80, 0x00})
	assert.Equal(t, uint32(0), d.U32())
	require.NoError(t, d.Err())

	d = NewDecoder([]byte{0x40})
	assert.Equal(t, int64(-64), d.S33())
}

func TestLEB128Overflow(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		read func(*Decoder)
	}{
		{"u32 sixth byte", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, func(d *Decoder) { d.U32() }},
		{"u32 high bits", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x1F}, func(d *Decoder) { d.U32() }},
		{"s32 bad sign bits", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x4F}, func(d *Decoder) { d.S32() }},
		{"s32 positive high bits", []byte{0x80, 0x80, 0x80, 0x80, 0x70}, func(d *Decoder) { d.S32() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(tt.in)
			tt.read(d)
			assert.ErrorIs(t, d.Err(), ErrOverflow)
		})
	}

	d := NewDecoder([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x07})
	assert.Equal(t, int32(math.MaxInt32), d.S32())
	require.NoError(t, d.Err())

	d = NewDecoder([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F})
	assert.Equal(t, int32(-1), d.S32())
	require.NoError(t, d.Err())
}

func TestDecoderSticky(t *testing.T) {
	d := NewDecoder([]byte{0x02, 'h'})
	assert.Equal(t, "", d.Name())
	assert.ErrorIs(t, d.Err(), io.ErrUnexpectedEOF)

	assert.Zero(t, d.Byte())
	assert.Nil(t, d.Bytes(1))

	var oe *OffsetError
	require.ErrorAs(t, d.Err(), &oe)
	assert.Equal(t, 1, oe.Offset)
}

func TestDecoderSub(t *testing.T) {
	d := NewDecoder([]byte{0xAA, 0x01, 0x02, 0x03})
	d.Byte()
	sub := d.Sub(2)
	assert.Equal(t, 1, d.Len())

	sub.Bytes(2)
	sub.Byte()
	var oe *OffsetError
	require.ErrorAs(t, sub.Err(), &oe)
	assert.Equal(t, 3, oe.Offset)
	assert.NoError(t, d.Err())
}

func TestFloatsBitExact(t *testing.T) {
	nan := math.Float32frombits(0x7FC00001)
	w := NewWriter(nil)
	w.F32(nan)
	w.F64(math.Copysign(0, -1))
	w.Name("héllo")

	d := NewDecoder(w.Bytes())
	assert.Equal(t, uint32(0x7FC00001), math.Float32bits(d.F32()))
	assert.Equal(t, math.Float64bits(math.Copysign(0, -1)), math.Float64bits(d.F64()))
	assert.Equal(t, "héllo", d.Name())
	require.NoError(t, d.Err())
}

func TestInvalidName(t *testing.T) {
	d := NewDecoder([]byte{0x01, 0xFF})
	d.Name()
	assert.ErrorIs(t, d.Err(), ErrInvalidName)
}

func TestVec(t *testing.T) {
	d := NewDecoder([]byte{0x03, 0x01, 0x02, 0x03})
	got := Vec(d, (*Decoder).Byte)
	assert.Equal(t, []byte{1, 2, 3}, got)

	// A count larger than the input stops at the first error.
	d = NewDecoder([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F, 0x01})
	Vec(d, (*Decoder).U32)
	assert.ErrorIs(t, d.Err(), io.ErrUnexpectedEOF)
}
