package ordering

import (
	"cmp"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-watermarker/bitstream"
	"github.com/wippyai/wasm-watermarker/errors"
)

func embed(t *testing.T, input, watermark string, chunkSize int, embedFn func(*bitstream.CircularReader, int, []byte, func(a, b byte) int) (int, error)) (string, int) {
	t.Helper()

	r, err := bitstream.NewCircularReaderString(watermark)
	require.NoError(t, err)

	s := []byte(input)
	bits, err := embedFn(r, chunkSize, s, cmp.Compare[byte])
	require.NoError(t, err)
	return string(s), bits
}

func TestCapacity(t *testing.T) {
	want := []int{0, 0, 1, 2, 4, 6, 9, 12, 15, 18, 21, 25, 28, 32, 36, 40, 44, 48, 52, 56, 61}
	for n, bits := range want {
		assert.Equal(t, bits, Capacity(n), "n=%d", n)
	}

	assert.Panics(t, func() { Capacity(-1) })
	assert.Panics(t, func() { Capacity(21) })
}

func TestTotalCapacity(t *testing.T) {
	assert.Equal(t, 152, TotalCapacity(58, 15))
	assert.Equal(t, 4, TotalCapacity(4, 20))
	assert.Equal(t, 2, TotalCapacity(5, 2))
	assert.Equal(t, 0, TotalCapacity(0, 20))
	assert.Equal(t, 0, TotalCapacity(10, 1))
}

func TestEmbedByOrdering(t *testing.T) {
	tests := []struct {
		input     string
		watermark string
		want      string
	}{
		{"1234", "\x00", "1234"},
		{"1234", "\x10", "2134"},
		{"1234", "\x20", "3214"},
		{"1234", "\x30", "4231"},
		{"1234", "\x40", "1324"},
		{"1234", "\x50", "2314"},
		{"4321", "\x00", "1234"},
		{"2314", "\x50", "2314"},
		{"2314", "\x00", "1234"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%x", tt.input, tt.watermark), func(t *testing.T) {
			got, bits := embed(t, tt.input, tt.watermark, 20, EmbedByOrdering[byte])
			assert.Equal(t, 4, bits)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractByOrdering(t *testing.T) {
	tests := []struct {
		input string
		want  byte
	}{
		{"1234", 0x00},
		{"2134", 0x10},
		{"3214", 0x20},
		{"4231", 0x30},
		{"1324", 0x40},
		{"2314", 0x50},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var w bitstream.Writer
			s := []byte(tt.input)

			bits, err := ExtractByOrdering(&w, 20, s, cmp.Compare[byte])
			require.NoError(t, err)
			assert.Equal(t, 4, bits)
			assert.Equal(t, []byte{tt.want}, w.Bytes())
			assert.Equal(t, tt.input, string(s), "extraction must not reorder")
		})
	}
}

func TestOrdering_Bijection(t *testing.T) {
	// Every 4-bit value maps to a distinct arrangement of 4 elements.
	seen := make(map[string]byte)
	for v := 0; v < 16; v++ {
		got, _ := embed(t, "abcd", string([]byte{byte(v << 4)}), 20, EmbedByOrdering[byte])
		prev, dup := seen[got]
		require.False(t, dup, "values %x and %x produced %s", prev, v, got)
		seen[got] = byte(v)
	}
}

func TestOrdering_RoundTrip(t *testing.T) {
	const input = "1234567890ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuv"

	for chunkSize := MinChunkSize; chunkSize <= MaxChunkSize; chunkSize++ {
		t.Run(fmt.Sprintf("chunk=%d", chunkSize), func(t *testing.T) {
			embedded, bits := embed(t, input, "Test", chunkSize, EmbedByOrdering[byte])
			assert.Equal(t, TotalCapacity(len(input), chunkSize), bits)

			var w bitstream.Writer
			n, err := ExtractByOrdering(&w, chunkSize, []byte(embedded), cmp.Compare[byte])
			require.NoError(t, err)
			require.Equal(t, bits, n)

			var want bitstream.Writer
			r, err := bitstream.NewCircularReaderString("Test")
			require.NoError(t, err)
			for i := 0; i < bits; i++ {
				want.WriteBit(r.ReadBit())
			}
			assert.Equal(t, want.Bytes(), w.Bytes())
		})
	}
}

func TestOrdering_ShortChunks(t *testing.T) {
	// A trailing chunk of one element carries nothing.
	got, bits := embed(t, "cba", "\xff", 2, EmbedByOrdering[byte])
	assert.Equal(t, 1, bits)
	assert.Equal(t, "cba", got)

	got, bits = embed(t, "", "\xff", 2, EmbedByOrdering[byte])
	assert.Equal(t, 0, bits)
	assert.Equal(t, "", got)
}

func TestOrdering_ChunkSizeOutOfRange(t *testing.T) {
	r, err := bitstream.NewCircularReaderString("x")
	require.NoError(t, err)

	for _, size := range []int{-1, 0, 1, 21, 100} {
		s := []byte("4321")
		_, err := EmbedByOrdering(r, size, s, cmp.Compare[byte])
		require.Error(t, err, "size %d", size)
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEmbed, Kind: errors.KindInvalidInput})
		assert.Equal(t, "4321", string(s), "no mutation on error")

		var w bitstream.Writer
		_, err = ExtractByOrdering(&w, size, s, cmp.Compare[byte])
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseExtract, Kind: errors.KindInvalidInput})

		_, err = EmbedByReordering(r, size, s, cmp.Compare[byte])
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEmbed, Kind: errors.KindInvalidInput})

		_, err = ExtractByReordering(&w, size, s, cmp.Compare[byte])
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseExtract, Kind: errors.KindInvalidInput})
		assert.Equal(t, 0, w.Position())
	}
}

func TestOrdering_RejectsDuplicates(t *testing.T) {
	r, err := bitstream.NewCircularReaderString("x")
	require.NoError(t, err)

	s := []byte("4321" + "5565")
	_, err = EmbedByOrdering(r, 4, s, cmp.Compare[byte])
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEmbed, Kind: errors.KindInvalidInput})
	assert.Equal(t, "43215565", string(s), "first chunk must not be touched either")
	assert.Equal(t, 0, r.Position())

	// Equal elements in different chunks are fine.
	_, err = EmbedByOrdering(r, 2, []byte("1221"), cmp.Compare[byte])
	require.NoError(t, err)
}

func TestEmbedByReordering(t *testing.T) {
	tests := []struct {
		input     string
		watermark string
		bits      int
		want      string
	}{
		{"1223", "\x00", 2, "1232"},
		{"1223", "\x40", 2, "2132"},
		{"1234", "\x50", 4, "2314"},
		{"1111", "\xff", 0, "1111"},
		{"2121", "\x80", 1, "2112"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%x", tt.input, tt.watermark), func(t *testing.T) {
			got, bits := embed(t, tt.input, tt.watermark, 20, EmbedByReordering[byte])
			assert.Equal(t, tt.bits, bits)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReordering_RoundTrip(t *testing.T) {
	const input = "1234567890ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuv"

	embedded, bits := embed(t, input, "Test", 15, EmbedByReordering[byte])
	require.Equal(t, 40*3+32, bits)

	var w bitstream.Writer
	n, err := ExtractByReordering(&w, 15, []byte(embedded), cmp.Compare[byte])
	require.NoError(t, err)
	assert.Equal(t, bits, n)
	assert.Equal(t, "TestTestTestTestTes", w.String())
}

func TestReordering_RoundTripWithDuplicates(t *testing.T) {
	const input = "aabbccddeeffgghh"

	embedded, bits := embed(t, input, "\xA5\x3C", 16, EmbedByReordering[byte])
	require.Equal(t, Capacity(8), bits)

	var w bitstream.Writer
	n, err := ExtractByReordering(&w, 16, []byte(embedded), cmp.Compare[byte])
	require.NoError(t, err)
	assert.Equal(t, bits, n)
	assert.Equal(t, []byte{0xA5, 0x3C}, w.Bytes())
}

func TestSplitDuplicates(t *testing.T) {
	s := []byte("1122233")
	n := splitDuplicates(s, cmp.Compare[byte])
	assert.Equal(t, 3, n)
	assert.Equal(t, "1231223", string(s))

	assert.Equal(t, 0, splitDuplicates([]byte{}, cmp.Compare[byte]))
}
