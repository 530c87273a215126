package ordering

import (
	"slices"

	"github.com/wippyai/wasm-watermarker/bitstream"
	"github.com/wippyai/wasm-watermarker/errors"
)

const (
	MinChunkSize = 2
	MaxChunkSize = 20
)

// floor(log2(n!)) for n in [0, MaxChunkSize]
var capacityTable = [MaxChunkSize + 1]int{
	0, 0, 1, 2, 4, 6, 9, 12, 15, 18, 21, 25, 28, 32, 36, 40, 44, 48, 52, 56, 61,
}

// Capacity returns the number of bits a chunk of n distinct elements carries.
// It panics if n is outside [0, MaxChunkSize].
func Capacity(n int) int {
	if n < 0 || n > MaxChunkSize {
		panic("ordering: chunk length out of range")
	}
	return capacityTable[n]
}

// TotalCapacity returns the bits carried by a sequence of count distinct
// elements split into chunks of chunkSize.
func TotalCapacity(count, chunkSize int) int {
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return 0
	}
	bits := 0
	for i := 0; i < count; i += chunkSize {
		bits += Capacity(min(chunkSize, count-i))
	}
	return bits
}

// EmbedByOrdering rearranges s chunk by chunk so that each chunk encodes the
// next Capacity(n) bits read from r. It returns the number of bits consumed.
// Elements within a chunk must be pairwise distinct under cmp.
func EmbedByOrdering[T any](r *bitstream.CircularReader, chunkSize int, s []T, cmp func(a, b T) int) (int, error) {
	if err := checkChunkSize(errors.PhaseEmbed, chunkSize); err != nil {
		return 0, err
	}
	if err := checkDistinct(errors.PhaseEmbed, chunkSize, s, cmp); err != nil {
		return 0, err
	}

	bits := 0
	forEachChunk(chunkSize, len(s), func(lo, hi int) {
		chunk := s[lo:hi]
		slices.SortFunc(chunk, cmp)
		bits += embedChunk(r, chunk)
	})
	return bits, nil
}

// ExtractByOrdering reads back the bits encoded by EmbedByOrdering and
// appends them to w. s is not modified. It returns the number of bits written.
func ExtractByOrdering[T any](w *bitstream.Writer, chunkSize int, s []T, cmp func(a, b T) int) (int, error) {
	if err := checkChunkSize(errors.PhaseExtract, chunkSize); err != nil {
		return 0, err
	}
	if err := checkDistinct(errors.PhaseExtract, chunkSize, s, cmp); err != nil {
		return 0, err
	}

	bits := 0
	forEachChunk(chunkSize, len(s), func(lo, hi int) {
		chunk := s[lo:hi]
		sorted := slices.Clone(chunk)
		slices.SortFunc(sorted, cmp)
		bits += extractChunk(w, chunk, sorted, cmp)
	})
	return bits, nil
}

// EmbedByReordering is EmbedByOrdering for sequences that may hold equal
// elements. Each sorted chunk is split into its distinct elements followed by
// the duplicates; only the distinct elements are permuted.
func EmbedByReordering[T any](r *bitstream.CircularReader, chunkSize int, s []T, cmp func(a, b T) int) (int, error) {
	if err := checkChunkSize(errors.PhaseEmbed, chunkSize); err != nil {
		return 0, err
	}

	bits := 0
	forEachChunk(chunkSize, len(s), func(lo, hi int) {
		chunk := s[lo:hi]
		slices.SortStableFunc(chunk, cmp)
		n := splitDuplicates(chunk, cmp)
		bits += embedChunk(r, chunk[:n])
	})
	return bits, nil
}

// ExtractByReordering reads back the bits encoded by EmbedByReordering.
func ExtractByReordering[T any](w *bitstream.Writer, chunkSize int, s []T, cmp func(a, b T) int) (int, error) {
	if err := checkChunkSize(errors.PhaseExtract, chunkSize); err != nil {
		return 0, err
	}

	bits := 0
	forEachChunk(chunkSize, len(s), func(lo, hi int) {
		chunk := s[lo:hi]
		sorted := slices.Clone(chunk)
		slices.SortStableFunc(sorted, cmp)
		n := splitDuplicates(sorted, cmp)
		bits += extractChunk(w, chunk[:n], sorted[:n], cmp)
	})
	return bits, nil
}

// embedChunk arranges a sorted chunk by the Lehmer code of the next bits.
func embedChunk[T any](r *bitstream.CircularReader, chunk []T) int {
	n := len(chunk)
	width := Capacity(n)

	x := r.Read(width)
	for i := 0; i < n; i++ {
		k := uint64(n - i)
		d := int(x % k)
		x /= k
		chunk[i], chunk[i+d] = chunk[i+d], chunk[i]
	}
	return width
}

// extractChunk ranks chunk against sorted, which is consumed as scratch.
func extractChunk[T any](w *bitstream.Writer, chunk, sorted []T, cmp func(a, b T) int) int {
	n := len(chunk)
	width := Capacity(n)

	var x, base uint64 = 0, 1
	for i := 0; i < n; i++ {
		pos := 0
		for j := i; j < n; j++ {
			if cmp(sorted[j], chunk[i]) == 0 {
				pos = j - i
				break
			}
		}

		x += uint64(pos) * base
		base *= uint64(n - i)
		sorted[i], sorted[i+pos] = sorted[i+pos], sorted[i]
	}

	w.Write(x, width)
	return width
}

// splitDuplicates moves, in a sorted slice, every element equal to the last
// kept distinct element behind the distinct ones, preserving relative order
// in both groups. It returns the number of distinct elements.
func splitDuplicates[T any](s []T, cmp func(a, b T) int) int {
	if len(s) == 0 {
		return 0
	}

	distinct := make([]T, 0, len(s))
	var dups []T

	distinct = append(distinct, s[0])
	for _, x := range s[1:] {
		if cmp(distinct[len(distinct)-1], x) == 0 {
			dups = append(dups, x)
		} else {
			distinct = append(distinct, x)
		}
	}

	n := copy(s, distinct)
	copy(s[n:], dups)
	return n
}

func forEachChunk(chunkSize, count int, fn func(lo, hi int)) {
	for i := 0; i < count; i += chunkSize {
		fn(i, min(i+chunkSize, count))
	}
}

func checkChunkSize(phase errors.Phase, chunkSize int) error {
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return errors.New(phase, errors.KindInvalidInput).
			Value(chunkSize).
			Detail("chunk size %d out of range [%d, %d]", chunkSize, MinChunkSize, MaxChunkSize).
			Build()
	}
	return nil
}

func checkDistinct[T any](phase errors.Phase, chunkSize int, s []T, cmp func(a, b T) int) error {
	var err error
	forEachChunk(chunkSize, len(s), func(lo, hi int) {
		if err != nil {
			return
		}
		sorted := slices.Clone(s[lo:hi])
		slices.SortFunc(sorted, cmp)
		for i := 1; i < len(sorted); i++ {
			if cmp(sorted[i-1], sorted[i]) == 0 {
				err = errors.New(phase, errors.KindInvalidInput).
					Value(lo+i).
					Detail("chunk at %d holds elements that compare equal", lo).
					Build()
				return
			}
		}
	})
	return err
}
