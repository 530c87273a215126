// Package ordering hides bits in the order of a sequence.
//
// A sequence is split into chunks of at most MaxChunkSize elements. Each
// chunk of n distinct elements has n! arrangements, so it can carry
// Capacity(n) = floor(log2(n!)) bits. Embedding sorts the chunk and then
// arranges it according to the Lehmer code (factorial number system digits)
// of the next Capacity(n) payload bits. Extraction recovers the Lehmer code
// by locating each element in a sorted copy of the chunk.
//
// Two variants are provided. The Ordering variant requires every element of
// a chunk to be distinct under the comparator. The Reordering variant
// tolerates duplicates: a sorted chunk is split into a leading run holding
// one representative of each equivalence class followed by the remaining
// duplicates, and only the leading run is permuted.
//
// The comparator follows the slices.SortFunc convention and must define a
// strict weak order that does not depend on an element's position.
package ordering
