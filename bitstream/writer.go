package bitstream

// Writer appends bits MSB first. The zero value is ready to use.
type Writer struct {
	data []byte
	pos  int
}

// WriteBit appends a single bit.
func (w *Writer) WriteBit(bit bool) {
	n := w.pos >> 3
	k := w.pos & 7

	if k == 0 {
		w.data = append(w.data, 0)
	}
	if bit {
		w.data[n] |= 1 << (7 - k)
	}
	w.pos++
}

// Write appends the low n bits of x (n <= 64), most significant first.
func (w *Writer) Write(x uint64, n int) {
	if n < 0 || n > 64 {
		panic("bitstream: write width out of range")
	}

	for i := 0; i < n; i++ {
		w.WriteBit((x>>(n-i-1))&1 != 0)
	}
}

// Position returns the number of bits written so far.
func (w *Writer) Position() int {
	return w.pos
}

// Bytes returns the written bits packed into bytes. The trailing partial
// byte, if any, is zero padded in its low bits. The slice aliases the
// writer's storage.
func (w *Writer) Bytes() []byte {
	return w.data
}

// String returns the written bytes as a string.
func (w *Writer) String() string {
	return string(w.data)
}
