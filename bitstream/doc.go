// Package bitstream provides the bit cursors used to move watermark payloads
// in and out of a module.
//
// CircularReader is the payload source used while embedding. It reads bits
// most-significant-bit first and wraps around when the buffer is exhausted,
// so a short payload is repeated to fill whatever capacity a module offers.
//
// Writer is the sink used while extracting. It appends bits MSB first into
// byte-aligned storage; a partially filled trailing byte is zero padded.
//
//	r, err := bitstream.NewCircularReader([]byte("N7AStlK2"))
//	if err != nil {
//	    return err
//	}
//	x := r.Read(4) // first four payload bits
//
//	var w bitstream.Writer
//	w.Write(x, 4)
//	w.Bytes() // {x << 4}
package bitstream
