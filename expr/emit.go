package expr

import "github.com/wippyai/wasm-watermarker/wasm"

// Emit flattens a sequence of trees back into instructions. For trees
// produced by Build, Emit returns the input sequence unchanged.
func Emit(nodes []*Node) []wasm.Instruction {
	var out []wasm.Instruction
	for _, n := range nodes {
		out = n.emit(out)
	}
	return out
}

// EncodeBody encodes a sequence of trees as function body code, appending
// the final end.
func EncodeBody(nodes []*Node) []byte {
	instrs := Emit(nodes)
	instrs = append(instrs, wasm.Instruction{Opcode: wasm.OpEnd})
	return wasm.EncodeInstructions(instrs)
}

func (n *Node) emit(out []wasm.Instruction) []wasm.Instruction {
	for _, op := range n.Operands {
		out = op.emit(out)
	}
	out = append(out, n.Instr)

	switch n.Kind {
	case KindBlock, KindLoop, KindIf:
		for _, c := range n.Body {
			out = c.emit(out)
		}
		if n.HasElse {
			out = append(out, wasm.Instruction{Opcode: wasm.OpElse})
			for _, c := range n.Else {
				out = c.emit(out)
			}
		}
		out = append(out, wasm.Instruction{Opcode: wasm.OpEnd})
	}
	return append(out, n.Raw...)
}
