package expr

import (
	"bytes"
	"encoding/binary"

	"github.com/wippyai/wasm-watermarker/wasm"
)

// AppendKey appends an encoding of nodes to dst. Like Compare, the key does
// not change when swappable operands are exchanged. Function indices in
// call, return_call and ref.func are replaced by funcName(idx) when it
// reports true, so a key taken before the function index space is permuted
// matches one taken after.
func AppendKey(dst []byte, nodes []*Node, funcName func(idx uint32) (string, bool)) []byte {
	return keyer{funcName: funcName}.list(dst, nodes)
}

type keyer struct {
	funcName func(uint32) (string, bool)
}

func (k keyer) list(dst []byte, nodes []*Node) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(nodes)))
	for _, n := range nodes {
		dst = k.node(dst, n)
	}
	return dst
}

func (k keyer) node(dst []byte, n *Node) []byte {
	dst = append(dst, byte(n.Kind))

	if n.Swappable() {
		op := n.Instr.Opcode
		lo, hi := k.node(nil, n.Operands[0]), k.node(nil, n.Operands[1])
		if bytes.Compare(lo, hi) > 0 {
			lo, hi, op = hi, lo, Mirror(op)
		}
		dst = append(dst, op)
		return append(append(dst, lo...), hi...)
	}

	dst = k.instr(dst, n.Instr)
	dst = k.list(dst, n.Operands)
	dst = k.list(dst, n.Body)
	if n.HasElse {
		dst = append(dst, 1)
		dst = k.list(dst, n.Else)
	} else {
		dst = append(dst, 0)
	}
	dst = binary.AppendUvarint(dst, uint64(len(n.Raw)))
	for _, in := range n.Raw {
		dst = k.instr(dst, in)
	}
	return dst
}

func (k keyer) instr(dst []byte, in wasm.Instruction) []byte {
	var idx uint32
	switch imm := in.Imm.(type) {
	case wasm.CallImm:
		idx = imm.FuncIdx
	case wasm.RefFuncImm:
		idx = imm.FuncIdx
	default:
		return wasm.AppendInstruction(dst, in)
	}
	if name, ok := k.funcName(idx); ok {
		dst = append(dst, in.Opcode, 1)
		dst = binary.AppendUvarint(dst, uint64(len(name)))
		return append(dst, name...)
	}
	dst = append(dst, in.Opcode, 0)
	return binary.AppendUvarint(dst, uint64(idx))
}
