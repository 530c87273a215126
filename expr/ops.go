package expr

import (
	"github.com/wippyai/wasm-watermarker/wasm"
)

// mirrors maps every swappable operator to the operator that computes the
// same value with its operands exchanged.
var mirrors = map[byte]byte{
	wasm.OpI32Add: wasm.OpI32Add,
	wasm.OpI32Mul: wasm.OpI32Mul,
	wasm.OpI32And: wasm.OpI32And,
	wasm.OpI32Or:  wasm.OpI32Or,
	wasm.OpI32Xor: wasm.OpI32Xor,
	wasm.OpI32Eq:  wasm.OpI32Eq,
	wasm.OpI32Ne:  wasm.OpI32Ne,

	wasm.OpI64Add: wasm.OpI64Add,
	wasm.OpI64Mul: wasm.OpI64Mul,
	wasm.OpI64And: wasm.OpI64And,
	wasm.OpI64Or:  wasm.OpI64Or,
	wasm.OpI64Xor: wasm.OpI64Xor,
	wasm.OpI64Eq:  wasm.OpI64Eq,
	wasm.OpI64Ne:  wasm.OpI64Ne,

	wasm.OpF32Add: wasm.OpF32Add,
	wasm.OpF32Mul: wasm.OpF32Mul,
	wasm.OpF32Min: wasm.OpF32Min,
	wasm.OpF32Max: wasm.OpF32Max,
	wasm.OpF32Eq:  wasm.OpF32Eq,
	wasm.OpF32Ne:  wasm.OpF32Ne,

	wasm.OpF64Add: wasm.OpF64Add,
	wasm.OpF64Mul: wasm.OpF64Mul,
	wasm.OpF64Min: wasm.OpF64Min,
	wasm.OpF64Max: wasm.OpF64Max,
	wasm.OpF64Eq:  wasm.OpF64Eq,
	wasm.OpF64Ne:  wasm.OpF64Ne,

	wasm.OpI32LtS: wasm.OpI32GtS, wasm.OpI32GtS: wasm.OpI32LtS,
	wasm.OpI32LtU: wasm.OpI32GtU, wasm.OpI32GtU: wasm.OpI32LtU,
	wasm.OpI32LeS: wasm.OpI32GeS, wasm.OpI32GeS: wasm.OpI32LeS,
	wasm.OpI32LeU: wasm.OpI32GeU, wasm.OpI32GeU: wasm.OpI32LeU,

	wasm.OpI64LtS: wasm.OpI64GtS, wasm.OpI64GtS: wasm.OpI64LtS,
	wasm.OpI64LtU: wasm.OpI64GtU, wasm.OpI64GtU: wasm.OpI64LtU,
	wasm.OpI64LeS: wasm.OpI64GeS, wasm.OpI64GeS: wasm.OpI64LeS,
	wasm.OpI64LeU: wasm.OpI64GeU, wasm.OpI64GeU: wasm.OpI64LeU,

	wasm.OpF32Lt: wasm.OpF32Gt, wasm.OpF32Gt: wasm.OpF32Lt,
	wasm.OpF32Le: wasm.OpF32Ge, wasm.OpF32Ge: wasm.OpF32Le,

	wasm.OpF64Lt: wasm.OpF64Gt, wasm.OpF64Gt: wasm.OpF64Lt,
	wasm.OpF64Le: wasm.OpF64Ge, wasm.OpF64Ge: wasm.OpF64Le,
}

// IsSwappable reports whether the operands of binary operator op can be
// exchanged, possibly together with replacing op by Mirror(op).
func IsSwappable(op byte) bool {
	_, ok := mirrors[op]
	return ok
}

// IsCommutative reports whether op computes the same value for exchanged
// operands without being replaced.
func IsCommutative(op byte) bool {
	m, ok := mirrors[op]
	return ok && m == op
}

// Mirror returns the operator equivalent to op with exchanged operands:
// op itself for commutative operators, lt/gt and le/ge swapped for
// relational ones. Operators that are not swappable are returned unchanged.
func Mirror(op byte) byte {
	if m, ok := mirrors[op]; ok {
		return m
	}
	return op
}

// kindOf maps an instruction to the node kind that models it.
func kindOf(in wasm.Instruction) Kind {
	op := in.Opcode
	switch {
	case op >= wasm.OpI32Const && op <= wasm.OpF64Const:
		return KindConst
	case op >= wasm.OpI32Load && op <= wasm.OpI64Load32U:
		return KindLoad
	case op >= wasm.OpI32Store && op <= wasm.OpI64Store32:
		return KindStore
	case op == wasm.OpI32Eqz || op == wasm.OpI64Eqz:
		return KindUnary
	case op >= wasm.OpI32Eq && op <= wasm.OpF64Ge:
		return KindBinary
	case op >= wasm.OpI32Clz && op <= wasm.OpI32Popcnt,
		op >= wasm.OpI64Clz && op <= wasm.OpI64Popcnt,
		op >= wasm.OpF32Abs && op <= wasm.OpF32Sqrt,
		op >= wasm.OpF64Abs && op <= wasm.OpF64Sqrt,
		op >= wasm.OpI32WrapI64 && op <= wasm.OpI64Extend32S:
		return KindUnary
	case op >= wasm.OpI32Add && op <= wasm.OpI32Rotr,
		op >= wasm.OpI64Add && op <= wasm.OpI64Rotr,
		op >= wasm.OpF32Add && op <= wasm.OpF32Copysign,
		op >= wasm.OpF64Add && op <= wasm.OpF64Copysign:
		return KindBinary
	}

	switch op {
	case wasm.OpNop:
		return KindNop
	case wasm.OpLocalGet:
		return KindLocalGet
	case wasm.OpLocalSet:
		return KindLocalSet
	case wasm.OpLocalTee:
		return KindLocalTee
	case wasm.OpGlobalGet:
		return KindGlobalGet
	case wasm.OpGlobalSet:
		return KindGlobalSet
	case wasm.OpMemorySize:
		return KindMemorySize
	case wasm.OpMemoryGrow:
		return KindMemoryGrow
	case wasm.OpSelect, wasm.OpSelectType:
		return KindSelect
	case wasm.OpDrop:
		return KindDrop
	case wasm.OpCall:
		return KindCall
	case wasm.OpCallIndirect:
		return KindCallIndirect
	case wasm.OpBlock:
		return KindBlock
	case wasm.OpLoop:
		return KindLoop
	case wasm.OpIf:
		return KindIf
	case wasm.OpBr:
		return KindBr
	case wasm.OpBrIf:
		return KindBrIf
	case wasm.OpBrTable:
		return KindBrTable
	case wasm.OpReturn:
		return KindReturn
	case wasm.OpUnreachable:
		return KindUnreachable
	case wasm.OpPrefixMisc:
		if imm, ok := in.Imm.(wasm.MiscImm); ok && imm.SubOpcode <= wasm.MiscI64TruncSatF64U {
			return KindUnary
		}
	}
	return KindOpaque
}

// traps reports whether a unary or binary operator can trap on some input.
func traps(op byte) bool {
	switch op {
	case wasm.OpI32DivS, wasm.OpI32DivU, wasm.OpI32RemS, wasm.OpI32RemU,
		wasm.OpI64DivS, wasm.OpI64DivU, wasm.OpI64RemS, wasm.OpI64RemU,
		wasm.OpI32TruncF32S, wasm.OpI32TruncF32U, wasm.OpI32TruncF64S, wasm.OpI32TruncF64U,
		wasm.OpI64TruncF32S, wasm.OpI64TruncF32U, wasm.OpI64TruncF64S, wasm.OpI64TruncF64U:
		return true
	}
	return false
}
