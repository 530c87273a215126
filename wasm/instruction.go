package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-watermarker/wasm/internal/binary"
)

// ErrUnsupportedOpcode is returned by DecodeInstructions for opcodes the
// codec does not know how to skip, such as the GC prefix.
var ErrUnsupportedOpcode = errors.New("unsupported opcode")

// Instruction is one decoded instruction. Imm holds one of the *Imm types
// below, or nil when the opcode takes no immediate.
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm is the block type of block, loop, if and try: BlockTypeVoid, a
// negative value type, or a type index.
type BlockImm struct {
	Type int32
}

// BranchImm is a label index.
type BranchImm struct {
	LabelIdx uint32
}

type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

type CallImm struct {
	FuncIdx uint32
}

type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

type CallRefImm struct {
	TypeIdx uint32
}

type LocalImm struct {
	LocalIdx uint32
}

type GlobalImm struct {
	GlobalIdx uint32
}

type TableImm struct {
	TableIdx uint32
}

// MemoryImm is a memarg. MemIdx is only encoded when non-zero.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

type MemoryIdxImm struct {
	MemIdx uint32
}

type I32Imm struct {
	Value int32
}

type I64Imm struct {
	Value int64
}

type F32Imm struct {
	Value float32
}

type F64Imm struct {
	Value float64
}

type RefNullImm struct {
	HeapType int64
}

type RefFuncImm struct {
	FuncIdx uint32
}

// SelectTypeImm lists the result types of a typed select.
type SelectTypeImm struct {
	Types []ValType
}

// ThrowImm is a tag index, used by throw and catch.
type ThrowImm struct {
	TagIdx uint32
}

// CatchClause is one handler of a try_table. TagIdx is only meaningful for
// the catch and catch_ref kinds.
type CatchClause struct {
	Kind     byte
	TagIdx   uint32
	LabelIdx uint32
}

type TryTableImm struct {
	Catches   []CatchClause
	BlockType int32
}

// MiscImm is a 0xFC sub-opcode and its index operands.
type MiscImm struct {
	Operands  []uint32
	SubOpcode uint32
}

// SIMDImm is a 0xFD sub-opcode. MemArg, Lane and Bytes are set according to
// the sub-opcode's immediate layout.
type SIMDImm struct {
	MemArg    *MemoryImm
	Lane      *byte
	Bytes     []byte
	SubOpcode uint32
}

// AtomicImm is a 0xFE sub-opcode. Every atomic except fence has a memarg.
type AtomicImm struct {
	MemArg    *MemoryImm
	SubOpcode uint32
}

// DecodeInstructions decodes a flat instruction sequence, such as a function
// body or a constant expression.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	d := binary.NewDecoder(code)
	// Roughly two bytes per instruction.
	instrs := make([]Instruction, 0, len(code)/2)
	for d.Len() > 0 {
		in, err := decodeInstruction(d)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, in)
	}
	return instrs, nil
}

func decodeInstruction(d *binary.Decoder) (Instruction, error) {
	op := d.Byte()
	info := opTable[op]
	if info.name == "" {
		d.Fail(fmt.Errorf("%w 0x%02x", ErrUnsupportedOpcode, op))
		return Instruction{}, d.Err()
	}

	in := Instruction{Opcode: op}
	switch info.imm {
	case immBlock:
		in.Imm = BlockImm{Type: int32(d.S33())}
	case immLabel:
		in.Imm = BranchImm{LabelIdx: d.U32()}
	case immLabels:
		labels := binary.Vec(d, (*binary.Decoder).U32)
		in.Imm = BrTableImm{Labels: labels, Default: d.U32()}
	case immFunc:
		in.Imm = CallImm{FuncIdx: d.U32()}
	case immIndirect:
		typeIdx := d.U32()
		in.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: d.U32()}
	case immTypeIdx:
		in.Imm = CallRefImm{TypeIdx: d.U32()}
	case immTag:
		in.Imm = ThrowImm{TagIdx: d.U32()}
	case immLocal:
		in.Imm = LocalImm{LocalIdx: d.U32()}
	case immGlobal:
		in.Imm = GlobalImm{GlobalIdx: d.U32()}
	case immTable:
		in.Imm = TableImm{TableIdx: d.U32()}
	case immMemArg:
		in.Imm = readMemArg(d)
	case immMemIdx:
		in.Imm = MemoryIdxImm{MemIdx: d.U32()}
	case immI32:
		in.Imm = I32Imm{Value: d.S32()}
	case immI64:
		in.Imm = I64Imm{Value: d.S64()}
	case immF32:
		in.Imm = F32Imm{Value: d.F32()}
	case immF64:
		in.Imm = F64Imm{Value: d.F64()}
	case immHeapType:
		in.Imm = RefNullImm{HeapType: d.S33()}
	case immFuncRef:
		in.Imm = RefFuncImm{FuncIdx: d.U32()}
	case immSelectTypes:
		types := binary.Vec(d, func(d *binary.Decoder) ValType {
			t := ValType(d.Byte())
			if t == ValRefNull || t == ValRef {
				d.Fail(fmt.Errorf("%w: typed select of a reference with heap type", ErrUnsupportedOpcode))
			}
			return t
		})
		in.Imm = SelectTypeImm{Types: types}
	case immTryTable:
		bt := int32(d.S33())
		catches := binary.Vec(d, func(d *binary.Decoder) CatchClause {
			c := CatchClause{Kind: d.Byte()}
			if c.Kind == CatchKindCatch || c.Kind == CatchKindCatchRef {
				c.TagIdx = d.U32()
			}
			c.LabelIdx = d.U32()
			return c
		})
		in.Imm = TryTableImm{BlockType: bt, Catches: catches}
	case immMisc:
		in.Imm = readMisc(d)
	case immSIMD:
		in.Imm = readSIMD(d)
	case immAtomic:
		imm := AtomicImm{SubOpcode: d.U32()}
		if imm.SubOpcode == atomicFence {
			d.Byte()
		} else {
			arg := readMemArg(d)
			imm.MemArg = &arg
		}
		in.Imm = imm
	}

	if err := d.Err(); err != nil {
		return Instruction{}, fmt.Errorf("%s: %w", info.name, err)
	}
	return in, nil
}

func readMemArg(d *binary.Decoder) MemoryImm {
	align := d.U32()
	var imm MemoryImm
	if align&memArgMultiMemory != 0 {
		imm.MemIdx = d.U32()
	}
	imm.Align = align &^ memArgMultiMemory
	imm.Offset = d.U64()
	return imm
}

func readMisc(d *binary.Decoder) MiscImm {
	imm := MiscImm{SubOpcode: d.U32()}
	if d.Err() != nil {
		return imm
	}
	if int(imm.SubOpcode) >= len(miscOps) {
		d.Fail(fmt.Errorf("%w 0xfc 0x%02x", ErrUnsupportedOpcode, imm.SubOpcode))
		return imm
	}
	if n := miscOps[imm.SubOpcode].operands; n > 0 {
		imm.Operands = make([]uint32, n)
		for i := range imm.Operands {
			imm.Operands[i] = d.U32()
		}
	}
	return imm
}

func readSIMD(d *binary.Decoder) SIMDImm {
	imm := SIMDImm{SubOpcode: d.U32()}
	sub := imm.SubOpcode
	switch {
	case sub <= simdLoadLast, sub == simdStore, sub == simdLoad32Zero, sub == simdLoad64Zero:
		arg := readMemArg(d)
		imm.MemArg = &arg
	case sub == simdConst, sub == simdShuffle:
		imm.Bytes = d.Bytes(16)
	case sub >= simdLaneFirst && sub <= simdLaneLast:
		lane := d.Byte()
		imm.Lane = &lane
	case sub >= simdMemLaneFirst && sub <= simdMemLaneLast:
		arg := readMemArg(d)
		lane := d.Byte()
		imm.MemArg, imm.Lane = &arg, &lane
	}
	return imm
}

// EncodeInstructions encodes a flat instruction sequence.
func EncodeInstructions(instrs []Instruction) []byte {
	buf := make([]byte, 0, len(instrs)*3)
	for i := range instrs {
		buf = AppendInstruction(buf, instrs[i])
	}
	return buf
}

// AppendInstruction appends the encoding of in to dst.
func AppendInstruction(dst []byte, in Instruction) []byte {
	w := binary.NewWriter(append(dst, in.Opcode))

	switch imm := in.Imm.(type) {
	case BlockImm:
		w.S32(imm.Type)
	case BranchImm:
		w.U32(imm.LabelIdx)
	case BrTableImm:
		w.U32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.U32(l)
		}
		w.U32(imm.Default)
	case CallImm:
		w.U32(imm.FuncIdx)
	case CallIndirectImm:
		w.U32(imm.TypeIdx)
		w.U32(imm.TableIdx)
	case CallRefImm:
		w.U32(imm.TypeIdx)
	case ThrowImm:
		w.U32(imm.TagIdx)
	case LocalImm:
		w.U32(imm.LocalIdx)
	case GlobalImm:
		w.U32(imm.GlobalIdx)
	case TableImm:
		w.U32(imm.TableIdx)
	case MemoryImm:
		writeMemArg(w, imm)
	case MemoryIdxImm:
		w.U32(imm.MemIdx)
	case I32Imm:
		w.S32(imm.Value)
	case I64Imm:
		w.S64(imm.Value)
	case F32Imm:
		w.F32(imm.Value)
	case F64Imm:
		w.F64(imm.Value)
	case RefNullImm:
		w.S64(imm.HeapType)
	case RefFuncImm:
		w.U32(imm.FuncIdx)
	case SelectTypeImm:
		w.U32(uint32(len(imm.Types)))
		for _, t := range imm.Types {
			w.Byte(byte(t))
		}
	case TryTableImm:
		w.S32(imm.BlockType)
		w.U32(uint32(len(imm.Catches)))
		for _, c := range imm.Catches {
			w.Byte(c.Kind)
			if c.Kind == CatchKindCatch || c.Kind == CatchKindCatchRef {
				w.U32(c.TagIdx)
			}
			w.U32(c.LabelIdx)
		}
	case MiscImm:
		w.U32(imm.SubOpcode)
		for _, o := range imm.Operands {
			w.U32(o)
		}
	case SIMDImm:
		w.U32(imm.SubOpcode)
		if imm.MemArg != nil {
			writeMemArg(w, *imm.MemArg)
		}
		w.Raw(imm.Bytes)
		if imm.Lane != nil {
			w.Byte(*imm.Lane)
		}
	case AtomicImm:
		w.U32(imm.SubOpcode)
		if imm.MemArg != nil {
			writeMemArg(w, *imm.MemArg)
		} else {
			w.Byte(0)
		}
	}
	return w.Bytes()
}

func writeMemArg(w *binary.Writer, imm MemoryImm) {
	if imm.MemIdx != 0 {
		w.U32(imm.Align | memArgMultiMemory)
		w.U32(imm.MemIdx)
	} else {
		w.U32(imm.Align)
	}
	w.U64(imm.Offset)
}
