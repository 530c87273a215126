package wasm

import (
	"fmt"
	"strings"
)

// Binary header.
const (
	Magic   uint32 = 0x6D736100 // "\0asm"
	Version uint32 = 0x01
)

// Section IDs.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// External kinds of imports and exports.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
	KindTag    byte = 4
)

// Value types. ValRefNull and ValRef are followed by a heap type.
const (
	ValI32     ValType = 0x7F
	ValI64     ValType = 0x7E
	ValF32     ValType = 0x7D
	ValF64     ValType = 0x7C
	ValV128    ValType = 0x7B
	ValFuncRef ValType = 0x70
	ValExtern  ValType = 0x6F
	ValExnRef  ValType = 0x69
	ValRefNull ValType = 0x63
	ValRef     ValType = 0x64
)

// Block types with no type index, as decoded s33 values.
const (
	BlockTypeVoid int32 = -64
	BlockTypeI32  int32 = -1
	BlockTypeI64  int32 = -2
	BlockTypeF32  int32 = -3
	BlockTypeF64  int32 = -4
	BlockTypeV128 int32 = -5
)

// Type section forms.
const (
	formFunc     byte = 0x60
	formStruct   byte = 0x5F
	formArray    byte = 0x5E
	formRec      byte = 0x4E
	formSub      byte = 0x50
	formSubFinal byte = 0x4F
)

// Limits flags.
const (
	limitsHasMax   byte = 0x01
	limitsShared   byte = 0x02
	limitsMemory64 byte = 0x04
)

// Control and reference opcodes.
const (
	OpUnreachable        byte = 0x00
	OpNop                byte = 0x01
	OpBlock              byte = 0x02
	OpLoop               byte = 0x03
	OpIf                 byte = 0x04
	OpElse               byte = 0x05
	OpTry                byte = 0x06
	OpCatch              byte = 0x07
	OpThrow              byte = 0x08
	OpRethrow            byte = 0x09
	OpThrowRef           byte = 0x0A
	OpEnd                byte = 0x0B
	OpBr                 byte = 0x0C
	OpBrIf               byte = 0x0D
	OpBrTable            byte = 0x0E
	OpReturn             byte = 0x0F
	OpCall               byte = 0x10
	OpCallIndirect       byte = 0x11
	OpReturnCall         byte = 0x12
	OpReturnCallIndirect byte = 0x13
	OpCallRef            byte = 0x14
	OpReturnCallRef      byte = 0x15
	OpDelegate           byte = 0x18
	OpCatchAll           byte = 0x19
	OpDrop               byte = 0x1A
	OpSelect             byte = 0x1B
	OpSelectType         byte = 0x1C
	OpTryTable           byte = 0x1F
	OpLocalGet           byte = 0x20
	OpLocalSet           byte = 0x21
	OpLocalTee           byte = 0x22
	OpGlobalGet          byte = 0x23
	OpGlobalSet          byte = 0x24
	OpTableGet           byte = 0x25
	OpTableSet           byte = 0x26
	OpMemorySize         byte = 0x3F
	OpMemoryGrow         byte = 0x40
	OpI32Const           byte = 0x41
	OpI64Const           byte = 0x42
	OpF32Const           byte = 0x43
	OpF64Const           byte = 0x44
	OpRefNull            byte = 0xD0
	OpRefIsNull          byte = 0xD1
	OpRefFunc            byte = 0xD2
	OpRefAsNonNull       byte = 0xD3
	OpRefEq              byte = 0xD4
	OpBrOnNull           byte = 0xD5
	OpBrOnNonNull        byte = 0xD6
)

// Prefixes of multi-byte opcodes. A LEB128 sub-opcode follows.
const (
	OpPrefixGC     byte = 0xFB
	OpPrefixMisc   byte = 0xFC
	OpPrefixSIMD   byte = 0xFD
	OpPrefixAtomic byte = 0xFE
)

// Memory access opcodes, 0x28 through 0x3E. All take a memarg.
const (
	OpI32Load byte = 0x28 + iota
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI64Load8S
	OpI64Load8U
	OpI64Load16S
	OpI64Load16U
	OpI64Load32S
	OpI64Load32U
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpI64Store8
	OpI64Store16
	OpI64Store32
)

// Numeric opcodes, 0x45 through 0xC4. None has an immediate.
const (
	OpI32Eqz byte = 0x45 + iota
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU

	OpI64Eqz
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU

	OpF32Eq
	OpF32Ne
	OpF32Lt
	OpF32Gt
	OpF32Le
	OpF32Ge

	OpF64Eq
	OpF64Ne
	OpF64Lt
	OpF64Gt
	OpF64Le
	OpF64Ge

	OpI32Clz
	OpI32Ctz
	OpI32Popcnt
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI32Rotl
	OpI32Rotr

	OpI64Clz
	OpI64Ctz
	OpI64Popcnt
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	OpI64Rotl
	OpI64Rotr

	OpF32Abs
	OpF32Neg
	OpF32Ceil
	OpF32Floor
	OpF32Trunc
	OpF32Nearest
	OpF32Sqrt
	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF32Min
	OpF32Max
	OpF32Copysign

	OpF64Abs
	OpF64Neg
	OpF64Ceil
	OpF64Floor
	OpF64Trunc
	OpF64Nearest
	OpF64Sqrt
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div
	OpF64Min
	OpF64Max
	OpF64Copysign

	OpI32WrapI64
	OpI32TruncF32S
	OpI32TruncF32U
	OpI32TruncF64S
	OpI32TruncF64U
	OpI64ExtendI32S
	OpI64ExtendI32U
	OpI64TruncF32S
	OpI64TruncF32U
	OpI64TruncF64S
	OpI64TruncF64U
	OpF32ConvertI32S
	OpF32ConvertI32U
	OpF32ConvertI64S
	OpF32ConvertI64U
	OpF32DemoteF64
	OpF64ConvertI32S
	OpF64ConvertI32U
	OpF64ConvertI64S
	OpF64ConvertI64U
	OpF64PromoteF32
	OpI32ReinterpretF32
	OpI64ReinterpretF64
	OpF32ReinterpretI32
	OpF64ReinterpretI64

	OpI32Extend8S
	OpI32Extend16S
	OpI64Extend8S
	OpI64Extend16S
	OpI64Extend32S
)

// Sub-opcodes of the 0xFC prefix.
const (
	MiscI32TruncSatF32S uint32 = iota
	MiscI32TruncSatF32U
	MiscI32TruncSatF64S
	MiscI32TruncSatF64U
	MiscI64TruncSatF32S
	MiscI64TruncSatF32U
	MiscI64TruncSatF64S
	MiscI64TruncSatF64U
	MiscMemoryInit
	MiscDataDrop
	MiscMemoryCopy
	MiscMemoryFill
	MiscTableInit
	MiscElemDrop
	MiscTableCopy
	MiscTableGrow
	MiscTableSize
	MiscTableFill
	MiscMemoryDiscard
)

// Catch clause kinds of try_table.
const (
	CatchKindCatch       byte = 0x00
	CatchKindCatchRef    byte = 0x01
	CatchKindCatchAll    byte = 0x02
	CatchKindCatchAllRef byte = 0x03
)

// Sub-opcodes of the 0xFD and 0xFE prefixes that decide immediate shapes.
const (
	simdLoadLast      uint32 = 0x0A
	simdStore         uint32 = 0x0B
	simdConst         uint32 = 0x0C
	simdShuffle       uint32 = 0x0D
	simdLaneFirst     uint32 = 0x15
	simdLaneLast      uint32 = 0x22
	simdMemLaneFirst  uint32 = 0x54
	simdMemLaneLast   uint32 = 0x5B
	simdLoad32Zero    uint32 = 0x5C
	simdLoad64Zero    uint32 = 0x5D
	atomicFence       uint32 = 0x03
	memArgMultiMemory uint32 = 0x40
)

// immKind names the immediate layout that follows an opcode.
type immKind uint8

const (
	immNone immKind = iota
	immBlock
	immLabel
	immLabels
	immFunc
	immIndirect
	immTypeIdx
	immTag
	immLocal
	immGlobal
	immTable
	immMemArg
	immMemIdx
	immI32
	immI64
	immF32
	immF64
	immHeapType
	immFuncRef
	immSelectTypes
	immTryTable
	immMisc
	immSIMD
	immAtomic
)

type opInfo struct {
	name string
	imm  immKind
}

var opTable = [256]opInfo{
	OpUnreachable:        {"unreachable", immNone},
	OpNop:                {"nop", immNone},
	OpBlock:              {"block", immBlock},
	OpLoop:               {"loop", immBlock},
	OpIf:                 {"if", immBlock},
	OpElse:               {"else", immNone},
	OpTry:                {"try", immBlock},
	OpCatch:              {"catch", immTag},
	OpThrow:              {"throw", immTag},
	OpRethrow:            {"rethrow", immLabel},
	OpThrowRef:           {"throw_ref", immNone},
	OpEnd:                {"end", immNone},
	OpBr:                 {"br", immLabel},
	OpBrIf:               {"br_if", immLabel},
	OpBrTable:            {"br_table", immLabels},
	OpReturn:             {"return", immNone},
	OpCall:               {"call", immFunc},
	OpCallIndirect:       {"call_indirect", immIndirect},
	OpReturnCall:         {"return_call", immFunc},
	OpReturnCallIndirect: {"return_call_indirect", immIndirect},
	OpCallRef:            {"call_ref", immTypeIdx},
	OpReturnCallRef:      {"return_call_ref", immTypeIdx},
	OpDelegate:           {"delegate", immLabel},
	OpCatchAll:           {"catch_all", immNone},
	OpDrop:               {"drop", immNone},
	OpSelect:             {"select", immNone},
	OpSelectType:         {"select", immSelectTypes},
	OpTryTable:           {"try_table", immTryTable},
	OpLocalGet:           {"local.get", immLocal},
	OpLocalSet:           {"local.set", immLocal},
	OpLocalTee:           {"local.tee", immLocal},
	OpGlobalGet:          {"global.get", immGlobal},
	OpGlobalSet:          {"global.set", immGlobal},
	OpTableGet:           {"table.get", immTable},
	OpTableSet:           {"table.set", immTable},
	OpMemorySize:         {"memory.size", immMemIdx},
	OpMemoryGrow:         {"memory.grow", immMemIdx},
	OpI32Const:           {"i32.const", immI32},
	OpI64Const:           {"i64.const", immI64},
	OpF32Const:           {"f32.const", immF32},
	OpF64Const:           {"f64.const", immF64},
	OpRefNull:            {"ref.null", immHeapType},
	OpRefIsNull:          {"ref.is_null", immNone},
	OpRefFunc:            {"ref.func", immFuncRef},
	OpRefAsNonNull:       {"ref.as_non_null", immNone},
	OpRefEq:              {"ref.eq", immNone},
	OpBrOnNull:           {"br_on_null", immLabel},
	OpBrOnNonNull:        {"br_on_non_null", immLabel},
	OpPrefixMisc:         {"misc", immMisc},
	OpPrefixSIMD:         {"simd", immSIMD},
	OpPrefixAtomic:       {"atomic", immAtomic},
}

const memoryNames = `
	i32.load i64.load f32.load f64.load
	i32.load8_s i32.load8_u i32.load16_s i32.load16_u
	i64.load8_s i64.load8_u i64.load16_s i64.load16_u i64.load32_s i64.load32_u
	i32.store i64.store f32.store f64.store
	i32.store8 i32.store16 i64.store8 i64.store16 i64.store32`

const numericNames = `
	i32.eqz i32.eq i32.ne i32.lt_s i32.lt_u i32.gt_s i32.gt_u i32.le_s i32.le_u i32.ge_s i32.ge_u
	i64.eqz i64.eq i64.ne i64.lt_s i64.lt_u i64.gt_s i64.gt_u i64.le_s i64.le_u i64.ge_s i64.ge_u
	f32.eq f32.ne f32.lt f32.gt f32.le f32.ge
	f64.eq f64.ne f64.lt f64.gt f64.le f64.ge
	i32.clz i32.ctz i32.popcnt i32.add i32.sub i32.mul i32.div_s i32.div_u i32.rem_s i32.rem_u
	i32.and i32.or i32.xor i32.shl i32.shr_s i32.shr_u i32.rotl i32.rotr
	i64.clz i64.ctz i64.popcnt i64.add i64.sub i64.mul i64.div_s i64.div_u i64.rem_s i64.rem_u
	i64.and i64.or i64.xor i64.shl i64.shr_s i64.shr_u i64.rotl i64.rotr
	f32.abs f32.neg f32.ceil f32.floor f32.trunc f32.nearest f32.sqrt
	f32.add f32.sub f32.mul f32.div f32.min f32.max f32.copysign
	f64.abs f64.neg f64.ceil f64.floor f64.trunc f64.nearest f64.sqrt
	f64.add f64.sub f64.mul f64.div f64.min f64.max f64.copysign
	i32.wrap_i64 i32.trunc_f32_s i32.trunc_f32_u i32.trunc_f64_s i32.trunc_f64_u
	i64.extend_i32_s i64.extend_i32_u i64.trunc_f32_s i64.trunc_f32_u i64.trunc_f64_s i64.trunc_f64_u
	f32.convert_i32_s f32.convert_i32_u f32.convert_i64_s f32.convert_i64_u f32.demote_f64
	f64.convert_i32_s f64.convert_i32_u f64.convert_i64_s f64.convert_i64_u f64.promote_f32
	i32.reinterpret_f32 i64.reinterpret_f64 f32.reinterpret_i32 f64.reinterpret_i64
	i32.extend8_s i32.extend16_s i64.extend8_s i64.extend16_s i64.extend32_s`

// miscOps lists the 0xFC sub-opcodes by value with their LEB128 operand
// counts.
var miscOps = []struct {
	name     string
	operands int
}{
	{"i32.trunc_sat_f32_s", 0}, {"i32.trunc_sat_f32_u", 0},
	{"i32.trunc_sat_f64_s", 0}, {"i32.trunc_sat_f64_u", 0},
	{"i64.trunc_sat_f32_s", 0}, {"i64.trunc_sat_f32_u", 0},
	{"i64.trunc_sat_f64_s", 0}, {"i64.trunc_sat_f64_u", 0},
	{"memory.init", 2}, {"data.drop", 1}, {"memory.copy", 2}, {"memory.fill", 1},
	{"table.init", 2}, {"elem.drop", 1}, {"table.copy", 2},
	{"table.grow", 1}, {"table.size", 1}, {"table.fill", 1},
	{"memory.discard", 1},
}

func init() {
	fill := func(first, last byte, names string, imm immKind) {
		fields := strings.Fields(names)
		if len(fields) != int(last-first)+1 {
			panic(fmt.Sprintf("wasm: %d names for opcodes 0x%02x-0x%02x", len(fields), first, last))
		}
		for i, name := range fields {
			opTable[first+byte(i)] = opInfo{name: name, imm: imm}
		}
	}
	fill(OpI32Load, OpI64Store32, memoryNames, immMemArg)
	fill(OpI32Eqz, OpI64Extend32S, numericNames, immNone)
}

// OpName returns the text format name of a single-byte opcode.
func OpName(op byte) string {
	if name := opTable[op].name; name != "" {
		return name
	}
	return fmt.Sprintf("op(0x%02x)", op)
}

// Name returns the text format name of the instruction, resolving prefixed
// sub-opcodes where they are known.
func (in Instruction) Name() string {
	switch imm := in.Imm.(type) {
	case MiscImm:
		if int(imm.SubOpcode) < len(miscOps) {
			return miscOps[imm.SubOpcode].name
		}
		return fmt.Sprintf("misc(0x%02x)", imm.SubOpcode)
	case SIMDImm:
		return fmt.Sprintf("simd(0x%02x)", imm.SubOpcode)
	case AtomicImm:
		return fmt.Sprintf("atomic(0x%02x)", imm.SubOpcode)
	}
	return OpName(in.Opcode)
}
