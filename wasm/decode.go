package wasm

import (
	"errors"
	"fmt"
	"slices"

	"github.com/wippyai/wasm-watermarker/wasm/internal/binary"
)

// Errors returned by ParseModule for inputs that are not core modules.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// sectionOrder is the order known sections must appear in. Tag and data
// count sections sit out of ID order.
var sectionOrder = []byte{
	SectionType, SectionImport, SectionFunction, SectionTable, SectionMemory,
	SectionTag, SectionGlobal, SectionExport, SectionStart, SectionElement,
	SectionDataCount, SectionCode, SectionData,
}

var sectionNames = [...]string{
	SectionCustom: "custom", SectionType: "type", SectionImport: "import",
	SectionFunction: "function", SectionTable: "table", SectionMemory: "memory",
	SectionGlobal: "global", SectionExport: "export", SectionStart: "start",
	SectionElement: "element", SectionCode: "code", SectionData: "data",
	SectionDataCount: "data count", SectionTag: "tag",
}

// orderOf returns the 1-based position of a known section, or 0.
func orderOf(id byte) int {
	return slices.Index(sectionOrder, id) + 1
}

// ParseModule decodes a binary module. The module keeps references into
// data, which must not be modified afterwards.
func ParseModule(data []byte) (*Module, error) {
	d := binary.NewDecoder(data)
	if magic := d.U32LE(); magic != Magic {
		if err := d.Err(); err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		return nil, ErrInvalidMagic
	}
	if version := d.U32LE(); version != Version {
		if err := d.Err(); err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	last, lastOrder := SectionCustom, 0
	for d.Len() > 0 {
		id := d.Byte()
		size := d.U32()
		at := d.Offset()
		payload := d.Bytes(int(size))
		if err := d.Err(); err != nil {
			return nil, fmt.Errorf("section header: %w", err)
		}
		sd := binary.NewDecoderAt(payload, at)

		if id == SectionCustom {
			cs := CustomSection{Name: sd.Name(), After: last, Placed: true}
			cs.Data = sd.Rest()
			if err := sd.Err(); err != nil {
				return nil, fmt.Errorf("custom section: %w", err)
			}
			m.CustomSections = append(m.CustomSections, cs)
			continue
		}

		order := orderOf(id)
		if order == 0 {
			return nil, fmt.Errorf("unknown section id 0x%02x", id)
		}
		if order <= lastOrder {
			return nil, fmt.Errorf("%s section out of order", sectionNames[id])
		}
		last, lastOrder = id, order

		m.decodeSection(id, payload, sd)
		if sd.Err() == nil && sd.Len() > 0 {
			sd.Fail(fmt.Errorf("%d trailing bytes", sd.Len()))
		}
		if err := sd.Err(); err != nil {
			return nil, fmt.Errorf("%s section: %w", sectionNames[id], err)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		return nil, fmt.Errorf("function section declares %d functions, code section has %d bodies", len(m.Funcs), len(m.Code))
	}
	return m, nil
}

func (m *Module) decodeSection(id byte, payload []byte, d *binary.Decoder) {
	switch id {
	case SectionType:
		tr := typeReader{d: d}
		m.Types = slices.Concat(binary.Vec(d, tr.entry)...)
		if tr.lossy {
			m.rawTypes = payload
		}
	case SectionImport:
		m.Imports = binary.Vec(d, readImport)
	case SectionFunction:
		m.Funcs = binary.Vec(d, (*binary.Decoder).U32)
	case SectionTable:
		m.Tables = binary.Vec(d, readTableType)
	case SectionMemory:
		m.Memories = binary.Vec(d, readMemoryType)
	case SectionGlobal:
		m.Globals = binary.Vec(d, func(d *binary.Decoder) Global {
			t := readGlobalType(d)
			return Global{Type: t, Init: readConstExpr(d)}
		})
	case SectionExport:
		m.Exports = binary.Vec(d, readExport)
	case SectionStart:
		start := d.U32()
		m.Start = &start
	case SectionElement:
		m.Elements = binary.Vec(d, readElement)
	case SectionCode:
		m.Code = binary.Vec(d, readFuncBody)
	default:
		m.Opaque = append(m.Opaque, Section{ID: id, Payload: d.Rest()})
	}
}

// typeReader decodes type section entries. A rec group expands into several
// type indices, so each entry yields a slice.
type typeReader struct {
	d     *binary.Decoder
	lossy bool
}

func (tr *typeReader) entry(d *binary.Decoder) []FuncType {
	form := d.Byte()
	if form != formRec {
		return []FuncType{tr.subType(form)}
	}
	tr.lossy = true
	return binary.Vec(d, func(d *binary.Decoder) FuncType {
		return tr.subType(d.Byte())
	})
}

func (tr *typeReader) subType(form byte) FuncType {
	d := tr.d
	if form == formSub || form == formSubFinal {
		tr.lossy = true
		binary.Vec(d, (*binary.Decoder).U32) // supertypes
		form = d.Byte()
	}

	switch form {
	case formFunc:
		params := binary.Vec(d, tr.valType)
		return FuncType{Params: params, Results: binary.Vec(d, tr.valType)}
	case formStruct:
		tr.lossy = true
		binary.Vec(d, tr.field)
	case formArray:
		tr.lossy = true
		tr.field(d)
	default:
		d.Fail(fmt.Errorf("unknown type form 0x%02x", form))
	}
	return FuncType{Composite: true}
}

func (tr *typeReader) valType(d *binary.Decoder) ValType {
	t, _ := readValType(d)
	if hasHeapType(t) {
		tr.lossy = true
	}
	return t
}

// field reads a struct or array field: a storage type and its mutability.
// Packed storage types decode as plain value type bytes.
func (tr *typeReader) field(d *binary.Decoder) struct{} {
	tr.valType(d)
	d.Byte()
	return struct{}{}
}

func hasHeapType(t ValType) bool {
	return t == ValRefNull || t == ValRef
}

func readValType(d *binary.Decoder) (ValType, int64) {
	t := ValType(d.Byte())
	if hasHeapType(t) {
		return t, d.S33()
	}
	return t, 0
}

func readImport(d *binary.Decoder) Import {
	var imp Import
	imp.Module = d.Name()
	imp.Name = d.Name()
	imp.Desc.Kind = d.Byte()

	switch imp.Desc.Kind {
	case KindFunc:
		imp.Desc.TypeIdx = d.U32()
	case KindTable:
		t := readTableType(d)
		imp.Desc.Table = &t
	case KindMemory:
		mt := readMemoryType(d)
		imp.Desc.Memory = &mt
	case KindGlobal:
		g := readGlobalType(d)
		imp.Desc.Global = &g
	case KindTag:
		if attr := d.Byte(); attr != 0 {
			d.Fail(fmt.Errorf("unknown tag attribute 0x%02x", attr))
		}
		imp.Desc.TypeIdx = d.U32()
	default:
		d.Fail(fmt.Errorf("unknown import kind 0x%02x", imp.Desc.Kind))
	}
	return imp
}

func readTableType(d *binary.Decoder) TableType {
	var t TableType
	first := d.Byte()
	// 0x40 0x00 introduces a table with an initializer expression.
	withInit := first == 0x40
	if withInit {
		if b := d.Byte(); b != 0 {
			d.Fail(fmt.Errorf("expected 0x00 after 0x40 in table type, got 0x%02x", b))
		}
		first = d.Byte()
	}
	t.ElemType = ValType(first)
	if hasHeapType(t.ElemType) {
		t.HeapType = d.S33()
	}
	t.Limits = readLimits(d)
	if withInit {
		t.Init = readConstExpr(d)
	}
	return t
}

func readMemoryType(d *binary.Decoder) MemoryType {
	return MemoryType{Limits: readLimits(d)}
}

func readLimits(d *binary.Decoder) Limits {
	flags := d.Byte()
	if flags&^(limitsHasMax|limitsShared|limitsMemory64) != 0 {
		d.Fail(fmt.Errorf("unsupported limits flags 0x%02x", flags))
		return Limits{}
	}

	l := Limits{Shared: flags&limitsShared != 0, Memory64: flags&limitsMemory64 != 0}
	bound := func() uint64 {
		if l.Memory64 {
			return d.U64()
		}
		return uint64(d.U32())
	}
	l.Min = bound()
	if flags&limitsHasMax != 0 {
		maxVal := bound()
		if maxVal < l.Min {
			d.Fail(fmt.Errorf("limits min %d exceeds max %d", l.Min, maxVal))
		}
		l.Max = &maxVal
	}
	return l
}

func readGlobalType(d *binary.Decoder) GlobalType {
	var g GlobalType
	g.ValType, g.HeapType = readValType(d)
	switch mut := d.Byte(); mut {
	case 0:
	case 1:
		g.Mutable = true
	default:
		d.Fail(fmt.Errorf("invalid global mutability 0x%02x", mut))
	}
	return g
}

func readExport(d *binary.Decoder) Export {
	var e Export
	e.Name = d.Name()
	e.Kind = d.Byte()
	if e.Kind > KindTag {
		d.Fail(fmt.Errorf("unknown export kind 0x%02x", e.Kind))
	}
	e.Idx = d.U32()
	return e
}

func readElement(d *binary.Decoder) Element {
	e := Element{Flags: d.U32()}
	if e.Flags > 7 {
		d.Fail(fmt.Errorf("invalid element segment flags %d", e.Flags))
		return e
	}
	passive := e.Flags&1 != 0
	explicit := e.Flags&2 != 0
	exprs := e.Flags&4 != 0

	if !passive {
		if explicit {
			e.TableIdx = d.U32()
		}
		e.Offset = readConstExpr(d)
	}
	if passive || explicit {
		e.ElemKind = d.Byte()
		if exprs && hasHeapType(ValType(e.ElemKind)) {
			e.HeapType = d.S33()
		}
	}
	if exprs {
		e.Exprs = binary.Vec(d, readConstExpr)
	} else {
		e.FuncIdxs = binary.Vec(d, (*binary.Decoder).U32)
	}
	return e
}

func readFuncBody(d *binary.Decoder) FuncBody {
	bd := d.Sub(int(d.U32()))
	locals := binary.Vec(bd, func(d *binary.Decoder) LocalEntry {
		e := LocalEntry{Count: d.U32()}
		e.Type, e.HeapType = readValType(d)
		return e
	})
	code := bd.Rest()
	if err := bd.Err(); err != nil {
		d.Fail(err)
	}
	return FuncBody{Locals: locals, Code: code}
}

// readConstExpr reads a constant expression up to and including its end
// and returns its encoding as found.
func readConstExpr(d *binary.Decoder) []byte {
	start := d.Pos()
	for {
		in, err := decodeInstruction(d)
		if err != nil {
			d.Fail(err)
			return nil
		}
		if in.Opcode == OpEnd {
			return d.Since(start)
		}
	}
}
