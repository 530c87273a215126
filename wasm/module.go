package wasm

// Module is a decoded core WebAssembly module.
//
// The sections that can refer to functions by index are decoded into
// fields so that functions can be reordered. Sections that never do (tags,
// data count and data) are kept encoded in Opaque.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index of each defined function
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Opaque   []Section

	CustomSections []CustomSection

	// rawTypes is the type section payload as decoded, kept when Types
	// cannot express it exactly (GC types or typed references).
	rawTypes []byte
}

// ValType is a value type. Reference types with an explicit heap type
// (ValRefNull, ValRef) carry the heap type next to the ValType.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	case ValExnRef:
		return "exnref"
	case ValRefNull:
		return "ref null"
	case ValRef:
		return "ref"
	}
	return "unknown"
}

// FuncType is a function signature. Struct and array types of the GC
// proposal occupy a type index too; they decode as Composite entries.
type FuncType struct {
	Params    []ValType
	Results   []ValType
	Composite bool
}

// Import is an imported function, table, memory, global or tag.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes what an import provides. TypeIdx is set for
// functions and tags.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// Limits bounds a table or memory.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// TableType describes a table. HeapType is used when ElemType is ValRefNull
// or ValRef. Init is the optional initializer expression.
type TableType struct {
	Init     []byte
	Limits   Limits
	HeapType int64
	ElemType ValType
}

type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global. HeapType is used when ValType is
// ValRefNull or ValRef.
type GlobalType struct {
	HeapType int64
	ValType  ValType
	Mutable  bool
}

// Global is a defined global with its constant initializer, end included.
type Global struct {
	Init []byte
	Type GlobalType
}

// Export names a function, table, memory, global or tag.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element is an element segment. Flags select one of the eight encodings:
// bit 0 marks passive or declarative segments, bit 1 an explicit table index
// (or declarative when bit 0 is set) and bit 2 expression elements. Index
// segments fill FuncIdxs, expression segments fill Exprs.
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	HeapType int64
	Flags    uint32
	TableIdx uint32
	ElemKind byte // elemkind for index segments, reftype for expression segments
}

// FuncBody is a defined function's locals and code, end included.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	HeapType int64
	Count    uint32
	Type     ValType
}

// Section is a known section kept in encoded form.
type Section struct {
	Payload []byte
	ID      byte
}

// CustomSection is a named custom section. Decoded sections remember the
// known section they followed (After, SectionCustom meaning the start of
// the module) and are written back in the same place. Sections that are
// not Placed go at the end.
type CustomSection struct {
	Name   string
	Data   []byte
	After  byte
	Placed bool
}

// NumImportedFuncs returns the number of imported functions. They occupy
// the lowest function indices.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// TypeAt returns the function type at typeIdx, or nil when the index is out
// of range or names a composite type.
func (m *Module) TypeAt(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) || m.Types[typeIdx].Composite {
		return nil
	}
	return &m.Types[typeIdx]
}

// TypeOfFunc returns the signature of function funcIdx.
func (m *Module) TypeOfFunc(funcIdx uint32) *FuncType {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if funcIdx == 0 {
			return m.TypeAt(imp.Desc.TypeIdx)
		}
		funcIdx--
	}
	if int(funcIdx) >= len(m.Funcs) {
		return nil
	}
	return m.TypeAt(m.Funcs[funcIdx])
}

// BlockArity returns the number of values a block of type bt takes on entry
// and leaves on exit. ok is false when bt names an unknown type.
func (m *Module) BlockArity(bt int32) (params, results int, ok bool) {
	switch {
	case bt == BlockTypeVoid:
		return 0, 0, true
	case bt < 0:
		return 0, 1, true
	}
	return m.TypeArity(uint32(bt))
}

// FuncArity returns the parameter and result counts of function funcIdx.
func (m *Module) FuncArity(funcIdx uint32) (params, results int, ok bool) {
	return arity(m.TypeOfFunc(funcIdx))
}

// TypeArity returns the parameter and result counts of type typeIdx.
func (m *Module) TypeArity(typeIdx uint32) (params, results int, ok bool) {
	return arity(m.TypeAt(typeIdx))
}

func arity(ft *FuncType) (params, results int, ok bool) {
	if ft == nil {
		return 0, 0, false
	}
	return len(ft.Params), len(ft.Results), true
}
