package wasm

import (
	"github.com/wippyai/wasm-watermarker/wasm/internal/binary"
)

// Encode encodes the module. Empty sections are omitted. Custom sections
// are written back next to the section they followed when decoded.
func (m *Module) Encode() []byte {
	w := binary.NewWriter(make([]byte, 0, 4096))
	w.U32LE(Magic)
	w.U32LE(Version)

	written := make([]bool, len(m.CustomSections))
	flush := func(order int, all bool) {
		for i, cs := range m.CustomSections {
			if written[i] || !(all || cs.Placed && orderOf(cs.After) <= order) {
				continue
			}
			payload := binary.NewWriter(nil)
			payload.Name(cs.Name)
			payload.Raw(cs.Data)
			w.Section(SectionCustom, payload.Bytes())
			written[i] = true
		}
	}

	flush(0, false)
	for i, id := range sectionOrder {
		if payload, ok := m.encodeSection(id); ok {
			w.Section(id, payload)
		}
		flush(i+1, false)
	}
	flush(0, true)

	return w.Bytes()
}

// encodeSection returns the payload of section id, or false when the module
// has nothing to put in it.
func (m *Module) encodeSection(id byte) ([]byte, bool) {
	switch id {
	case SectionType:
		if m.rawTypes != nil {
			return m.rawTypes, true
		}
		return encodeVec(m.Types, writeFuncType)
	case SectionImport:
		return encodeVec(m.Imports, writeImport)
	case SectionFunction:
		return encodeVec(m.Funcs, (*binary.Writer).U32)
	case SectionTable:
		return encodeVec(m.Tables, writeTableType)
	case SectionMemory:
		return encodeVec(m.Memories, func(w *binary.Writer, mt MemoryType) { writeLimits(w, mt.Limits) })
	case SectionGlobal:
		return encodeVec(m.Globals, func(w *binary.Writer, g Global) {
			writeGlobalType(w, g.Type)
			w.Raw(g.Init)
		})
	case SectionExport:
		return encodeVec(m.Exports, func(w *binary.Writer, e Export) {
			w.Name(e.Name)
			w.Byte(e.Kind)
			w.U32(e.Idx)
		})
	case SectionStart:
		if m.Start == nil {
			return nil, false
		}
		w := binary.NewWriter(nil)
		w.U32(*m.Start)
		return w.Bytes(), true
	case SectionElement:
		return encodeVec(m.Elements, writeElement)
	case SectionCode:
		return encodeVec(m.Code, writeFuncBody)
	}

	for _, s := range m.Opaque {
		if s.ID == id {
			return s.Payload, true
		}
	}
	return nil, false
}

func encodeVec[T any](items []T, write func(*binary.Writer, T)) ([]byte, bool) {
	if len(items) == 0 {
		return nil, false
	}
	w := binary.NewWriter(nil)
	w.U32(uint32(len(items)))
	for _, it := range items {
		write(w, it)
	}
	return w.Bytes(), true
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.U32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

// writeFuncType writes a plain function type. Composite entries only come
// from decoded type sections, which are written back as they were.
func writeFuncType(w *binary.Writer, ft FuncType) {
	w.Byte(formFunc)
	writeValTypes(w, ft.Params)
	writeValTypes(w, ft.Results)
}

func writeRefType(w *binary.Writer, t ValType, heap int64) {
	w.Byte(byte(t))
	if hasHeapType(t) {
		w.S64(heap)
	}
}

func writeImport(w *binary.Writer, imp Import) {
	w.Name(imp.Module)
	w.Name(imp.Name)
	w.Byte(imp.Desc.Kind)

	switch imp.Desc.Kind {
	case KindFunc:
		w.U32(imp.Desc.TypeIdx)
	case KindTable:
		writeTableType(w, *imp.Desc.Table)
	case KindMemory:
		writeLimits(w, imp.Desc.Memory.Limits)
	case KindGlobal:
		writeGlobalType(w, *imp.Desc.Global)
	case KindTag:
		w.Byte(0)
		w.U32(imp.Desc.TypeIdx)
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	if t.Init != nil {
		w.Byte(0x40)
		w.Byte(0x00)
	}
	writeRefType(w, t.ElemType, t.HeapType)
	writeLimits(w, t.Limits)
	w.Raw(t.Init)
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= limitsHasMax
	}
	if l.Shared {
		flags |= limitsShared
	}
	if l.Memory64 {
		flags |= limitsMemory64
	}
	w.Byte(flags)

	bound := w.U64
	if !l.Memory64 {
		bound = func(v uint64) { w.U32(uint32(v)) }
	}
	bound(l.Min)
	if l.Max != nil {
		bound(*l.Max)
	}
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	writeRefType(w, g.ValType, g.HeapType)
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

func writeElement(w *binary.Writer, e Element) {
	w.U32(e.Flags)
	passive := e.Flags&1 != 0
	explicit := e.Flags&2 != 0
	exprs := e.Flags&4 != 0

	if !passive {
		if explicit {
			w.U32(e.TableIdx)
		}
		w.Raw(e.Offset)
	}
	if passive || explicit {
		if exprs {
			writeRefType(w, ValType(e.ElemKind), e.HeapType)
		} else {
			w.Byte(e.ElemKind)
		}
	}
	if exprs {
		w.U32(uint32(len(e.Exprs)))
		for _, expr := range e.Exprs {
			w.Raw(expr)
		}
	} else {
		w.U32(uint32(len(e.FuncIdxs)))
		for _, idx := range e.FuncIdxs {
			w.U32(idx)
		}
	}
}

func writeFuncBody(w *binary.Writer, body FuncBody) {
	bw := binary.NewWriter(nil)
	bw.U32(uint32(len(body.Locals)))
	for _, l := range body.Locals {
		bw.U32(l.Count)
		writeRefType(bw, l.Type, l.HeapType)
	}
	bw.Raw(body.Code)

	w.U32(uint32(bw.Len()))
	w.Raw(bw.Bytes())
}
