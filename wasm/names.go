package wasm

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"github.com/wippyai/wasm-watermarker/wasm/internal/binary"
)

// NameSectionName is the name of the custom section holding debug names.
const NameSectionName = "name"

// Name subsection IDs.
const (
	NameSubsectionModule byte = 0
	NameSubsectionFunc   byte = 1
	NameSubsectionLocal  byte = 2
	NameSubsectionLabel  byte = 3
)

// NameAssoc pairs an index with a name.
type NameAssoc struct {
	Name string
	Idx  uint32
}

// NameMap is a list of associations sorted by index.
type NameMap []NameAssoc

// Lookup returns the name bound to idx.
func (nm NameMap) Lookup(idx uint32) (string, bool) {
	i, ok := slices.BinarySearchFunc(nm, idx, func(a NameAssoc, idx uint32) int {
		return cmp.Compare(a.Idx, idx)
	})
	if !ok {
		return "", false
	}
	return nm[i].Name, true
}

// Set binds idx to name, keeping the map sorted.
func (nm *NameMap) Set(idx uint32, name string) {
	i, ok := slices.BinarySearchFunc(*nm, idx, func(a NameAssoc, idx uint32) int {
		return cmp.Compare(a.Idx, idx)
	})
	if ok {
		(*nm)[i].Name = name
		return
	}
	*nm = slices.Insert(*nm, i, NameAssoc{Idx: idx, Name: name})
}

// IndirectNameAssoc holds the names nested under one outer index, e.g. the
// locals of one function.
type IndirectNameAssoc struct {
	Names NameMap
	Idx   uint32
}

// IndirectNameMap is a list of indirect associations sorted by outer index.
type IndirectNameMap []IndirectNameAssoc

// NameSubsection is a name subsection kept in its encoded form.
type NameSubsection struct {
	Data []byte
	ID   byte
}

// Names is the decoded content of the "name" custom section. Function, local
// and label names are decoded because they are keyed by function index;
// other subsections are carried through untouched.
type Names struct {
	Module *string
	Funcs  NameMap
	Locals IndirectNameMap
	Labels IndirectNameMap
	Other  []NameSubsection
}

// Names decodes the module's name section. A module without one yields an
// empty Names.
func (m *Module) Names() (*Names, error) {
	for _, cs := range m.CustomSections {
		if cs.Name == NameSectionName {
			return DecodeNames(cs.Data)
		}
	}
	return &Names{}, nil
}

// SetNames encodes n into the module's name section, replacing any existing
// one.
func (m *Module) SetNames(n *Names) {
	data := n.Encode()
	for i := range m.CustomSections {
		if m.CustomSections[i].Name == NameSectionName {
			m.CustomSections[i].Data = data
			return
		}
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: NameSectionName, Data: data})
}

// FuncNames returns a name for every function in the index space. Functions
// missing from the name section are named by their decimal index.
func (m *Module) FuncNames() ([]string, error) {
	n, err := m.Names()
	if err != nil {
		return nil, err
	}

	names := make([]string, m.NumFuncs())
	for i := range names {
		if name, ok := n.Funcs.Lookup(uint32(i)); ok {
			names[i] = name
		} else {
			names[i] = strconv.Itoa(i)
		}
	}
	return names, nil
}

// SetFuncNames replaces the function names subsection with names, one per
// function index. Other subsections are kept.
func (m *Module) SetFuncNames(names []string) error {
	if len(names) != m.NumFuncs() {
		return fmt.Errorf("%d function names for %d functions", len(names), m.NumFuncs())
	}
	n, err := m.Names()
	if err != nil {
		return err
	}

	n.Funcs = make(NameMap, len(names))
	for i, name := range names {
		n.Funcs[i] = NameAssoc{Idx: uint32(i), Name: name}
	}
	m.SetNames(n)
	return nil
}

// DecodeNames decodes the payload of a "name" custom section.
func DecodeNames(data []byte) (*Names, error) {
	d := binary.NewDecoder(data)
	n := &Names{}

	for d.Len() > 0 {
		id := d.Byte()
		sd := d.Sub(int(d.U32()))

		switch id {
		case NameSubsectionModule:
			name := sd.Name()
			n.Module = &name
		case NameSubsectionFunc:
			n.Funcs = readNameMap(sd)
		case NameSubsectionLocal:
			n.Locals = readIndirectNameMap(sd)
		case NameSubsectionLabel:
			n.Labels = readIndirectNameMap(sd)
		default:
			n.Other = append(n.Other, NameSubsection{ID: id, Data: sd.Rest()})
		}
		if err := sd.Err(); err != nil {
			return nil, fmt.Errorf("name subsection %d: %w", id, err)
		}
	}
	return n, nil
}

// Encode encodes the name section payload. Subsections are written in
// increasing ID order.
func (n *Names) Encode() []byte {
	w := binary.NewWriter(nil)
	sub := func(id byte, write func(*binary.Writer)) {
		sw := binary.NewWriter(nil)
		write(sw)
		w.Section(id, sw.Bytes())
	}

	if n.Module != nil {
		sub(NameSubsectionModule, func(sw *binary.Writer) { sw.Name(*n.Module) })
	}
	if len(n.Funcs) > 0 {
		sub(NameSubsectionFunc, func(sw *binary.Writer) { writeNameMap(sw, n.Funcs) })
	}
	if len(n.Locals) > 0 {
		sub(NameSubsectionLocal, func(sw *binary.Writer) { writeIndirectNameMap(sw, n.Locals) })
	}
	if len(n.Labels) > 0 {
		sub(NameSubsectionLabel, func(sw *binary.Writer) { writeIndirectNameMap(sw, n.Labels) })
	}

	other := slices.Clone(n.Other)
	slices.SortStableFunc(other, func(a, b NameSubsection) int {
		return cmp.Compare(a.ID, b.ID)
	})
	for _, o := range other {
		w.Section(o.ID, o.Data)
	}

	return w.Bytes()
}

// remapFuncs rewrites every function index key through remap.
func (n *Names) remapFuncs(remap func(uint32) uint32) {
	for i := range n.Funcs {
		n.Funcs[i].Idx = remap(n.Funcs[i].Idx)
	}
	slices.SortFunc(n.Funcs, func(a, b NameAssoc) int { return cmp.Compare(a.Idx, b.Idx) })

	for _, m := range []IndirectNameMap{n.Locals, n.Labels} {
		for i := range m {
			m[i].Idx = remap(m[i].Idx)
		}
		slices.SortFunc(m, func(a, b IndirectNameAssoc) int { return cmp.Compare(a.Idx, b.Idx) })
	}
}

func readNameAssoc(d *binary.Decoder) NameAssoc {
	idx := d.U32()
	return NameAssoc{Idx: idx, Name: d.Name()}
}

func readNameMap(d *binary.Decoder) NameMap {
	nm := NameMap(binary.Vec(d, readNameAssoc))
	// Producers are required to sort, but some do not.
	slices.SortStableFunc(nm, func(a, b NameAssoc) int { return cmp.Compare(a.Idx, b.Idx) })
	return nm
}

func readIndirectNameMap(d *binary.Decoder) IndirectNameMap {
	m := IndirectNameMap(binary.Vec(d, func(d *binary.Decoder) IndirectNameAssoc {
		idx := d.U32()
		return IndirectNameAssoc{Idx: idx, Names: readNameMap(d)}
	}))
	slices.SortStableFunc(m, func(a, b IndirectNameAssoc) int { return cmp.Compare(a.Idx, b.Idx) })
	return m
}

func writeNameMap(w *binary.Writer, nm NameMap) {
	w.U32(uint32(len(nm)))
	for _, a := range nm {
		w.U32(a.Idx)
		w.Name(a.Name)
	}
}

func writeIndirectNameMap(w *binary.Writer, m IndirectNameMap) {
	w.U32(uint32(len(m)))
	for _, a := range m {
		w.U32(a.Idx)
		writeNameMap(w, a.Names)
	}
}
