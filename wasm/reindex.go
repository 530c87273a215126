package wasm

import (
	"fmt"
)

// PermuteFuncs reorders the defined functions so that the function at
// defined position order[i] moves to position i. Every function index
// reference in the module is rewritten to follow: call, return_call and
// ref.func in bodies, exports, the start function, element segments, global
// and table initializers, and the name section.
//
// Nothing is modified if any body fails to decode.
func (m *Module) PermuteFuncs(order []int) error {
	if len(m.Funcs) != len(m.Code) {
		return fmt.Errorf("function section declares %d functions, code section has %d bodies", len(m.Funcs), len(m.Code))
	}
	if len(order) != len(m.Code) {
		return fmt.Errorf("permutation length %d does not match %d defined functions", len(order), len(m.Code))
	}

	base := uint32(m.NumImportedFuncs())
	remap := make([]uint32, len(order))
	seen := make([]bool, len(order))
	for newPos, oldPos := range order {
		if oldPos < 0 || oldPos >= len(order) || seen[oldPos] {
			return fmt.Errorf("invalid permutation entry %d at %d", oldPos, newPos)
		}
		seen[oldPos] = true
		remap[oldPos] = base + uint32(newPos)
	}

	reindex := func(idx uint32) uint32 {
		if idx < base || int(idx-base) >= len(remap) {
			return idx
		}
		return remap[idx-base]
	}

	// Decode everything that can fail before touching the module.
	bodies := make([][]byte, len(m.Code))
	for i := range m.Code {
		code, err := reindexCode(m.Code[i].Code, reindex)
		if err != nil {
			return fmt.Errorf("func %d: %w", base+uint32(i), err)
		}
		bodies[i] = code
	}
	elemExprs := make([][][]byte, len(m.Elements))
	for i := range m.Elements {
		if len(m.Elements[i].Exprs) == 0 {
			continue
		}
		exprs := make([][]byte, len(m.Elements[i].Exprs))
		for j, e := range m.Elements[i].Exprs {
			code, err := reindexCode(e, reindex)
			if err != nil {
				return fmt.Errorf("element %d expr %d: %w", i, j, err)
			}
			exprs[j] = code
		}
		elemExprs[i] = exprs
	}
	globalInits := make([][]byte, len(m.Globals))
	for i := range m.Globals {
		code, err := reindexCode(m.Globals[i].Init, reindex)
		if err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
		globalInits[i] = code
	}
	tableInits := make([][]byte, len(m.Tables))
	for i := range m.Tables {
		if len(m.Tables[i].Init) == 0 {
			continue
		}
		code, err := reindexCode(m.Tables[i].Init, reindex)
		if err != nil {
			return fmt.Errorf("table %d init: %w", i, err)
		}
		tableInits[i] = code
	}
	names, err := m.Names()
	if err != nil {
		return fmt.Errorf("name section: %w", err)
	}

	funcs := make([]uint32, len(m.Funcs))
	code := make([]FuncBody, len(m.Code))
	for newPos, oldPos := range order {
		funcs[newPos] = m.Funcs[oldPos]
		code[newPos] = m.Code[oldPos]
		code[newPos].Code = bodies[oldPos]
	}
	m.Funcs = funcs
	m.Code = code

	for i := range m.Exports {
		if m.Exports[i].Kind == KindFunc {
			m.Exports[i].Idx = reindex(m.Exports[i].Idx)
		}
	}

	if m.Start != nil {
		start := reindex(*m.Start)
		m.Start = &start
	}

	for i := range m.Elements {
		for j := range m.Elements[i].FuncIdxs {
			m.Elements[i].FuncIdxs[j] = reindex(m.Elements[i].FuncIdxs[j])
		}
		if elemExprs[i] != nil {
			m.Elements[i].Exprs = elemExprs[i]
		}
	}
	for i := range m.Globals {
		m.Globals[i].Init = globalInits[i]
	}
	for i := range m.Tables {
		if tableInits[i] != nil {
			m.Tables[i].Init = tableInits[i]
		}
	}

	if len(names.Funcs) > 0 || len(names.Locals) > 0 || len(names.Labels) > 0 {
		names.remapFuncs(reindex)
		m.SetNames(names)
	}

	return nil
}

// reindexCode rewrites the function indices referenced by code. The input
// is returned unchanged when nothing refers to a function.
func reindexCode(code []byte, reindex func(uint32) uint32) ([]byte, error) {
	instrs, err := DecodeInstructions(code)
	if err != nil {
		return nil, err
	}

	modified := false
	for i := range instrs {
		switch instrs[i].Opcode {
		case OpCall, OpReturnCall:
			if imm, ok := instrs[i].Imm.(CallImm); ok {
				if idx := reindex(imm.FuncIdx); idx != imm.FuncIdx {
					instrs[i].Imm = CallImm{FuncIdx: idx}
					modified = true
				}
			}
		case OpRefFunc:
			if imm, ok := instrs[i].Imm.(RefFuncImm); ok {
				if idx := reindex(imm.FuncIdx); idx != imm.FuncIdx {
					instrs[i].Imm = RefFuncImm{FuncIdx: idx}
					modified = true
				}
			}
		}
	}

	if !modified {
		return code, nil
	}
	return EncodeInstructions(instrs), nil
}
