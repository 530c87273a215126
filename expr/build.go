package expr

import (
	"fmt"
	"slices"

	"github.com/wippyai/wasm-watermarker/wasm"
)

// Arities resolves the stack signatures the builder cannot read from an
// instruction alone. *wasm.Module implements it.
type Arities interface {
	BlockArity(bt int32) (params, results int, ok bool)
	FuncArity(funcIdx uint32) (params, results int, ok bool)
	TypeArity(typeIdx uint32) (params, results int, ok bool)
}

// Build converts a flat instruction sequence, without the function's final
// end, into a sequence of expression trees.
//
// A node owns the trailing entries of the sequence as operands only when
// their number equals the node's input count and each of them is complete
// and pushes exactly one value. Otherwise the node owns no operands and
// is itself incomplete. Instructions the builder does not model become
// opaque nodes, try and try_table become opaque regions.
func Build(m Arities, instrs []wasm.Instruction) ([]*Node, error) {
	p := &parser{module: m, instrs: instrs}
	seq, term, err := p.parseSeq()
	if err != nil {
		return nil, err
	}
	if term != termEOF {
		return nil, fmt.Errorf("unexpected %s at instruction %d", wasm.OpName(term), p.pos-1)
	}
	return seq, nil
}

// ParseBody decodes a function body's code, final end included, and builds
// its expression trees.
func ParseBody(m Arities, code []byte) ([]*Node, error) {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return nil, err
	}
	if len(instrs) == 0 || instrs[len(instrs)-1].Opcode != wasm.OpEnd {
		return nil, fmt.Errorf("function body does not end with end")
	}
	return Build(m, instrs[:len(instrs)-1])
}

// termEOF marks a sequence that ran out of instructions.
const termEOF byte = 0xFF

type parser struct {
	module Arities
	instrs []wasm.Instruction
	pos    int
}

// parseSeq consumes instructions up to and including the next end or else
// at the current depth and returns the opcode that terminated the sequence.
func (p *parser) parseSeq() ([]*Node, byte, error) {
	var seq []*Node
	for p.pos < len(p.instrs) {
		instr := p.instrs[p.pos]
		p.pos++

		switch instr.Opcode {
		case wasm.OpEnd, wasm.OpElse:
			return seq, instr.Opcode, nil
		}

		n, pops, err := p.parseNode(instr)
		if err != nil {
			return nil, 0, err
		}
		seq = adopt(seq, n, pops)
	}
	return seq, termEOF, nil
}

// parseNode builds the node for instr, consuming any nested instructions,
// and returns how many values it pops. pops is -1 when the node must not
// own operands.
func (p *parser) parseNode(instr wasm.Instruction) (*Node, int, error) {
	n := &Node{Instr: instr, Kind: kindOf(instr), pushes: -1}

	switch n.Kind {
	case KindConst, KindLocalGet, KindGlobalGet, KindMemorySize:
		n.pushes = 1
		return n, 0, nil
	case KindNop:
		n.pushes = 0
		return n, 0, nil
	case KindLocalSet, KindGlobalSet, KindDrop:
		n.pushes = 0
		return n, 1, nil
	case KindLocalTee, KindLoad, KindMemoryGrow, KindUnary:
		n.pushes = 1
		return n, 1, nil
	case KindStore:
		n.pushes = 0
		return n, 2, nil
	case KindBinary:
		n.pushes = 1
		return n, 2, nil
	case KindSelect:
		n.pushes = 1
		return n, 3, nil

	case KindCall:
		imm := instr.Imm.(wasm.CallImm)
		params, results, ok := p.module.FuncArity(imm.FuncIdx)
		if !ok {
			return nil, 0, fmt.Errorf("call to unknown function %d", imm.FuncIdx)
		}
		n.pushes = results
		return n, params, nil

	case KindCallIndirect:
		imm := instr.Imm.(wasm.CallIndirectImm)
		params, results, ok := p.module.TypeArity(imm.TypeIdx)
		if !ok {
			return nil, 0, fmt.Errorf("call_indirect with unknown type %d", imm.TypeIdx)
		}
		n.pushes = results
		return n, params + 1, nil

	case KindBlock, KindLoop:
		return p.parseBlock(n)

	case KindIf:
		return p.parseIf(n)
	}

	switch instr.Opcode {
	case wasm.OpTry, wasm.OpTryTable:
		raw, err := p.parseRegion()
		if err != nil {
			return nil, 0, err
		}
		n.Raw = raw
	}
	return n, -1, nil
}

func (p *parser) parseBlock(n *Node) (*Node, int, error) {
	params, results, err := p.blockArity(n.Instr)
	if err != nil {
		return nil, 0, err
	}

	body, term, err := p.parseSeq()
	if err != nil {
		return nil, 0, err
	}
	if term != wasm.OpEnd {
		return nil, 0, p.unterminated(n, term)
	}
	n.Body = body
	n.pushes = results

	if params > 0 {
		return n, -1, nil
	}
	return n, 0, nil
}

func (p *parser) parseIf(n *Node) (*Node, int, error) {
	params, results, err := p.blockArity(n.Instr)
	if err != nil {
		return nil, 0, err
	}

	body, term, err := p.parseSeq()
	if err != nil {
		return nil, 0, err
	}
	n.Body = body

	if term == wasm.OpElse {
		n.HasElse = true
		n.Else, term, err = p.parseSeq()
		if err != nil {
			return nil, 0, err
		}
	}
	if term != wasm.OpEnd {
		return nil, 0, p.unterminated(n, term)
	}
	n.pushes = results

	if params > 0 {
		return n, -1, nil
	}
	return n, 1, nil
}

func (p *parser) blockArity(instr wasm.Instruction) (params, results int, err error) {
	imm := instr.Imm.(wasm.BlockImm)
	params, results, ok := p.module.BlockArity(imm.Type)
	if !ok {
		return 0, 0, fmt.Errorf("%s with unknown block type %d", wasm.OpName(instr.Opcode), imm.Type)
	}
	return params, results, nil
}

func (p *parser) unterminated(n *Node, term byte) error {
	if term == termEOF {
		return fmt.Errorf("%s is not terminated", n.Instr.Name())
	}
	return fmt.Errorf("unexpected %s in %s at instruction %d", wasm.OpName(term), n.Instr.Name(), p.pos-1)
}

// parseRegion collects the instructions of a try or try_table up to and
// including the end or delegate that closes it.
func (p *parser) parseRegion() ([]wasm.Instruction, error) {
	start := p.pos
	depth := 0
	for p.pos < len(p.instrs) {
		op := p.instrs[p.pos].Opcode
		p.pos++

		switch op {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpTry, wasm.OpTryTable:
			depth++
		case wasm.OpEnd, wasm.OpDelegate:
			if depth == 0 {
				return slices.Clone(p.instrs[start:p.pos]), nil
			}
			depth--
		}
	}
	return nil, fmt.Errorf("try region at instruction %d is not terminated", start-1)
}

// adopt appends n to seq, moving the trailing pops entries into n's
// operands when all of them qualify.
func adopt(seq []*Node, n *Node, pops int) []*Node {
	if pops < 0 || pops > len(seq) {
		return append(seq, n)
	}

	tail := seq[len(seq)-pops:]
	for _, c := range tail {
		if !c.complete || c.pushes != 1 {
			return append(seq, n)
		}
	}

	if pops > 0 {
		n.Operands = slices.Clone(tail)
	}
	n.complete = true
	return append(seq[:len(seq)-pops], n)
}
