package expr

// Effect is the observable side effect class of a subtree, ordered from
// weakest to strongest.
type Effect uint8

const (
	// EffectNone means the subtree computes a value from its operands only.
	EffectNone Effect = iota
	// EffectReadOnly means the subtree reads state or may trap.
	EffectReadOnly
	// EffectWrite means the subtree may change state or transfer control.
	EffectWrite
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectReadOnly:
		return "read_only"
	case EffectWrite:
		return "write"
	}
	return "effect(?)"
}

// OwnEffect returns the effect of the node's own instruction, ignoring
// operands and nested sequences.
func OwnEffect(n *Node) Effect {
	switch n.Kind {
	case KindConst, KindNop, KindSelect, KindDrop, KindBlock, KindLoop, KindIf:
		return EffectNone
	case KindUnary, KindBinary:
		if traps(n.Instr.Opcode) {
			return EffectReadOnly
		}
		return EffectNone
	case KindLocalGet, KindGlobalGet, KindMemorySize, KindLoad:
		return EffectReadOnly
	}
	return EffectWrite
}

// Classify returns the strongest effect found anywhere in the subtree.
func Classify(n *Node) Effect {
	e := OwnEffect(n)
	if e == EffectWrite {
		return e
	}
	e = max(e, ClassifyList(n.Operands))
	e = max(e, ClassifyList(n.Body))
	e = max(e, ClassifyList(n.Else))
	return e
}

// ClassifyList returns the strongest effect of a node sequence.
func ClassifyList(nodes []*Node) Effect {
	e := EffectNone
	for _, n := range nodes {
		e = max(e, Classify(n))
		if e == EffectWrite {
			break
		}
	}
	return e
}
