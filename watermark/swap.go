package watermark

import (
	"cmp"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-watermarker/bitstream"
	"github.com/wippyai/wasm-watermarker/errors"
	"github.com/wippyai/wasm-watermarker/expr"
	"github.com/wippyai/wasm-watermarker/wasm"
)

// EmbedOperandSwapping encodes one bit read from r into every eligible
// binary operation of the module's defined functions and returns the
// number of bits consumed.
func EmbedOperandSwapping(r *bitstream.CircularReader, m *wasm.Module) (int, error) {
	s := &swapper{
		decide: func(n *expr.Node, lo *expr.Node) {
			if r.ReadBit() == (n.Operands[0] == lo) {
				n.Swap()
			}
		},
	}
	return s.run(m, errors.PhaseEmbed, true)
}

// ExtractOperandSwapping writes one bit per eligible binary operation to w
// and returns the number of bits written. The module is not modified.
func ExtractOperandSwapping(w *bitstream.Writer, m *wasm.Module) (int, error) {
	s := &swapper{
		decide: func(n *expr.Node, lo *expr.Node) {
			w.WriteBit(n.Operands[1] == lo)
		},
	}
	return s.run(m, errors.PhaseExtract, false)
}

// countSwappable returns the number of eligible binary operations.
func countSwappable(m *wasm.Module) (int, error) {
	s := &swapper{decide: func(*expr.Node, *expr.Node) {}}
	return s.run(m, errors.PhaseExtract, false)
}

// swapper walks function bodies post-order and calls decide for every
// eligible node with the operand that is smaller under expr.Compare.
type swapper struct {
	decide func(n, lo *expr.Node)
	count  int
}

func (s *swapper) run(m *wasm.Module, phase errors.Phase, rewrite bool) (int, error) {
	if len(m.Funcs) != len(m.Code) {
		return 0, functionCountMismatch(phase, m, MethodOperandSwapping)
	}
	names, err := m.FuncNames()
	if err != nil {
		return 0, nameSectionError(MethodOperandSwapping, err)
	}

	base := m.NumImportedFuncs()
	for _, i := range nameOrder(names[base:]) {
		name := names[base+i]
		nodes, err := expr.ParseBody(m, m.Code[i].Code)
		if err != nil {
			return s.count, withMethod(errors.DecodeFailed(name, err), MethodOperandSwapping)
		}

		before := s.count
		for _, n := range nodes {
			s.visit(n)
		}
		if s.count > before {
			Logger().Debug("operand swapping",
				zap.String("func", name),
				zap.Int("eligible", s.count-before))
			if rewrite {
				m.Code[i].Code = expr.EncodeBody(nodes)
			}
		}
	}
	return s.count, nil
}

// visit returns the effect of n after deciding every eligible node below
// and at n.
func (s *swapper) visit(n *expr.Node) expr.Effect {
	e := expr.OwnEffect(n)

	if n.Swappable() {
		lo, hi := n.Operands[0], n.Operands[1]
		if c := expr.Compare(lo, hi); c != 0 {
			if c > 0 {
				lo, hi = hi, lo
			}
			el, eh := s.visit(lo), s.visit(hi)
			if el+eh < 3 {
				s.decide(n, lo)
				s.count++
			}
			return max(e, el, eh)
		}
	}

	for _, op := range n.Operands {
		e = max(e, s.visit(op))
	}
	for _, c := range n.Body {
		e = max(e, s.visit(c))
	}
	for _, c := range n.Else {
		e = max(e, s.visit(c))
	}
	return e
}

// nameOrder returns indices into names sorted by name, ties by index.
func nameOrder(names []string) []int {
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(names[a], names[b])
	})
	return order
}
