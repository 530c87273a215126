// Package expr lifts flat WebAssembly instruction sequences into expression
// trees and lowers them back.
//
// Build folds every instruction whose stack inputs were produced by the
// immediately preceding, self-contained, single-valued instructions into a
// node that owns those producers as Operands. Everything else stays in the
// sequence as a sibling, so Emit(Build(x)) always reproduces x exactly. A
// binary operation with two adopted operands can be rewritten by swapping
// them (see Swap) without touching the rest of the body.
//
// Compare defines a total order over trees that is blind to such swaps:
// a swappable binary node compares as its normalized form, so an
// expression and its operand-swapped twin compare equal. Classify folds
// the side effects of a tree into None, ReadOnly or Write.
package expr
