// Package watermark embeds payload bits into a WebAssembly module and
// extracts them again without changing the module's behavior.
//
// Four methods are available:
//
//   - export-ordering permutes the export section,
//   - function-ordering permutes the defined functions,
//   - function-reordering does the same while tolerating equal names,
//   - operand-swapping exchanges the operands of commutative and
//     mirrorable binary operations.
//
// The permutation methods code the payload as a Lehmer code over fixed
// size chunks of the collection sorted by name (see package ordering).
// Function permutations rewrite every function index reference in the
// module. Operand swapping encodes one bit per eligible operation, in
// function name order.
//
// Embed and Extract apply a list of methods sharing one bit cursor. The
// same list and chunk size must be used for both.
package watermark
