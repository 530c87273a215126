// Package wasm reads and writes core WebAssembly binary modules for the
// watermarker.
//
// The watermarker reorders exports, permutes the defined functions and
// rewrites function bodies, so a Module decodes every section that can
// refer to a function by index. Tag, data count and data sections stay
// encoded in Module.Opaque. Custom sections keep their position.
//
//	m, err := wasm.ParseModule(data)
//	if err != nil {
//	    return err
//	}
//	out := m.Encode()
//
// # Instructions
//
// Function bodies are stored encoded. DecodeInstructions turns a body into a
// flat instruction list and EncodeInstructions turns it back:
//
//	instrs, err := wasm.DecodeInstructions(m.Code[0].Code)
//	code := wasm.EncodeInstructions(instrs)
//
// MVP, sign extension, multi-value, reference types, bulk memory, SIMD,
// threads, tail calls and exception handling instructions are supported. GC
// instructions (0xFB prefix) fail with ErrUnsupportedOpcode.
//
// # Function Names
//
// Names decodes the "name" custom section. FuncNames returns a name for
// every function, using the decimal function index where the section has
// none. SetFuncNames writes a full set of names back so that they survive
// reordering.
//
// # Function Order
//
// PermuteFuncs reorders the defined functions and rewrites every reference
// to a function index: calls, ref.func, exports, the start function,
// element segments, initializers and the name section.
package wasm
