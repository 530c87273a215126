package watermark

import (
	"bytes"
	"encoding/binary"
	"slices"
	"strings"

	"github.com/wippyai/wasm-watermarker/bitstream"
	"github.com/wippyai/wasm-watermarker/errors"
	"github.com/wippyai/wasm-watermarker/expr"
	"github.com/wippyai/wasm-watermarker/ordering"
	"github.com/wippyai/wasm-watermarker/wasm"
)

func compareExports(a, b wasm.Export) int {
	return strings.Compare(a.Name, b.Name)
}

// EmbedExportOrdering permutes the module's exports to encode bits read
// from r and returns the number of bits consumed.
func EmbedExportOrdering(r *bitstream.CircularReader, m *wasm.Module, chunkSize int) (int, error) {
	bits, err := ordering.EmbedByOrdering(r, chunkSize, m.Exports, compareExports)
	if err != nil {
		return 0, withMethod(err, MethodExportOrdering)
	}
	return bits, nil
}

// ExtractExportOrdering writes the bits encoded by the export order to w
// and returns their number. The module is not modified.
func ExtractExportOrdering(w *bitstream.Writer, m *wasm.Module, chunkSize int) (int, error) {
	bits, err := ordering.ExtractByOrdering(w, chunkSize, m.Exports, compareExports)
	if err != nil {
		return 0, withMethod(err, MethodExportOrdering)
	}
	return bits, nil
}

// EmbedExportReordering is EmbedExportOrdering for export lists that may
// hold equal names. Exports with equal names are moved behind the distinct
// ones of their chunk and carry no bits.
func EmbedExportReordering(r *bitstream.CircularReader, m *wasm.Module, chunkSize int) (int, error) {
	bits, err := ordering.EmbedByReordering(r, chunkSize, m.Exports, compareExports)
	if err != nil {
		return 0, withMethod(err, MethodExportReordering)
	}
	return bits, nil
}

// ExtractExportReordering is the extraction counterpart of
// EmbedExportReordering.
func ExtractExportReordering(w *bitstream.Writer, m *wasm.Module, chunkSize int) (int, error) {
	bits, err := ordering.ExtractByReordering(w, chunkSize, m.Exports, compareExports)
	if err != nil {
		return 0, withMethod(err, MethodExportReordering)
	}
	return bits, nil
}

// EmbedFunctionOrdering permutes the defined functions to encode bits read
// from r. Function names are written to the name section so that the order
// key survives the permutation. The module is left untouched when any step
// fails.
func EmbedFunctionOrdering(r *bitstream.CircularReader, m *wasm.Module, chunkSize int) (int, error) {
	return embedFunctions(r, m, chunkSize, MethodFunctionOrdering, byName, ordering.EmbedByOrdering[int])
}

// ExtractFunctionOrdering writes the bits encoded by the order of the
// defined functions to w. The module is not modified.
func ExtractFunctionOrdering(w *bitstream.Writer, m *wasm.Module, chunkSize int) (int, error) {
	return extractFunctions(w, m, chunkSize, MethodFunctionOrdering, byName, ordering.ExtractByOrdering[int])
}

// EmbedFunctionReordering permutes the defined functions by content: type,
// locals and body, with called functions identified by name and swappable
// operands in a fixed order. Functions with identical content are moved
// behind the distinct ones of their chunk and carry no bits.
func EmbedFunctionReordering(r *bitstream.CircularReader, m *wasm.Module, chunkSize int) (int, error) {
	return embedFunctions(r, m, chunkSize, MethodFunctionReordering, byContent, ordering.EmbedByReordering[int])
}

// ExtractFunctionReordering is the extraction counterpart of
// EmbedFunctionReordering.
func ExtractFunctionReordering(w *bitstream.Writer, m *wasm.Module, chunkSize int) (int, error) {
	return extractFunctions(w, m, chunkSize, MethodFunctionReordering, byContent, ordering.ExtractByReordering[int])
}

type (
	permuteFunc func(r *bitstream.CircularReader, chunkSize int, s []int, cmp func(a, b int) int) (int, error)
	rankFunc    func(w *bitstream.Writer, chunkSize int, s []int, cmp func(a, b int) int) (int, error)
	// orderFunc returns a comparator over defined function positions.
	orderFunc func(m *wasm.Module, names []string) (func(a, b int) int, error)
)

func embedFunctions(r *bitstream.CircularReader, m *wasm.Module, chunkSize int, method Method, by orderFunc, permute permuteFunc) (int, error) {
	if len(m.Funcs) != len(m.Code) {
		return 0, functionCountMismatch(errors.PhaseEmbed, m, method)
	}
	names, err := m.FuncNames()
	if err != nil {
		return 0, nameSectionError(method, err)
	}
	cmp, err := by(m, names)
	if err != nil {
		return 0, withMethod(err, method)
	}

	order := identity(len(m.Code))
	bits, err := permute(r, chunkSize, order, cmp)
	if err != nil {
		return 0, withMethod(err, method)
	}

	if err := m.PermuteFuncs(order); err != nil {
		return 0, errors.New(errors.PhaseEmbed, errors.KindInvalidData).
			Method(string(method)).
			Cause(err).
			Detail("reindex functions").
			Build()
	}
	// Names are written only once PermuteFuncs has succeeded.
	base := m.NumImportedFuncs()
	permuted := slices.Clone(names[:base])
	for _, old := range order {
		permuted = append(permuted, names[base+old])
	}
	if err := m.SetFuncNames(permuted); err != nil {
		return 0, nameSectionError(method, err)
	}
	return bits, nil
}

func extractFunctions(w *bitstream.Writer, m *wasm.Module, chunkSize int, method Method, by orderFunc, rank rankFunc) (int, error) {
	if len(m.Funcs) != len(m.Code) {
		return 0, functionCountMismatch(errors.PhaseExtract, m, method)
	}
	names, err := m.FuncNames()
	if err != nil {
		return 0, nameSectionError(method, err)
	}
	cmp, err := by(m, names)
	if err != nil {
		return 0, withMethod(err, method)
	}

	bits, err := rank(w, chunkSize, identity(len(m.Code)), cmp)
	if err != nil {
		return 0, withMethod(err, method)
	}
	return bits, nil
}

func identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// byName orders defined function positions by function name.
func byName(m *wasm.Module, names []string) (func(a, b int) int, error) {
	base := m.NumImportedFuncs()
	return func(a, b int) int {
		return strings.Compare(names[base+a], names[base+b])
	}, nil
}

// byContent orders defined function positions by contentKey.
func byContent(m *wasm.Module, names []string) (func(a, b int) int, error) {
	keys := make([][]byte, len(m.Code))
	for i := range m.Code {
		key, err := contentKey(m, names, i)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return func(a, b int) int {
		return bytes.Compare(keys[a], keys[b])
	}, nil
}

// contentKey encodes the type index, locals and body of defined function i.
// Defined functions referenced from the body are keyed by name, so the key
// does not change when the functions are permuted.
func contentKey(m *wasm.Module, names []string, i int) ([]byte, error) {
	base := m.NumImportedFuncs()
	body := m.Code[i]
	nodes, err := expr.ParseBody(m, body.Code)
	if err != nil {
		return nil, errors.DecodeFailed(names[base+i], err)
	}

	key := binary.BigEndian.AppendUint32(nil, m.Funcs[i])
	key = binary.BigEndian.AppendUint32(key, uint32(len(body.Locals)))
	for _, l := range body.Locals {
		key = binary.BigEndian.AppendUint32(key, l.Count)
		key = append(key, byte(l.Type))
		key = binary.BigEndian.AppendUint64(key, uint64(l.HeapType))
	}
	return expr.AppendKey(key, nodes, func(idx uint32) (string, bool) {
		if int(idx) < base || int(idx) >= len(names) {
			return "", false
		}
		return names[idx], true
	}), nil
}

func functionCountMismatch(phase errors.Phase, m *wasm.Module, method Method) error {
	return errors.New(phase, errors.KindInvalidData).
		Method(string(method)).
		Detail("function section declares %d functions, code section has %d bodies", len(m.Funcs), len(m.Code)).
		Build()
}

func nameSectionError(method Method, err error) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Method(string(method)).
		Cause(err).
		Detail("decode name section").
		Build()
}

func withMethod(err error, method Method) error {
	return errors.WithMethod(err, string(method))
}
