package watermark

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-watermarker/bitstream"
	"github.com/wippyai/wasm-watermarker/errors"
	"github.com/wippyai/wasm-watermarker/ordering"
	"github.com/wippyai/wasm-watermarker/wasm"
)

// Method names a watermarking method.
type Method string

const (
	MethodExportOrdering     Method = "export-ordering"
	MethodExportReordering   Method = "export-reordering"
	MethodFunctionOrdering   Method = "function-ordering"
	MethodFunctionReordering Method = "function-reordering"
	MethodOperandSwapping    Method = "operand-swapping"
)

// Methods lists every method in the order Embed applies them by default.
var Methods = []Method{
	MethodExportOrdering,
	MethodFunctionOrdering,
	MethodOperandSwapping,
}

// DefaultChunkSize is the largest supported chunk size.
const DefaultChunkSize = ordering.MaxChunkSize

// ParseMethod resolves a method name.
func ParseMethod(name string) (Method, error) {
	m := Method(strings.TrimSpace(name))
	switch m {
	case MethodExportOrdering, MethodExportReordering, MethodFunctionOrdering, MethodFunctionReordering, MethodOperandSwapping:
		return m, nil
	}
	return "", errors.New(errors.PhaseConfig, errors.KindUnsupported).
		Value(name).
		Detail("unknown method %q", name).
		Build()
}

// ParseMethods resolves a list of method names. Each element may itself be
// a comma separated list.
func ParseMethods(names []string) ([]Method, error) {
	var methods []Method
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			m, err := ParseMethod(part)
			if err != nil {
				return nil, err
			}
			methods = append(methods, m)
		}
	}
	return methods, nil
}

// Options selects the methods applied by Embed and Extract.
type Options struct {
	// Methods are applied in order. Empty means Methods.
	Methods []Method
	// ChunkSize is the permutation chunk size. Zero means DefaultChunkSize.
	ChunkSize int
}

func (o Options) methods() []Method {
	if len(o.Methods) == 0 {
		return Methods
	}
	return o.Methods
}

func (o Options) chunkSize() int {
	if o.ChunkSize == 0 {
		return DefaultChunkSize
	}
	return o.ChunkSize
}

// MethodBits is the number of bits one method embedded or extracted.
type MethodBits struct {
	Method Method
	Bits   int
}

// Result reports the outcome of Embed or Extract.
type Result struct {
	Methods []MethodBits
	// Bits is the total number of bits processed.
	Bits int
	// Payload holds the extracted bits, zero padded to whole bytes.
	// It is nil for Embed.
	Payload []byte
}

// Embed writes payload into m using the selected methods. The payload is
// repeated when the module has more capacity than payload bits. Methods
// applied before a failing one are not rolled back.
func Embed(m *wasm.Module, payload []byte, opts Options) (Result, error) {
	r, err := bitstream.NewCircularReader(payload)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, method := range opts.methods() {
		var bits int
		switch method {
		case MethodExportOrdering:
			bits, err = EmbedExportOrdering(r, m, opts.chunkSize())
		case MethodExportReordering:
			bits, err = EmbedExportReordering(r, m, opts.chunkSize())
		case MethodFunctionOrdering:
			bits, err = EmbedFunctionOrdering(r, m, opts.chunkSize())
		case MethodFunctionReordering:
			bits, err = EmbedFunctionReordering(r, m, opts.chunkSize())
		case MethodOperandSwapping:
			bits, err = EmbedOperandSwapping(r, m)
		default:
			err = unknownMethod(errors.PhaseEmbed, method)
		}
		if err != nil {
			return res, err
		}

		Logger().Debug("embedded", zap.String("method", string(method)), zap.Int("bits", bits))
		res.add(method, bits)
	}

	if res.Bits < r.SizeBits() {
		Logger().Warn("payload truncated",
			zap.Int("payload_bits", r.SizeBits()),
			zap.Int("embedded_bits", res.Bits))
	}
	return res, nil
}

// Extract reads the bits embedded by the selected methods. m is not
// modified.
func Extract(m *wasm.Module, opts Options) (Result, error) {
	w := &bitstream.Writer{}

	var res Result
	for _, method := range opts.methods() {
		var (
			bits int
			err  error
		)
		switch method {
		case MethodExportOrdering:
			bits, err = ExtractExportOrdering(w, m, opts.chunkSize())
		case MethodExportReordering:
			bits, err = ExtractExportReordering(w, m, opts.chunkSize())
		case MethodFunctionOrdering:
			bits, err = ExtractFunctionOrdering(w, m, opts.chunkSize())
		case MethodFunctionReordering:
			bits, err = ExtractFunctionReordering(w, m, opts.chunkSize())
		case MethodOperandSwapping:
			bits, err = ExtractOperandSwapping(w, m)
		default:
			err = unknownMethod(errors.PhaseExtract, method)
		}
		if err != nil {
			return res, err
		}

		Logger().Debug("extracted", zap.String("method", string(method)), zap.Int("bits", bits))
		res.add(method, bits)
	}

	res.Payload = w.Bytes()
	return res, nil
}

func (r *Result) add(method Method, bits int) {
	r.Methods = append(r.Methods, MethodBits{Method: method, Bits: bits})
	r.Bits += bits
}

func unknownMethod(phase errors.Phase, method Method) error {
	return errors.New(phase, errors.KindUnsupported).
		Method(string(method)).
		Detail("unknown method").
		Build()
}

// Stats describes the watermark capacity of a module.
type Stats struct {
	Capacity       map[Method]int
	Funcs          int
	DefinedFuncs   int
	ImportedFuncs  int
	Exports        int
	SwappableNodes int
}

// Stat counts the module's entities and the bits each method can carry
// with the given chunk size.
func Stat(m *wasm.Module, chunkSize int) (Stats, error) {
	if chunkSize < ordering.MinChunkSize || chunkSize > ordering.MaxChunkSize {
		return Stats{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(chunkSize).
			Detail("chunk size %d out of range [%d, %d]", chunkSize, ordering.MinChunkSize, ordering.MaxChunkSize).
			Build()
	}

	st := Stats{
		Funcs:         m.NumFuncs(),
		DefinedFuncs:  len(m.Code),
		ImportedFuncs: m.NumImportedFuncs(),
		Exports:       len(m.Exports),
	}

	swappable, err := countSwappable(m)
	if err != nil {
		return st, err
	}
	st.SwappableNodes = swappable

	names, err := m.FuncNames()
	if err != nil {
		return st, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "decode name section")
	}
	keys := make([]string, len(m.Code))
	for i := range m.Code {
		key, err := contentKey(m, names, i)
		if err != nil {
			return st, err
		}
		keys[i] = string(key)
	}
	exportNames := make([]string, len(m.Exports))
	for i, e := range m.Exports {
		exportNames[i] = e.Name
	}

	st.Capacity = map[Method]int{
		MethodExportOrdering:     ordering.TotalCapacity(st.Exports, chunkSize),
		MethodExportReordering:   reorderingCapacity(exportNames, chunkSize),
		MethodFunctionOrdering:   ordering.TotalCapacity(len(m.Code), chunkSize),
		MethodFunctionReordering: reorderingCapacity(keys, chunkSize),
		MethodOperandSwapping:    swappable,
	}
	return st, nil
}

// reorderingCapacity counts the bits carried by the distinct keys of each
// chunk.
func reorderingCapacity(keys []string, chunkSize int) int {
	bits := 0
	for i := 0; i < len(keys); i += chunkSize {
		distinct := make(map[string]struct{})
		for _, key := range keys[i:min(i+chunkSize, len(keys))] {
			distinct[key] = struct{}{}
		}
		bits += ordering.Capacity(len(distinct))
	}
	return bits
}

// String renders the per-method capacities in a fixed order.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "functions: %d (%d imported, %d defined)\n", s.Funcs, s.ImportedFuncs, s.DefinedFuncs)
	fmt.Fprintf(&b, "exports: %d\n", s.Exports)
	fmt.Fprintf(&b, "swappable operations: %d\n", s.SwappableNodes)
	for _, m := range []Method{MethodExportOrdering, MethodExportReordering, MethodFunctionOrdering, MethodFunctionReordering, MethodOperandSwapping} {
		fmt.Fprintf(&b, "%s: %d bits\n", m, s.Capacity[m])
	}
	return b.String()
}
