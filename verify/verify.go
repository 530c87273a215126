// Package verify checks that a watermarked module is still valid and
// behaves like the module it was derived from.
//
// Validation compiles the module with wazero. Equivalence instantiates both
// modules against stub imports, calls every exported function with numeric
// parameters on a fixed set of sample arguments and compares results, traps
// and the sequence of import calls. The start function runs during
// instantiation; the import calls it makes are compared as well.
package verify

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-watermarker/errors"
	"github.com/wippyai/wasm-watermarker/wasm"
)

// Config tunes the wazero runtimes used for verification.
type Config struct {
	// MemoryLimitPages caps instance memory in 64KB pages. 0 means the
	// wazero default.
	MemoryLimitPages uint32

	// CallTimeout bounds each sample call. 0 means one second.
	CallTimeout time.Duration

	// EnableThreads enables the threads proposal (experimental).
	EnableThreads bool
}

func (c *Config) runtimeConfig() wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if c == nil {
		return rc
	}
	if c.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	if c.EnableThreads {
		rc = rc.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}
	return rc
}

func (c *Config) callTimeout() time.Duration {
	if c == nil || c.CallTimeout == 0 {
		return time.Second
	}
	return c.CallTimeout
}

// Validate compiles wasmBytes and reports whether wazero accepts it.
func Validate(ctx context.Context, wasmBytes []byte, cfg *Config) error {
	r := wazero.NewRuntimeWithConfig(ctx, cfg.runtimeConfig())
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return errors.New(errors.PhaseVerify, errors.KindInvalidData).
			Cause(err).
			Detail("compile module").
			Build()
	}
	return compiled.Close(ctx)
}

// Report summarizes an equivalence check.
type Report struct {
	// Exercised lists the exported functions that were called.
	Exercised []string
	// Skipped lists exported functions with non-numeric signatures.
	Skipped []string
	// Calls is the number of sample calls made per module.
	Calls int
}

// Equivalent runs both modules on the same samples and fails with
// errors.KindMismatch on the first difference. Modules importing anything
// other than functions cannot be stubbed and fail with
// errors.KindUnsupported.
func Equivalent(ctx context.Context, original, marked []byte, cfg *Config) (Report, error) {
	for _, bin := range [][]byte{original, marked} {
		if err := checkImports(bin); err != nil {
			return Report{}, err
		}
	}

	want, err := exercise(ctx, original, cfg)
	if err != nil {
		return Report{}, err
	}
	got, err := exercise(ctx, marked, cfg)
	if err != nil {
		return Report{}, err
	}

	report := Report{Exercised: want.exercised, Skipped: want.skipped, Calls: len(want.calls)}
	if !slices.Equal(want.start, got.start) {
		return report, errors.Mismatch(errors.PhaseVerify, "imports called by start", want.start, got.start)
	}
	if !slices.Equal(want.exercised, got.exercised) {
		return report, errors.Mismatch(errors.PhaseVerify, "exercised exports", want.exercised, got.exercised)
	}
	if len(want.calls) != len(got.calls) {
		return report, errors.Mismatch(errors.PhaseVerify, "sample calls", len(want.calls), len(got.calls))
	}
	for i := range want.calls {
		w, g := want.calls[i], got.calls[i]
		if !w.equal(g) {
			return report, errors.New(errors.PhaseVerify, errors.KindMismatch).
				Func(w.name).
				Value(g).
				Detail("args %v: want %s, got %s", w.args, w.outcome(), g.outcome()).
				Build()
		}
	}

	Logger().Debug("modules equivalent",
		zap.Int("exercised", len(report.Exercised)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("calls", report.Calls))
	return report, nil
}

func checkImports(bin []byte) error {
	m, err := wasm.ParseModule(bin)
	if err != nil {
		return errors.New(errors.PhaseVerify, errors.KindInvalidData).
			Cause(err).
			Detail("parse module").
			Build()
	}
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			return errors.Unsupported(errors.PhaseVerify,
				fmt.Sprintf("non-function import %s.%s", imp.Module, imp.Name))
		}
	}
	return nil
}

// call is one sample call and its outcome.
type call struct {
	name    string
	args    []uint64
	results []uint64
	types   []api.ValueType
	imports []string
	trapped bool
}

func (c call) equal(o call) bool {
	if c.name != o.name || c.trapped != o.trapped || !slices.Equal(c.imports, o.imports) {
		return false
	}
	if c.trapped {
		return true
	}
	if len(c.results) != len(o.results) {
		return false
	}
	for i := range c.results {
		if !sameValue(c.types[i], c.results[i], o.results[i]) {
			return false
		}
	}
	return true
}

func (c call) outcome() string {
	if c.trapped {
		return "trap"
	}
	return fmt.Sprintf("%v imports %v", c.results, c.imports)
}

// sameValue compares two raw results. NaNs are equal to each other since
// their payload depends on operand order.
func sameValue(t api.ValueType, a, b uint64) bool {
	switch t {
	case api.ValueTypeF32:
		fa, fb := api.DecodeF32(a), api.DecodeF32(b)
		if math.IsNaN(float64(fa)) && math.IsNaN(float64(fb)) {
			return true
		}
	case api.ValueTypeF64:
		fa, fb := api.DecodeF64(a), api.DecodeF64(b)
		if math.IsNaN(fa) && math.IsNaN(fb) {
			return true
		}
	}
	return a == b
}

type runResult struct {
	exercised []string
	skipped   []string
	calls     []call
	// start holds the import calls made while instantiating, which is when
	// the start function runs.
	start []string
}

// exercise instantiates bin in a fresh runtime with stub imports and calls its
// numeric exports in name order.
func exercise(ctx context.Context, bin []byte, cfg *Config) (*runResult, error) {
	r := wazero.NewRuntimeWithConfig(ctx, cfg.runtimeConfig())
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.New(errors.PhaseVerify, errors.KindInvalidData).
			Cause(err).
			Detail("compile module").
			Build()
	}

	var trace []string
	if err := stubImports(ctx, r, compiled, &trace); err != nil {
		return nil, errors.Instantiation(err)
	}

	// The start section always runs. Exported WASI entry points do not.
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	exports := compiled.ExportedFunctions()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	slices.Sort(names)

	res := &runResult{start: slices.Clone(trace)}
	for _, name := range names {
		def := exports[name]
		if !numeric(def.ParamTypes()) || !numeric(def.ResultTypes()) {
			res.skipped = append(res.skipped, name)
			continue
		}
		res.exercised = append(res.exercised, name)

		fn := mod.ExportedFunction(name)
		for _, args := range sampleArgs(def.ParamTypes()) {
			trace = trace[:0]
			c := call{name: name, args: args, types: def.ResultTypes()}

			callCtx, cancel := context.WithTimeout(ctx, cfg.callTimeout())
			results, err := fn.Call(callCtx, args...)
			cancel()

			if err != nil {
				c.trapped = true
				Logger().Debug("call trapped", zap.String("func", name), zap.Error(err))
			} else {
				c.results = slices.Clone(results)
			}
			c.imports = slices.Clone(trace)
			res.calls = append(res.calls, c)

			// A timed out call closes the module.
			if mod.IsClosed() {
				return nil, errors.New(errors.PhaseVerify, errors.KindInstantiation).
					Func(name).
					Cause(err).
					Detail("module closed during calls").
					Build()
			}
		}
	}
	return res, nil
}

// stubImports instantiates a host module for every imported module name.
// Stubs record their calls in trace and return zeros.
func stubImports(ctx context.Context, r wazero.Runtime, compiled wazero.CompiledModule, trace *[]string) error {
	builders := make(map[string]wazero.HostModuleBuilder)
	var order []string

	for _, fn := range compiled.ImportedFunctions() {
		modName, funcName, _ := fn.Import()
		b, ok := builders[modName]
		if !ok {
			b = r.NewHostModuleBuilder(modName)
			builders[modName] = b
			order = append(order, modName)
		}

		params, results := fn.ParamTypes(), fn.ResultTypes()
		label := modName + "." + funcName
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
				*trace = append(*trace, fmt.Sprintf("%s%v", label, stack[:len(params)]))
				for i := range results {
					stack[i] = 0
				}
			}), params, results).
			Export(funcName)
	}

	for _, name := range order {
		if _, err := builders[name].Instantiate(ctx); err != nil {
			return fmt.Errorf("stub %q: %w", name, err)
		}
	}
	return nil
}

func numeric(types []api.ValueType) bool {
	for _, t := range types {
		switch t {
		case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		default:
			return false
		}
	}
	return true
}

// sampleValues are the integer seeds of the sample argument vectors. Argument
// i of vector j is seeded with sampleValues[(i+j) % len].
var sampleValues = []int64{0, 1, -1, 2, 7, 42, -1000, math.MaxInt32, math.MinInt32}

func sampleArgs(params []api.ValueType) [][]uint64 {
	if len(params) == 0 {
		return [][]uint64{nil}
	}
	vectors := make([][]uint64, len(sampleValues))
	for j := range vectors {
		args := make([]uint64, len(params))
		for i, t := range params {
			v := sampleValues[(i+j)%len(sampleValues)]
			switch t {
			case api.ValueTypeI32:
				args[i] = api.EncodeI32(int32(v))
			case api.ValueTypeI64:
				args[i] = api.EncodeI64(v * 1_000_003)
			case api.ValueTypeF32:
				args[i] = api.EncodeF32(float32(v) / 4)
			case api.ValueTypeF64:
				args[i] = api.EncodeF64(float64(v) / 8)
			}
		}
		vectors[j] = args
	}
	return vectors
}

// Summary renders a report for logs and the CLI.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d exports exercised with %d calls", len(r.Exercised), r.Calls)
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, ", skipped %s", strings.Join(r.Skipped, ", "))
	}
	return b.String()
}
