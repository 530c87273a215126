package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-watermarker/errors"
	"github.com/wippyai/wasm-watermarker/watermark"
	"github.com/wippyai/wasm-watermarker/wasm"
)

func body(instrs ...wasm.Instruction) wasm.FuncBody {
	instrs = append(instrs, wasm.Instruction{Opcode: wasm.OpEnd})
	return wasm.FuncBody{Code: wasm.EncodeInstructions(instrs)}
}

func i32(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
}

func get(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, Imm: wasm.LocalImm{LocalIdx: idx}}
}

func callInstr(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}}
}

func op(code byte) wasm.Instruction {
	return wasm.Instruction{Opcode: code}
}

// arithModule imports env.log (i32) and defines functions over two i32
// parameters with commutative and relational operations.
func arithModule() *wasm.Module {
	binary := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}
	m := &wasm.Module{
		Types: []wasm.FuncType{
			binary,
			{Params: []wasm.ValType{wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValF64, wasm.ValF64}, Results: []wasm.ValType{wasm.ValF64}},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "log", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
		},
		Funcs: []uint32{0, 0, 0, 2, 0},
		Code: []wasm.FuncBody{
			// mix: (a*3 + b) ^ (a & b)
			body(get(0), i32(3), op(wasm.OpI32Mul), get(1), op(wasm.OpI32Add),
				get(0), get(1), op(wasm.OpI32And), op(wasm.OpI32Xor)),
			// less: a < b (signed) + (a <= b unsigned)
			body(get(0), get(1), op(wasm.OpI32LtS), get(0), get(1), op(wasm.OpI32LeU), op(wasm.OpI32Add)),
			// logged: log(a + 1); b | 8
			body(get(0), i32(1), op(wasm.OpI32Add), callInstr(0), get(1), i32(8), op(wasm.OpI32Or)),
			// fmix: a*b + min(a, b)
			body(get(0), get(1), op(wasm.OpF64Mul), get(0), get(1), op(wasm.OpF64Min), op(wasm.OpF64Add)),
			// callmix: mix(b, a) - less(a, b)
			body(get(1), get(0), callInstr(1), get(0), get(1), callInstr(2), op(wasm.OpI32Sub)),
		},
		Exports: []wasm.Export{
			{Name: "mix", Kind: wasm.KindFunc, Idx: 1},
			{Name: "less", Kind: wasm.KindFunc, Idx: 2},
			{Name: "logged", Kind: wasm.KindFunc, Idx: 3},
			{Name: "fmix", Kind: wasm.KindFunc, Idx: 4},
			{Name: "callmix", Kind: wasm.KindFunc, Idx: 5},
		},
	}
	return m
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, Validate(ctx, arithModule().Encode(), nil))

	broken := arithModule()
	broken.Code[0] = body(get(0), op(wasm.OpI32Add))
	err := Validate(ctx, broken.Encode(), nil)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseVerify, Kind: errors.KindInvalidData})
}

func TestEquivalent_Watermarked(t *testing.T) {
	ctx := context.Background()
	original := arithModule().Encode()

	for _, payload := range []string{"\x00", "\xff", "\xa5\x5a"} {
		m, err := wasm.ParseModule(original)
		require.NoError(t, err)

		res, err := watermark.Embed(m, []byte(payload), watermark.Options{
			Methods: []watermark.Method{
				watermark.MethodExportOrdering,
				watermark.MethodFunctionOrdering,
				watermark.MethodOperandSwapping,
			},
			ChunkSize: 5,
		})
		require.NoError(t, err)
		require.Positive(t, res.Bits)

		marked := m.Encode()
		require.NoError(t, Validate(ctx, marked, nil))

		report, err := Equivalent(ctx, original, marked, nil)
		require.NoError(t, err, "payload %x", payload)
		assert.Equal(t, []string{"callmix", "fmix", "less", "logged", "mix"}, report.Exercised)
		assert.Empty(t, report.Skipped)
		assert.Equal(t, 5*len(sampleValues), report.Calls)
	}
}

func TestEquivalent_Mismatch(t *testing.T) {
	ctx := context.Background()
	original := arithModule()

	changed := arithModule()
	changed.Code[0] = body(get(0), i32(4), op(wasm.OpI32Mul), get(1), op(wasm.OpI32Add),
		get(0), get(1), op(wasm.OpI32And), op(wasm.OpI32Xor))
	_, err := Equivalent(ctx, original.Encode(), changed.Encode(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseVerify, Kind: errors.KindMismatch})

	// same result, different import call
	logged := arithModule()
	logged.Code[2] = body(get(0), i32(2), op(wasm.OpI32Add), callInstr(0), get(1), i32(8), op(wasm.OpI32Or))
	_, err = Equivalent(ctx, original.Encode(), logged.Encode(), nil)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseVerify, Kind: errors.KindMismatch})
}

func TestEquivalent_UnsupportedImport(t *testing.T) {
	m := arithModule()
	m.Imports = append(m.Imports, wasm.Import{
		Module: "env", Name: "memory",
		Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}}},
	})

	_, err := Equivalent(context.Background(), m.Encode(), m.Encode(), nil)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseVerify, Kind: errors.KindUnsupported})
}

func TestSampleArgs(t *testing.T) {
	assert.Len(t, sampleArgs(nil), 1)

	vectors := sampleArgs([]api.ValueType{api.ValueTypeI32, api.ValueTypeF64})
	require.Len(t, vectors, len(sampleValues))
	assert.Len(t, vectors[0], 2)
	assert.NotEqual(t, vectors[0], vectors[1])
}

func TestReportSummary(t *testing.T) {
	r := Report{Exercised: []string{"a", "b"}, Skipped: []string{"c"}, Calls: 18}
	assert.Equal(t, "2 exports exercised with 18 calls, skipped c", r.Summary())
}

func TestEquivalent_StartFunction(t *testing.T) {
	ctx := context.Background()
	withStart := func(arg int32) *wasm.Module {
		m := arithModule()
		m.Types = append(m.Types, wasm.FuncType{})
		m.Funcs = append(m.Funcs, uint32(len(m.Types)-1))
		m.Code = append(m.Code, body(i32(arg), callInstr(0)))
		start := uint32(m.NumFuncs() - 1)
		m.Start = &start
		return m
	}

	original := withStart(7).Encode()

	m, err := wasm.ParseModule(original)
	require.NoError(t, err)
	_, err = watermark.Embed(m, []byte{0x5a}, watermark.Options{
		Methods:   []watermark.Method{watermark.MethodFunctionOrdering},
		ChunkSize: 6,
	})
	require.NoError(t, err)
	require.NotNil(t, m.Start)

	_, err = Equivalent(ctx, original, m.Encode(), nil)
	require.NoError(t, err)

	_, err = Equivalent(ctx, original, withStart(8).Encode(), nil)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseVerify, Kind: errors.KindMismatch})
}
