package watermark_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-watermarker/bitstream"
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

func call(idx uint32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpCall, Imm: wasm.CallImm{FuncIdx: idx}}
}

func op(code byte) wasm.Instruction {
	return wasm.Instruction{Opcode: code}
}

// testModule builds a module with one imported function and n defined
// functions of type (i32) -> i32. Defined function k (index k, k >= 1)
// computes (x + k) ^ (k+1) and passes the result to function k%n + 1.
// Every defined function is exported as "f<k>" and has two swappable
// operations.
func testModule(n int) *wasm.Module {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "tick", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 1}},
		},
	}
	for k := 1; k <= n; k++ {
		m.Funcs = append(m.Funcs, 0)
		m.Code = append(m.Code, body(
			get(0), i32(int32(k)), op(wasm.OpI32Add),
			i32(int32(k+1)), op(wasm.OpI32Xor),
			call(uint32(k%n+1)),
		))
		m.Exports = append(m.Exports, wasm.Export{Name: "f" + strconv.Itoa(k), Kind: wasm.KindFunc, Idx: uint32(k)})
	}
	return m
}

func reader(t *testing.T, payload string) *bitstream.CircularReader {
	t.Helper()
	r, err := bitstream.NewCircularReaderString(payload)
	require.NoError(t, err)
	return r
}

// bitAt returns bit i of data, most significant first.
func bitAt(data []byte, i int) bool {
	return data[i/8]&(0x80>>(i%8)) != 0
}

// requireRepeats checks that the first n bits of got repeat payload.
func requireRepeats(t *testing.T, payload, got []byte, n int) {
	t.Helper()
	size := len(payload) * 8
	for i := 0; i < n; i++ {
		require.Equal(t, bitAt(payload, i%size), bitAt(got, i), "bit %d", i)
	}
}

func TestOperandSwapping_SingleAdd(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Results: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{body(i32(1), i32(2), op(wasm.OpI32Add))},
	}

	bits, err := watermark.EmbedOperandSwapping(reader(t, "\x80"), m)
	require.NoError(t, err)
	assert.Equal(t, 1, bits)
	assert.Equal(t, body(i32(2), i32(1), op(wasm.OpI32Add)).Code, m.Code[0].Code)

	for range 2 {
		w := &bitstream.Writer{}
		bits, err = watermark.ExtractOperandSwapping(w, m)
		require.NoError(t, err)
		assert.Equal(t, 1, bits)
		assert.Equal(t, []byte{0x80}, w.Bytes())
	}

	// bit 0 keeps the smaller operand on the left
	m.Code[0] = body(i32(1), i32(2), op(wasm.OpI32Add))
	_, err = watermark.EmbedOperandSwapping(reader(t, "\x00"), m)
	require.NoError(t, err)
	assert.Equal(t, body(i32(1), i32(2), op(wasm.OpI32Add)).Code, m.Code[0].Code)
}

func TestOperandSwapping_Relational(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{body(get(0), get(1), op(wasm.OpI32LtS))},
	}

	_, err := watermark.EmbedOperandSwapping(reader(t, "\xff"), m)
	require.NoError(t, err)
	assert.Equal(t, body(get(1), get(0), op(wasm.OpI32GtS)).Code, m.Code[0].Code)
}

func TestOperandSwapping_Eligibility(t *testing.T) {
	tests := []struct {
		name   string
		instrs []wasm.Instruction
		want   int
	}{
		{"write and read", []wasm.Instruction{call(0), get(0), op(wasm.OpI32Add)}, 0},
		{"write and none", []wasm.Instruction{call(0), i32(3), op(wasm.OpI32Add)}, 1},
		{"read and read", []wasm.Instruction{get(0), get(1), op(wasm.OpI32Mul)}, 1},
		{"write and write", []wasm.Instruction{call(0), call(0), op(wasm.OpI32Add)}, 0},
		{"equal operands", []wasm.Instruction{get(0), get(0), op(wasm.OpI32Add)}, 0},
		{"not swappable", []wasm.Instruction{get(0), get(1), op(wasm.OpI32Sub)}, 0},
		{"nested", []wasm.Instruction{get(0), i32(1), op(wasm.OpI32And), get(1), i32(2), op(wasm.OpI32Or), op(wasm.OpI32Eq)}, 3},
		{
			"inside block",
			[]wasm.Instruction{
				{Opcode: wasm.OpBlock, Imm: wasm.BlockImm{Type: wasm.BlockTypeI32}},
				get(0), i32(1), op(wasm.OpI32Add),
				op(wasm.OpEnd),
			},
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &wasm.Module{
				Types: []wasm.FuncType{
					{Results: []wasm.ValType{wasm.ValI32}},
					{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
				},
				Funcs: []uint32{0, 1},
				Code:  []wasm.FuncBody{body(i32(0)), body(tt.instrs...)},
			}
			w := &bitstream.Writer{}
			bits, err := watermark.ExtractOperandSwapping(w, m)
			require.NoError(t, err)
			assert.Equal(t, tt.want, bits)
			assert.Equal(t, tt.want, w.Position())
		})
	}
}

func TestOperandSwapping_RoundTrip(t *testing.T) {
	m := testModule(12)
	payload := []byte{0xC5, 0x3A, 0x0F}

	bits, err := watermark.EmbedOperandSwapping(reader(t, string(payload)), m)
	require.NoError(t, err)
	assert.Equal(t, 24, bits)

	decoded, err := wasm.ParseModule(m.Encode())
	require.NoError(t, err)

	w := &bitstream.Writer{}
	got, err := watermark.ExtractOperandSwapping(w, decoded)
	require.NoError(t, err)
	assert.Equal(t, bits, got)
	assert.Equal(t, payload, w.Bytes())
}

func TestOperandSwapping_BadBody(t *testing.T) {
	m := testModule(2)
	m.Code[1].Code = []byte{wasm.OpI32Const}

	_, err := watermark.ExtractOperandSwapping(&bitstream.Writer{}, m)
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData})
}

func TestExportOrdering_RoundTrip(t *testing.T) {
	m := testModule(7)
	payload := []byte{0xB6}

	bits, err := watermark.EmbedExportOrdering(reader(t, string(payload)), m, 7)
	require.NoError(t, err)
	assert.Equal(t, 12, bits)

	w := &bitstream.Writer{}
	got, err := watermark.ExtractExportOrdering(w, m, 7)
	require.NoError(t, err)
	assert.Equal(t, bits, got)
	requireRepeats(t, payload, w.Bytes(), bits)

	// exports keep their targets
	for _, e := range m.Exports {
		assert.Equal(t, "f"+strconv.Itoa(int(e.Idx)), e.Name)
	}
}

func TestFunctionOrdering_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		embed   func(*bitstream.CircularReader, *wasm.Module, int) (int, error)
		extract func(*bitstream.Writer, *wasm.Module, int) (int, error)
	}{
		{"ordering", watermark.EmbedFunctionOrdering, watermark.ExtractFunctionOrdering},
		{"reordering", watermark.EmbedFunctionReordering, watermark.ExtractFunctionReordering},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testModule(9)
			payload := []byte{0x5A, 0xE1}

			bits, err := tt.embed(reader(t, string(payload)), m, 5)
			require.NoError(t, err)
			assert.Equal(t, 6+4, bits)

			decoded, err := wasm.ParseModule(m.Encode())
			require.NoError(t, err)

			w := &bitstream.Writer{}
			got, err := tt.extract(w, decoded, 5)
			require.NoError(t, err)
			assert.Equal(t, bits, got)
			requireRepeats(t, payload, w.Bytes(), bits)

			requireCallsFollowNames(t, decoded)
		})
	}
}

// requireCallsFollowNames checks that function "k" still calls function
// "k%n+1" and export "fk" still points at function "k".
func requireCallsFollowNames(t *testing.T, m *wasm.Module) {
	t.Helper()
	names, err := m.FuncNames()
	require.NoError(t, err)

	n := len(m.Code)
	base := m.NumImportedFuncs()
	for i := range m.Code {
		k, err := strconv.Atoi(names[base+i])
		require.NoError(t, err)

		instrs, err := wasm.DecodeInstructions(m.Code[i].Code)
		require.NoError(t, err)
		target := instrs[len(instrs)-2].Imm.(wasm.CallImm).FuncIdx
		assert.Equal(t, strconv.Itoa(k%n+1), names[target], "callee of %d", k)
	}
	for _, e := range m.Exports {
		assert.Equal(t, e.Name, "f"+names[e.Idx])
	}
}

func TestFunctionOrdering_DuplicateNames(t *testing.T) {
	m := testModule(4)
	m.SetNames(&wasm.Names{Funcs: wasm.NameMap{
		{Idx: 1, Name: "same"},
		{Idx: 2, Name: "same"},
		{Idx: 3, Name: "other"},
		{Idx: 4, Name: "last"},
	}})
	before := m.Encode()

	_, err := watermark.EmbedFunctionOrdering(reader(t, "\xff"), m, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEmbed, Kind: errors.KindInvalidInput})
	assert.Equal(t, before, m.Encode())

	// reordering compares content, so equal names do not matter
	bits, err := watermark.EmbedFunctionReordering(reader(t, "\xff"), m, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, bits)

	w := &bitstream.Writer{}
	got, err := watermark.ExtractFunctionReordering(w, m, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Equal(t, []byte{0xF0}, w.Bytes())
}

// twinModule has four defined functions of type (i32) -> i32. The first
// and the third have identical bodies.
func twinModule() *wasm.Module {
	m := &wasm.Module{
		Types: []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
	}
	for _, b := range []wasm.FuncBody{
		body(get(0), i32(5), op(wasm.OpI32Add)),
		body(get(0), i32(6), op(wasm.OpI32Add)),
		body(get(0), i32(5), op(wasm.OpI32Add)),
		body(get(0), i32(7), op(wasm.OpI32Mul)),
	} {
		m.Funcs = append(m.Funcs, 0)
		m.Code = append(m.Code, b)
	}
	return m
}

func TestFunctionReordering_IdenticalBodies(t *testing.T) {
	m := twinModule()
	require.NoError(t, m.SetFuncNames([]string{"a", "b", "c", "d"}))

	_, err := watermark.EmbedFunctionOrdering(reader(t, "\xff"), twinModule(), 4)
	require.NoError(t, err, "names are distinct by default")

	bits, err := watermark.EmbedFunctionReordering(reader(t, "\xc0"), m, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, bits, "three distinct bodies")

	decoded, err := wasm.ParseModule(m.Encode())
	require.NoError(t, err)

	w := &bitstream.Writer{}
	got, err := watermark.ExtractFunctionReordering(w, decoded, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, []byte{0xC0}, w.Bytes())

	// names travel with their bodies
	names, err := decoded.FuncNames()
	require.NoError(t, err)
	want := map[string][]byte{
		"a": twinModule().Code[0].Code,
		"b": twinModule().Code[1].Code,
		"c": twinModule().Code[2].Code,
		"d": twinModule().Code[3].Code,
	}
	for i, name := range names {
		assert.Equal(t, want[name], decoded.Code[i].Code, "body of %s", name)
	}
}

func TestFunctionReordering_ThenOperandSwapping(t *testing.T) {
	m := twinModule()
	payload := []byte{0xA5}
	opts := watermark.Options{
		Methods:   []watermark.Method{watermark.MethodFunctionReordering, watermark.MethodOperandSwapping},
		ChunkSize: 4,
	}

	res, err := watermark.Embed(m, payload, opts)
	require.NoError(t, err)
	require.Len(t, res.Methods, 2)
	assert.Equal(t, 2, res.Methods[0].Bits)
	assert.Equal(t, 4, res.Methods[1].Bits)

	decoded, err := wasm.ParseModule(m.Encode())
	require.NoError(t, err)

	out, err := watermark.Extract(decoded, opts)
	require.NoError(t, err)
	assert.Equal(t, res.Methods, out.Methods)
	requireRepeats(t, payload, out.Payload, out.Bits)
}

func TestFunctionOrdering_BadBodyLeavesModule(t *testing.T) {
	tests := []struct {
		name  string
		embed func(*bitstream.CircularReader, *wasm.Module, int) (int, error)
		phase errors.Phase
	}{
		{"ordering", watermark.EmbedFunctionOrdering, errors.PhaseEmbed},
		{"reordering", watermark.EmbedFunctionReordering, errors.PhaseDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testModule(3)
			m.Code[1].Code = []byte{wasm.OpI32Const}
			before := m.Encode()

			_, err := tt.embed(reader(t, "\xff"), m, 3)
			require.Error(t, err)
			assert.ErrorIs(t, err, &errors.Error{Phase: tt.phase, Kind: errors.KindInvalidData})
			assert.Empty(t, m.CustomSections, "name section written")
			assert.Equal(t, before, m.Encode())
		})
	}
}

func TestExportReordering_RoundTrip(t *testing.T) {
	m := testModule(5)

	bits, err := watermark.EmbedExportReordering(reader(t, "\xff"), m, 5)
	require.NoError(t, err)
	assert.Equal(t, 6, bits, "distinct names carry as much as export-ordering")

	m = testModule(5)
	m.Exports[3].Name = m.Exports[1].Name
	payload := []byte{0x90}

	bits, err = watermark.EmbedExportReordering(reader(t, string(payload)), m, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, bits)

	_, err = watermark.EmbedExportOrdering(reader(t, "\xff"), m, 5)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEmbed, Kind: errors.KindInvalidInput})

	w := &bitstream.Writer{}
	got, err := watermark.ExtractExportReordering(w, m, 5)
	require.NoError(t, err)
	assert.Equal(t, bits, got)
	requireRepeats(t, payload, w.Bytes(), bits)
}

func TestEmbedExtract(t *testing.T) {
	m := testModule(10)
	payload := []byte("wm")
	opts := watermark.Options{
		Methods: []watermark.Method{
			watermark.MethodExportOrdering,
			watermark.MethodFunctionOrdering,
			watermark.MethodOperandSwapping,
		},
		ChunkSize: 10,
	}

	res, err := watermark.Embed(m, payload, opts)
	require.NoError(t, err)
	require.Len(t, res.Methods, 3)
	assert.Equal(t, 21, res.Methods[0].Bits)
	assert.Equal(t, 21, res.Methods[1].Bits)
	assert.Equal(t, 20, res.Methods[2].Bits)
	assert.Equal(t, 62, res.Bits)
	assert.Nil(t, res.Payload)

	decoded, err := wasm.ParseModule(m.Encode())
	require.NoError(t, err)

	out, err := watermark.Extract(decoded, opts)
	require.NoError(t, err)
	assert.Equal(t, res.Methods, out.Methods)
	requireRepeats(t, payload, out.Payload, out.Bits)
	assert.Equal(t, payload, out.Payload[:2])
}

func TestEmbed_Errors(t *testing.T) {
	m := testModule(3)

	_, err := watermark.Embed(m, nil, watermark.Options{})
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEmbed, Kind: errors.KindInvalidInput})

	_, err = watermark.Embed(m, []byte{1}, watermark.Options{ChunkSize: 21})
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEmbed, Kind: errors.KindInvalidInput})

	_, err = watermark.Embed(m, []byte{1}, watermark.Options{Methods: []watermark.Method{"shuffle"}})
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEmbed, Kind: errors.KindUnsupported})

	_, err = watermark.Extract(m, watermark.Options{ChunkSize: 1})
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseExtract, Kind: errors.KindInvalidInput})
}

func TestParseMethods(t *testing.T) {
	methods, err := watermark.ParseMethods([]string{"export-ordering, operand-swapping", "function-reordering"})
	require.NoError(t, err)
	assert.Equal(t, []watermark.Method{
		watermark.MethodExportOrdering,
		watermark.MethodOperandSwapping,
		watermark.MethodFunctionReordering,
	}, methods)

	_, err = watermark.ParseMethods([]string{"export-ordering,bogus"})
	assert.Error(t, err)
}

func TestStat(t *testing.T) {
	m := testModule(10)

	st, err := watermark.Stat(m, 20)
	require.NoError(t, err)
	assert.Equal(t, 11, st.Funcs)
	assert.Equal(t, 1, st.ImportedFuncs)
	assert.Equal(t, 10, st.DefinedFuncs)
	assert.Equal(t, 10, st.Exports)
	assert.Equal(t, 20, st.SwappableNodes)
	assert.Equal(t, 21, st.Capacity[watermark.MethodExportOrdering])
	assert.Equal(t, 21, st.Capacity[watermark.MethodExportReordering])
	assert.Equal(t, 21, st.Capacity[watermark.MethodFunctionOrdering])
	assert.Equal(t, 21, st.Capacity[watermark.MethodFunctionReordering])
	assert.Equal(t, 20, st.Capacity[watermark.MethodOperandSwapping])
	assert.Contains(t, st.String(), "operand-swapping: 20 bits")

	_, err = watermark.Stat(m, 1)
	assert.Error(t, err)

	st, err = watermark.Stat(twinModule(), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Capacity[watermark.MethodFunctionOrdering])
	assert.Equal(t, 2, st.Capacity[watermark.MethodFunctionReordering])

	bad := testModule(2)
	bad.Code[0].Code = []byte{wasm.OpI32Const}
	_, err = watermark.Stat(bad, 4)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData})
}
