package binary

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazerocore/wazerocore/internal/wasm"
)

// TestDecodeModule_roundTrip relies on EncodeModule, specifically that the
// encoding is both known and correct, to avoid hand-writing byte arrays for
// every case.
func TestDecodeModule_roundTrip(t *testing.T) {
	i32, f32 := wasm.ValueTypeI32, wasm.ValueTypeF32
	zero := uint32(0)

	tests := []struct {
		name  string
		input *wasm.Module
	}{
		{name: "empty", input: &wasm.Module{}},
		{
			name: "type section",
			input: &wasm.Module{
				TypeSection: []wasm.FunctionType{
					{},
					{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},
				},
			},
		},
		{
			name: "import and function section",
			input: &wasm.Module{
				TypeSection: []wasm.FunctionType{
					{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},
					{Params: []wasm.ValueType{f32, f32}, Results: []wasm.ValueType{f32}},
				},
				ImportSection: []wasm.Import{
					{Module: "math", Name: "add", Kind: wasm.ExternalKindFunction, DescFunc: 0},
				},
				FunctionSection: []wasm.Index{1},
				CodeSection:     []wasm.Code{{Body: []byte{wasm.OpcodeEnd}}},
			},
		},
		{
			name: "memory and export section",
			input: &wasm.Module{
				MemorySection: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: &zero}}},
				ExportSection: []wasm.Export{{Name: "mem", Kind: wasm.ExternalKindMemory, Index: 0}},
			},
		},
		{
			name: "start section",
			input: &wasm.Module{
				TypeSection:     []wasm.FunctionType{{}},
				FunctionSection: []wasm.Index{0},
				CodeSection:     []wasm.Code{{Body: []byte{wasm.OpcodeEnd}}},
				StartSection:    &zero,
			},
		},
		{
			name: "element and data segments",
			input: &wasm.Module{
				TypeSection:     []wasm.FunctionType{{}},
				FunctionSection: []wasm.Index{0},
				CodeSection:     []wasm.Code{{Body: []byte{wasm.OpcodeEnd}}},
				TableSection:    []wasm.TableType{{ElementType: wasm.TableElementTypeFuncRef, Limits: wasm.Limits{Min: 1}}},
				MemorySection:   []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
				ElementSection: []wasm.ElementSegment{
					{Offset: wasm.InitExpr{Opcode: wasm.OpcodeI32Const, Value: 0}, Init: []wasm.Index{0}},
				},
				DataSection: []wasm.DataSegment{
					{Offset: wasm.InitExpr{Opcode: wasm.OpcodeI32Const, Value: 0}, Init: []byte("hi")},
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeModule(tc.input)
			decoded, err := DecodeModule(bytes.NewReader(encoded))
			require.NoError(t, err)
			require.Equal(t, tc.input, decoded)
		})
	}
}

func TestDecodeModule_invalidMagic(t *testing.T) {
	_, err := DecodeModule(bytes.NewReader([]byte{0, 1, 2, 3}))
	require.Error(t, err)
}

func TestDecodeModule_unsupportedVersion(t *testing.T) {
	b := []byte{0x00, 0x61, 0x73, 0x6d, 2, 0, 0, 0}
	_, err := DecodeModule(bytes.NewReader(b))
	require.Error(t, err)
}
