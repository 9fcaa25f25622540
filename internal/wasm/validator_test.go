package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateModule_RejectsMultipleMemories(t *testing.T) {
	m := &Module{
		MemorySection: []MemoryType{{Limits: Limits{Min: 1}}, {Limits: Limits{Min: 1}}},
	}
	_, err := ValidateModule(m)
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestValidateModule_RejectsMultipleTables(t *testing.T) {
	m := &Module{
		TableSection: []TableType{
			{ElementType: TableElementTypeFuncRef, Limits: Limits{Min: 1}},
			{ElementType: TableElementTypeFuncRef, Limits: Limits{Min: 1}},
		},
	}
	_, err := ValidateModule(m)
	require.Error(t, err)
}

func TestValidateModule_RejectsOperandTypeMismatch(t *testing.T) {
	// fn() -> i32 { i32.const 1; f32.const 2.0 } -- leaves an f32 where an
	// i32 result was declared.
	m := &Module{
		TypeSection:     []FunctionType{{Results: []ValueType{ValueTypeI32}}},
		FunctionSection: []Index{0},
		CodeSection: []Code{{Body: []byte{
			OpcodeI32Const, 0x01,
			OpcodeF32Const, 0x00, 0x00, 0x00, 0x00,
			OpcodeEnd,
		}}},
	}
	_, err := ValidateModule(m)
	require.Error(t, err)
}

func TestValidateModule_RejectsBranchDepthOutOfRange(t *testing.T) {
	// The function body itself is the only control frame in scope (depth
	// 0); br 1 has nothing to target.
	m := &Module{
		TypeSection:     []FunctionType{{}},
		FunctionSection: []Index{0},
		CodeSection: []Code{{Body: []byte{
			OpcodeBr, 0x01,
			OpcodeEnd,
		}}},
	}
	_, err := ValidateModule(m)
	require.Error(t, err)
}

func TestValidateModule_AcceptsWellTypedFunction(t *testing.T) {
	m := &Module{
		TypeSection:     []FunctionType{{Params: []ValueType{ValueTypeI32, ValueTypeI32}, Results: []ValueType{ValueTypeI32}}},
		FunctionSection: []Index{0},
		CodeSection: []Code{{Body: []byte{
			OpcodeGetLocal, 0x00,
			OpcodeGetLocal, 0x01,
			OpcodeI32Add,
			OpcodeEnd,
		}}},
	}
	labels, err := ValidateModule(m)
	require.NoError(t, err)
	require.Len(t, labels, 1)
}
