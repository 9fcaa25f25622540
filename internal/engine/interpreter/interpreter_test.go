package interpreter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

// buildAndInstantiate validates and instantiates m against resolver (nil
// becomes an empty MultiResolver), failing the test on any error.
func buildAndInstantiate(t *testing.T, m *wasm.Module, resolver wasm.ImportResolver) *wasm.ModuleInstance {
	t.Helper()
	labels, err := wasm.ValidateModule(m)
	require.NoError(t, err)
	if resolver == nil {
		resolver = wasm.MultiResolver{}
	}
	store := wasm.NewStore(context.Background())
	mi, err := wasm.Instantiate(context.Background(), store, "test", m, labels, resolver, wasm.InstantiateConfig{})
	require.NoError(t, err)
	return mi
}

// i32i32Type is the (i32,i32)->i32 function type shared by several cases.
var i32i32Type = wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}

func TestCallFunction_AddTwoConstants(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{i32i32Type},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Name: "add", Kind: wasm.ExternalKindFunction, Index: 0}},
		CodeSection: []wasm.Code{{Body: []byte{
			wasm.OpcodeGetLocal, 0x00,
			wasm.OpcodeGetLocal, 0x01,
			wasm.OpcodeI32Add,
			wasm.OpcodeEnd,
		}}},
	}
	mi := buildAndInstantiate(t, m, nil)

	fn := mi.Exports["add"].Func
	results, err := CallFunction(context.Background(), fn, []uint64{api.EncodeI32(20), api.EncodeI32(22)})
	require.NoError(t, err)
	require.Equal(t, []uint64{api.EncodeI32(42)}, results)
}

func TestCallFunction_FactorialViaLoop(t *testing.T) {
	// acc = 1; block { loop { if n==0 br 1; acc*=n; n-=1; br 0 } }; return acc
	body := []byte{
		wasm.OpcodeI32Const, 0x01,
		wasm.OpcodeSetLocal, 0x01,

		wasm.OpcodeBlock, 0x40,
		wasm.OpcodeLoop, 0x40,

		wasm.OpcodeGetLocal, 0x00,
		wasm.OpcodeI32Eqz,
		wasm.OpcodeBrIf, 0x01,

		wasm.OpcodeGetLocal, 0x01,
		wasm.OpcodeGetLocal, 0x00,
		wasm.OpcodeI32Mul,
		wasm.OpcodeSetLocal, 0x01,

		wasm.OpcodeGetLocal, 0x00,
		wasm.OpcodeI32Const, 0x01,
		wasm.OpcodeI32Sub,
		wasm.OpcodeSetLocal, 0x00,

		wasm.OpcodeBr, 0x00,
		wasm.OpcodeEnd, // loop
		wasm.OpcodeEnd, // block

		wasm.OpcodeGetLocal, 0x01,
		wasm.OpcodeEnd, // function
	}
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Name: "fac", Kind: wasm.ExternalKindFunction, Index: 0}},
		CodeSection:     []wasm.Code{{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32}, Body: body}},
	}
	mi := buildAndInstantiate(t, m, nil)

	fn := mi.Exports["fac"].Func
	results, err := CallFunction(context.Background(), fn, []uint64{api.EncodeI32(5)})
	require.NoError(t, err)
	require.Equal(t, []uint64{api.EncodeI32(120)}, results)
}

func TestCallFunction_CallIndirect(t *testing.T) {
	// type 0: (i32,i32)->i32. func 0: add(x,y). func 1: sub(x,y). func 2:
	// dispatch(tableIdx, x, y) = call_indirect type 0 against table[tableIdx].
	dispatchType := wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{i32i32Type, dispatchType},
		FunctionSection: []wasm.Index{0, 0, 1},
		TableSection:    []wasm.TableType{{ElementType: wasm.TableElementTypeFuncRef, Limits: wasm.Limits{Min: 2}}},
		ExportSection:   []wasm.Export{{Name: "dispatch", Kind: wasm.ExternalKindFunction, Index: 2}},
		ElementSection: []wasm.ElementSegment{{
			Offset: wasm.InitExpr{Opcode: wasm.OpcodeI32Const, Value: api.EncodeI32(0)},
			Init:   []wasm.Index{0, 1},
		}},
		CodeSection: []wasm.Code{
			{Body: []byte{wasm.OpcodeGetLocal, 0x00, wasm.OpcodeGetLocal, 0x01, wasm.OpcodeI32Add, wasm.OpcodeEnd}},
			{Body: []byte{wasm.OpcodeGetLocal, 0x00, wasm.OpcodeGetLocal, 0x01, wasm.OpcodeI32Sub, wasm.OpcodeEnd}},
			{Body: []byte{
				wasm.OpcodeGetLocal, 0x01, // x
				wasm.OpcodeGetLocal, 0x02, // y
				wasm.OpcodeGetLocal, 0x00, // table index
				wasm.OpcodeCallIndirect, 0x00, 0x00, // type 0, table 0 (reserved byte)
				wasm.OpcodeEnd,
			}},
		},
	}
	mi := buildAndInstantiate(t, m, nil)
	fn := mi.Exports["dispatch"].Func

	results, err := CallFunction(context.Background(), fn, []uint64{api.EncodeI32(0), api.EncodeI32(10), api.EncodeI32(3)})
	require.NoError(t, err)
	require.Equal(t, []uint64{api.EncodeI32(13)}, results) // table[0] = add

	results, err = CallFunction(context.Background(), fn, []uint64{api.EncodeI32(1), api.EncodeI32(10), api.EncodeI32(3)})
	require.NoError(t, err)
	require.Equal(t, []uint64{api.EncodeI32(7)}, results) // table[1] = sub
}

func TestCallFunction_MemoryOutOfBoundsTraps(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		MemorySection:   []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		ExportSection:   []wasm.Export{{Name: "load", Kind: wasm.ExternalKindFunction, Index: 0}},
		CodeSection: []wasm.Code{{Body: []byte{
			wasm.OpcodeGetLocal, 0x00,
			wasm.OpcodeI32Load, 0x02, 0x00, // align=2, offset=0
			wasm.OpcodeEnd,
		}}},
	}
	mi := buildAndInstantiate(t, m, nil)
	fn := mi.Exports["load"].Func

	// One page is 65536 bytes; reading 4 bytes starting at 65534 runs off
	// the end.
	_, err := CallFunction(context.Background(), fn, []uint64{api.EncodeI32(65534)})
	require.Error(t, err)
	trap, ok := err.(*wasm.Trap)
	require.True(t, ok)
	require.Equal(t, wasm.TrapCodeOutOfBoundsMemoryAccess, trap.Code)
}

// TestCallFunction_IfFalseNoElseThenBranchDoesNotDoubleExecute guards
// against a stale blockEntry surviving an `if` whose condition is false and
// which has no `else`: control jumps straight past the if's own `end`
// without OpcodeEnd ever running to pop it, so a later `br` in the
// enclosing block must still resolve against that enclosing block and not
// against the abandoned `if` frame. If it resolved against the `if` frame
// instead, the branch target would land before the global increment below,
// causing it to run twice.
func TestCallFunction_IfFalseNoElseThenBranchDoesNotDoubleExecute(t *testing.T) {
	body := []byte{
		wasm.OpcodeBlock, 0x40,

		wasm.OpcodeI32Const, 0x00, // condition: false
		wasm.OpcodeIf, 0x40,
		wasm.OpcodeUnreachable,
		wasm.OpcodeEnd, // if

		wasm.OpcodeGetGlobal, 0x00,
		wasm.OpcodeI32Const, 0x01,
		wasm.OpcodeI32Add,
		wasm.OpcodeSetGlobal, 0x00,

		wasm.OpcodeBr, 0x00,
		wasm.OpcodeEnd, // block

		wasm.OpcodeGetGlobal, 0x00,
		wasm.OpcodeEnd, // function
	}
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		GlobalSection:   []wasm.Global{{Type: wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: true}, Init: wasm.InitExpr{Opcode: wasm.OpcodeI32Const, Value: api.EncodeI32(0)}}},
		ExportSection:   []wasm.Export{{Name: "run", Kind: wasm.ExternalKindFunction, Index: 0}},
		CodeSection:     []wasm.Code{{Body: body}},
	}
	mi := buildAndInstantiate(t, m, nil)
	fn := mi.Exports["run"].Func

	results, err := CallFunction(context.Background(), fn, nil)
	require.NoError(t, err)
	require.Equal(t, []uint64{api.EncodeI32(1)}, results)
}

// TestCallFunction_IfTrueWithElseThenBranchDoesNotDoubleExecute is the same
// guard for the OpcodeElse path: the true arm falls through into the
// `else` opcode, which must skip the else body *and* pop the if's
// blockEntry, since OpcodeEnd never runs for it either.
func TestCallFunction_IfTrueWithElseThenBranchDoesNotDoubleExecute(t *testing.T) {
	body := []byte{
		wasm.OpcodeBlock, 0x40,

		wasm.OpcodeI32Const, 0x01, // condition: true
		wasm.OpcodeIf, 0x40,
		wasm.OpcodeNop,
		wasm.OpcodeElse,
		wasm.OpcodeUnreachable,
		wasm.OpcodeEnd, // if

		wasm.OpcodeGetGlobal, 0x00,
		wasm.OpcodeI32Const, 0x01,
		wasm.OpcodeI32Add,
		wasm.OpcodeSetGlobal, 0x00,

		wasm.OpcodeBr, 0x00,
		wasm.OpcodeEnd, // block

		wasm.OpcodeGetGlobal, 0x00,
		wasm.OpcodeEnd, // function
	}
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		GlobalSection:   []wasm.Global{{Type: wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: true}, Init: wasm.InitExpr{Opcode: wasm.OpcodeI32Const, Value: api.EncodeI32(0)}}},
		ExportSection:   []wasm.Export{{Name: "run", Kind: wasm.ExternalKindFunction, Index: 0}},
		CodeSection:     []wasm.Code{{Body: body}},
	}
	mi := buildAndInstantiate(t, m, nil)
	fn := mi.Exports["run"].Func

	results, err := CallFunction(context.Background(), fn, nil)
	require.NoError(t, err)
	require.Equal(t, []uint64{api.EncodeI32(1)}, results)
}

func TestCallFunction_HostCallErrorSurfacesAsHostError(t *testing.T) {
	hostFn := &wasm.FuncInstance{
		Type:       &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}},
		ModuleName: "env",
		Name:       "fail_if_nonzero",
		Go: func(ctx context.Context, stack []uint64) error {
			if int32(stack[0]) != 0 {
				return errFailIfNonzero
			}
			return nil
		},
	}
	env := &wasm.ModuleInstance{
		Name:      "env",
		Exports:   map[string]wasm.ExternVal{"fail_if_nonzero": {Kind: wasm.ExternalKindFunction, Func: hostFn}},
		Functions: []*wasm.FuncInstance{hostFn},
	}

	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeI32}}},
		ImportSection:   []wasm.Import{{Module: "env", Name: "fail_if_nonzero", Kind: wasm.ExternalKindFunction, DescFunc: 0}},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Name: "run", Kind: wasm.ExternalKindFunction, Index: 1}},
		CodeSection: []wasm.Code{{Body: []byte{
			wasm.OpcodeGetLocal, 0x00,
			wasm.OpcodeCall, 0x00,
			wasm.OpcodeEnd,
		}}},
	}
	mi := buildAndInstantiate(t, m, env)
	fn := mi.Exports["run"].Func

	_, err := CallFunction(context.Background(), fn, []uint64{api.EncodeI32(7)})
	require.Error(t, err)
	hostErr, ok := err.(*wasm.HostError)
	require.True(t, ok)
	require.Equal(t, "env", hostErr.Module)
	require.Equal(t, "fail_if_nonzero", hostErr.Function)
}

var errFailIfNonzero = errors.New("nonzero argument")

func TestInstantiate_StartFunctionTrapFailsInstantiation(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{}},
		FunctionSection: []wasm.Index{0},
		StartSection:    startIndex(0),
		CodeSection:     []wasm.Code{{Body: []byte{wasm.OpcodeUnreachable, wasm.OpcodeEnd}}},
	}
	labels, err := wasm.ValidateModule(m)
	require.NoError(t, err)
	store := wasm.NewStore(context.Background())

	_, err = wasm.Instantiate(context.Background(), store, "test", m, labels, wasm.MultiResolver{}, wasm.InstantiateConfig{})
	require.Error(t, err)
	_, ok := err.(*wasm.InstantiationError)
	require.True(t, ok)
	_, registered := store.Modules["test"]
	require.False(t, registered)
}

func startIndex(i wasm.Index) *wasm.Index { return &i }
