package vs

import (
	"github.com/wazerocore/wazerocore/internal/wasm"
	"github.com/wazerocore/wazerocore/internal/wasm/binary"
)

// Case is one differential-execution scenario: a module built via this
// module's own encoder, one i32-accepting exported function to drive, and
// the expected result for a given argument (checked against our own
// interpreter as a sanity bound before ever comparing against wasmtime or
// wasmer).
type Case struct {
	Name     string
	Wasm     []byte // the encoded module
	FuncName string
	Arg      uint32
	Want     uint32
}

// Cases returns the fixed differential-execution suite: spec §8's "add two
// constants" and "factorial via loop" end-to-end scenarios, expressed as
// hand-built modules rather than literal binaries so the encoder itself is
// exercised too.
func Cases() []Case {
	return []Case{
		{Name: "add1", Wasm: add1Module(), FuncName: "add1", Arg: 41, Want: 42},
		{Name: "factorial", Wasm: factorialModule(), FuncName: "fac", Arg: 5, Want: 120},
	}
}

// add1Module builds a module exporting a single function: fn(x i32) -> i32
// { return x + 1 }.
func add1Module() []byte {
	body := concat(
		opLocalGet(0),
		opI32Const(1),
		[]byte{wasm.OpcodeI32Add},
		[]byte{wasm.OpcodeEnd},
	)
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Name: "add1", Kind: wasm.ExternalKindFunction, Index: 0}},
		CodeSection:     []wasm.Code{{Body: body}},
	}
	return binary.EncodeModule(m)
}

// factorialModule builds a module exporting fn(n i32) -> i32 computing n!
// iteratively with one declared local (the accumulator), the idiomatic
// block/loop/br_if shape for "loop with an early exit" in Wasm 1.0:
//
//	acc = 1
//	block
//	  loop
//	    if n == 0: br 1 (exit the block)
//	    acc = acc * n
//	    n = n - 1
//	    br 0 (continue the loop)
//	  end
//	end
//	return acc
func factorialModule() []byte {
	body := concat(
		opI32Const(1),
		opLocalSet(1), // acc = 1

		[]byte{wasm.OpcodeBlock, 0x40},
		[]byte{wasm.OpcodeLoop, 0x40},

		opLocalGet(0),
		[]byte{wasm.OpcodeI32Eqz},
		opBrIf(1), // n == 0: exit the block

		opLocalGet(1),
		opLocalGet(0),
		[]byte{wasm.OpcodeI32Mul},
		opLocalSet(1), // acc = acc * n

		opLocalGet(0),
		opI32Const(1),
		[]byte{wasm.OpcodeI32Sub},
		opLocalSet(0), // n = n - 1

		opBr(0), // continue the loop

		[]byte{wasm.OpcodeEnd}, // end loop
		[]byte{wasm.OpcodeEnd}, // end block

		opLocalGet(1),
		[]byte{wasm.OpcodeEnd}, // end function
	)
	m := &wasm.Module{
		TypeSection:     []wasm.FunctionType{{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}},
		FunctionSection: []wasm.Index{0},
		ExportSection:   []wasm.Export{{Name: "fac", Kind: wasm.ExternalKindFunction, Index: 0}},
		CodeSection:     []wasm.Code{{LocalTypes: []wasm.ValueType{wasm.ValueTypeI32}, Body: body}},
	}
	return binary.EncodeModule(m)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func opLocalGet(idx byte) []byte { return []byte{wasm.OpcodeGetLocal, idx} }
func opLocalSet(idx byte) []byte { return []byte{wasm.OpcodeSetLocal, idx} }
func opI32Const(v byte) []byte   { return []byte{wasm.OpcodeI32Const, v} }
func opBrIf(depth byte) []byte   { return []byte{wasm.OpcodeBrIf, depth} }
func opBr(depth byte) []byte     { return []byte{wasm.OpcodeBr, depth} }
