// Package vs implements the differential-execution harness SPEC_FULL.md's
// DOMAIN STACK section describes: the same WebAssembly 1.0 binary, built
// once via this module's own encoder, is run through this module's
// interpreter and through wasmtime and wasmer, and the results are compared.
// This exercises spec §8's "Numeric conformance" property against
// independent engines, not only self-consistently.
package vs

import "context"

// Module is the minimal surface every compared engine exposes here: call an
// exported i32-only function by name. The case set in cases.go sticks to
// i32 so every engine's binding can be expressed the same way.
type Module interface {
	CallI32_I32(ctx context.Context, funcName string, param uint32) (uint32, error)
	Close(ctx context.Context) error
}

// Engine compiles and instantiates a .wasm binary for one runtime under
// comparison.
type Engine interface {
	Name() string
	Instantiate(ctx context.Context, wasmBytes []byte, funcNames []string) (Module, error)
}
