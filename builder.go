package wazero

import (
	"context"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

// HostFunctionBuilder defines a host function (in Go), so that a WebAssembly
// binary (e.g. %.wasm file) can import and use it.
//
// Here's an example of an addition function:
//
//	hostModuleBuilder.NewFunctionBuilder().
//		WithGoFunction(func(ctx context.Context, stack []uint64) error {
//			x, y := int32(stack[0]), int32(stack[1])
//			stack[0] = api.EncodeI32(x + y)
//			return nil
//		}, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
//		Export("add")
//
// A stack-based signature is lower-level than the teacher's reflect-based
// WithFunc, but it's what spec §6's HostFunc describes directly and it
// avoids reflection in the one path (host calls) that already pays for a
// panic/recover boundary per call.
//
// # Notes
//
//   - This is an interface for decoupling, not third-party implementations.
//     All implementations are in this module.
type HostFunctionBuilder interface {
	// WithGoFunction sets the Go implementation and its Wasm-visible
	// signature. stack holds the arguments in order on entry and must hold
	// the results in order on return.
	WithGoFunction(fn api.GoFunction, params, results []api.ValueType) HostFunctionBuilder

	// WithName defines the optional module-local name of this function,
	// used only in HostError diagnostics. Not required to match Export's
	// name.
	WithName(name string) HostFunctionBuilder

	// Export exports this to the HostModuleBuilder as the given name.
	Export(name string) HostModuleBuilder
}

// HostModuleBuilder is a way to define host functions (in Go), so that a
// WebAssembly binary (e.g. %.wasm file) can import and use them.
//
// For example, this defines and instantiates a module named "env" with one
// function:
//
//	ctx := context.Background()
//	r := wazero.NewRuntime(nil)
//	defer r.Close(ctx)
//
//	env, _ := r.NewHostModuleBuilder("env").
//		NewFunctionBuilder().
//		WithGoFunction(hello, nil, nil).
//		Export("hello").
//		Instantiate(ctx)
//
// # Notes
//
//   - This is an interface for decoupling, not third-party implementations.
//     All implementations are in this module.
//   - HostModuleBuilder is mutable: each method returns the same instance
//     for chaining.
type HostModuleBuilder interface {
	// NewFunctionBuilder begins the definition of a host function.
	NewFunctionBuilder() HostFunctionBuilder

	// Instantiate builds the host module and records it in the owning
	// Runtime's module table under its module name. InstantiateModule does
	// not consult that table: a guest module's imports are resolved only
	// through the resolver passed to InstantiateModule.
	Instantiate(ctx context.Context) (Module, error)
}

// hostModuleBuilder implements HostModuleBuilder.
type hostModuleBuilder struct {
	r           *Runtime
	moduleName  string
	exportFns   []*wasm.FuncInstance
	exportNames []string // the name passed to Export for each entry of exportFns
}

// NewHostModuleBuilder begins the definition of a host module named
// moduleName.
func (r *Runtime) NewHostModuleBuilder(moduleName string) HostModuleBuilder {
	return &hostModuleBuilder{r: r, moduleName: moduleName}
}

// hostFunctionBuilder implements HostFunctionBuilder.
type hostFunctionBuilder struct {
	b    *hostModuleBuilder
	fn   api.GoFunction
	typ  wasm.FunctionType
	name string
}

// WithGoFunction implements HostFunctionBuilder.WithGoFunction.
func (h *hostFunctionBuilder) WithGoFunction(fn api.GoFunction, params, results []api.ValueType) HostFunctionBuilder {
	h.fn = fn
	h.typ = wasm.FunctionType{Params: params, Results: results}
	return h
}

// WithName implements HostFunctionBuilder.WithName.
func (h *hostFunctionBuilder) WithName(name string) HostFunctionBuilder {
	h.name = name
	return h
}

// Export implements HostFunctionBuilder.Export.
func (h *hostFunctionBuilder) Export(exportName string) HostModuleBuilder {
	name := h.name
	if name == "" {
		name = exportName
	}
	typ := h.typ // copy: a builder reused for a second function must not alias this one's type
	h.b.exportFns = append(h.b.exportFns, &wasm.FuncInstance{
		Type:       &typ,
		Go:         h.fn,
		ModuleName: h.b.moduleName,
		Name:       name,
	})
	h.b.exportNames = append(h.b.exportNames, exportName)
	return h.b
}

// NewFunctionBuilder implements HostModuleBuilder.NewFunctionBuilder.
func (b *hostModuleBuilder) NewFunctionBuilder() HostFunctionBuilder {
	return &hostFunctionBuilder{b: b}
}

// Instantiate implements HostModuleBuilder.Instantiate.
func (b *hostModuleBuilder) Instantiate(ctx context.Context) (Module, error) {
	mi := &wasm.ModuleInstance{
		Name:    b.moduleName,
		Exports: make(map[string]wasm.ExternVal, len(b.exportFns)),
		Store:   b.r.store,
	}
	for i, fn := range b.exportFns {
		fn.Module = mi
		mi.Functions = append(mi.Functions, fn)
		mi.Exports[b.exportNames[i]] = wasm.ExternVal{Kind: wasm.ExternalKindFunction, Func: fn}
	}
	b.r.store.Modules[b.moduleName] = mi
	return &moduleInstance{mi: mi}, nil
}
