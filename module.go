package wazero

import (
	"context"
	"fmt"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/engine/interpreter"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

// Module is an instantiated module's host-facing view: api.Module plus
// nothing else, kept as its own name so callers aren't forced to import the
// api package just to hold a reference returned by InstantiateModule.
type Module = api.Module

var _ api.Module = (*moduleInstance)(nil)

// moduleInstance adapts a *wasm.ModuleInstance to api.Module, the host-facing
// view of an instance. Exported functions are invoked by name, through
// ExportedFunction(name).Call; there is no invocation by function index.
type moduleInstance struct {
	mi *wasm.ModuleInstance
}

func (m *moduleInstance) String() string { return fmt.Sprintf("module[%s]", m.mi.Name) }

// Name implements api.Module.
func (m *moduleInstance) Name() string { return m.mi.Name }

// Memory implements api.Module.
func (m *moduleInstance) Memory() api.Memory {
	if len(m.mi.Memories) == 0 {
		return nil
	}
	return m.mi.Memories[0]
}

// ExportedFunction implements api.Module.
func (m *moduleInstance) ExportedFunction(name string) api.Function {
	ev, ok := m.mi.Exports[name]
	if !ok || ev.Kind != wasm.ExternalKindFunction {
		return nil
	}
	return &exportedFunction{fn: ev.Func}
}

// ExportedMemory implements api.Module.
func (m *moduleInstance) ExportedMemory(name string) api.Memory {
	ev, ok := m.mi.Exports[name]
	if !ok || ev.Kind != wasm.ExternalKindMemory {
		return nil
	}
	return ev.Memory
}

// ExportedGlobal implements api.Module.
func (m *moduleInstance) ExportedGlobal(name string) api.Global {
	ev, ok := m.mi.Exports[name]
	if !ok || ev.Kind != wasm.ExternalKindGlobal {
		return nil
	}
	return ev.Global
}

// Close implements api.Module: removes this instance from its owning
// Runtime, freeing its name for a subsequent InstantiateModule.
func (m *moduleInstance) Close(ctx context.Context) error {
	if m.mi.Store != nil {
		delete(m.mi.Store.Modules, m.mi.Name)
	}
	return nil
}

// exportedFunction adapts a *wasm.FuncInstance to api.Function, checking the
// argument count against the callee's declared signature before handing the
// arguments to the interpreter. Arguments are raw uint64 encodings; their
// types are not checked.
type exportedFunction struct {
	fn *wasm.FuncInstance
}

func (f *exportedFunction) ParamTypes() []wasm.ValueType  { return f.fn.Type.Params }
func (f *exportedFunction) ResultTypes() []wasm.ValueType { return f.fn.Type.Results }

// Call implements api.Function: invokes the export with the given argument
// values (already encoded per api.Encode*), returning one result per
// ResultTypes (at most one, in Wasm 1.0). Argument count mismatches fail
// fast instead of reading past a short params slice.
func (f *exportedFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if len(params) != len(f.fn.Type.Params) {
		return nil, fmt.Errorf("wazero: %d params given, function takes %d", len(params), len(f.fn.Type.Params))
	}
	return interpreter.CallFunction(ctx, f.fn, params)
}
