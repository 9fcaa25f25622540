//go:build amd64 && cgo

package vs

import (
	"context"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v7"
)

// NewWasmtimeEngine wraps bytecodealliance/wasmtime-go as an Engine, the
// same dependency the teacher's own internal/integration_test/vs package
// benchmarks against.
func NewWasmtimeEngine() Engine { return &wasmtimeEngine{} }

type wasmtimeEngine struct{}

func (e *wasmtimeEngine) Name() string { return "wasmtime" }

func (e *wasmtimeEngine) Instantiate(_ context.Context, wasmBytes []byte, funcNames []string) (Module, error) {
	engine := wasmtime.NewEngine()
	store := wasmtime.NewStore(engine)
	module, err := wasmtime.NewModule(engine, wasmBytes)
	if err != nil {
		return nil, err
	}
	instance, err := wasmtime.NewInstance(store, module, nil)
	if err != nil {
		return nil, err
	}
	funcs := make(map[string]*wasmtime.Func, len(funcNames))
	for _, name := range funcNames {
		fn := instance.GetFunc(store, name)
		if fn == nil {
			return nil, fmt.Errorf("%s is not an exported function", name)
		}
		funcs[name] = fn
	}
	return &wasmtimeModule{store: store, funcs: funcs}, nil
}

type wasmtimeModule struct {
	store *wasmtime.Store
	funcs map[string]*wasmtime.Func
}

func (m *wasmtimeModule) CallI32_I32(_ context.Context, funcName string, param uint32) (uint32, error) {
	result, err := m.funcs[funcName].Call(m.store, int32(param))
	if err != nil {
		return 0, err
	}
	return uint32(result.(int32)), nil
}

func (m *wasmtimeModule) Close(_ context.Context) error {
	return nil // wasmtime frees resources via finalizer, same as the teacher's vs/wasmtime package
}
