//go:build amd64 && cgo && !windows

package vs

import (
	"context"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// NewWasmerEngine wraps wasmerio/wasmer-go as an Engine, mirroring the
// teacher's own internal/integration_test/vs/wasmer package.
func NewWasmerEngine() Engine { return &wasmerEngine{} }

type wasmerEngine struct{}

func (e *wasmerEngine) Name() string { return "wasmer" }

func (e *wasmerEngine) Instantiate(_ context.Context, wasmBytes []byte, funcNames []string) (Module, error) {
	store := wasmer.NewStore(wasmer.NewEngine())
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, err
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, err
	}
	funcs := make(map[string]*wasmer.Function, len(funcNames))
	for _, name := range funcNames {
		fn, err := instance.Exports.GetFunction(name)
		if err != nil {
			return nil, err
		}
		funcs[name] = fn
	}
	return &wasmerModule{instance: instance, funcs: funcs}, nil
}

type wasmerModule struct {
	instance *wasmer.Instance
	funcs    map[string]*wasmer.Function
}

func (m *wasmerModule) CallI32_I32(_ context.Context, funcName string, param uint32) (uint32, error) {
	result, err := m.funcs[funcName](int32(param))
	if err != nil {
		return 0, err
	}
	return uint32(result.(int32)), nil
}

func (m *wasmerModule) Close(_ context.Context) error {
	m.instance.Close()
	return nil
}
