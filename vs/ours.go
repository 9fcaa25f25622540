package vs

import (
	"context"
	"fmt"

	"github.com/wazerocore/wazerocore"
	"github.com/wazerocore/wazerocore/api"
)

// NewOurEngine wraps this module's own Runtime as an Engine, so cases.go's
// suite can be checked against itself before ever comparing against
// wasmtime or wasmer.
func NewOurEngine() Engine { return &ourEngine{} }

type ourEngine struct{}

func (e *ourEngine) Name() string { return "wazerocore" }

func (e *ourEngine) Instantiate(ctx context.Context, wasmBytes []byte, funcNames []string) (Module, error) {
	r := wazero.NewRuntime(nil)
	compiled, err := r.CompileModule(wasmBytes)
	if err != nil {
		return nil, err
	}
	mod, err := r.InstantiateModule(ctx, compiled, "vs", nil)
	if err != nil {
		return nil, err
	}
	funcs := make(map[string]api.Function, len(funcNames))
	for _, name := range funcNames {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			return nil, fmt.Errorf("%s is not an exported function", name)
		}
		funcs[name] = fn
	}
	return &ourModule{r: r, funcs: funcs}, nil
}

type ourModule struct {
	r     *wazero.Runtime
	funcs map[string]api.Function
}

func (m *ourModule) CallI32_I32(ctx context.Context, funcName string, param uint32) (uint32, error) {
	results, err := m.funcs[funcName].Call(ctx, api.EncodeI32(int32(param)))
	if err != nil {
		return 0, err
	}
	return uint32(int32(results[0])), nil
}

func (m *ourModule) Close(ctx context.Context) error {
	return m.r.Close(ctx)
}
