// Package wazero is the public entry point for compiling and running
// WebAssembly 1.0 (MVP) modules: decode, validate, instantiate, and invoke,
// per spec §6's external interface.
package wazero

import (
	"bytes"
	"context"

	"github.com/wazerocore/wazerocore/internal/wasm"
	"github.com/wazerocore/wazerocore/internal/wasm/binary"
)

// Runtime is the top-level handle a host holds: it owns every module
// instantiated through it (wasm.Store) and the engine-wide configuration
// used to compile and run them.
type Runtime struct {
	cfg   *RuntimeConfig
	store *wasm.Store
}

// NewRuntime creates a Runtime. A nil cfg uses NewRuntimeConfig's defaults.
func NewRuntime(cfg *RuntimeConfig) *Runtime {
	if cfg == nil {
		cfg = NewRuntimeConfig()
	}
	store := wasm.NewStore(cfg.ctx)
	store.MaxValueStackDepth = cfg.maxValueStackDepth
	store.MaxFrameStackDepth = cfg.maxFrameStackDepth
	return &Runtime{cfg: cfg, store: store}
}

// CompiledModule is a decoded and validated module, ready to be instantiated
// one or more times via InstantiateModule.
type CompiledModule struct {
	module *wasm.Module
	labels []wasm.LabelMap
}

// CompileModule decodes and validates a WebAssembly 1.0 binary (spec §4.1,
// §3). Decode or validation failures are returned as *wasm.DecodeError or
// *wasm.ValidationError respectively; no CompiledModule is produced on
// either.
func (r *Runtime) CompileModule(binaryBytes []byte) (*CompiledModule, error) {
	m, err := binary.DecodeModule(bytes.NewReader(binaryBytes))
	if err != nil {
		return nil, err
	}
	labels, err := wasm.ValidateModule(m)
	if err != nil {
		return nil, err
	}
	return &CompiledModule{module: m, labels: labels}, nil
}

// InstantiateModule runs spec §4.3/§4.4: resolve imports against resolver
// (nil is valid for a module with no imports), allocate runtime instances,
// evaluate globals, apply element/data segments, and finally run the start
// function if the module declares one. A trapping start function leaves no
// module registered in the Runtime (spec §8 end-to-end scenario 6).
func (r *Runtime) InstantiateModule(ctx context.Context, compiled *CompiledModule, name string, resolver wasm.ImportResolver) (Module, error) {
	if ctx == nil {
		ctx = r.cfg.ctx
	}
	if resolver == nil {
		resolver = wasm.MultiResolver{}
	}
	cfg := wasm.InstantiateConfig{MemoryMaximumPages: r.cfg.memoryMaximumPages}
	mi, err := wasm.Instantiate(ctx, r.store, name, compiled.module, compiled.labels, resolver, cfg)
	if err != nil {
		return nil, err
	}
	return &moduleInstance{mi: mi}, nil
}

// Close removes every module from the Runtime's module table, as
// Module.Close does for one module. This module has no other background
// resources (no JIT code cache, no WASI file descriptors) that outlive a
// Close.
func (r *Runtime) Close(ctx context.Context) error {
	for name := range r.store.Modules {
		delete(r.store.Modules, name)
	}
	return nil
}
