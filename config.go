package wazero

import (
	"context"

	"github.com/wazerocore/wazerocore/internal/wasm"
)

// RuntimeConfig controls the engine-wide ceilings spec §6 names. The zero
// value is never used directly; construct one with NewRuntimeConfig.
type RuntimeConfig struct {
	ctx                context.Context
	maxValueStackDepth  int
	maxFrameStackDepth  int
	memoryMaximumPages  uint32
}

// NewRuntimeConfig returns a RuntimeConfig with spec §6's documented
// defaults: a 16384-deep value and frame stack, and the full 65536-page
// (4GiB) memory ceiling.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		ctx:                context.Background(),
		maxValueStackDepth: wasm.DefaultMaxValueStackDepth,
		maxFrameStackDepth: wasm.DefaultMaxFrameStackDepth,
		memoryMaximumPages: wasm.MemoryMaxPages,
	}
}

func (c *RuntimeConfig) clone() *RuntimeConfig {
	cp := *c
	return &cp
}

// WithContext sets the context InstantiateModule uses to run a module's
// start function when it is given a nil context. Function.Call passes its
// own context through unchanged, so this is not a default for calls to
// exported functions. Defaults to context.Background.
func (c *RuntimeConfig) WithContext(ctx context.Context) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	ret := c.clone()
	ret.ctx = ctx
	return ret
}

// WithMaxValueStackDepth bounds the interpreter's operand stack. Exceeding it
// traps (wasm.TrapCodeCallStackExhausted), protecting the host process from
// unbounded Go-heap growth driven by adversarial Wasm input. Defaults to
// 16384.
func (c *RuntimeConfig) WithMaxValueStackDepth(depth int) *RuntimeConfig {
	ret := c.clone()
	ret.maxValueStackDepth = depth
	return ret
}

// WithMaxFrameStackDepth bounds call/call_indirect nesting. Exceeding it
// traps (wasm.TrapCodeCallStackExhausted), the Wasm-level analogue of a Go
// stack overflow. Defaults to 16384.
func (c *RuntimeConfig) WithMaxFrameStackDepth(depth int) *RuntimeConfig {
	ret := c.clone()
	ret.maxFrameStackDepth = depth
	return ret
}

// WithMemoryMaximumPages lowers the hard ceiling on memory growth from the
// spec's default 65536 pages (4GiB). A module whose declared memory maximum
// exceeds this still compiles and instantiates; memory.grow never grows
// past it regardless of what the module itself declared.
func (c *RuntimeConfig) WithMemoryMaximumPages(pages uint32) *RuntimeConfig {
	ret := c.clone()
	ret.memoryMaximumPages = pages
	return ret
}
