package wazero

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazerocore/wazerocore/internal/wasm"
)

func TestNewRuntimeConfig_Defaults(t *testing.T) {
	c := NewRuntimeConfig()
	require.Equal(t, context.Background(), c.ctx)
	require.Equal(t, wasm.DefaultMaxValueStackDepth, c.maxValueStackDepth)
	require.Equal(t, wasm.DefaultMaxFrameStackDepth, c.maxFrameStackDepth)
	require.Equal(t, uint32(wasm.MemoryMaxPages), c.memoryMaximumPages)
}

func TestRuntimeConfig_WithMethodsReturnIndependentCopies(t *testing.T) {
	base := NewRuntimeConfig()

	withStack := base.WithMaxValueStackDepth(1)
	withFrame := base.WithMaxFrameStackDepth(2)
	withMem := base.WithMemoryMaximumPages(3)

	// base itself is untouched by any derived config.
	require.Equal(t, wasm.DefaultMaxValueStackDepth, base.maxValueStackDepth)
	require.Equal(t, wasm.DefaultMaxFrameStackDepth, base.maxFrameStackDepth)
	require.Equal(t, uint32(wasm.MemoryMaxPages), base.memoryMaximumPages)

	require.Equal(t, 1, withStack.maxValueStackDepth)
	require.Equal(t, 2, withFrame.maxFrameStackDepth)
	require.Equal(t, uint32(3), withMem.memoryMaximumPages)

	// Each derived config only changed the one field it targeted.
	require.Equal(t, wasm.DefaultMaxFrameStackDepth, withStack.maxFrameStackDepth)
	require.Equal(t, wasm.DefaultMaxValueStackDepth, withFrame.maxValueStackDepth)
}

func TestRuntimeConfig_WithContextNilFallsBackToBackground(t *testing.T) {
	c := NewRuntimeConfig().WithContext(nil)
	require.Equal(t, context.Background(), c.ctx)
}

func TestRuntimeConfig_WithContextCustom(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "value")
	c := NewRuntimeConfig().WithContext(ctx)
	require.Equal(t, "value", c.ctx.Value(key{}))
}
