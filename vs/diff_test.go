package vs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// engines lists every Engine this build includes. wasmtime/wasmer only
// build under amd64+cgo (see their files' build tags), so a test run on
// another platform still exercises our own engine against the fixed Case
// expectations.
func engines() []Engine {
	es := []Engine{NewOurEngine()}
	es = append(es, platformEngines()...)
	return es
}

// TestDifferential runs every Case in cases.go through every available
// Engine and checks the result matches Case.Want, the spec §8 "Numeric
// conformance" property checked against independent implementations rather
// than only self-consistently.
func TestDifferential(t *testing.T) {
	ctx := context.Background()
	for _, c := range Cases() {
		c := c
		for _, e := range engines() {
			e := e
			t.Run(c.Name+"/"+e.Name(), func(t *testing.T) {
				mod, err := e.Instantiate(ctx, c.Wasm, []string{c.FuncName})
				require.NoError(t, err)
				defer mod.Close(ctx)

				got, err := mod.CallI32_I32(ctx, c.FuncName, c.Arg)
				require.NoError(t, err)
				require.Equal(t, c.Want, got)
			})
		}
	}
}
