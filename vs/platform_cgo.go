//go:build amd64 && cgo

package vs

// platformEngines returns the native engines available on this build:
// wasmtime and, outside Windows, wasmer.
func platformEngines() []Engine {
	es := []Engine{NewWasmtimeEngine()}
	es = append(es, wasmerEngines()...)
	return es
}
