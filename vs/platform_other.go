//go:build !(amd64 && cgo)

package vs

// platformEngines is empty on builds without cgo or off amd64, where
// neither wasmtime-go nor wasmer-go (both cgo-backed) can be linked.
func platformEngines() []Engine { return nil }
