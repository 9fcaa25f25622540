//go:build amd64 && cgo && windows

package vs

// wasmer-go does not support windows, so this build has no wasmer Engine.
func wasmerEngines() []Engine { return nil }
