//go:build amd64 && cgo && !windows

package vs

func wasmerEngines() []Engine { return []Engine{NewWasmerEngine()} }
