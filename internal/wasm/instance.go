package wasm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/wazerocore/wazerocore/api"
)

// FuncInstance is a runtime function value: either defined in a module (Body
// set, Go nil) or a host function (Go set, Body nil).
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-instances%E2%91%A0
type FuncInstance struct {
	Type   *FunctionType
	Module *ModuleInstance // owning module, for locals/memory/table/global access

	// Body/LocalTypes/Labels are set for a Wasm-defined function.
	Body       []byte
	LocalTypes []ValueType
	Labels     LabelMap

	// Go is set for a host function.
	Go         api.GoFunction
	ModuleName string // for HostError diagnostics
	Name       string
}

// IsHost reports whether this function is implemented in Go rather than Wasm.
func (f *FuncInstance) IsHost() bool { return f.Go != nil }

// TableInstance is a runtime table: a fixed-identity, growable-by-spec (but
// not in Wasm 1.0 at runtime beyond Max) array of optional function
// references, held as *FuncInstance pointers.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#table-instances%E2%91%A0
type TableInstance struct {
	Type     TableType
	Elements []*FuncInstance // nil entry means the element is unset (traps on call_indirect)
}

// MemoryInstance is a runtime linear memory: a contiguous byte buffer whose
// length is always a multiple of MemoryPageSize.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
type MemoryInstance struct {
	Type   MemoryType
	Buffer []byte
	Max    uint32 // effective max in pages, after combining Type.Limits.Max with any engine-configured ceiling
}

var _ api.Memory = (*MemoryInstance)(nil)

// Size implements api.Memory.
func (m *MemoryInstance) Size() uint32 { return uint32(len(m.Buffer)) }

// PageSize returns the current size in pages.
func (m *MemoryInstance) PageSize() uint32 { return uint32(len(m.Buffer) / MemoryPageSize) }

// Grow implements api.Memory.
func (m *MemoryInstance) Grow(deltaPages uint32) (previousPages uint32, ok bool) {
	current := m.PageSize()
	if deltaPages == 0 {
		return current, true
	}
	next := uint64(current) + uint64(deltaPages)
	if next > uint64(m.Max) {
		return 0, false
	}
	newBuffer := make([]byte, next*MemoryPageSize)
	copy(newBuffer, m.Buffer)
	m.Buffer = newBuffer
	return current, true
}

// ReadByte implements api.Memory.
func (m *MemoryInstance) ReadByte(offset uint32) (byte, bool) {
	if uint64(offset) >= uint64(len(m.Buffer)) {
		return 0, false
	}
	return m.Buffer[offset], true
}

// ReadUint32Le implements api.Memory.
func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, bool) {
	b, ok := m.Read(offset, 4)
	if !ok {
		return 0, false
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

// ReadUint64Le implements api.Memory.
func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, bool) {
	b, ok := m.Read(offset, 8)
	if !ok {
		return 0, false
	}
	lo := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
	hi := uint64(b[4]) | uint64(b[5])<<8 | uint64(b[6])<<16 | uint64(b[7])<<24
	return lo | hi<<32, true
}

// Read implements api.Memory.
func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(m.Buffer)) {
		return nil, false
	}
	return m.Buffer[offset:end:end], true
}

// WriteByte implements api.Memory.
func (m *MemoryInstance) WriteByte(offset uint32, v byte) bool {
	if uint64(offset) >= uint64(len(m.Buffer)) {
		return false
	}
	m.Buffer[offset] = v
	return true
}

// WriteUint32Le implements api.Memory.
func (m *MemoryInstance) WriteUint32Le(offset, v uint32) bool {
	buf, ok := m.Read(offset, 4)
	if !ok {
		return false
	}
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	return true
}

// WriteUint64Le implements api.Memory.
func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) bool {
	buf, ok := m.Read(offset, 8)
	if !ok {
		return false
	}
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return true
}

// Write implements api.Memory.
func (m *MemoryInstance) Write(offset uint32, v []byte) bool {
	buf, ok := m.Read(offset, uint32(len(v)))
	if !ok {
		return false
	}
	copy(buf, v)
	return true
}

// GlobalInstance is a runtime global variable.
type GlobalInstance struct {
	GlobalType GlobalType
	// val is accessed atomically so host code may safely read a global from
	// a goroutine other than the one driving the interpreter, matching the
	// engine-wide single-threaded-execution/atomic-visibility guarantee the
	// teacher documents for its own globals.
	val uint64
}

var _ api.MutableGlobal = (*GlobalInstance)(nil)

func (g *GlobalInstance) String() string {
	return fmt.Sprintf("global(%s)", api.ValueTypeName(g.GlobalType.ValType))
}

// Type implements api.Global.
func (g *GlobalInstance) Type() ValueType { return g.GlobalType.ValType }

// Get implements api.Global.
func (g *GlobalInstance) Get() uint64 { return atomic.LoadUint64(&g.val) }

// Set implements api.MutableGlobal.
func (g *GlobalInstance) Set(v uint64) { atomic.StoreUint64(&g.val, v) }

// ExternVal is a tagged union over the four kinds of export/import value, per
// the Wasm spec's external value concept.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-values%E2%91%A0
type ExternVal struct {
	Kind   ExternalKind
	Func   *FuncInstance
	Table  *TableInstance
	Memory *MemoryInstance
	Global *GlobalInstance
}

// ModuleInstance is the runtime state of an instantiated module: its
// resolved index spaces and export table.
//
// A *ModuleInstance also implements ImportResolver, so one instantiated
// module may be used to resolve the imports of another.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#module-instances%E2%91%A0
type ModuleInstance struct {
	Name string

	Functions []*FuncInstance
	Tables    []*TableInstance
	Memories  []*MemoryInstance
	Globals   []*GlobalInstance

	// Types is the defining module's type section, kept around so
	// call_indirect can look up the expected signature by index at runtime.
	Types []FunctionType

	Exports map[string]ExternVal

	Store *Store
}

// TypeAt returns the function type declared at index idx in the defining
// module's type section, used by call_indirect to check the callee's
// signature against the one named in the instruction.
func (m *ModuleInstance) TypeAt(idx Index) *FunctionType { return &m.Types[idx] }

// ResolveFunc implements ImportResolver by export name lookup.
func (m *ModuleInstance) ResolveFunc(module, name string) (*FuncInstance, error) {
	ev, ok := m.Exports[name]
	if !ok || ev.Kind != ExternalKindFunction {
		return nil, fmt.Errorf("module %q has no exported function %q", m.Name, name)
	}
	return ev.Func, nil
}

// ResolveTable implements ImportResolver by export name lookup.
func (m *ModuleInstance) ResolveTable(module, name string) (*TableInstance, error) {
	ev, ok := m.Exports[name]
	if !ok || ev.Kind != ExternalKindTable {
		return nil, fmt.Errorf("module %q has no exported table %q", m.Name, name)
	}
	return ev.Table, nil
}

// ResolveMemory implements ImportResolver by export name lookup.
func (m *ModuleInstance) ResolveMemory(module, name string) (*MemoryInstance, error) {
	ev, ok := m.Exports[name]
	if !ok || ev.Kind != ExternalKindMemory {
		return nil, fmt.Errorf("module %q has no exported memory %q", m.Name, name)
	}
	return ev.Memory, nil
}

// ResolveGlobal implements ImportResolver by export name lookup.
func (m *ModuleInstance) ResolveGlobal(module, name string) (*GlobalInstance, error) {
	ev, ok := m.Exports[name]
	if !ok || ev.Kind != ExternalKindGlobal {
		return nil, fmt.Errorf("module %q has no exported global %q", m.Name, name)
	}
	return ev.Global, nil
}

// Store owns every module instance created by one Runtime, mirroring the
// Wasm spec's "store" concept. It exists mainly so module-to-module linking
// has somewhere shared to live; this engine does not implement the
// free-standing allocate-into-store API the spec describes, since every
// instantiation in spec §4.3 goes straight from Module to ModuleInstance.
type Store struct {
	ctx     context.Context //nolint:containedctx // set by NewStore; not read by this package
	Modules map[string]*ModuleInstance

	// MaxValueStackDepth/MaxFrameStackDepth are the engine-wide ceilings spec
	// §6 names (RuntimeConfig.WithMaxValueStackDepth/WithMaxFrameStackDepth);
	// the interpreter traps once either is exceeded. Set by NewStore to the
	// spec's documented defaults; a Runtime may lower them before any module
	// is instantiated.
	MaxValueStackDepth int
	MaxFrameStackDepth int
}

// DefaultMaxValueStackDepth/DefaultMaxFrameStackDepth are spec §6's documented
// engine configuration defaults.
const (
	DefaultMaxValueStackDepth = 16384
	DefaultMaxFrameStackDepth = 16384
)

// NewStore creates an empty Store holding ctx, with the default stack-depth
// ceilings. Host functions receive the context of the call that reached
// them, not this one.
func NewStore(ctx context.Context) *Store {
	return &Store{
		ctx:                ctx,
		Modules:            map[string]*ModuleInstance{},
		MaxValueStackDepth: DefaultMaxValueStackDepth,
		MaxFrameStackDepth: DefaultMaxFrameStackDepth,
	}
}
