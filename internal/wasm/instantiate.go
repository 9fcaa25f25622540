package wasm

import (
	"context"
	"fmt"
)

// ImportResolver resolves one import entry to a runtime value. A
// *ModuleInstance implements this interface directly (see instance.go),
// which is what lets one instantiated module supply imports for another.
//
// See spec §4.3 and SPEC_FULL.md's module-to-module linking supplement.
type ImportResolver interface {
	ResolveFunc(module, name string) (*FuncInstance, error)
	ResolveTable(module, name string) (*TableInstance, error)
	ResolveMemory(module, name string) (*MemoryInstance, error)
	ResolveGlobal(module, name string) (*GlobalInstance, error)
}

// MultiResolver tries each ImportResolver in order, returning the first
// successful resolution. This is how a Runtime lets a module import from
// several already-instantiated modules plus a host module in one pass.
type MultiResolver []ImportResolver

func (mr MultiResolver) ResolveFunc(module, name string) (f *FuncInstance, err error) {
	for _, r := range mr {
		if f, err = r.ResolveFunc(module, name); err == nil {
			return f, nil
		}
	}
	return nil, err
}

func (mr MultiResolver) ResolveTable(module, name string) (t *TableInstance, err error) {
	for _, r := range mr {
		if t, err = r.ResolveTable(module, name); err == nil {
			return t, nil
		}
	}
	return nil, err
}

func (mr MultiResolver) ResolveMemory(module, name string) (m *MemoryInstance, err error) {
	for _, r := range mr {
		if m, err = r.ResolveMemory(module, name); err == nil {
			return m, nil
		}
	}
	return nil, err
}

func (mr MultiResolver) ResolveGlobal(module, name string) (g *GlobalInstance, err error) {
	for _, r := range mr {
		if g, err = r.ResolveGlobal(module, name); err == nil {
			return g, nil
		}
	}
	return nil, err
}

// InstantiateConfig carries the engine-wide ceilings a RuntimeConfig exposes
// that affect instantiation (as opposed to execution): the hard cap on
// memory growth.
type InstantiateConfig struct {
	MemoryMaximumPages uint32
}

// Instantiate implements spec §4.3/§4.4: resolve imports, allocate locally
// defined tables/memories/globals/functions, evaluate global initializers,
// build the export table, apply element and data segments (hard-failing on
// any out-of-bounds segment, per the resolved Open Question), and finally
// run the start function if present. labels are the LabelMaps
// ValidateModule already produced for m; they are not re-derived here.
// The instance is registered in store only after the start function, if
// any, has returned without trapping.
func Instantiate(
	ctx context.Context,
	store *Store,
	name string,
	m *Module,
	labels []LabelMap,
	resolver ImportResolver,
	cfg InstantiateConfig,
) (mi *ModuleInstance, err error) {
	mi = &ModuleInstance{Name: name, Exports: map[string]ExternVal{}, Store: store, Types: m.TypeSection}

	if err := linkImports(mi, m, resolver); err != nil {
		return nil, err
	}

	allocateFunctions(mi, m, labels)
	if err := allocateTables(mi, m); err != nil {
		return nil, err
	}
	if err := allocateMemories(mi, m, cfg); err != nil {
		return nil, err
	}
	if err := allocateGlobals(mi, m); err != nil {
		return nil, err
	}
	if err := buildExports(mi, m); err != nil {
		return nil, err
	}
	if err := applyElementSegments(mi, m); err != nil {
		return nil, err
	}
	if err := applyDataSegments(mi, m); err != nil {
		return nil, err
	}

	if m.StartSection != nil {
		fn := mi.Functions[*m.StartSection]
		if err := runStart(ctx, fn); err != nil {
			return nil, &InstantiationError{Message: "start function trapped", Cause: err}
		}
	}

	store.Modules[name] = mi
	return mi, nil
}

func linkImports(mi *ModuleInstance, m *Module, resolver ImportResolver) error {
	for _, im := range m.ImportSection {
		switch im.Kind {
		case ExternalKindFunction:
			fi, err := resolveOrLinkError(im, func() (*FuncInstance, error) { return resolver.ResolveFunc(im.Module, im.Name) })
			if err != nil {
				return err
			}
			typ := &m.TypeSection[im.DescFunc]
			if !fi.Type.EqualsSignature(typ.Params, typ.Results) {
				return &LinkError{Module: im.Module, Name: im.Name, Reason: "function signature mismatch"}
			}
			mi.Functions = append(mi.Functions, fi)
		case ExternalKindTable:
			ti, err := resolveOrLinkError(im, func() (*TableInstance, error) { return resolver.ResolveTable(im.Module, im.Name) })
			if err != nil {
				return err
			}
			if !ti.Type.Limits.Contains(im.DescTable.Limits) {
				return &LinkError{Module: im.Module, Name: im.Name, Reason: "table limits do not satisfy import declaration"}
			}
			mi.Tables = append(mi.Tables, ti)
		case ExternalKindMemory:
			me, err := resolveOrLinkError(im, func() (*MemoryInstance, error) { return resolver.ResolveMemory(im.Module, im.Name) })
			if err != nil {
				return err
			}
			if !me.Type.Limits.Contains(im.DescMemory.Limits) {
				return &LinkError{Module: im.Module, Name: im.Name, Reason: "memory limits do not satisfy import declaration"}
			}
			mi.Memories = append(mi.Memories, me)
		case ExternalKindGlobal:
			gi, err := resolveOrLinkError(im, func() (*GlobalInstance, error) { return resolver.ResolveGlobal(im.Module, im.Name) })
			if err != nil {
				return err
			}
			if gi.GlobalType.ValType != im.DescGlobal.ValType || gi.GlobalType.Mutable != im.DescGlobal.Mutable {
				return &LinkError{Module: im.Module, Name: im.Name, Reason: "global type mismatch"}
			}
			mi.Globals = append(mi.Globals, gi)
		}
	}
	return nil
}

func resolveOrLinkError[T any](im Import, resolve func() (T, error)) (T, error) {
	v, err := resolve()
	if err != nil {
		var zero T
		return zero, &LinkError{Module: im.Module, Name: im.Name, Reason: err.Error()}
	}
	return v, nil
}

func allocateFunctions(mi *ModuleInstance, m *Module, labels []LabelMap) {
	for i, code := range m.CodeSection {
		typeIdx := m.FunctionSection[i]
		mi.Functions = append(mi.Functions, &FuncInstance{
			Type:       &m.TypeSection[typeIdx],
			Module:     mi,
			Body:       code.Body,
			LocalTypes: code.LocalTypes,
			Labels:     labels[i],
		})
	}
}

func allocateTables(mi *ModuleInstance, m *Module) error {
	for _, t := range m.TableSection {
		mi.Tables = append(mi.Tables, &TableInstance{Type: t, Elements: make([]*FuncInstance, t.Limits.Min)})
	}
	return nil
}

func allocateMemories(mi *ModuleInstance, m *Module, cfg InstantiateConfig) error {
	for _, mt := range m.MemorySection {
		max := uint32(MemoryMaxPages)
		if cfg.MemoryMaximumPages > 0 && cfg.MemoryMaximumPages < max {
			max = cfg.MemoryMaximumPages
		}
		if mt.Limits.Max != nil && *mt.Limits.Max < max {
			max = *mt.Limits.Max
		}
		mi.Memories = append(mi.Memories, &MemoryInstance{
			Type:   mt,
			Buffer: make([]byte, uint64(mt.Limits.Min)*MemoryPageSize),
			Max:    max,
		})
	}
	return nil
}

func allocateGlobals(mi *ModuleInstance, m *Module) error {
	for _, g := range m.GlobalSection {
		val, err := evalInitExpr(mi, g.Init)
		if err != nil {
			return err
		}
		mi.Globals = append(mi.Globals, &GlobalInstance{GlobalType: g.Type, val: val})
	}
	return nil
}

// evalInitExpr evaluates a constant expression in the context of a
// partially-built ModuleInstance (imported globals are already in place by
// the time this runs, which is all a Wasm 1.0 constant expression may read).
func evalInitExpr(mi *ModuleInstance, e InitExpr) (uint64, error) {
	switch e.Opcode {
	case OpcodeI32Const, OpcodeI64Const, OpcodeF32Const, OpcodeF64Const:
		return e.Value, nil
	case OpcodeGetGlobal:
		if int(e.GlobalIndex) >= len(mi.Globals) {
			return 0, &InstantiationError{Message: fmt.Sprintf("init expr: global index %d out of range", e.GlobalIndex)}
		}
		return mi.Globals[e.GlobalIndex].Get(), nil
	default:
		return 0, &InstantiationError{Message: fmt.Sprintf("init expr: unsupported opcode %#x", e.Opcode)}
	}
}

func buildExports(mi *ModuleInstance, m *Module) error {
	for _, ex := range m.ExportSection {
		switch ex.Kind {
		case ExternalKindFunction:
			mi.Exports[ex.Name] = ExternVal{Kind: ExternalKindFunction, Func: mi.Functions[ex.Index]}
		case ExternalKindTable:
			mi.Exports[ex.Name] = ExternVal{Kind: ExternalKindTable, Table: mi.Tables[ex.Index]}
		case ExternalKindMemory:
			mi.Exports[ex.Name] = ExternVal{Kind: ExternalKindMemory, Memory: mi.Memories[ex.Index]}
		case ExternalKindGlobal:
			mi.Exports[ex.Name] = ExternVal{Kind: ExternalKindGlobal, Global: mi.Globals[ex.Index]}
		default:
			return &InstantiationError{Message: fmt.Sprintf("export %q: unknown kind %#x", ex.Name, ex.Kind)}
		}
	}
	return nil
}

// applyElementSegments copies each segment's function indices into the
// module's (sole, in Wasm 1.0) table, hard-failing if any segment writes
// past the table's current size — there is no silent truncation.
func applyElementSegments(mi *ModuleInstance, m *Module) error {
	for i, seg := range m.ElementSection {
		offset64, err := evalInitExpr(mi, seg.Offset)
		if err != nil {
			return err
		}
		offset := uint32(offset64)
		if int(seg.TableIndex) >= len(mi.Tables) {
			return &InstantiationError{Message: fmt.Sprintf("element segment %d: no table %d", i, seg.TableIndex)}
		}
		table := mi.Tables[seg.TableIndex]
		end := uint64(offset) + uint64(len(seg.Init))
		if end > uint64(len(table.Elements)) {
			return &InstantiationError{Message: fmt.Sprintf("element segment %d: out of bounds (offset %d, length %d, table size %d)", i, offset, len(seg.Init), len(table.Elements))}
		}
		for j, fnIdx := range seg.Init {
			table.Elements[uint64(offset)+uint64(j)] = mi.Functions[fnIdx]
		}
	}
	return nil
}

// applyDataSegments is applyElementSegments' memory-section counterpart.
func applyDataSegments(mi *ModuleInstance, m *Module) error {
	for i, seg := range m.DataSection {
		offset64, err := evalInitExpr(mi, seg.Offset)
		if err != nil {
			return err
		}
		offset := uint32(offset64)
		if int(seg.MemoryIndex) >= len(mi.Memories) {
			return &InstantiationError{Message: fmt.Sprintf("data segment %d: no memory %d", i, seg.MemoryIndex)}
		}
		mem := mi.Memories[seg.MemoryIndex]
		if !mem.Write(offset, seg.Init) {
			return &InstantiationError{Message: fmt.Sprintf("data segment %d: out of bounds (offset %d, length %d, memory size %d)", i, offset, len(seg.Init), len(mem.Buffer))}
		}
	}
	return nil
}

// runStart is implemented in the engine package (it needs the interpreter's
// call machinery); this indirection lets instantiate.go stay engine-agnostic.
var runStart = func(ctx context.Context, fn *FuncInstance) error {
	return fmt.Errorf("wasm: no interpreter registered to run the start function")
}

// SetStartRunner lets the engine package install the real start-function
// invoker without instantiate.go importing it (which would be a cycle:
// engine/interpreter imports wasm for its types).
func SetStartRunner(f func(ctx context.Context, fn *FuncInstance) error) {
	runStart = f
}
