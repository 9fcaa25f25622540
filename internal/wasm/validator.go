package wasm

import (
	"fmt"

	"github.com/wazerocore/wazerocore/api"
)

// Label records, for one structured control-flow instruction (block/loop/if),
// the byte offsets an interpreter needs to resolve a branch targeting it in
// O(1) instead of rescanning the instruction stream.
//
// For `block`/`if`, Target is the offset of the matching `end` (a branch to
// this label jumps past the whole construct, discarding its intermediate
// values). For `loop`, Target is the loop's own start offset (a branch
// re-enters the loop). ElseOffset is set only for an `if` that has a
// matching `else`, pointing just past the `else` opcode; that `if`'s Label
// is also stored under the offset of the `else` opcode itself.
//
// See spec §4.2/§4.5.
type Label struct {
	Opcode     Opcode // OpcodeBlock, OpcodeLoop, or OpcodeIf
	Target     uint64
	ElseOffset uint64 // 0 if absent
	HasElse    bool
	BlockType  BlockType
}

// LabelMap maps the byte offset of a block/loop/if opcode (and of each
// `else` opcode) to its resolved Label, built once by the validator and
// reused on every execution.
type LabelMap map[uint64]Label

// abstractValue is a value-stack entry during validation. Polymorphic
// entries (pushed by `unreachable`) carry IsUnknown=true and unify with any
// concrete type, implementing the Wasm spec's "stack-polymorphic" typing
// after unreachable code.
type abstractValue struct {
	Type      ValueType
	IsUnknown bool
}

// ctrlFrame tracks one level of structured control-flow nesting during
// abstract (type-checking) interpretation of a function body.
type ctrlFrame struct {
	opcode      Opcode
	startHeight int // operand stack height on entry, below the frame's own params/results
	blockType   BlockType
	unreachable bool // set once this frame has seen an unconditional branch/unreachable
	offset      uint64
	elseSeen    bool
	elseOffset  uint64 // set once an `else` for this `if` has been seen
}

// funcValidator performs the abstract, stack-based type check of spec §3 for
// a single function body, and simultaneously records the LabelMap spec §4.2
// requires the interpreter to precompute.
type funcValidator struct {
	module *Module
	locals []ValueType // params followed by declared locals
	typ    *FunctionType

	body []byte
	pc   int

	values []abstractValue
	ctrls  []ctrlFrame

	labels LabelMap
}

// ValidateModule performs the module-level and per-function static checks
// spec §3 requires, returning one LabelMap per defined function (indexed the
// same as m.CodeSection) on success.
func ValidateModule(m *Module) ([]LabelMap, error) {
	if Index(len(m.MemorySection))+importCount(m, ExternalKindMemory) > 1 {
		return nil, &ValidationError{Message: "multiple memories are not allowed in Wasm 1.0"}
	}
	if Index(len(m.TableSection))+importCount(m, ExternalKindTable) > 1 {
		return nil, &ValidationError{Message: "multiple tables are not allowed in Wasm 1.0"}
	}
	for i := range m.TableSection {
		if m.TableSection[i].ElementType != TableElementTypeFuncRef {
			return nil, &ValidationError{Message: "table element type must be anyfunc"}
		}
	}
	for i := range m.MemorySection {
		if err := validateLimits(m.MemorySection[i].Limits, MemoryMaxPages); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("memory %d: %v", i, err)}
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, &ValidationError{Message: "function and code section counts disagree"}
	}

	if err := validateExports(m); err != nil {
		return nil, err
	}
	if err := validateStart(m); err != nil {
		return nil, err
	}
	if err := validateElementSegments(m); err != nil {
		return nil, err
	}
	if err := validateDataSegments(m); err != nil {
		return nil, err
	}

	labelMaps := make([]LabelMap, len(m.CodeSection))
	for i, code := range m.CodeSection {
		funcIdx := importCount(m, ExternalKindFunction) + Index(i)
		typ := m.TypeOfFunction(funcIdx)
		if typ == nil {
			return nil, &ValidationError{Message: fmt.Sprintf("function %d: type index out of range", funcIdx)}
		}
		locals := append(append([]ValueType{}, typ.Params...), code.LocalTypes...)
		fv := &funcValidator{module: m, locals: locals, typ: typ, body: code.Body, labels: LabelMap{}}
		if err := fv.validate(); err != nil {
			fi := funcIdx
			if ve, ok := err.(*ValidationError); ok {
				ve.FunctionIndex = &fi
				return nil, ve
			}
			return nil, &ValidationError{FunctionIndex: &fi, Message: err.Error()}
		}
		labelMaps[i] = fv.labels
	}
	return labelMaps, nil
}

func importCount(m *Module, kind ExternalKind) Index {
	var n Index
	for _, im := range m.ImportSection {
		if im.Kind == kind {
			n++
		}
	}
	return n
}

func validateLimits(l Limits, hardMax uint32) error {
	if l.Min > hardMax {
		return fmt.Errorf("minimum %d exceeds maximum allowed %d", l.Min, hardMax)
	}
	if l.Max != nil {
		if *l.Max > hardMax {
			return fmt.Errorf("maximum %d exceeds maximum allowed %d", *l.Max, hardMax)
		}
		if *l.Max < l.Min {
			return fmt.Errorf("maximum %d is less than minimum %d", *l.Max, l.Min)
		}
	}
	return nil
}

func validateExports(m *Module) error {
	seen := map[string]bool{}
	for _, ex := range m.ExportSection {
		if seen[ex.Name] {
			return &ValidationError{Message: fmt.Sprintf("duplicate export name %q", ex.Name)}
		}
		seen[ex.Name] = true
		switch ex.Kind {
		case ExternalKindFunction:
			if ex.Index >= importCount(m, ExternalKindFunction)+Index(len(m.FunctionSection)) {
				return &ValidationError{Message: fmt.Sprintf("export %q: function index %d out of range", ex.Name, ex.Index)}
			}
		case ExternalKindTable:
			if ex.Index >= importCount(m, ExternalKindTable)+Index(len(m.TableSection)) {
				return &ValidationError{Message: fmt.Sprintf("export %q: table index %d out of range", ex.Name, ex.Index)}
			}
		case ExternalKindMemory:
			if ex.Index >= importCount(m, ExternalKindMemory)+Index(len(m.MemorySection)) {
				return &ValidationError{Message: fmt.Sprintf("export %q: memory index %d out of range", ex.Name, ex.Index)}
			}
		case ExternalKindGlobal:
			if ex.Index >= importCount(m, ExternalKindGlobal)+Index(len(m.GlobalSection)) {
				return &ValidationError{Message: fmt.Sprintf("export %q: global index %d out of range", ex.Name, ex.Index)}
			}
		default:
			return &ValidationError{Message: fmt.Sprintf("export %q: unknown external kind %#x", ex.Name, ex.Kind)}
		}
	}
	return nil
}

func validateStart(m *Module) error {
	if m.StartSection == nil {
		return nil
	}
	idx := *m.StartSection
	typ := m.TypeOfFunction(idx)
	if typ == nil {
		return &ValidationError{Message: fmt.Sprintf("start function index %d out of range", idx)}
	}
	if len(typ.Params) != 0 || len(typ.Results) != 0 {
		return &ValidationError{Message: "start function must have signature ()->()"}
	}
	return nil
}

func validateElementSegments(m *Module) error {
	haveTable := Index(len(m.TableSection))+importCount(m, ExternalKindTable) > 0
	for i, seg := range m.ElementSection {
		if !haveTable {
			return &ValidationError{Message: fmt.Sprintf("element segment %d: no table to initialize", i)}
		}
		if err := validateConstInitExpr(m, seg.Offset, ValueTypeI32); err != nil {
			return &ValidationError{Message: fmt.Sprintf("element segment %d: offset: %v", i, err)}
		}
		for _, fi := range seg.Init {
			if m.TypeOfFunction(fi) == nil {
				return &ValidationError{Message: fmt.Sprintf("element segment %d: function index %d out of range", i, fi)}
			}
		}
	}
	return nil
}

func validateDataSegments(m *Module) error {
	haveMemory := Index(len(m.MemorySection))+importCount(m, ExternalKindMemory) > 0
	for i, seg := range m.DataSection {
		if !haveMemory {
			return &ValidationError{Message: fmt.Sprintf("data segment %d: no memory to initialize", i)}
		}
		if err := validateConstInitExpr(m, seg.Offset, ValueTypeI32); err != nil {
			return &ValidationError{Message: fmt.Sprintf("data segment %d: offset: %v", i, err)}
		}
	}
	return nil
}

// validateConstInitExpr checks a global/segment-offset initializer: it must
// be a single const instruction of the expected type, or get_global
// referencing an imported, immutable global of that type.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-init
func validateConstInitExpr(m *Module, e InitExpr, want ValueType) error {
	switch e.Opcode {
	case OpcodeI32Const:
		if want != ValueTypeI32 {
			return fmt.Errorf("expected %s, got i32.const", api.ValueTypeName(want))
		}
	case OpcodeI64Const:
		if want != ValueTypeI64 {
			return fmt.Errorf("expected %s, got i64.const", api.ValueTypeName(want))
		}
	case OpcodeF32Const:
		if want != ValueTypeF32 {
			return fmt.Errorf("expected %s, got f32.const", api.ValueTypeName(want))
		}
	case OpcodeF64Const:
		if want != ValueTypeF64 {
			return fmt.Errorf("expected %s, got f64.const", api.ValueTypeName(want))
		}
	case OpcodeGetGlobal:
		imported := importCount(m, ExternalKindGlobal)
		if e.GlobalIndex >= imported {
			return fmt.Errorf("get_global in a constant expression must reference an imported global")
		}
		gt := importedGlobalType(m, e.GlobalIndex)
		if gt.Mutable {
			return fmt.Errorf("get_global in a constant expression must reference an immutable global")
		}
		if gt.ValType != want {
			return fmt.Errorf("expected %s, got get_global of type %s", api.ValueTypeName(want), api.ValueTypeName(gt.ValType))
		}
	default:
		return fmt.Errorf("opcode %#x is not valid in a constant expression", e.Opcode)
	}
	return nil
}

func importedGlobalType(m *Module, idx Index) GlobalType {
	var n Index
	for _, im := range m.ImportSection {
		if im.Kind == ExternalKindGlobal {
			if n == idx {
				return im.DescGlobal
			}
			n++
		}
	}
	return GlobalType{}
}
