package wasm

// Module is the decoded, not-yet-validated in-memory form of a WebAssembly
// 1.0 binary: one slice per section, indexed exactly as the binary format
// lays them out.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A0
type Module struct {
	TypeSection     []FunctionType
	ImportSection   []Import
	FunctionSection []Index // indexes into TypeSection, one per defined function
	TableSection    []TableType
	MemorySection   []MemoryType
	GlobalSection   []Global
	ExportSection   []Export
	StartSection    *Index
	ElementSection  []ElementSegment
	CodeSection     []Code
	DataSection     []DataSegment
	CustomSections  []CustomSection

	// NameSection holds the optional debug name custom section, decoded
	// separately since it is the one custom section this engine interprets.
	NameSection *NameSection
}

// Index is a zero-based index into one of a module's index spaces (function,
// table, memory, global, type, local, label).
type Index = uint32

// Import describes one entry of the import section. Exactly one of the
// Func/Table/Memory/Global fields is meaningful, selected by Kind.
type Import struct {
	Module string
	Name   string
	Kind   ExternalKind

	// DescFunc is a TypeSection index, valid when Kind == ExternalKindFunction.
	DescFunc Index
	// DescTable is valid when Kind == ExternalKindTable.
	DescTable TableType
	// DescMemory is valid when Kind == ExternalKindMemory.
	DescMemory MemoryType
	// DescGlobal is valid when Kind == ExternalKindGlobal.
	DescGlobal GlobalType
}

// Global is one entry of the global section: a type plus its constant
// initializer expression.
type Global struct {
	Type GlobalType
	Init InitExpr
}

// InitExpr is a constant expression, as used for global initializers and
// element/data segment offsets. Wasm 1.0 restricts these to a single
// constant instruction (i32.const/i64.const/f32.const/f64.const) or a
// get_global referencing an imported immutable global, followed by end.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-init
type InitExpr struct {
	Opcode Opcode
	// Value holds the encoded constant for *.const (see api.EncodeI32 etc.),
	// or is unused when Opcode == OpcodeGetGlobal.
	Value uint64
	// GlobalIndex is valid when Opcode == OpcodeGetGlobal.
	GlobalIndex Index
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ExternalKind
	Index Index // into the function/table/memory/global index space selected by Kind
}

// ElementSegment initializes a range of a table with function indices.
type ElementSegment struct {
	TableIndex Index // always 0 in Wasm 1.0, kept for forward compatibility
	Offset     InitExpr
	Init       []Index // function indices
}

// DataSegment initializes a range of linear memory with literal bytes.
type DataSegment struct {
	MemoryIndex Index // always 0 in Wasm 1.0
	Offset      InitExpr
	Init        []byte
}

// Code is one entry of the code section: a function body paired 1:1 with
// FunctionSection by position.
type Code struct {
	// LocalTypes is the expanded (count, type) list of declared locals,
	// in declaration order, not including parameters.
	LocalTypes []ValueType
	Body       []byte // the raw, not-yet-decoded instruction stream up to and including its `end`.

	// BodyOffset is the byte offset of Body within the original binary.
	// DecodeModule does not set it, so it is 0 in a decoded Module.
	BodyOffset uint64
}

// CustomSection is a named, engine-opaque payload (besides "name", which is
// additionally decoded into NameSection).
type CustomSection struct {
	Name string
	Data []byte
}

// NameSection is the decoded form of the "name" custom section: optional
// debug names for the module, its functions, and each function's locals.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-namesec
type NameSection struct {
	ModuleName    string
	FunctionNames map[Index]string
	LocalNames    map[Index]map[Index]string // funcIdx -> localIdx -> name
}

// TypeOfFunction returns the FunctionType of the function at the given index
// in the combined import+defined function index space, or nil if idx is out
// of range.
func (m *Module) TypeOfFunction(idx Index) *FunctionType {
	importedFuncs := Index(0)
	for _, im := range m.ImportSection {
		if im.Kind == ExternalKindFunction {
			if idx == importedFuncs {
				if int(im.DescFunc) >= len(m.TypeSection) {
					return nil
				}
				return &m.TypeSection[im.DescFunc]
			}
			importedFuncs++
		}
	}
	definedIdx := idx - importedFuncs
	if int(definedIdx) >= len(m.FunctionSection) {
		return nil
	}
	typeIdx := m.FunctionSection[definedIdx]
	if int(typeIdx) >= len(m.TypeSection) {
		return nil
	}
	return &m.TypeSection[typeIdx]
}

// ImportedFunctionCount returns the number of Import entries with Kind ==
// ExternalKindFunction, i.e. the size of the imported prefix of the function
// index space.
func (m *Module) ImportedFunctionCount() Index {
	var n Index
	for _, im := range m.ImportSection {
		if im.Kind == ExternalKindFunction {
			n++
		}
	}
	return n
}

// ImportedTableCount counts table imports, analogous to ImportedFunctionCount.
func (m *Module) ImportedTableCount() Index {
	var n Index
	for _, im := range m.ImportSection {
		if im.Kind == ExternalKindTable {
			n++
		}
	}
	return n
}

// ImportedMemoryCount counts memory imports, analogous to ImportedFunctionCount.
func (m *Module) ImportedMemoryCount() Index {
	var n Index
	for _, im := range m.ImportSection {
		if im.Kind == ExternalKindMemory {
			n++
		}
	}
	return n
}

// ImportedGlobalCount counts global imports, analogous to ImportedFunctionCount.
func (m *Module) ImportedGlobalCount() Index {
	var n Index
	for _, im := range m.ImportSection {
		if im.Kind == ExternalKindGlobal {
			n++
		}
	}
	return n
}
