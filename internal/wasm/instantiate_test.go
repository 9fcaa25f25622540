package wasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func validateAndLabel(t *testing.T, m *Module) []LabelMap {
	t.Helper()
	labels, err := ValidateModule(m)
	require.NoError(t, err)
	return labels
}

func TestInstantiate_LinkErrorOnFunctionSignatureMismatch(t *testing.T) {
	hostFn := &FuncInstance{Type: &FunctionType{Params: []ValueType{ValueTypeI64}}} // wrong param type
	env := &ModuleInstance{
		Name:    "env",
		Exports: map[string]ExternVal{"f": {Kind: ExternalKindFunction, Func: hostFn}},
	}
	m := &Module{
		TypeSection:   []FunctionType{{Params: []ValueType{ValueTypeI32}}},
		ImportSection: []Import{{Module: "env", Name: "f", Kind: ExternalKindFunction, DescFunc: 0}},
	}
	labels := validateAndLabel(t, m)
	store := NewStore(context.Background())

	_, err := Instantiate(context.Background(), store, "test", m, labels, env, InstantiateConfig{})
	require.Error(t, err)
	var linkErr *LinkError
	require.ErrorAs(t, err, &linkErr)
}

func TestInstantiate_LinkErrorOnNarrowerMemoryLimits(t *testing.T) {
	max := uint32(1)
	resolvedMem := &MemoryInstance{Type: MemoryType{Limits: Limits{Min: 1, Max: &max}}, Buffer: make([]byte, MemoryPageSize)}
	env := &ModuleInstance{
		Name:    "env",
		Exports: map[string]ExternVal{"mem": {Kind: ExternalKindMemory, Memory: resolvedMem}},
	}
	// The importer declares min 2 and no maximum. A missing declared
	// maximum puts no bound on the resolved memory's maximum, so the
	// mismatch here is the minimum: the resolved memory has 1 page, fewer
	// than the 2 the importer requires.
	m := &Module{
		ImportSection: []Import{{Module: "env", Name: "mem", Kind: ExternalKindMemory, DescMemory: MemoryType{Limits: Limits{Min: 2}}}},
	}
	labels := validateAndLabel(t, m)
	store := NewStore(context.Background())

	_, err := Instantiate(context.Background(), store, "test", m, labels, env, InstantiateConfig{})
	require.Error(t, err)
	var linkErr *LinkError
	require.ErrorAs(t, err, &linkErr)
}

func TestInstantiate_ModuleToModuleLinking(t *testing.T) {
	producer := &Module{
		TypeSection:     []FunctionType{{Results: []ValueType{ValueTypeI32}}},
		FunctionSection: []Index{0},
		ExportSection:   []Export{{Name: "answer", Kind: ExternalKindFunction, Index: 0}},
		CodeSection:     []Code{{Body: []byte{OpcodeI32Const, 0x2a, OpcodeEnd}}}, // 42
	}
	producerLabels := validateAndLabel(t, producer)
	store := NewStore(context.Background())
	producerInstance, err := Instantiate(context.Background(), store, "producer", producer, producerLabels, MultiResolver{}, InstantiateConfig{})
	require.NoError(t, err)

	consumer := &Module{
		TypeSection:   []FunctionType{{Results: []ValueType{ValueTypeI32}}},
		ImportSection: []Import{{Module: "producer", Name: "answer", Kind: ExternalKindFunction, DescFunc: 0}},
		ExportSection: []Export{{Name: "reexported", Kind: ExternalKindFunction, Index: 0}},
	}
	consumerLabels := validateAndLabel(t, consumer)
	consumerInstance, err := Instantiate(context.Background(), store, "consumer", consumer, consumerLabels, producerInstance, InstantiateConfig{})
	require.NoError(t, err)

	require.Same(t, producerInstance.Functions[0], consumerInstance.Exports["reexported"].Func)
}

func TestInstantiate_ElementSegmentOutOfBoundsFails(t *testing.T) {
	m := &Module{
		TypeSection:     []FunctionType{{}},
		FunctionSection: []Index{0},
		TableSection:    []TableType{{ElementType: TableElementTypeFuncRef, Limits: Limits{Min: 1}}},
		ElementSection: []ElementSegment{{
			Offset: InitExpr{Opcode: OpcodeI32Const, Value: 5}, // table only has 1 slot
			Init:   []Index{0},
		}},
		CodeSection: []Code{{Body: []byte{OpcodeEnd}}},
	}
	labels := validateAndLabel(t, m)
	store := NewStore(context.Background())

	_, err := Instantiate(context.Background(), store, "test", m, labels, MultiResolver{}, InstantiateConfig{})
	require.Error(t, err)
	var instErr *InstantiationError
	require.ErrorAs(t, err, &instErr)
}
