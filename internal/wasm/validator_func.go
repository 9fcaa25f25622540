package wasm

import (
	"fmt"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/leb128"
)

// This file implements the per-function half of ValidateModule: an abstract,
// stack-based type checker that walks a function body exactly once,
// following the "Validation Algorithm" appendix of the WebAssembly 1.0 spec
// (stack of abstract operand types plus a stack of control frames, each
// frame remembering the operand-stack height it started at so an
// unreachable/stack-polymorphic region can still be checked soundly).
//
// It doubles as the LabelMap builder spec §4.2 calls for: every
// block/loop/if is recorded against the offset of its matching end (or, for
// `if`, also its `else`), so the interpreter never re-scans the body to
// resolve a branch.

const unknownHeight = -1

func (v *funcValidator) validate() error {
	v.pushCtrl(0, OpcodeBlock, BlockType{Empty: len(v.typ.Results) == 0, ValType: resultOrZero(v.typ.Results)})

	for v.pc < len(v.body) {
		offset := uint64(v.pc)
		op := v.body[v.pc]
		v.pc++

		switch op {
		case OpcodeUnreachable:
			v.unreachable()

		case OpcodeNop:
			// no-op

		case OpcodeBlock, OpcodeLoop, OpcodeIf:
			bt, err := v.readBlockType()
			if err != nil {
				return err
			}
			if op == OpcodeIf {
				if err := v.popExpect(ValueTypeI32); err != nil {
					return err
				}
			}
			v.pushCtrlAt(offset, op, bt)

		case OpcodeElse:
			frame, err := v.popCtrlKeepOpen()
			if err != nil {
				return err
			}
			if frame.opcode != OpcodeIf {
				return valErr("else without matching if")
			}
			if frame.elseSeen {
				return valErr("duplicate else")
			}
			v.labels[frame.offset] = Label{
				Opcode: OpcodeIf, Target: v.labels[frame.offset].Target,
				ElseOffset: uint64(v.pc), HasElse: true, BlockType: frame.blockType,
			}
			frame.elseSeen = true
			frame.elseOffset = uint64(v.pc)
			frame.unreachable = false
			v.ctrls = append(v.ctrls, *frame)
			v.values = v.values[:frame.startHeight]

		case OpcodeEnd:
			frame, err := v.popCtrl()
			if err != nil {
				return err
			}
			if len(v.ctrls) == 0 {
				// the implicit outermost block closed: must be the final byte.
				// It records no label, so a block/loop/if at offset 0 keeps its own.
				if v.pc != len(v.body) {
					return valErr("end of function body encountered before end of byte stream")
				}
				return nil
			}
			if existing, ok := v.labels[frame.offset]; ok {
				if frame.opcode != OpcodeLoop { // a loop's Target stays its own start
					existing.Target = offset
				}
				v.labels[frame.offset] = existing
				if frame.elseSeen {
					elseLabel := existing
					// keyed by the else opcode itself, which never starts a block/loop/if
					v.labels[frame.elseOffset-1] = elseLabel
				}
			} else {
				v.labels[frame.offset] = Label{Opcode: frame.opcode, Target: offset, BlockType: frame.blockType}
			}
			v.pushVals(frame.blockType.Results())

		case OpcodeBr:
			idx, err := v.readIndex()
			if err != nil {
				return err
			}
			if err := v.checkBranch(idx); err != nil {
				return err
			}
			v.unreachable()

		case OpcodeBrIf:
			idx, err := v.readIndex()
			if err != nil {
				return err
			}
			if err := v.popExpect(ValueTypeI32); err != nil {
				return err
			}
			if err := v.checkBranch(idx); err != nil {
				return err
			}

		case OpcodeBrTable:
			targets, def, err := v.readBrTable()
			if err != nil {
				return err
			}
			if err := v.popExpect(ValueTypeI32); err != nil {
				return err
			}
			for _, t := range targets {
				if err := v.checkBranch(t); err != nil {
					return err
				}
			}
			if err := v.checkBranch(def); err != nil {
				return err
			}
			v.unreachable()

		case OpcodeReturn:
			if err := v.checkBranch(uint32(len(v.ctrls) - 1)); err != nil {
				return err
			}
			v.unreachable()

		case OpcodeCall:
			idx, err := v.readIndex()
			if err != nil {
				return err
			}
			typ := v.module.TypeOfFunction(idx)
			if typ == nil {
				return valErr(fmt.Sprintf("call: function index %d out of range", idx))
			}
			if err := v.popVals(typ.Params); err != nil {
				return err
			}
			v.pushVals(typ.Results)

		case OpcodeCallIndirect:
			typeIdx, err := v.readIndex()
			if err != nil {
				return err
			}
			if _, err := v.readByte(); err != nil { // reserved table index byte, must be 0
				return err
			}
			if int(typeIdx) >= len(v.module.TypeSection) {
				return valErr(fmt.Sprintf("call_indirect: type index %d out of range", typeIdx))
			}
			if err := v.popExpect(ValueTypeI32); err != nil {
				return err
			}
			typ := &v.module.TypeSection[typeIdx]
			if err := v.popVals(typ.Params); err != nil {
				return err
			}
			v.pushVals(typ.Results)

		case OpcodeDrop:
			if _, err := v.pop(); err != nil {
				return err
			}

		case OpcodeSelect:
			if err := v.popExpect(ValueTypeI32); err != nil {
				return err
			}
			t2, err := v.pop()
			if err != nil {
				return err
			}
			if err := v.popExpect(t2.Type); err != nil {
				return err
			}
			v.push(t2)

		case OpcodeGetLocal:
			idx, err := v.readIndex()
			if err != nil {
				return err
			}
			if int(idx) >= len(v.locals) {
				return valErr(fmt.Sprintf("local.get: index %d out of range", idx))
			}
			v.pushVal(v.locals[idx])

		case OpcodeSetLocal, OpcodeTeeLocal:
			idx, err := v.readIndex()
			if err != nil {
				return err
			}
			if int(idx) >= len(v.locals) {
				return valErr(fmt.Sprintf("local.set/tee: index %d out of range", idx))
			}
			val, err := v.pop()
			if err != nil {
				return err
			}
			if !val.IsUnknown && val.Type != v.locals[idx] {
				return valErr("local.set/tee: type mismatch")
			}
			if op == OpcodeTeeLocal {
				v.push(val)
			}

		case OpcodeGetGlobal:
			idx, err := v.readIndex()
			if err != nil {
				return err
			}
			gt, ok := v.module.globalType(idx)
			if !ok {
				return valErr(fmt.Sprintf("global.get: index %d out of range", idx))
			}
			v.pushVal(gt.ValType)

		case OpcodeSetGlobal:
			idx, err := v.readIndex()
			if err != nil {
				return err
			}
			gt, ok := v.module.globalType(idx)
			if !ok {
				return valErr(fmt.Sprintf("global.set: index %d out of range", idx))
			}
			if !gt.Mutable {
				return valErr(fmt.Sprintf("global.set: global %d is immutable", idx))
			}
			if err := v.popExpect(gt.ValType); err != nil {
				return err
			}

		case OpcodeI32Load, OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI32Load16S, OpcodeI32Load16U:
			if err := v.memOp(op, ValueTypeI32, ValueTypeI32); err != nil {
				return err
			}
		case OpcodeI64Load, OpcodeI64Load8S, OpcodeI64Load8U, OpcodeI64Load16S, OpcodeI64Load16U, OpcodeI64Load32S, OpcodeI64Load32U:
			if err := v.memOp(op, ValueTypeI32, ValueTypeI64); err != nil {
				return err
			}
		case OpcodeF32Load:
			if err := v.memOp(op, ValueTypeI32, ValueTypeF32); err != nil {
				return err
			}
		case OpcodeF64Load:
			if err := v.memOp(op, ValueTypeI32, ValueTypeF64); err != nil {
				return err
			}

		case OpcodeI32Store, OpcodeI32Store8, OpcodeI32Store16:
			if err := v.memStoreOp(op, ValueTypeI32); err != nil {
				return err
			}
		case OpcodeI64Store, OpcodeI64Store8, OpcodeI64Store16, OpcodeI64Store32:
			if err := v.memStoreOp(op, ValueTypeI64); err != nil {
				return err
			}
		case OpcodeF32Store:
			if err := v.memStoreOp(op, ValueTypeF32); err != nil {
				return err
			}
		case OpcodeF64Store:
			if err := v.memStoreOp(op, ValueTypeF64); err != nil {
				return err
			}

		case OpcodeCurrentMemory:
			if _, err := v.readByte(); err != nil {
				return err
			}
			v.pushVal(ValueTypeI32)
		case OpcodeGrowMemory:
			if _, err := v.readByte(); err != nil {
				return err
			}
			if err := v.popExpect(ValueTypeI32); err != nil {
				return err
			}
			v.pushVal(ValueTypeI32)

		case OpcodeI32Const:
			if _, err := v.readVarI32(); err != nil {
				return err
			}
			v.pushVal(ValueTypeI32)
		case OpcodeI64Const:
			if _, err := v.readVarI64(); err != nil {
				return err
			}
			v.pushVal(ValueTypeI64)
		case OpcodeF32Const:
			if err := v.skip(4); err != nil {
				return err
			}
			v.pushVal(ValueTypeF32)
		case OpcodeF64Const:
			if err := v.skip(8); err != nil {
				return err
			}
			v.pushVal(ValueTypeF64)

		default:
			if err := v.numericOp(op); err != nil {
				return err
			}
		}
	}
	return valErr("function body ended without a matching end")
}

// numericOp validates the purely-stack-effect numeric/comparison/conversion
// opcodes: all of them take a fixed arity of args of known type and produce
// a fixed result type, so a table beats a giant switch.
func (v *funcValidator) numericOp(op Opcode) error {
	sig, ok := numericSignatures[op]
	if !ok {
		return valErr(fmt.Sprintf("unknown opcode %#x", op))
	}
	if err := v.popVals(sig.args); err != nil {
		return err
	}
	v.pushVals(sig.results)
	return nil
}

type numSig struct {
	args    []ValueType
	results []ValueType
}

func unop(t ValueType) numSig           { return numSig{[]ValueType{t}, []ValueType{t}} }
func binop(t ValueType) numSig          { return numSig{[]ValueType{t, t}, []ValueType{t}} }
func testop(t ValueType) numSig         { return numSig{[]ValueType{t}, []ValueType{ValueTypeI32}} }
func relop(t ValueType) numSig          { return numSig{[]ValueType{t, t}, []ValueType{ValueTypeI32}} }
func cvt(from, to ValueType) numSig     { return numSig{[]ValueType{from}, []ValueType{to}} }

var numericSignatures = map[Opcode]numSig{
	OpcodeI32Eqz: testop(ValueTypeI32),
	OpcodeI32Eq:  relop(ValueTypeI32), OpcodeI32Ne: relop(ValueTypeI32),
	OpcodeI32LtS: relop(ValueTypeI32), OpcodeI32LtU: relop(ValueTypeI32),
	OpcodeI32GtS: relop(ValueTypeI32), OpcodeI32GtU: relop(ValueTypeI32),
	OpcodeI32LeS: relop(ValueTypeI32), OpcodeI32LeU: relop(ValueTypeI32),
	OpcodeI32GeS: relop(ValueTypeI32), OpcodeI32GeU: relop(ValueTypeI32),

	OpcodeI64Eqz: cvt(ValueTypeI64, ValueTypeI32),
	OpcodeI64Eq:  relop(ValueTypeI64), OpcodeI64Ne: relop(ValueTypeI64),
	OpcodeI64LtS: relop(ValueTypeI64), OpcodeI64LtU: relop(ValueTypeI64),
	OpcodeI64GtS: relop(ValueTypeI64), OpcodeI64GtU: relop(ValueTypeI64),
	OpcodeI64LeS: relop(ValueTypeI64), OpcodeI64LeU: relop(ValueTypeI64),
	OpcodeI64GeS: relop(ValueTypeI64), OpcodeI64GeU: relop(ValueTypeI64),

	OpcodeF32Eq: relop(ValueTypeF32), OpcodeF32Ne: relop(ValueTypeF32),
	OpcodeF32Lt: relop(ValueTypeF32), OpcodeF32Gt: relop(ValueTypeF32),
	OpcodeF32Le: relop(ValueTypeF32), OpcodeF32Ge: relop(ValueTypeF32),

	OpcodeF64Eq: relop(ValueTypeF64), OpcodeF64Ne: relop(ValueTypeF64),
	OpcodeF64Lt: relop(ValueTypeF64), OpcodeF64Gt: relop(ValueTypeF64),
	OpcodeF64Le: relop(ValueTypeF64), OpcodeF64Ge: relop(ValueTypeF64),

	OpcodeI32Clz: unop(ValueTypeI32), OpcodeI32Ctz: unop(ValueTypeI32), OpcodeI32Popcnt: unop(ValueTypeI32),
	OpcodeI32Add: binop(ValueTypeI32), OpcodeI32Sub: binop(ValueTypeI32), OpcodeI32Mul: binop(ValueTypeI32),
	OpcodeI32DivS: binop(ValueTypeI32), OpcodeI32DivU: binop(ValueTypeI32),
	OpcodeI32RemS: binop(ValueTypeI32), OpcodeI32RemU: binop(ValueTypeI32),
	OpcodeI32And: binop(ValueTypeI32), OpcodeI32Or: binop(ValueTypeI32), OpcodeI32Xor: binop(ValueTypeI32),
	OpcodeI32Shl: binop(ValueTypeI32), OpcodeI32ShrS: binop(ValueTypeI32), OpcodeI32ShrU: binop(ValueTypeI32),
	OpcodeI32Rotl: binop(ValueTypeI32), OpcodeI32Rotr: binop(ValueTypeI32),

	OpcodeI64Clz: unop(ValueTypeI64), OpcodeI64Ctz: unop(ValueTypeI64), OpcodeI64Popcnt: unop(ValueTypeI64),
	OpcodeI64Add: binop(ValueTypeI64), OpcodeI64Sub: binop(ValueTypeI64), OpcodeI64Mul: binop(ValueTypeI64),
	OpcodeI64DivS: binop(ValueTypeI64), OpcodeI64DivU: binop(ValueTypeI64),
	OpcodeI64RemS: binop(ValueTypeI64), OpcodeI64RemU: binop(ValueTypeI64),
	OpcodeI64And: binop(ValueTypeI64), OpcodeI64Or: binop(ValueTypeI64), OpcodeI64Xor: binop(ValueTypeI64),
	OpcodeI64Shl: binop(ValueTypeI64), OpcodeI64ShrS: binop(ValueTypeI64), OpcodeI64ShrU: binop(ValueTypeI64),
	OpcodeI64Rotl: binop(ValueTypeI64), OpcodeI64Rotr: binop(ValueTypeI64),

	OpcodeF32Abs: unop(ValueTypeF32), OpcodeF32Neg: unop(ValueTypeF32), OpcodeF32Ceil: unop(ValueTypeF32),
	OpcodeF32Floor: unop(ValueTypeF32), OpcodeF32Trunc: unop(ValueTypeF32), OpcodeF32Nearest: unop(ValueTypeF32),
	OpcodeF32Sqrt: unop(ValueTypeF32),
	OpcodeF32Add:  binop(ValueTypeF32), OpcodeF32Sub: binop(ValueTypeF32), OpcodeF32Mul: binop(ValueTypeF32),
	OpcodeF32Div: binop(ValueTypeF32), OpcodeF32Min: binop(ValueTypeF32), OpcodeF32Max: binop(ValueTypeF32),
	OpcodeF32Copysign: binop(ValueTypeF32),

	OpcodeF64Abs: unop(ValueTypeF64), OpcodeF64Neg: unop(ValueTypeF64), OpcodeF64Ceil: unop(ValueTypeF64),
	OpcodeF64Floor: unop(ValueTypeF64), OpcodeF64Trunc: unop(ValueTypeF64), OpcodeF64Nearest: unop(ValueTypeF64),
	OpcodeF64Sqrt: unop(ValueTypeF64),
	OpcodeF64Add:  binop(ValueTypeF64), OpcodeF64Sub: binop(ValueTypeF64), OpcodeF64Mul: binop(ValueTypeF64),
	OpcodeF64Div: binop(ValueTypeF64), OpcodeF64Min: binop(ValueTypeF64), OpcodeF64Max: binop(ValueTypeF64),
	OpcodeF64Copysign: binop(ValueTypeF64),

	OpcodeI32WrapI64:    cvt(ValueTypeI64, ValueTypeI32),
	OpcodeI32TruncF32S:  cvt(ValueTypeF32, ValueTypeI32),
	OpcodeI32TruncF32U:  cvt(ValueTypeF32, ValueTypeI32),
	OpcodeI32TruncF64S:  cvt(ValueTypeF64, ValueTypeI32),
	OpcodeI32TruncF64U:  cvt(ValueTypeF64, ValueTypeI32),
	OpcodeI64ExtendI32S: cvt(ValueTypeI32, ValueTypeI64),
	OpcodeI64ExtendI32U: cvt(ValueTypeI32, ValueTypeI64),
	OpcodeI64TruncF32S:  cvt(ValueTypeF32, ValueTypeI64),
	OpcodeI64TruncF32U:  cvt(ValueTypeF32, ValueTypeI64),
	OpcodeI64TruncF64S:  cvt(ValueTypeF64, ValueTypeI64),
	OpcodeI64TruncF64U:  cvt(ValueTypeF64, ValueTypeI64),
	OpcodeF32ConvertI32S: cvt(ValueTypeI32, ValueTypeF32),
	OpcodeF32ConvertI32U: cvt(ValueTypeI32, ValueTypeF32),
	OpcodeF32ConvertI64S: cvt(ValueTypeI64, ValueTypeF32),
	OpcodeF32ConvertI64U: cvt(ValueTypeI64, ValueTypeF32),
	OpcodeF32DemoteF64:   cvt(ValueTypeF64, ValueTypeF32),
	OpcodeF64ConvertI32S: cvt(ValueTypeI32, ValueTypeF64),
	OpcodeF64ConvertI32U: cvt(ValueTypeI32, ValueTypeF64),
	OpcodeF64ConvertI64S: cvt(ValueTypeI64, ValueTypeF64),
	OpcodeF64ConvertI64U: cvt(ValueTypeI64, ValueTypeF64),
	OpcodeF64PromoteF32:  cvt(ValueTypeF32, ValueTypeF64),
	OpcodeI32ReinterpretF32: cvt(ValueTypeF32, ValueTypeI32),
	OpcodeI64ReinterpretF64: cvt(ValueTypeF64, ValueTypeI64),
	OpcodeF32ReinterpretI32: cvt(ValueTypeI32, ValueTypeF32),
	OpcodeF64ReinterpretI64: cvt(ValueTypeI64, ValueTypeF64),
}

// -- operand/control stack primitives (spec appendix "Validation Algorithm") --

func (v *funcValidator) pushVal(t ValueType) { v.values = append(v.values, abstractValue{Type: t}) }
func (v *funcValidator) push(a abstractValue) { v.values = append(v.values, a) }

func (v *funcValidator) pushVals(ts []ValueType) {
	for _, t := range ts {
		v.pushVal(t)
	}
}

func (v *funcValidator) pop() (abstractValue, error) {
	top := &v.ctrls[len(v.ctrls)-1]
	if len(v.values) == top.startHeight {
		if top.unreachable {
			return abstractValue{IsUnknown: true}, nil
		}
		return abstractValue{}, valErr("operand stack underflow")
	}
	val := v.values[len(v.values)-1]
	v.values = v.values[:len(v.values)-1]
	return val, nil
}

func (v *funcValidator) popExpect(t ValueType) error {
	val, err := v.pop()
	if err != nil {
		return err
	}
	if !val.IsUnknown && val.Type != t {
		return valErr(fmt.Sprintf("type mismatch: expected %s, got %s", api.ValueTypeName(t), api.ValueTypeName(val.Type)))
	}
	return nil
}

func (v *funcValidator) popVals(ts []ValueType) error {
	for i := len(ts) - 1; i >= 0; i-- {
		if err := v.popExpect(ts[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *funcValidator) pushCtrl(offset uint64, op Opcode, bt BlockType) {
	v.ctrls = append(v.ctrls, ctrlFrame{opcode: op, startHeight: len(v.values), blockType: bt, offset: offset})
}

func (v *funcValidator) pushCtrlAt(offset uint64, op Opcode, bt BlockType) {
	v.pushCtrl(offset, op, bt)
	if op == OpcodeLoop {
		v.labels[offset] = Label{Opcode: OpcodeLoop, Target: offset, BlockType: bt}
	}
}

// popCtrl pops the current control frame after checking its end types are on
// the stack, restoring the stack to the frame's start height.
func (v *funcValidator) popCtrl() (*ctrlFrame, error) {
	if len(v.ctrls) == 0 {
		return nil, valErr("end without matching block/loop/if")
	}
	top := &v.ctrls[len(v.ctrls)-1]
	if err := v.popVals(top.blockType.Results()); err != nil {
		return nil, err
	}
	if len(v.values) != top.startHeight {
		return nil, valErr("type mismatch: values remain on the stack at end of block")
	}
	frame := *top
	v.ctrls = v.ctrls[:len(v.ctrls)-1]
	return &frame, nil
}

// popCtrlKeepOpen is popCtrl but used for `else`, which reopens a frame with
// the same identity immediately afterward; it does not restore value-stack
// height itself (the caller does, since else restarts the frame's body).
func (v *funcValidator) popCtrlKeepOpen() (*ctrlFrame, error) {
	return v.popCtrl()
}

func (v *funcValidator) unreachable() {
	top := &v.ctrls[len(v.ctrls)-1]
	v.values = v.values[:top.startHeight]
	top.unreachable = true
}

// checkBranch validates a branch targeting the control frame `depth` levels
// up from the top (0 = innermost), per the label-types rule: a branch to a
// loop is typed by the loop's (empty, in MVP) start types, a branch to any
// other construct by its result types.
func (v *funcValidator) checkBranch(depth Index) error {
	if int(depth) >= len(v.ctrls) {
		return valErr(fmt.Sprintf("branch depth %d exceeds nesting", depth))
	}
	frame := v.ctrls[len(v.ctrls)-1-int(depth)]
	var types []ValueType
	if frame.opcode == OpcodeLoop {
		types = nil
	} else {
		types = frame.blockType.Results()
	}
	// Pop then push back: a conditional branch (br_if/br_table default vs.
	// explicit targets) must leave the stack as if it hadn't branched, since
	// execution continues past it when the branch isn't taken.
	if err := v.popVals(types); err != nil {
		return err
	}
	v.pushVals(types)
	return nil
}

func resultOrZero(results []ValueType) ValueType {
	if len(results) == 0 {
		return 0
	}
	return results[0]
}

func valErr(msg string) error { return &ValidationError{Message: msg} }

// -- raw byte/LEB128 readers over the function body --

func (v *funcValidator) readByte() (byte, error) {
	if v.pc >= len(v.body) {
		return 0, valErr("unexpected end of function body")
	}
	b := v.body[v.pc]
	v.pc++
	return b, nil
}

func (v *funcValidator) skip(n int) error {
	if v.pc+n > len(v.body) {
		return valErr("unexpected end of function body")
	}
	v.pc += n
	return nil
}

func (v *funcValidator) readIndex() (Index, error) {
	val, n, err := leb128.LoadUint32(v.body[v.pc:])
	if err != nil {
		return 0, valErr(fmt.Sprintf("malformed index: %v", err))
	}
	v.pc += int(n)
	return val, nil
}

func (v *funcValidator) readVarI32() (int32, error) {
	val, n, err := leb128.LoadInt32(v.body[v.pc:])
	if err != nil {
		return 0, valErr(fmt.Sprintf("malformed i32.const: %v", err))
	}
	v.pc += int(n)
	return val, nil
}

func (v *funcValidator) readVarI64() (int64, error) {
	val, n, err := leb128.LoadInt64(v.body[v.pc:])
	if err != nil {
		return 0, valErr(fmt.Sprintf("malformed i64.const: %v", err))
	}
	v.pc += int(n)
	return val, nil
}

func (v *funcValidator) readBlockType() (BlockType, error) {
	b, err := v.readByte()
	if err != nil {
		return BlockType{}, err
	}
	if b == 0x40 {
		return BlockType{Empty: true}, nil
	}
	switch b {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return BlockType{ValType: b}, nil
	default:
		return BlockType{}, valErr(fmt.Sprintf("invalid block type %#x", b))
	}
}

func (v *funcValidator) readBrTable() ([]Index, Index, error) {
	count, err := v.readIndex()
	if err != nil {
		return nil, 0, err
	}
	targets := make([]Index, count)
	for i := range targets {
		t, err := v.readIndex()
		if err != nil {
			return nil, 0, err
		}
		targets[i] = t
	}
	def, err := v.readIndex()
	if err != nil {
		return nil, 0, err
	}
	return targets, def, nil
}

// naturalAlignment is the maximum alignment flag (log2 of the natural
// access width in bytes) each load/store opcode may declare.
var naturalAlignment = map[Opcode]uint32{
	OpcodeI32Load: 2, OpcodeI32Load8S: 0, OpcodeI32Load8U: 0, OpcodeI32Load16S: 1, OpcodeI32Load16U: 1,
	OpcodeI64Load: 3, OpcodeI64Load8S: 0, OpcodeI64Load8U: 0, OpcodeI64Load16S: 1, OpcodeI64Load16U: 1, OpcodeI64Load32S: 2, OpcodeI64Load32U: 2,
	OpcodeF32Load: 2,
	OpcodeF64Load: 3,

	OpcodeI32Store: 2, OpcodeI32Store8: 0, OpcodeI32Store16: 1,
	OpcodeI64Store: 3, OpcodeI64Store8: 0, OpcodeI64Store16: 1, OpcodeI64Store32: 2,
	OpcodeF32Store: 2,
	OpcodeF64Store: 3,
}

func (v *funcValidator) checkAlignment(op Opcode, align uint32) error {
	max, ok := naturalAlignment[op]
	if !ok {
		return valErr(fmt.Sprintf("opcode %#x: no natural alignment registered", op))
	}
	if align > max {
		return valErr(fmt.Sprintf("opcode %#x: alignment 2**%d exceeds natural alignment 2**%d", op, align, max))
	}
	return nil
}

func (v *funcValidator) memOp(op Opcode, _ ValueType, result ValueType) error {
	align, err := v.readIndex()
	if err != nil {
		return err
	}
	if err := v.checkAlignment(op, align); err != nil {
		return err
	}
	if _, err := v.readIndex(); err != nil { // offset
		return err
	}
	if err := v.popExpect(ValueTypeI32); err != nil {
		return err
	}
	v.pushVal(result)
	return nil
}

func (v *funcValidator) memStoreOp(op Opcode, valType ValueType) error {
	align, err := v.readIndex()
	if err != nil {
		return err
	}
	if err := v.checkAlignment(op, align); err != nil {
		return err
	}
	if _, err := v.readIndex(); err != nil { // offset
		return err
	}
	if err := v.popExpect(valType); err != nil {
		return err
	}
	return v.popExpect(ValueTypeI32)
}

func (m *Module) globalType(idx Index) (GlobalType, bool) {
	imported := importCount(m, ExternalKindGlobal)
	if idx < imported {
		var n Index
		for _, im := range m.ImportSection {
			if im.Kind == ExternalKindGlobal {
				if n == idx {
					return im.DescGlobal, true
				}
				n++
			}
		}
	}
	definedIdx := idx - imported
	if int(definedIdx) >= len(m.GlobalSection) {
		return GlobalType{}, false
	}
	return m.GlobalSection[definedIdx].Type, true
}
