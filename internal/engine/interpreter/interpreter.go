// Package interpreter implements the engine described by spec §4.5: a
// naive, stack-based interpreter that walks decoded-and-validated opcodes
// directly, resolving branches in O(1) via the LabelMap the validator
// already built. There is no IR lowering or compilation step — every
// opcode is dispatched with one flat switch, matching the teacher's own
// documented preference for a simple, auditable bytecode loop over a
// tree-walking or bytecode-compiling interpreter.
package interpreter

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/wazerocore/wazerocore/internal/wasm"
)

func init() {
	wasm.SetStartRunner(func(ctx context.Context, fn *wasm.FuncInstance) error {
		_, err := CallFunction(ctx, fn, nil)
		return err
	})
}

// callFrame is one activation record: the function being run, its locals
// (params followed by declared locals), and the instruction pointer into
// its body.
type callFrame struct {
	fn     *wasm.FuncInstance
	locals []uint64
	pc     int

	// blocks mirrors the validator's control-frame stack at runtime: one
	// entry per currently-open block/loop/if, innermost last. A branch of
	// relative depth d targets blocks[len(blocks)-1-d] directly — the
	// O(1) resolution spec §4.5 asks for, since the label itself (with its
	// precomputed target offset) was already resolved once, by the
	// validator, rather than re-derived here.
	blocks []blockEntry

	stackBase int // operand stack height on entry, after the params were popped
}

type blockEntry struct {
	label       wasm.Label
	stackHeight int // operand stack height when this block was entered
}

// callEngine holds the operand stack and frame stack shared across every
// function call that happens during one exported-function invocation, along
// with the two depth ceilings spec §6's RuntimeConfig exposes.
type callEngine struct {
	stack  []uint64
	frames []*callFrame

	maxValueStackDepth int
	maxFrameStackDepth int
}

func (ce *callEngine) pushValue(v uint64) {
	if len(ce.stack) >= ce.maxValueStackDepth {
		panic(&wasm.Trap{Code: wasm.TrapCodeCallStackExhausted})
	}
	ce.stack = append(ce.stack, v)
}
func (ce *callEngine) popValue() uint64 {
	i := len(ce.stack) - 1
	v := ce.stack[i]
	ce.stack = ce.stack[:i]
	return v
}

func (ce *callEngine) pushFrame(f *callFrame) {
	if len(ce.frames) >= ce.maxFrameStackDepth {
		panic(&wasm.Trap{Code: wasm.TrapCodeCallStackExhausted})
	}
	ce.frames = append(ce.frames, f)
}

func (ce *callEngine) popFrame() {
	ce.frames = ce.frames[:len(ce.frames)-1]
}

func (ce *callEngine) currentFrame() *callFrame { return ce.frames[len(ce.frames)-1] }

// CallFunction invokes fn (host or Wasm-defined) with the given argument
// values (already encoded per api.Encode*), returning its result values.
//
// Traps raised anywhere in the call tree surface here as a *wasm.Trap error,
// via the panic/recover boundary below — the interpreter's numeric and
// memory-access opcodes panic directly with the trap value instead of
// threading an error return through every call, mirroring the teacher's own
// wasmruntime.ErrRuntime* panic/recover design.
func CallFunction(ctx context.Context, fn *wasm.FuncInstance, params []uint64) (results []uint64, err error) {
	maxValues, maxFrames := wasm.DefaultMaxValueStackDepth, wasm.DefaultMaxFrameStackDepth
	if fn.Module != nil && fn.Module.Store != nil {
		maxValues, maxFrames = fn.Module.Store.MaxValueStackDepth, fn.Module.Store.MaxFrameStackDepth
	}
	ce := &callEngine{maxValueStackDepth: maxValues, maxFrameStackDepth: maxFrames}
	for _, p := range params {
		ce.pushValue(p)
	}
	if err := ce.safeCall(ctx, fn); err != nil {
		return nil, err
	}
	results = make([]uint64, len(fn.Type.Results))
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = ce.popValue()
	}
	return results, nil
}

func (ce *callEngine) safeCall(ctx context.Context, fn *wasm.FuncInstance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if t, ok := r.(*wasm.Trap); ok {
				err = t
				return
			}
			if h, ok := r.(*wasm.HostError); ok {
				err = h
				return
			}
			panic(r)
		}
	}()
	ce.call(ctx, fn)
	return nil
}

// call dispatches to a host function or enters the bytecode loop for a
// Wasm-defined one, consuming its parameters from ce.stack and leaving its
// results there.
func (ce *callEngine) call(ctx context.Context, fn *wasm.FuncInstance) {
	if fn.IsHost() {
		ce.callHost(ctx, fn)
		return
	}
	ce.callWasm(ctx, fn)
}

func (ce *callEngine) callHost(ctx context.Context, fn *wasm.FuncInstance) {
	arity := len(fn.Type.Params)
	stack := make([]uint64, maxInt(arity, len(fn.Type.Results)))
	for i := arity - 1; i >= 0; i-- {
		stack[i] = ce.popValue()
	}
	if err := fn.Go(ctx, stack); err != nil {
		panic(&wasm.HostError{Module: fn.ModuleName, Function: fn.Name, Cause: err})
	}
	for i := 0; i < len(fn.Type.Results); i++ {
		ce.pushValue(stack[i])
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (ce *callEngine) callWasm(ctx context.Context, fn *wasm.FuncInstance) {
	locals := make([]uint64, len(fn.LocalTypes)+len(fn.Type.Params))
	for i := len(fn.Type.Params) - 1; i >= 0; i-- {
		locals[i] = ce.popValue()
	}
	frame := &callFrame{fn: fn, locals: locals, stackBase: len(ce.stack)}
	ce.pushFrame(frame)
	ce.run(ctx, frame)
	ce.popFrame()
}

// run executes fn's body from frame.pc to completion: either it falls off
// the end of the outermost (implicit) block, or a `return` unwinds it, at
// which point fn's results are the top len(fn.Type.Results) stack entries.
func (ce *callEngine) run(ctx context.Context, frame *callFrame) {
	fn := frame.fn
	body := fn.Body
	valueStackBase := len(ce.stack)

	for frame.pc < len(body) {
		op := body[frame.pc]
		offset := uint64(frame.pc)
		frame.pc++

		switch op {
		case wasm.OpcodeUnreachable:
			panic(&wasm.Trap{Code: wasm.TrapCodeUnreachable, FunctionIndex: 0, InstructionOffset: offset})

		case wasm.OpcodeNop:

		case wasm.OpcodeBlock:
			frame.pc += blockTypeWidth
			frame.blocks = append(frame.blocks, blockEntry{label: fn.Labels[offset], stackHeight: len(ce.stack)})
		case wasm.OpcodeLoop:
			frame.pc += blockTypeWidth
			frame.blocks = append(frame.blocks, blockEntry{label: fn.Labels[offset], stackHeight: len(ce.stack)})
		case wasm.OpcodeIf:
			frame.pc += blockTypeWidth
			label := fn.Labels[offset]
			cond := ce.popValue()
			frame.blocks = append(frame.blocks, blockEntry{label: label, stackHeight: len(ce.stack)})
			if cond == 0 {
				if label.HasElse {
					frame.pc = int(label.ElseOffset)
				} else {
					// No else arm: control never reaches this block's own
					// end, so the blockEntry pushed above never gets
					// popped by OpcodeEnd. Pop it here.
					frame.pc = int(label.Target) + 1
					frame.blocks = frame.blocks[:len(frame.blocks)-1]
				}
			}

		case wasm.OpcodeElse:
			// Reached by falling through the true-branch: skip the
			// else-branch body entirely by jumping past its matching end,
			// popping the blockEntry that end would otherwise have popped.
			label := fn.Labels[offset]
			frame.pc = int(label.Target) + 1
			frame.blocks = frame.blocks[:len(frame.blocks)-1]

		case wasm.OpcodeEnd:
			if len(frame.blocks) > 0 {
				frame.blocks = frame.blocks[:len(frame.blocks)-1]
			}

		case wasm.OpcodeBr:
			idx := ce.readIndex(frame)
			ce.branch(frame, idx)

		case wasm.OpcodeBrIf:
			idx := ce.readIndex(frame)
			if ce.popValue() != 0 {
				ce.branch(frame, idx)
			}

		case wasm.OpcodeBrTable:
			count := ce.readIndex(frame)
			targets := make([]uint32, count)
			for i := range targets {
				targets[i] = ce.readIndex(frame)
			}
			def := ce.readIndex(frame)
			v := ce.popValue()
			if v < uint64(len(targets)) {
				ce.branch(frame, targets[v])
			} else {
				ce.branch(frame, def)
			}

		case wasm.OpcodeReturn:
			ce.unwindTo(valueStackBase, len(fn.Type.Results))
			return

		case wasm.OpcodeCall:
			idx := ce.readIndex(frame)
			callee := frame.fn.Module.Functions[idx]
			ce.call(ctx, callee)

		case wasm.OpcodeCallIndirect:
			typeIdx := ce.readIndex(frame)
			frame.pc++ // reserved table-index byte
			elemIdx := ce.popValue()
			table := frame.fn.Module.Tables[0]
			if elemIdx >= uint64(len(table.Elements)) {
				panic(&wasm.Trap{Code: wasm.TrapCodeUndefinedElement, InstructionOffset: offset})
			}
			callee := table.Elements[elemIdx]
			if callee == nil {
				panic(&wasm.Trap{Code: wasm.TrapCodeUndefinedElement, InstructionOffset: offset})
			}
			typ := frame.fn.Module.TypeAt(typeIdx)
			if !callee.Type.EqualsSignature(typ.Params, typ.Results) {
				panic(&wasm.Trap{Code: wasm.TrapCodeIndirectCallTypeMismatch, InstructionOffset: offset})
			}
			ce.call(ctx, callee)

		case wasm.OpcodeDrop:
			ce.popValue()

		case wasm.OpcodeSelect:
			cond := ce.popValue()
			v2 := ce.popValue()
			v1 := ce.popValue()
			if cond != 0 {
				ce.pushValue(v1)
			} else {
				ce.pushValue(v2)
			}

		case wasm.OpcodeGetLocal:
			idx := ce.readIndex(frame)
			ce.pushValue(frame.locals[idx])
		case wasm.OpcodeSetLocal:
			idx := ce.readIndex(frame)
			frame.locals[idx] = ce.popValue()
		case wasm.OpcodeTeeLocal:
			idx := ce.readIndex(frame)
			frame.locals[idx] = ce.stack[len(ce.stack)-1]

		case wasm.OpcodeGetGlobal:
			idx := ce.readIndex(frame)
			ce.pushValue(frame.fn.Module.Globals[idx].Get())
		case wasm.OpcodeSetGlobal:
			idx := ce.readIndex(frame)
			frame.fn.Module.Globals[idx].Set(ce.popValue())

		case wasm.OpcodeI32Load:
			ce.load(frame, offset, 4, func(b []byte) uint64 { return uint64(binary.LittleEndian.Uint32(b)) })
		case wasm.OpcodeI64Load:
			ce.load(frame, offset, 8, func(b []byte) uint64 { return binary.LittleEndian.Uint64(b) })
		case wasm.OpcodeF32Load:
			ce.load(frame, offset, 4, func(b []byte) uint64 { return uint64(binary.LittleEndian.Uint32(b)) })
		case wasm.OpcodeF64Load:
			ce.load(frame, offset, 8, func(b []byte) uint64 { return binary.LittleEndian.Uint64(b) })
		case wasm.OpcodeI32Load8S:
			ce.load(frame, offset, 1, func(b []byte) uint64 { return uint64(uint32(int32(int8(b[0])))) })
		case wasm.OpcodeI32Load8U:
			ce.load(frame, offset, 1, func(b []byte) uint64 { return uint64(b[0]) })
		case wasm.OpcodeI32Load16S:
			ce.load(frame, offset, 2, func(b []byte) uint64 { return uint64(uint32(int32(int16(binary.LittleEndian.Uint16(b))))) })
		case wasm.OpcodeI32Load16U:
			ce.load(frame, offset, 2, func(b []byte) uint64 { return uint64(binary.LittleEndian.Uint16(b)) })
		case wasm.OpcodeI64Load8S:
			ce.load(frame, offset, 1, func(b []byte) uint64 { return uint64(int64(int8(b[0]))) })
		case wasm.OpcodeI64Load8U:
			ce.load(frame, offset, 1, func(b []byte) uint64 { return uint64(b[0]) })
		case wasm.OpcodeI64Load16S:
			ce.load(frame, offset, 2, func(b []byte) uint64 { return uint64(int64(int16(binary.LittleEndian.Uint16(b)))) })
		case wasm.OpcodeI64Load16U:
			ce.load(frame, offset, 2, func(b []byte) uint64 { return uint64(binary.LittleEndian.Uint16(b)) })
		case wasm.OpcodeI64Load32S:
			ce.load(frame, offset, 4, func(b []byte) uint64 { return uint64(int64(int32(binary.LittleEndian.Uint32(b)))) })
		case wasm.OpcodeI64Load32U:
			ce.load(frame, offset, 4, func(b []byte) uint64 { return uint64(binary.LittleEndian.Uint32(b)) })

		case wasm.OpcodeI32Store, wasm.OpcodeF32Store:
			ce.store(frame, offset, 4, func(b []byte, v uint64) { binary.LittleEndian.PutUint32(b, uint32(v)) })
		case wasm.OpcodeI64Store, wasm.OpcodeF64Store:
			ce.store(frame, offset, 8, func(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) })
		case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
			ce.store(frame, offset, 1, func(b []byte, v uint64) { b[0] = byte(v) })
		case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
			ce.store(frame, offset, 2, func(b []byte, v uint64) { binary.LittleEndian.PutUint16(b, uint16(v)) })
		case wasm.OpcodeI64Store32:
			ce.store(frame, offset, 4, func(b []byte, v uint64) { binary.LittleEndian.PutUint32(b, uint32(v)) })

		case wasm.OpcodeCurrentMemory:
			frame.pc++ // reserved byte
			ce.pushValue(uint64(frame.fn.Module.Memories[0].PageSize()))
		case wasm.OpcodeGrowMemory:
			frame.pc++ // reserved byte
			delta := uint32(ce.popValue())
			prev, ok := frame.fn.Module.Memories[0].Grow(delta)
			if !ok {
				ce.pushValue(uint64(uint32(0xffffffff)))
			} else {
				ce.pushValue(uint64(prev))
			}

		case wasm.OpcodeI32Const:
			v := ce.readVarI32(frame)
			ce.pushValue(uint64(uint32(v)))
		case wasm.OpcodeI64Const:
			v := ce.readVarI64(frame)
			ce.pushValue(uint64(v))
		case wasm.OpcodeF32Const:
			ce.pushValue(uint64(binary.LittleEndian.Uint32(body[frame.pc : frame.pc+4])))
			frame.pc += 4
		case wasm.OpcodeF64Const:
			ce.pushValue(binary.LittleEndian.Uint64(body[frame.pc : frame.pc+8]))
			frame.pc += 8

		default:
			ce.numericOp(op, offset)
		}
	}
}

const blockTypeWidth = 1

// readIndex/readVarI32/readVarI64 decode a LEB128 immediate starting at
// frame.pc, advancing it past the immediate. Wasm opcodes validated by
// ValidateModule are guaranteed well-formed, so these intentionally don't
// return errors — a malformed immediate here would be an invariant
// violation, not a runtime trap.
func (ce *callEngine) readIndex(frame *callFrame) uint32 {
	v, n := decodeVarUint32(frame.fn.Body[frame.pc:])
	frame.pc += n
	return v
}

func (ce *callEngine) readVarI32(frame *callFrame) int32 {
	v, n := decodeVarInt64(frame.fn.Body[frame.pc:])
	frame.pc += n
	return int32(v)
}

func (ce *callEngine) readVarI64(frame *callFrame) int64 {
	v, n := decodeVarInt64(frame.fn.Body[frame.pc:])
	frame.pc += n
	return v
}

func decodeVarUint32(b []byte) (uint32, int) {
	v, n := decodeVarInt64Raw(b, false)
	return uint32(v), n
}

func decodeVarInt64(b []byte) (int64, int) {
	v, n := decodeVarInt64Raw(b, true)
	return v, n
}

func decodeVarInt64Raw(b []byte, signed bool) (int64, int) {
	var result int64
	var shift uint
	var i int
	var c byte
	for {
		c = b[i]
		result |= int64(c&0x7f) << shift
		shift += 7
		i++
		if c&0x80 == 0 {
			break
		}
	}
	if signed && shift < 64 && c&0x40 != 0 {
		result |= -1 << shift
	}
	return result, i
}

// branch implements a resolved br/br_if/br_table target: unwind the operand
// stack to the targeted block's entry height plus its result/param arity,
// then jump. depth indexes frame.blocks from the innermost block outward,
// per the Wasm spec's relative-depth branch encoding; a depth equal to
// len(frame.blocks) targets the function's own implicit outermost block,
// which is the same as `return`.
//
// Branching to a loop re-enters its body (its label's Target is the loop's
// own start offset, re-executed including its block-type immediate), while
// branching to any other construct exits it (Target is its matching `end`).
func (ce *callEngine) branch(frame *callFrame, relativeDepth uint32) {
	depth := int(relativeDepth)
	if depth >= len(frame.blocks) {
		arity := len(frame.fn.Type.Results)
		ce.unwindTo(frame.stackBase, arity)
		frame.pc = len(frame.fn.Body)
		return
	}
	entry := frame.blocks[len(frame.blocks)-1-depth]
	var arity int
	if entry.label.Opcode != wasm.OpcodeLoop {
		// MVP block types carry no parameter types, so branching to a loop
		// (which re-executes from its start, needing none of the values
		// produced since) discards everything down to entry height; only a
		// branch that exits a block/if keeps its declared result value.
		arity = len(entry.label.BlockType.Results())
	}
	ce.unwindTo(entry.stackHeight, arity)

	if entry.label.Opcode == wasm.OpcodeLoop {
		frame.pc = int(entry.label.Target)
		// re-entering pushes a fresh blockEntry when the loop opcode is
		// re-executed; drop the stale one now so the stack mirrors it.
		frame.blocks = frame.blocks[:len(frame.blocks)-1-depth]
	} else {
		frame.pc = int(entry.label.Target) + 1 // past the `end` itself
		frame.blocks = frame.blocks[:len(frame.blocks)-1-depth]
	}
}

// unwindTo trims the operand stack down to base+resultArity results,
// discarding whatever intermediate values are above it — the effect of
// exiting a block/function early via br/return.
func (ce *callEngine) unwindTo(base int, resultArity int) {
	if resultArity == 0 {
		ce.stack = ce.stack[:base]
		return
	}
	results := make([]uint64, resultArity)
	copy(results, ce.stack[len(ce.stack)-resultArity:])
	ce.stack = append(ce.stack[:base], results...)
}

// load decodes a memarg (align, offset), pops the i32 address operand, and
// reads size bytes at address+offset from the function's (sole) memory,
// trapping on out-of-bounds access.
func (ce *callEngine) load(frame *callFrame, instrOffset uint64, size uint32, decode func([]byte) uint64) {
	_ = ce.readIndex(frame) // align hint, unused by this interpreter
	memOffset := ce.readIndex(frame)
	addr := uint32(ce.popValue())
	mem := frame.fn.Module.Memories[0]
	effective := uint64(addr) + uint64(memOffset)
	if effective > math.MaxUint32 {
		panic(&wasm.Trap{Code: wasm.TrapCodeOutOfBoundsMemoryAccess, InstructionOffset: instrOffset})
	}
	buf, ok := mem.Read(uint32(effective), size)
	if !ok {
		panic(&wasm.Trap{Code: wasm.TrapCodeOutOfBoundsMemoryAccess, InstructionOffset: instrOffset})
	}
	ce.pushValue(decode(buf))
}

// store is load's write-side counterpart: it pops the value then the
// address (reverse order from how they were pushed).
func (ce *callEngine) store(frame *callFrame, instrOffset uint64, size uint32, encode func([]byte, uint64)) {
	_ = ce.readIndex(frame) // align hint, unused by this interpreter
	memOffset := ce.readIndex(frame)
	v := ce.popValue()
	addr := uint32(ce.popValue())
	mem := frame.fn.Module.Memories[0]
	effective := uint64(addr) + uint64(memOffset)
	if effective > math.MaxUint32 {
		panic(&wasm.Trap{Code: wasm.TrapCodeOutOfBoundsMemoryAccess, InstructionOffset: instrOffset})
	}
	buf, ok := mem.Read(uint32(effective), size)
	if !ok {
		panic(&wasm.Trap{Code: wasm.TrapCodeOutOfBoundsMemoryAccess, InstructionOffset: instrOffset})
	}
	encode(buf, v)
}

func (ce *callEngine) numericOp(op wasm.Opcode, offset uint64) {
	numericDispatch(ce, op, offset)
}
