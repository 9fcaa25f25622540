package interpreter

import (
	"math"
	"math/bits"

	"github.com/wazerocore/wazerocore/internal/moremath"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

// numericDispatch executes every opcode the validator's numericSignatures
// table type-checks: integer/float arithmetic, comparisons, bitwise and
// shift ops, and the int/float conversions. Each case pops its operands (in
// push order, so the second popped value is the left-hand operand of a
// binop) and pushes its single result, matching the stack-machine semantics
// spec §4.5 describes.
//
// Traps here are the numeric ones spec §4.6 names: division/remainder by
// zero, signed division overflow (INT_MIN / -1), and an out-of-range or
// NaN float-to-int truncation.
func numericDispatch(ce *callEngine, op wasm.Opcode, offset uint64) {
	switch op {
	// -- i32 comparisons --
	case wasm.OpcodeI32Eqz:
		ce.pushValue(b2u(int32(ce.popValue()) == 0))
	case wasm.OpcodeI32Eq:
		y, x := int32(ce.popValue()), int32(ce.popValue())
		ce.pushValue(b2u(x == y))
	case wasm.OpcodeI32Ne:
		y, x := int32(ce.popValue()), int32(ce.popValue())
		ce.pushValue(b2u(x != y))
	case wasm.OpcodeI32LtS:
		y, x := int32(ce.popValue()), int32(ce.popValue())
		ce.pushValue(b2u(x < y))
	case wasm.OpcodeI32LtU:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(b2u(x < y))
	case wasm.OpcodeI32GtS:
		y, x := int32(ce.popValue()), int32(ce.popValue())
		ce.pushValue(b2u(x > y))
	case wasm.OpcodeI32GtU:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(b2u(x > y))
	case wasm.OpcodeI32LeS:
		y, x := int32(ce.popValue()), int32(ce.popValue())
		ce.pushValue(b2u(x <= y))
	case wasm.OpcodeI32LeU:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(b2u(x <= y))
	case wasm.OpcodeI32GeS:
		y, x := int32(ce.popValue()), int32(ce.popValue())
		ce.pushValue(b2u(x >= y))
	case wasm.OpcodeI32GeU:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(b2u(x >= y))

	// -- i64 comparisons --
	case wasm.OpcodeI64Eqz:
		ce.pushValue(b2u(int64(ce.popValue()) == 0))
	case wasm.OpcodeI64Eq:
		y, x := int64(ce.popValue()), int64(ce.popValue())
		ce.pushValue(b2u(x == y))
	case wasm.OpcodeI64Ne:
		y, x := int64(ce.popValue()), int64(ce.popValue())
		ce.pushValue(b2u(x != y))
	case wasm.OpcodeI64LtS:
		y, x := int64(ce.popValue()), int64(ce.popValue())
		ce.pushValue(b2u(x < y))
	case wasm.OpcodeI64LtU:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(b2u(x < y))
	case wasm.OpcodeI64GtS:
		y, x := int64(ce.popValue()), int64(ce.popValue())
		ce.pushValue(b2u(x > y))
	case wasm.OpcodeI64GtU:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(b2u(x > y))
	case wasm.OpcodeI64LeS:
		y, x := int64(ce.popValue()), int64(ce.popValue())
		ce.pushValue(b2u(x <= y))
	case wasm.OpcodeI64LeU:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(b2u(x <= y))
	case wasm.OpcodeI64GeS:
		y, x := int64(ce.popValue()), int64(ce.popValue())
		ce.pushValue(b2u(x >= y))
	case wasm.OpcodeI64GeU:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(b2u(x >= y))

	// -- f32 comparisons --
	case wasm.OpcodeF32Eq:
		y, x := popF32(ce), popF32(ce)
		ce.pushValue(b2u(x == y))
	case wasm.OpcodeF32Ne:
		y, x := popF32(ce), popF32(ce)
		ce.pushValue(b2u(x != y))
	case wasm.OpcodeF32Lt:
		y, x := popF32(ce), popF32(ce)
		ce.pushValue(b2u(x < y))
	case wasm.OpcodeF32Gt:
		y, x := popF32(ce), popF32(ce)
		ce.pushValue(b2u(x > y))
	case wasm.OpcodeF32Le:
		y, x := popF32(ce), popF32(ce)
		ce.pushValue(b2u(x <= y))
	case wasm.OpcodeF32Ge:
		y, x := popF32(ce), popF32(ce)
		ce.pushValue(b2u(x >= y))

	// -- f64 comparisons --
	case wasm.OpcodeF64Eq:
		y, x := popF64(ce), popF64(ce)
		ce.pushValue(b2u(x == y))
	case wasm.OpcodeF64Ne:
		y, x := popF64(ce), popF64(ce)
		ce.pushValue(b2u(x != y))
	case wasm.OpcodeF64Lt:
		y, x := popF64(ce), popF64(ce)
		ce.pushValue(b2u(x < y))
	case wasm.OpcodeF64Gt:
		y, x := popF64(ce), popF64(ce)
		ce.pushValue(b2u(x > y))
	case wasm.OpcodeF64Le:
		y, x := popF64(ce), popF64(ce)
		ce.pushValue(b2u(x <= y))
	case wasm.OpcodeF64Ge:
		y, x := popF64(ce), popF64(ce)
		ce.pushValue(b2u(x >= y))

	// -- i32 arithmetic / bitwise --
	case wasm.OpcodeI32Clz:
		ce.pushValue(uint64(bits.LeadingZeros32(uint32(ce.popValue()))))
	case wasm.OpcodeI32Ctz:
		ce.pushValue(uint64(bits.TrailingZeros32(uint32(ce.popValue()))))
	case wasm.OpcodeI32Popcnt:
		ce.pushValue(uint64(bits.OnesCount32(uint32(ce.popValue()))))
	case wasm.OpcodeI32Add:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(x + y))
	case wasm.OpcodeI32Sub:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(x - y))
	case wasm.OpcodeI32Mul:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(x * y))
	case wasm.OpcodeI32DivS:
		y, x := int32(ce.popValue()), int32(ce.popValue())
		if y == 0 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerDivideByZero, InstructionOffset: offset})
		}
		if x == math.MinInt32 && y == -1 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerOverflow, InstructionOffset: offset})
		}
		ce.pushValue(uint64(uint32(x / y)))
	case wasm.OpcodeI32DivU:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		if y == 0 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerDivideByZero, InstructionOffset: offset})
		}
		ce.pushValue(uint64(x / y))
	case wasm.OpcodeI32RemS:
		y, x := int32(ce.popValue()), int32(ce.popValue())
		if y == 0 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerDivideByZero, InstructionOffset: offset})
		}
		if x == math.MinInt32 && y == -1 {
			ce.pushValue(0)
		} else {
			ce.pushValue(uint64(uint32(x % y)))
		}
	case wasm.OpcodeI32RemU:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		if y == 0 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerDivideByZero, InstructionOffset: offset})
		}
		ce.pushValue(uint64(x % y))
	case wasm.OpcodeI32And:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(x & y))
	case wasm.OpcodeI32Or:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(x | y))
	case wasm.OpcodeI32Xor:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(x ^ y))
	case wasm.OpcodeI32Shl:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(x << (y & 31)))
	case wasm.OpcodeI32ShrS:
		y, x := uint32(ce.popValue()), int32(ce.popValue())
		ce.pushValue(uint64(uint32(x >> (y & 31))))
	case wasm.OpcodeI32ShrU:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(x >> (y & 31)))
	case wasm.OpcodeI32Rotl:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(bits.RotateLeft32(x, int(y))))
	case wasm.OpcodeI32Rotr:
		y, x := uint32(ce.popValue()), uint32(ce.popValue())
		ce.pushValue(uint64(bits.RotateLeft32(x, -int(y))))

	// -- i64 arithmetic / bitwise --
	case wasm.OpcodeI64Clz:
		ce.pushValue(uint64(bits.LeadingZeros64(ce.popValue())))
	case wasm.OpcodeI64Ctz:
		ce.pushValue(uint64(bits.TrailingZeros64(ce.popValue())))
	case wasm.OpcodeI64Popcnt:
		ce.pushValue(uint64(bits.OnesCount64(ce.popValue())))
	case wasm.OpcodeI64Add:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(x + y)
	case wasm.OpcodeI64Sub:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(x - y)
	case wasm.OpcodeI64Mul:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(x * y)
	case wasm.OpcodeI64DivS:
		y, x := int64(ce.popValue()), int64(ce.popValue())
		if y == 0 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerDivideByZero, InstructionOffset: offset})
		}
		if x == math.MinInt64 && y == -1 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerOverflow, InstructionOffset: offset})
		}
		ce.pushValue(uint64(x / y))
	case wasm.OpcodeI64DivU:
		y, x := ce.popValue(), ce.popValue()
		if y == 0 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerDivideByZero, InstructionOffset: offset})
		}
		ce.pushValue(x / y)
	case wasm.OpcodeI64RemS:
		y, x := int64(ce.popValue()), int64(ce.popValue())
		if y == 0 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerDivideByZero, InstructionOffset: offset})
		}
		if x == math.MinInt64 && y == -1 {
			ce.pushValue(0)
		} else {
			ce.pushValue(uint64(x % y))
		}
	case wasm.OpcodeI64RemU:
		y, x := ce.popValue(), ce.popValue()
		if y == 0 {
			panic(&wasm.Trap{Code: wasm.TrapCodeIntegerDivideByZero, InstructionOffset: offset})
		}
		ce.pushValue(x % y)
	case wasm.OpcodeI64And:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(x & y)
	case wasm.OpcodeI64Or:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(x | y)
	case wasm.OpcodeI64Xor:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(x ^ y)
	case wasm.OpcodeI64Shl:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(x << (y & 63))
	case wasm.OpcodeI64ShrS:
		y, x := ce.popValue(), int64(ce.popValue())
		ce.pushValue(uint64(x >> (y & 63)))
	case wasm.OpcodeI64ShrU:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(x >> (y & 63))
	case wasm.OpcodeI64Rotl:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(bits.RotateLeft64(x, int(y)))
	case wasm.OpcodeI64Rotr:
		y, x := ce.popValue(), ce.popValue()
		ce.pushValue(bits.RotateLeft64(x, -int(y)))

	// -- f32 arithmetic --
	case wasm.OpcodeF32Abs:
		pushF32(ce, float32(math.Abs(float64(popF32(ce)))))
	case wasm.OpcodeF32Neg:
		pushF32(ce, -popF32(ce))
	case wasm.OpcodeF32Ceil:
		pushF32(ce, float32(math.Ceil(float64(popF32(ce)))))
	case wasm.OpcodeF32Floor:
		pushF32(ce, float32(math.Floor(float64(popF32(ce)))))
	case wasm.OpcodeF32Trunc:
		pushF32(ce, float32(math.Trunc(float64(popF32(ce)))))
	case wasm.OpcodeF32Nearest:
		pushF32(ce, moremath.WasmCompatNearestF32(popF32(ce)))
	case wasm.OpcodeF32Sqrt:
		pushF32(ce, float32(math.Sqrt(float64(popF32(ce)))))
	case wasm.OpcodeF32Add:
		y, x := popF32(ce), popF32(ce)
		pushF32(ce, x+y)
	case wasm.OpcodeF32Sub:
		y, x := popF32(ce), popF32(ce)
		pushF32(ce, x-y)
	case wasm.OpcodeF32Mul:
		y, x := popF32(ce), popF32(ce)
		pushF32(ce, x*y)
	case wasm.OpcodeF32Div:
		y, x := popF32(ce), popF32(ce)
		pushF32(ce, x/y)
	case wasm.OpcodeF32Min:
		y, x := popF32(ce), popF32(ce)
		pushF32(ce, moremath.WasmCompatMin32(x, y))
	case wasm.OpcodeF32Max:
		y, x := popF32(ce), popF32(ce)
		pushF32(ce, moremath.WasmCompatMax32(x, y))
	case wasm.OpcodeF32Copysign:
		y, x := popF32(ce), popF32(ce)
		pushF32(ce, float32(math.Copysign(float64(x), float64(y))))

	// -- f64 arithmetic --
	case wasm.OpcodeF64Abs:
		pushF64(ce, math.Abs(popF64(ce)))
	case wasm.OpcodeF64Neg:
		pushF64(ce, -popF64(ce))
	case wasm.OpcodeF64Ceil:
		pushF64(ce, math.Ceil(popF64(ce)))
	case wasm.OpcodeF64Floor:
		pushF64(ce, math.Floor(popF64(ce)))
	case wasm.OpcodeF64Trunc:
		pushF64(ce, math.Trunc(popF64(ce)))
	case wasm.OpcodeF64Nearest:
		pushF64(ce, moremath.WasmCompatNearestF64(popF64(ce)))
	case wasm.OpcodeF64Sqrt:
		pushF64(ce, math.Sqrt(popF64(ce)))
	case wasm.OpcodeF64Add:
		y, x := popF64(ce), popF64(ce)
		pushF64(ce, x+y)
	case wasm.OpcodeF64Sub:
		y, x := popF64(ce), popF64(ce)
		pushF64(ce, x-y)
	case wasm.OpcodeF64Mul:
		y, x := popF64(ce), popF64(ce)
		pushF64(ce, x*y)
	case wasm.OpcodeF64Div:
		y, x := popF64(ce), popF64(ce)
		pushF64(ce, x/y)
	case wasm.OpcodeF64Min:
		y, x := popF64(ce), popF64(ce)
		pushF64(ce, moremath.WasmCompatMin(x, y))
	case wasm.OpcodeF64Max:
		y, x := popF64(ce), popF64(ce)
		pushF64(ce, moremath.WasmCompatMax(x, y))
	case wasm.OpcodeF64Copysign:
		y, x := popF64(ce), popF64(ce)
		pushF64(ce, math.Copysign(x, y))

	// -- conversions --
	case wasm.OpcodeI32WrapI64:
		ce.pushValue(uint64(uint32(ce.popValue())))
	case wasm.OpcodeI32TruncF32S:
		ce.pushValue(uint64(uint32(truncToI32(float64(popF32(ce)), offset))))
	case wasm.OpcodeI32TruncF32U:
		ce.pushValue(uint64(truncToU32(float64(popF32(ce)), offset)))
	case wasm.OpcodeI32TruncF64S:
		ce.pushValue(uint64(uint32(truncToI32(popF64(ce), offset))))
	case wasm.OpcodeI32TruncF64U:
		ce.pushValue(uint64(truncToU32(popF64(ce), offset)))
	case wasm.OpcodeI64ExtendI32S:
		ce.pushValue(uint64(int64(int32(ce.popValue()))))
	case wasm.OpcodeI64ExtendI32U:
		ce.pushValue(uint64(uint32(ce.popValue())))
	case wasm.OpcodeI64TruncF32S:
		ce.pushValue(uint64(truncToI64(float64(popF32(ce)), offset)))
	case wasm.OpcodeI64TruncF32U:
		ce.pushValue(truncToU64(float64(popF32(ce)), offset))
	case wasm.OpcodeI64TruncF64S:
		ce.pushValue(uint64(truncToI64(popF64(ce), offset)))
	case wasm.OpcodeI64TruncF64U:
		ce.pushValue(truncToU64(popF64(ce), offset))
	case wasm.OpcodeF32ConvertI32S:
		pushF32(ce, float32(int32(ce.popValue())))
	case wasm.OpcodeF32ConvertI32U:
		pushF32(ce, float32(uint32(ce.popValue())))
	case wasm.OpcodeF32ConvertI64S:
		pushF32(ce, float32(int64(ce.popValue())))
	case wasm.OpcodeF32ConvertI64U:
		pushF32(ce, float32(ce.popValue()))
	case wasm.OpcodeF32DemoteF64:
		pushF32(ce, float32(popF64(ce)))
	case wasm.OpcodeF64ConvertI32S:
		pushF64(ce, float64(int32(ce.popValue())))
	case wasm.OpcodeF64ConvertI32U:
		pushF64(ce, float64(uint32(ce.popValue())))
	case wasm.OpcodeF64ConvertI64S:
		pushF64(ce, float64(int64(ce.popValue())))
	case wasm.OpcodeF64ConvertI64U:
		pushF64(ce, float64(ce.popValue()))
	case wasm.OpcodeF64PromoteF32:
		pushF64(ce, float64(popF32(ce)))
	case wasm.OpcodeI32ReinterpretF32:
		ce.pushValue(uint64(math.Float32bits(popF32(ce))))
	case wasm.OpcodeI64ReinterpretF64:
		ce.pushValue(math.Float64bits(popF64(ce)))
	case wasm.OpcodeF32ReinterpretI32:
		pushF32(ce, math.Float32frombits(uint32(ce.popValue())))
	case wasm.OpcodeF64ReinterpretI64:
		pushF64(ce, math.Float64frombits(ce.popValue()))

	default:
		panic(&wasm.InvariantViolation{Message: "interpreter: unhandled opcode after successful validation"})
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func popF32(ce *callEngine) float32 { return math.Float32frombits(uint32(ce.popValue())) }
func pushF32(ce *callEngine, f float32) { ce.pushValue(uint64(math.Float32bits(f))) }

func popF64(ce *callEngine) float64 { return math.Float64frombits(ce.popValue()) }
func pushF64(ce *callEngine, f float64) { ce.pushValue(math.Float64bits(f)) }

// The four truncToX functions below implement the eight *.trunc_* opcodes,
// trapping on NaN (invalid conversion) or a magnitude outside the
// destination range (integer overflow), per spec §4.6. Bounds are checked
// against the pre-truncation float using thresholds that are exactly
// representable as a float64 (2^31, 2^32, 2^63, 2^64 are; their -1
// counterparts generally are not, -2^31-1 is), rather than against a
// truncated boundary constant that could round to the wrong value.

func truncToI32(f float64, offset uint64) int32 {
	trapOnNaN(f, offset)
	if f <= -2147483649 || f >= 2147483648 {
		panic(&wasm.Trap{Code: wasm.TrapCodeIntegerOverflow, InstructionOffset: offset})
	}
	return int32(math.Trunc(f))
}

func truncToU32(f float64, offset uint64) uint32 {
	trapOnNaN(f, offset)
	if f <= -1 || f >= 4294967296 {
		panic(&wasm.Trap{Code: wasm.TrapCodeIntegerOverflow, InstructionOffset: offset})
	}
	return uint32(math.Trunc(f))
}

func truncToI64(f float64, offset uint64) int64 {
	trapOnNaN(f, offset)
	if f < -9223372036854775808 || f >= 9223372036854775808 {
		panic(&wasm.Trap{Code: wasm.TrapCodeIntegerOverflow, InstructionOffset: offset})
	}
	return int64(math.Trunc(f))
}

func truncToU64(f float64, offset uint64) uint64 {
	trapOnNaN(f, offset)
	if f <= -1 || f >= 18446744073709551616 {
		panic(&wasm.Trap{Code: wasm.TrapCodeIntegerOverflow, InstructionOffset: offset})
	}
	return uint64(math.Trunc(f))
}

func trapOnNaN(f float64, offset uint64) {
	if math.IsNaN(f) {
		panic(&wasm.Trap{Code: wasm.TrapCodeInvalidConversionToInteger, InstructionOffset: offset})
	}
}
