package interp

import (
	"math"
	"unicode/utf16"

	"github.com/jvmgo/gojvm-core/pkg/classfile"
	"github.com/jvmgo/gojvm-core/pkg/classload"
	"github.com/jvmgo/gojvm-core/pkg/descriptor"
	"github.com/jvmgo/gojvm-core/pkg/runtime"
)

// step executes one instruction and reports (returnValue, hasReturn, err).
// Handlers that read operands do so via frame.Read*, which advances PC past
// them; branching handlers set frame.PC to the absolute target themselves.
// Either way the dispatcher never adds an instruction-length correction
// afterward: handlers own PC from the opcode byte onward, full stop.
// Mixing the two conventions in one handler is how PC bugs happen.
func (in *Interp) step(frame *runtime.Frame, opcode byte) (runtime.Value, bool, error) {
	switch opcode {
	case opNop:
		return runtime.Value{}, false, nil

	case opAconstNull:
		frame.Push(runtime.NullValue())
	case opIconstM1:
		frame.Push(runtime.IntValue(-1))
	case opIconst0, opIconst1, opIconst2, opIconst3, opIconst4, opIconst5:
		frame.Push(runtime.IntValue(int32(opcode - opIconst0)))
	case opLconst0, opLconst1:
		frame.Push(runtime.LongValue(int64(opcode - opLconst0)))
	case opFconst0, opFconst1, opFconst2:
		frame.Push(runtime.FloatValue(float32(opcode - opFconst0)))
	case opDconst0, opDconst1:
		frame.Push(runtime.DoubleValue(float64(opcode - opDconst0)))

	case opBipush:
		frame.Push(runtime.IntValue(int32(frame.ReadI8())))
	case opSipush:
		frame.Push(runtime.IntValue(int32(frame.ReadI16())))

	case opLdc:
		return runtime.Value{}, false, in.executeLdc(frame, uint16(frame.ReadU8()))
	case opLdcW, opLdc2W:
		return runtime.Value{}, false, in.executeLdc(frame, frame.ReadU16())

	// --- loads ---
	case opIload, opFload, opAload:
		frame.Push(frame.GetLocal(int(frame.ReadU8())))
	case opLload, opDload:
		frame.Push(frame.GetLocal(int(frame.ReadU8())))
	case opIload0, opIload1, opIload2, opIload3:
		frame.Push(frame.GetLocal(int(opcode - opIload0)))
	case opLload0, opLload1, opLload2, opLload3:
		frame.Push(frame.GetLocal(int(opcode - opLload0)))
	case opFload0, opFload1, opFload2, opFload3:
		frame.Push(frame.GetLocal(int(opcode - opFload0)))
	case opDload0, opDload1, opDload2, opDload3:
		frame.Push(frame.GetLocal(int(opcode - opDload0)))
	case opAload0, opAload1, opAload2, opAload3:
		frame.Push(frame.GetLocal(int(opcode - opAload0)))

	// --- array loads ---
	case opIaload, opFaload, opAaload, opBaload, opCaload, opSaload, opLaload, opDaload:
		return runtime.Value{}, false, in.executeArrayLoad(frame)

	// --- stores ---
	case opIstore, opFstore, opAstore, opLstore, opDstore:
		frame.SetLocal(int(frame.ReadU8()), frame.Pop())
	case opIstore0, opIstore1, opIstore2, opIstore3:
		frame.SetLocal(int(opcode-opIstore0), frame.Pop())
	case opLstore0, opLstore1, opLstore2, opLstore3:
		frame.SetLocal(int(opcode-opLstore0), frame.Pop())
	case opFstore0, opFstore1, opFstore2, opFstore3:
		frame.SetLocal(int(opcode-opFstore0), frame.Pop())
	case opDstore0, opDstore1, opDstore2, opDstore3:
		frame.SetLocal(int(opcode-opDstore0), frame.Pop())
	case opAstore0, opAstore1, opAstore2, opAstore3:
		frame.SetLocal(int(opcode-opAstore0), frame.Pop())

	// --- array stores ---
	case opIastore, opFastore, opAastore, opBastore, opCastore, opSastore, opLastore, opDastore:
		return runtime.Value{}, false, in.executeArrayStore(frame)

	// --- stack ---
	case opPop:
		frame.Pop()
	case opPop2:
		// Category-2 top (Long/Double) occupies this implementation's single
		// physical slot alone, so pop just it. Otherwise pop the two
		// category-1 values it logically stands in for.
		if frame.Peek(0).IsCategory2() {
			frame.Pop()
		} else {
			frame.Pop()
			frame.Pop()
		}
	case opDup:
		v := frame.Pop()
		frame.Push(v)
		frame.Push(v)
	case opDupX1:
		v1, v2 := frame.Pop(), frame.Pop()
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)
	case opDupX2:
		v1, v2, v3 := frame.Pop(), frame.Pop(), frame.Pop()
		frame.Push(v1)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)
	case opDup2:
		// Form 2: a lone category-2 value duplicates itself, not a phantom
		// pair of category-1 slots.
		if frame.Peek(0).IsCategory2() {
			v := frame.Pop()
			frame.Push(v)
			frame.Push(v)
		} else {
			v1, v2 := frame.Pop(), frame.Pop()
			frame.Push(v2)
			frame.Push(v1)
			frame.Push(v2)
			frame.Push(v1)
		}
	case opDup2X1:
		if frame.Peek(0).IsCategory2() {
			v1, v2 := frame.Pop(), frame.Pop()
			frame.Push(v1)
			frame.Push(v2)
			frame.Push(v1)
		} else {
			v1, v2, v3 := frame.Pop(), frame.Pop(), frame.Pop()
			frame.Push(v2)
			frame.Push(v1)
			frame.Push(v3)
			frame.Push(v2)
			frame.Push(v1)
		}
	case opDup2X2:
		if frame.Peek(0).IsCategory2() {
			if frame.Peek(1).IsCategory2() {
				// Form 4: two lone category-2 values.
				v1, v2 := frame.Pop(), frame.Pop()
				frame.Push(v1)
				frame.Push(v2)
				frame.Push(v1)
			} else {
				// Form 2: category-2 value over two category-1 values.
				v1, v2, v3 := frame.Pop(), frame.Pop(), frame.Pop()
				frame.Push(v1)
				frame.Push(v3)
				frame.Push(v2)
				frame.Push(v1)
			}
		} else if frame.Peek(2).IsCategory2() {
			// Form 3: two category-1 values over a category-2 value.
			v1, v2, v3 := frame.Pop(), frame.Pop(), frame.Pop()
			frame.Push(v2)
			frame.Push(v1)
			frame.Push(v3)
			frame.Push(v2)
			frame.Push(v1)
		} else {
			// Form 1: four category-1 values.
			v1, v2, v3, v4 := frame.Pop(), frame.Pop(), frame.Pop(), frame.Pop()
			frame.Push(v2)
			frame.Push(v1)
			frame.Push(v4)
			frame.Push(v3)
			frame.Push(v2)
			frame.Push(v1)
		}
	case opSwap:
		v1, v2 := frame.Pop(), frame.Pop()
		frame.Push(v1)
		frame.Push(v2)

	// --- int/long/float/double arithmetic ---
	case opIadd:
		b, a := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(runtime.IntValue(a + b))
	case opIsub:
		b, a := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(runtime.IntValue(a - b))
	case opImul:
		b, a := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(runtime.IntValue(a * b))
	case opIdiv:
		b, a := frame.Pop().Int(), frame.Pop().Int()
		if b == 0 {
			return runtime.Value{}, false, newFault(FaultArithmetic, frame.Class.Name, frame.Method.Name, frame.PC, "/ by zero")
		}
		frame.Push(runtime.IntValue(a / b))
	case opIrem:
		b, a := frame.Pop().Int(), frame.Pop().Int()
		if b == 0 {
			return runtime.Value{}, false, newFault(FaultArithmetic, frame.Class.Name, frame.Method.Name, frame.PC, "/ by zero")
		}
		frame.Push(runtime.IntValue(a % b))
	case opIneg:
		frame.Push(runtime.IntValue(-frame.Pop().Int()))

	case opLadd:
		b, a := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(runtime.LongValue(a + b))
	case opLsub:
		b, a := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(runtime.LongValue(a - b))
	case opLmul:
		b, a := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(runtime.LongValue(a * b))
	case opLdiv:
		b, a := frame.Pop().Long(), frame.Pop().Long()
		if b == 0 {
			return runtime.Value{}, false, newFault(FaultArithmetic, frame.Class.Name, frame.Method.Name, frame.PC, "/ by zero")
		}
		frame.Push(runtime.LongValue(a / b))
	case opLrem:
		b, a := frame.Pop().Long(), frame.Pop().Long()
		if b == 0 {
			return runtime.Value{}, false, newFault(FaultArithmetic, frame.Class.Name, frame.Method.Name, frame.PC, "/ by zero")
		}
		frame.Push(runtime.LongValue(a % b))
	case opLneg:
		frame.Push(runtime.LongValue(-frame.Pop().Long()))

	case opFadd:
		b, a := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(runtime.FloatValue(a + b))
	case opFsub:
		b, a := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(runtime.FloatValue(a - b))
	case opFmul:
		b, a := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(runtime.FloatValue(a * b))
	case opFdiv:
		b, a := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(runtime.FloatValue(a / b))
	case opFrem:
		b, a := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(runtime.FloatValue(float32(math.Mod(float64(a), float64(b)))))
	case opFneg:
		frame.Push(runtime.FloatValue(-frame.Pop().Float()))

	case opDadd:
		b, a := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(runtime.DoubleValue(a + b))
	case opDsub:
		b, a := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(runtime.DoubleValue(a - b))
	case opDmul:
		b, a := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(runtime.DoubleValue(a * b))
	case opDdiv:
		b, a := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(runtime.DoubleValue(a / b))
	case opDrem:
		b, a := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(runtime.DoubleValue(math.Mod(a, b)))
	case opDneg:
		frame.Push(runtime.DoubleValue(-frame.Pop().Double()))

	// --- shifts / bitwise (shift distance masked to 5 or 6 bits) ---
	case opIshl:
		s, v := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(runtime.IntValue(v << (uint32(s) & 0x1F)))
	case opIshr:
		s, v := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(runtime.IntValue(v >> (uint32(s) & 0x1F)))
	case opIushr:
		s, v := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(runtime.IntValue(int32(uint32(v) >> (uint32(s) & 0x1F))))
	case opLshl:
		s, v := frame.Pop().Int(), frame.Pop().Long()
		frame.Push(runtime.LongValue(v << (uint64(s) & 0x3F)))
	case opLshr:
		s, v := frame.Pop().Int(), frame.Pop().Long()
		frame.Push(runtime.LongValue(v >> (uint64(s) & 0x3F)))
	case opLushr:
		s, v := frame.Pop().Int(), frame.Pop().Long()
		frame.Push(runtime.LongValue(int64(uint64(v) >> (uint64(s) & 0x3F))))
	case opIand:
		b, a := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(runtime.IntValue(a & b))
	case opIor:
		b, a := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(runtime.IntValue(a | b))
	case opIxor:
		b, a := frame.Pop().Int(), frame.Pop().Int()
		frame.Push(runtime.IntValue(a ^ b))
	case opLand:
		b, a := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(runtime.LongValue(a & b))
	case opLor:
		b, a := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(runtime.LongValue(a | b))
	case opLxor:
		b, a := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(runtime.LongValue(a ^ b))

	case opIinc:
		index := int(frame.ReadU8())
		delta := int32(frame.ReadI8())
		frame.SetLocal(index, runtime.IntValue(frame.GetLocal(index).Int()+delta))

	// --- conversions ---
	case opI2l:
		frame.Push(runtime.LongValue(int64(frame.Pop().Int())))
	case opI2f:
		frame.Push(runtime.FloatValue(float32(frame.Pop().Int())))
	case opI2d:
		frame.Push(runtime.DoubleValue(float64(frame.Pop().Int())))
	case opL2i:
		frame.Push(runtime.IntValue(int32(frame.Pop().Long())))
	case opL2f:
		frame.Push(runtime.FloatValue(float32(frame.Pop().Long())))
	case opL2d:
		frame.Push(runtime.DoubleValue(float64(frame.Pop().Long())))
	case opF2i:
		frame.Push(runtime.IntValue(f2i(frame.Pop().Float())))
	case opF2l:
		frame.Push(runtime.LongValue(f2l(frame.Pop().Float())))
	case opF2d:
		frame.Push(runtime.DoubleValue(float64(frame.Pop().Float())))
	case opD2i:
		frame.Push(runtime.IntValue(d2i(frame.Pop().Double())))
	case opD2l:
		frame.Push(runtime.LongValue(d2l(frame.Pop().Double())))
	case opD2f:
		frame.Push(runtime.FloatValue(float32(frame.Pop().Double())))
	case opI2b:
		frame.Push(runtime.IntValue(int32(int8(frame.Pop().Int()))))
	case opI2c:
		frame.Push(runtime.IntValue(int32(uint16(frame.Pop().Int()))))
	case opI2s:
		frame.Push(runtime.IntValue(int32(int16(frame.Pop().Int()))))

	// --- comparisons producing an int ---
	case opLcmp:
		b, a := frame.Pop().Long(), frame.Pop().Long()
		frame.Push(runtime.IntValue(compareOrdered(a, b)))
	case opFcmpl:
		b, a := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(runtime.IntValue(compareFloatNaN(float64(a), float64(b), -1)))
	case opFcmpg:
		b, a := frame.Pop().Float(), frame.Pop().Float()
		frame.Push(runtime.IntValue(compareFloatNaN(float64(a), float64(b), 1)))
	case opDcmpl:
		b, a := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(runtime.IntValue(compareFloatNaN(a, b, -1)))
	case opDcmpg:
		b, a := frame.Pop().Double(), frame.Pop().Double()
		frame.Push(runtime.IntValue(compareFloatNaN(a, b, 1)))

	// --- conditional branches ---
	case opIfeq:
		return runtime.Value{}, false, in.branchUnary(frame, func(v int32) bool { return v == 0 })
	case opIfne:
		return runtime.Value{}, false, in.branchUnary(frame, func(v int32) bool { return v != 0 })
	case opIflt:
		return runtime.Value{}, false, in.branchUnary(frame, func(v int32) bool { return v < 0 })
	case opIfge:
		return runtime.Value{}, false, in.branchUnary(frame, func(v int32) bool { return v >= 0 })
	case opIfgt:
		return runtime.Value{}, false, in.branchUnary(frame, func(v int32) bool { return v > 0 })
	case opIfle:
		return runtime.Value{}, false, in.branchUnary(frame, func(v int32) bool { return v <= 0 })
	case opIfIcmpeq:
		return runtime.Value{}, false, in.branchBinary(frame, func(a, b int32) bool { return a == b })
	case opIfIcmpne:
		return runtime.Value{}, false, in.branchBinary(frame, func(a, b int32) bool { return a != b })
	case opIfIcmplt:
		return runtime.Value{}, false, in.branchBinary(frame, func(a, b int32) bool { return a < b })
	case opIfIcmpge:
		return runtime.Value{}, false, in.branchBinary(frame, func(a, b int32) bool { return a >= b })
	case opIfIcmpgt:
		return runtime.Value{}, false, in.branchBinary(frame, func(a, b int32) bool { return a > b })
	case opIfIcmple:
		return runtime.Value{}, false, in.branchBinary(frame, func(a, b int32) bool { return a <= b })
	case opIfAcmpeq:
		return runtime.Value{}, false, in.branchRef(frame, func(a, b runtime.Value) bool { return refEqual(a, b) })
	case opIfAcmpne:
		return runtime.Value{}, false, in.branchRef(frame, func(a, b runtime.Value) bool { return !refEqual(a, b) })
	case opIfnull:
		return runtime.Value{}, false, in.branchRefUnary(frame, func(v runtime.Value) bool { return v.IsNull() })
	case opIfnonnull:
		return runtime.Value{}, false, in.branchRefUnary(frame, func(v runtime.Value) bool { return !v.IsNull() })

	case opGoto:
		opcodeAddr := frame.PC - 1
		offset := int(frame.ReadI16())
		frame.PC = opcodeAddr + offset
	case opGotoW:
		opcodeAddr := frame.PC - 1
		offset := int(frame.ReadI32())
		frame.PC = opcodeAddr + offset

	case opJsr, opRet, opJsrW:
		return runtime.Value{}, false, newFault(FaultUnsupportedOpcode, frame.Class.Name, frame.Method.Name, frame.PC, "jsr/ret is refused in this core")

	case opTableswitch:
		return runtime.Value{}, false, in.executeTableswitch(frame)
	case opLookupswitch:
		return runtime.Value{}, false, in.executeLookupswitch(frame)

	// --- returns ---
	case opIreturn, opFreturn, opAreturn:
		return frame.Pop(), true, nil
	case opLreturn, opDreturn:
		return frame.Pop(), true, nil
	case opReturn:
		return runtime.Value{}, true, nil

	// --- references ---
	case opGetstatic:
		return runtime.Value{}, false, in.executeGetstatic(frame)
	case opPutstatic:
		return runtime.Value{}, false, in.executePutstatic(frame)
	case opGetfield:
		return runtime.Value{}, false, in.executeGetfield(frame)
	case opPutfield:
		return runtime.Value{}, false, in.executePutfield(frame)

	case opInvokespecial:
		return runtime.Value{}, false, in.executeInvokespecial(frame)
	case opInvokevirtual, opInvokestatic, opInvokeinterface, opInvokedynamic:
		frame.ReadU16()
		if opcode == opInvokeinterface {
			frame.ReadU8()
			frame.ReadU8()
		} else if opcode == opInvokedynamic {
			frame.ReadU8()
			frame.ReadU8()
		}
		return runtime.Value{}, false, newFault(FaultUnsupportedOpcode, frame.Class.Name, frame.Method.Name, frame.PC, "%s is decoded but not implemented in this core", invokeOpcodeName(opcode))

	case opNew:
		return runtime.Value{}, false, in.executeNew(frame)
	case opNewarray:
		return runtime.Value{}, false, in.executeNewarray(frame)
	case opAnewarray:
		return runtime.Value{}, false, in.executeAnewarray(frame)
	case opArraylength:
		return runtime.Value{}, false, in.executeArraylength(frame)
	case opAthrow:
		return runtime.Value{}, false, in.executeAthrow(frame)
	case opCheckcast, opInstanceof:
		frame.ReadU16()
		return runtime.Value{}, false, nil // structurally parsed; type-compatibility logic out of scope

	case opWide:
		return runtime.Value{}, false, in.executeWide(frame)

	default:
		return runtime.Value{}, false, newFault(FaultUnsupportedOpcode, frame.Class.Name, frame.Method.Name, frame.PC, "opcode 0x%02X has no handler", opcode)
	}
	return runtime.Value{}, false, nil
}

func invokeOpcodeName(opcode byte) string {
	switch opcode {
	case opInvokevirtual:
		return "invokevirtual"
	case opInvokestatic:
		return "invokestatic"
	case opInvokeinterface:
		return "invokeinterface"
	case opInvokedynamic:
		return "invokedynamic"
	default:
		return "invoke"
	}
}

// f2i/f2l/d2i/d2l implement the JVM's float/double-to-integer
// narrowing: NaN saturates to zero, ±Infinity (and any
// out-of-range magnitude) saturates to the target type's extrema. Go's
// bare float-to-int conversion is implementation-dependent for values that
// don't fit (amd64's CVTTSD2SI/CVTTSS2SI yield MinInt for both NaN and
// +Inf), so the JVM's 0/max/min split must be checked explicitly rather
// than relying on the target conversion.
func f2i(f float32) int32 {
	f64 := float64(f)
	switch {
	case math.IsNaN(f64):
		return 0
	case math.IsInf(f64, 1) || f64 >= math.MaxInt32:
		return math.MaxInt32
	case math.IsInf(f64, -1) || f64 <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(f)
	}
}

func f2l(f float32) int64 {
	f64 := float64(f)
	switch {
	case math.IsNaN(f64):
		return 0
	case math.IsInf(f64, 1) || f64 >= math.MaxInt64:
		return math.MaxInt64
	case math.IsInf(f64, -1) || f64 <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}

func d2i(d float64) int32 {
	switch {
	case math.IsNaN(d):
		return 0
	case math.IsInf(d, 1) || d >= math.MaxInt32:
		return math.MaxInt32
	case math.IsInf(d, -1) || d <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(d)
	}
}

func d2l(d float64) int64 {
	switch {
	case math.IsNaN(d):
		return 0
	case math.IsInf(d, 1) || d >= math.MaxInt64:
		return math.MaxInt64
	case math.IsInf(d, -1) || d <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(d)
	}
}

func compareOrdered(a, b int64) int32 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

// compareFloatNaN implements fcmpl/fcmpg/dcmpl/dcmpg: nanResult is -1 for
// the *l variants and 1 for the *g variants when either operand is NaN.
func compareFloatNaN(a, b float64, nanResult int32) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return nanResult
	}
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

func refEqual(a, b runtime.Value) bool {
	if a.IsNull() && b.IsNull() {
		return true
	}
	if a.IsNull() != b.IsNull() {
		return false
	}
	return a.Ref() == b.Ref()
}

// branchUnary / branchBinary / branchRef implement the if* family: the
// 2-byte signed offset is relative to the opcode's own address, so the
// target is computed from the instruction start, not from PC after the
// offset has been read.
func (in *Interp) branchUnary(frame *runtime.Frame, cond func(int32) bool) error {
	opcodeAddr := frame.PC - 1
	offset := int(frame.ReadI16())
	if cond(frame.Pop().Int()) {
		frame.PC = opcodeAddr + offset
	}
	return nil
}

func (in *Interp) branchBinary(frame *runtime.Frame, cond func(a, b int32) bool) error {
	opcodeAddr := frame.PC - 1
	offset := int(frame.ReadI16())
	b, a := frame.Pop().Int(), frame.Pop().Int()
	if cond(a, b) {
		frame.PC = opcodeAddr + offset
	}
	return nil
}

func (in *Interp) branchRef(frame *runtime.Frame, cond func(a, b runtime.Value) bool) error {
	opcodeAddr := frame.PC - 1
	offset := int(frame.ReadI16())
	b, a := frame.Pop(), frame.Pop()
	if cond(a, b) {
		frame.PC = opcodeAddr + offset
	}
	return nil
}

func (in *Interp) branchRefUnary(frame *runtime.Frame, cond func(runtime.Value) bool) error {
	opcodeAddr := frame.PC - 1
	offset := int(frame.ReadI16())
	if cond(frame.Pop()) {
		frame.PC = opcodeAddr + offset
	}
	return nil
}

func (in *Interp) executeWide(frame *runtime.Frame) error {
	modified := frame.ReadU8()
	switch modified {
	case opIinc:
		index := int(frame.ReadU16())
		delta := int32(frame.ReadI16())
		frame.SetLocal(index, runtime.IntValue(frame.GetLocal(index).Int()+delta))
	case opIload, opFload, opAload, opLload, opDload:
		frame.Push(frame.GetLocal(int(frame.ReadU16())))
	case opIstore, opFstore, opAstore, opLstore, opDstore:
		frame.SetLocal(int(frame.ReadU16()), frame.Pop())
	case opRet:
		return newFault(FaultUnsupportedOpcode, frame.Class.Name, frame.Method.Name, frame.PC, "wide ret is refused in this core")
	default:
		// wide only prefixes the load/store family and iinc; anything else
		// is a malformed program.
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "wide prefix on opcode 0x%02X is malformed", modified)
	}
	return nil
}

// executeTableswitch / executeLookupswitch implement the two irregular,
// 4-byte-aligned switch encodings. Padding aligns the operands to a
// multiple of 4 from the start of the method's code; jump offsets are
// relative to the opcode's own address.
func (in *Interp) executeTableswitch(frame *runtime.Frame) error {
	opcodeAddr := frame.PC - 1
	frame.PC = align4(frame.PC)
	def := frame.ReadI32()
	low := frame.ReadI32()
	high := frame.ReadI32()
	key := frame.Pop().Int()
	if key < low || key > high {
		frame.PC = opcodeAddr + int(def)
		return nil
	}
	offsetIndex := key - low
	frame.PC += int(offsetIndex) * 4
	offset := frame.ReadI32()
	frame.PC = opcodeAddr + int(offset)
	return nil
}

func (in *Interp) executeLookupswitch(frame *runtime.Frame) error {
	opcodeAddr := frame.PC - 1
	frame.PC = align4(frame.PC)
	def := frame.ReadI32()
	npairs := frame.ReadI32()
	key := frame.Pop().Int()
	target := opcodeAddr + int(def)
	prev := int64(math.MinInt64)
	for i := int32(0); i < npairs; i++ {
		matchVal := frame.ReadI32()
		offset := frame.ReadI32()
		if int64(matchVal) <= prev {
			// match values must be sorted ascending per the format.
			return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, opcodeAddr, "lookupswitch match values out of order at pair %d", i)
		}
		prev = int64(matchVal)
		if matchVal == key {
			target = opcodeAddr + int(offset)
		}
	}
	frame.PC = target
	return nil
}

func align4(pc int) int {
	if r := pc % 4; r != 0 {
		return pc + (4 - r)
	}
	return pc
}

// executeArrayLoad / executeArrayStore cover all eight typed-array forms
// plus the reference form.
func (in *Interp) executeArrayLoad(frame *runtime.Frame) error {
	index := frame.Pop().Int()
	arrVal := frame.Pop()
	if arrVal.IsNull() {
		return newFault(FaultNullPointer, frame.Class.Name, frame.Method.Name, frame.PC, "array reference is null")
	}
	arr, ok := arrVal.Ref().(*runtime.Array)
	if !ok {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "array load: receiver is not an array")
	}
	if index < 0 || index >= arr.Length() {
		return newFault(FaultArrayIndex, frame.Class.Name, frame.Method.Name, frame.PC, "index %d out of bounds for length %d", index, arr.Length())
	}
	frame.Push(arr.Elements[index])
	return nil
}

func (in *Interp) executeArrayStore(frame *runtime.Frame) error {
	value := frame.Pop()
	index := frame.Pop().Int()
	arrVal := frame.Pop()
	if arrVal.IsNull() {
		return newFault(FaultNullPointer, frame.Class.Name, frame.Method.Name, frame.PC, "array reference is null")
	}
	arr, ok := arrVal.Ref().(*runtime.Array)
	if !ok {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "array store: receiver is not an array")
	}
	if index < 0 || index >= arr.Length() {
		return newFault(FaultArrayIndex, frame.Class.Name, frame.Method.Name, frame.PC, "index %d out of bounds for length %d", index, arr.Length())
	}
	if arr.Kind == runtime.ArrayReference {
		if obj, ok := value.Ref().(*runtime.Object); ok && arr.ElemClass != nil && !in.isInstanceOf(obj.Class, arr.ElemClass.Name) {
			return newFault(FaultArrayStore, frame.Class.Name, frame.Method.Name, frame.PC,
				"cannot store %s into array of %s", obj.Class.Name, arr.ElemClass.Name)
		}
		arr.Elements[index] = value
		return nil
	}
	arr.Elements[index] = narrowForArrayKind(arr.Kind, value)
	return nil
}

// narrowForArrayKind implements the per-kind narrowing for the
// sub-word array element types: bastore keeps the bottom 8 bits (sign-
// extended for byte, masked to one bit for boolean), castore the bottom 16
// bits unsigned, sastore the bottom 16 bits sign-extended. Wide element
// kinds (int/long/float/double/reference) already carry the right value
// from the arithmetic that produced them and pass through unchanged.
func narrowForArrayKind(kind runtime.ArrayKind, v runtime.Value) runtime.Value {
	switch kind {
	case runtime.ArrayByte:
		return runtime.ByteValue(int8(v.Int()))
	case runtime.ArrayBoolean:
		return runtime.BooleanValue(v.Int()&1 != 0)
	case runtime.ArrayChar:
		return runtime.CharValue(uint16(v.Int()))
	case runtime.ArrayShort:
		return runtime.ShortValue(int16(v.Int()))
	default:
		return v
	}
}

// executeLdc resolves one of the constant pool's loadable kinds onto the
// stack. Class constants are pushed as a live *classload.Class handle
// rather than a modeled java.lang.Class mirror, which would need the
// native-bridge layer this core does not carry.
func (in *Interp) executeLdc(frame *runtime.Frame, index uint16) error {
	rc, err := frame.Class.Resolver().Resolve(index, in.Registry)
	if err != nil {
		return err
	}
	switch rc.Kind {
	case classload.ResolvedInteger:
		frame.Push(runtime.IntValue(rc.Integer))
	case classload.ResolvedFloat:
		frame.Push(runtime.FloatValue(rc.Float))
	case classload.ResolvedLong:
		frame.Push(runtime.LongValue(rc.Long))
	case classload.ResolvedDouble:
		frame.Push(runtime.DoubleValue(rc.Double))
	case classload.ResolvedString:
		str, err := in.internString(rc.Str)
		if err != nil {
			return err
		}
		frame.Push(runtime.RefValue(str))
	case classload.ResolvedClass:
		frame.Push(runtime.RefValue(rc.Class))
	default:
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "ldc: unsupported resolved constant kind at index %d", index)
	}
	return nil
}

// internString implements the interned string table: the first ldc of a
// given UTF-8 text materialises the java/lang/String heap wrapper (a
// `value:[C` field holding its UTF-16 units) and caches it on the registry;
// every later ldc of the same text, from any constant-pool index in any
// class, returns the identical handle so if_acmpeq sees them as equal.
func (in *Interp) internString(text string) (*runtime.Object, error) {
	if cached, ok := in.Registry.InternedString(text); ok {
		return cached.(*runtime.Object), nil
	}
	strClass, err := in.Registry.Load("java/lang/String")
	if err != nil {
		return nil, err
	}
	units := utf16.Encode([]rune(text))
	chars := runtime.NewArray(runtime.ArrayChar, int32(len(units)), nil)
	for i, u := range units {
		chars.Elements[i] = runtime.CharValue(u)
	}
	obj := runtime.NewObject(strClass)
	obj.Fields[classload.FieldKey("value", "[C")] = runtime.RefValue(chars)
	in.Registry.SetInternedString(text, obj)
	return obj, nil
}

// executeGetstatic / executePutstatic store statics in a per-Class map,
// initialized from the field's ConstantValue attribute (or the type's
// zero value) on first touch. No class-initialisation pass runs <clinit>.
func (in *Interp) executeGetstatic(frame *runtime.Frame) error {
	index := frame.ReadU16()
	rc, err := frame.Class.Resolver().Resolve(index, in.Registry)
	if err != nil {
		return err
	}
	if rc.Kind != classload.ResolvedField {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "getstatic: index %d is not a field reference", index)
	}
	owner := rc.Field.Owner()
	key := classload.FieldKey(rc.Field.Name, rc.Field.Descriptor)
	fieldType, _, err := parseFieldKind(rc.Field.Descriptor)
	if err != nil {
		return err
	}
	owner.InitStaticIfAbsent(key, initialStaticValue(rc.Field, fieldType))
	v, _ := owner.GetStatic(key)
	frame.Push(v.(runtime.Value))
	return nil
}

func (in *Interp) executePutstatic(frame *runtime.Frame) error {
	index := frame.ReadU16()
	rc, err := frame.Class.Resolver().Resolve(index, in.Registry)
	if err != nil {
		return err
	}
	if rc.Kind != classload.ResolvedField {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "putstatic: index %d is not a field reference", index)
	}
	value := frame.Pop()
	owner := rc.Field.Owner()
	key := classload.FieldKey(rc.Field.Name, rc.Field.Descriptor)
	owner.SetStatic(key, value)
	return nil
}

func (in *Interp) executeGetfield(frame *runtime.Frame) error {
	index := frame.ReadU16()
	rc, err := frame.Class.Resolver().Resolve(index, in.Registry)
	if err != nil {
		return err
	}
	if rc.Kind != classload.ResolvedField {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "getfield: index %d is not a field reference", index)
	}
	objVal := frame.Pop()
	if objVal.IsNull() {
		return newFault(FaultNullPointer, frame.Class.Name, frame.Method.Name, frame.PC, "getfield on null reference")
	}
	obj, ok := objVal.Ref().(*runtime.Object)
	if !ok {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "getfield: receiver is not an object")
	}
	key := classload.FieldKey(rc.Field.Name, rc.Field.Descriptor)
	if v, exists := obj.Fields[key]; exists {
		frame.Push(v)
		return nil
	}
	fieldType, _, err := parseFieldKind(rc.Field.Descriptor)
	if err != nil {
		return err
	}
	frame.Push(runtime.ZeroFor(fieldType))
	return nil
}

func (in *Interp) executePutfield(frame *runtime.Frame) error {
	index := frame.ReadU16()
	rc, err := frame.Class.Resolver().Resolve(index, in.Registry)
	if err != nil {
		return err
	}
	if rc.Kind != classload.ResolvedField {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "putfield: index %d is not a field reference", index)
	}
	value := frame.Pop()
	objVal := frame.Pop()
	if objVal.IsNull() {
		return newFault(FaultNullPointer, frame.Class.Name, frame.Method.Name, frame.PC, "putfield on null reference")
	}
	obj, ok := objVal.Ref().(*runtime.Object)
	if !ok {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "putfield: receiver is not an object")
	}
	obj.Fields[classload.FieldKey(rc.Field.Name, rc.Field.Descriptor)] = value
	return nil
}

func (in *Interp) executeNew(frame *runtime.Frame) error {
	index := frame.ReadU16()
	rc, err := frame.Class.Resolver().Resolve(index, in.Registry)
	if err != nil {
		return err
	}
	if rc.Kind != classload.ResolvedClass {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "new: index %d is not a class reference", index)
	}
	frame.Push(runtime.RefValue(runtime.NewObject(rc.Class)))
	return nil
}

func (in *Interp) executeNewarray(frame *runtime.Frame) error {
	atype := frame.ReadU8()
	length := frame.Pop().Int()
	if length < 0 {
		return newFault(FaultArrayIndex, frame.Class.Name, frame.Method.Name, frame.PC, "negative array size %d", length)
	}
	kind, ok := runtime.NewarrayKind(atype)
	if !ok {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "newarray: unknown atype %d", atype)
	}
	frame.Push(runtime.RefValue(runtime.NewArray(kind, length, nil)))
	return nil
}

func (in *Interp) executeAnewarray(frame *runtime.Frame) error {
	index := frame.ReadU16()
	length := frame.Pop().Int()
	if length < 0 {
		return newFault(FaultArrayIndex, frame.Class.Name, frame.Method.Name, frame.PC, "negative array size %d", length)
	}
	rc, err := frame.Class.Resolver().Resolve(index, in.Registry)
	if err != nil {
		return err
	}
	if rc.Kind != classload.ResolvedClass {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "anewarray: index %d is not a class reference", index)
	}
	// Register the "[L<name>;" class so later checkcast/ldc of the array
	// type sees it; reference-array classes are synthesised on demand.
	if _, err := in.Registry.Load("[L" + rc.Class.Name + ";"); err != nil {
		return err
	}
	frame.Push(runtime.RefValue(runtime.NewArray(runtime.ArrayReference, length, rc.Class)))
	return nil
}

func (in *Interp) executeArraylength(frame *runtime.Frame) error {
	v := frame.Pop()
	if v.IsNull() {
		return newFault(FaultNullPointer, frame.Class.Name, frame.Method.Name, frame.PC, "arraylength on null reference")
	}
	arr, ok := v.Ref().(*runtime.Array)
	if !ok {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "arraylength: receiver is not an array")
	}
	frame.Push(runtime.IntValue(arr.Length()))
	return nil
}

// executeAthrow pops the thrown reference and surfaces it as a catchable
// Fault; handleStepError walks the exception table to decide whether this
// frame (or a caller's) handles it.
func (in *Interp) executeAthrow(frame *runtime.Frame) error {
	v := frame.Pop()
	if v.IsNull() {
		return newFault(FaultNullPointer, frame.Class.Name, frame.Method.Name, frame.PC, "athrow of null reference")
	}
	obj, ok := v.Ref().(*runtime.Object)
	if !ok {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "athrow: thrown value is not an object")
	}
	return &Fault{Kind: FaultUncaughtException, Thrown: obj, Message: "exception " + obj.Class.Name + " thrown"}
}

// executeInvokespecial handles constructor chaining and same-class
// private-method calls, resolved without a super-class walk. The receiver
// and arguments are popped, a callee frame is built and pushed; PC
// handling is entirely local to this handler.
func (in *Interp) executeInvokespecial(frame *runtime.Frame) error {
	index := frame.ReadU16()
	rc, err := frame.Class.Resolver().Resolve(index, in.Registry)
	if err != nil {
		return err
	}
	if rc.Kind != classload.ResolvedMethod && rc.Kind != classload.ResolvedInterfaceMethod {
		return newFault(FaultDecode, frame.Class.Name, frame.Method.Name, frame.PC, "invokespecial: index %d is not a method reference", index)
	}

	params, ret, err := descriptor.ParseMethodDescriptor(rc.Method.Descriptor)
	if err != nil {
		return err
	}
	args := make([]runtime.Value, len(params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	receiver := frame.Pop()
	if receiver.IsNull() {
		return newFault(FaultNullPointer, frame.Class.Name, frame.Method.Name, frame.PC, "invokespecial on null receiver")
	}

	if rc.Method.IsNative() || rc.Method.IsAbstract() || rc.Method.Code == nil {
		// Object.<init> and other bodiless bootstrap methods are no-ops.
		return nil
	}

	fullArgs := make([]runtime.Value, 0, len(args)+1)
	fullArgs = append(fullArgs, receiver)
	fullArgs = append(fullArgs, args...)

	retVal, err := in.ExecuteMethod(rc.MethodOwner, rc.Method, fullArgs)
	if err != nil {
		return err
	}
	if ret.Kind != descriptor.Void {
		frame.Push(retVal)
	}
	return nil
}

// parseFieldKind maps a field descriptor to the runtime Value Kind it is
// stored as, bridging pkg/descriptor's richer Type
// (which also models arrays and class names pkg/runtime doesn't need for
// this purpose) down to the flat Kind enum.
func parseFieldKind(desc string) (runtime.Kind, descriptor.Type, error) {
	t, _, err := descriptor.ParseFieldType(desc)
	if err != nil {
		return 0, descriptor.Type{}, err
	}
	switch t.Kind {
	case descriptor.Byte:
		return runtime.KindByte, t, nil
	case descriptor.Short:
		return runtime.KindShort, t, nil
	case descriptor.Int:
		return runtime.KindInt, t, nil
	case descriptor.Long:
		return runtime.KindLong, t, nil
	case descriptor.Char:
		return runtime.KindChar, t, nil
	case descriptor.Float:
		return runtime.KindFloat, t, nil
	case descriptor.Double:
		return runtime.KindDouble, t, nil
	case descriptor.Boolean:
		return runtime.KindBoolean, t, nil
	default:
		return runtime.KindReference, t, nil
	}
}

func initialStaticValue(field *classload.Field, kind runtime.Kind) runtime.Value {
	if field.ConstantValue != nil {
		switch cv := (*field.ConstantValue).(type) {
		case *classfile.ConstantInteger:
			return runtime.IntValue(cv.Value)
		case *classfile.ConstantFloat:
			return runtime.FloatValue(cv.Value)
		case *classfile.ConstantLong:
			return runtime.LongValue(cv.Value)
		case *classfile.ConstantDouble:
			return runtime.DoubleValue(cv.Value)
		}
	}
	return runtime.ZeroFor(kind)
}
