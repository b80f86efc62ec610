package runtime

import (
	"fmt"

	"github.com/jvmgo/gojvm-core/pkg/classload"
)

// Frame is one method-activation record: an operand stack, a
// local-variable array, the raw code buffer being walked, the owning class
// and method for constant-pool / exception-table lookups, and the PC.
//
// Category-2 values (Long, Double) are stored as a single Value occupying
// one slot here; the two-slot JVM convention is honoured by pkg/interp
// using Value.IsCategory2 rather than by physically splitting the slot.
type Frame struct {
	LocalVars    []Value
	OperandStack []Value
	SP           int
	PC           int
	Code         []byte
	Class        *classload.Class
	Method       *classload.Method
}

// NewFrame allocates a Frame sized to its method's declared stack/locals
// budget (MaxStack/MaxLocals come off the Code attribute).
func NewFrame(class *classload.Class, method *classload.Method) *Frame {
	code := method.Code
	return &Frame{
		LocalVars:    make([]Value, code.MaxLocals),
		OperandStack: make([]Value, code.MaxStack),
		Code:         code.Code,
		Class:        class,
		Method:       method,
	}
}

func (f *Frame) Push(v Value) {
	if f.SP >= len(f.OperandStack) {
		panic(fmt.Sprintf("operand stack overflow in %s.%s: SP=%d max=%d", f.Class.Name, f.Method.Name, f.SP, len(f.OperandStack)))
	}
	f.OperandStack[f.SP] = v
	f.SP++
}

func (f *Frame) Pop() Value {
	if f.SP <= 0 {
		panic(fmt.Sprintf("operand stack underflow in %s.%s", f.Class.Name, f.Method.Name))
	}
	f.SP--
	return f.OperandStack[f.SP]
}

// Peek returns the value n slots below the top without popping (n=0 is the top).
func (f *Frame) Peek(n int) Value {
	return f.OperandStack[f.SP-1-n]
}

func (f *Frame) GetLocal(index int) Value {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range in %s.%s: index=%d max=%d", f.Class.Name, f.Method.Name, index, len(f.LocalVars)))
	}
	return f.LocalVars[index]
}

func (f *Frame) SetLocal(index int, v Value) {
	if index < 0 || index >= len(f.LocalVars) {
		panic(fmt.Sprintf("local variable index out of range in %s.%s: index=%d max=%d", f.Class.Name, f.Method.Name, index, len(f.LocalVars)))
	}
	f.LocalVars[index] = v
}

// ReadU8 / ReadI8 / ReadU16 / ReadI16 / ReadI32 read one bytecode operand
// from Code at PC and advance PC past it. The signed-32 form serves
// tableswitch/lookupswitch/goto_w.
func (f *Frame) ReadU8() uint8 {
	v := f.Code[f.PC]
	f.PC++
	return v
}

func (f *Frame) ReadI8() int8 {
	v := int8(f.Code[f.PC])
	f.PC++
	return v
}

func (f *Frame) ReadU16() uint16 {
	v := uint16(f.Code[f.PC])<<8 | uint16(f.Code[f.PC+1])
	f.PC += 2
	return v
}

func (f *Frame) ReadI16() int16 {
	return int16(f.ReadU16())
}

func (f *Frame) ReadI32() int32 {
	v := int32(f.Code[f.PC])<<24 | int32(f.Code[f.PC+1])<<16 | int32(f.Code[f.PC+2])<<8 | int32(f.Code[f.PC+3])
	f.PC += 4
	return v
}
