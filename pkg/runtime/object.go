package runtime

import "github.com/jvmgo/gojvm-core/pkg/classload"

// Object is a plain heap-allocated instance: its declaring class plus a
// "name:descriptor"-keyed field table. Class is a plain GC-visible
// pointer; see classload.Class's doc comment for why the resulting object
// graph cycles are left to Go's garbage collector.
type Object struct {
	Class  *classload.Class
	Fields map[string]Value
}

// NewObject allocates a zero-valued instance of class (the new opcode).
// Fields are lazily populated on first getfield/putfield touch; reads of
// an absent field fall back to ZeroFor(descriptor).
func NewObject(class *classload.Class) *Object {
	return &Object{Class: class, Fields: make(map[string]Value)}
}

// ArrayKind identifies the element type of a JVM array object, matching
// the newarray atype codes plus the reference-array form.
type ArrayKind uint8

const (
	ArrayBoolean ArrayKind = iota
	ArrayChar
	ArrayFloat
	ArrayDouble
	ArrayByte
	ArrayShort
	ArrayInt
	ArrayLong
	ArrayReference
)

// newarrayKindFromAtype maps the single-byte operand of newarray (4..11)
// to an ArrayKind.
func newarrayKindFromAtype(atype uint8) (ArrayKind, bool) {
	switch atype {
	case 4:
		return ArrayBoolean, true
	case 5:
		return ArrayChar, true
	case 6:
		return ArrayFloat, true
	case 7:
		return ArrayDouble, true
	case 8:
		return ArrayByte, true
	case 9:
		return ArrayShort, true
	case 10:
		return ArrayInt, true
	case 11:
		return ArrayLong, true
	default:
		return 0, false
	}
}

// NewarrayKind exposes newarrayKindFromAtype for pkg/interp.
func NewarrayKind(atype uint8) (ArrayKind, bool) { return newarrayKindFromAtype(atype) }

// Array is a fixed-length, homogeneously-typed heap array. ElemClass is
// only set for ArrayReference arrays: the element class that anewarray
// resolved from its constant-pool operand.
type Array struct {
	Kind      ArrayKind
	ElemClass *classload.Class
	Elements  []Value
}

// NewArray allocates a zero-filled array of the given kind and length.
func NewArray(kind ArrayKind, length int32, elemClass *classload.Class) *Array {
	zero := zeroForArrayKind(kind)
	elems := make([]Value, length)
	for i := range elems {
		elems[i] = zero
	}
	return &Array{Kind: kind, ElemClass: elemClass, Elements: elems}
}

func zeroForArrayKind(k ArrayKind) Value {
	switch k {
	case ArrayLong:
		return LongValue(0)
	case ArrayFloat:
		return FloatValue(0)
	case ArrayDouble:
		return DoubleValue(0)
	case ArrayReference:
		return NullValue()
	case ArrayBoolean:
		return BooleanValue(false)
	default:
		return IntValue(0)
	}
}

// Length returns the array's element count (the arraylength opcode).
func (a *Array) Length() int32 { return int32(len(a.Elements)) }
