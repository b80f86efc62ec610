// Package runtime holds the interpreter's runtime value and object model:
// the operand-stack/local-variable Value representation, heap objects and
// arrays, and the Frame/Thread call-stack machinery built on top of them.
package runtime

// Kind is the runtime tag of a Value: every primitive JVM type plus
// reference and null.
type Kind uint8

const (
	KindByte Kind = iota
	KindShort
	KindInt
	KindLong
	KindChar
	KindFloat
	KindDouble
	KindBoolean
	KindReference
	KindNull
)

// Value is a single operand-stack slot or local-variable slot. Category-2
// types (Long, Double) logically occupy two slots; callers that model a
// raw slot array (as Frame does) must account for that themselves;
// IsCategory2 tells them when.
type Value struct {
	Kind Kind

	i32 int32
	i64 int64
	f32 float32
	f64 float64
	ref any
}

// IsCategory2 reports whether this value's type takes two operand-stack /
// local-variable slots (Long and Double only).
func (v Value) IsCategory2() bool { return v.Kind == KindLong || v.Kind == KindDouble }

func ByteValue(b int8) Value    { return Value{Kind: KindByte, i32: int32(b)} }
func ShortValue(s int16) Value  { return Value{Kind: KindShort, i32: int32(s)} }
func IntValue(i int32) Value    { return Value{Kind: KindInt, i32: i} }
func LongValue(l int64) Value   { return Value{Kind: KindLong, i64: l} }
func CharValue(c uint16) Value  { return Value{Kind: KindChar, i32: int32(c)} }
func FloatValue(f float32) Value { return Value{Kind: KindFloat, f32: f} }
func DoubleValue(d float64) Value { return Value{Kind: KindDouble, f64: d} }

func BooleanValue(b bool) Value {
	if b {
		return Value{Kind: KindBoolean, i32: 1}
	}
	return Value{Kind: KindBoolean, i32: 0}
}

func RefValue(ref any) Value { return Value{Kind: KindReference, ref: ref} }
func NullValue() Value       { return Value{Kind: KindNull} }

// Int returns the value's 32-bit integer view: valid for Byte/Short/Int/
// Char/Boolean, the JVM's category-1 integral family that the interpreter
// is free to promote to int32 on the stack.
func (v Value) Int() int32 { return v.i32 }

// Long returns the 64-bit integer payload; only meaningful when Kind == KindLong.
func (v Value) Long() int64 { return v.i64 }

// Float / Double return the IEEE-754 payloads.
func (v Value) Float() float32  { return v.f32 }
func (v Value) Double() float64 { return v.f64 }

// Ref returns the reference payload, or nil for KindNull.
func (v Value) Ref() any { return v.ref }

// IsNull reports whether this value is the null reference.
func (v Value) IsNull() bool { return v.Kind == KindNull || (v.Kind == KindReference && v.ref == nil) }

// ZeroFor returns the default (zero) Value for a field/array-element kind,
// the value getstatic/getfield use before anything is stored (newarray
// zero-fills through zeroForArrayKind instead).
func ZeroFor(k Kind) Value {
	switch k {
	case KindLong:
		return LongValue(0)
	case KindFloat:
		return FloatValue(0)
	case KindDouble:
		return DoubleValue(0)
	case KindReference:
		return NullValue()
	default:
		return IntValue(0)
	}
}
