package interp

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvmgo/gojvm-core/pkg/classfile"
	"github.com/jvmgo/gojvm-core/pkg/classload"
	"github.com/jvmgo/gojvm-core/pkg/runtime"
)

// fakeFinder serves fixed class bytes by name, standing in for the CLI's
// jmod/directory finder at the interpreter level.
type fakeFinder struct {
	files map[string][]byte
}

func (f *fakeFinder) FindClass(name string) ([]byte, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, assert.AnError
	}
	return data, nil
}

// poolBuilder accumulates constant-pool entries for a hand-assembled class
// file (same technique as pkg/classload/registry_test.go's buildSimpleClass,
// generalized to the richer pools these scenarios need).
type poolBuilder struct {
	entries [][]byte
}

func (b *poolBuilder) add(e []byte) uint16 {
	b.entries = append(b.entries, e)
	return uint16(len(b.entries))
}

func (b *poolBuilder) utf8(s string) uint16 {
	var e bytes.Buffer
	e.WriteByte(classfile.TagUtf8)
	binary.Write(&e, binary.BigEndian, uint16(len(s)))
	e.WriteString(s)
	return b.add(e.Bytes())
}

func (b *poolBuilder) class(nameIdx uint16) uint16 {
	var e bytes.Buffer
	e.WriteByte(classfile.TagClass)
	binary.Write(&e, binary.BigEndian, nameIdx)
	return b.add(e.Bytes())
}

func (b *poolBuilder) nameAndType(nameIdx, descIdx uint16) uint16 {
	var e bytes.Buffer
	e.WriteByte(classfile.TagNameAndType)
	binary.Write(&e, binary.BigEndian, nameIdx)
	binary.Write(&e, binary.BigEndian, descIdx)
	return b.add(e.Bytes())
}

func (b *poolBuilder) fieldref(classIdx, natIdx uint16) uint16 {
	var e bytes.Buffer
	e.WriteByte(classfile.TagFieldref)
	binary.Write(&e, binary.BigEndian, classIdx)
	binary.Write(&e, binary.BigEndian, natIdx)
	return b.add(e.Bytes())
}

func (b *poolBuilder) methodref(classIdx, natIdx uint16) uint16 {
	var e bytes.Buffer
	e.WriteByte(classfile.TagMethodref)
	binary.Write(&e, binary.BigEndian, classIdx)
	binary.Write(&e, binary.BigEndian, natIdx)
	return b.add(e.Bytes())
}

func (b *poolBuilder) stringConst(utf8Idx uint16) uint16 {
	var e bytes.Buffer
	e.WriteByte(classfile.TagString)
	binary.Write(&e, binary.BigEndian, utf8Idx)
	return b.add(e.Bytes())
}

// fieldSpec/methodSpec describe one field_info/method_info record; names
// and descriptors are rendered into the pool by buildClassFile itself so
// callers don't have to sequence utf8() calls against entries they already
// added for constant-pool references.
type fieldSpec struct {
	name, descriptor string
	accessFlags      uint16
}

type methodSpec struct {
	name, descriptor    string
	accessFlags         uint16
	maxStack, maxLocals uint16
	code                []byte
}

// buildClassFile renders a complete .class binary around a
// caller-populated constant pool plus field/method lists.
func buildClassFile(pool *poolBuilder, thisClass, superClass uint16, fields []fieldSpec, methods []methodSpec) []byte {
	codeName := pool.utf8("Code")

	type renderedField struct {
		accessFlags      uint16
		nameIdx, descIdx uint16
	}
	rf := make([]renderedField, len(fields))
	for i, f := range fields {
		rf[i] = renderedField{f.accessFlags, pool.utf8(f.name), pool.utf8(f.descriptor)}
	}

	type renderedMethod struct {
		accessFlags         uint16
		nameIdx, descIdx    uint16
		code                []byte
		maxStack, maxLocals uint16
	}
	rm := make([]renderedMethod, len(methods))
	for i, m := range methods {
		rm[i] = renderedMethod{m.accessFlags, pool.utf8(m.name), pool.utf8(m.descriptor), m.code, m.maxStack, m.maxLocals}
	}

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, uint32(0xCAFEBABE))
	binary.Write(&out, binary.BigEndian, uint16(0))
	binary.Write(&out, binary.BigEndian, uint16(61))
	binary.Write(&out, binary.BigEndian, uint16(len(pool.entries)+1))
	for _, e := range pool.entries {
		out.Write(e)
	}
	binary.Write(&out, binary.BigEndian, uint16(classfile.AccPublic|classfile.AccSuper))
	binary.Write(&out, binary.BigEndian, thisClass)
	binary.Write(&out, binary.BigEndian, superClass)
	binary.Write(&out, binary.BigEndian, uint16(0)) // interfaces count

	binary.Write(&out, binary.BigEndian, uint16(len(rf)))
	for _, f := range rf {
		binary.Write(&out, binary.BigEndian, f.accessFlags)
		binary.Write(&out, binary.BigEndian, f.nameIdx)
		binary.Write(&out, binary.BigEndian, f.descIdx)
		binary.Write(&out, binary.BigEndian, uint16(0)) // attributes count
	}

	binary.Write(&out, binary.BigEndian, uint16(len(rm)))
	for _, m := range rm {
		binary.Write(&out, binary.BigEndian, m.accessFlags)
		binary.Write(&out, binary.BigEndian, m.nameIdx)
		binary.Write(&out, binary.BigEndian, m.descIdx)
		binary.Write(&out, binary.BigEndian, uint16(1)) // attributes count: Code only

		var codeAttr bytes.Buffer
		binary.Write(&codeAttr, binary.BigEndian, m.maxStack)
		binary.Write(&codeAttr, binary.BigEndian, m.maxLocals)
		binary.Write(&codeAttr, binary.BigEndian, uint32(len(m.code)))
		codeAttr.Write(m.code)
		binary.Write(&codeAttr, binary.BigEndian, uint16(0)) // exception table count
		binary.Write(&codeAttr, binary.BigEndian, uint16(0)) // nested attributes count

		binary.Write(&out, binary.BigEndian, codeName)
		binary.Write(&out, binary.BigEndian, uint32(codeAttr.Len()))
		out.Write(codeAttr.Bytes())
	}

	binary.Write(&out, binary.BigEndian, uint16(0)) // class attributes count
	return out.Bytes()
}

// newTestInterp builds a Registry seeded with one named class's bytes and
// an Interp driving it, for scenarios that need real constant-pool
// resolution (object construction, string interning).
func newTestInterp(name string, data []byte) (*Interp, *classload.Registry) {
	reg := classload.NewRegistry(&fakeFinder{files: map[string][]byte{name: data}}, nil)
	return New(reg, nil), reg
}

// --- end-to-end: integer math ---

func TestScenarioIntegerMath(t *testing.T) {
	// iconst_2, iconst_3, iadd, istore_1, iconst_5, iload_1, imul, ireturn
	code := []byte{
		opIconst2, opIconst3, opIadd, opIstore1,
		opIconst5, opIload1, opImul, opIreturn,
	}
	pool := &poolBuilder{}
	thisUtf8 := pool.utf8("Scenario1")
	thisClass := pool.class(thisUtf8)
	superUtf8 := pool.utf8("java/lang/Object")
	superClass := pool.class(superUtf8)
	data := buildClassFile(pool, thisClass, superClass, nil, []methodSpec{
		{name: "run", descriptor: "()I", maxStack: 2, maxLocals: 2, code: code},
	})

	in, reg := newTestInterp("Scenario1", data)
	class, err := reg.Load("Scenario1")
	require.NoError(t, err)
	method, ok := class.Method("run", "()I")
	require.True(t, ok)

	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(25), result.Int())
}

// --- end-to-end: branch not taken ---

func TestScenarioBranchNotTaken(t *testing.T) {
	// iconst_1, ifeq -> (not taken), bipush 7, ireturn, bipush 9, ireturn.
	// bipush is the opcode for pushing a byte-range constant not covered
	// by an iconst_* shortcut.
	code := []byte{
		opIconst1, // pc0: 1 byte
		opIfeq, 0x00, 0x06, // pc1: opcode + 2-byte offset, relative to pc1; target pc7
		opBipush, 7, // pc4
		opIreturn, // pc6
		opBipush, 9, // pc7
		opIreturn, // pc9
	}
	class := &classload.Class{Name: "Scenario2", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 0, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(7), result.Int())
}

// --- end-to-end: tableswitch ---

func TestScenarioTableswitch(t *testing.T) {
	// key=1 with low=0, high=2 selects jump-table offset #1; verify PC
	// lands exactly at the tableswitch opcode's own address plus that
	// offset (jump offsets are relative to the opcode's PC).
	// Layout: bipush 1 (pc0-1), tableswitch at pc2, then padding from pc3
	// (the byte after the opcode) up to the next multiple of 4 counted
	// from the method start, so one pad byte brings the operands to pc4.
	code := []byte{opBipush, 1, opTableswitch}
	// opcode is at index 2; operands begin at index 3, padded to align to
	// the next multiple of 4 from the start of the code array (index 4).
	pad := 0
	for (3+pad)%4 != 0 {
		pad++
	}
	for i := 0; i < pad; i++ {
		code = append(code, 0)
	}
	opcodePC := 2
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int32(100)) // default offset
	binary.Write(&buf, binary.BigEndian, int32(0))   // low
	binary.Write(&buf, binary.BigEndian, int32(2))   // high
	binary.Write(&buf, binary.BigEndian, int32(10))  // offset for key 0
	binary.Write(&buf, binary.BigEndian, int32(20))  // offset for key 1
	binary.Write(&buf, binary.BigEndian, int32(30))  // offset for key 2
	code = append(code, buf.Bytes()...)
	// pad the tail so PC=opcodePC+20 stays within the code buffer.
	for len(code) < opcodePC+25 {
		code = append(code, opNop)
	}

	class := &classload.Class{Name: "Scenario3", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()V", Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 0, Code: code}}
	frame := runtime.NewFrame(class, method)
	frame.Push(runtime.IntValue(1)) // the already-pushed switch key

	in := New(classload.NewRegistry(nil, nil), nil)
	frame.PC = opcodePC + 1 // step() expects PC already past the opcode byte
	_, _, err := in.step(frame, opTableswitch)
	require.NoError(t, err)
	assert.Equal(t, opcodePC+20, frame.PC)
}

// --- end-to-end: object construction and field read ---

func TestScenarioObjectConstructionAndFieldRead(t *testing.T) {
	pool := &poolBuilder{}
	thisUtf8 := pool.utf8("Scenario4")
	thisClass := pool.class(thisUtf8)
	superUtf8 := pool.utf8("java/lang/Object")
	superClass := pool.class(superUtf8)
	initNameUtf8 := pool.utf8("<init>")
	initDescUtf8 := pool.utf8("()V")
	initNAT := pool.nameAndType(initNameUtf8, initDescUtf8)
	initMethodref := pool.methodref(thisClass, initNAT)
	xNameUtf8 := pool.utf8("x")
	xDescUtf8 := pool.utf8("I")
	xNAT := pool.nameAndType(xNameUtf8, xDescUtf8)
	xFieldref := pool.fieldref(thisClass, xNAT)

	// new, dup, invokespecial <init>, astore_1, aload_1, bipush 42,
	// putfield x, aload_1, getfield x, ireturn. The extra aload_1 before
	// getfield matters: putfield consumed the receiver copy invokespecial
	// left behind, the way real javac output reloads it.
	var code bytes.Buffer
	code.WriteByte(opNew)
	binary.Write(&code, binary.BigEndian, thisClass)
	code.WriteByte(opDup)
	code.WriteByte(opInvokespecial)
	binary.Write(&code, binary.BigEndian, initMethodref)
	code.WriteByte(opAstore1)
	code.WriteByte(opAload1)
	code.WriteByte(opBipush)
	code.WriteByte(42)
	code.WriteByte(opPutfield)
	binary.Write(&code, binary.BigEndian, xFieldref)
	code.WriteByte(opAload1)
	code.WriteByte(opGetfield)
	binary.Write(&code, binary.BigEndian, xFieldref)
	code.WriteByte(opIreturn)

	data := buildClassFile(pool, thisClass, superClass,
		[]fieldSpec{{name: "x", descriptor: "I"}},
		[]methodSpec{
			{name: "<init>", descriptor: "()V", maxStack: 0, maxLocals: 1, code: []byte{opReturn}},
			{name: "run", descriptor: "()I", maxStack: 2, maxLocals: 2, code: code.Bytes()},
		})

	in, reg := newTestInterp("Scenario4", data)
	class, err := reg.Load("Scenario4")
	require.NoError(t, err)
	method, ok := class.Method("run", "()I")
	require.True(t, ok)

	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(42), result.Int())
}

// --- end-to-end: array round-trip ---

func TestScenarioArrayRoundTrip(t *testing.T) {
	// bipush 4, newarray int, dup, iconst_0, bipush 99, iastore, iconst_0,
	// iaload, ireturn
	code := []byte{
		opBipush, 4,
		opNewarray, 10, // atype 10 = int
		opDup,
		opIconst0,
		opBipush, 99,
		opIastore,
		opIconst0,
		opIaload,
		opIreturn,
	}
	class := &classload.Class{Name: "Scenario5", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 4, MaxLocals: 0, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(99), result.Int())
}

// --- end-to-end: string interning ---

func TestScenarioStringInterning(t *testing.T) {
	pool := &poolBuilder{}
	thisUtf8 := pool.utf8("Scenario6")
	thisClass := pool.class(thisUtf8)
	superUtf8 := pool.utf8("java/lang/Object")
	superClass := pool.class(superUtf8)
	// Two distinct Utf8 entries with equal text, each wrapped in its own
	// CONSTANT_String: this exercises interning across pool indices, not
	// merely the per-index resolution cache.
	textA := pool.utf8("hello")
	textB := pool.utf8("hello")
	strA := pool.stringConst(textA)
	strB := pool.stringConst(textB)

	// ldc strA, ldc strB, if_acmpeq -> taken, bipush 0, ireturn, bipush 1, ireturn
	code := []byte{
		opLdc, byte(strA),
		opLdc, byte(strB),
		opIfAcmpeq, 0x00, 0x06, // offset relative to this opcode's own PC (index 4); target index 10
		opBipush, 0,
		opIreturn,
		opBipush, 1,
		opIreturn,
	}
	data := buildClassFile(pool, thisClass, superClass, nil, []methodSpec{
		{name: "run", descriptor: "()I", maxStack: 2, maxLocals: 0, code: code},
	})

	in, reg := newTestInterp("Scenario6", data)
	class, err := reg.Load("Scenario6")
	require.NoError(t, err)
	method, ok := class.Method("run", "()I")
	require.True(t, ok)

	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), result.Int(), "two ldc's of equal-text String constants must be reference-identical")
}

func TestInternedStringDiffersByText(t *testing.T) {
	pool := &poolBuilder{}
	thisUtf8 := pool.utf8("Scenario6b")
	thisClass := pool.class(thisUtf8)
	superUtf8 := pool.utf8("java/lang/Object")
	superClass := pool.class(superUtf8)
	textA := pool.utf8("hello")
	textB := pool.utf8("world")
	strA := pool.stringConst(textA)
	strB := pool.stringConst(textB)

	code := []byte{
		opLdc, byte(strA),
		opLdc, byte(strB),
		opIfAcmpeq, 0x00, 0x06,
		opBipush, 0,
		opIreturn,
		opBipush, 1,
		opIreturn,
	}
	data := buildClassFile(pool, thisClass, superClass, nil, []methodSpec{
		{name: "run", descriptor: "()I", maxStack: 2, maxLocals: 0, code: code},
	})

	in, reg := newTestInterp("Scenario6b", data)
	class, err := reg.Load("Scenario6b")
	require.NoError(t, err)
	method, ok := class.Method("run", "()I")
	require.True(t, ok)

	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), result.Int(), "distinct text must not intern to the same handle")
}

// --- category-2 stack contract ---

func TestDup2OnLoneLongDuplicatesSingleSlot(t *testing.T) {
	class := &classload.Class{Name: "Cat2", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()V", Code: &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 0, Code: []byte{}}}
	frame := runtime.NewFrame(class, method)
	frame.Push(runtime.LongValue(42))

	in := New(classload.NewRegistry(nil, nil), nil)
	_, _, err := in.step(frame, opDup2)
	require.NoError(t, err)

	require.Equal(t, 2, frame.SP)
	assert.Equal(t, int64(42), frame.Peek(0).Long())
	assert.Equal(t, int64(42), frame.Peek(1).Long())
}

func TestPop2OnTwoIntsPopsBoth(t *testing.T) {
	class := &classload.Class{Name: "Cat2", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()V", Code: &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 0, Code: []byte{}}}
	frame := runtime.NewFrame(class, method)
	frame.Push(runtime.IntValue(1))
	frame.Push(runtime.IntValue(2))

	in := New(classload.NewRegistry(nil, nil), nil)
	_, _, err := in.step(frame, opPop2)
	require.NoError(t, err)
	assert.Equal(t, 0, frame.SP)
}

func TestPop2OnLoneDoublePopsOnlyOneSlot(t *testing.T) {
	class := &classload.Class{Name: "Cat2", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()V", Code: &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 0, Code: []byte{}}}
	frame := runtime.NewFrame(class, method)
	frame.Push(runtime.IntValue(7)) // a value beneath the double that pop2 must not disturb
	frame.Push(runtime.DoubleValue(3.5))

	in := New(classload.NewRegistry(nil, nil), nil)
	_, _, err := in.step(frame, opPop2)
	require.NoError(t, err)
	require.Equal(t, 1, frame.SP)
	assert.Equal(t, int32(7), frame.Peek(0).Int())
}

// --- iushr is a logical (unsigned) shift ---

func TestIushrIsLogicalShift(t *testing.T) {
	class := &classload.Class{Name: "Shift", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()V", Code: &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 0, Code: []byte{}}}
	frame := runtime.NewFrame(class, method)
	frame.Push(runtime.IntValue(-8)) // 0xFFFFFFF8
	frame.Push(runtime.IntValue(1))

	in := New(classload.NewRegistry(nil, nil), nil)
	_, _, err := in.step(frame, opIushr)
	require.NoError(t, err)
	neg8 := int32(-8)
	want := int32(uint32(neg8) >> 1)
	assert.Equal(t, want, frame.Peek(0).Int())
	assert.True(t, frame.Peek(0).Int() > 0, "logical shift of a negative int must not sign-extend")
}

// --- fault taxonomy ---

func TestIntegerDivisionByZeroFaultsArithmetic(t *testing.T) {
	class := &classload.Class{Name: "Div", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 0, Code: []byte{
		opIconst1, opIconst0, opIdiv, opIreturn,
	}}}

	in := New(classload.NewRegistry(nil, nil), nil)
	_, err := in.ExecuteMethod(class, method, nil)
	require.Error(t, err)
	fault, ok := err.(*Fault)
	require.True(t, ok)
	assert.Equal(t, FaultArithmetic, fault.Kind)
}

func TestArrayLoadOutOfBoundsFaults(t *testing.T) {
	code := []byte{
		opBipush, 1,
		opNewarray, 10, // length-1 int array
		opBipush, 5,
		opIaload,
		opIreturn,
	}
	class := &classload.Class{Name: "Bounds", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 0, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	_, err := in.ExecuteMethod(class, method, nil)
	require.Error(t, err)
	fault, ok := err.(*Fault)
	require.True(t, ok)
	assert.Equal(t, FaultArrayIndex, fault.Kind)
}

func TestGetfieldOnNullFaultsNullPointer(t *testing.T) {
	pool := &poolBuilder{}
	thisUtf8 := pool.utf8("NullDeref")
	thisClass := pool.class(thisUtf8)
	superUtf8 := pool.utf8("java/lang/Object")
	superClass := pool.class(superUtf8)
	xNameUtf8 := pool.utf8("x")
	xDescUtf8 := pool.utf8("I")
	xNAT := pool.nameAndType(xNameUtf8, xDescUtf8)
	xFieldref := pool.fieldref(thisClass, xNAT)

	var code bytes.Buffer
	code.WriteByte(opAconstNull)
	code.WriteByte(opGetfield)
	binary.Write(&code, binary.BigEndian, xFieldref)
	code.WriteByte(opIreturn)

	data := buildClassFile(pool, thisClass, superClass,
		[]fieldSpec{{name: "x", descriptor: "I"}},
		[]methodSpec{{name: "run", descriptor: "()I", maxStack: 1, maxLocals: 0, code: code.Bytes()}})

	in, reg := newTestInterp("NullDeref", data)
	class, err := reg.Load("NullDeref")
	require.NoError(t, err)
	method, ok := class.Method("run", "()I")
	require.True(t, ok)

	_, err = in.ExecuteMethod(class, method, nil)
	require.Error(t, err)
	fault, ok := err.(*Fault)
	require.True(t, ok)
	assert.Equal(t, FaultNullPointer, fault.Kind)
}

func TestAastoreWrongElementTypeFaultsArrayStore(t *testing.T) {
	otherPool := &poolBuilder{}
	otherThisUtf8 := otherPool.utf8("Other")
	otherThisClass := otherPool.class(otherThisUtf8)
	otherSuperUtf8 := otherPool.utf8("java/lang/Object")
	otherSuperClass := otherPool.class(otherSuperUtf8)
	otherData := buildClassFile(otherPool, otherThisClass, otherSuperClass, nil,
		[]methodSpec{{name: "<init>", descriptor: "()V", maxStack: 0, maxLocals: 1, code: []byte{opReturn}}})

	pool := &poolBuilder{}
	thisUtf8 := pool.utf8("ArrStore")
	thisClass := pool.class(thisUtf8)
	superUtf8 := pool.utf8("java/lang/Object")
	superClass := pool.class(superUtf8)
	otherClassRef := pool.class(pool.utf8("Other"))
	otherInitNAT := pool.nameAndType(pool.utf8("<init>"), pool.utf8("()V"))
	otherInitMethodref := pool.methodref(otherClassRef, otherInitNAT)

	// bipush 1, anewarray ArrStore, astore_1 (array of ArrStore),
	// new Other, dup, invokespecial Other.<init>, astore_2,
	// aload_1, iconst_0, aload_2, aastore, iconst_0, ireturn.
	var code bytes.Buffer
	code.WriteByte(opBipush)
	code.WriteByte(1)
	code.WriteByte(opAnewarray)
	binary.Write(&code, binary.BigEndian, thisClass)
	code.WriteByte(opAstore1)
	code.WriteByte(opNew)
	binary.Write(&code, binary.BigEndian, otherClassRef)
	code.WriteByte(opDup)
	code.WriteByte(opInvokespecial)
	binary.Write(&code, binary.BigEndian, otherInitMethodref)
	code.WriteByte(opAstore2)
	code.WriteByte(opAload1)
	code.WriteByte(opIconst0)
	code.WriteByte(opAload2)
	code.WriteByte(opAastore)
	code.WriteByte(opIconst0)
	code.WriteByte(opIreturn)

	data := buildClassFile(pool, thisClass, superClass, nil,
		[]methodSpec{{name: "run", descriptor: "()I", maxStack: 3, maxLocals: 3, code: code.Bytes()}})

	reg := classload.NewRegistry(&fakeFinder{files: map[string][]byte{"ArrStore": data, "Other": otherData}}, nil)
	in := New(reg, nil)
	class, err := reg.Load("ArrStore")
	require.NoError(t, err)
	method, ok := class.Method("run", "()I")
	require.True(t, ok)

	_, err = in.ExecuteMethod(class, method, nil)
	require.Error(t, err)
	fault, ok := err.(*Fault)
	require.True(t, ok)
	assert.Equal(t, FaultArrayStore, fault.Kind)
}

func TestBastoreNarrowsToByte(t *testing.T) {
	// bipush 4, newarray byte (atype 8), dup, iconst_0, sipush 300,
	// bastore, iconst_0, baload, ireturn. 300 truncates to the byte 44.
	code := []byte{
		opBipush, 4,
		opNewarray, 8,
		opDup,
		opIconst0,
		opSipush, 0x01, 0x2C,
		opBastore,
		opIconst0,
		opBaload,
		opIreturn,
	}
	class := &classload.Class{Name: "Narrow", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 4, MaxLocals: 0, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(44), result.Int())
}

func TestCastoreKeepsBottom16BitsUnsigned(t *testing.T) {
	// bipush 2, newarray char (atype 5), dup, iconst_0, sipush -1,
	// castore, iconst_0, caload, ireturn. Storing -1 (0xFFFF) must read
	// back as 65535: char elements are unsigned 16-bit.
	code := []byte{
		opBipush, 2,
		opNewarray, 5,
		opDup,
		opIconst0,
		opSipush, 0xFF, 0xFF,
		opCastore,
		opIconst0,
		opCaload,
		opIreturn,
	}
	class := &classload.Class{Name: "NarrowChar", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 4, MaxLocals: 0, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(65535), result.Int())
}

func TestSastoreSignExtends16Bits(t *testing.T) {
	// bipush 1, newarray short (atype 9), dup, iconst_0, sipush -1,
	// sastore, iconst_0, saload, ireturn. Storing -1 (0xFFFF) must read
	// back as -1, not 65535.
	code := []byte{
		opBipush, 1,
		opNewarray, 9,
		opDup,
		opIconst0,
		opSipush, 0xFF, 0xFF,
		opSastore,
		opIconst0,
		opSaload,
		opIreturn,
	}
	class := &classload.Class{Name: "NarrowShort", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 4, MaxLocals: 0, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), result.Int())
}

func TestIfnullBranchesOnNullOnly(t *testing.T) {
	// aconst_null, ifnull -> taken, bipush 0, ireturn, bipush 1, ireturn
	code := []byte{
		opAconstNull,
		opIfnull, 0x00, 0x06, // relative to the opcode at pc1; target pc7
		opBipush, 0,
		opIreturn,
		opBipush, 1,
		opIreturn,
	}
	class := &classload.Class{Name: "NullBranch", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 0, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), result.Int())
}

func TestIfnonnullFallsThroughOnNull(t *testing.T) {
	code := []byte{
		opAconstNull,
		opIfnonnull, 0x00, 0x06,
		opBipush, 0,
		opIreturn,
		opBipush, 1,
		opIreturn,
	}
	class := &classload.Class{Name: "NullBranch2", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 0, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(0), result.Int())
}

func TestWideIincUsesTwoByteOperands(t *testing.T) {
	// wide iinc local#1 by 300, iload_1, ireturn
	code := []byte{
		opWide, opIinc, 0x00, 0x01, 0x01, 0x2C,
		opIload1,
		opIreturn,
	}
	class := &classload.Class{Name: "Wide", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()I", Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 2, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	result, err := in.ExecuteMethod(class, method, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(300), result.Int())
}

func TestWideRejectsMalformedFollower(t *testing.T) {
	code := []byte{opWide, opIadd}
	class := &classload.Class{Name: "WideBad", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()V", Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 0, Code: code}}

	in := New(classload.NewRegistry(nil, nil), nil)
	_, err := in.ExecuteMethod(class, method, nil)
	require.Error(t, err)
	fault, ok := err.(*Fault)
	require.True(t, ok)
	assert.Equal(t, FaultDecode, fault.Kind)
}

// buildLookupswitch renders "bipush key, lookupswitch" with the given pairs,
// padding the operands to 4-byte alignment and the tail with nops so every
// reachable target stays inside the code buffer.
func buildLookupswitch(key int8, def int32, pairs [][2]int32) ([]byte, int) {
	code := []byte{opBipush, byte(key), opLookupswitch}
	opcodePC := 2
	for (len(code))%4 != 0 {
		code = append(code, 0)
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, def)
	binary.Write(&buf, binary.BigEndian, int32(len(pairs)))
	for _, p := range pairs {
		binary.Write(&buf, binary.BigEndian, p[0])
		binary.Write(&buf, binary.BigEndian, p[1])
	}
	code = append(code, buf.Bytes()...)
	for len(code) < opcodePC+64 {
		code = append(code, opNop)
	}
	return code, opcodePC
}

func TestLookupswitchSelectsMatchingPair(t *testing.T) {
	code, opcodePC := buildLookupswitch(5, 40, [][2]int32{{1, 10}, {5, 20}, {9, 30}})
	class := &classload.Class{Name: "Lookup", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()V", Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 0, Code: code}}
	frame := runtime.NewFrame(class, method)
	frame.Push(runtime.IntValue(5))

	in := New(classload.NewRegistry(nil, nil), nil)
	frame.PC = opcodePC + 1
	_, _, err := in.step(frame, opLookupswitch)
	require.NoError(t, err)
	assert.Equal(t, opcodePC+20, frame.PC)
}

func TestLookupswitchDefaultsOnNoMatch(t *testing.T) {
	code, opcodePC := buildLookupswitch(7, 40, [][2]int32{{1, 10}, {5, 20}, {9, 30}})
	class := &classload.Class{Name: "Lookup2", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()V", Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 0, Code: code}}
	frame := runtime.NewFrame(class, method)
	frame.Push(runtime.IntValue(7))

	in := New(classload.NewRegistry(nil, nil), nil)
	frame.PC = opcodePC + 1
	_, _, err := in.step(frame, opLookupswitch)
	require.NoError(t, err)
	assert.Equal(t, opcodePC+40, frame.PC)
}

func TestLookupswitchRejectsUnorderedPairs(t *testing.T) {
	code, opcodePC := buildLookupswitch(5, 40, [][2]int32{{9, 30}, {1, 10}})
	class := &classload.Class{Name: "Lookup3", SuperName: "java/lang/Object"}
	method := &classload.Method{Name: "run", Descriptor: "()V", Code: &classfile.CodeAttribute{MaxStack: 1, MaxLocals: 0, Code: code}}
	frame := runtime.NewFrame(class, method)
	frame.Push(runtime.IntValue(5))

	in := New(classload.NewRegistry(nil, nil), nil)
	frame.PC = opcodePC + 1
	_, _, err := in.step(frame, opLookupswitch)
	require.Error(t, err)
	fault, ok := err.(*Fault)
	require.True(t, ok)
	assert.Equal(t, FaultDecode, fault.Kind)
}

func TestF2iSaturatesNaNAndInfinity(t *testing.T) {
	assert.Equal(t, int32(0), f2i(float32(math.NaN())))
	assert.Equal(t, int32(math.MaxInt32), f2i(float32(math.Inf(1))))
	assert.Equal(t, int32(math.MinInt32), f2i(float32(math.Inf(-1))))
	assert.Equal(t, int32(42), f2i(42.9))
}

func TestD2lSaturatesNaNAndInfinity(t *testing.T) {
	assert.Equal(t, int64(0), d2l(math.NaN()))
	assert.Equal(t, int64(math.MaxInt64), d2l(math.Inf(1)))
	assert.Equal(t, int64(math.MinInt64), d2l(math.Inf(-1)))
	assert.Equal(t, int64(-7), d2l(-7.5))
}
