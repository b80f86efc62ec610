// Package classfile decodes the binary .class container into typed,
// immutable records. It performs no symbolic resolution: indices into the
// constant pool are left as raw numbers for pkg/classload to resolve.
package classfile

// Access flag bits shared by classes, fields and methods (only the subset
// this core inspects).
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccProtected = 0x0004
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccSuper     = 0x0020
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccNative    = 0x0100
)

// ClassFile is the decoded form of a .class binary. Produced once by Parse
// and immutable thereafter.
type ClassFile struct {
	Minor        uint16
	Major        uint16
	ConstantPool []ConstantPoolEntry // 1-indexed; ConstantPool[0] is the unused sentinel
	AccessFlags  uint16
	ThisClass    uint16
	SuperClass   uint16
	Interfaces   []uint16
	Fields       []FieldInfo
	Methods      []MethodInfo
	Attributes   []AttributeInfo
}

// ConstantPoolEntry is implemented by every constant pool tag's payload type.
type ConstantPoolEntry interface {
	Tag() uint8
}

const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

type ConstantUtf8 struct{ Value string }

func (c *ConstantUtf8) Tag() uint8 { return TagUtf8 }

type ConstantInteger struct{ Value int32 }

func (c *ConstantInteger) Tag() uint8 { return TagInteger }

type ConstantFloat struct{ Value float32 }

func (c *ConstantFloat) Tag() uint8 { return TagFloat }

// ConstantLong occupies two constant-pool index slots; the parser skips the
// following slot per the format.
type ConstantLong struct{ Value int64 }

func (c *ConstantLong) Tag() uint8 { return TagLong }

type ConstantDouble struct{ Value float64 }

func (c *ConstantDouble) Tag() uint8 { return TagDouble }

type ConstantClass struct{ NameIndex uint16 }

func (c *ConstantClass) Tag() uint8 { return TagClass }

type ConstantString struct{ Utf8Index uint16 }

func (c *ConstantString) Tag() uint8 { return TagString }

type ConstantFieldref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantFieldref) Tag() uint8 { return TagFieldref }

type ConstantMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantMethodref) Tag() uint8 { return TagMethodref }

type ConstantInterfaceMethodref struct {
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

func (c *ConstantInterfaceMethodref) Tag() uint8 { return TagInterfaceMethodref }

type ConstantNameAndType struct {
	NameIndex       uint16
	DescriptorIndex uint16
}

func (c *ConstantNameAndType) Tag() uint8 { return TagNameAndType }

type ConstantMethodHandle struct {
	Kind           uint8
	ReferenceIndex uint16
}

func (c *ConstantMethodHandle) Tag() uint8 { return TagMethodHandle }

type ConstantMethodType struct{ DescriptorIndex uint16 }

func (c *ConstantMethodType) Tag() uint8 { return TagMethodType }

// ConstantDynamic covers both CONSTANT_Dynamic and CONSTANT_InvokeDynamic;
// Invoke distinguishes which tag produced it.
type ConstantDynamic struct {
	BootstrapMethodIndex uint16
	NameAndTypeIndex     uint16
	Invoke               bool
}

func (c *ConstantDynamic) Tag() uint8 {
	if c.Invoke {
		return TagInvokeDynamic
	}
	return TagDynamic
}

type ConstantModule struct{ NameIndex uint16 }

func (c *ConstantModule) Tag() uint8 { return TagModule }

type ConstantPackage struct{ NameIndex uint16 }

func (c *ConstantPackage) Tag() uint8 { return TagPackage }

// FieldInfo is a decoded field_info record.
type FieldInfo struct {
	AccessFlags   uint16
	Name          string
	Descriptor    string
	Attributes    []AttributeInfo
	ConstantValue *uint16 // index into the constant pool, if a ConstantValue attribute was present
}

// MethodInfo is a decoded method_info record. Every non-abstract,
// non-native method carries a Code attribute.
type MethodInfo struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Attributes  []AttributeInfo
	Code        *CodeAttribute
}

func (m *MethodInfo) IsStatic() bool   { return m.AccessFlags&AccStatic != 0 }
func (m *MethodInfo) IsAbstract() bool { return m.AccessFlags&AccAbstract != 0 }
func (m *MethodInfo) IsNative() bool   { return m.AccessFlags&AccNative != 0 }

// AttributeInfo is a generic, as-yet-undispatched attribute: a name and its
// raw body. Code/LineNumberTable/etc. attributes are additionally decoded
// into the typed forms below when recognised by name.
type AttributeInfo struct {
	Name string
	Data []byte
}

// ExceptionHandler is one entry of a Code attribute's exception table.
// CatchType is a constant-pool index (0 means "matches any throwable",
// the encoding Java uses for finally blocks).
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

// CodeAttribute is the decoded form of a method's Code attribute.
// The instruction stream is kept raw; the interpreter decodes one
// instruction at a time at fetch time rather than ahead of execution.
type CodeAttribute struct {
	MaxStack          uint16
	MaxLocals         uint16
	Code              []byte
	ExceptionHandlers []ExceptionHandler
	Attributes        []AttributeInfo
}

// LineNumberEntry maps a bytecode offset to a source line.
type LineNumberEntry struct {
	StartPC uint16
	Line    uint16
}

// BootstrapMethod is one entry of the class's BootstrapMethods attribute,
// used by invokedynamic/ConstantDynamic linkage (decoded, never executed).
type BootstrapMethod struct {
	MethodRefIndex     uint16
	BootstrapArguments []uint16
}
