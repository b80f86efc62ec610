package classfile

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

const magic = 0xCAFEBABE

// ParseFile opens and parses a .class file from disk.
func ParseFile(path string) (*ClassFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening class file %s", path)
	}
	defer f.Close()
	cf, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return cf, nil
}

// Parse decodes a .class binary from r. Any short read, invalid tag or
// invalid UTF-8 aborts parsing with a wrapped error carrying the offending
// context, as does an out-of-range pool index among those Parse itself
// follows (interfaces, field/method/attribute names and descriptors).
// this_class, super_class and the indices stored inside pool entries are
// not checked here; they fail only when later resolved.
func Parse(r io.Reader) (*ClassFile, error) {
	cf := &ClassFile{}

	var m uint32
	if err := binary.Read(r, binary.BigEndian, &m); err != nil {
		return nil, errors.Wrap(err, "reading magic number")
	}
	if m != magic {
		return nil, errors.Errorf("invalid magic number 0x%08X, expected 0xCAFEBABE", m)
	}

	if err := binary.Read(r, binary.BigEndian, &cf.Minor); err != nil {
		return nil, errors.Wrap(err, "reading minor_version")
	}
	if err := binary.Read(r, binary.BigEndian, &cf.Major); err != nil {
		return nil, errors.Wrap(err, "reading major_version")
	}
	if cf.Major > 65 {
		return nil, errors.Errorf("unsupported class file major version %d (max 65)", cf.Major)
	}

	var cpCount uint16
	if err := binary.Read(r, binary.BigEndian, &cpCount); err != nil {
		return nil, errors.Wrap(err, "reading constant_pool_count")
	}
	pool, err := parseConstantPool(r, cpCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing constant pool")
	}
	cf.ConstantPool = pool

	if err := binary.Read(r, binary.BigEndian, &cf.AccessFlags); err != nil {
		return nil, errors.Wrap(err, "reading access_flags")
	}
	if err := binary.Read(r, binary.BigEndian, &cf.ThisClass); err != nil {
		return nil, errors.Wrap(err, "reading this_class")
	}
	if err := binary.Read(r, binary.BigEndian, &cf.SuperClass); err != nil {
		return nil, errors.Wrap(err, "reading super_class")
	}

	var ifaceCount uint16
	if err := binary.Read(r, binary.BigEndian, &ifaceCount); err != nil {
		return nil, errors.Wrap(err, "reading interfaces_count")
	}
	cf.Interfaces = make([]uint16, ifaceCount)
	for i := range cf.Interfaces {
		if err := binary.Read(r, binary.BigEndian, &cf.Interfaces[i]); err != nil {
			return nil, errors.Wrapf(err, "reading interface %d", i)
		}
		entry, err := entryAt(cf.ConstantPool, cf.Interfaces[i])
		if err != nil {
			return nil, errors.Wrapf(err, "resolving interface %d", i)
		}
		if entry.Tag() != TagClass {
			return nil, errors.Errorf("interface %d at pool index %d is not CONSTANT_Class", i, cf.Interfaces[i])
		}
	}

	var fieldsCount uint16
	if err := binary.Read(r, binary.BigEndian, &fieldsCount); err != nil {
		return nil, errors.Wrap(err, "reading fields_count")
	}
	cf.Fields, err = parseFields(r, cf.ConstantPool, fieldsCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing fields")
	}

	var methodsCount uint16
	if err := binary.Read(r, binary.BigEndian, &methodsCount); err != nil {
		return nil, errors.Wrap(err, "reading methods_count")
	}
	cf.Methods, err = parseMethods(r, cf.ConstantPool, methodsCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing methods")
	}

	attrCount, err := readU16(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading class attributes_count")
	}
	cf.Attributes, err = parseAttributeInfos(r, cf.ConstantPool, attrCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing class attributes")
	}

	return cf, nil
}

func readU16(r io.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func parseFields(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]FieldInfo, error) {
	fields := make([]FieldInfo, count)
	for i := range fields {
		accessFlags, err := readU16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading field %d access_flags", i)
		}
		nameIndex, err := readU16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading field %d name_index", i)
		}
		descIndex, err := readU16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading field %d descriptor_index", i)
		}
		attrCount, err := readU16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading field %d attributes_count", i)
		}

		name, err := Utf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving field %d name", i)
		}
		desc, err := Utf8(pool, descIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving field %d descriptor", i)
		}
		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing field %d attributes", i)
		}

		fi := FieldInfo{AccessFlags: accessFlags, Name: name, Descriptor: desc, Attributes: attrs}
		for _, a := range attrs {
			if a.Name == "ConstantValue" && len(a.Data) == 2 {
				idx := binary.BigEndian.Uint16(a.Data)
				fi.ConstantValue = &idx
			}
		}
		fields[i] = fi
	}
	return fields, nil
}

func parseMethods(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]MethodInfo, error) {
	methods := make([]MethodInfo, count)
	for i := range methods {
		accessFlags, err := readU16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading method %d access_flags", i)
		}
		nameIndex, err := readU16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading method %d name_index", i)
		}
		descIndex, err := readU16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading method %d descriptor_index", i)
		}
		attrCount, err := readU16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading method %d attributes_count", i)
		}

		name, err := Utf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving method %d name", i)
		}
		desc, err := Utf8(pool, descIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving method %d descriptor", i)
		}
		attrs, err := parseAttributeInfos(r, pool, attrCount)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing method %d attributes", i)
		}

		m := MethodInfo{AccessFlags: accessFlags, Name: name, Descriptor: desc, Attributes: attrs}
		for _, a := range attrs {
			if a.Name == "Code" {
				code, err := parseCodeAttribute(pool, a.Data)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing Code attribute of %s%s", name, desc)
				}
				m.Code = code
				break
			}
		}
		if m.Code == nil && !m.IsAbstract() && !m.IsNative() {
			return nil, errors.Errorf("method %s%s has no Code attribute and is not abstract/native", name, desc)
		}
		methods[i] = m
	}
	return methods, nil
}

// parseAttributeInfos reads count generic attribute_info records. Unknown
// attribute names are retained verbatim (skip exactly attribute_length
// bytes) rather than rejected, for forward compatibility.
func parseAttributeInfos(r io.Reader, pool []ConstantPoolEntry, count uint16) ([]AttributeInfo, error) {
	attrs := make([]AttributeInfo, count)
	for i := range attrs {
		nameIndex, err := readU16(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d name_index", i)
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d length", i)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrapf(err, "reading attribute %d data", i)
		}
		name, err := Utf8(pool, nameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving attribute %d name", i)
		}
		attrs[i] = AttributeInfo{Name: name, Data: data}
	}
	return attrs, nil
}

func parseCodeAttribute(pool []ConstantPoolEntry, data []byte) (*CodeAttribute, error) {
	if len(data) < 8 {
		return nil, errors.Errorf("Code attribute too short: %d bytes", len(data))
	}
	maxStack := binary.BigEndian.Uint16(data[0:2])
	maxLocals := binary.BigEndian.Uint16(data[2:4])
	codeLen := binary.BigEndian.Uint32(data[4:8])
	if uint64(8+codeLen) > uint64(len(data)) {
		return nil, errors.Errorf("Code attribute truncated: code_length=%d", codeLen)
	}
	code := make([]byte, codeLen)
	copy(code, data[8:8+codeLen])

	offset := 8 + int(codeLen)
	if offset+2 > len(data) {
		return nil, errors.Errorf("Code attribute truncated before exception_table_length")
	}
	exCount := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	handlers := make([]ExceptionHandler, exCount)
	for i := range handlers {
		if offset+8 > len(data) {
			return nil, errors.Errorf("Code attribute truncated in exception table at entry %d", i)
		}
		handlers[i] = ExceptionHandler{
			StartPC:   binary.BigEndian.Uint16(data[offset : offset+2]),
			EndPC:     binary.BigEndian.Uint16(data[offset+2 : offset+4]),
			HandlerPC: binary.BigEndian.Uint16(data[offset+4 : offset+6]),
			CatchType: binary.BigEndian.Uint16(data[offset+6 : offset+8]),
		}
		offset += 8
	}

	if offset+2 > len(data) {
		return nil, errors.Errorf("Code attribute truncated before nested attributes_count")
	}
	nestedCount := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	nested, _, err := parseAttributeInfosFromBytes(pool, data[offset:], nestedCount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing Code's nested attributes")
	}

	return &CodeAttribute{
		MaxStack:          maxStack,
		MaxLocals:         maxLocals,
		Code:              code,
		ExceptionHandlers: handlers,
		Attributes:        nested,
	}, nil
}

// parseAttributeInfosFromBytes is parseAttributeInfos specialised to an
// in-memory buffer (nested attributes arrive pre-sliced from parent attribute
// data rather than from the original stream).
func parseAttributeInfosFromBytes(pool []ConstantPoolEntry, data []byte, count uint16) ([]AttributeInfo, []byte, error) {
	attrs := make([]AttributeInfo, count)
	off := 0
	for i := range attrs {
		if off+6 > len(data) {
			return nil, nil, errors.Errorf("truncated nested attribute %d", i)
		}
		nameIndex := binary.BigEndian.Uint16(data[off : off+2])
		length := binary.BigEndian.Uint32(data[off+2 : off+6])
		off += 6
		if uint64(off)+uint64(length) > uint64(len(data)) {
			return nil, nil, errors.Errorf("truncated nested attribute %d data", i)
		}
		body := data[off : off+int(length)]
		off += int(length)
		name, err := Utf8(pool, nameIndex)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "resolving nested attribute %d name", i)
		}
		attrs[i] = AttributeInfo{Name: name, Data: append([]byte(nil), body...)}
	}
	return attrs, data[off:], nil
}

// ClassName returns this class's fully-qualified (slash-separated) name.
func (cf *ClassFile) ClassName() (string, error) {
	return ClassNameAt(cf.ConstantPool, cf.ThisClass)
}

// SuperClassName returns the super class's name, or "" if ThisClass is
// java/lang/Object (SuperClass == 0).
func (cf *ClassFile) SuperClassName() (string, error) {
	if cf.SuperClass == 0 {
		return "", nil
	}
	return ClassNameAt(cf.ConstantPool, cf.SuperClass)
}

// FindMethod finds a method by exact "name" + "descriptor" match.
func (cf *ClassFile) FindMethod(name, descriptor string) *MethodInfo {
	for i := range cf.Methods {
		if cf.Methods[i].Name == name && cf.Methods[i].Descriptor == descriptor {
			return &cf.Methods[i]
		}
	}
	return nil
}
