package classfile

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// BootstrapMethods decodes the class's BootstrapMethods attribute, if any.
// Decoded eagerly so invokedynamic/ConstantDynamic linkage has somewhere to
// read from; actually executing a dynamic call site is out of scope.
func (cf *ClassFile) BootstrapMethods() ([]BootstrapMethod, error) {
	for _, a := range cf.Attributes {
		if a.Name != "BootstrapMethods" {
			continue
		}
		return parseBootstrapMethods(a.Data)
	}
	return nil, nil
}

func parseBootstrapMethods(data []byte) ([]BootstrapMethod, error) {
	if len(data) < 2 {
		return nil, errors.New("BootstrapMethods attribute too short")
	}
	n := binary.BigEndian.Uint16(data[0:2])
	off := 2
	methods := make([]BootstrapMethod, n)
	for i := range methods {
		if off+4 > len(data) {
			return nil, errors.Errorf("BootstrapMethods truncated at method %d", i)
		}
		ref := binary.BigEndian.Uint16(data[off : off+2])
		argc := binary.BigEndian.Uint16(data[off+2 : off+4])
		off += 4
		args := make([]uint16, argc)
		for j := range args {
			if off+2 > len(data) {
				return nil, errors.Errorf("BootstrapMethods truncated at method %d arg %d", i, j)
			}
			args[j] = binary.BigEndian.Uint16(data[off : off+2])
			off += 2
		}
		methods[i] = BootstrapMethod{MethodRefIndex: ref, BootstrapArguments: args}
	}
	return methods, nil
}

// SourceFile returns the class's SourceFile attribute text, if present.
func (cf *ClassFile) SourceFile() (string, bool) {
	for _, a := range cf.Attributes {
		if a.Name == "SourceFile" && len(a.Data) == 2 {
			idx := binary.BigEndian.Uint16(a.Data)
			if name, err := Utf8(cf.ConstantPool, idx); err == nil {
				return name, true
			}
		}
	}
	return "", false
}

// LineNumberTable decodes a Code attribute's LineNumberTable, if present.
func (code *CodeAttribute) LineNumberTable() []LineNumberEntry {
	for _, a := range code.Attributes {
		if a.Name != "LineNumberTable" {
			continue
		}
		if len(a.Data) < 2 {
			return nil
		}
		n := binary.BigEndian.Uint16(a.Data[0:2])
		entries := make([]LineNumberEntry, 0, n)
		off := 2
		for i := uint16(0); i < n && off+4 <= len(a.Data); i++ {
			entries = append(entries, LineNumberEntry{
				StartPC: binary.BigEndian.Uint16(a.Data[off : off+2]),
				Line:    binary.BigEndian.Uint16(a.Data[off+2 : off+4]),
			})
			off += 4
		}
		return entries
	}
	return nil
}

// StackMapFrame is one decoded entry of a StackMapTable attribute. Only the
// frame-type tag and its offset delta are retained: the format demands
// walking every frame's variable-width payload to account for the
// attribute's byte length, but nothing verifies against the table at
// runtime.
type StackMapFrame struct {
	FrameType   uint8
	OffsetDelta uint16
}

// StackMapTable decodes a Code attribute's StackMapTable, walking every
// frame-type's variable-length verification-type-info structures so the
// attribute's total byte length is correctly accounted for.
func (code *CodeAttribute) StackMapTable() ([]StackMapFrame, error) {
	for _, a := range code.Attributes {
		if a.Name != "StackMapTable" {
			continue
		}
		return parseStackMapTable(a.Data)
	}
	return nil, nil
}

func parseStackMapTable(data []byte) ([]StackMapFrame, error) {
	if len(data) < 2 {
		return nil, errors.New("StackMapTable attribute too short")
	}
	n := binary.BigEndian.Uint16(data[0:2])
	off := 2
	frames := make([]StackMapFrame, 0, n)
	readU16 := func() (uint16, error) {
		if off+2 > len(data) {
			return 0, errors.New("StackMapTable truncated")
		}
		v := binary.BigEndian.Uint16(data[off : off+2])
		off += 2
		return v, nil
	}
	// verification_type_info: 1 tag byte, plus a u2 cpool/offset for
	// Object_variable_info (7) and Uninitialized_variable_info (8).
	skipVerificationTypeInfo := func() error {
		if off >= len(data) {
			return errors.New("StackMapTable truncated in verification_type_info")
		}
		tag := data[off]
		off++
		if tag == 7 || tag == 8 {
			if _, err := readU16(); err != nil {
				return err
			}
		}
		return nil
	}

	for i := uint16(0); i < n; i++ {
		if off >= len(data) {
			return nil, errors.Errorf("StackMapTable truncated before frame %d", i)
		}
		frameType := data[off]
		off++
		var offsetDelta uint16
		switch {
		case frameType <= 63: // same_frame
			offsetDelta = uint16(frameType)
		case frameType <= 127: // same_locals_1_stack_item_frame
			offsetDelta = uint16(frameType - 64)
			if err := skipVerificationTypeInfo(); err != nil {
				return nil, err
			}
		case frameType == 247: // same_locals_1_stack_item_frame_extended
			v, err := readU16()
			if err != nil {
				return nil, err
			}
			offsetDelta = v
			if err := skipVerificationTypeInfo(); err != nil {
				return nil, err
			}
		case frameType >= 248 && frameType <= 250: // chop_frame
			v, err := readU16()
			if err != nil {
				return nil, err
			}
			offsetDelta = v
		case frameType == 251: // same_frame_extended
			v, err := readU16()
			if err != nil {
				return nil, err
			}
			offsetDelta = v
		case frameType >= 252 && frameType <= 254: // append_frame
			v, err := readU16()
			if err != nil {
				return nil, err
			}
			offsetDelta = v
			for k := 0; k < int(frameType-251); k++ {
				if err := skipVerificationTypeInfo(); err != nil {
					return nil, err
				}
			}
		case frameType == 255: // full_frame
			v, err := readU16()
			if err != nil {
				return nil, err
			}
			offsetDelta = v
			numLocals, err := readU16()
			if err != nil {
				return nil, err
			}
			for k := uint16(0); k < numLocals; k++ {
				if err := skipVerificationTypeInfo(); err != nil {
					return nil, err
				}
			}
			numStack, err := readU16()
			if err != nil {
				return nil, err
			}
			for k := uint16(0); k < numStack; k++ {
				if err := skipVerificationTypeInfo(); err != nil {
					return nil, err
				}
			}
		default:
			return nil, errors.Errorf("reserved StackMapTable frame_type %d at frame %d", frameType, i)
		}
		frames = append(frames, StackMapFrame{FrameType: frameType, OffsetDelta: offsetDelta})
	}
	return frames, nil
}

// NestHost returns the class's NestHost attribute's class name, if present.
func (cf *ClassFile) NestHost() (string, bool) {
	for _, a := range cf.Attributes {
		if a.Name == "NestHost" && len(a.Data) == 2 {
			idx := binary.BigEndian.Uint16(a.Data)
			if name, err := ClassNameAt(cf.ConstantPool, idx); err == nil {
				return name, true
			}
		}
	}
	return "", false
}

// NestMembers returns the class names listed in a NestMembers attribute.
func (cf *ClassFile) NestMembers() []string {
	for _, a := range cf.Attributes {
		if a.Name != "NestMembers" || len(a.Data) < 2 {
			continue
		}
		n := binary.BigEndian.Uint16(a.Data[0:2])
		names := make([]string, 0, n)
		off := 2
		for i := uint16(0); i < n && off+2 <= len(a.Data); i++ {
			idx := binary.BigEndian.Uint16(a.Data[off : off+2])
			off += 2
			if name, err := ClassNameAt(cf.ConstantPool, idx); err == nil {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

// PermittedSubclasses returns the class names listed in a
// PermittedSubclasses attribute (sealed classes).
func (cf *ClassFile) PermittedSubclasses() []string {
	for _, a := range cf.Attributes {
		if a.Name != "PermittedSubclasses" || len(a.Data) < 2 {
			continue
		}
		n := binary.BigEndian.Uint16(a.Data[0:2])
		names := make([]string, 0, n)
		off := 2
		for i := uint16(0); i < n && off+2 <= len(a.Data); i++ {
			idx := binary.BigEndian.Uint16(a.Data[off : off+2])
			off += 2
			if name, err := ClassNameAt(cf.ConstantPool, idx); err == nil {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}
