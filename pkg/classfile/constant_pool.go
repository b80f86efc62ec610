package classfile

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// parseConstantPool reads constant_pool_count-1 entries. The returned slice
// is 1-indexed: index 0 is the unused sentinel the format reserves. Long/Double
// entries occupy two index slots; the following slot is left nil and must
// be skipped by callers walking the pool sequentially.
func parseConstantPool(r io.Reader, count uint16) ([]ConstantPoolEntry, error) {
	pool := make([]ConstantPoolEntry, count)

	for i := uint16(1); i < count; i++ {
		var tag uint8
		if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
			return nil, errors.Wrapf(err, "reading constant pool tag at index %d", i)
		}

		switch tag {
		case TagUtf8:
			var length uint16
			if err := binary.Read(r, binary.BigEndian, &length); err != nil {
				return nil, errors.Wrapf(err, "reading Utf8 length at index %d", i)
			}
			raw := make([]byte, length)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, errors.Wrapf(err, "reading Utf8 bytes at index %d", i)
			}
			if !isValidModifiedUTF8(raw) {
				return nil, errors.Errorf("invalid modified UTF-8 in constant pool at index %d", i)
			}
			pool[i] = &ConstantUtf8{Value: decodeModifiedUTF8(raw)}

		case TagInteger:
			var v int32
			if err := binary.Read(r, binary.BigEndian, &v); err != nil {
				return nil, errors.Wrapf(err, "reading Integer at index %d", i)
			}
			pool[i] = &ConstantInteger{Value: v}

		case TagFloat:
			var bits uint32
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, errors.Wrapf(err, "reading Float at index %d", i)
			}
			pool[i] = &ConstantFloat{Value: math.Float32frombits(bits)}

		case TagLong:
			var v int64
			if err := binary.Read(r, binary.BigEndian, &v); err != nil {
				return nil, errors.Wrapf(err, "reading Long at index %d", i)
			}
			pool[i] = &ConstantLong{Value: v}
			i++ // occupies two pool slots

		case TagDouble:
			var bits uint64
			if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
				return nil, errors.Wrapf(err, "reading Double at index %d", i)
			}
			pool[i] = &ConstantDouble{Value: math.Float64frombits(bits)}
			i++ // occupies two pool slots

		case TagClass:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Class at index %d", i)
			}
			pool[i] = &ConstantClass{NameIndex: nameIndex}

		case TagString:
			var utf8Index uint16
			if err := binary.Read(r, binary.BigEndian, &utf8Index); err != nil {
				return nil, errors.Wrapf(err, "reading String at index %d", i)
			}
			pool[i] = &ConstantString{Utf8Index: utf8Index}

		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			var classIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &classIndex); err != nil {
				return nil, errors.Wrapf(err, "reading ref class_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, errors.Wrapf(err, "reading ref name_and_type_index at index %d", i)
			}
			switch tag {
			case TagFieldref:
				pool[i] = &ConstantFieldref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			case TagMethodref:
				pool[i] = &ConstantMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			default:
				pool[i] = &ConstantInterfaceMethodref{ClassIndex: classIndex, NameAndTypeIndex: natIndex}
			}

		case TagNameAndType:
			var nameIndex, descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, errors.Wrapf(err, "reading NameAndType name_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, errors.Wrapf(err, "reading NameAndType descriptor_index at index %d", i)
			}
			pool[i] = &ConstantNameAndType{NameIndex: nameIndex, DescriptorIndex: descIndex}

		case TagMethodHandle:
			var kind uint8
			var refIndex uint16
			if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
				return nil, errors.Wrapf(err, "reading MethodHandle kind at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &refIndex); err != nil {
				return nil, errors.Wrapf(err, "reading MethodHandle reference_index at index %d", i)
			}
			pool[i] = &ConstantMethodHandle{Kind: kind, ReferenceIndex: refIndex}

		case TagMethodType:
			var descIndex uint16
			if err := binary.Read(r, binary.BigEndian, &descIndex); err != nil {
				return nil, errors.Wrapf(err, "reading MethodType at index %d", i)
			}
			pool[i] = &ConstantMethodType{DescriptorIndex: descIndex}

		case TagDynamic, TagInvokeDynamic:
			var bsmIndex, natIndex uint16
			if err := binary.Read(r, binary.BigEndian, &bsmIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Dynamic bootstrap_method_index at index %d", i)
			}
			if err := binary.Read(r, binary.BigEndian, &natIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Dynamic name_and_type_index at index %d", i)
			}
			pool[i] = &ConstantDynamic{BootstrapMethodIndex: bsmIndex, NameAndTypeIndex: natIndex, Invoke: tag == TagInvokeDynamic}

		case TagModule:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Module at index %d", i)
			}
			pool[i] = &ConstantModule{NameIndex: nameIndex}

		case TagPackage:
			var nameIndex uint16
			if err := binary.Read(r, binary.BigEndian, &nameIndex); err != nil {
				return nil, errors.Wrapf(err, "reading Package at index %d", i)
			}
			pool[i] = &ConstantPackage{NameIndex: nameIndex}

		default:
			return nil, errors.Errorf("unknown constant pool tag %d at index %d", tag, i)
		}
	}

	return pool, nil
}

// isValidModifiedUTF8 is a conservative structural check: every byte
// sequence either parses as 1, 2 or 3-byte modified UTF-8.
func isValidModifiedUTF8(b []byte) bool {
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0:
			return false // embedded zero bytes are encoded as 0xC0 0x80, a raw 0 is invalid
		case c&0x80 == 0:
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return false
			}
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return false
			}
			i += 3
		default:
			return false
		}
	}
	return true
}

// decodeModifiedUTF8 turns the class file's modified UTF-8 (which encodes
// NUL as two bytes and never produces 4-byte sequences) into a Go string.
func decodeModifiedUTF8(b []byte) string {
	out := make([]rune, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c&0x80 == 0:
			out = append(out, rune(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			r := rune(c&0x1F)<<6 | rune(b[i+1]&0x3F)
			out = append(out, r)
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			r := rune(c&0x0F)<<12 | rune(b[i+1]&0x3F)<<6 | rune(b[i+2]&0x3F)
			out = append(out, r)
			i += 3
		default:
			i++
		}
	}
	return string(out)
}

// Utf8 returns the text of the Utf8 entry at index i.
func Utf8(pool []ConstantPoolEntry, i uint16) (string, error) {
	entry, err := entryAt(pool, i)
	if err != nil {
		return "", err
	}
	u, ok := entry.(*ConstantUtf8)
	if !ok {
		return "", errors.Errorf("constant pool index %d is not Utf8 (tag=%d)", i, entry.Tag())
	}
	return u.Value, nil
}

// ClassNameAt follows a CONSTANT_Class entry's name index to its text.
func ClassNameAt(pool []ConstantPoolEntry, classIndex uint16) (string, error) {
	entry, err := entryAt(pool, classIndex)
	if err != nil {
		return "", err
	}
	c, ok := entry.(*ConstantClass)
	if !ok {
		return "", errors.Errorf("constant pool index %d is not Class (tag=%d)", classIndex, entry.Tag())
	}
	return Utf8(pool, c.NameIndex)
}

// NameAndTypeAt returns the (name, descriptor) pair of a NameAndType entry.
func NameAndTypeAt(pool []ConstantPoolEntry, index uint16) (name, descriptor string, err error) {
	entry, err := entryAt(pool, index)
	if err != nil {
		return "", "", err
	}
	nat, ok := entry.(*ConstantNameAndType)
	if !ok {
		return "", "", errors.Errorf("constant pool index %d is not NameAndType (tag=%d)", index, entry.Tag())
	}
	name, err = Utf8(pool, nat.NameIndex)
	if err != nil {
		return "", "", err
	}
	descriptor, err = Utf8(pool, nat.DescriptorIndex)
	if err != nil {
		return "", "", err
	}
	return name, descriptor, nil
}

func entryAt(pool []ConstantPoolEntry, i uint16) (ConstantPoolEntry, error) {
	if int(i) >= len(pool) || pool[i] == nil {
		return nil, errors.Errorf("invalid constant pool index %d", i)
	}
	return pool[i], nil
}

// EntryAt exposes entryAt for callers outside the package that need the
// raw tagged entry (e.g. pkg/classload's resolver).
func EntryAt(pool []ConstantPoolEntry, i uint16) (ConstantPoolEntry, error) {
	return entryAt(pool, i)
}
