// Package descriptor parses JVM field and method descriptor strings: the
// shared encoding of array-element types, field types and method
// argument/return lists.
package descriptor

import "github.com/pkg/errors"

// Kind is the primitive/reference/array/void shape of one type slot.
type Kind uint8

const (
	Byte Kind = iota
	Char
	Double
	Float
	Int
	Long
	Short
	Boolean
	Reference
	Array
	Void
)

// Type is one decoded field-descriptor-shaped type: a primitive kind, a
// reference with its binary class name, or an array with its element type.
type Type struct {
	Kind      Kind
	ClassName string // set when Kind == Reference
	Elem      *Type  // set when Kind == Array
}

// IsCategory2 reports whether this type occupies two stack/local slots.
func (t Type) IsCategory2() bool { return t.Kind == Long || t.Kind == Double }

// Descriptor renders the type back to its JVM descriptor form, e.g. "[I",
// "Ljava/lang/String;", "I".
func (t Type) Descriptor() string {
	switch t.Kind {
	case Byte:
		return "B"
	case Char:
		return "C"
	case Double:
		return "D"
	case Float:
		return "F"
	case Int:
		return "I"
	case Long:
		return "J"
	case Short:
		return "S"
	case Boolean:
		return "Z"
	case Void:
		return "V"
	case Reference:
		return "L" + t.ClassName + ";"
	case Array:
		return "[" + t.Elem.Descriptor()
	default:
		return "?"
	}
}

// ParseFieldType parses one type starting at s[0] and returns it along
// with the number of bytes consumed.
func ParseFieldType(s string) (Type, int, error) {
	if len(s) == 0 {
		return Type{}, 0, errors.New("empty descriptor")
	}
	switch s[0] {
	case 'B':
		return Type{Kind: Byte}, 1, nil
	case 'C':
		return Type{Kind: Char}, 1, nil
	case 'D':
		return Type{Kind: Double}, 1, nil
	case 'F':
		return Type{Kind: Float}, 1, nil
	case 'I':
		return Type{Kind: Int}, 1, nil
	case 'J':
		return Type{Kind: Long}, 1, nil
	case 'S':
		return Type{Kind: Short}, 1, nil
	case 'Z':
		return Type{Kind: Boolean}, 1, nil
	case 'L':
		end := -1
		for i := 1; i < len(s); i++ {
			if s[i] == ';' {
				end = i
				break
			}
		}
		if end < 0 {
			return Type{}, 0, errors.Errorf("unterminated reference type in descriptor %q", s)
		}
		return Type{Kind: Reference, ClassName: s[1:end]}, end + 1, nil
	case '[':
		elem, n, err := ParseFieldType(s[1:])
		if err != nil {
			return Type{}, 0, err
		}
		return Type{Kind: Array, Elem: &elem}, n + 1, nil
	default:
		return Type{}, 0, errors.Errorf("invalid type tag %q in descriptor %q", s[0], s)
	}
}

// ParseMethodDescriptor parses "(<arg-types>)<ret-type>" into the ordered
// parameter types and the return type (Kind == Void for "V").
func ParseMethodDescriptor(s string) (params []Type, ret Type, err error) {
	if len(s) == 0 || s[0] != '(' {
		return nil, Type{}, errors.Errorf("method descriptor %q missing '('", s)
	}
	i := 1
	for i < len(s) && s[i] != ')' {
		t, n, err := ParseFieldType(s[i:])
		if err != nil {
			return nil, Type{}, errors.Wrapf(err, "parsing parameter %d of %q", len(params), s)
		}
		params = append(params, t)
		i += n
	}
	if i >= len(s) {
		return nil, Type{}, errors.Errorf("method descriptor %q missing ')'", s)
	}
	i++ // skip ')'
	if i < len(s) && s[i] == 'V' {
		return params, Type{Kind: Void}, nil
	}
	ret, _, err = ParseFieldType(s[i:])
	if err != nil {
		return nil, Type{}, errors.Wrapf(err, "parsing return type of %q", s)
	}
	return params, ret, nil
}

// ArgSlots returns the number of local-variable slots the given parameter
// types occupy (category-2 Long/Double count as 2).
func ArgSlots(params []Type) int {
	n := 0
	for _, p := range params {
		if p.IsCategory2() {
			n += 2
		} else {
			n++
		}
	}
	return n
}
