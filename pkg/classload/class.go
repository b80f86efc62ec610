// Package classload implements the constant-pool resolver and the
// loaded-class registry. The two are kept in one package because the
// resolver must call back into the registry to load classes referenced
// from another class's constant pool (resolving one MethodRef may itself
// load new classes), and the registry hands every loaded class a resolver
// over its own pool; neither can be built without a concrete reference
// to the other.
package classload

import (
	"github.com/pkg/errors"

	"github.com/jvmgo/gojvm-core/pkg/classfile"
)

// Method is a runtime method record: name, descriptor, the raw code
// buffer (decoded at fetch time by pkg/interp, not here), and its
// declared stack/locals budget.
type Method struct {
	Name        string
	Descriptor  string
	AccessFlags uint16
	Code        *classfile.CodeAttribute // nil for abstract/native methods
	owner       *Class                   // back-reference, see Class doc
}

func (m *Method) IsStatic() bool   { return m.AccessFlags&classfile.AccStatic != 0 }
func (m *Method) IsAbstract() bool { return m.AccessFlags&classfile.AccAbstract != 0 }
func (m *Method) IsNative() bool   { return m.AccessFlags&classfile.AccNative != 0 }

// Owner returns the class that declares this method.
func (m *Method) Owner() *Class { return m.owner }

// Field is a runtime field record.
type Field struct {
	Name          string
	Descriptor    string
	AccessFlags   uint16
	ConstantValue *classfile.ConstantPoolEntry // set when the field carries a ConstantValue attribute
	owner         *Class
}

func (f *Field) IsStatic() bool { return f.AccessFlags&classfile.AccStatic != 0 }
func (f *Field) Owner() *Class  { return f.owner }

// Class is the runtime, post-link form of a decoded ClassFile. Immutable
// after construction except for its lazily populated constant-pool
// resolution cache (owned by Resolver) and its static-field storage.
//
// Method/Field hold a plain *Class back-reference. The resulting
// Class->Method->Class and object->Class->pool->cached-MethodRef->Class
// cycles are fine here: Go's garbage collector traces cycles, so nothing
// leaks the way it would under reference counting.
type Class struct {
	Name        string
	SuperName   string // "" only for java/lang/Object
	AccessFlags uint16
	Interfaces  []string

	methods map[string]*Method // "name:descriptor" -> Method
	fields  map[string]*Field  // "name:descriptor" -> Field

	pool     []classfile.ConstantPoolEntry
	resolver *Resolver

	statics map[string]any // "name:descriptor" -> zero/initial Value (boxed by pkg/runtime)
}

// MethodKey / FieldKey build the "name:descriptor" member lookup keys.
func MethodKey(name, descriptor string) string { return name + ":" + descriptor }
func FieldKey(name, descriptor string) string  { return name + ":" + descriptor }

// Method looks up a method by name and descriptor on this class only.
// Member resolution does not walk super-classes in this core; a reference
// to an inherited member fails to link.
func (c *Class) Method(name, descriptor string) (*Method, bool) {
	m, ok := c.methods[MethodKey(name, descriptor)]
	return m, ok
}

// Field looks up a field by name and descriptor on this class only.
func (c *Class) Field(name, descriptor string) (*Field, bool) {
	f, ok := c.fields[FieldKey(name, descriptor)]
	return f, ok
}

// Fields returns every field declared directly on this class, in
// declaration order is not guaranteed (map-backed).
func (c *Class) Fields() []*Field {
	out := make([]*Field, 0, len(c.fields))
	for _, f := range c.fields {
		out = append(out, f)
	}
	return out
}

// ConstantPool exposes the raw (unresolved) pool for the resolver and for
// opcodes (ldc, invoke*, new, ...) that resolve an index through it.
func (c *Class) ConstantPool() []classfile.ConstantPoolEntry { return c.pool }

// Resolver returns this class's lazy constant-pool resolution cache.
func (c *Class) Resolver() *Resolver { return c.resolver }

// IsInterface reports whether the class carries the interface access flag.
func (c *Class) IsInterface() bool { return c.AccessFlags&classfile.AccInterface != 0 }

// IsArrayClass reports whether this class was synthesised for a JVM array
// descriptor ("[I", "[Ljava/lang/String;", ...).
func (c *Class) IsArrayClass() bool { return len(c.Name) > 0 && c.Name[0] == '[' }

// buildClass wraps a decoded ClassFile into a runtime Class.
func buildClass(cf *classfile.ClassFile) (*Class, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, errors.Wrap(err, "resolving this_class")
	}
	superName, err := cf.SuperClassName()
	if err != nil {
		return nil, errors.Wrap(err, "resolving super_class")
	}

	ifaceNames := make([]string, len(cf.Interfaces))
	for i, idx := range cf.Interfaces {
		n, err := classfile.ClassNameAt(cf.ConstantPool, idx)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving interface %d", i)
		}
		ifaceNames[i] = n
	}

	c := &Class{
		Name:        name,
		SuperName:   superName,
		AccessFlags: cf.AccessFlags,
		Interfaces:  ifaceNames,
		methods:     make(map[string]*Method, len(cf.Methods)),
		fields:      make(map[string]*Field, len(cf.Fields)),
		pool:        cf.ConstantPool,
		statics:     make(map[string]any),
	}
	c.resolver = newResolver(c)

	for i := range cf.Methods {
		mi := &cf.Methods[i]
		c.methods[MethodKey(mi.Name, mi.Descriptor)] = &Method{
			Name:        mi.Name,
			Descriptor:  mi.Descriptor,
			AccessFlags: mi.AccessFlags,
			Code:        mi.Code,
			owner:       c,
		}
	}
	for i := range cf.Fields {
		fi := &cf.Fields[i]
		var cv *classfile.ConstantPoolEntry
		if fi.ConstantValue != nil {
			entry, err := classfile.EntryAt(cf.ConstantPool, *fi.ConstantValue)
			if err != nil {
				return nil, errors.Wrapf(err, "resolving ConstantValue of field %s", fi.Name)
			}
			cv = &entry
		}
		c.fields[FieldKey(fi.Name, fi.Descriptor)] = &Field{
			Name:          fi.Name,
			Descriptor:    fi.Descriptor,
			AccessFlags:   fi.AccessFlags,
			ConstantValue: cv,
			owner:         c,
		}
	}

	return c, nil
}

// newSyntheticClass builds a Class with no backing ClassFile (primitive
// array classes, the bootstrap java.lang.* stand-ins, and on-demand
// reference-array classes).
func newSyntheticClass(name, superName string) *Class {
	c := &Class{
		Name:      name,
		SuperName: superName,
		methods:   make(map[string]*Method),
		fields:    make(map[string]*Field),
		statics:   make(map[string]any),
	}
	c.resolver = newResolver(c)
	return c
}

// GetStatic / SetStatic / InitStaticIfAbsent are the static-field storage
// hung off the Class object: a mapping keyed like instance fields.
// Values are stored as `any` here (classload does not depend on pkg/runtime)
// and type-asserted back to runtime.Value by pkg/interp.
func (c *Class) GetStatic(key string) (any, bool) {
	v, ok := c.statics[key]
	return v, ok
}

func (c *Class) SetStatic(key string, v any) {
	c.statics[key] = v
}

func (c *Class) InitStaticIfAbsent(key string, zero any) {
	if _, ok := c.statics[key]; !ok {
		c.statics[key] = zero
	}
}
