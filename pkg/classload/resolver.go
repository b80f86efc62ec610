package classload

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/jvmgo/gojvm-core/pkg/classfile"
)

// Loader is the narrow interface Resolver needs back from the registry:
// load a class by binary name. Kept separate from *Registry's concrete
// type so tests can resolve against a fake.
type Loader interface {
	Load(name string) (*Class, error)
}

// ResolvedConstant is the live-object form of a constant-pool entry after
// one-shot linking.
type ResolvedConstant struct {
	Kind ResolvedKind

	Integer int32
	Float   float32
	Long    int64
	Double  float64
	Str     string // Utf8 payload of a resolved String constant; heap-string materialisation is the interpreter's job
	Class   *Class
	Field   *Field
	Method  *Method

	MethodOwner *Class // declaring class of Method (may differ from the referencing class)
}

type ResolvedKind uint8

const (
	ResolvedInteger ResolvedKind = iota
	ResolvedFloat
	ResolvedLong
	ResolvedDouble
	ResolvedString
	ResolvedClass
	ResolvedField
	ResolvedMethod
	ResolvedInterfaceMethod
)

// Resolver wraps one class's decoded constant pool with structural getters
// and a lazy, cached resolution pass. One Resolver is owned by exactly one
// Class, created alongside it.
type Resolver struct {
	owner *Class
	mu    sync.Mutex
	cache map[uint16]*ResolvedConstant
}

func newResolver(owner *Class) *Resolver {
	return &Resolver{owner: owner, cache: make(map[uint16]*ResolvedConstant)}
}

func (r *Resolver) pool() []classfile.ConstantPoolEntry { return r.owner.pool }

// Utf8 returns the text of the Utf8 entry at index i.
func (r *Resolver) Utf8(i uint16) (string, error) {
	return classfile.Utf8(r.pool(), i)
}

// ClassName follows a Class entry's name index to its text.
func (r *Resolver) ClassName(i uint16) (string, error) {
	return classfile.ClassNameAt(r.pool(), i)
}

// NameAndType returns the (name, descriptor) pair at index i.
func (r *Resolver) NameAndType(i uint16) (name, descriptor string, err error) {
	return classfile.NameAndTypeAt(r.pool(), i)
}

// Resolve performs (or returns the cached result of) one-shot linking of
// the constant at index i. Reentrant: resolving a MethodRef may itself
// load new classes, which in turn may resolve their own constants.
func (r *Resolver) Resolve(i uint16, loader Loader) (*ResolvedConstant, error) {
	r.mu.Lock()
	if cached, ok := r.cache[i]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	rc, err := r.resolveUncached(i, loader)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// Another goroutine racing us to the same index is not a concern in
	// this single-threaded interpreter, but idempotency still holds:
	// last writer wins with an equal value.
	r.cache[i] = rc
	r.mu.Unlock()
	return rc, nil
}

func (r *Resolver) resolveUncached(i uint16, loader Loader) (*ResolvedConstant, error) {
	entry, err := classfile.EntryAt(r.pool(), i)
	if err != nil {
		return nil, err
	}

	switch e := entry.(type) {
	case *classfile.ConstantInteger:
		return &ResolvedConstant{Kind: ResolvedInteger, Integer: e.Value}, nil

	case *classfile.ConstantFloat:
		return &ResolvedConstant{Kind: ResolvedFloat, Float: e.Value}, nil

	case *classfile.ConstantLong:
		return &ResolvedConstant{Kind: ResolvedLong, Long: e.Value}, nil

	case *classfile.ConstantDouble:
		return &ResolvedConstant{Kind: ResolvedDouble, Double: e.Value}, nil

	case *classfile.ConstantString:
		s, err := classfile.Utf8(r.pool(), e.Utf8Index)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving String constant at index %d", i)
		}
		return &ResolvedConstant{Kind: ResolvedString, Str: s}, nil

	case *classfile.ConstantClass:
		name, err := classfile.Utf8(r.pool(), e.NameIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving Class name at index %d", i)
		}
		cls, err := loader.Load(name)
		if err != nil {
			return nil, errors.Wrapf(err, "loading class %s referenced at constant pool index %d", name, i)
		}
		return &ResolvedConstant{Kind: ResolvedClass, Class: cls}, nil

	case *classfile.ConstantFieldref:
		className, err := classfile.ClassNameAt(r.pool(), e.ClassIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving Fieldref class at index %d", i)
		}
		cls, err := loader.Load(className)
		if err != nil {
			return nil, errors.Wrapf(err, "loading class %s for Fieldref at index %d", className, i)
		}
		fname, fdesc, err := classfile.NameAndTypeAt(r.pool(), e.NameAndTypeIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving Fieldref name_and_type at index %d", i)
		}
		field, ok := cls.Field(fname, fdesc)
		if !ok {
			return nil, errors.Errorf("class %s has no field %s:%s", className, fname, fdesc)
		}
		return &ResolvedConstant{Kind: ResolvedField, Field: field}, nil

	case *classfile.ConstantMethodref, *classfile.ConstantInterfaceMethodref:
		var classIndex, natIndex uint16
		kind := ResolvedMethod
		if mr, ok := entry.(*classfile.ConstantMethodref); ok {
			classIndex, natIndex = mr.ClassIndex, mr.NameAndTypeIndex
		} else {
			im := entry.(*classfile.ConstantInterfaceMethodref)
			classIndex, natIndex = im.ClassIndex, im.NameAndTypeIndex
			kind = ResolvedInterfaceMethod
		}
		className, err := classfile.ClassNameAt(r.pool(), classIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving Methodref class at index %d", i)
		}
		cls, err := loader.Load(className)
		if err != nil {
			return nil, errors.Wrapf(err, "loading class %s for Methodref at index %d", className, i)
		}
		mname, mdesc, err := classfile.NameAndTypeAt(r.pool(), natIndex)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving Methodref name_and_type at index %d", i)
		}
		method, ok := cls.Method(mname, mdesc)
		if !ok {
			return nil, errors.Errorf("class %s has no method %s%s", className, mname, mdesc)
		}
		return &ResolvedConstant{Kind: kind, Method: method, MethodOwner: cls}, nil

	default:
		return nil, errors.Errorf("constant pool index %d (tag %d) has no resolution rule", i, entry.Tag())
	}
}
