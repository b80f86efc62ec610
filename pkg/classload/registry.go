package classload

import (
	"bytes"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jvmgo/gojvm-core/pkg/classfile"
)

// ClassFinder reads the bytes of a named class from wherever the CLI points
// at (a .jmod module, a directory, a single .class file). Handed to the
// Registry at construction so loading stays independent of where the bytes
// come from.
type ClassFinder interface {
	FindClass(binaryName string) ([]byte, error)
}

// Registry is the loaded-class table: caches every class loaded so far by
// binary name, synthesises the classes that never arrive as real .class
// bytes (primitive array classes, bootstrap java.lang.* stand-ins,
// on-demand reference-array classes), and implements the Loader interface
// the Resolver needs to call back into.
type Registry struct {
	finder ClassFinder
	log    log.FieldLogger

	mu      sync.Mutex
	loading map[string]bool // names currently mid-load, detects a load cycle
	classes map[string]*Class
	strings map[string]any // process-wide interned string table, keyed by UTF-8 text
}

// primitiveArrayDescriptors are the eight pre-seeded array classes: one
// per primitive element type, each with a bare "[<tag>" name and no
// super-class walk needed since arraylength/element ops are structural.
var primitiveArrayDescriptors = []string{"[B", "[C", "[D", "[F", "[I", "[J", "[S", "[Z"}

// NewRegistry builds an empty registry and pre-populates the bootstrap
// classes that never come from a real .class file.
func NewRegistry(finder ClassFinder, logger log.FieldLogger) *Registry {
	if logger == nil {
		logger = newDiscardLogger()
	}
	r := &Registry{
		finder:  finder,
		log:     logger,
		loading: make(map[string]bool),
		classes: make(map[string]*Class),
		strings: make(map[string]any),
	}
	r.seedBootstrapClasses()
	return r
}

func newDiscardLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (r *Registry) seedBootstrapClasses() {
	object := newSyntheticClass("java/lang/Object", "")
	object.methods[MethodKey("<init>", "()V")] = &Method{Name: "<init>", Descriptor: "()V", owner: object}
	r.classes["java/lang/Object"] = object

	str := newSyntheticClass("java/lang/String", "java/lang/Object")
	str.fields[FieldKey("value", "[C")] = &Field{Name: "value", Descriptor: "[C", owner: str}
	str.methods[MethodKey("<init>", "()V")] = &Method{Name: "<init>", Descriptor: "()V", owner: str}
	r.classes["java/lang/String"] = str

	class := newSyntheticClass("java/lang/Class", "java/lang/Object")
	r.classes["java/lang/Class"] = class

	for _, d := range primitiveArrayDescriptors {
		r.classes[d] = newSyntheticClass(d, "java/lang/Object")
	}
}

// Load returns the class registered under name, loading and linking it on
// first reference. Satisfies the Loader interface Resolver.Resolve needs.
func (r *Registry) Load(name string) (*Class, error) {
	r.mu.Lock()
	if c, ok := r.classes[name]; ok {
		r.mu.Unlock()
		return c, nil
	}
	if r.loading[name] {
		r.mu.Unlock()
		return nil, errors.Errorf("class load cycle detected for %s", name)
	}
	r.loading[name] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.loading, name)
		r.mu.Unlock()
	}()

	c, err := r.loadUncached(name)
	if err != nil {
		r.log.WithField("class", name).WithError(err).Warn("class load failed")
		return nil, err
	}

	r.mu.Lock()
	r.classes[name] = c
	r.mu.Unlock()
	r.log.WithField("class", name).Debug("class loaded")
	return c, nil
}

func (r *Registry) loadUncached(name string) (*Class, error) {
	if strings.HasPrefix(name, "[") {
		return r.loadArrayClass(name)
	}
	if r.finder == nil {
		return nil, errors.Errorf("class %s not found: no class finder configured", name)
	}
	data, err := r.finder.FindClass(name)
	if err != nil {
		return nil, errors.Wrapf(err, "locating class %s", name)
	}
	cf, err := classfile.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding class %s", name)
	}
	actualName, err := cf.ClassName()
	if err != nil {
		return nil, errors.Wrapf(err, "resolving this_class for %s", name)
	}
	if actualName != name {
		return nil, errors.Errorf("class file for %s declares name %s", name, actualName)
	}
	return buildClass(cf)
}

// loadArrayClass synthesises a reference-array class ("[Ljava/lang/String;"
// or a nested "[[I") on demand; its element class is loaded (and cached)
// the same way any other reference would be.
func (r *Registry) loadArrayClass(name string) (*Class, error) {
	elemDescriptor := name[1:]
	if strings.HasPrefix(elemDescriptor, "L") && strings.HasSuffix(elemDescriptor, ";") {
		elemName := elemDescriptor[1 : len(elemDescriptor)-1]
		if _, err := r.Load(elemName); err != nil {
			return nil, errors.Wrapf(err, "loading element class %s of array class %s", elemName, name)
		}
	} else if strings.HasPrefix(elemDescriptor, "[") {
		if _, err := r.Load(elemDescriptor); err != nil {
			return nil, errors.Wrapf(err, "loading element class %s of array class %s", elemDescriptor, name)
		}
	}
	return newSyntheticClass(name, "java/lang/Object"), nil
}

// InternedString returns the cached heap handle registered for text, if
// any. The value is stored as `any` since
// this package does not depend on pkg/runtime; callers type-assert it back
// to their own heap-object representation.
func (r *Registry) InternedString(text string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.strings[text]
	return v, ok
}

// SetInternedString registers obj as the canonical heap handle for text.
// Only the first registration for a given text sticks in practice, since
// callers check InternedString first, but last-writer-wins here too
// keeps the contract simple.
func (r *Registry) SetInternedString(text string, obj any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strings[text] = obj
}

// Loaded returns every class currently resident in the registry, for
// diagnostics and tests.
func (r *Registry) Loaded() []*Class {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Class, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}
	return out
}
