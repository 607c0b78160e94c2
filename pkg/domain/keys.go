package domain

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"sync"
)

var keyNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*:[a-z][a-z0-9_]*:[a-z][a-z0-9_]*$`)

// ErrInvalidKeyName is returned when a context key name does not follow the
// domain:feature:aspect convention.
var ErrInvalidKeyName = errors.New("context key name must match domain:feature:aspect")

// ValidKeyName reports whether name is a well-formed context key name.
func ValidKeyName(name string) bool {
	return keyNamePattern.MatchString(name)
}

// KeyRef is the untyped identity of a context key. Rules use it to declare
// the keys they read and write.
type KeyRef struct {
	Name string
	Type reflect.Type
}

func (r KeyRef) String() string { return r.Name }

// TypeName returns the Go type carried by the key, or "" when unknown.
func (r KeyRef) TypeName() string {
	if r.Type == nil {
		return ""
	}
	return r.Type.String()
}

// Key is a typed identifier for a temporary context entry. Keys are created
// through DefineKey or NewKey; the zero value never matches any entry.
type Key[T any] struct {
	ref KeyRef
}

// Name returns the namespaced key name.
func (k Key[T]) Name() string { return k.ref.Name }

// Ref returns the untyped identity of the key.
func (k Key[T]) Ref() KeyRef { return k.ref }

// Get reads the value stored under the key. A missing entry, or an entry of
// another type, reports false.
func (k Key[T]) Get(view ScratchReader) (T, bool) {
	var zero T
	if view == nil || k.ref.Name == "" {
		return zero, false
	}
	raw, ok := view.lookup(k.ref.Name)
	if !ok {
		return zero, false
	}
	value, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return value, true
}

// Require reads the value stored under the key and reports why it could not
// be read.
func (k Key[T]) Require(view ScratchReader) (T, error) {
	var zero T
	if view == nil || k.ref.Name == "" {
		return zero, fmt.Errorf("%w: %s", ErrMissingKey, k.ref.Name)
	}
	raw, ok := view.lookup(k.ref.Name)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrMissingKey, k.ref.Name)
	}
	value, ok := raw.(T)
	if !ok {
		return zero, &KeyTypeError{Key: k.ref.Name, Want: k.ref.TypeName(), Got: fmt.Sprintf("%T", raw)}
	}
	return value, nil
}

// Set stores value under the key, attributing the write to the rule that is
// currently executing (or to the command seed).
func (k Key[T]) Set(ec *ExecutionContext, value T) {
	if ec == nil || k.ref.Name == "" {
		return
	}
	ec.scratch.put(k.ref, value, ec.writer())
}

// KeyRegistry records every defined context key so that two features cannot
// claim the same name with different shapes.
type KeyRegistry struct {
	mu   sync.Mutex
	keys map[string]KeyRef
}

// NewKeyRegistry constructs an empty registry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[string]KeyRef)}
}

var defaultKeys = NewKeyRegistry()

// DefaultKeyRegistry returns the process-wide registry used by NewKey.
func DefaultKeyRegistry() *KeyRegistry { return defaultKeys }

func (r *KeyRegistry) define(name string, typ reflect.Type) (KeyRef, error) {
	if !ValidKeyName(name) {
		return KeyRef{}, fmt.Errorf("%w: %q", ErrInvalidKeyName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.keys[name]; ok {
		if existing.Type != typ {
			return KeyRef{}, &KeyCollisionError{Key: name, Existing: existing.TypeName(), Requested: typ.String()}
		}
		return existing, nil
	}
	ref := KeyRef{Name: name, Type: typ}
	r.keys[name] = ref
	return ref, nil
}

// Lookup returns the definition registered for name.
func (r *KeyRegistry) Lookup(name string) (KeyRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.keys[name]
	return ref, ok
}

// Keys returns every registered key sorted by name.
func (r *KeyRegistry) Keys() []KeyRef {
	r.mu.Lock()
	out := make([]KeyRef, 0, len(r.keys))
	for _, ref := range r.keys {
		out = append(out, ref)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefineKey registers a typed key in the registry. Defining the same name
// twice with the same type returns the original key.
func DefineKey[T any](reg *KeyRegistry, name string) (Key[T], error) {
	if reg == nil {
		reg = defaultKeys
	}
	ref, err := reg.define(name, reflect.TypeFor[T]())
	if err != nil {
		return Key[T]{}, err
	}
	return Key[T]{ref: ref}, nil
}

// MustDefineKey is DefineKey for package-level key declarations.
func MustDefineKey[T any](reg *KeyRegistry, name string) Key[T] {
	key, err := DefineKey[T](reg, name)
	if err != nil {
		panic(err)
	}
	return key
}

// NewKey defines a key in the default registry and panics on a malformed
// name or a type collision.
func NewKey[T any](name string) Key[T] {
	return MustDefineKey[T](defaultKeys, name)
}

// Refs collects the identities of the supplied keys.
func Refs(keys ...interface{ Ref() KeyRef }) []KeyRef {
	out := make([]KeyRef, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Ref())
	}
	return out
}
