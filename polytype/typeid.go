package polytype

import (
	"reflect"
	"sort"
	"sync"
)

// TypeName returns the type id of t: its package path, a dot, and its name.
// Pointer types are unwrapped, so *land.Automobile and land.Automobile share
// an id. Unnamed types fall back to their Go syntax.
func TypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// Registry maps type ids to Go types. It plays the part of a class loader:
// only registered subtypes can ever be instantiated by a Codec.
//
// Register every type before the first Codec call; codecs cache which types
// need polymorphic handling.
type Registry struct {
	mu       sync.RWMutex
	bases    map[reflect.Type]struct{}
	subtypes map[string]reflect.Type
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bases:    make(map[reflect.Type]struct{}),
		subtypes: make(map[string]reflect.Type),
	}
}

// RegisterBase marks the interface type t as polymorphic.
func (r *Registry) RegisterBase(t reflect.Type) error {
	if t == nil || t.Kind() != reflect.Interface {
		return &RegistrationError{Type: t, Reason: "base types must be interfaces"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bases[t] = struct{}{}
	return nil
}

// RegisterSubtype makes the struct type t resolvable by its type id. A
// pointer to t must implement at least one registered base.
func (r *Registry) RegisterSubtype(t reflect.Type) error {
	if t == nil {
		return &RegistrationError{Reason: "nil type"}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return &RegistrationError{Type: t, Reason: "subtypes must be named structs"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	implementsBase := false
	for base := range r.bases {
		if reflect.PointerTo(t).Implements(base) {
			implementsBase = true
			break
		}
	}
	if !implementsBase {
		return &RegistrationError{Type: t, Reason: "does not implement any registered base type"}
	}
	id := TypeName(t)
	if prev, ok := r.subtypes[id]; ok && prev != t {
		return &RegistrationError{Type: t, Reason: "type id already registered"}
	}
	r.subtypes[id] = t
	return nil
}

// RegisterBaseFor is RegisterBase for the static type T.
func RegisterBaseFor[T any](r *Registry) error {
	return r.RegisterBase(reflect.TypeFor[T]())
}

// RegisterSubtypeFor is RegisterSubtype for the static type T.
func RegisterSubtypeFor[T any](r *Registry) error {
	return r.RegisterSubtype(reflect.TypeFor[T]())
}

// IsBase reports whether t was registered with RegisterBase.
func (r *Registry) IsBase(t reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bases[t]
	return ok
}

// Lookup returns the struct type registered under typeID.
func (r *Registry) Lookup(typeID string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.subtypes[typeID]
	return t, ok
}

// Subtypes lists, sorted, the ids of registered types assignable to base.
func (r *Registry) Subtypes(base reflect.Type) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, t := range r.subtypes {
		if reflect.PointerTo(t).Implements(base) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Admitted lists, sorted, the registered subtypes of base that v lets
// Codec.Decode resolve.
func (r *Registry) Admitted(base reflect.Type, v Validator) []string {
	switch v.ValidateBaseType(base) {
	case Allowed:
		return r.Subtypes(base)
	case Denied:
		return nil
	}
	var ids []string
	for _, id := range r.Subtypes(base) {
		switch v.ValidateSubTypeName(base, id) {
		case Allowed:
			ids = append(ids, id)
			continue
		case Denied:
			continue
		}
		if t, ok := r.Lookup(id); ok && v.ValidateSubType(base, t) == Allowed {
			ids = append(ids, id)
		}
	}
	return ids
}

// RegistrationError is returned by the Register methods.
type RegistrationError struct {
	Type   reflect.Type
	Reason string
}

func (e *RegistrationError) Error() string {
	if e.Type == nil {
		return "polytype: cannot register type: " + e.Reason
	}
	return "polytype: cannot register " + e.Type.String() + ": " + e.Reason
}
