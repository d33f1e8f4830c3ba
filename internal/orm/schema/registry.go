package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/conduit-lang/crudkit/internal/orm/security"
)

var (
	// ErrInvalidType is returned for types that cannot be described as a class
	ErrInvalidType = errors.New("invalid class type")
	// ErrAlreadyRegistered is returned when a class is registered twice
	ErrAlreadyRegistered = errors.New("class already registered")
	// ErrUnknownClass is returned when looking up a class that was never registered
	ErrUnknownClass = errors.New("unknown class")
)

// Registry holds every class known to the application. Navigation targets
// reached from a registered class are registered implicitly.
type Registry struct {
	mu           sync.RWMutex
	classes      map[reflect.Type]*Class
	order        []*Class
	restrictions map[string]security.Restriction
}

// NewRegistry creates a new, empty registry
func NewRegistry() *Registry {
	return &Registry{
		classes:      make(map[reflect.Type]*Class),
		restrictions: make(map[string]security.Restriction),
	}
}

// Register describes the struct type of v (a struct, pointer to struct or
// reflect.Type) and applies the class options.
func (r *Registry) Register(v any, opts ...ClassOption) (*Class, error) {
	t, err := structType(v)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.classes[t]
	if exists && c.explicit {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, c.Name)
	}
	if !exists {
		if c, err = r.addLocked(t); err != nil {
			return nil, err
		}
	}
	c.explicit = true
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("class %s: %w", c.Name, err)
		}
	}
	return c, nil
}

// MustRegister is Register that panics on error, for package-level setup
func (r *Registry) MustRegister(v any, opts ...ClassOption) *Class {
	c, err := r.Register(v, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ClassOf returns the class for t, registering it with default options when
// it has not been seen yet.
func (r *Registry) ClassOf(t reflect.Type) (*Class, error) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return nil, fmt.Errorf("%w: nil type", ErrInvalidType)
	}

	r.mu.RLock()
	c, ok := r.classes[t]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.classes[t]; ok {
		return c, nil
	}
	return r.addLocked(t)
}

// Lookup finds a class by type name, ignoring case
func (r *Registry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.order {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// Classes returns every class in registration order
func (r *Registry) Classes() []*Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Class(nil), r.order...)
}

// AddRestriction registers a restriction usable by any class
func (r *Registry) AddRestriction(name string, restriction security.Restriction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restrictions[strings.ToLower(name)] = restriction
}

func (r *Registry) restriction(name string) (security.Restriction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.restrictions[strings.ToLower(name)]
	return res, ok
}

// addLocked builds and stores t, then links its navigation properties.
// The class is stored before linking so cyclic relations resolve.
func (r *Registry) addLocked(t reflect.Type) (*Class, error) {
	c, err := buildClass(t)
	if err != nil {
		return nil, err
	}
	c.registry = r
	r.classes[t] = c
	r.order = append(r.order, c)

	for _, p := range c.Properties {
		if !p.IsNavigation() {
			continue
		}
		related, ok := r.classes[p.elem]
		if !ok {
			if related, err = r.addLocked(p.elem); err != nil {
				delete(r.classes, t)
				r.order = r.order[:len(r.order)-1]
				return nil, fmt.Errorf("%s.%s: %w", c.Name, p.Name, err)
			}
		}
		p.related = related
	}
	return c, nil
}

func structType(v any) (reflect.Type, error) {
	var t reflect.Type
	switch x := v.(type) {
	case reflect.Type:
		t = x
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrInvalidType)
	default:
		t = reflect.TypeOf(v)
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrInvalidType, t)
	}
	return t, nil
}

// For returns the class of T
func For[T any](r *Registry) (*Class, error) {
	return r.ClassOf(reflect.TypeOf((*T)(nil)).Elem())
}
