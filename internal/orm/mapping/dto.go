package mapping

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

var (
	// ErrUnknownType is returned when a DTO is mapped for a type the
	// registry cannot describe
	ErrUnknownType = errors.New("mapping: unknown type")
	// ErrInvalidValue is returned when an incoming value cannot be converted
	// to the property type
	ErrInvalidValue = errors.New("mapping: invalid value")
)

// ClassDto is the bidirectional mapping contract between an entity type T
// and its client-facing representation.
type ClassDto[T any] interface {
	// MapFrom fills the DTO from obj. A nil tree maps every non-nil relation.
	MapFrom(obj *T, mc *Context, tree *includes.Tree)
	// MapTo applies the explicitly set, writable fields onto obj.
	MapTo(obj *T, mc *Context) error
}

// DtoPointer constrains a pointer to a DTO struct D implementing ClassDto[T].
// It lets generic helpers allocate DTOs without reflection.
type DtoPointer[D any, T any] interface {
	*D
	ClassDto[T]
}

// MapToNew allocates a new entity, applies dto to it and returns it
func MapToNew[T any](dto ClassDto[T], mc *Context) (*T, error) {
	obj := new(T)
	if err := dto.MapTo(obj, mc); err != nil {
		return nil, err
	}
	return obj, nil
}

// MapFromNew allocates a DTO of type D and fills it from obj
func MapFromNew[D any, T any, PD DtoPointer[D, T]](obj *T, mc *Context, tree *includes.Tree) PD {
	dto := PD(new(D))
	dto.MapFrom(obj, mc, tree)
	return dto
}

// UpdateHandler is implemented by entities that take over inbound mapping.
// Returning handled=true stops MapTo before any property is touched.
type UpdateHandler interface {
	OnDtoUpdate(dto *Object, mc *Context) (handled bool, err error)
}

// ShallowCopy returns a property-level snapshot of obj. Navigation pointers
// are shared with the original, not cloned.
func ShallowCopy[T any](obj *T) *T {
	if obj == nil {
		return nil
	}
	c := *obj
	return &c
}

// Object is a schema-driven DTO. Each property is independently tracked as
// set or unset: decoding records exactly the keys present in the payload,
// including explicit nulls, and outbound mapping sets only what the caller
// may see.
type Object struct {
	class  *schema.Class
	values map[string]any
	order  []string
	raw    map[string]json.RawMessage
}

// NewObject creates an empty object for class, which may be nil
func NewObject(class *schema.Class) *Object {
	return &Object{class: class}
}

// AsObject returns o itself; it lets Dto[T] values be used where an
// *Object is expected.
func (o *Object) AsObject() *Object {
	return o
}

// Class returns the class the object was mapped from, if any
func (o *Object) Class() *schema.Class {
	return o.class
}

// Set marks name as explicitly set to value. Nested relations accept
// *Object or Dto values.
func (o *Object) Set(name string, value any) *Object {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	key := o.canonical(name)
	if _, exists := o.values[key]; !exists {
		o.order = append(o.order, key)
	}
	o.values[key] = value
	if o.raw != nil {
		delete(o.raw, strings.ToLower(key))
	}
	return o
}

// Unset forgets a property so it is neither serialized nor applied
func (o *Object) Unset(name string) {
	key := o.canonical(name)
	delete(o.values, key)
	delete(o.raw, strings.ToLower(key))
	for i, k := range o.order {
		if k == key {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// Has reports whether name was set, by mapping or by the client
func (o *Object) Has(name string) bool {
	_, ok := o.lookup(name)
	return ok
}

// Get returns the value set for name. Values decoded from JSON and not yet
// applied are returned as json.RawMessage.
func (o *Object) Get(name string) (any, bool) {
	return o.lookup(name)
}

// Ref returns a nested relation object
func (o *Object) Ref(name string) *Object {
	v, _ := o.lookup(name)
	return asObject(v)
}

// List returns a nested collection
func (o *Object) List(name string) []*Object {
	v, _ := o.lookup(name)
	list, _ := v.([]*Object)
	return list
}

// Names returns the set property names in output order
func (o *Object) Names() []string {
	if o.class == nil {
		names := append([]string(nil), o.order...)
		for k := range o.raw {
			names = append(names, k)
		}
		return names
	}
	var names []string
	for _, p := range o.class.Properties {
		if _, ok := o.lookup(p.Name); ok {
			names = append(names, p.Name)
		}
	}
	return names
}

// Only returns a copy restricted to the named top-level fields. Names match
// Go or client names, ignoring case. An empty list returns o unchanged.
func (o *Object) Only(fields ...string) *Object {
	if len(fields) == 0 {
		return o
	}
	c := &Object{class: o.class, values: make(map[string]any)}
	for _, f := range fields {
		key := o.canonical(strings.TrimSpace(f))
		if v, ok := o.values[key]; ok {
			if _, dup := c.values[key]; !dup {
				c.order = append(c.order, key)
			}
			c.values[key] = v
		}
	}
	return c
}

// MarshalJSON writes the set properties using client names. Objects mapped
// from a class follow the class's declaration order.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(name string, v any) error {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("property %s: %w", name, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(encoded)
		return nil
	}

	if o.class != nil {
		for _, p := range o.class.Properties {
			if v, ok := o.values[p.Name]; ok {
				if err := write(p.JSONName, v); err != nil {
					return nil, err
				}
			} else if raw, ok := o.raw[strings.ToLower(p.JSONName)]; ok {
				if err := write(p.JSONName, raw); err != nil {
					return nil, err
				}
			}
		}
	} else {
		for _, k := range o.order {
			if err := write(k, o.values[k]); err != nil {
				return nil, err
			}
		}
		keys := make([]string, 0, len(o.raw))
		for k := range o.raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := write(k, o.raw[k]); err != nil {
				return nil, err
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON records every key of the payload as set. Values stay raw
// until MapTo converts them to the property types.
func (o *Object) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	o.raw = make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		o.raw[strings.ToLower(k)] = v
	}
	return nil
}

// canonical returns the Go property name for name when the class is known
func (o *Object) canonical(name string) string {
	if o.class != nil {
		if p := o.class.Property(name); p != nil {
			return p.Name
		}
	}
	for _, k := range o.order {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

func (o *Object) lookup(name string) (any, bool) {
	key := o.canonical(name)
	if v, ok := o.values[key]; ok {
		return v, true
	}
	if len(o.raw) == 0 {
		return nil, false
	}
	if v, ok := o.raw[strings.ToLower(name)]; ok {
		return v, true
	}
	if o.class != nil {
		if p := o.class.Property(name); p != nil {
			if v, ok := o.raw[strings.ToLower(p.JSONName)]; ok {
				return v, true
			}
			if v, ok := o.raw[strings.ToLower(p.Name)]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// incoming finds the client value for p. touched is false when the client
// never sent the property.
func (o *Object) incoming(p *schema.Property) (v any, touched bool) {
	if val, ok := o.values[p.Name]; ok {
		return val, true
	}
	for k, val := range o.values {
		if strings.EqualFold(k, p.Name) || strings.EqualFold(k, p.JSONName) {
			return val, true
		}
	}
	if raw, ok := o.raw[strings.ToLower(p.JSONName)]; ok {
		return raw, true
	}
	if raw, ok := o.raw[strings.ToLower(p.Name)]; ok {
		return raw, true
	}
	return nil, false
}

// Value returns the client value for p converted to the property type.
// touched is false when the client never sent p; an explicit null is
// returned as a nil value. Navigation values are returned unconverted.
func (o *Object) Value(p *schema.Property) (v any, touched bool, err error) {
	in, touched := o.incoming(p)
	if !touched {
		return nil, false, nil
	}
	if p.IsNavigation() {
		return in, true, nil
	}
	val, isNull, err := convertIncoming(in, p.Type)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %s: %v", ErrInvalidValue, p.JSONName, err)
	}
	if isNull {
		return nil, true, nil
	}
	return val.Interface(), true, nil
}

// ObjectOf returns the schema-driven object behind a DTO, or nil when dto
// is a plain struct
func ObjectOf(dto any) *Object {
	return asObject(dto)
}

type objecter interface {
	AsObject() *Object
}

func asObject(v any) *Object {
	if o, ok := v.(objecter); ok {
		return o.AsObject()
	}
	return nil
}

// Dto is the reflective ClassDto for any registered entity type
type Dto[T any] struct {
	Object
}

// NewDto creates an empty DTO for T
func NewDto[T any]() *Dto[T] {
	return &Dto[T]{}
}

// MapFrom implements ClassDto. It panics if T cannot be described by the
// context's registry, which is a programming error.
func (d *Dto[T]) MapFrom(obj *T, mc *Context, tree *includes.Tree) {
	class := mustClass[T](mc)
	d.Object = Object{class: class}
	if obj == nil {
		return
	}
	if !mc.MarkVisited(obj) {
		return
	}
	defer mc.Leave(obj)
	mapFrom(&d.Object, class, reflect.ValueOf(obj), mc, tree)
}

// MapTo implements ClassDto
func (d *Dto[T]) MapTo(obj *T, mc *Context) error {
	class, err := mc.registry.ClassOf(reflect.TypeOf(obj))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownType, err)
	}
	return mapTo(&d.Object, class, reflect.ValueOf(obj), mc)
}

// MarshalJSON delegates to the embedded object
func (d Dto[T]) MarshalJSON() ([]byte, error) {
	return d.Object.MarshalJSON()
}

func mustClass[T any](mc *Context) *schema.Class {
	class, err := schema.For[T](mc.registry)
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrUnknownType, err))
	}
	return class
}

// PrimaryKeyOf extracts the key value sent in an incoming DTO. It returns
// nil when the key is absent, null or the zero value of its type.
func PrimaryKeyOf(dto any, class *schema.Class) (any, error) {
	if class.Key == nil || dto == nil {
		return nil, nil
	}
	if obj := asObject(dto); obj != nil {
		v, touched := obj.incoming(class.Key)
		if !touched {
			return nil, nil
		}
		val, isNull, err := convertIncoming(v, class.Key.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, class.Key.JSONName, err)
		}
		if isNull {
			return nil, nil
		}
		return keyOrNil(val), nil
	}

	rv := reflect.ValueOf(dto)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, nil
	}
	f := rv.FieldByName(class.Key.Name)
	if !f.IsValid() {
		return nil, nil
	}
	return keyOrNil(f), nil
}

func keyOrNil(v reflect.Value) any {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.IsZero() {
		return nil
	}
	return v.Interface()
}
