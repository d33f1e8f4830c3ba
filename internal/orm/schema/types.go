// Package schema is the reflective metadata provider: given a Go struct type
// it describes the client-visible properties, their security annotations,
// search configuration, default ordering, navigation relations and key.
package schema

import (
	"encoding"
	"reflect"
	"strings"
	"time"

	"github.com/conduit-lang/crudkit/internal/orm/security"
)

// PropertyKind classifies how a property participates in mapping and storage
type PropertyKind int

const (
	// KindScalar is a single value stored in one column
	KindScalar PropertyKind = iota
	// KindPrimitiveCollection is a slice of scalars
	KindPrimitiveCollection
	// KindDictionary is a map copied verbatim during mapping
	KindDictionary
	// KindReference is a pointer to another class
	KindReference
	// KindCollection is a slice of pointers to another class
	KindCollection
)

// String returns the string representation of the kind
func (k PropertyKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindPrimitiveCollection:
		return "primitive collection"
	case KindDictionary:
		return "dictionary"
	case KindReference:
		return "reference"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// SearchMode is how a searchable property matches a search term
type SearchMode int

const (
	SearchNone SearchMode = iota
	SearchBeginsWith
	SearchContains
	SearchEquals
)

// String returns the string representation of the search mode
func (m SearchMode) String() string {
	switch m {
	case SearchBeginsWith:
		return "begins"
	case SearchContains:
		return "contains"
	case SearchEquals:
		return "equals"
	default:
		return "none"
	}
}

// Property describes one exported field of a class
type Property struct {
	Owner    *Class
	Name     string
	JSONName string
	Column   string
	Type     reflect.Type
	Kind     PropertyKind
	Index    []int

	IsKey    bool
	Internal bool
	Unmapped bool
	ReadOnly bool
	DateOnly bool

	Search        SearchMode
	SplitOnSpaces bool

	OrderPriority int
	OrderDesc     bool

	ReadRoles    []string
	EditRoles    []string
	Restrictions []string
	DtoIncludes  []string
	DtoExcludes  []string

	// ForeignKey names the owner's scalar holding the key of a reference navigation.
	ForeignKey string
	// InverseKey names the related class's scalar pointing back at the owner
	// for a collection navigation.
	InverseKey string

	Validate string

	elem    reflect.Type
	related *Class
}

// IsNavigation reports whether the property points at another class
func (p *Property) IsNavigation() bool {
	return p.Kind == KindReference || p.Kind == KindCollection
}

// Related returns the class at the other end of a navigation, or nil
func (p *Property) Related() *Class {
	return p.related
}

// ForeignKeyProperty returns the owner's scalar holding the key of a
// reference navigation, or nil when the class declares none.
func (p *Property) ForeignKeyProperty() *Property {
	if p.Kind != KindReference || p.ForeignKey == "" {
		return nil
	}
	fk := p.Owner.Property(p.ForeignKey)
	if fk == nil || fk.Kind != KindScalar {
		return nil
	}
	return fk
}

// InverseKeyProperty returns the related class's scalar pointing back at
// the owner of a collection navigation.
func (p *Property) InverseKeyProperty() *Property {
	if p.Kind != KindCollection || p.related == nil || p.InverseKey == "" {
		return nil
	}
	inv := p.related.Property(p.InverseKey)
	if inv == nil || inv.Kind != KindScalar {
		return nil
	}
	return inv
}

// IsStoreMapped reports whether the property is persisted as a column and
// can therefore be translated into a store-level predicate.
func (p *Property) IsStoreMapped() bool {
	return !p.Unmapped && !p.IsNavigation() && p.Kind != KindDictionary
}

// IsPersistedRelation reports whether the property is a navigation to a
// class backed by the store, which makes it subject to include gating.
func (p *Property) IsPersistedRelation() bool {
	return p.IsNavigation() && p.related != nil && !p.related.External
}

// IsNullable reports whether the Go type can hold nil
func (p *Property) IsNullable() bool {
	switch p.Type.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	}
	return false
}

// BaseType is the property type with one level of pointer removed
func (p *Property) BaseType() reflect.Type {
	if p.Type.Kind() == reflect.Ptr {
		return p.Type.Elem()
	}
	return p.Type
}

// ElemType returns the element type of a collection property
func (p *Property) ElemType() reflect.Type {
	if p.Kind == KindCollection {
		return p.elem
	}
	if p.Type.Kind() == reflect.Slice {
		return p.Type.Elem()
	}
	return nil
}

// IsString reports whether the base type is a string kind
func (p *Property) IsString() bool {
	return p.BaseType().Kind() == reflect.String
}

// IsTime reports whether the base type is time.Time
func (p *Property) IsTime() bool {
	return p.BaseType() == timeType
}

// HasDefaultOrder reports whether the property carries an order declaration
func (p *Property) HasDefaultOrder() bool {
	return p.OrderPriority > 0
}

// Field returns the addressable field of a struct value. The value may be a
// pointer to the struct.
func (p *Property) Field(entity reflect.Value) reflect.Value {
	for entity.Kind() == reflect.Ptr {
		entity = entity.Elem()
	}
	return entity.FieldByIndex(p.Index)
}

// Get returns the field value of entity, which must be a pointer to the
// owner struct.
func (p *Property) Get(entity any) any {
	return p.Field(reflect.ValueOf(entity)).Interface()
}

// Set assigns value to the field of entity, converting when the types are
// convertible. A nil value zeroes the field.
func (p *Property) Set(entity any, value any) {
	f := p.Field(reflect.ValueOf(entity))
	if value == nil {
		f.Set(reflect.Zero(f.Type()))
		return
	}
	if v, ok := Coerce(reflect.ValueOf(value), f.Type()); ok {
		f.Set(v)
	}
}

// Coerce converts v to type to when the conversion preserves meaning:
// assignable types, numeric kinds, identical kinds, and one level of
// pointer wrapping or unwrapping.
func Coerce(v reflect.Value, to reflect.Type) (reflect.Value, bool) {
	if !v.IsValid() {
		return reflect.Zero(to), true
	}
	from := v.Type()
	switch {
	case from.AssignableTo(to):
		return v, true
	case convertible(from, to):
		return v.Convert(to), true
	case to.Kind() == reflect.Ptr && (from.AssignableTo(to.Elem()) || convertible(from, to.Elem())):
		ptr := reflect.New(to.Elem())
		ptr.Elem().Set(v.Convert(to.Elem()))
		return ptr, true
	case from.Kind() == reflect.Ptr:
		if v.IsNil() {
			return reflect.Zero(to), to.Kind() == reflect.Ptr || to.Kind() == reflect.Interface
		}
		return Coerce(v.Elem(), to)
	}
	return reflect.Value{}, false
}

func convertible(from, to reflect.Type) bool {
	if isNumberKind(from.Kind()) && isNumberKind(to.Kind()) {
		return true
	}
	return from.Kind() == to.Kind() && from.ConvertibleTo(to)
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Class describes one registered Go struct type
type Class struct {
	Name       string
	Type       reflect.Type
	Table      string
	Properties []*Property
	Key        *Property
	// KeyGenerated is true when the store assigns the key on insert
	KeyGenerated bool
	// External classes have no backing store and skip include gating
	External bool
	Security security.ClassSecurity

	standardIncludes    []string
	hasStandardIncludes bool
	includeSets         map[string][]string
	restrictions        map[string]security.Restriction
	byName              map[string]*Property
	registry            *Registry
	explicit            bool
}

// Property looks a property up by Go name or client name, ignoring case
func (c *Class) Property(name string) *Property {
	return c.byName[strings.ToLower(name)]
}

// New allocates a new zero entity and returns a pointer to it
func (c *Class) New() any {
	return reflect.New(c.Type).Interface()
}

// KeyOf returns the key value of entity, or nil for keyless classes
func (c *Class) KeyOf(entity any) any {
	if c.Key == nil || entity == nil {
		return nil
	}
	return c.Key.Get(entity)
}

// References returns the reference navigation properties in declaration order
func (c *Class) References() []*Property {
	var out []*Property
	for _, p := range c.Properties {
		if p.Kind == KindReference {
			out = append(out, p)
		}
	}
	return out
}

// Scalars returns the store-mapped properties in declaration order
func (c *Class) Scalars() []*Property {
	var out []*Property
	for _, p := range c.Properties {
		if p.IsStoreMapped() {
			out = append(out, p)
		}
	}
	return out
}

// StandardIncludes returns the relation paths loaded when no include set is
// requested: the declared standard includes, or one level of persisted
// reference navigations.
func (c *Class) StandardIncludes() []string {
	if c.hasStandardIncludes {
		return append([]string(nil), c.standardIncludes...)
	}
	var out []string
	for _, p := range c.References() {
		if p.IsPersistedRelation() && !p.Internal {
			out = append(out, p.Name)
		}
	}
	return out
}

// IncludeSet returns the relation paths of a named include set
func (c *Class) IncludeSet(name string) ([]string, bool) {
	paths, ok := c.includeSets[strings.ToLower(name)]
	return paths, ok
}

// Restriction resolves a restriction name declared on a property, looking at
// the class first and then at the registry.
func (c *Class) Restriction(name string) (security.Restriction, bool) {
	if r, ok := c.restrictions[strings.ToLower(name)]; ok {
		return r, true
	}
	if c.registry != nil {
		return c.registry.restriction(name)
	}
	return nil, false
}

// OrderSpec is one entry of a default ordering
type OrderSpec struct {
	Property   *Property
	Descending bool
}

// DefaultOrder returns the declared ordering, else the Name property, else
// the key. Reference properties in the result are expanded by callers into
// the related class's own default order.
func (c *Class) DefaultOrder() []OrderSpec {
	var declared []*Property
	for _, p := range c.Properties {
		if p.HasDefaultOrder() {
			declared = append(declared, p)
		}
	}
	if len(declared) > 0 {
		sortByPriority(declared)
		out := make([]OrderSpec, 0, len(declared))
		for _, p := range declared {
			out = append(out, OrderSpec{Property: p, Descending: p.OrderDesc})
		}
		return out
	}
	if p := c.byName["name"]; p != nil && p.Name == "Name" && p.IsStoreMapped() {
		return []OrderSpec{{Property: p}}
	}
	if c.Key != nil {
		return []OrderSpec{{Property: c.Key}}
	}
	return nil
}

// SearchProperties returns the declared searchable properties. Classes that
// declare none search their Name property when it is a string.
func (c *Class) SearchProperties() []*Property {
	var out []*Property
	for _, p := range c.Properties {
		if p.Search != SearchNone {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		if p := c.byName["name"]; p != nil && p.Name == "Name" && p.IsString() && !p.Internal {
			return []*Property{p}
		}
	}
	return out
}

// EffectiveSearch returns the search mode of p, defaulting to begins-with
func (p *Property) EffectiveSearch() SearchMode {
	if p.Search == SearchNone {
		return SearchBeginsWith
	}
	return p.Search
}

func sortByPriority(props []*Property) {
	for i := 1; i < len(props); i++ {
		for j := i; j > 0 && props[j].OrderPriority < props[j-1].OrderPriority; j-- {
			props[j], props[j-1] = props[j-1], props[j]
		}
	}
}

var (
	timeType            = reflect.TypeOf(time.Time{})
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// IsTextUnmarshaler reports whether values of t can be parsed by name
func IsTextUnmarshaler(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(textUnmarshalerType)
}
