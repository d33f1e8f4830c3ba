package mapping

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// mapFrom copies the readable properties of entity (a pointer) into o.
// The caller has already marked entity as visited.
func mapFrom(o *Object, class *schema.Class, entity reflect.Value, mc *Context, tree *includes.Tree) {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	raw := entity.Interface()

	for _, p := range class.Properties {
		if !mc.UserCanRead(p, raw) {
			continue
		}
		field := p.Field(entity)

		switch p.Kind {
		case schema.KindScalar, schema.KindPrimitiveCollection, schema.KindDictionary:
			o.values[p.Name] = copyScalar(field)

		case schema.KindReference:
			if field.IsNil() {
				continue
			}
			childTree, ok := relationTree(p, tree)
			if !ok {
				continue
			}
			related := field.Interface()
			if !mc.MarkVisited(related) {
				continue
			}
			nested := NewObject(p.Related())
			mapFrom(nested, p.Related(), field, mc, childTree)
			mc.Leave(related)
			o.values[p.Name] = nested

		case schema.KindCollection:
			childTree, ok := relationTree(p, tree)
			if !ok {
				continue
			}
			if field.IsNil() {
				// The relation was loaded and is empty; tell the client so.
				if tree != nil && p.IsPersistedRelation() {
					o.values[p.Name] = []*Object{}
				}
				continue
			}
			o.values[p.Name] = mapCollection(p.Related(), field, mc, childTree)
		}
	}
}

// relationTree applies include gating. Persisted relations are mapped only
// when the tree is nil or names them; external relations always are.
func relationTree(p *schema.Property, tree *includes.Tree) (*includes.Tree, bool) {
	if !p.IsPersistedRelation() {
		return nil, true
	}
	if tree == nil {
		return nil, true
	}
	child := tree.Child(p.Name)
	return child, child != nil
}

func mapCollection(related *schema.Class, field reflect.Value, mc *Context, tree *includes.Tree) []*Object {
	items := make([]any, 0, field.Len())
	for i := 0; i < field.Len(); i++ {
		item := field.Index(i)
		if item.IsNil() {
			continue
		}
		items = append(items, item.Interface())
	}
	query.Memory.Sort(items, query.DefaultOrders(related))

	out := make([]*Object, 0, len(items))
	for _, item := range items {
		if !mc.MarkVisited(item) {
			continue
		}
		nested := NewObject(related)
		mapFrom(nested, related, reflect.ValueOf(item), mc, tree)
		mc.Leave(item)
		out = append(out, nested)
	}
	return out
}

// copyScalar detaches a value from the entity: pointers are dereferenced,
// slices and maps are shallow-copied.
func copyScalar(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return copyScalar(v.Elem())
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(c, v)
		return c.Interface()
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		c := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			c.SetMapIndex(iter.Key(), iter.Value())
		}
		return c.Interface()
	}
	return v.Interface()
}

// mapTo applies the touched, writable properties of o onto entity (a pointer)
func mapTo(o *Object, class *schema.Class, entity reflect.Value, mc *Context) error {
	raw := entity.Interface()
	if h, ok := raw.(UpdateHandler); ok {
		handled, err := h.OnDtoUpdate(o, mc)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	for _, p := range class.Properties {
		if !writable(class, p) {
			continue
		}
		in, touched := o.incoming(p)
		if !touched {
			continue
		}

		if p.Kind == schema.KindReference {
			if err := mapReference(p, entity, in, mc); err != nil {
				return err
			}
			continue
		}

		val, isNull, err := convertIncoming(in, p.Type)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, p.JSONName, err)
		}
		var incomingValue any
		if !isNull {
			incomingValue = val.Interface()
		}
		if !mc.UserCanWrite(p, raw, incomingValue) {
			continue
		}

		field := p.Field(entity)
		if isNull {
			// Null on a value type means "unset": keep what the entity has.
			if !p.IsNullable() {
				continue
			}
			field.Set(reflect.Zero(field.Type()))
			continue
		}
		field.Set(val)
	}
	return nil
}

// writable filters out properties that never come from the client
func writable(class *schema.Class, p *schema.Property) bool {
	switch {
	case p.Internal, p.ReadOnly, p.Unmapped:
		return false
	case p.Kind == schema.KindCollection:
		return false
	case p.IsKey && class.KeyGenerated:
		return false
	}
	return true
}

// mapReference maps a nested relation DTO onto the existing related entity,
// or onto a fresh one when the relation is empty.
func mapReference(p *schema.Property, entity reflect.Value, in any, mc *Context) error {
	raw := entity.Interface()
	nested, isNull, err := nestedObject(in)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, p.JSONName, err)
	}
	field := p.Field(entity)

	if isNull {
		if mc.UserCanWrite(p, raw, nil) {
			field.Set(reflect.Zero(field.Type()))
		}
		return nil
	}

	target := field
	if field.IsNil() {
		target = reflect.New(field.Type().Elem())
	}
	if !mc.UserCanWrite(p, raw, target.Interface()) {
		return nil
	}
	if err := mapTo(nested, p.Related(), target, mc); err != nil {
		return err
	}
	field.Set(target)
	return nil
}

func nestedObject(in any) (*Object, bool, error) {
	switch v := in.(type) {
	case nil:
		return nil, true, nil
	case json.RawMessage:
		if string(v) == "null" {
			return nil, true, nil
		}
		var o Object
		if err := json.Unmarshal(v, &o); err != nil {
			return nil, false, err
		}
		return &o, false, nil
	}
	if o := asObject(in); o != nil {
		return o, false, nil
	}
	rv := reflect.ValueOf(in)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("expected an object, got %T", in)
}

// convertIncoming converts a client value to t. Raw JSON is decoded;
// Go values are coerced.
func convertIncoming(in any, t reflect.Type) (reflect.Value, bool, error) {
	switch v := in.(type) {
	case nil:
		return reflect.Value{}, true, nil
	case json.RawMessage:
		if string(v) == "null" {
			return reflect.Value{}, true, nil
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(v, ptr.Interface()); err != nil {
			return reflect.Value{}, false, err
		}
		return ptr.Elem(), false, nil
	}

	rv := reflect.ValueOf(in)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return reflect.Value{}, true, nil
	}
	out, ok := schema.Coerce(rv, t)
	if !ok {
		return reflect.Value{}, false, fmt.Errorf("cannot convert %T to %s", in, t)
	}
	return out, false, nil
}
