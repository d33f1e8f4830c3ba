package schema

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/conduit-lang/crudkit/internal/orm/security"
	ustrings "github.com/conduit-lang/crudkit/internal/util/strings"
)

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// buildClass reflects over a struct type and produces its class description.
// Navigation targets are linked afterwards by the registry.
func buildClass(t reflect.Type) (*Class, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrInvalidType, t)
	}

	c := &Class{
		Name:         t.Name(),
		Type:         t,
		Table:        ustrings.TableName(t.Name()),
		includeSets:  make(map[string][]string),
		restrictions: make(map[string]security.Restriction),
		byName:       make(map[string]*Property),
	}

	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous || throughPointer(t, f.Index) {
			continue
		}
		opts := parseTag(f.Tag.Get(TagName))
		if opts.skip {
			continue
		}

		p, err := buildProperty(c, f, opts)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Name, f.Name, err)
		}
		c.Properties = append(c.Properties, p)
		c.byName[strings.ToLower(p.Name)] = p
		if _, taken := c.byName[strings.ToLower(p.JSONName)]; !taken {
			c.byName[strings.ToLower(p.JSONName)] = p
		}
	}

	if err := resolveKey(c); err != nil {
		return nil, err
	}
	return c, nil
}

func buildProperty(c *Class, f reflect.StructField, opts tagOptions) (*Property, error) {
	p := &Property{
		Owner:  c,
		Name:   f.Name,
		Type:   f.Type,
		Index:  f.Index,
		Column: ustrings.ToSnakeCase(f.Name),
	}

	p.JSONName = ustrings.ToLowerCamel(f.Name)
	if tag, ok := f.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		switch name {
		case "-":
			p.Internal = true
		case "":
		default:
			p.JSONName = name
		}
	}
	if col := f.Tag.Get("db"); col != "" && col != "-" {
		p.Column = col
	} else if col == "-" {
		p.Unmapped = true
	}
	p.Validate = f.Tag.Get("validate")

	p.Kind, p.elem = classify(f.Type)
	if err := opts.apply(p); err != nil {
		return nil, err
	}

	switch p.Kind {
	case KindReference:
		if p.ForeignKey == "" {
			p.ForeignKey = p.Name + "ID"
		}
	case KindCollection:
		if p.InverseKey == "" {
			p.InverseKey = c.Name + "ID"
		}
	}
	return p, nil
}

// classify derives the property kind from its Go type
func classify(t reflect.Type) (PropertyKind, reflect.Type) {
	switch t.Kind() {
	case reflect.Ptr:
		if isEntityStruct(t.Elem()) {
			return KindReference, t.Elem()
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return KindScalar, nil
		}
		if t.Elem().Kind() == reflect.Ptr && isEntityStruct(t.Elem().Elem()) {
			return KindCollection, t.Elem().Elem()
		}
		return KindPrimitiveCollection, nil
	case reflect.Map:
		return KindDictionary, nil
	}
	return KindScalar, nil
}

// isEntityStruct distinguishes related entities from struct-valued scalars
// such as time.Time or sql.NullString.
func isEntityStruct(t reflect.Type) bool {
	if t.Kind() != reflect.Struct || t == timeType {
		return false
	}
	return !reflect.PointerTo(t).Implements(scannerType) && !IsTextUnmarshaler(t)
}

func throughPointer(t reflect.Type, index []int) bool {
	for i := 0; i < len(index)-1; i++ {
		f := t.Field(index[i])
		if f.Type.Kind() == reflect.Ptr {
			return true
		}
		t = f.Type
	}
	return false
}

// resolveKey finds the primary key: an explicit `key` option, else a field
// named ID, else <Type>ID. Classes without a key are external.
func resolveKey(c *Class) error {
	var key *Property
	for _, p := range c.Properties {
		if p.IsKey {
			if key != nil {
				return fmt.Errorf("%w: %s declares more than one key", ErrInvalidType, c.Name)
			}
			key = p
		}
	}
	if key == nil {
		for _, name := range []string{"ID", c.Name + "ID"} {
			for _, p := range c.Properties {
				if strings.EqualFold(p.Name, name) && p.Kind == KindScalar {
					key = p
					break
				}
			}
			if key != nil {
				break
			}
		}
	}
	if key == nil {
		c.External = true
		return nil
	}

	key.IsKey = true
	c.Key = key
	opts := parseTag(fieldTag(c.Type, key.Index))
	switch {
	case opts.has("generated"):
		c.KeyGenerated = true
	case opts.has("assigned"):
		c.KeyGenerated = false
	default:
		c.KeyGenerated = isNumberKind(key.BaseType().Kind())
	}
	return nil
}

func fieldTag(t reflect.Type, index []int) string {
	return t.FieldByIndex(index).Tag.Get(TagName)
}
