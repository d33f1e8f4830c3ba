package sqlstore

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	valuerType  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

// timeLayouts are the text forms drivers hand back for time columns
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// encode converts a property value into a driver argument
func encode(p *schema.Property, v any) (any, error) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, nil
	}

	if p != nil && p.Kind == schema.KindPrimitiveCollection {
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		b, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", p.Name, err)
		}
		return string(b), nil
	}
	return encodeScalar(rv), nil
}

// encodeScalar reduces named types to the basic kinds every driver accepts
func encodeScalar(rv reflect.Value) any {
	if rv.Type().Implements(valuerType) {
		return rv.Interface()
	}
	if t, ok := rv.Interface().(time.Time); ok {
		return t.UTC()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes()
		}
	}
	if m, ok := rv.Interface().(encoding.TextMarshaler); ok {
		if b, err := m.MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(rv.Interface())
}

// decode assigns a scanned driver value to the property of entity
func decode(p *schema.Property, entity reflect.Value, raw any) error {
	field := p.Field(entity)
	if p.Kind == schema.KindPrimitiveCollection {
		return decodeJSON(field, raw)
	}
	if err := assign(field, raw); err != nil {
		return fmt.Errorf("decode %s.%s: %w", p.Owner.Name, p.Name, err)
	}
	return nil
}

func decodeJSON(field reflect.Value, raw any) error {
	var text []byte
	switch v := raw.(type) {
	case nil:
		field.Set(reflect.Zero(field.Type()))
		return nil
	case []byte:
		text = v
	case string:
		text = []byte(v)
	default:
		return fmt.Errorf("cannot decode %T as a JSON list", raw)
	}
	target := reflect.New(field.Type())
	if err := json.Unmarshal(text, target.Interface()); err != nil {
		return err
	}
	field.Set(target.Elem())
	return nil
}

func assign(field reflect.Value, raw any) error {
	if raw == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if field.Kind() == reflect.Ptr {
		target := reflect.New(field.Type().Elem())
		if err := assign(target.Elem(), raw); err != nil {
			return err
		}
		field.Set(target)
		return nil
	}
	if field.Addr().Type().Implements(scannerType) {
		return field.Addr().Interface().(sql.Scanner).Scan(raw)
	}

	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}

	switch {
	case field.Type() == timeType:
		t, err := parseTime(raw)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t))
		return nil
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.Uint8:
		switch v := raw.(type) {
		case []byte:
			field.SetBytes(append([]byte(nil), v...))
		case string:
			field.SetBytes([]byte(v))
		default:
			return fmt.Errorf("cannot assign %T to bytes", raw)
		}
		return nil
	}

	text, isText := asText(raw)
	switch field.Kind() {
	case reflect.String:
		if isText {
			field.SetString(text)
		} else {
			field.SetString(fmt.Sprint(raw))
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if isText {
			n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(n)
			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if isText {
			n, err := strconv.ParseUint(strings.TrimSpace(text), 10, 64)
			if err != nil {
				return err
			}
			field.SetUint(n)
			return nil
		}
	case reflect.Float32, reflect.Float64:
		if isText {
			f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if err != nil {
				return err
			}
			field.SetFloat(f)
			return nil
		}
	case reflect.Bool:
		switch {
		case isText:
			b, err := strconv.ParseBool(strings.TrimSpace(text))
			if err != nil {
				return err
			}
			field.SetBool(b)
			return nil
		case rv.Kind() == reflect.Int64:
			field.SetBool(rv.Int() != 0)
			return nil
		}
	}

	if isText && field.Addr().Type().Implements(reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()) {
		return field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(text))
	}
	if v, ok := schema.Coerce(rv, field.Type()); ok {
		field.Set(v)
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", raw, field.Type())
}

func asText(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func parseTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	text, ok := asText(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("cannot assign %T to time", raw)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", text)
}
