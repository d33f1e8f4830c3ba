package store

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
)

// SessionFactory opens a unit of work for one request
type SessionFactory func(ctx context.Context) (Store, error)

// KeyString normalizes a key value for identity maps. Numeric keys compare
// across integer widths and pointer wrapping. The boolean is false for nil
// and zero values, which never identify a stored row.
func KeyString(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.IsZero() {
		return "", false
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), true
	case reflect.String:
		return rv.String(), true
	}
	return fmt.Sprint(rv.Interface()), true
}
