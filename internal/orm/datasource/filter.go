package datasource

import (
	"context"
	"encoding"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// ApplyListFiltering adds one predicate per filter entry. Entries naming an
// unknown, internal, unmapped, unreadable or restricted property are skipped
// without error, as are entries with an empty or unparseable value.
func (ds *StandardDataSource[T]) ApplyListFiltering(ctx context.Context, q *query.Query, p Parameters) *query.Query {
	if len(p.Filter) == 0 {
		return q
	}
	mc := ds.mappingContext(ctx, p)
	tz := ds.timeZone(p)

	names := make([]string, 0, len(p.Filter))
	for name := range p.Filter {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := p.Filter[name]
		prop, reason := ds.filterProperty(mc, name)
		if prop == nil {
			ds.logger.Debug("filter skipped",
				zap.String("class", ds.class.Name),
				zap.String("property", name),
				zap.String("reason", reason),
			)
			continue
		}
		if g := filterPredicate(prop, value, tz); g != nil {
			q.FilterGroup(g)
		}
	}
	return q
}

// filterProperty resolves a filter key, returning nil and the reason when
// the property may not be filtered on
func (ds *StandardDataSource[T]) filterProperty(mc *mapping.Context, name string) (*schema.Property, string) {
	prop := ds.class.Property(strings.TrimSpace(name))
	switch {
	case prop == nil:
		return nil, "unknown property"
	case prop.Internal:
		return nil, "internal property"
	case !prop.IsStoreMapped():
		return nil, "not store mapped"
	case !mc.UserCanFilter(prop):
		return nil, "not authorized"
	}
	return prop, ""
}

// filterPredicate builds the predicate for one filter value. It returns nil
// when the value filters nothing.
func filterPredicate(prop *schema.Property, value string, tz *time.Location) *query.PredicateGroup {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	path := query.Path{prop}

	if value == "null" && (prop.IsNullable() || !prop.IsString()) {
		return query.And(query.Where(path, query.OpIsNull, nil))
	}

	switch {
	case prop.Kind == schema.KindPrimitiveCollection:
		elem := prop.ElemType()
		var want []any
		for _, part := range splitList(value) {
			if v, ok := parseScalar(elem, part); ok {
				want = append(want, v)
			}
		}
		if len(want) == 0 {
			return nil
		}
		return query.And(query.Where(path, query.OpContainsAll, want))

	case prop.IsTime():
		return dateFilter(prop, value, tz)

	case prop.IsString():
		if prefix, ok := strings.CutSuffix(value, "*"); ok {
			return query.And(query.Where(path, query.OpStartsWith, prefix))
		}
		return query.And(query.Where(path, query.OpEqual, value))
	}

	var values []any
	for _, part := range splitList(value) {
		if v, ok := parseScalar(prop.BaseType(), part); ok {
			values = append(values, v)
		}
	}
	switch len(values) {
	case 0:
		return nil
	case 1:
		return query.And(query.Where(path, query.OpEqual, values[0]))
	}
	return query.And(query.Where(path, query.OpIn, values))
}

// dateFilter matches a time property. A date without a time of day on a
// date+time property matches the half-open day [date, date+1d) in tz.
func dateFilter(prop *schema.Property, value string, tz *time.Location) *query.PredicateGroup {
	path := query.Path{prop}
	loc := tz
	if prop.DateOnly {
		loc = time.UTC
	}

	if !strings.Contains(value, ":") {
		if day, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
			if prop.DateOnly {
				return query.And(query.Where(path, query.OpEqual, day))
			}
			return query.And(
				query.Where(path, query.OpGreaterThanOrEqual, day),
				query.Where(path, query.OpLessThan, day.AddDate(0, 0, 1)),
			)
		}
	}

	t, ok := parseTime(value, loc)
	if !ok {
		return nil
	}
	return query.And(query.Where(path, query.OpEqual, t))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"01/02/2006",
}

func parseTime(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// splitList splits a comma-separated filter value, trimming whitespace and
// dropping empty entries
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// parseScalar parses s into a value of type t. Types implementing
// encoding.TextUnmarshaler (UUIDs, named enums) parse by text first;
// integer enums also accept their numeric value.
func parseScalar(t reflect.Type, s string) (any, bool) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		ptr := reflect.New(t)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err == nil {
			return ptr.Elem().Interface(), true
		}
	}

	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, false
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return nil, false
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return nil, false
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return nil, false
		}
		v.SetFloat(f)
	case reflect.Struct:
		if t == reflect.TypeOf(time.Time{}) {
			tm, ok := parseTime(s, time.UTC)
			if !ok {
				return nil, false
			}
			return tm, true
		}
		return nil, false
	default:
		return nil, false
	}
	return v.Interface(), true
}
