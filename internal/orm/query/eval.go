package query

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// Navigator resolves a reference navigation of owner (a pointer to the
// owning struct) and returns the related pointer, which may be nil.
type Navigator func(p *schema.Property, owner reflect.Value) reflect.Value

// FollowPointers navigates by reading the navigation field itself
func FollowPointers(p *schema.Property, owner reflect.Value) reflect.Value {
	return p.Field(owner)
}

// Evaluator runs predicates and orderings against in-memory entities.
// Null navigations behave like a SQL LEFT JOIN: every comparison against
// them is false except IS NULL.
type Evaluator struct {
	Navigate Navigator
}

// Memory is the evaluator for fully materialized object graphs
var Memory = Evaluator{Navigate: FollowPointers}

// Value resolves path on entity. The boolean is false when the value or a
// navigation along the way is nil.
func (e Evaluator) Value(entity any, path Path) (any, bool) {
	nav := e.Navigate
	if nav == nil {
		nav = FollowPointers
	}
	current := reflect.ValueOf(entity)
	for i, p := range path {
		if current.Kind() == reflect.Ptr && current.IsNil() {
			return nil, false
		}
		if i < len(path)-1 {
			current = nav(p, current)
			continue
		}
		f := p.Field(current)
		if isNil(f) {
			return nil, false
		}
		for f.Kind() == reflect.Ptr {
			f = f.Elem()
		}
		return f.Interface(), true
	}
	return nil, false
}

// Match reports whether entity satisfies the group. An empty group matches.
func (e Evaluator) Match(entity any, g *PredicateGroup) bool {
	if g.IsEmpty() {
		return true
	}
	results := make([]bool, 0, len(g.Conditions)+len(g.Groups))
	for _, c := range g.Conditions {
		results = append(results, e.matchCondition(entity, c))
	}
	for _, sub := range g.Groups {
		if sub.IsEmpty() {
			continue
		}
		results = append(results, e.Match(entity, sub))
	}
	for _, r := range results {
		if g.Or && r {
			return true
		}
		if !g.Or && !r {
			return false
		}
	}
	return !g.Or
}

func (e Evaluator) matchCondition(entity any, c *Condition) bool {
	v, ok := e.Value(entity, c.Path)
	switch c.Operator {
	case OpIsNull:
		return !ok
	case OpIsNotNull:
		return ok
	}
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEqual:
		return Compare(v, c.Value) == 0
	case OpNotEqual:
		return Compare(v, c.Value) != 0
	case OpGreaterThan:
		return Compare(v, c.Value) > 0
	case OpGreaterThanOrEqual:
		return Compare(v, c.Value) >= 0
	case OpLessThan:
		return Compare(v, c.Value) < 0
	case OpLessThanOrEqual:
		return Compare(v, c.Value) <= 0
	case OpIn, OpNotIn:
		found := false
		for _, candidate := range Values(c.Value) {
			if Compare(v, candidate) == 0 {
				found = true
				break
			}
		}
		return found == (c.Operator == OpIn)
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(c.Value)))
	case OpContains:
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(c.Value)))
	case OpContainsAll:
		have := Values(v)
		if len(have) == 0 {
			return false
		}
		for _, want := range Values(c.Value) {
			found := false
			for _, h := range have {
				if Compare(h, want) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	return false
}

// Filter returns the entities matching g, preserving order
func (e Evaluator) Filter(entities []any, g *PredicateGroup) []any {
	out := make([]any, 0, len(entities))
	for _, entity := range entities {
		if e.Match(entity, g) {
			out = append(out, entity)
		}
	}
	return out
}

// Sort orders entities in place. The sort is stable so ties and an empty
// ordering keep the incoming order. Nulls sort first.
func (e Evaluator) Sort(entities []any, orders []Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(entities, func(i, j int) bool {
		for _, o := range orders {
			a, aok := e.Value(entities[i], o.Path)
			b, bok := e.Value(entities[j], o.Path)
			var cmp int
			switch {
			case !aok && !bok:
				cmp = 0
			case !aok:
				cmp = -1
			case !bok:
				cmp = 1
			default:
				cmp = Compare(a, b)
			}
			if o.Descending {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

// Window applies skip and take to an already filtered and sorted slice
func Window(entities []any, skip, take int) []any {
	if skip >= len(entities) {
		return []any{}
	}
	if skip > 0 {
		entities = entities[skip:]
	}
	if take > 0 && take < len(entities) {
		entities = entities[:take]
	}
	return entities
}

// Compare orders two scalar values. Numbers compare across kinds, times by
// instant, byte arrays (such as UUIDs) bytewise, everything else by its
// string form.
func Compare(a, b any) int {
	av, bv := deref(reflect.ValueOf(a)), deref(reflect.ValueOf(b))
	if !av.IsValid() || !bv.IsValid() {
		switch {
		case !av.IsValid() && !bv.IsValid():
			return 0
		case !av.IsValid():
			return -1
		default:
			return 1
		}
	}

	if at, ok := av.Interface().(time.Time); ok {
		if bt, ok := bv.Interface().(time.Time); ok {
			return at.Compare(bt)
		}
	}

	switch {
	case isInt(av.Kind()) && isInt(bv.Kind()):
		return cmpOrdered(av.Int(), bv.Int())
	case isUint(av.Kind()) && isUint(bv.Kind()):
		return cmpOrdered(av.Uint(), bv.Uint())
	case isNumeric(av.Kind()) && isNumeric(bv.Kind()):
		return cmpOrdered(toFloat(av), toFloat(bv))
	case av.Kind() == reflect.String && bv.Kind() == reflect.String:
		return strings.Compare(av.String(), bv.String())
	case av.Kind() == reflect.Bool && bv.Kind() == reflect.Bool:
		return cmpOrdered(boolInt(av.Bool()), boolInt(bv.Bool()))
	case av.Kind() == reflect.Array && bv.Kind() == reflect.Array &&
		av.Type().Elem().Kind() == reflect.Uint8 && av.Type() == bv.Type():
		return bytes.Compare(arrayBytes(av), arrayBytes(bv))
	}
	return strings.Compare(fmt.Sprint(av.Interface()), fmt.Sprint(bv.Interface()))
}

type ordered interface {
	~int64 | ~uint64 | ~float64 | ~int
}

func cmpOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
		return v.IsNil()
	}
	return false
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isNumeric(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || k == reflect.Float32 || k == reflect.Float64
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isInt(v.Kind()):
		return float64(v.Int())
	case isUint(v.Kind()):
		return float64(v.Uint())
	default:
		return v.Float()
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func arrayBytes(v reflect.Value) []byte {
	out := make([]byte, v.Len())
	for i := range out {
		out[i] = byte(v.Index(i).Uint())
	}
	return out
}

// Values flattens a slice value into []any; scalars become a one-item slice.
// Byte arrays such as UUIDs count as scalars.
func Values(v any) []any {
	if items, ok := v.([]any); ok {
		return items
	}
	rv := deref(reflect.ValueOf(v))
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
