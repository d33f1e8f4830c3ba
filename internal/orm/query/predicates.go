// Package query is the store-agnostic description of a data source query:
// predicates over property paths, ordering, paging and the include tree.
// Stores translate it into their own language; Evaluator runs it in memory.
package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpIsNull
	OpIsNotNull
	// OpStartsWith is a case-insensitive prefix match on strings
	OpStartsWith
	// OpContains is a case-insensitive substring match on strings
	OpContains
	// OpContainsAll matches primitive collections holding every value of a []any
	OpContainsAll
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpStartsWith:
		return "STARTS WITH"
	case OpContains:
		return "CONTAINS"
	case OpContainsAll:
		return "CONTAINS ALL"
	default:
		return "UNKNOWN"
	}
}

// Path is a chain of properties starting at the query's class. Every
// segment but the last is a reference navigation.
type Path []*schema.Property

// String joins the property names with dots
func (p Path) String() string {
	names := make([]string, len(p))
	for i, prop := range p {
		names[i] = prop.Name
	}
	return strings.Join(names, ".")
}

// Last returns the final property of the path
func (p Path) Last() *schema.Property {
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

// ResolvePath walks a dotted property path from c. Only reference
// navigations may appear before the last segment.
func ResolvePath(c *schema.Class, dotted string) (Path, error) {
	var path Path
	current := c
	segs := strings.Split(dotted, ".")
	for i, seg := range segs {
		if current == nil {
			return nil, fmt.Errorf("%q: %q cannot be navigated", dotted, segs[i-1])
		}
		p := current.Property(strings.TrimSpace(seg))
		if p == nil {
			return nil, fmt.Errorf("%q: unknown property %q on %s", dotted, seg, current.Name)
		}
		path = append(path, p)
		if i < len(segs)-1 {
			if p.Kind != schema.KindReference {
				return nil, fmt.Errorf("%q: %q is not a reference navigation", dotted, seg)
			}
			current = p.Related()
		}
	}
	return path, nil
}

// MustResolvePath is ResolvePath for paths known at compile time. It panics
// when the path does not resolve.
func MustResolvePath(c *schema.Class, dotted string) Path {
	path, err := ResolvePath(c, dotted)
	if err != nil {
		panic(err)
	}
	return path
}

// Condition represents a single comparison against a property path
type Condition struct {
	Path     Path
	Operator Operator
	Value    any
}

// Field returns the dotted path of the condition
func (c *Condition) Field() string {
	return c.Path.String()
}

// Where builds a condition on a path
func Where(path Path, op Operator, value any) *Condition {
	return &Condition{Path: path, Operator: op, Value: value}
}

// PredicateGroup represents a group of predicates combined with AND/OR
type PredicateGroup struct {
	Conditions []*Condition
	Groups     []*PredicateGroup
	Or         bool // true for OR, false for AND
}

// NewPredicateGroup creates a new predicate group
func NewPredicateGroup(or bool) *PredicateGroup {
	return &PredicateGroup{
		Conditions: make([]*Condition, 0),
		Groups:     make([]*PredicateGroup, 0),
		Or:         or,
	}
}

// And creates an AND group of conditions
func And(conds ...*Condition) *PredicateGroup {
	g := NewPredicateGroup(false)
	g.Conditions = append(g.Conditions, conds...)
	return g
}

// Or creates an OR group of conditions
func Or(conds ...*Condition) *PredicateGroup {
	g := NewPredicateGroup(true)
	g.Conditions = append(g.Conditions, conds...)
	return g
}

// AddCondition adds a condition to the group
func (pg *PredicateGroup) AddCondition(cond *Condition) {
	pg.Conditions = append(pg.Conditions, cond)
}

// AddGroup adds a nested group
func (pg *PredicateGroup) AddGroup(group *PredicateGroup) {
	pg.Groups = append(pg.Groups, group)
}

// IsEmpty reports whether the group has no predicates at any depth
func (pg *PredicateGroup) IsEmpty() bool {
	if pg == nil {
		return true
	}
	if len(pg.Conditions) > 0 {
		return false
	}
	for _, g := range pg.Groups {
		if !g.IsEmpty() {
			return false
		}
	}
	return true
}

// Clone copies the group tree; conditions are shared since they are never mutated
func (pg *PredicateGroup) Clone() *PredicateGroup {
	if pg == nil {
		return nil
	}
	c := &PredicateGroup{
		Conditions: append([]*Condition(nil), pg.Conditions...),
		Or:         pg.Or,
	}
	for _, g := range pg.Groups {
		c.Groups = append(c.Groups, g.Clone())
	}
	return c
}

// String renders the group for logs and debugging
func (pg *PredicateGroup) String() string {
	if pg.IsEmpty() {
		return ""
	}
	parts := make([]string, 0, len(pg.Conditions)+len(pg.Groups))
	for _, c := range pg.Conditions {
		switch c.Operator {
		case OpIsNull, OpIsNotNull:
			parts = append(parts, fmt.Sprintf("%s %s", c.Field(), c.Operator))
		default:
			parts = append(parts, fmt.Sprintf("%s %s %v", c.Field(), c.Operator, c.Value))
		}
	}
	for _, g := range pg.Groups {
		if s := g.String(); s != "" {
			parts = append(parts, "("+s+")")
		}
	}
	connector := " AND "
	if pg.Or {
		connector = " OR "
	}
	return strings.Join(parts, connector)
}
