package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// Order is one ordering clause over a property path
type Order struct {
	Path       Path
	Descending bool
}

// String renders "Path ASC|DESC"
func (o Order) String() string {
	dir := "ASC"
	if o.Descending {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s", o.Path, dir)
}

// Query describes what a data source wants from a store
type Query struct {
	Class    *schema.Class
	Where    *PredicateGroup
	Orders   []Order
	Skip     int
	Take     int // 0 means no limit
	Includes *includes.Tree
}

// New creates an unfiltered, unordered query for c with no includes
func New(c *schema.Class) *Query {
	return &Query{
		Class:    c,
		Where:    NewPredicateGroup(false),
		Includes: includes.New(),
	}
}

// Clone returns an independent copy
func (q *Query) Clone() *Query {
	c := *q
	c.Where = q.Where.Clone()
	c.Orders = append([]Order(nil), q.Orders...)
	c.Includes = q.Includes.Clone()
	return &c
}

// Filter ANDs the conditions onto the query
func (q *Query) Filter(conds ...*Condition) *Query {
	for _, c := range conds {
		q.Where.AddCondition(c)
	}
	return q
}

// FilterGroup ANDs a nested group onto the query
func (q *Query) FilterGroup(g *PredicateGroup) *Query {
	if !g.IsEmpty() {
		q.Where.AddGroup(g)
	}
	return q
}

// OrderBy appends ordering clauses
func (q *Query) OrderBy(orders ...Order) *Query {
	q.Orders = append(q.Orders, orders...)
	return q
}

// IsOrdered reports whether any ordering was applied
func (q *Query) IsOrdered() bool {
	return len(q.Orders) > 0
}

// Page limits the result window
func (q *Query) Page(skip, take int) *Query {
	q.Skip = skip
	q.Take = take
	return q
}

// Include adds dotted relation paths to the include tree
func (q *Query) Include(paths ...string) *Query {
	for _, p := range paths {
		q.Includes.AddPath(p)
	}
	return q
}

// ForCount returns a copy without ordering or paging
func (q *Query) ForCount() *Query {
	c := q.Clone()
	c.Orders = nil
	c.Skip, c.Take = 0, 0
	return c
}

// String renders the query for logs
func (q *Query) String() string {
	var b strings.Builder
	b.WriteString(q.Class.Name)
	if w := q.Where.String(); w != "" {
		b.WriteString(" WHERE ")
		b.WriteString(w)
	}
	if len(q.Orders) > 0 {
		parts := make([]string, len(q.Orders))
		for i, o := range q.Orders {
			parts[i] = o.String()
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if q.Take > 0 {
		fmt.Fprintf(&b, " LIMIT %d OFFSET %d", q.Take, q.Skip)
	}
	if q.Includes.Len() > 0 {
		b.WriteString(" INCLUDE ")
		b.WriteString(q.Includes.String())
	}
	return b.String()
}
