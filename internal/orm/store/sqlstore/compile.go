package sqlstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
)

const rootAlias = "t0"

// selectQuery compiles the store-agnostic query model into one SELECT.
// Reference navigations along filter and order paths become LEFT JOINs,
// one per distinct path prefix, so a null navigation behaves like null.
type selectQuery struct {
	class   *schema.Class
	sb      *sqlbuilder.SelectBuilder
	aliases map[string]string
}

func newSelect(flavor sqlbuilder.Flavor, class *schema.Class) *selectQuery {
	sb := flavor.NewSelectBuilder()
	sb.From(class.Table + " " + rootAlias)
	return &selectQuery{class: class, sb: sb, aliases: make(map[string]string)}
}

// selectColumns selects every store-mapped column of the root class
func (s *selectQuery) selectColumns() {
	props := s.class.Scalars()
	cols := make([]string, len(props))
	for i, p := range props {
		cols[i] = rootAlias + "." + p.Column
	}
	s.sb.Select(cols...)
}

// column resolves a property path to an aliased column, adding joins
func (s *selectQuery) column(path query.Path) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("%w: empty path", store.ErrUnsupported)
	}
	alias := rootAlias
	prefix := ""
	for _, p := range path[:len(path)-1] {
		fk := p.ForeignKeyProperty()
		if p.Kind != schema.KindReference || !p.IsPersistedRelation() || fk == nil || p.Related().Key == nil {
			return "", fmt.Errorf("%w: cannot join %s.%s", store.ErrUnsupported, p.Owner.Name, p.Name)
		}
		prefix += "." + p.Name
		next, ok := s.aliases[prefix]
		if !ok {
			next = fmt.Sprintf("t%d", len(s.aliases)+1)
			related := p.Related()
			s.sb.JoinWithOption(sqlbuilder.LeftJoin, related.Table+" "+next,
				fmt.Sprintf("%s.%s = %s.%s", next, related.Key.Column, alias, fk.Column))
			s.aliases[prefix] = next
		}
		alias = next
	}

	last := path.Last()
	if !last.IsStoreMapped() {
		return "", fmt.Errorf("%w: %s is not a column", store.ErrUnsupported, path)
	}
	return alias + "." + last.Column, nil
}

// where compiles a predicate group; an empty group yields ""
func (s *selectQuery) where(g *query.PredicateGroup) (string, error) {
	if g.IsEmpty() {
		return "", nil
	}
	var exprs []string
	for _, c := range g.Conditions {
		expr, err := s.condition(c)
		if err != nil {
			return "", err
		}
		exprs = append(exprs, expr)
	}
	for _, sub := range g.Groups {
		expr, err := s.where(sub)
		if err != nil {
			return "", err
		}
		if expr != "" {
			exprs = append(exprs, expr)
		}
	}
	switch {
	case len(exprs) == 0:
		return "", nil
	case len(exprs) == 1:
		return exprs[0], nil
	case g.Or:
		return s.sb.Or(exprs...), nil
	default:
		return s.sb.And(exprs...), nil
	}
}

func (s *selectQuery) condition(c *query.Condition) (string, error) {
	col, err := s.column(c.Path)
	if err != nil {
		return "", err
	}
	p := c.Path.Last()
	sb := s.sb

	switch c.Operator {
	case query.OpIsNull:
		return sb.IsNull(col), nil
	case query.OpIsNotNull:
		return sb.IsNotNull(col), nil
	case query.OpIn, query.OpNotIn:
		values, err := encodeList(p, c.Value)
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			if c.Operator == query.OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		if c.Operator == query.OpIn {
			return sb.In(col, values...), nil
		}
		return sb.NotIn(col, values...), nil
	case query.OpStartsWith:
		pattern := escapeLike(strings.ToLower(fmt.Sprint(c.Value))) + "%"
		return fmt.Sprintf("LOWER(%s) LIKE %s ESCAPE '\\'", col, sb.Var(pattern)), nil
	case query.OpContains:
		pattern := "%" + escapeLike(strings.ToLower(fmt.Sprint(c.Value))) + "%"
		return fmt.Sprintf("LOWER(%s) LIKE %s ESCAPE '\\'", col, sb.Var(pattern)), nil
	case query.OpContainsAll:
		return s.containsAll(col, c.Value)
	}

	if c.Value == nil {
		switch c.Operator {
		case query.OpEqual:
			return sb.IsNull(col), nil
		case query.OpNotEqual:
			return sb.IsNotNull(col), nil
		}
	}
	v, err := encode(scalarOf(p), c.Value)
	if err != nil {
		return "", err
	}
	switch c.Operator {
	case query.OpEqual:
		return sb.Equal(col, v), nil
	case query.OpNotEqual:
		return sb.NotEqual(col, v), nil
	case query.OpGreaterThan:
		return sb.GreaterThan(col, v), nil
	case query.OpGreaterThanOrEqual:
		return sb.GreaterEqualThan(col, v), nil
	case query.OpLessThan:
		return sb.LessThan(col, v), nil
	case query.OpLessThanOrEqual:
		return sb.LessEqualThan(col, v), nil
	}
	return "", fmt.Errorf("%w: operator %s", store.ErrUnsupported, c.Operator)
}

// containsAll matches JSON list columns holding every value. The list text
// is turned into ",a,b," so each element can be matched with its
// delimiters.
func (s *selectQuery) containsAll(col string, value any) (string, error) {
	values := query.Values(value)
	if len(values) == 0 {
		return s.sb.IsNotNull(col), nil
	}
	exprs := make([]string, 0, len(values))
	for _, v := range values {
		elem, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		pattern := "%," + escapeLike(string(elem)) + ",%"
		exprs = append(exprs, fmt.Sprintf("(',' || SUBSTR(%s, 2, LENGTH(%s) - 2) || ',') LIKE %s ESCAPE '\\'",
			col, col, s.sb.Var(pattern)))
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return s.sb.And(exprs...), nil
}

// orderBy appends ORDER BY clauses; with no orders the key keeps results
// in insertion order for generated keys
func (s *selectQuery) orderBy(orders []query.Order) error {
	if len(orders) == 0 {
		if s.class.Key != nil {
			s.sb.OrderBy(rootAlias + "." + s.class.Key.Column + " ASC")
		}
		return nil
	}
	for _, o := range orders {
		col, err := s.column(o.Path)
		if err != nil {
			return err
		}
		dir := " ASC"
		if o.Descending {
			dir = " DESC"
		}
		s.sb.OrderBy(col + dir)
	}
	return nil
}

// scalarOf returns p unless it is a primitive collection, whose elements
// are compared one at a time
func scalarOf(p *schema.Property) *schema.Property {
	if p.Kind == schema.KindPrimitiveCollection {
		return nil
	}
	return p
}

func encodeList(p *schema.Property, value any) ([]any, error) {
	items := query.Values(value)
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := encode(scalarOf(p), item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
