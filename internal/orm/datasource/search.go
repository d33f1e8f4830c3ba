package datasource

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// ApplyListSearchTerm restricts q to items matching the free-text search.
//
// A "field:term" search targets one searchable property. When that property
// is unknown, unsearchable or not visible to the user, the whole original
// string is searched against every searchable property instead. Otherwise
// properties that split on whitespace must match every word (each word may
// match any of them), and properties that do not split match the whole term.
func (ds *StandardDataSource[T]) ApplyListSearchTerm(ctx context.Context, q *query.Query, p Parameters) *query.Query {
	term := strings.TrimSpace(p.Search)
	if term == "" {
		return q
	}
	mc := ds.mappingContext(ctx, p)

	var props []*schema.Property
	for _, prop := range ds.class.SearchProperties() {
		if mc.UserCanFilter(prop) {
			props = append(props, prop)
		}
	}

	if field, rest, ok := strings.Cut(term, ":"); ok {
		rest = strings.TrimSpace(rest)
		if target := findSearchProperty(props, strings.TrimSpace(field)); target != nil && rest != "" {
			props, term = []*schema.Property{target}, rest
		} else {
			ds.logger.Debug("search target ignored",
				zap.String("class", ds.class.Name),
				zap.String("field", field),
			)
		}
	}

	if len(props) == 0 {
		return q
	}

	root := query.NewPredicateGroup(true)
	var split []*schema.Property
	for _, prop := range props {
		if !prop.SplitOnSpaces {
			for _, c := range searchConditions(mc, nil, prop, term) {
				root.AddCondition(c)
			}
			continue
		}
		split = append(split, prop)
	}

	if words := strings.Fields(term); len(split) > 0 && len(words) > 0 {
		all := query.NewPredicateGroup(false)
		for _, word := range words {
			either := query.NewPredicateGroup(true)
			for _, prop := range split {
				for _, c := range searchConditions(mc, nil, prop, word) {
					either.AddCondition(c)
				}
			}
			if either.IsEmpty() {
				// One word that no property can match fails the whole search.
				all = nil
				break
			}
			all.AddGroup(either)
		}
		if all != nil {
			root.AddGroup(all)
		}
	}

	if root.IsEmpty() {
		return q.Filter(query.Where(query.Path{ds.class.Key}, query.OpIn, []any{}))
	}
	return q.FilterGroup(root)
}

func findSearchProperty(props []*schema.Property, name string) *schema.Property {
	for _, p := range props {
		if strings.EqualFold(p.Name, name) || strings.EqualFold(p.JSONName, name) {
			return p
		}
	}
	return nil
}

// searchConditions returns the alternatives under which prop (reached
// through prefix) matches term. A reference navigation searches the related
// class's searchable scalars.
func searchConditions(mc *mapping.Context, prefix query.Path, prop *schema.Property, term string) []*query.Condition {
	path := append(append(query.Path(nil), prefix...), prop)

	if prop.Kind == schema.KindReference {
		if len(prefix) > 0 || prop.Related() == nil {
			return nil
		}
		var out []*query.Condition
		for _, sub := range prop.Related().SearchProperties() {
			if sub.IsNavigation() || !mc.UserCanFilter(sub) {
				continue
			}
			out = append(out, searchConditions(mc, path, sub, term)...)
		}
		return out
	}
	if !prop.IsStoreMapped() || prop.Kind != schema.KindScalar {
		return nil
	}

	if prop.IsString() {
		switch prop.EffectiveSearch() {
		case schema.SearchContains:
			return []*query.Condition{query.Where(path, query.OpContains, term)}
		case schema.SearchEquals:
			return []*query.Condition{query.Where(path, query.OpEqual, term)}
		default:
			return []*query.Condition{query.Where(path, query.OpStartsWith, term)}
		}
	}

	v, ok := parseScalar(prop.BaseType(), term)
	if !ok {
		return nil
	}
	return []*query.Condition{query.Where(path, query.OpEqual, v)}
}
