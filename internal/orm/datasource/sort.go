package datasource

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// ApplyListSorting orders q by the request's "Path [ASC|DESC], ..." clauses.
// Parsing stops at the first clause that names an unknown or unreadable
// property, or one that cannot be sorted (including a reference whose
// default ordering expands to nothing); the clauses before it stay applied. Without an
// ordering in the request the class's default ordering applies.
func (ds *StandardDataSource[T]) ApplyListSorting(ctx context.Context, q *query.Query, p Parameters) *query.Query {
	if strings.TrimSpace(p.OrderBy) == "" {
		return ds.ApplyListDefaultSorting(q)
	}
	mc := ds.mappingContext(ctx, p)

	for _, clause := range strings.Split(p.OrderBy, ",") {
		orders, err := ds.parseOrder(mc, clause)
		if err != nil {
			ds.logger.Debug("sort abandoned",
				zap.String("class", ds.class.Name),
				zap.String("clause", strings.TrimSpace(clause)),
				zap.Error(err),
			)
			break
		}
		q.OrderBy(orders...)
	}
	return q
}

// ApplyListDefaultSorting orders q by the class's default ordering
func (ds *StandardDataSource[T]) ApplyListDefaultSorting(q *query.Query) *query.Query {
	return q.OrderBy(query.DefaultOrders(ds.class)...)
}

func (ds *StandardDataSource[T]) parseOrder(mc *mapping.Context, clause string) ([]query.Order, error) {
	fields := strings.Fields(clause)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, fmt.Errorf("malformed clause %q", clause)
	}

	desc := false
	if len(fields) == 2 {
		switch strings.ToUpper(fields[1]) {
		case "ASC":
		case "DESC":
			desc = true
		default:
			return nil, fmt.Errorf("unknown direction %q", fields[1])
		}
	}

	path, err := sortPath(mc, ds.class, fields[0])
	if err != nil {
		return nil, err
	}
	orders := query.ExpandPath(path, desc)
	if len(orders) == 0 {
		return nil, fmt.Errorf("%q has no sortable default order", fields[0])
	}
	return orders, nil
}

// sortPath resolves a dotted path, checking that the user may sort by every
// segment. Only references may be navigated, and only a scalar column or a
// reference may end the path.
func sortPath(mc *mapping.Context, class *schema.Class, dotted string) (query.Path, error) {
	var path query.Path
	current := class
	segs := strings.Split(dotted, ".")
	for i, seg := range segs {
		if current == nil {
			return nil, fmt.Errorf("%q cannot be navigated", segs[i-1])
		}
		prop := current.Property(seg)
		switch {
		case prop == nil:
			return nil, fmt.Errorf("unknown property %q on %s", seg, current.Name)
		case !mc.UserCanFilter(prop):
			return nil, fmt.Errorf("%s.%s is not sortable by this user", current.Name, prop.Name)
		case prop.Kind == schema.KindReference:
			current = prop.Related()
		case i < len(segs)-1:
			return nil, fmt.Errorf("%q is not a reference navigation", seg)
		case !prop.IsStoreMapped() || prop.Kind != schema.KindScalar:
			return nil, fmt.Errorf("%s.%s cannot be sorted", current.Name, prop.Name)
		}
		path = append(path, prop)
	}
	return path, nil
}
