package datasource

import (
	"context"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/result"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/security"
)

// GetMappedItem loads one item and maps it to a DTO of type D using the
// include tree of the query that loaded it.
func GetMappedItem[T any, D any, PD mapping.DtoPointer[D, T]](ctx context.Context, ds DataSource[T], reg *schema.Registry, id any, p Parameters) (result.ItemResult[PD], error) {
	res, err := ds.GetItem(ctx, id, p)
	if err != nil {
		return result.ItemResult[PD]{}, err
	}
	return result.MapItem(res, func(obj *T, tree *includes.Tree) PD {
		return mapOne[T, D, PD](ctx, reg, obj, tree, p)
	}), nil
}

// GetMappedList loads one page of items and maps each to a DTO of type D.
// Every item gets its own mapping context so that entities shared between
// items are mapped in full each time.
func GetMappedList[T any, D any, PD mapping.DtoPointer[D, T]](ctx context.Context, ds DataSource[T], reg *schema.Registry, p Parameters) (result.ListResult[PD], error) {
	res, err := ds.GetList(ctx, p)
	if err != nil {
		return result.ListResult[PD]{}, err
	}
	return result.MapList(res, func(obj *T, tree *includes.Tree) PD {
		return mapOne[T, D, PD](ctx, reg, obj, tree, p)
	}), nil
}

// MapOutgoing maps obj to a DTO of type D with a fresh mapping context and
// applies the request's field projection.
func MapOutgoing[T any, D any, PD mapping.DtoPointer[D, T]](ctx context.Context, reg *schema.Registry, obj *T, tree *includes.Tree, p Parameters) PD {
	return mapOne[T, D, PD](ctx, reg, obj, tree, p)
}

func mapOne[T any, D any, PD mapping.DtoPointer[D, T]](ctx context.Context, reg *schema.Registry, obj *T, tree *includes.Tree, p Parameters) PD {
	mc := mapping.NewContext(ctx, security.FromContext(ctx), p.Includes, reg)
	dto := mapping.MapFromNew[D, T, PD](obj, mc, tree)
	if o := mapping.ObjectOf(dto); o != nil && len(p.Fields) > 0 {
		*o = *o.Only(p.Fields...)
	}
	return dto
}
