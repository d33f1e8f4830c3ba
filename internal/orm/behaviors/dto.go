package behaviors

import (
	"context"

	"github.com/conduit-lang/crudkit/internal/orm/datasource"
	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/mapping"
	"github.com/conduit-lang/crudkit/internal/orm/result"
)

// SaveDto saves dto and maps the saved item back to a DTO of type D with
// the include tree of the re-fetch
func SaveDto[T any, D any, PD mapping.DtoPointer[D, T]](ctx context.Context, b Behaviors[T], dto mapping.ClassDto[T], ds datasource.DataSource[T], p datasource.Parameters) (result.ItemResult[PD], error) {
	res, err := b.Save(ctx, dto, ds, p)
	if err != nil {
		return result.ItemResult[PD]{}, err
	}
	return result.MapItem(res, func(obj *T, tree *includes.Tree) PD {
		return datasource.MapOutgoing[T, D, PD](ctx, b.Registry(), obj, tree, p)
	}), nil
}

// DeleteDto deletes the item with key id. A soft-deleted item is mapped
// back to a DTO of type D.
func DeleteDto[T any, D any, PD mapping.DtoPointer[D, T]](ctx context.Context, b Behaviors[T], id any, ds datasource.DataSource[T], p datasource.Parameters) (result.ItemResult[PD], error) {
	res, err := b.Delete(ctx, id, ds, p)
	if err != nil {
		return result.ItemResult[PD]{}, err
	}
	return result.MapItem(res, func(obj *T, tree *includes.Tree) PD {
		return datasource.MapOutgoing[T, D, PD](ctx, b.Registry(), obj, tree, p)
	}), nil
}
