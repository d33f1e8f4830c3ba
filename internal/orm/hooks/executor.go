package hooks

import (
	"fmt"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/result"
)

// RunBeforeSave executes the before-save hooks in order. The first failed
// result is returned as is; a zero result is ErrHookContract.
func (r *Registry[T]) RunBeforeSave(ctx *Context, kind SaveKind, original, item *T) (result.Result, error) {
	if r == nil {
		return result.OK(), nil
	}
	for i, hook := range r.beforeSave {
		res := hook(ctx, kind, original, item)
		if err := checkResult(BeforeSave, i, res); err != nil {
			return res, err
		}
		if !res.WasSuccessful() {
			return res, nil
		}
	}
	return result.OK(), nil
}

// RunAfterSave executes the after-save hooks in order. Each hook receives
// the item and tree handed on by the previous one.
func (r *Registry[T]) RunAfterSave(ctx *Context, kind SaveKind, original, item *T, tree *includes.Tree) (Outcome[T], error) {
	out := Continue(item, tree)
	if r == nil {
		return out, nil
	}
	for i, hook := range r.afterSave {
		next := hook(ctx, kind, original, out.Item(), out.Tree())
		if next.IsZero() {
			return next, contractError(AfterSave, i)
		}
		if next.Failed() {
			return next, nil
		}
		out = next
	}
	return out, nil
}

// RunBeforeDelete executes the before-delete hooks in order
func (r *Registry[T]) RunBeforeDelete(ctx *Context, item *T) (result.Result, error) {
	if r == nil {
		return result.OK(), nil
	}
	for i, hook := range r.beforeDelete {
		res := hook(ctx, item)
		if err := checkResult(BeforeDelete, i, res); err != nil {
			return res, err
		}
		if !res.WasSuccessful() {
			return res, nil
		}
	}
	return result.OK(), nil
}

// RunAfterDelete executes the after-delete hooks in order. item is nil
// after a hard delete; every hook still runs.
func (r *Registry[T]) RunAfterDelete(ctx *Context, item *T, tree *includes.Tree) (Outcome[T], error) {
	out := Continue(item, tree)
	if r == nil {
		return out, nil
	}
	for i, hook := range r.afterDelete {
		next := hook(ctx, out.Item(), out.Tree())
		if next.IsZero() {
			return next, contractError(AfterDelete, i)
		}
		if next.Failed() {
			return next, nil
		}
		out = next
	}
	return out, nil
}

func checkResult(point Point, i int, res result.Result) error {
	if res.IsZero() {
		return contractError(point, i)
	}
	return nil
}

func contractError(point Point, i int) error {
	return fmt.Errorf("%w: %s hook #%d", ErrHookContract, point, i+1)
}
