// Package hooks holds the lifecycle extension points of the save and delete
// pipelines. Several hooks may be registered per point; they run in
// registration order and the first failure halts the pipeline.
package hooks

import (
	"errors"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/result"
)

// ErrHookContract is returned when a hook hands back a zero result or
// outcome. It is a programming error in the hook, not a request failure.
var ErrHookContract = errors.New("hook returned no result")

// Point identifies where in a pipeline a hook runs
type Point int

const (
	BeforeSave Point = iota
	AfterSave
	BeforeDelete
	AfterDelete
)

// String returns the string representation of the hook point
func (p Point) String() string {
	switch p {
	case BeforeSave:
		return "before_save"
	case AfterSave:
		return "after_save"
	case BeforeDelete:
		return "before_delete"
	case AfterDelete:
		return "after_delete"
	default:
		return "unknown"
	}
}

// SaveKind tells a save hook whether the item is being created or updated
type SaveKind int

const (
	Create SaveKind = iota
	Update
)

// String returns the string representation of the save kind
func (k SaveKind) String() string {
	if k == Update {
		return "update"
	}
	return "create"
}

// BeforeSaveFunc runs after the incoming DTO was mapped and before the item
// is persisted. original is the pre-mapping snapshot, nil on create.
type BeforeSaveFunc[T any] func(ctx *Context, kind SaveKind, original, item *T) result.Result

// AfterSaveFunc runs on the re-fetched item. It may pass the item on,
// substitute it or its include tree, suppress the payload, or fail.
type AfterSaveFunc[T any] func(ctx *Context, kind SaveKind, original, item *T, tree *includes.Tree) Outcome[T]

// BeforeDeleteFunc runs on the fetched item before it is deleted
type BeforeDeleteFunc[T any] func(ctx *Context, item *T) result.Result

// AfterDeleteFunc runs after the delete. item is the re-fetched row of a
// soft delete, or nil when the row is gone.
type AfterDeleteFunc[T any] func(ctx *Context, item *T, tree *includes.Tree) Outcome[T]

type outcomeState uint8

const (
	outcomeUnset outcomeState = iota
	outcomeContinue
	outcomeSuppress
	outcomeFail
)

// Outcome is what an after-hook hands back to the pipeline
type Outcome[T any] struct {
	state   outcomeState
	item    *T
	tree    *includes.Tree
	message string
}

// Continue passes item and tree on. A nil item means no payload is returned.
func Continue[T any](item *T, tree *includes.Tree) Outcome[T] {
	return Outcome[T]{state: outcomeContinue, item: item, tree: tree}
}

// Suppress makes the operation succeed without returning the item
func Suppress[T any]() Outcome[T] {
	return Outcome[T]{state: outcomeSuppress}
}

// Fail makes the operation fail with msg
func Fail[T any](msg string) Outcome[T] {
	return Outcome[T]{state: outcomeFail, message: msg}
}

// IsZero reports whether the outcome was never set
func (o Outcome[T]) IsZero() bool { return o.state == outcomeUnset }

// Failed reports whether the hook failed the operation
func (o Outcome[T]) Failed() bool { return o.state == outcomeFail }

// Suppressed reports whether no payload should be returned
func (o Outcome[T]) Suppressed() bool {
	return o.state == outcomeSuppress || (o.state == outcomeContinue && o.item == nil)
}

// Item returns the item to return, nil when suppressed or failed
func (o Outcome[T]) Item() *T {
	if o.state != outcomeContinue {
		return nil
	}
	return o.item
}

// Tree returns the include tree that goes with Item
func (o Outcome[T]) Tree() *includes.Tree { return o.tree }

// Message returns the failure message
func (o Outcome[T]) Message() string { return o.message }

// Registry manages the hooks registered for one entity type
type Registry[T any] struct {
	beforeSave   []BeforeSaveFunc[T]
	afterSave    []AfterSaveFunc[T]
	beforeDelete []BeforeDeleteFunc[T]
	afterDelete  []AfterDeleteFunc[T]
}

// NewRegistry creates a new hook registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// OnBeforeSave adds a before-save hook
func (r *Registry[T]) OnBeforeSave(fn BeforeSaveFunc[T]) *Registry[T] {
	r.beforeSave = append(r.beforeSave, fn)
	return r
}

// OnAfterSave adds an after-save hook
func (r *Registry[T]) OnAfterSave(fn AfterSaveFunc[T]) *Registry[T] {
	r.afterSave = append(r.afterSave, fn)
	return r
}

// OnBeforeDelete adds a before-delete hook
func (r *Registry[T]) OnBeforeDelete(fn BeforeDeleteFunc[T]) *Registry[T] {
	r.beforeDelete = append(r.beforeDelete, fn)
	return r
}

// OnAfterDelete adds an after-delete hook
func (r *Registry[T]) OnAfterDelete(fn AfterDeleteFunc[T]) *Registry[T] {
	r.afterDelete = append(r.afterDelete, fn)
	return r
}

// Len returns the number of hooks registered at point
func (r *Registry[T]) Len(point Point) int {
	if r == nil {
		return 0
	}
	switch point {
	case BeforeSave:
		return len(r.beforeSave)
	case AfterSave:
		return len(r.afterSave)
	case BeforeDelete:
		return len(r.beforeDelete)
	case AfterDelete:
		return len(r.afterDelete)
	}
	return 0
}

// HasHooks returns true if any hook is registered at point
func (r *Registry[T]) HasHooks(point Point) bool {
	return r.Len(point) > 0
}
