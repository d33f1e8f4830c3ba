// Package store defines the persisted-entity provider consumed by data
// sources and behaviors: include-aware queries, counting, and a unit of work
// (Add, Remove, SaveChanges) committed atomically.
package store

import (
	"context"
	"fmt"

	"github.com/conduit-lang/crudkit/internal/orm/query"
)

// Store is one unit of work against a persistence engine. Implementations
// track the entities they return so that mutations made to them are
// written by SaveChanges. A Store is used by one request at a time.
type Store interface {
	// Find materializes the entities matching q as pointers to q.Class.Type,
	// with the navigations named by q.Includes populated.
	Find(ctx context.Context, q *query.Query) ([]any, error)
	// Count returns the number of entities matching q, ignoring paging.
	Count(ctx context.Context, q *query.Query) (int, error)
	// Add registers a new entity to be inserted by SaveChanges.
	Add(ctx context.Context, entity any) error
	// Remove registers an entity to be deleted by SaveChanges.
	Remove(ctx context.Context, entity any) error
	// SaveChanges commits pending inserts, updates and deletes. Store
	// generated keys are assigned to added entities.
	SaveChanges(ctx context.Context) error
}

// List runs q and converts the results to *T
func List[T any](ctx context.Context, s Store, q *query.Query) ([]*T, error) {
	items, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(items))
	for _, item := range items {
		typed, ok := item.(*T)
		if !ok {
			return nil, fmt.Errorf("%w: store returned %T for %s", ErrUnknownClass, item, q.Class.Name)
		}
		out = append(out, typed)
	}
	return out, nil
}

// First returns the first entity matching q, or ErrNotFound
func First[T any](ctx context.Context, s Store, q *query.Query) (*T, error) {
	limited := q.Clone()
	limited.Take = 1
	items, err := List[T](ctx, s, limited)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}
