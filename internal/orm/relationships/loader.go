package relationships

import (
	"context"
	"fmt"
	"reflect"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
)

// Load populates the navigations of entities (pointers to class.Type)
// named by tree, level by level
func (l *Loader) Load(ctx context.Context, class *schema.Class, entities []any, tree *includes.Tree) error {
	if len(entities) == 0 || tree == nil || tree.IsLeaf() {
		return nil
	}
	return l.LoadWithContext(ctx, class, entities, tree, NewLoadContext(l.maxDepth))
}

// LoadWithContext loads relationships under an existing depth budget
func (l *Loader) LoadWithContext(ctx context.Context, class *schema.Class, entities []any, tree *includes.Tree, loadCtx *LoadContext) error {
	if len(entities) == 0 || tree == nil {
		return nil
	}
	if err := loadCtx.IncrementDepth(); err != nil {
		return err
	}
	defer loadCtx.DecrementDepth()

	for _, child := range tree.Children() {
		p := class.Property(child.Name())
		if p == nil || !p.IsPersistedRelation() {
			return fmt.Errorf("%w: %s.%s", ErrUnknownRelationship, class.Name, child.Name())
		}

		var loaded []any
		var err error
		switch p.Kind {
		case schema.KindReference:
			loaded, err = l.loadReference(ctx, p, entities)
		case schema.KindCollection:
			loaded, err = l.loadCollection(ctx, p, entities)
		}
		if err != nil {
			return fmt.Errorf("failed to load relationship %s.%s: %w", class.Name, p.Name, err)
		}

		if !child.IsLeaf() && len(loaded) > 0 {
			if err := l.LoadWithContext(ctx, p.Related(), loaded, child, loadCtx); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadReference resolves a reference navigation with one keyed fetch:
// collect the distinct foreign keys, fetch the related rows by key and
// assign them back. Owners whose foreign key is null get nil.
func (l *Loader) loadReference(ctx context.Context, p *schema.Property, owners []any) ([]any, error) {
	fk := p.ForeignKeyProperty()
	related := p.Related()
	if fk == nil || related.Key == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, p.Owner.Name, p.Name)
	}

	var keys []any
	seen := make(map[string]bool)
	for _, owner := range owners {
		k, ok := store.KeyString(fk.Get(owner))
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, fk.Get(owner))
	}

	rows, err := l.fetchBatched(ctx, related, related.Key, keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]any, len(rows))
	for _, row := range rows {
		k, _ := store.KeyString(related.KeyOf(row))
		byKey[k] = row
	}

	for _, owner := range owners {
		field := p.Field(reflect.ValueOf(owner))
		k, ok := store.KeyString(fk.Get(owner))
		if row, found := byKey[k]; ok && found {
			field.Set(reflect.ValueOf(row))
		} else {
			field.Set(reflect.Zero(field.Type()))
		}
	}
	return rows, nil
}

// loadCollection resolves a collection navigation by fetching the related
// rows whose inverse key points at any owner. Owners without children get
// an empty, non-nil slice so the relation reads as loaded.
func (l *Loader) loadCollection(ctx context.Context, p *schema.Property, owners []any) ([]any, error) {
	inv := p.InverseKeyProperty()
	class := p.Owner
	if inv == nil || class.Key == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, class.Name, p.Name)
	}

	var keys []any
	seen := make(map[string]bool)
	for _, owner := range owners {
		k, ok := store.KeyString(class.KeyOf(owner))
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, class.KeyOf(owner))
	}

	rows, err := l.fetchBatched(ctx, p.Related(), inv, keys)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]any)
	for _, row := range rows {
		k, ok := store.KeyString(inv.Get(row))
		if ok {
			grouped[k] = append(grouped[k], row)
		}
	}

	for _, owner := range owners {
		field := p.Field(reflect.ValueOf(owner))
		list := reflect.MakeSlice(field.Type(), 0, 0)
		if k, ok := store.KeyString(class.KeyOf(owner)); ok {
			for _, row := range grouped[k] {
				list = reflect.Append(list, reflect.ValueOf(row))
			}
		}
		field.Set(list)
	}
	return rows, nil
}

// fetchBatched splits keys into chunks of at most batchSize
func (l *Loader) fetchBatched(ctx context.Context, class *schema.Class, column *schema.Property, keys []any) ([]any, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var out []any
	for start := 0; start < len(keys); start += l.batchSize {
		end := start + l.batchSize
		if end > len(keys) {
			end = len(keys)
		}
		rows, err := l.fetch.FetchByColumn(ctx, class, column, keys[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}
