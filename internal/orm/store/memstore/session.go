package memstore

import (
	"context"
	"fmt"
	"reflect"

	"github.com/conduit-lang/crudkit/internal/orm/includes"
	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
)

// entry is an entity handed out by a session together with the key it was
// loaded under
type entry struct {
	key    string
	entity any
}

// Session is a unit of work over a DB. It is not safe for concurrent use.
type Session struct {
	db      *DB
	tracked map[reflect.Type]map[string]*entry
	added   []any
	removed []any
}

var _ store.Store = (*Session)(nil)

// Find returns tracked copies of the rows matching q with the include
// tree's navigations populated
func (s *Session) Find(ctx context.Context, q *query.Query) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	class, err := s.db.resolve(q.Class)
	if err != nil {
		return nil, err
	}

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	eval := query.Evaluator{Navigate: s.navigate}
	rows := eval.Filter(s.db.rowsOf(class), q.Where)
	eval.Sort(rows, q.Orders)
	rows = query.Window(rows, q.Skip, q.Take)

	out := make([]any, 0, len(rows))
	fresh := make(map[any]bool)
	for _, row := range rows {
		entity := s.attach(class, row)
		s.reset(class, entity, fresh)
		out = append(out, entity)
	}
	for _, entity := range out {
		s.load(class, entity, q.Includes, fresh)
	}
	return out, nil
}

// Count returns the number of rows matching q
func (s *Session) Count(ctx context.Context, q *query.Query) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	class, err := s.db.resolve(q.Class)
	if err != nil {
		return 0, err
	}

	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	eval := query.Evaluator{Navigate: s.navigate}
	return len(eval.Filter(s.db.rowsOf(class), q.Where)), nil
}

// Add schedules entity for insertion
func (s *Session) Add(ctx context.Context, entity any) error {
	if _, err := s.db.classOf(entity); err != nil {
		return err
	}
	s.added = append(s.added, entity)
	return nil
}

// Remove schedules entity for deletion
func (s *Session) Remove(ctx context.Context, entity any) error {
	if _, err := s.db.classOf(entity); err != nil {
		return err
	}
	s.removed = append(s.removed, entity)
	return nil
}

// SaveChanges validates every pending change and then applies them all.
// Nothing is written when validation fails.
func (s *Session) SaveChanges(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	type removal struct {
		class *schema.Class
		key   string
	}
	removals := make([]removal, 0, len(s.removed))
	gone := make(map[any]bool, len(s.removed))
	for _, e := range s.removed {
		class, _ := s.db.classOf(e)
		key, ok := s.keyOf(class, e)
		if !ok || s.db.rowByKey(class, key) == nil {
			return fmt.Errorf("%w: %s %v", store.ErrNotFound, class.Name, class.KeyOf(e))
		}
		removals = append(removals, removal{class: class, key: key})
		gone[e] = true
	}

	pending := make(map[*schema.Class]map[string]bool)
	for _, e := range s.added {
		class, _ := s.db.classOf(e)
		k, ok := store.KeyString(class.KeyOf(e))
		if !ok {
			if !class.KeyGenerated {
				return fmt.Errorf("%w: %s key must be assigned before insert", store.ErrNotNullViolation, class.Name)
			}
			continue
		}
		if s.db.rowByKey(class, class.KeyOf(e)) != nil || pending[class][k] {
			return fmt.Errorf("%w: %s %s", store.ErrDuplicateKey, class.Name, k)
		}
		if pending[class] == nil {
			pending[class] = make(map[string]bool)
		}
		pending[class][k] = true
	}

	for _, r := range removals {
		s.db.deleteLocked(r.class, r.key)
		delete(s.tracked[r.class.Type], r.key)
	}
	for t, entries := range s.tracked {
		class, _ := s.db.classFor(t)
		for _, en := range entries {
			if gone[en.entity] {
				continue
			}
			store.FixForeignKeys(class, en.entity)
			s.db.updateLocked(class, en.key, en.entity)
		}
	}
	for _, e := range s.added {
		class, _ := s.db.classOf(e)
		store.FixForeignKeys(class, e)
		if err := s.db.insertLocked(class, e); err != nil {
			// keys were checked above; only generation can fail here
			return err
		}
		k, _ := store.KeyString(class.KeyOf(e))
		s.track(class, k, e)
	}

	s.added = nil
	s.removed = nil
	return nil
}

// keyOf returns the key an entity was loaded under, falling back to its
// current key for entities this session never handed out
func (s *Session) keyOf(class *schema.Class, entity any) (string, bool) {
	for k, en := range s.tracked[class.Type] {
		if en.entity == entity {
			return k, true
		}
	}
	return store.KeyString(class.KeyOf(entity))
}

// attach returns the session's copy of row, creating it on first sight
func (s *Session) attach(class *schema.Class, row any) any {
	k, _ := store.KeyString(class.KeyOf(row))
	if en, ok := s.tracked[class.Type][k]; ok {
		return en.entity
	}
	entity := detach(class, row)
	s.track(class, k, entity)
	return entity
}

func (s *Session) track(class *schema.Class, key string, entity any) {
	if s.tracked[class.Type] == nil {
		s.tracked[class.Type] = make(map[string]*entry)
	}
	s.tracked[class.Type][key] = &entry{key: key, entity: entity}
}

// reset clears the persisted navigations of an entity the first time a Find
// reaches it. Tracked entities are shared between the queries of a session,
// so an earlier query's includes would otherwise leak into this one.
func (s *Session) reset(class *schema.Class, entity any, fresh map[any]bool) {
	if fresh[entity] {
		return
	}
	fresh[entity] = true
	ev := reflect.ValueOf(entity)
	for _, p := range class.Properties {
		if !p.IsPersistedRelation() {
			continue
		}
		field := p.Field(ev)
		field.Set(reflect.Zero(field.Type()))
	}
}

// load populates the navigations named by tree, depth first
func (s *Session) load(class *schema.Class, entity any, tree *includes.Tree, fresh map[any]bool) {
	if tree == nil {
		return
	}
	ev := reflect.ValueOf(entity)
	for _, child := range tree.Children() {
		p := class.Property(child.Name())
		if p == nil || !p.IsPersistedRelation() {
			continue
		}
		related := p.Related()
		field := p.Field(ev)

		switch p.Kind {
		case schema.KindReference:
			row := s.referenced(p, ev)
			if row == nil {
				field.Set(reflect.Zero(field.Type()))
				continue
			}
			rel := s.attach(related, row)
			field.Set(reflect.ValueOf(rel))
			s.reset(related, rel, fresh)
			s.load(related, rel, child, fresh)

		case schema.KindCollection:
			inv := p.InverseKeyProperty()
			if inv == nil {
				continue
			}
			owner := class.KeyOf(entity)
			list := reflect.MakeSlice(field.Type(), 0, 0)
			for _, row := range s.db.rowsOf(related) {
				if query.Compare(inv.Get(row), owner) != 0 {
					continue
				}
				rel := s.attach(related, row)
				list = reflect.Append(list, reflect.ValueOf(rel))
				s.reset(related, rel, fresh)
				s.load(related, rel, child, fresh)
			}
			field.Set(list)
		}
	}
}

// referenced finds the stored row a reference navigation points at
func (s *Session) referenced(p *schema.Property, owner reflect.Value) any {
	fk := p.ForeignKeyProperty()
	if fk == nil {
		return nil
	}
	return s.db.rowByKey(p.Related(), fk.Field(owner).Interface())
}

// navigate resolves reference navigations of stored rows for predicate
// evaluation, where navigation pointers are always nil
func (s *Session) navigate(p *schema.Property, owner reflect.Value) reflect.Value {
	if !p.IsPersistedRelation() {
		return query.FollowPointers(p, owner)
	}
	row := s.referenced(p, owner)
	if row == nil {
		return reflect.Zero(p.Type)
	}
	return reflect.ValueOf(row)
}
