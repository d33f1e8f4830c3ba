package sqlstore

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/conduit-lang/crudkit/internal/orm/query"
	"github.com/conduit-lang/crudkit/internal/orm/relationships"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
	"github.com/conduit-lang/crudkit/internal/orm/tracking"
)

// trackedEntity is an entity this session materialized or inserted
type trackedEntity struct {
	class *schema.Class
	key   string
	entry *tracking.Entry
}

// Session is a unit of work over a DB. It is not safe for concurrent use.
type Session struct {
	db      *DB
	tracked map[*schema.Class]map[string]*trackedEntity
	order   []*trackedEntity
	added   []any
	removed []any
	loader  *relationships.Loader
}

var (
	_ store.Store           = (*Session)(nil)
	_ relationships.Fetcher = (*Session)(nil)
)

// Find runs q and eager-loads its include tree
func (s *Session) Find(ctx context.Context, q *query.Query) ([]any, error) {
	if q.Class.External {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownClass, q.Class.Name)
	}

	sq := newSelect(s.db.flavor, q.Class)
	sq.selectColumns()
	where, err := sq.where(q.Where)
	if err != nil {
		return nil, err
	}
	if where != "" {
		sq.sb.Where(where)
	}
	if err := sq.orderBy(q.Orders); err != nil {
		return nil, err
	}
	if q.Take > 0 {
		sq.sb.Limit(q.Take)
		if q.Skip > 0 {
			sq.sb.Offset(q.Skip)
		}
	}

	sql, args := sq.sb.Build()
	entities, err := s.query(ctx, q.Class, sql, args)
	if err != nil {
		return nil, err
	}
	if q.Take == 0 && q.Skip > 0 {
		entities = query.Window(entities, q.Skip, 0)
	}

	if err := s.loader.Load(ctx, q.Class, entities, q.Includes); err != nil {
		return nil, err
	}
	return entities, nil
}

// Count returns the number of rows matching q
func (s *Session) Count(ctx context.Context, q *query.Query) (int, error) {
	sq := newSelect(s.db.flavor, q.Class)
	sq.sb.Select("COUNT(*)")
	where, err := sq.where(q.Where)
	if err != nil {
		return 0, err
	}
	if where != "" {
		sq.sb.Where(where)
	}

	sql, args := sq.sb.Build()
	s.db.logStatement(sql, args)
	var n int
	if err := s.db.conn(ctx).QueryRowxContext(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.Class.Name, store.ConvertDBError(err))
	}
	return n, nil
}

// FetchByColumn loads the rows of class whose column holds one of keys.
// It serves the relationship loader.
func (s *Session) FetchByColumn(ctx context.Context, class *schema.Class, column *schema.Property, keys []any) ([]any, error) {
	values, err := encodeList(column, keys)
	if err != nil {
		return nil, err
	}
	sq := newSelect(s.db.flavor, class)
	sq.selectColumns()
	sq.sb.Where(sq.sb.In(rootAlias+"."+column.Column, values...))
	if err := sq.orderBy(nil); err != nil {
		return nil, err
	}
	sql, args := sq.sb.Build()
	return s.query(ctx, class, sql, args)
}

// Add schedules entity for insertion
func (s *Session) Add(ctx context.Context, entity any) error {
	if _, err := s.classOf(entity); err != nil {
		return err
	}
	s.added = append(s.added, entity)
	return nil
}

// Remove schedules entity for deletion
func (s *Session) Remove(ctx context.Context, entity any) error {
	if _, err := s.classOf(entity); err != nil {
		return err
	}
	s.removed = append(s.removed, entity)
	return nil
}

// SaveChanges writes inserts, then updates of changed columns, then
// deletes, in one transaction
func (s *Session) SaveChanges(ctx context.Context) error {
	gone := make(map[any]bool, len(s.removed))
	for _, e := range s.removed {
		gone[e] = true
	}

	var generated []func()
	err := s.db.tx.WithTransaction(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		for _, e := range s.added {
			class, _ := s.classOf(e)
			undo, err := s.insert(ctx, tx, class, e)
			if undo != nil {
				generated = append(generated, undo)
			}
			if err != nil {
				return err
			}
		}
		for _, te := range s.order {
			if gone[te.entry.Entity] {
				continue
			}
			if err := s.update(ctx, tx, te.class, te.entry); err != nil {
				return err
			}
		}
		for _, e := range s.removed {
			class, _ := s.classOf(e)
			if err := s.delete(ctx, tx, class, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, undo := range generated {
			undo()
		}
		return err
	}

	kept := s.order[:0]
	for _, te := range s.order {
		if gone[te.entry.Entity] {
			delete(s.tracked[te.class], te.key)
			continue
		}
		te.entry.Accept()
		kept = append(kept, te)
	}
	s.order = kept
	for _, e := range s.added {
		class, _ := s.classOf(e)
		k, _ := store.KeyString(class.KeyOf(e))
		s.track(class, k, e)
	}
	s.added = nil
	s.removed = nil
	return nil
}

func (s *Session) insert(ctx context.Context, tx *sqlx.Tx, class *schema.Class, entity any) (func(), error) {
	store.FixForeignKeys(class, entity)
	key := class.Key
	_, hasKey := store.KeyString(class.KeyOf(entity))

	var undo func()
	returning := false
	if !hasKey {
		if !class.KeyGenerated {
			return nil, fmt.Errorf("%w: %s key must be assigned before insert", store.ErrNotNullViolation, class.Name)
		}
		switch base := key.BaseType(); {
		case base == reflect.TypeOf(uuid.UUID{}):
			key.Set(entity, uuid.New())
		case base.Kind() == reflect.String:
			key.Set(entity, uuid.NewString())
		default:
			returning = true
		}
		undo = func() { key.Set(entity, nil) }
	}

	ib := s.db.flavor.NewInsertBuilder()
	ib.InsertInto(class.Table)
	var cols []string
	var vals []any
	for _, p := range class.Scalars() {
		if p == key && returning {
			continue
		}
		v, err := encode(p, p.Get(entity))
		if err != nil {
			return undo, err
		}
		cols = append(cols, p.Column)
		vals = append(vals, v)
	}
	ib.Cols(cols...).Values(vals...)

	if !returning {
		sql, args := ib.Build()
		s.db.logStatement(sql, args)
		if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
			return undo, fmt.Errorf("insert %s: %w", class.Name, store.ConvertDBError(err))
		}
		return undo, nil
	}

	ib.Returning(key.Column)
	sql, args := ib.Build()
	s.db.logStatement(sql, args)
	var id any
	if err := tx.QueryRowxContext(ctx, sql, args...).Scan(&id); err != nil {
		return undo, fmt.Errorf("insert %s: %w", class.Name, store.ConvertDBError(err))
	}
	if err := decode(key, reflect.ValueOf(entity), id); err != nil {
		return undo, err
	}
	return undo, nil
}

func (s *Session) update(ctx context.Context, tx *sqlx.Tx, class *schema.Class, entry *tracking.Entry) error {
	store.FixForeignKeys(class, entry.Entity)
	changes := entry.Changes()
	if !changes.HasChanges() {
		return nil
	}

	ub := s.db.flavor.NewUpdateBuilder()
	ub.Update(class.Table)
	var assigns []string
	for _, p := range class.Scalars() {
		if p.IsKey || !changes.Changed(p.Name) {
			continue
		}
		v, err := encode(p, p.Get(entry.Entity))
		if err != nil {
			return err
		}
		assigns = append(assigns, ub.Assign(p.Column, v))
	}
	if len(assigns) == 0 {
		return nil
	}
	keyValue, err := encode(class.Key, class.KeyOf(entry.Entity))
	if err != nil {
		return err
	}
	ub.Set(assigns...)
	ub.Where(ub.Equal(class.Key.Column, keyValue))

	sql, args := ub.Build()
	s.db.logStatement(sql, args)
	res, err := tx.ExecContext(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", class.Name, store.ConvertDBError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s: %w", class.Name, store.ErrNotFound)
	}
	return nil
}

func (s *Session) delete(ctx context.Context, tx *sqlx.Tx, class *schema.Class, entity any) error {
	keyValue, err := encode(class.Key, class.KeyOf(entity))
	if err != nil {
		return err
	}
	del := s.db.flavor.NewDeleteBuilder()
	del.DeleteFrom(class.Table)
	del.Where(del.Equal(class.Key.Column, keyValue))

	sql, args := del.Build()
	s.db.logStatement(sql, args)
	res, err := tx.ExecContext(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", class.Name, store.ConvertDBError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete %s: %w", class.Name, store.ErrNotFound)
	}
	return nil
}

// query executes a SELECT of class columns and materializes the rows
// through the identity map
func (s *Session) query(ctx context.Context, class *schema.Class, sql string, args []any) ([]any, error) {
	s.db.logStatement(sql, args)
	rows, err := s.db.conn(ctx).QueryxContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", class.Name, store.ConvertDBError(err))
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan %s: %w", class.Name, err)
		}
		entity, err := s.materialize(class, row)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", class.Name, store.ConvertDBError(err))
	}
	return out, nil
}

// materialize decodes a row, returning the already tracked instance when
// this session has seen the key before
func (s *Session) materialize(class *schema.Class, row map[string]any) (any, error) {
	v := reflect.New(class.Type)
	for _, p := range class.Scalars() {
		raw, ok := row[p.Column]
		if !ok {
			continue
		}
		if err := decode(p, v, raw); err != nil {
			return nil, err
		}
	}
	entity := v.Interface()

	k, _ := store.KeyString(class.KeyOf(entity))
	if te, ok := s.tracked[class][k]; ok {
		return te.entry.Entity, nil
	}
	s.track(class, k, entity)
	return entity, nil
}

func (s *Session) track(class *schema.Class, key string, entity any) {
	if s.tracked[class] == nil {
		s.tracked[class] = make(map[string]*trackedEntity)
	}
	te := &trackedEntity{class: class, key: key, entry: tracking.Track(class, entity)}
	s.tracked[class][key] = te
	s.order = append(s.order, te)
}

func (s *Session) classOf(entity any) (*schema.Class, error) {
	t := reflect.TypeOf(entity)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T is not a pointer to a struct", store.ErrUnknownClass, entity)
	}
	class, err := s.db.registry.ClassOf(t.Elem())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnknownClass, err)
	}
	if class.External {
		return nil, fmt.Errorf("%w: %s has no key and cannot be stored", store.ErrUnknownClass, class.Name)
	}
	return class, nil
}
