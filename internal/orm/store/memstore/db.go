// Package memstore is an in-memory store. A DB holds detached rows per
// class; each Session is a unit of work that hands out tracked copies,
// resolves navigations through foreign keys and writes changes back on
// SaveChanges.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
)

// DB is the shared row storage. It is safe for concurrent use.
type DB struct {
	mu       sync.RWMutex
	registry *schema.Registry
	// tables are keyed by struct type so classes described by another
	// registry still find their rows
	tables map[reflect.Type]*table
}

// table keeps rows in insertion order with an index by normalized key
type table struct {
	rows  []any
	index map[string]int
	seq   int64
}

// NewDB creates an empty database for the classes of reg
func NewDB(reg *schema.Registry) *DB {
	return &DB{
		registry: reg,
		tables:   make(map[reflect.Type]*table),
	}
}

// Registry returns the registry the database was created with
func (db *DB) Registry() *schema.Registry {
	return db.registry
}

// Session opens a new unit of work
func (db *DB) Session() *Session {
	return &Session{
		db:      db,
		tracked: make(map[reflect.Type]map[string]*entry),
	}
}

// Factory adapts the database to a store.SessionFactory
func (db *DB) Factory() store.SessionFactory {
	return func(ctx context.Context) (store.Store, error) {
		return db.Session(), nil
	}
}

// Seed inserts entities directly, assigning generated keys. Navigation
// pointers are used to fill foreign keys but the related entities are
// not inserted.
func (db *DB) Seed(entities ...any) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, e := range entities {
		class, err := db.classOf(e)
		if err != nil {
			return err
		}
		store.FixForeignKeys(class, e)
		if err := db.insertLocked(class, e); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of rows stored for class
func (db *DB) Len(class *schema.Class) int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if t, ok := db.tables[class.Type]; ok {
		return len(t.rows)
	}
	return 0
}

func (db *DB) classOf(entity any) (*schema.Class, error) {
	t := reflect.TypeOf(entity)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T is not a pointer to a struct", store.ErrUnknownClass, entity)
	}
	return db.classFor(t.Elem())
}

// resolve maps a class from any registry onto this database's description
// of the same type
func (db *DB) resolve(class *schema.Class) (*schema.Class, error) {
	if class == nil || class.Type == nil {
		return nil, fmt.Errorf("%w: query has no class", store.ErrUnknownClass)
	}
	return db.classFor(class.Type)
}

func (db *DB) classFor(t reflect.Type) (*schema.Class, error) {
	class, err := db.registry.ClassOf(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnknownClass, err)
	}
	if class.External {
		return nil, fmt.Errorf("%w: %s has no key and cannot be stored", store.ErrUnknownClass, class.Name)
	}
	return class, nil
}

func (db *DB) table(class *schema.Class) *table {
	t, ok := db.tables[class.Type]
	if !ok {
		t = &table{index: make(map[string]int)}
		db.tables[class.Type] = t
	}
	return t
}

// rowsOf returns the stored rows of class; callers hold the lock
func (db *DB) rowsOf(class *schema.Class) []any {
	if t, ok := db.tables[class.Type]; ok {
		return t.rows
	}
	return nil
}

// rowByKey returns the row identified by key, or nil
func (db *DB) rowByKey(class *schema.Class, key any) any {
	k, ok := store.KeyString(key)
	if !ok {
		return nil
	}
	t, ok := db.tables[class.Type]
	if !ok {
		return nil
	}
	if i, ok := t.index[k]; ok {
		return t.rows[i]
	}
	return nil
}

// assignKey fills an unset generated key. Integer keys continue the table
// sequence; string and UUID keys get a fresh UUID.
func (db *DB) assignKey(class *schema.Class, entity any) error {
	if _, ok := store.KeyString(class.KeyOf(entity)); ok {
		return nil
	}
	if !class.KeyGenerated {
		return fmt.Errorf("%w: %s key must be assigned before insert", store.ErrNotNullViolation, class.Name)
	}

	key := class.Key
	switch base := key.BaseType(); {
	case base == reflect.TypeOf(uuid.UUID{}):
		key.Set(entity, uuid.New())
	case base.Kind() == reflect.String:
		key.Set(entity, uuid.NewString())
	case isInteger(base.Kind()):
		t := db.table(class)
		t.seq++
		key.Set(entity, t.seq)
	default:
		return fmt.Errorf("%w: cannot generate %s keys of type %s", store.ErrUnsupported, class.Name, base)
	}
	return nil
}

func (db *DB) insertLocked(class *schema.Class, entity any) error {
	if err := db.assignKey(class, entity); err != nil {
		return err
	}
	k, _ := store.KeyString(class.KeyOf(entity))
	t := db.table(class)
	if _, exists := t.index[k]; exists {
		return fmt.Errorf("%w: %s %s", store.ErrDuplicateKey, class.Name, k)
	}
	if n, ok := intKey(class.KeyOf(entity)); ok && n > t.seq {
		t.seq = n
	}
	t.index[k] = len(t.rows)
	t.rows = append(t.rows, detach(class, entity))
	return nil
}

func (db *DB) updateLocked(class *schema.Class, key string, entity any) bool {
	t, ok := db.tables[class.Type]
	if !ok {
		return false
	}
	i, ok := t.index[key]
	if !ok {
		return false
	}
	t.rows[i] = detach(class, entity)
	return true
}

func (db *DB) deleteLocked(class *schema.Class, key string) bool {
	t, ok := db.tables[class.Type]
	if !ok {
		return false
	}
	i, ok := t.index[key]
	if !ok {
		return false
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	delete(t.index, key)
	for k, j := range t.index {
		if j > i {
			t.index[k] = j - 1
		}
	}
	return true
}

func isInteger(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Int64) || (k >= reflect.Uint && k <= reflect.Uint64)
}

func intKey(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return 0, false
		}
		rv = rv.Elem()
	}
	switch {
	case !rv.IsValid():
		return 0, false
	case rv.Kind() >= reflect.Int && rv.Kind() <= reflect.Int64:
		return rv.Int(), true
	case rv.Kind() >= reflect.Uint && rv.Kind() <= reflect.Uint64:
		return int64(rv.Uint()), true
	}
	return 0, false
}
