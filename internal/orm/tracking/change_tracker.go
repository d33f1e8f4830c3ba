// Package tracking provides change tracking for persisted entities.
// It remembers the state an entity was loaded with so a store can issue
// UPDATEs that touch only modified columns.
package tracking

import (
	"reflect"
	"sort"
	"sync"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// FieldChange represents a change to a single field
type FieldChange struct {
	Field    string
	OldValue any
	NewValue any
}

// ChangeTracker compares two snapshots of the same entity
type ChangeTracker struct {
	mu       sync.RWMutex
	original map[string]any
	current  map[string]any
	changes  map[string]*FieldChange
}

// NewChangeTracker creates a tracker from an original and a current
// snapshot. Both maps are copied.
func NewChangeTracker(original, current map[string]any) *ChangeTracker {
	ct := &ChangeTracker{
		original: copyMap(original),
		current:  copyMap(current),
		changes:  make(map[string]*FieldChange),
	}
	ct.computeChanges()
	return ct
}

func (ct *ChangeTracker) computeChanges() {
	for field, newValue := range ct.current {
		oldValue, had := ct.original[field]
		if !had || !reflect.DeepEqual(oldValue, newValue) {
			ct.changes[field] = &FieldChange{Field: field, OldValue: oldValue, NewValue: newValue}
		}
	}
	for field, oldValue := range ct.original {
		if _, exists := ct.current[field]; !exists {
			ct.changes[field] = &FieldChange{Field: field, OldValue: oldValue}
		}
	}
}

// Changed returns true if the specified field has changed
func (ct *ChangeTracker) Changed(field string) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	_, ok := ct.changes[field]
	return ok
}

// ChangedFields returns the changed field names, sorted
func (ct *ChangeTracker) ChangedFields() []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	fields := make([]string, 0, len(ct.changes))
	for field := range ct.changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// PreviousValue returns the original value of a field
func (ct *ChangeTracker) PreviousValue(field string) any {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.original[field]
}

// CurrentValue returns the current value of a field
func (ct *ChangeTracker) CurrentValue(field string) any {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.current[field]
}

// GetChange returns the FieldChange for a field, or nil if unchanged
func (ct *ChangeTracker) GetChange(field string) *FieldChange {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.changes[field]
}

// HasChanges returns true if any field changed
func (ct *ChangeTracker) HasChanges() bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.changes) > 0
}

// ChangedTo returns true if the field changed to value
func (ct *ChangeTracker) ChangedTo(field string, value any) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	change, ok := ct.changes[field]
	return ok && reflect.DeepEqual(change.NewValue, value)
}

// ChangedFrom returns true if the field changed from value
func (ct *ChangeTracker) ChangedFrom(field string, value any) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	change, ok := ct.changes[field]
	return ok && reflect.DeepEqual(change.OldValue, value)
}

// Reset accepts the current state as the new original
func (ct *ChangeTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.original = copyMap(ct.current)
	ct.changes = make(map[string]*FieldChange)
}

// GetChangedData returns only the changed fields with their new values
func (ct *ChangeTracker) GetChangedData() map[string]any {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	result := make(map[string]any, len(ct.changes))
	for field, change := range ct.changes {
		result[field] = change.NewValue
	}
	return result
}

// Entry remembers the persisted state of one entity
type Entry struct {
	Class    *schema.Class
	Entity   any
	original map[string]any
}

// Track snapshots entity as it is now
func Track(class *schema.Class, entity any) *Entry {
	return &Entry{Class: class, Entity: entity, original: Snapshot(class, entity)}
}

// Changes compares the snapshot with the entity's current state
func (e *Entry) Changes() *ChangeTracker {
	return NewChangeTracker(e.original, Snapshot(e.Class, e.Entity))
}

// Accept makes the entity's current state the persisted one
func (e *Entry) Accept() {
	e.original = Snapshot(e.Class, e.Entity)
}

// Snapshot captures the store-mapped properties of entity keyed by Go
// property name. Pointers are dereferenced and slices copied so later
// in-place mutation of the entity is visible as a change.
func Snapshot(class *schema.Class, entity any) map[string]any {
	v := reflect.ValueOf(entity)
	out := make(map[string]any)
	for _, p := range class.Scalars() {
		out[p.Name] = copyValue(p.Field(v))
	}
	return out
}

func copyValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return copyValue(v.Elem())
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		cp := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(cp, v)
		return cp.Interface()
	}
	return v.Interface()
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
