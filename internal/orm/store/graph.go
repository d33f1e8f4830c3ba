package store

import (
	"reflect"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// FixForeignKeys copies the key of each populated reference navigation of
// entity into the navigation's foreign key property, so that assigning
// Employer = acme is persisted as EmployerID = acme.ID.
func FixForeignKeys(class *schema.Class, entity any) {
	for _, p := range class.References() {
		fk := p.ForeignKeyProperty()
		if fk == nil || !p.IsPersistedRelation() {
			continue
		}
		nav := p.Field(reflect.ValueOf(entity))
		if nav.IsNil() {
			continue
		}
		if key := p.Related().KeyOf(nav.Interface()); key != nil && !reflect.ValueOf(key).IsZero() {
			fk.Set(entity, key)
		}
	}
}
