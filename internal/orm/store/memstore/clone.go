package memstore

import (
	"reflect"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
)

// detach copies entity for storage. Persisted navigations are cleared so
// rows only relate through keys; slices and maps are copied so later
// changes to a session entity do not leak into the stored row.
func detach(class *schema.Class, entity any) any {
	src := reflect.ValueOf(entity).Elem()
	dst := reflect.New(class.Type)
	dst.Elem().Set(src)

	for _, p := range class.Properties {
		f := p.Field(dst)
		switch {
		case p.IsPersistedRelation():
			f.Set(reflect.Zero(f.Type()))
		case p.Kind == schema.KindPrimitiveCollection && !f.IsNil():
			cp := reflect.MakeSlice(f.Type(), f.Len(), f.Len())
			reflect.Copy(cp, f)
			f.Set(cp)
		case p.Kind == schema.KindDictionary && !f.IsNil():
			cp := reflect.MakeMapWithSize(f.Type(), f.Len())
			iter := f.MapRange()
			for iter.Next() {
				cp.SetMapIndex(iter.Key(), iter.Value())
			}
			f.Set(cp)
		}
	}
	return dst.Interface()
}
