package sqlstore

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
)

// CreateTables creates a table for every stored class of the registry,
// referenced tables first
func (d *DB) CreateTables(ctx context.Context) error {
	for _, class := range creationOrder(d.registry.Classes()) {
		stmt, err := CreateTableSQL(d.flavor, class)
		if err != nil {
			return err
		}
		d.logStatement(stmt, nil)
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", class.Table, store.ConvertDBError(err))
		}
	}
	return nil
}

// CreateTableSQL generates the CREATE TABLE statement for class
func CreateTableSQL(flavor sqlbuilder.Flavor, class *schema.Class) (string, error) {
	if class.External || class.Key == nil {
		return "", fmt.Errorf("%w: %s has no key and no table", store.ErrUnsupported, class.Name)
	}

	var defs []string
	for _, p := range class.Scalars() {
		def, err := columnDefinition(flavor, class, p)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", class.Name, p.Name, err)
		}
		defs = append(defs, def)
	}
	for _, p := range class.References() {
		fk := p.ForeignKeyProperty()
		if fk == nil || !p.IsPersistedRelation() {
			continue
		}
		related := p.Related()
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			flavor.Quote(fk.Column), flavor.Quote(related.Table), flavor.Quote(related.Key.Column)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", flavor.Quote(class.Table))
	for i, def := range defs {
		b.WriteString("  ")
		b.WriteString(def)
		if i < len(defs)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String(), nil
}

func columnDefinition(flavor sqlbuilder.Flavor, class *schema.Class, p *schema.Property) (string, error) {
	name := flavor.Quote(p.Column)
	if p.IsKey && class.KeyGenerated && isInteger(p.BaseType().Kind()) {
		if flavor == sqlbuilder.PostgreSQL {
			return name + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY", nil
		}
		return name + " INTEGER PRIMARY KEY AUTOINCREMENT", nil
	}

	colType, err := columnType(flavor, p)
	if err != nil {
		return "", err
	}
	parts := []string{name, colType}
	switch {
	case p.IsKey:
		parts = append(parts, "PRIMARY KEY")
	case !p.IsNullable():
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " "), nil
}

// columnType maps a Go property type to a column type
func columnType(flavor sqlbuilder.Flavor, p *schema.Property) (string, error) {
	pg := flavor == sqlbuilder.PostgreSQL
	if p.Kind == schema.KindPrimitiveCollection {
		return "TEXT", nil
	}

	t := p.BaseType()
	switch {
	case t == reflect.TypeOf(uuid.UUID{}):
		if pg {
			return "UUID", nil
		}
		return "TEXT", nil
	case p.IsTime():
		switch {
		case p.DateOnly:
			return "DATE", nil
		case pg:
			return "TIMESTAMPTZ", nil
		}
		return "DATETIME", nil
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		if pg {
			return "BYTEA", nil
		}
		return "BLOB", nil
	}

	switch t.Kind() {
	case reflect.String:
		return "TEXT", nil
	case reflect.Bool:
		return "BOOLEAN", nil
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		if pg {
			return "BIGINT", nil
		}
		return "INTEGER", nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return "INTEGER", nil
	case reflect.Float32, reflect.Float64:
		if pg {
			return "DOUBLE PRECISION", nil
		}
		return "REAL", nil
	}
	if schema.IsTextUnmarshaler(t) || reflect.PointerTo(t).Implements(scannerType) {
		return "TEXT", nil
	}
	return "", fmt.Errorf("%w: no column type for %s", store.ErrUnsupported, t)
}

// creationOrder sorts stored classes so referenced tables come first.
// Classes in a reference cycle keep registration order.
func creationOrder(classes []*schema.Class) []*schema.Class {
	var out []*schema.Class
	state := make(map[*schema.Class]int) // 1 visiting, 2 done
	var visit func(c *schema.Class)
	visit = func(c *schema.Class) {
		if state[c] != 0 {
			return
		}
		state[c] = 1
		for _, p := range c.References() {
			if p.IsPersistedRelation() && p.ForeignKeyProperty() != nil {
				visit(p.Related())
			}
		}
		state[c] = 2
		out = append(out, c)
	}
	for _, c := range classes {
		if !c.External && c.Key != nil {
			visit(c)
		}
	}
	return out
}

func isInteger(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Int64) || (k >= reflect.Uint && k <= reflect.Uint64)
}
