package query

import "github.com/conduit-lang/crudkit/internal/orm/schema"

// DefaultOrders expands a class's default ordering into concrete paths.
// Reference properties are replaced by the related class's own default
// ordering, transitively; a reference that leads back to a class already
// being expanded is dropped.
func DefaultOrders(c *schema.Class) []Order {
	return expandClass(c, nil, false, map[*schema.Class]bool{})
}

// ExpandPath turns a path into orderings. A path ending in a reference
// navigation orders by that related class's default ordering, which may be
// empty when every default leads back into a cycle.
func ExpandPath(path Path, descending bool) []Order {
	last := path.Last()
	if last == nil {
		return nil
	}
	if last.Kind != schema.KindReference {
		return []Order{{Path: path, Descending: descending}}
	}
	return expandClass(last.Related(), path, descending, map[*schema.Class]bool{})
}

func expandClass(c *schema.Class, prefix Path, flip bool, seen map[*schema.Class]bool) []Order {
	if c == nil || seen[c] {
		return nil
	}
	seen[c] = true
	defer delete(seen, c)

	var out []Order
	for _, def := range c.DefaultOrder() {
		path := append(append(Path(nil), prefix...), def.Property)
		desc := def.Descending != flip
		if def.Property.Kind == schema.KindReference {
			out = append(out, expandClass(def.Property.Related(), path, desc, seen)...)
			continue
		}
		if def.Property.IsNavigation() {
			continue
		}
		out = append(out, Order{Path: path, Descending: desc})
	}
	return out
}
