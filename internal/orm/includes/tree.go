// Package includes records which navigation properties were eagerly loaded
// for a query result.
package includes

import (
	"sort"
	"strings"
)

// NoneSet is the reserved include-set name that loads no relations.
const NoneSet = "none"

// Tree is a named-child tree of loaded relations. A child with no children
// of its own is a leaf: the relation was loaded with nothing nested below it.
//
// A nil *Tree is valid for lookups and means "no tree". Callers that need to
// distinguish "relation not loaded" from "nothing loaded at all" compare the
// result of Child against nil and use Len for the root.
type Tree struct {
	name     string
	children map[string]*Tree
	order    []string
	frozen   bool
}

// New creates an empty root tree
func New() *Tree {
	return &Tree{children: make(map[string]*Tree)}
}

// Parse builds a tree from dotted relation paths such as "Author.Company".
func Parse(paths ...string) *Tree {
	t := New()
	for _, p := range paths {
		t.AddPath(p)
	}
	return t
}

// Name returns the relation name this subtree was registered under.
func (t *Tree) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Len returns the number of direct children.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// IsLeaf reports whether the tree has no nested relations.
func (t *Tree) IsLeaf() bool {
	return t.Len() == 0
}

// Child returns the subtree loaded under name, or nil if that relation was
// not part of the tree. Lookup ignores case.
func (t *Tree) Child(name string) *Tree {
	if t == nil {
		return nil
	}
	return t.children[strings.ToLower(name)]
}

// Has reports whether a relation was loaded under name.
func (t *Tree) Has(name string) bool {
	return t.Child(name) != nil
}

// Children returns the direct children in insertion order.
func (t *Tree) Children() []*Tree {
	if t == nil {
		return nil
	}
	out := make([]*Tree, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.children[key])
	}
	return out
}

// Add returns the child registered under name, creating it when absent.
// Adding to a frozen tree panics.
func (t *Tree) Add(name string) *Tree {
	t.mustMutable()
	key := strings.ToLower(name)
	if child, ok := t.children[key]; ok {
		return child
	}
	child := &Tree{name: name, children: make(map[string]*Tree)}
	t.children[key] = child
	t.order = append(t.order, key)
	return child
}

// AddPath adds every segment of a dotted path and returns the deepest node.
func (t *Tree) AddPath(path string) *Tree {
	node := t
	for _, seg := range strings.Split(path, ".") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		node = node.Add(seg)
	}
	return node
}

// Merge adds every path of other into t, recursively, and returns t.
func (t *Tree) Merge(other *Tree) *Tree {
	if other == nil {
		return t
	}
	for _, child := range other.Children() {
		t.Add(child.name).Merge(child)
	}
	return t
}

// Paths flattens the tree into sorted dotted paths, one per leaf.
func (t *Tree) Paths() []string {
	var out []string
	var walk func(node *Tree, prefix string)
	walk = func(node *Tree, prefix string) {
		for _, child := range node.Children() {
			p := child.name
			if prefix != "" {
				p = prefix + "." + child.name
			}
			if child.IsLeaf() {
				out = append(out, p)
				continue
			}
			walk(child, p)
		}
	}
	if t != nil {
		walk(t, "")
	}
	sort.Strings(out)
	return out
}

// Clone returns a mutable deep copy.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	c := &Tree{name: t.name, children: make(map[string]*Tree, len(t.children))}
	for _, key := range t.order {
		c.children[key] = t.children[key].Clone()
		c.order = append(c.order, key)
	}
	return c
}

// Freeze makes the tree and all of its children read-only and returns it.
func (t *Tree) Freeze() *Tree {
	if t == nil {
		return nil
	}
	t.frozen = true
	for _, child := range t.children {
		child.Freeze()
	}
	return t
}

// Frozen reports whether the tree has been frozen.
func (t *Tree) Frozen() bool {
	return t != nil && t.frozen
}

func (t *Tree) String() string {
	return strings.Join(t.Paths(), ",")
}

func (t *Tree) mustMutable() {
	if t.frozen {
		panic("includes: tree is frozen")
	}
}

// IsNone reports whether an include-set name is the reserved "none" literal.
func IsNone(includes string) bool {
	return strings.EqualFold(strings.TrimSpace(includes), NoneSet)
}
