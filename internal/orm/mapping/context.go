// Package mapping converts entity graphs to client-facing DTOs and applies
// incoming DTOs back onto entities, enforcing per-property authorization and
// the include tree of the query that produced the entities.
package mapping

import (
	"context"
	"reflect"
	"strings"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/security"
)

// Context is the per-operation state threaded through every mapping call.
// It is built once per response or per incoming save and never shared.
type Context struct {
	ctx      context.Context
	user     security.Principal
	includes string
	registry *schema.Registry
	visited  map[any]struct{}
}

// NewContext creates a mapping context. An empty includes string means the
// standard include set.
func NewContext(ctx context.Context, user security.Principal, includes string, registry *schema.Registry) *Context {
	if user == nil {
		user = security.Anonymous()
	}
	return &Context{
		ctx:      ctx,
		user:     user,
		includes: includes,
		registry: registry,
		visited:  make(map[any]struct{}),
	}
}

// Context returns the request context
func (c *Context) Context() context.Context {
	return c.ctx
}

// User returns the requesting principal
func (c *Context) User() security.Principal {
	return c.user
}

// Includes returns the requested include-set name
func (c *Context) Includes() string {
	return c.includes
}

// Registry returns the metadata registry
func (c *Context) Registry() *schema.Registry {
	return c.registry
}

// MarkVisited records entity on the current mapping path. It returns false
// when the entity is already on the path, which means mapping it again
// would recurse forever.
func (c *Context) MarkVisited(entity any) bool {
	key, ok := identity(entity)
	if !ok {
		return true
	}
	if _, seen := c.visited[key]; seen {
		return false
	}
	c.visited[key] = struct{}{}
	return true
}

// Leave removes entity from the current mapping path once its subtree is done,
// so the same instance can still be mapped on a sibling branch.
func (c *Context) Leave(entity any) {
	if key, ok := identity(entity); ok {
		delete(c.visited, key)
	}
}

// IsInRole checks the principal's role membership
func (c *Context) IsInRole(role string) bool {
	return c.user.IsInRole(role)
}

// UserCanRead decides whether p of entity may be sent to the client
func (c *Context) UserCanRead(p *schema.Property, entity any) bool {
	if p.Internal || !c.inView(p) {
		return false
	}
	if len(p.ReadRoles) > 0 && !security.InAnyRole(c.user, p.ReadRoles) {
		return false
	}
	for _, name := range p.Restrictions {
		r, ok := p.Owner.Restriction(name)
		if !ok || !r.UserCanRead(c.user, p.Name, entity) {
			return false
		}
	}
	return true
}

// UserCanWrite decides whether the client may set p of entity to incoming.
// Properties the user cannot read cannot be written either.
func (c *Context) UserCanWrite(p *schema.Property, entity any, incoming any) bool {
	if p.Internal {
		return false
	}
	if len(p.ReadRoles) > 0 && !security.InAnyRole(c.user, p.ReadRoles) {
		return false
	}
	if len(p.EditRoles) > 0 && !security.InAnyRole(c.user, p.EditRoles) {
		return false
	}
	for _, name := range p.Restrictions {
		r, ok := p.Owner.Restriction(name)
		if !ok || !r.UserCanWrite(c.user, p.Name, entity, incoming) {
			return false
		}
	}
	return true
}

// UserCanFilter decides whether p may be used to filter, search or sort
func (c *Context) UserCanFilter(p *schema.Property) bool {
	if p.Internal || !c.inView(p) {
		return false
	}
	if len(p.ReadRoles) > 0 && !security.InAnyRole(c.user, p.ReadRoles) {
		return false
	}
	for _, name := range p.Restrictions {
		r, ok := p.Owner.Restriction(name)
		if !ok || !r.UserCanFilter(c.user, p.Name) {
			return false
		}
	}
	return true
}

// inView applies the include/exclude lists keyed by the includes string
func (c *Context) inView(p *schema.Property) bool {
	if len(p.DtoIncludes) > 0 && !containsFold(p.DtoIncludes, c.includes) {
		return false
	}
	return !containsFold(p.DtoExcludes, c.includes)
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// identity returns a comparable key for a pointer entity
func identity(entity any) (any, bool) {
	if entity == nil {
		return nil, false
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, false
	}
	return entity, true
}
