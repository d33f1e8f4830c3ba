package hooks

import (
	"context"

	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/orm/store"
)

// Context wraps the request context with what a hook needs to inspect or
// extend the unit of work it runs in
type Context struct {
	context.Context
	store store.Store
	class *schema.Class
	user  security.Principal
}

// NewContext creates a new hook context. The principal is taken from ctx.
func NewContext(ctx context.Context, st store.Store, class *schema.Class) *Context {
	return &Context{
		Context: ctx,
		store:   st,
		class:   class,
		user:    security.FromContext(ctx),
	}
}

// Store returns the session the operation runs in. Entities a hook adds
// before the save is persisted are committed with it.
func (c *Context) Store() store.Store {
	return c.store
}

// Class returns the class of the item
func (c *Context) Class() *schema.Class {
	return c.class
}

// User returns the requesting principal
func (c *Context) User() security.Principal {
	return c.user
}
