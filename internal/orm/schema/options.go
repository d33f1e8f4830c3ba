package schema

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/crudkit/internal/orm/security"
)

// ClassOption configures a class at registration
type ClassOption func(*Class) error

// WithTable overrides the table name
func WithTable(name string) ClassOption {
	return func(c *Class) error {
		c.Table = name
		return nil
	}
}

// WithStandardIncludes replaces the default one-level reference includes
func WithStandardIncludes(paths ...string) ClassOption {
	return func(c *Class) error {
		if err := c.checkPaths(paths); err != nil {
			return err
		}
		c.standardIncludes = paths
		c.hasStandardIncludes = true
		return nil
	}
}

// WithIncludeSet declares a named bundle of relation paths
func WithIncludeSet(name string, paths ...string) ClassOption {
	return func(c *Class) error {
		if strings.EqualFold(name, "none") {
			return fmt.Errorf("include set name %q is reserved", name)
		}
		if err := c.checkPaths(paths); err != nil {
			return err
		}
		c.includeSets[strings.ToLower(name)] = paths
		return nil
	}
}

// WithReadRoles restricts reading the class to the given roles
func WithReadRoles(roles ...string) ClassOption {
	return withRoles(security.ActionRead, roles)
}

// WithCreateRoles restricts creating instances to the given roles
func WithCreateRoles(roles ...string) ClassOption {
	return withRoles(security.ActionCreate, roles)
}

// WithEditRoles restricts editing instances to the given roles
func WithEditRoles(roles ...string) ClassOption {
	return withRoles(security.ActionEdit, roles)
}

// WithDeleteRoles restricts deleting instances to the given roles
func WithDeleteRoles(roles ...string) ClassOption {
	return withRoles(security.ActionDelete, roles)
}

func withRoles(action security.Action, roles []string) ClassOption {
	return func(c *Class) error {
		c.Security.For(action).Roles = roles
		return nil
	}
}

// AllowAnonymous opens actions to unauthenticated principals
func AllowAnonymous(actions ...security.Action) ClassOption {
	return func(c *Class) error {
		for _, a := range actions {
			c.Security.For(a).AllowAnonymous = true
		}
		return nil
	}
}

// DenyAction forbids actions for everyone
func DenyAction(actions ...security.Action) ClassOption {
	return func(c *Class) error {
		for _, a := range actions {
			c.Security.For(a).Denied = true
		}
		return nil
	}
}

// WithRestriction registers a restriction referenced by `restrict=` tags on
// this class.
func WithRestriction(name string, r security.Restriction) ClassOption {
	return func(c *Class) error {
		c.restrictions[strings.ToLower(name)] = r
		return nil
	}
}

// External marks the class as having no backing store
func External() ClassOption {
	return func(c *Class) error {
		c.External = true
		return nil
	}
}

// checkPaths verifies that each dotted path walks navigation properties
func (c *Class) checkPaths(paths []string) error {
	for _, path := range paths {
		current := c
		for _, seg := range strings.Split(path, ".") {
			if current == nil {
				return fmt.Errorf("include path %q: %q is not a navigation", path, seg)
			}
			p := current.Property(seg)
			if p == nil || !p.IsNavigation() {
				return fmt.Errorf("include path %q: %q is not a navigation", path, seg)
			}
			current = p.related
		}
	}
	return nil
}
