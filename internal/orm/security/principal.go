// Package security models the requesting principal and the class-level and
// property-level authorization rules consulted by data sources, behaviors
// and DTO mapping.
package security

import (
	"context"
	"strings"
)

// Principal is the identity a request runs as.
type Principal interface {
	ID() string
	IsAuthenticated() bool
	IsInRole(role string) bool
	Roles() []string
}

// User is the standard Principal implementation
type User struct {
	UserID string
	Email  string
	roles  []string
}

// NewUser creates an authenticated user with the given roles
func NewUser(id string, roles ...string) *User {
	return &User{UserID: id, roles: append([]string(nil), roles...)}
}

// ID returns the user identifier
func (u *User) ID() string { return u.UserID }

// IsAuthenticated reports whether the user carries an identity
func (u *User) IsAuthenticated() bool { return u != nil && u.UserID != "" }

// Roles returns a copy of the user's roles
func (u *User) Roles() []string { return append([]string(nil), u.roles...) }

// IsInRole checks role membership, ignoring case
func (u *User) IsInRole(role string) bool {
	for _, r := range u.roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type anonymous struct{}

func (anonymous) ID() string            { return "" }
func (anonymous) IsAuthenticated() bool { return false }
func (anonymous) IsInRole(string) bool  { return false }
func (anonymous) Roles() []string       { return nil }

// Anonymous returns the principal used when no identity was presented.
func Anonymous() Principal {
	return anonymous{}
}

// InAnyRole reports whether p holds at least one of roles.
func InAnyRole(p Principal, roles []string) bool {
	for _, r := range roles {
		if p.IsInRole(r) {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal returns a new context carrying p
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or Anonymous when absent
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok && p != nil {
		return p
	}
	return Anonymous()
}
