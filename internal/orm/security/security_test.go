package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_IsInRole(t *testing.T) {
	u := NewUser("42", "Admin", "editor")

	assert.True(t, u.IsAuthenticated())
	assert.True(t, u.IsInRole("admin"))
	assert.True(t, u.IsInRole("Editor"))
	assert.False(t, u.IsInRole("viewer"))
}

func TestFromContext(t *testing.T) {
	p := FromContext(context.Background())
	assert.False(t, p.IsAuthenticated())

	ctx := WithPrincipal(context.Background(), NewUser("7"))
	assert.Equal(t, "7", FromContext(ctx).ID())
}

func TestPermission_Allows(t *testing.T) {
	admin := NewUser("1", "admin")
	plain := NewUser("2")
	anon := Anonymous()

	tests := []struct {
		name string
		perm Permission
		p    Principal
		want bool
	}{
		{"zero value allows authenticated", Permission{}, plain, true},
		{"zero value rejects anonymous", Permission{}, anon, false},
		{"anonymous allowed", Permission{AllowAnonymous: true}, anon, true},
		{"role required and held", Permission{Roles: []string{"admin"}}, admin, true},
		{"role required and missing", Permission{Roles: []string{"admin"}}, plain, false},
		{"denied", Permission{Denied: true, AllowAnonymous: true}, admin, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.perm.Allows(tt.p))
		})
	}
}

func TestClassSecurity_For(t *testing.T) {
	cs := ClassSecurity{Delete: Permission{Denied: true}}

	assert.True(t, cs.Allows(ActionRead, NewUser("1")))
	assert.False(t, cs.Allows(ActionDelete, NewUser("1")))
	assert.Contains(t, UnauthorizedMessage(ActionDelete, "Person"), "Unauthorized")
	assert.True(t, IsUnauthorized(UnauthorizedMessage(ActionRead, "Person")))
	assert.False(t, IsUnauthorized("Person item with ID 1 was not found."))
}

func TestRestrictionFuncs_FilterFallsBackToRead(t *testing.T) {
	r := RestrictionFuncs{
		Read: func(p Principal, _ string, _ any) bool { return p.IsInRole("hr") },
	}

	assert.False(t, r.UserCanFilter(NewUser("1"), "Salary"))
	assert.True(t, r.UserCanFilter(NewUser("1", "hr"), "Salary"))
	assert.True(t, r.UserCanWrite(NewUser("1"), "Salary", nil, 10))
}
