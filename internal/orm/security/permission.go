package security

import (
	"fmt"
	"strings"
)

// Action is a class-level operation guarded by a Permission.
type Action int

const (
	ActionRead Action = iota
	ActionCreate
	ActionEdit
	ActionDelete
)

// String returns the action name
func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionCreate:
		return "create"
	case ActionEdit:
		return "edit"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Permission describes who may perform one action on a class.
//
// The zero value allows any authenticated principal.
type Permission struct {
	Denied         bool
	AllowAnonymous bool
	Roles          []string
}

// Allows evaluates the permission for p
func (perm Permission) Allows(p Principal) bool {
	if perm.Denied {
		return false
	}
	if !perm.AllowAnonymous && !p.IsAuthenticated() {
		return false
	}
	if len(perm.Roles) == 0 {
		return true
	}
	return InAnyRole(p, perm.Roles)
}

// ClassSecurity holds the per-action permissions of a class
type ClassSecurity struct {
	Read   Permission
	Create Permission
	Edit   Permission
	Delete Permission
}

// For returns the permission guarding action
func (cs *ClassSecurity) For(action Action) *Permission {
	switch action {
	case ActionCreate:
		return &cs.Create
	case ActionEdit:
		return &cs.Edit
	case ActionDelete:
		return &cs.Delete
	default:
		return &cs.Read
	}
}

// Allows evaluates the permission for action
func (cs *ClassSecurity) Allows(action Action, p Principal) bool {
	return cs.For(action).Allows(p)
}

// UnauthorizedMessage builds the failure message returned when an action is denied.
func UnauthorizedMessage(action Action, className string) string {
	return fmt.Sprintf("%s You do not have permission to %s %s items.", unauthorizedPrefix, action, className)
}

// unauthorizedPrefix starts every authorization denial message
const unauthorizedPrefix = "Unauthorized."

// IsUnauthorized reports whether msg is an authorization denial
func IsUnauthorized(msg string) bool {
	return strings.HasPrefix(msg, unauthorizedPrefix)
}
