// Package response renders data source and behaviors results as JSON.
package response

import (
	"errors"
	"net/http"

	"github.com/conduit-lang/crudkit/internal/orm/result"
	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/orm/store"
)

// StatusFor maps a result onto an HTTP status.
//
// Successes are 200. Validation failures are 400. Authorization denials are
// 401 for anonymous callers and 403 otherwise. Lookups by key that found
// nothing are 404. Any other failure (a hook veto, a bad key) is 400.
func StatusFor(wasSuccessful bool, message string, issues int, authenticated bool) int {
	switch {
	case wasSuccessful:
		return http.StatusOK
	case issues > 0:
		return http.StatusBadRequest
	case security.IsUnauthorized(message):
		if authenticated {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case result.IsNotFound(message):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// StatusForError maps an operation error onto an HTTP status. Constraint
// violations reported by the store are the client's fault.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, store.ErrForeignKeyViolation),
		errors.Is(err, store.ErrCheckViolation),
		errors.Is(err, store.ErrNotNullViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RenderItem writes an item result with the status derived from it
func RenderItem[T any](w http.ResponseWriter, p security.Principal, res result.ItemResult[T]) {
	RenderJSON(w, StatusFor(res.WasSuccessful, res.Message, len(res.ValidationIssues), p.IsAuthenticated()), res)
}

// RenderList writes a list result with the status derived from it
func RenderList[T any](w http.ResponseWriter, p security.Principal, res result.ListResult[T]) {
	RenderJSON(w, StatusFor(res.WasSuccessful, res.Message, 0, p.IsAuthenticated()), res)
}

// RenderOperationError writes an error returned by a data source or
// behaviors call. Store constraint violations keep their message; anything
// else is a 500 without details.
func RenderOperationError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		RenderInternalError(w)
		return
	}
	RenderError(w, status, err)
}
