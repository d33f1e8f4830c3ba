// Package result holds the failure-typed values returned by data sources,
// behaviors and lifecycle hooks. Recoverable failures (not found, denied,
// invalid) are results; errors are reserved for persistence failures and
// broken contracts.
package result

import (
	"fmt"
	"strings"
)

type state uint8

const (
	stateUnset state = iota
	stateOK
	stateFailed
)

// ValidationIssue is one problem with one property of an incoming DTO
type ValidationIssue struct {
	Property string `json:"property"`
	Issue    string `json:"issue"`
}

// Result is the outcome of a step that can succeed or fail with a message.
//
// The zero value is neither: a hook returning it broke its contract, and
// callers detect that with IsZero.
type Result struct {
	state            state
	Message          string
	ValidationIssues []ValidationIssue
}

// OK returns a successful result
func OK() Result {
	return Result{state: stateOK}
}

// Failure returns a failed result carrying msg
func Failure(msg string) Result {
	return Result{state: stateFailed, Message: msg}
}

// Failuref returns a failed result with a formatted message
func Failuref(format string, args ...any) Result {
	return Failure(fmt.Sprintf(format, args...))
}

// Invalid returns a failed result carrying validation issues. The message
// joins the issues.
func Invalid(issues ...ValidationIssue) Result {
	msgs := make([]string, 0, len(issues))
	for _, i := range issues {
		msgs = append(msgs, i.String())
	}
	return Result{
		state:            stateFailed,
		Message:          strings.Join(msgs, " "),
		ValidationIssues: append([]ValidationIssue(nil), issues...),
	}
}

// WasSuccessful reports whether the step succeeded
func (r Result) WasSuccessful() bool {
	return r.state == stateOK
}

// IsZero reports whether r was never set
func (r Result) IsZero() bool {
	return r.state == stateUnset
}

// String renders the result for logs
func (r Result) String() string {
	switch r.state {
	case stateOK:
		return "ok"
	case stateFailed:
		return "failed: " + r.Message
	default:
		return "unset"
	}
}

// String renders "property: issue"
func (i ValidationIssue) String() string {
	if i.Property == "" {
		return i.Issue
	}
	return fmt.Sprintf("%s: %s", i.Property, i.Issue)
}

// NotFoundMessage is the message of a failed lookup by key
func NotFoundMessage(className string, id any) string {
	return fmt.Sprintf("%s item with ID %v was not found.", className, id)
}

// IsNotFound reports whether msg was produced by NotFoundMessage
func IsNotFound(msg string) bool {
	return strings.HasSuffix(msg, " was not found.") && strings.Contains(msg, " item with ID ")
}
