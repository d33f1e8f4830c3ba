package result

import "github.com/conduit-lang/crudkit/internal/orm/includes"

// ItemResult is the outcome of a single-item operation. T is the entity
// pointer or the DTO that was mapped from it.
type ItemResult[T any] struct {
	WasSuccessful    bool              `json:"wasSuccessful"`
	Message          string            `json:"message,omitempty"`
	Object           T                 `json:"object,omitempty"`
	HasObject        bool              `json:"-"`
	ValidationIssues []ValidationIssue `json:"validationIssues,omitempty"`
	// IncludeTree records which relations of Object were loaded
	IncludeTree *includes.Tree `json:"-"`
}

// Item returns a successful result carrying obj and its include tree
func Item[T any](obj T, tree *includes.Tree) ItemResult[T] {
	return ItemResult[T]{WasSuccessful: true, Object: obj, HasObject: true, IncludeTree: tree}
}

// Success returns a successful result without a payload
func Success[T any]() ItemResult[T] {
	return ItemResult[T]{WasSuccessful: true}
}

// ItemFailure returns a failed item result carrying msg
func ItemFailure[T any](msg string) ItemResult[T] {
	return ItemResult[T]{Message: msg}
}

// ItemFrom converts a step result into an item result without a payload
func ItemFrom[T any](r Result) ItemResult[T] {
	return ItemResult[T]{
		WasSuccessful:    r.WasSuccessful(),
		Message:          r.Message,
		ValidationIssues: r.ValidationIssues,
	}
}

// NotFound returns the failure for a lookup by key that found nothing
func NotFound[T any](className string, id any) ItemResult[T] {
	return ItemFailure[T](NotFoundMessage(className, id))
}

// MapItem converts the payload of r with fn, keeping status and tree. A
// result without a payload stays without one.
func MapItem[T, U any](r ItemResult[T], fn func(T, *includes.Tree) U) ItemResult[U] {
	out := ItemResult[U]{
		WasSuccessful:    r.WasSuccessful,
		Message:          r.Message,
		ValidationIssues: r.ValidationIssues,
		IncludeTree:      r.IncludeTree,
	}
	if r.HasObject {
		out.Object = fn(r.Object, r.IncludeTree)
		out.HasObject = true
	}
	return out
}
