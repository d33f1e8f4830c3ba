package relationships

import "errors"

var (
	// ErrMaxDepthExceeded is returned when the maximum relationship depth is exceeded
	ErrMaxDepthExceeded = errors.New("maximum relationship depth exceeded")

	// ErrUnknownRelationship is returned when an include names no persisted navigation
	ErrUnknownRelationship = errors.New("unknown relationship")

	// ErrMissingKey is returned when a navigation has no foreign or inverse key property
	ErrMissingKey = errors.New("relationship has no key property")
)
