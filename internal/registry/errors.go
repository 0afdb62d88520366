package registry

import "errors"

// Domain errors for registry operations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("registry: not found")

	// ErrUnsupported is returned by a source that lacks an optional
	// relation at runtime.
	ErrUnsupported = errors.New("registry: unsupported by source")

	// ErrReadOnly is returned when updating a source that cannot write.
	ErrReadOnly = errors.New("registry: source is read-only")

	// ErrInvalidFixture is returned when a fixture file fails validation.
	ErrInvalidFixture = errors.New("registry: invalid fixture")
)
