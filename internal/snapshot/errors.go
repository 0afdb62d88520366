package snapshot

import "errors"

// Error kinds. Operations wrap these with %w; match with errors.Is.
var (
	// ErrConfiguration is a bad request: missing input or an unusable
	// filename.
	ErrConfiguration = errors.New("snapshot: configuration error")

	// ErrParse is malformed import JSON. Nothing is applied.
	ErrParse = errors.New("snapshot: parse error")

	// ErrIO is a failed file or object read or write.
	ErrIO = errors.New("snapshot: i/o error")

	// ErrRegistryUnavailable is a registry that could not be read, or
	// cannot be written during an import.
	ErrRegistryUnavailable = errors.New("snapshot: registry unavailable")
)
