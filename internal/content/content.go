// Package content provides the URI-keyed content cache shared between the
// ClearlyDefined request manager and the rest of the SBOM generator.
//
// A URI is in one of three states: cached with a payload, confirmed absent
// (the remote service answered 404 at some point), or never observed. The
// distinction matters because a confirmed-absent entry suppresses future
// network requests for that URI entirely.
package content

import "errors"

var (
	// ErrMiss is returned when a URI has never been observed.
	// This should be checked using errors.Is().
	ErrMiss = errors.New("content miss")
	// ErrAbsent is returned when a URI carries a negative entry, i.e. the
	// resource is confirmed absent on the remote service.
	ErrAbsent = errors.New("content confirmed absent")
	// ErrClosed is returned when an operation is attempted on a closed handler.
	ErrClosed = errors.New("content handler is closed")
)

// Handler is the interface that each content store must implement.
type Handler interface {
	// GetContent retrieves the cached payload for a URI.
	// Returns ErrMiss if the URI has never been observed.
	// Returns ErrAbsent if the URI carries a negative entry.
	// Returns ErrClosed if the handler has been closed.
	GetContent(uri string) (string, error)

	// SaveContent stores a payload for a URI, replacing any previous entry.
	// Returns ErrClosed if the handler has been closed.
	SaveContent(uri string, body string) error

	// SaveAbsent stores a negative entry for a URI, replacing any previous
	// entry. Subsequent GetContent calls return ErrAbsent.
	// Returns ErrClosed if the handler has been closed.
	SaveAbsent(uri string) error

	// Close closes the handler and releases any associated resources.
	// This method is idempotent - calling Close multiple times is safe.
	// After Close is called, all other operations will return ErrClosed.
	Close() error
}
