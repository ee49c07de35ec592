// Package storage defines the narrow object-store read contract behind
// ImageFetcher, with filesystem, sqlite and in-memory backends. The
// pipeline never assumes a particular storage technology beyond this
// contract.
package storage

import "context"

// ObjectStore reads raw object bytes by location and key. Errors use
// the pipeline taxonomy: NOT_FOUND for an unresolvable key, retryable
// TRANSIENT_IO for temporary backend unavailability.
type ObjectStore interface {
	Get(ctx context.Context, location, key string) ([]byte, error)
}
