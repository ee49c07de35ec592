package types

import "fmt"

// ImageReference identifies one image in an object store. It is created
// by the caller and never mutated by the pipeline.
type ImageReference struct {
	StoreLocation string `json:"store_location"`
	Key           string `json:"key"`
}

// String renders the reference as location/key for logs and cache keys.
func (r ImageReference) String() string {
	return fmt.Sprintf("%s/%s", r.StoreLocation, r.Key)
}

// Validate reports whether the reference is well formed. A malformed
// reference is a caller bug, not a transient condition.
func (r ImageReference) Validate() error {
	if r.StoreLocation == "" {
		return NewError(ErrFatal, "image reference missing store location")
	}
	if r.Key == "" {
		return NewError(ErrFatal, "image reference missing key")
	}
	return nil
}

// EncodedPayload is the wire payload consumed by the scoring endpoint.
// It is derived deterministically from the raw image bytes and has no
// identity of its own beyond the reference it was derived from.
type EncodedPayload []byte
