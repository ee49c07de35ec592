// Package encode turns raw image bytes into the wire payload the
// scoring endpoint consumes.
package encode

import (
	"bytes"
	"context"
	"encoding/base64"

	"github.com/sconeworks/dispatchml/types"
)

var (
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
)

// Encoder is the fixed content transform between fetched bytes and the
// scoring payload: validate the image container, then standard base64.
// The scheme is part of the endpoint contract and not configurable.
type Encoder struct{}

// New creates an Encoder.
func New() *Encoder {
	return &Encoder{}
}

// Encode validates and encodes raw image bytes. Unsupported containers
// fail with INVALID_FORMAT; the transform itself cannot fail.
func (e *Encoder) Encode(raw []byte) (types.EncodedPayload, error) {
	if !isSupportedContainer(raw) {
		return nil, types.NewError(types.ErrInvalidFormat, "not a supported image container (png, jpeg)")
	}
	payload := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(payload, raw)
	return types.EncodedPayload(payload), nil
}

// EncodeFor satisfies the pipeline's encoder contract. The reference
// and context only matter to the caching wrapper; the plain encoder
// ignores them.
func (e *Encoder) EncodeFor(_ context.Context, _ types.ImageReference, raw []byte) (types.EncodedPayload, error) {
	return e.Encode(raw)
}

func isSupportedContainer(raw []byte) bool {
	return bytes.HasPrefix(raw, pngMagic) || bytes.HasPrefix(raw, jpegMagic)
}
