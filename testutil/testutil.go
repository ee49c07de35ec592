// Package testutil provides shared test helpers: bounded test
// contexts and minimal well-formed image fixtures.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/sconeworks/dispatchml/types"
)

// TestContext returns a context that expires with a generous test
// timeout and is cleaned up with the test.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns a context that is already cancelled.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// PNGBytes returns bytes carrying a valid PNG signature followed by
// the given tail, enough to pass format sniffing.
func PNGBytes(tail string) []byte {
	return append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, tail...)
}

// JPEGBytes returns bytes carrying a valid JPEG signature followed by
// the given tail.
func JPEGBytes(tail string) []byte {
	return append([]byte{0xFF, 0xD8, 0xFF}, tail...)
}

// Scores builds a normalized score vector that puts confidence on the
// named class and spreads the remainder evenly over the others.
func Scores(classes []string, class string, confidence float64) types.ScoreVector {
	scores := make(types.ScoreVector, len(classes))
	rest := 0.0
	if len(classes) > 1 {
		rest = (1 - confidence) / float64(len(classes)-1)
	}
	for i, name := range classes {
		if name == class {
			scores[i] = types.ClassScore{Class: name, Probability: confidence}
		} else {
			scores[i] = types.ClassScore{Class: name, Probability: rest}
		}
	}
	return scores
}
