// Package monitor provides results capture and metrics for the
// pipeline. Every classification result is captured, not sampled.
package monitor

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sconeworks/dispatchml/types"
)

// CaptureRecord is one newline-delimited capture entry, written for
// every scored result whether it was accepted or rejected.
type CaptureRecord struct {
	Reference       types.ImageReference `json:"reference"`
	PredictedClass  string               `json:"predicted_class"`
	Confidence      float64              `json:"confidence"`
	ScoreVector     types.ScoreVector    `json:"score_vector"`
	Timestamp       time.Time            `json:"timestamp"`
	DecisionOutcome string               `json:"decision_outcome"`
}

// Capture appends JSONL records to a sink. Writes are serialized by a
// mutex; a single writer owns the stream.
type Capture struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	logger *zap.Logger
}

// NewCapture writes records to w.
func NewCapture(w io.Writer, logger *zap.Logger) *Capture {
	return &Capture{
		enc:    json.NewEncoder(w),
		logger: logger.With(zap.String("component", "capture")),
	}
}

// NewFileCapture appends records to the file at path, creating it if
// needed.
func NewFileCapture(path string, logger *zap.Logger) (*Capture, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, types.NewError(types.ErrConfigurationError, "open capture file").WithCause(err)
	}
	c := NewCapture(f, logger)
	c.closer = f
	return c, nil
}

// Record captures one scored result. Capture failures are logged and
// swallowed: monitoring must never change a pipeline outcome.
func (c *Capture) Record(result types.ClassificationResult, outcome string) {
	rec := CaptureRecord{
		Reference:       result.Reference,
		PredictedClass:  result.PredictedClass,
		Confidence:      result.Confidence,
		ScoreVector:     result.Scores,
		Timestamp:       result.Timestamp,
		DecisionOutcome: outcome,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(rec); err != nil {
		c.logger.Warn("capture write failed",
			zap.String("reference", result.Reference.String()),
			zap.Error(err),
		)
	}
}

// Close closes the underlying file sink, if any.
func (c *Capture) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
