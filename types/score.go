package types

import (
	"math"
	"time"
)

// ClassScore is one entry of a score vector.
type ClassScore struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
}

// ScoreVector is the ordered class-probability output of one scoring
// call. Ordering follows the model's fixed class list.
type ScoreVector []ClassScore

// ArgMax returns the highest-probability class and its probability.
// An empty vector returns ("", 0).
func (v ScoreVector) ArgMax() (string, float64) {
	best := ""
	bestP := 0.0
	for _, s := range v {
		if s.Probability > bestP || best == "" {
			best = s.Class
			bestP = s.Probability
		}
	}
	return best, bestP
}

// Sum returns the total probability mass of the vector.
func (v ScoreVector) Sum() float64 {
	total := 0.0
	for _, s := range v {
		total += s.Probability
	}
	return total
}

// Normalized reports whether the vector sums to one within tolerance.
func (v ScoreVector) Normalized(tolerance float64) bool {
	return math.Abs(v.Sum()-1.0) <= tolerance
}

// ClassificationResult is the outcome of scoring one image. It is owned
// by the pipeline invocation that produced it.
type ClassificationResult struct {
	Reference      ImageReference `json:"reference"`
	Scores         ScoreVector    `json:"score_vector"`
	PredictedClass string         `json:"predicted_class"`
	Confidence     float64        `json:"confidence"`
	Timestamp      time.Time      `json:"timestamp"`
}

// NewClassificationResult derives predicted class and confidence from
// the score vector.
func NewClassificationResult(ref ImageReference, scores ScoreVector, at time.Time) ClassificationResult {
	class, confidence := scores.ArgMax()
	return ClassificationResult{
		Reference:      ref,
		Scores:         scores,
		PredictedClass: class,
		Confidence:     confidence,
		Timestamp:      at,
	}
}
