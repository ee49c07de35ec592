// Package policy implements the confidence quality gate: a per-class
// minimum confidence that a prediction must clear before routing.
package policy

import (
	"fmt"

	"github.com/sconeworks/dispatchml/types"
)

// ThresholdPolicy maps vehicle class to minimum acceptable confidence.
// It is loaded once at startup and read-only after.
type ThresholdPolicy map[string]float64

// Classes returns the classes the policy covers.
func (p ThresholdPolicy) Classes() []string {
	out := make([]string, 0, len(p))
	for class := range p {
		out = append(out, class)
	}
	return out
}

// Reject reasons.
const (
	ReasonBelowThreshold = "below threshold"
	ReasonUnknownClass   = "UnknownClass"
)

// Decision is the outcome of the confidence gate.
type Decision struct {
	Accepted  bool
	Reason    string
	Threshold float64
}

// Decide accepts iff the result's confidence meets the threshold for
// its predicted class. A class absent from the policy is rejected as
// UnknownClass. Pure function: no I/O, no mutable state.
func Decide(result types.ClassificationResult, policy ThresholdPolicy) Decision {
	threshold, ok := policy[result.PredictedClass]
	if !ok {
		return Decision{
			Accepted: false,
			Reason:   ReasonUnknownClass,
		}
	}
	if result.Confidence >= threshold {
		return Decision{Accepted: true, Threshold: threshold}
	}
	return Decision{
		Accepted: false,
		Reason: fmt.Sprintf("%s: confidence %.4f below required %.2f for %s",
			ReasonBelowThreshold, result.Confidence, threshold, result.PredictedClass),
		Threshold: threshold,
	}
}
