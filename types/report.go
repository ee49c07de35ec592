package types

import "time"

// AcceptedItem pairs a reference with its routing decision.
type AcceptedItem struct {
	Reference ImageReference  `json:"reference"`
	Decision  RoutingDecision `json:"decision"`
}

// RejectedItem records a quality-gate rejection.
type RejectedItem struct {
	Reference ImageReference `json:"reference"`
	Reason    string         `json:"reason"`
}

// FailedItem records a terminal per-item failure.
type FailedItem struct {
	Reference ImageReference `json:"reference"`
	ErrorKind ErrorCode      `json:"error_kind"`
	Detail    string         `json:"detail,omitempty"`
}

// BatchReport is the aggregate outcome of one batch run. The three
// lists are ordered by completion, not submission; completion order is
// non-deterministic by design. Every submitted reference lands in
// exactly one list, so Accepted+Rejected+Failed always sums to Total.
type BatchReport struct {
	BatchID   string         `json:"batch_id"`
	Total     int            `json:"total"`
	Accepted  []AcceptedItem `json:"accepted"`
	Rejected  []RejectedItem `json:"rejected"`
	Failed    []FailedItem   `json:"failed"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// FailureRate returns the fraction of items that terminally failed.
func (r *BatchReport) FailureRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(len(r.Failed)) / float64(r.Total)
}

// Resolved reports whether every submitted item has an outcome.
func (r *BatchReport) Resolved() bool {
	return len(r.Accepted)+len(r.Rejected)+len(r.Failed) == r.Total
}
