// Package batch fans a list of image references out across the
// per-item pipeline with bounded concurrency and aggregates partial
// results. One item's failure never aborts or corrupts the rest.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sconeworks/dispatchml/monitor"
	"github.com/sconeworks/dispatchml/notify"
	"github.com/sconeworks/dispatchml/pipeline"
	"github.com/sconeworks/dispatchml/types"
)

// Processor runs one item to a terminal outcome.
type Processor interface {
	Process(ctx context.Context, ref types.ImageReference) pipeline.ItemResult
}

// Orchestrator drives batches over a Processor.
type Orchestrator struct {
	proc             Processor
	notifier         notify.Notifier
	workflow         string
	alertFailureRate float64
	metrics          *monitor.Collector
	logger           *zap.Logger
}

// Option configures optional orchestrator collaborators.
type Option func(*Orchestrator)

// WithFailureAlerts emits an alert when a batch's failure rate exceeds
// rate.
func WithFailureAlerts(n notify.Notifier, workflow string, rate float64) Option {
	return func(o *Orchestrator) {
		o.notifier = n
		o.workflow = workflow
		o.alertFailureRate = rate
	}
}

// WithMetrics records batch-level metrics.
func WithMetrics(m *monitor.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(proc Processor, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		proc:             proc,
		alertFailureRate: 1.1, // alerts off unless configured
		logger:           logger.With(zap.String("component", "batch")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes refs with a fixed pool of exactly concurrency workers.
// It returns once every item has resolved to accepted, rejected or
// failed; there is no early exit on failure. When the context is
// cancelled, in-flight items finish or surface CANCELLED and
// not-yet-started items are recorded CANCELLED, so the report always
// accounts for every submitted reference. List order is completion
// order.
func (o *Orchestrator) Run(ctx context.Context, refs []types.ImageReference, concurrency int) (*types.BatchReport, error) {
	if concurrency < 1 {
		return nil, types.NewError(types.ErrConfigurationError,
			fmt.Sprintf("concurrency must be >= 1, got %d", concurrency))
	}
	if concurrency > len(refs) && len(refs) > 0 {
		concurrency = len(refs)
	}

	report := &types.BatchReport{
		BatchID:   uuid.NewString(),
		Total:     len(refs),
		StartedAt: time.Now(),
	}

	if o.metrics != nil {
		o.metrics.BatchSubmitted(len(refs))
	}
	o.logger.Info("batch started",
		zap.String("batch_id", report.BatchID),
		zap.Int("total", len(refs)),
		zap.Int("concurrency", concurrency),
	)

	if len(refs) == 0 {
		return report, nil
	}

	queue := make(chan types.ImageReference)
	results := make(chan pipeline.ItemResult, len(refs))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ref, ok := <-queue:
					if !ok {
						return
					}
					results <- o.proc.Process(ctx, ref)
				}
			}
		}()
	}

	// Feeder: every reference goes exactly one way — to a worker, or
	// straight to the results channel as CANCELLED once the context is
	// done. The queue is unbuffered so no reference can be stranded
	// in flight.
	go func() {
		defer close(queue)
		for i, ref := range refs {
			select {
			case queue <- ref:
			case <-ctx.Done():
				for _, rest := range refs[i:] {
					results <- cancelledResult(rest, ctx.Err())
				}
				return
			}
		}
	}()

	for resolved := 0; resolved < len(refs); resolved++ {
		res := <-results
		switch res.Outcome {
		case pipeline.OutcomeAccepted:
			report.Accepted = append(report.Accepted, types.AcceptedItem{
				Reference: res.Ref,
				Decision:  res.Decision,
			})
		case pipeline.OutcomeRejected:
			report.Rejected = append(report.Rejected, types.RejectedItem{
				Reference: res.Ref,
				Reason:    res.Reason,
			})
		default:
			report.Failed = append(report.Failed, types.FailedItem{
				Reference: res.Ref,
				ErrorKind: errorKind(res.Err),
				Detail:    errDetail(res.Err),
			})
		}
	}
	wg.Wait()

	report.Duration = time.Since(report.StartedAt)
	o.logger.Info("batch finished",
		zap.String("batch_id", report.BatchID),
		zap.Int("accepted", len(report.Accepted)),
		zap.Int("rejected", len(report.Rejected)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration),
	)

	o.maybeAlert(report)
	return report, nil
}

func (o *Orchestrator) maybeAlert(report *types.BatchReport) {
	if o.notifier == nil || report.FailureRate() <= o.alertFailureRate {
		return
	}
	alert := notify.NewAlert(
		notify.AlertHighFailureRate,
		o.workflow,
		fmt.Sprintf("batch %s: %d of %d items failed", report.BatchID, len(report.Failed), report.Total),
		notify.RecommendedAction(notify.AlertHighFailureRate),
	)
	if err := o.notifier.Send(context.Background(), alert); err != nil {
		o.logger.Warn("alert delivery failed", zap.Error(err))
	}
}

func cancelledResult(ref types.ImageReference, cause error) pipeline.ItemResult {
	return pipeline.ItemResult{
		Ref:     ref,
		Outcome: pipeline.OutcomeFailed,
		Err:     types.NewError(types.ErrCancelled, "batch cancelled before item started").WithCause(cause),
	}
}

func errorKind(err error) types.ErrorCode {
	if code := types.CodeOf(err); code != "" {
		return code
	}
	return types.ErrFatal
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
