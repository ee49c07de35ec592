// Package pipeline composes the five per-item stages: fetch, encode,
// score, filter, route. Stage ordering within one item is strictly
// sequential; items are independent of each other.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sconeworks/dispatchml/monitor"
	"github.com/sconeworks/dispatchml/notify"
	"github.com/sconeworks/dispatchml/policy"
	"github.com/sconeworks/dispatchml/routing"
	"github.com/sconeworks/dispatchml/types"
)

// Terminal item outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Fetcher retrieves raw image bytes for a reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref types.ImageReference) ([]byte, error)
}

// Encoder produces the scoring payload for a reference's raw bytes.
type Encoder interface {
	EncodeFor(ctx context.Context, ref types.ImageReference, raw []byte) (types.EncodedPayload, error)
}

// Scorer invokes the remote classification endpoint.
type Scorer interface {
	Classify(ctx context.Context, ref types.ImageReference, payload types.EncodedPayload) (types.ClassificationResult, error)
}

// ItemResult is the terminal outcome of one item's pipeline run.
type ItemResult struct {
	Ref      types.ImageReference
	Outcome  string
	Decision types.RoutingDecision
	Reason   string
	Err      error
}

// Pipeline runs the per-item stages. It holds no per-item state and is
// safe for concurrent use.
type Pipeline struct {
	fetcher    Fetcher
	encoder    Encoder
	scorer     Scorer
	thresholds policy.ThresholdPolicy
	engine     *routing.Engine
	capture    *monitor.Capture
	metrics    *monitor.Collector
	notifier   notify.Notifier
	workflow   string
	logger     *zap.Logger
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithCapture records every scored result to the monitoring capture.
func WithCapture(c *monitor.Capture) Option {
	return func(p *Pipeline) { p.capture = c }
}

// WithMetrics records stage and outcome metrics.
func WithMetrics(m *monitor.Collector) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithNotifier emits alerts for Fatal item failures.
func WithNotifier(n notify.Notifier, workflow string) Option {
	return func(p *Pipeline) {
		p.notifier = n
		p.workflow = workflow
	}
}

// New composes a pipeline from its stages.
func New(
	fetcher Fetcher,
	encoder Encoder,
	scorer Scorer,
	thresholds policy.ThresholdPolicy,
	engine *routing.Engine,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		fetcher:    fetcher,
		encoder:    encoder,
		scorer:     scorer,
		thresholds: thresholds,
		engine:     engine,
		logger:     logger.With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one item through all stages. It never panics the caller
// and never returns a Go error: all failures become a failed
// ItemResult so the batch layer can aggregate without special cases.
func (p *Pipeline) Process(ctx context.Context, ref types.ImageReference) ItemResult {
	if err := ctx.Err(); err != nil {
		return p.failed(ref, types.NewError(types.ErrCancelled, "item not started").WithCause(err))
	}

	raw, err := stage(p, "fetch", func() ([]byte, error) {
		return p.fetcher.Fetch(ctx, ref)
	})
	if err != nil {
		return p.failed(ref, err)
	}

	payload, err := stage(p, "encode", func() (types.EncodedPayload, error) {
		return p.encoder.EncodeFor(ctx, ref, raw)
	})
	if err != nil {
		return p.failed(ref, err)
	}

	result, err := stage(p, "score", func() (types.ClassificationResult, error) {
		return p.scorer.Classify(ctx, ref, payload)
	})
	if err != nil {
		return p.failed(ref, err)
	}

	decision := policy.Decide(result, p.thresholds)
	if !decision.Accepted {
		p.record(result, OutcomeRejected)
		p.done(OutcomeRejected)
		return ItemResult{Ref: ref, Outcome: OutcomeRejected, Reason: decision.Reason}
	}

	route, err := p.engine.Route(result.PredictedClass, result.Confidence)
	if err != nil {
		p.record(result, OutcomeFailed)
		return p.failed(ref, err)
	}

	p.record(result, OutcomeAccepted)
	p.done(OutcomeAccepted)
	p.logger.Debug("item routed",
		zap.String("reference", ref.String()),
		zap.String("class", result.PredictedClass),
		zap.Float64("confidence", result.Confidence),
		zap.String("route_type", string(route.RouteType)),
	)
	return ItemResult{Ref: ref, Outcome: OutcomeAccepted, Decision: route}
}

// stage times and instruments one stage invocation.
func stage[T any](p *Pipeline, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	if p.metrics != nil {
		p.metrics.StageDone(name, time.Since(start), err)
	}
	return out, err
}

func (p *Pipeline) failed(ref types.ImageReference, err error) ItemResult {
	p.done(OutcomeFailed)

	if types.CodeOf(err) == types.ErrFatal && p.notifier != nil {
		alert := notify.NewAlert(
			notify.AlertItemFatal,
			p.workflow,
			ref.String()+": "+err.Error(),
			notify.RecommendedAction(notify.AlertItemFatal),
		)
		if sendErr := p.notifier.Send(context.Background(), alert); sendErr != nil {
			p.logger.Warn("alert delivery failed", zap.Error(sendErr))
		}
	}

	p.logger.Debug("item failed",
		zap.String("reference", ref.String()),
		zap.Error(err),
	)
	return ItemResult{Ref: ref, Outcome: OutcomeFailed, Err: err}
}

func (p *Pipeline) record(result types.ClassificationResult, outcome string) {
	if p.capture != nil {
		p.capture.Record(result, outcome)
	}
}

func (p *Pipeline) done(outcome string) {
	if p.metrics != nil {
		p.metrics.ItemDone(outcome)
	}
}
