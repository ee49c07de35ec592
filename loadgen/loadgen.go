// Package loadgen produces synthetic request streams to exercise the
// pipeline under configurable concurrency and duration profiles. It is
// a test harness, not a production path: it needs to measure the
// system without becoming a serialization bottleneck itself, so each
// worker accumulates latencies locally and the slices are merged only
// after the run.
package loadgen

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sconeworks/dispatchml/pipeline"
	"github.com/sconeworks/dispatchml/types"
)

// Mode selects the traffic shape.
type Mode string

const (
	// ModeBurst fires Count items as fast as the in-flight cap allows.
	ModeBurst Mode = "BURST"
	// ModeSustained paces items at a steady rate for Duration.
	ModeSustained Mode = "SUSTAINED"
)

// Worker-count bounds.
const (
	MinWorkers = 1
	MaxWorkers = 50
)

// Options shapes a load run.
type Options struct {
	Mode     Mode
	Workers  int
	Count    int           // BURST: total items to fire
	Duration time.Duration // SUSTAINED: how long to keep the rate
	Rate     float64       // SUSTAINED: items per second; defaults to Workers*2
}

// LoadReport aggregates one run.
type LoadReport struct {
	Mode       Mode          `json:"mode"`
	Workers    int           `json:"workers"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Elapsed    time.Duration `json:"elapsed"`
	Throughput float64       `json:"throughput_per_sec"`
	LatencyP50 time.Duration `json:"latency_p50"`
	LatencyP95 time.Duration `json:"latency_p95"`
	ErrorRate  float64       `json:"error_rate"`
}

// Processor is the unit of work under load; batch.Orchestrator's
// Processor satisfies it too.
type Processor interface {
	Process(ctx context.Context, ref types.ImageReference) pipeline.ItemResult
}

// Generator drives a Processor with synthetic references.
type Generator struct {
	proc   Processor
	logger *zap.Logger

	// refFor maps a sequence number to a synthetic reference.
	// Overridable so callers can point load at seeded keys.
	refFor func(seq int) types.ImageReference
}

// New creates a Generator producing references under the given store
// location. refFor may be nil, in which case sequential synthetic keys
// are generated.
func New(proc Processor, storeLocation string, logger *zap.Logger, refFor func(int) types.ImageReference) *Generator {
	if refFor == nil {
		refFor = func(seq int) types.ImageReference {
			return types.ImageReference{
				StoreLocation: storeLocation,
				Key:           fmt.Sprintf("synthetic/img-%06d.png", seq),
			}
		}
	}
	return &Generator{
		proc:   proc,
		logger: logger.With(zap.String("component", "loadgen")),
		refFor: refFor,
	}
}

// workerStats is one worker's local accumulation. No shared state is
// touched during the run.
type workerStats struct {
	latencies []time.Duration
	failed    int
}

// Run executes one load profile and returns its report.
func (g *Generator) Run(ctx context.Context, opts Options) (*LoadReport, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}

	g.logger.Info("load run starting",
		zap.String("mode", string(opts.Mode)),
		zap.Int("workers", opts.Workers),
		zap.Int("count", opts.Count),
		zap.Duration("duration", opts.Duration),
	)

	start := time.Now()
	var stats []workerStats
	var err error
	switch opts.Mode {
	case ModeBurst:
		stats, err = g.runBurst(ctx, opts)
	case ModeSustained:
		stats, err = g.runSustained(ctx, opts)
	}
	if err != nil {
		return nil, err
	}

	report := summarize(opts, stats, time.Since(start))
	g.logger.Info("load run finished",
		zap.Int("total", report.Total),
		zap.Int("failed", report.Failed),
		zap.Float64("throughput_per_sec", report.Throughput),
		zap.Duration("p95", report.LatencyP95),
	)
	return report, nil
}

func validate(opts Options) error {
	if opts.Workers < MinWorkers || opts.Workers > MaxWorkers {
		return types.NewError(types.ErrConfigurationError,
			fmt.Sprintf("workers must be in [%d,%d], got %d", MinWorkers, MaxWorkers, opts.Workers))
	}
	switch opts.Mode {
	case ModeBurst:
		if opts.Count < 1 {
			return types.NewError(types.ErrConfigurationError, "burst mode requires count >= 1")
		}
	case ModeSustained:
		if opts.Duration <= 0 {
			return types.NewError(types.ErrConfigurationError, "sustained mode requires a positive duration")
		}
	default:
		return types.NewError(types.ErrConfigurationError,
			fmt.Sprintf("unknown load mode %q", opts.Mode))
	}
	return nil
}

// runBurst fires opts.Count items with at most opts.Workers in flight,
// capped by a weighted semaphore.
func (g *Generator) runBurst(ctx context.Context, opts Options) ([]workerStats, error) {
	sem := semaphore.NewWeighted(int64(opts.Workers))
	stats := make([]workerStats, opts.Count)

	var wg sync.WaitGroup
	for i := 0; i < opts.Count; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			break // cancelled; items not fired simply don't count
		}
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			defer sem.Release(1)
			stats[seq] = g.fire(ctx, seq)
		}(i)
	}
	wg.Wait()
	return stats, nil
}

// runSustained paces items at opts.Rate per second until opts.Duration
// elapses. Each worker pulls the next sequence number after the
// limiter admits it.
func (g *Generator) runSustained(ctx context.Context, opts Options) ([]workerStats, error) {
	perSec := opts.Rate
	if perSec <= 0 {
		perSec = float64(opts.Workers) * 2
	}
	limiter := rate.NewLimiter(rate.Limit(perSec), opts.Workers)

	runCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	seqs := make(chan int)
	go func() {
		defer close(seqs)
		for seq := 0; ; seq++ {
			if err := limiter.Wait(runCtx); err != nil {
				return // duration elapsed or caller cancelled
			}
			select {
			case seqs <- seq:
			case <-runCtx.Done():
				return
			}
		}
	}()

	stats := make([]workerStats, opts.Workers)
	var wg sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			local := workerStats{}
			for seq := range seqs {
				// The parent ctx, not runCtx: items admitted before the
				// deadline are allowed to finish.
				s := g.fire(ctx, seq)
				local.latencies = append(local.latencies, s.latencies...)
				local.failed += s.failed
			}
			stats[slot] = local
		}(w)
	}
	wg.Wait()
	return stats, nil
}

// fire runs one synthetic item and returns its single-sample stats.
func (g *Generator) fire(ctx context.Context, seq int) workerStats {
	ref := g.refFor(seq)
	began := time.Now()
	res := g.proc.Process(ctx, ref)
	s := workerStats{latencies: []time.Duration{time.Since(began)}}
	if res.Outcome == pipeline.OutcomeFailed {
		s.failed = 1
	}
	return s
}

func summarize(opts Options, stats []workerStats, elapsed time.Duration) *LoadReport {
	var all []time.Duration
	failed := 0
	for _, s := range stats {
		all = append(all, s.latencies...)
		failed += s.failed
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	report := &LoadReport{
		Mode:    opts.Mode,
		Workers: opts.Workers,
		Total:   len(all),
		Failed:  failed,
		Elapsed: elapsed,
	}
	report.Succeeded = report.Total - report.Failed
	if report.Total > 0 {
		report.Throughput = float64(report.Total) / elapsed.Seconds()
		report.ErrorRate = float64(report.Failed) / float64(report.Total)
		report.LatencyP50 = percentile(all, 0.50)
		report.LatencyP95 = percentile(all, 0.95)
	}
	return report
}

// percentile takes the nearest-rank percentile of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
