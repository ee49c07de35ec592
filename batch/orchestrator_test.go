package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/sconeworks/dispatchml/notify"
	"github.com/sconeworks/dispatchml/pipeline"
	"github.com/sconeworks/dispatchml/types"
)

// fakeProc resolves items from a canned outcome table and tracks the
// observed concurrency high-water mark.
type fakeProc struct {
	outcomes map[string]pipeline.ItemResult
	delay    time.Duration

	active int64
	peak   int64
}

func (f *fakeProc) Process(ctx context.Context, ref types.ImageReference) pipeline.ItemResult {
	cur := atomic.AddInt64(&f.active, 1)
	for {
		p := atomic.LoadInt64(&f.peak)
		if cur <= p || atomic.CompareAndSwapInt64(&f.peak, p, cur) {
			break
		}
	}
	defer atomic.AddInt64(&f.active, -1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return pipeline.ItemResult{
				Ref:     ref,
				Outcome: pipeline.OutcomeFailed,
				Err:     types.NewError(types.ErrCancelled, "interrupted").WithCause(ctx.Err()),
			}
		}
	}

	if res, ok := f.outcomes[ref.Key]; ok {
		res.Ref = ref
		return res
	}
	return accepted(ref)
}

func accepted(ref types.ImageReference) pipeline.ItemResult {
	return pipeline.ItemResult{
		Ref:     ref,
		Outcome: pipeline.OutcomeAccepted,
		Decision: types.RoutingDecision{
			VehicleClass: "bicycle",
			RouteType:    types.RouteShortDistance,
			Priority:     types.PriorityHigh,
		},
	}
}

func rejected(ref types.ImageReference) pipeline.ItemResult {
	return pipeline.ItemResult{Ref: ref, Outcome: pipeline.OutcomeRejected, Reason: "below threshold"}
}

func failed(ref types.ImageReference, code types.ErrorCode) pipeline.ItemResult {
	return pipeline.ItemResult{
		Ref:     ref,
		Outcome: pipeline.OutcomeFailed,
		Err:     types.NewError(code, "stub failure"),
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Send(_ context.Context, alert notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func makeRefs(n int) []types.ImageReference {
	refs := make([]types.ImageReference, n)
	for i := range refs {
		refs[i] = types.ImageReference{StoreLocation: "vehicle-images", Key: fmt.Sprintf("img-%03d.png", i)}
	}
	return refs
}

func TestRunAllResolvedWithOneFetchFailure(t *testing.T) {
	refs := makeRefs(10)
	proc := &fakeProc{outcomes: map[string]pipeline.ItemResult{
		refs[3].Key: failed(refs[3], types.ErrNotFound),
	}}
	o := New(proc, zap.NewNop())

	report, err := o.Run(context.Background(), refs, 4)
	require.NoError(t, err)

	assert.Equal(t, 10, report.Total)
	assert.Len(t, report.Accepted, 9)
	assert.Len(t, report.Failed, 1)
	assert.True(t, report.Resolved())
	assert.Equal(t, types.ErrNotFound, report.Failed[0].ErrorKind)
	assert.Equal(t, refs[3].Key, report.Failed[0].Reference.Key)
	assert.NotEmpty(t, report.BatchID)
	assert.GreaterOrEqual(t, report.Duration, time.Duration(0))
}

func TestRunNoEarlyExitWhenEverythingFails(t *testing.T) {
	refs := makeRefs(8)
	outcomes := make(map[string]pipeline.ItemResult, len(refs))
	for _, ref := range refs {
		outcomes[ref.Key] = failed(ref, types.ErrEndpointUnavailable)
	}
	o := New(&fakeProc{outcomes: outcomes}, zap.NewNop())

	report, err := o.Run(context.Background(), refs, 3)
	require.NoError(t, err)

	assert.Len(t, report.Failed, 8)
	assert.True(t, report.Resolved())
}

func TestRunHonorsConcurrencyBound(t *testing.T) {
	proc := &fakeProc{delay: 20 * time.Millisecond}
	o := New(proc, zap.NewNop())

	report, err := o.Run(context.Background(), makeRefs(20), 3)
	require.NoError(t, err)
	require.True(t, report.Resolved())

	peak := atomic.LoadInt64(&proc.peak)
	assert.LessOrEqual(t, peak, int64(3), "worker pool exceeded its bound")
	assert.GreaterOrEqual(t, peak, int64(2), "pool never ran items in parallel")
}

func TestRunConcurrencyClampedToBatchSize(t *testing.T) {
	proc := &fakeProc{delay: 5 * time.Millisecond}
	o := New(proc, zap.NewNop())

	report, err := o.Run(context.Background(), makeRefs(2), 16)
	require.NoError(t, err)
	assert.True(t, report.Resolved())
	assert.LessOrEqual(t, atomic.LoadInt64(&proc.peak), int64(2))
}

func TestRunRejectsInvalidConcurrency(t *testing.T) {
	o := New(&fakeProc{}, zap.NewNop())
	_, err := o.Run(context.Background(), makeRefs(1), 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigurationError, types.CodeOf(err))
}

func TestRunEmptyBatch(t *testing.T) {
	o := New(&fakeProc{}, zap.NewNop())
	report, err := o.Run(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.True(t, report.Resolved())
	assert.Equal(t, 0.0, report.FailureRate())
}

func TestRunCancellationAccountsForEveryItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProc{delay: 20 * time.Millisecond}
	o := New(proc, zap.NewNop())

	time.AfterFunc(50*time.Millisecond, cancel)
	report, err := o.Run(ctx, makeRefs(30), 2)
	require.NoError(t, err)

	assert.True(t, report.Resolved(), "every submitted item must land in exactly one list")
	require.NotEmpty(t, report.Failed, "cancellation should strand some items")
	for _, item := range report.Failed {
		assert.Equal(t, types.ErrCancelled, item.ErrorKind)
	}
	assert.NotEmpty(t, report.Accepted, "items completed before cancel should keep their outcome")
}

func TestRunFailureRateAlert(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		rate       float64
		wantAlerts int
	}{
		{name: "above threshold", failures: 3, rate: 0.2, wantAlerts: 1},
		{name: "below threshold", failures: 1, rate: 0.2, wantAlerts: 0},
		{name: "at threshold exactly", failures: 2, rate: 0.2, wantAlerts: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := makeRefs(10)
			outcomes := make(map[string]pipeline.ItemResult)
			for _, ref := range refs[:tt.failures] {
				outcomes[ref.Key] = failed(ref, types.ErrTransientIO)
			}
			notifier := &recordingNotifier{}
			o := New(&fakeProc{outcomes: outcomes}, zap.NewNop(),
				WithFailureAlerts(notifier, "vehicle-dispatch", tt.rate))

			report, err := o.Run(context.Background(), refs, 4)
			require.NoError(t, err)
			require.True(t, report.Resolved())

			require.Equal(t, tt.wantAlerts, notifier.count())
			if tt.wantAlerts > 0 {
				assert.Equal(t, notify.AlertHighFailureRate, notifier.alerts[0].AlertType)
				assert.Contains(t, notifier.alerts[0].ErrorDetails, report.BatchID)
			}
		})
	}
}

func TestRunCountInvariantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "n")
		concurrency := rapid.IntRange(1, 8).Draw(t, "concurrency")

		refs := makeRefs(n)
		outcomes := make(map[string]pipeline.ItemResult)
		var wantAccepted, wantRejected, wantFailed int
		for _, ref := range refs {
			switch rapid.IntRange(0, 2).Draw(t, "outcome") {
			case 0:
				outcomes[ref.Key] = accepted(ref)
				wantAccepted++
			case 1:
				outcomes[ref.Key] = rejected(ref)
				wantRejected++
			default:
				outcomes[ref.Key] = failed(ref, types.ErrTransientIO)
				wantFailed++
			}
		}

		o := New(&fakeProc{outcomes: outcomes}, zap.NewNop())
		report, err := o.Run(context.Background(), refs, concurrency)
		if err != nil {
			t.Fatalf("run: %v", err)
		}

		if !report.Resolved() {
			t.Fatalf("unresolved report: %d+%d+%d != %d",
				len(report.Accepted), len(report.Rejected), len(report.Failed), report.Total)
		}
		if len(report.Accepted) != wantAccepted || len(report.Rejected) != wantRejected || len(report.Failed) != wantFailed {
			t.Fatalf("outcome counts changed in aggregation")
		}
	})
}
