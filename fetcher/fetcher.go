// Package fetcher retrieves raw image bytes for an ImageReference.
package fetcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sconeworks/dispatchml/internal/retry"
	"github.com/sconeworks/dispatchml/storage"
	"github.com/sconeworks/dispatchml/types"
)

// Config controls per-read behavior.
type Config struct {
	// Timeout per read attempt
	Timeout time.Duration
	// MaxAttempts bounds attempts on TRANSIENT_IO (minimum 1)
	MaxAttempts int
}

// DefaultConfig returns fetch defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
	}
}

// Fetcher reads image bytes from an ObjectStore with bounded retries on
// transient failures. It holds no mutable state and is safe for
// concurrent use.
type Fetcher struct {
	store   storage.ObjectStore
	cfg     Config
	retryer *retry.Retryer
	logger  *zap.Logger
}

// New creates a Fetcher over the given store.
func New(store storage.ObjectStore, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	log := logger.With(zap.String("component", "fetcher"))
	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxAttempts - 1
	return &Fetcher{
		store:   store,
		cfg:     cfg,
		retryer: retry.New(policy, log),
		logger:  log,
	}
}

// Fetch resolves the reference to raw bytes. A malformed reference is
// FATAL, an unresolvable one NOT_FOUND; TRANSIENT_IO is retried up to
// the configured attempt bound before surfacing.
func (f *Fetcher) Fetch(ctx context.Context, ref types.ImageReference) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var data []byte
	err := f.retryer.Do(ctx, func() error {
		attemptCtx := ctx
		if f.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
			defer cancel()
		}
		var getErr error
		data, getErr = f.store.Get(attemptCtx, ref.StoreLocation, ref.Key)
		return getErr
	})
	if err != nil {
		f.logger.Debug("fetch failed",
			zap.String("reference", ref.String()),
			zap.Error(err),
		)
		return nil, err
	}
	return data, nil
}
