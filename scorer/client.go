// Package scorer wraps the remote classification endpoint behind a
// strict typed contract. The model is a black box; the only contract
// surface is the ordered class list and the probability vector, and
// every response is validated against it.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sconeworks/dispatchml/internal/retry"
	"github.com/sconeworks/dispatchml/types"
)

// Config configures the inference client.
type Config struct {
	// Endpoint base URL of the inference service
	Endpoint string
	// APIKey is sent as x-api-key when non-empty
	APIKey string
	// Timeout per invocation
	Timeout time.Duration
	// Classes is the model's fixed, ordered class list
	Classes []string
	// MaxRetries bounds retries on ENDPOINT_UNAVAILABLE; TIMEOUT is
	// retried at most once regardless
	MaxRetries int
	// SumTolerance for probability-mass validation (default 0.01)
	SumTolerance float64
}

// Client invokes the remote scoring endpoint over HTTP.
type Client struct {
	cfg     Config
	client  *http.Client
	retryer *retry.Retryer
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a scoring client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SumTolerance == 0 {
		cfg.SumTolerance = 0.01
	}
	log := logger.With(zap.String("component", "scorer"))
	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		retryer: retry.New(policy, log),
		logger:  log,
		now:     time.Now,
	}
}

type errorResp struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) buildHeaders(req *http.Request) {
	// The endpoint consumes the serialized image payload directly; the
	// content type names the underlying container, matching the model's
	// deployment contract.
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}
}

// Classify scores one payload and returns the validated probability
// vector paired with the configured class list.
func (c *Client) Classify(ctx context.Context, ref types.ImageReference, payload types.EncodedPayload) (types.ClassificationResult, error) {
	var scores types.ScoreVector

	timeoutRetried := false
	err := c.retryer.Do(ctx, func() error {
		var callErr error
		scores, callErr = c.invoke(ctx, payload)
		if callErr != nil && types.CodeOf(callErr) == types.ErrTimeout {
			// Timeout is retryable once, then terminal.
			if timeoutRetried {
				if e, ok := callErr.(*types.Error); ok {
					e.Retryable = false
				}
			}
			timeoutRetried = true
		}
		return callErr
	})
	if err != nil {
		return types.ClassificationResult{}, err
	}

	return types.NewClassificationResult(ref, scores, c.now()), nil
}

func (c *Client) invoke(ctx context.Context, payload types.EncodedPayload) (types.ScoreVector, error) {
	endpoint := strings.TrimRight(c.cfg.Endpoint, "/") + "/invocations"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidPayload, "build inference request").WithCause(err)
	}
	c.buildHeaders(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, types.NewError(types.ErrCancelled, "inference call cancelled").WithCause(err)
		}
		var urlTimeout interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlTimeout) && urlTimeout.Timeout()) {
			return nil, types.NewError(types.ErrTimeout, "inference call timed out").
				WithRetryable(true).WithCause(err)
		}
		return nil, types.NewError(types.ErrEndpointUnavailable, "inference endpoint unreachable").
			WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrEndpointUnavailable, "read inference response").
			WithRetryable(true).WithCause(err)
	}

	c.logger.Debug("inference call completed",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusRequestTimeout:
		return nil, types.NewError(types.ErrTimeout, "endpoint reported timeout").WithRetryable(true)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, types.NewError(types.ErrEndpointUnavailable,
			fmt.Sprintf("endpoint returned status %d: %s", resp.StatusCode, readErrMsg(body))).
			WithRetryable(true)
	default:
		return nil, types.NewError(types.ErrInvalidPayload,
			fmt.Sprintf("endpoint rejected payload with status %d: %s", resp.StatusCode, readErrMsg(body)))
	}

	var probs []float64
	if err := json.Unmarshal(body, &probs); err != nil {
		return nil, types.NewError(types.ErrSchemaMismatch, "inference response is not a probability array").WithCause(err)
	}

	return c.validate(probs)
}

// validate enforces the typed contract on every response: vector length
// must match the class list, probabilities must be in [0,1] and sum to
// one within tolerance.
func (c *Client) validate(probs []float64) (types.ScoreVector, error) {
	if len(probs) != len(c.cfg.Classes) {
		return nil, types.NewError(types.ErrSchemaMismatch,
			fmt.Sprintf("expected %d probabilities, got %d", len(c.cfg.Classes), len(probs)))
	}

	scores := make(types.ScoreVector, len(probs))
	for i, p := range probs {
		if p < 0 || p > 1 {
			return nil, types.NewError(types.ErrSchemaMismatch,
				fmt.Sprintf("probability %g for class %q outside [0,1]", p, c.cfg.Classes[i]))
		}
		scores[i] = types.ClassScore{Class: c.cfg.Classes[i], Probability: p}
	}

	if !scores.Normalized(c.cfg.SumTolerance) {
		return nil, types.NewError(types.ErrSchemaMismatch,
			fmt.Sprintf("probability mass %g outside tolerance of 1.0", scores.Sum()))
	}
	return scores, nil
}

func readErrMsg(body []byte) string {
	var er errorResp
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
