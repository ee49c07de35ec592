package scorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sconeworks/dispatchml/types"
)

var testRef = types.ImageReference{StoreLocation: "test-bucket", Key: "test/bicycle_1.png"}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:   endpoint,
		APIKey:     "secret",
		Timeout:    2 * time.Second,
		Classes:    []string{"bicycle", "motorcycle"},
		MaxRetries: 2,
	}
}

func TestClient_Classify(t *testing.T) {
	var gotContentType, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAPIKey = r.Header.Get("x-api-key")
		assert.Equal(t, "/invocations", r.URL.Path)
		w.Write([]byte(`[0.9988, 0.0012]`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())

	result, err := c.Classify(context.Background(), testRef, types.EncodedPayload("payload"))
	require.NoError(t, err)

	assert.Equal(t, "bicycle", result.PredictedClass)
	assert.InDelta(t, 0.9988, result.Confidence, 1e-9)
	assert.Equal(t, testRef, result.Reference)
	assert.False(t, result.Timestamp.IsZero())
	assert.Equal(t, "image/png", gotContentType)
	assert.Equal(t, "secret", gotAPIKey)
}

func TestClient_SchemaMismatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrong length", `[0.5, 0.3, 0.2]`},
		{"not an array", `{"predictions": [0.5, 0.5]}`},
		{"probability out of range", `[1.4, -0.4]`},
		{"mass not one", `[0.3, 0.3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(testConfig(srv.URL), zap.NewNop())
			_, err := c.Classify(context.Background(), testRef, types.EncodedPayload("payload"))
			require.Error(t, err)
			assert.Equal(t, types.ErrSchemaMismatch, types.CodeOf(err))
		})
	}
}

func TestClient_RetriesUnavailableEndpoint(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[0.1, 0.9]`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())

	result, err := c.Classify(context.Background(), testRef, types.EncodedPayload("payload"))
	require.NoError(t, err)
	assert.Equal(t, "motorcycle", result.PredictedClass)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_InvalidPayloadNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"type": "validation", "message": "malformed payload"}}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zap.NewNop())

	_, err := c.Classify(context.Background(), testRef, types.EncodedPayload("payload"))
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidPayload, types.CodeOf(err))
	assert.Contains(t, err.Error(), "malformed payload")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_TimeoutRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRetries = 5
	c := New(cfg, zap.NewNop())

	_, err := c.Classify(context.Background(), testRef, types.EncodedPayload("payload"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "TIMEOUT")
	// One retry for a timeout, regardless of the retry budget.
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_EndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 1
	c := New(cfg, zap.NewNop())

	_, err := c.Classify(context.Background(), testRef, types.EncodedPayload("payload"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "ENDPOINT_UNAVAILABLE")
}
