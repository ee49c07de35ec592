package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sconeworks/dispatchml/storage"
	"github.com/sconeworks/dispatchml/types"
)

func fastConfig() Config {
	return Config{Timeout: 0, MaxAttempts: 3}
}

func TestFetcher_Fetch(t *testing.T) {
	store := storage.NewMemStore()
	store.Put("test-bucket", "test/bicycle_1.png", []byte("png-bytes"))

	f := New(store, fastConfig(), zap.NewNop())

	data, err := f.Fetch(context.Background(), types.ImageReference{
		StoreLocation: "test-bucket",
		Key:           "test/bicycle_1.png",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestFetcher_MalformedReference(t *testing.T) {
	f := New(storage.NewMemStore(), fastConfig(), zap.NewNop())

	_, err := f.Fetch(context.Background(), types.ImageReference{Key: "orphan.png"})
	require.Error(t, err)
	assert.Equal(t, types.ErrFatal, types.CodeOf(err))

	_, err = f.Fetch(context.Background(), types.ImageReference{StoreLocation: "bucket"})
	require.Error(t, err)
	assert.Equal(t, types.ErrFatal, types.CodeOf(err))
}

func TestFetcher_NotFoundIsNotRetried(t *testing.T) {
	store := storage.NewMemStore()
	f := New(store, fastConfig(), zap.NewNop())

	_, err := f.Fetch(context.Background(), types.ImageReference{
		StoreLocation: "test-bucket",
		Key:           "test/missing.png",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestFetcher_RetriesTransientIO(t *testing.T) {
	store := storage.NewMemStore()
	store.Put("bucket", "flaky.png", []byte("eventually"))
	store.FailNext("bucket", "flaky.png",
		types.NewError(types.ErrTransientIO, "store briefly down").WithRetryable(true), 2)

	f := New(store, fastConfig(), zap.NewNop())

	data, err := f.Fetch(context.Background(), types.ImageReference{
		StoreLocation: "bucket",
		Key:           "flaky.png",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("eventually"), data)
}

func TestFetcher_TransientExhaustion(t *testing.T) {
	store := storage.NewMemStore()
	store.Put("bucket", "down.png", []byte("never seen"))
	store.FailNext("bucket", "down.png",
		types.NewError(types.ErrTransientIO, "store down").WithRetryable(true), -1)

	f := New(store, Config{MaxAttempts: 2}, zap.NewNop())

	_, err := f.Fetch(context.Background(), types.ImageReference{
		StoreLocation: "bucket",
		Key:           "down.png",
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "TRANSIENT_IO")
}
