package storage

import (
	"context"
	"sync"

	"github.com/sconeworks/dispatchml/types"
)

// MemStore is an in-memory ObjectStore with fault injection, used in
// tests and by the load generator's self-contained mode.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	// failures maps location/key to an error returned the next N gets
	failures map[string]*injectedFailure
}

type injectedFailure struct {
	err       error
	remaining int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects:  make(map[string][]byte),
		failures: make(map[string]*injectedFailure),
	}
}

func memKey(location, key string) string { return location + "/" + key }

// Put stores an object.
func (s *MemStore) Put(location, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[memKey(location, key)] = data
}

// FailNext makes the next n Gets for the given object return err.
func (s *MemStore) FailNext(location, key string, err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[memKey(location, key)] = &injectedFailure{err: err, remaining: n}
}

func (s *MemStore) Get(ctx context.Context, location, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrCancelled, "read cancelled").WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey(location, key)
	if f, ok := s.failures[k]; ok && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		return nil, f.err
	}

	data, ok := s.objects[k]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "object not found: "+k)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
