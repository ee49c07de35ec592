package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sconeworks/dispatchml/types"
)

// FSStore serves objects from a directory tree: location maps to a
// subdirectory of the root, key to a relative file path.
type FSStore struct {
	root   string
	logger *zap.Logger
}

// NewFSStore creates a filesystem-backed store rooted at root.
func NewFSStore(root string, logger *zap.Logger) *FSStore {
	return &FSStore{
		root:   root,
		logger: logger.With(zap.String("component", "fs_store")),
	}
}

func (s *FSStore) Get(ctx context.Context, location, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrCancelled, "read cancelled").WithCause(err)
	}

	path := filepath.Join(s.root, location, filepath.FromSlash(key))
	// Keys must stay inside the store root.
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(s.root)+string(os.PathSeparator)) {
		return nil, types.NewError(types.ErrFatal, "key escapes store root")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewError(types.ErrNotFound, "object not found: "+location+"/"+key).WithCause(err)
		}
		s.logger.Warn("filesystem read failed",
			zap.String("location", location),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, types.NewError(types.ErrTransientIO, "filesystem read failed").
			WithRetryable(true).WithCause(err)
	}
	return data, nil
}
