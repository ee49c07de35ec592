package storage

import (
	"context"
	"errors"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sconeworks/dispatchml/types"
)

// StoredObject is the blob row persisted by GormStore.
type StoredObject struct {
	ID       uint   `gorm:"primaryKey"`
	Location string `gorm:"uniqueIndex:idx_location_key;size:255"`
	Key      string `gorm:"uniqueIndex:idx_location_key;size:512"`
	Data     []byte
}

// TableName keeps the table name stable across gorm naming strategies.
func (StoredObject) TableName() string { return "objects" }

// GormStore is a sqlite-backed ObjectStore. It exists for deployments
// where the image corpus ships as a single file rather than a mounted
// directory; the read contract is identical to the other backends.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore opens (or creates) the sqlite database at dsn and
// migrates the blob table.
func NewGormStore(dsn string, logger *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrConfigurationError, "open sqlite object store").WithCause(err)
	}
	if err := db.AutoMigrate(&StoredObject{}); err != nil {
		return nil, types.NewError(types.ErrConfigurationError, "migrate sqlite object store").WithCause(err)
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}, nil
}

func (s *GormStore) Get(ctx context.Context, location, key string) ([]byte, error) {
	var obj StoredObject
	err := s.db.WithContext(ctx).
		Where("location = ? AND key = ?", location, key).
		First(&obj).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewError(types.ErrNotFound, "object not found: "+location+"/"+key)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrCancelled, "read cancelled").WithCause(err)
		}
		s.logger.Warn("sqlite read failed",
			zap.String("location", location),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, types.NewError(types.ErrTransientIO, "sqlite read failed").
			WithRetryable(true).WithCause(err)
	}
	return obj.Data, nil
}

// Put inserts or replaces an object. Used by ingest tooling and tests;
// the pipeline itself only reads.
func (s *GormStore) Put(ctx context.Context, location, key string, data []byte) error {
	obj := StoredObject{Location: location, Key: key, Data: data}
	err := s.db.WithContext(ctx).
		Where("location = ? AND key = ?", location, key).
		Assign(map[string]any{"data": data}).
		FirstOrCreate(&obj).Error
	if err != nil {
		return types.NewError(types.ErrTransientIO, "sqlite write failed").
			WithRetryable(true).WithCause(err)
	}
	return nil
}
