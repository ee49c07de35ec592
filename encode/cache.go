package encode

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sconeworks/dispatchml/types"
)

// CacheConfig configures the redis payload cache.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// CachedEncoder wraps Encoder with a redis read-through cache. Payloads
// are content-addressable by reference, so the cache key is the
// reference itself. Cache trouble degrades to a direct encode; it never
// fails an item.
type CachedEncoder struct {
	encoder *Encoder
	client  *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
}

// NewCachedEncoder creates a CachedEncoder. The redis connection is
// verified eagerly so a misconfigured cache surfaces at startup.
func NewCachedEncoder(encoder *Encoder, cfg CacheConfig, logger *zap.Logger) (*CachedEncoder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrConfigurationError, "connect to payload cache").WithCause(err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &CachedEncoder{
		encoder: encoder,
		client:  client,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "payload_cache")),
	}, nil
}

func cacheKey(ref types.ImageReference) string {
	return "payload:" + ref.String()
}

// EncodeFor returns the cached payload for ref, or encodes raw and
// populates the cache on a miss.
func (c *CachedEncoder) EncodeFor(ctx context.Context, ref types.ImageReference, raw []byte) (types.EncodedPayload, error) {
	key := cacheKey(ref)

	cached, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return types.EncodedPayload(cached), nil
	}
	if err != redis.Nil {
		c.logger.Warn("payload cache read failed, encoding directly",
			zap.String("reference", ref.String()),
			zap.Error(err),
		)
	}

	payload, err := c.encoder.Encode(raw)
	if err != nil {
		return nil, err
	}

	if setErr := c.client.Set(ctx, key, []byte(payload), c.ttl).Err(); setErr != nil {
		c.logger.Warn("payload cache write failed",
			zap.String("reference", ref.String()),
			zap.Error(setErr),
		)
	}
	return payload, nil
}

// Close releases the redis connection.
func (c *CachedEncoder) Close() error {
	return c.client.Close()
}
