package annotate

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// Cache stores serialized annotations by key.
type Cache interface {
	GetAnnotation(ctx context.Context, key string) ([]byte, bool, error)
	PutAnnotation(ctx context.Context, key string, payload []byte) error
}

// CacheObserver is notified of cache lookups ("hit" or "miss").
type CacheObserver func(result string)

// Cached wraps a Source and memoizes its annotations. Cache failures are
// logged and never fail the annotation itself.
type Cached struct {
	src     Source
	cache   Cache
	name    string
	logger  *zap.Logger
	observe CacheObserver
}

// NewCached decorates src with cache.
func NewCached(src Source, cache Cache, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{
		src:    src,
		cache:  cache,
		name:   SourceName(src),
		logger: logger,
	}
}

// WithObserver sets a hook for hit/miss accounting.
func (c *Cached) WithObserver(fn CacheObserver) *Cached {
	c.observe = fn
	return c
}

// Name implements Named, reporting the wrapped source.
func (c *Cached) Name() string { return c.name }

// Annotate returns the cached annotation for text or calls the wrapped source.
// Errors and empty annotations are not cached.
func (c *Cached) Annotate(ctx context.Context, text string) (Annotation, error) {
	key := CacheKey(c.name, text)

	payload, found, err := c.cache.GetAnnotation(ctx, key)
	if err != nil {
		c.logger.Warn("annotation cache read failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		var ann Annotation
		if err := json.Unmarshal(payload, &ann); err == nil {
			c.record("hit")
			return ann, nil
		}
		c.logger.Warn("annotation cache entry corrupt", zap.String("key", key))
	}
	c.record("miss")

	ann, err := c.src.Annotate(ctx, text)
	if err != nil {
		return Annotation{}, err
	}
	if ann.Empty() {
		return ann, nil
	}

	data, err := json.Marshal(ann)
	if err != nil {
		c.logger.Warn("annotation cache encode failed", zap.Error(err))
		return ann, nil
	}
	if err := c.cache.PutAnnotation(ctx, key, data); err != nil {
		c.logger.Warn("annotation cache write failed", zap.String("key", key), zap.Error(err))
	}
	return ann, nil
}

func (c *Cached) record(result string) {
	if c.observe != nil {
		c.observe(result)
	}
}

// CacheKey derives the cache key for text annotated by the named source.
func CacheKey(source, text string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(source))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
