// Package pagecache read-through caches windowed feature fetches.
package pagecache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/featuregrid/internal/cache/keys"
	"github.com/mohammed-shakir/featuregrid/internal/cache/redisstore"
	"github.com/mohammed-shakir/featuregrid/internal/core/model"
	"github.com/mohammed-shakir/featuregrid/internal/core/observability"
)

const (
	TierL1 = "l1"
	TierL2 = "l2"
)

// Upstream is the remote collection being cached.
type Upstream interface {
	URL() string
	CountMatching(ctx context.Context, where string) (int, error)
	Describe(ctx context.Context) ([]model.Field, error)
	FetchWindow(ctx context.Context, q model.WindowQuery) (model.FeatureSet, error)
}

// Store is the shared second tier.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

type Config struct {
	Size int
	TTL  time.Duration
}

// Cache holds encoded pages; every hit decodes a fresh copy so callers
// never share row maps.
type Cache struct {
	l1     *expirable.LRU[string, []byte]
	l2     Store
	ttl    time.Duration
	logger *slog.Logger
}

// New builds a cache. l2 may be nil for an in-process cache only.
func New(cfg Config, l2 Store, logger *slog.Logger) *Cache {
	if cfg.Size <= 0 {
		cfg.Size = 512
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		l1:     expirable.NewLRU[string, []byte](cfg.Size, nil, cfg.TTL),
		l2:     l2,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

// Wrap returns up with FetchWindow served through the cache.
func (c *Cache) Wrap(up Upstream) *Layer {
	return &Layer{up: up, c: c}
}

// Purge drops every cached page of layerURL from both tiers.
func (c *Cache) Purge(ctx context.Context, layerURL string) (int, error) {
	prefix := keys.LayerPrefix(layerURL)
	removed := 0
	for _, k := range c.l1.Keys() {
		if strings.HasPrefix(k, prefix) && c.l1.Remove(k) {
			removed++
		}
	}
	if c.l2 == nil {
		return removed, nil
	}
	n, err := c.l2.DelPrefix(ctx, prefix)
	if err != nil {
		return removed, fmt.Errorf("purge %s: %w", layerURL, err)
	}
	return removed + n, nil
}

// Len is the number of pages held in process.
func (c *Cache) Len() int { return c.l1.Len() }

func (c *Cache) get(ctx context.Context, key string) (model.FeatureSet, bool) {
	if b, ok := c.l1.Get(key); ok {
		if fs, err := decode(b); err == nil {
			observability.IncPageCache(TierL1, true)
			return fs, true
		}
		c.l1.Remove(key)
	}
	observability.IncPageCache(TierL1, false)

	if c.l2 == nil {
		return model.FeatureSet{}, false
	}
	b, err := c.l2.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redisstore.ErrMiss) {
			c.logger.WarnContext(ctx, "page cache lookup failed", "key", key, "err", err)
		}
		observability.IncPageCache(TierL2, false)
		return model.FeatureSet{}, false
	}
	fs, err := decode(b)
	if err != nil {
		c.logger.WarnContext(ctx, "discarding undecodable cached page", "key", key, "err", err)
		observability.IncPageCache(TierL2, false)
		return model.FeatureSet{}, false
	}
	observability.IncPageCache(TierL2, true)
	c.l1.Add(key, b)
	return fs, true
}

func (c *Cache) put(ctx context.Context, key string, fs model.FeatureSet) {
	b, err := json.Marshal(fs)
	if err != nil {
		c.logger.WarnContext(ctx, "page not cacheable", "key", key, "err", err)
		return
	}
	c.l1.Add(key, b)
	if c.l2 == nil {
		return
	}
	if err := c.l2.Set(ctx, key, b, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "page cache write failed", "key", key, "err", err)
	}
}

func decode(b []byte) (model.FeatureSet, error) {
	var fs model.FeatureSet
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&fs); err != nil {
		return model.FeatureSet{}, fmt.Errorf("decode cached page: %w", err)
	}
	return fs, nil
}

// Layer is an Upstream whose windowed fetches go through a Cache.
// Count and schema requests always reach the upstream.
type Layer struct {
	up Upstream
	c  *Cache
}

func (l *Layer) URL() string { return l.up.URL() }

func (l *Layer) CountMatching(ctx context.Context, where string) (int, error) {
	return l.up.CountMatching(ctx, where)
}

func (l *Layer) Describe(ctx context.Context) ([]model.Field, error) {
	return l.up.Describe(ctx)
}

func (l *Layer) FetchWindow(ctx context.Context, q model.WindowQuery) (model.FeatureSet, error) {
	if !cacheable(q) {
		return l.up.FetchWindow(ctx, q)
	}
	key := keys.PageKey(l.up.URL(), q.Start, q.Count)
	if fs, ok := l.c.get(ctx, key); ok {
		return fs, nil
	}
	fs, err := l.up.FetchWindow(ctx, q)
	if err != nil {
		return model.FeatureSet{}, err
	}
	l.c.put(ctx, key, fs)
	return fs, nil
}

// only the full-row window shape is keyed
func cacheable(q model.WindowQuery) bool {
	return q.Where == model.MatchAll &&
		q.ReturnGeometry &&
		len(q.OutFields) == 1 && q.OutFields[0] == "*"
}
