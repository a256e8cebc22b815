// Package cached decorates a URL repository with a two level read-through
// cache for redirect lookups: an in-process ristretto cache and an optional
// shared Redis cache.
//
// Only the raw record is cached. Expiry is re-checked on every hit, and
// click increments always reach the underlying store keyed by the cached
// record id, so an entry that outlived its record is detected and dropped.
package cached

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/redis/go-redis/v9"

	"github.com/vadimbarashkov/shortly/internal/entity"
	"github.com/vadimbarashkov/shortly/internal/metrics"
)

const keyPrefix = "shortly:url:"

type urlRepository interface {
	Save(ctx context.Context, url *entity.URL) (*entity.URL, error)
	RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.URL, error)
	RetrieveActiveByShortCode(ctx context.Context, shortCode string, now time.Time) (*entity.URL, error)
	IncrementClicks(ctx context.Context, shortCode string, id int64) (int64, error)
	RetrieveAll(ctx context.Context) ([]*entity.URL, error)
	Remove(ctx context.Context, shortCode string) (bool, error)
	AggregateStats(ctx context.Context, since time.Time) (*entity.Stats, error)
	RetrieveTop(ctx context.Context, since time.Time, limit int) ([]*entity.URL, error)
	ClicksOverTime(ctx context.Context, since time.Time, bucket entity.Bucket) ([]entity.ClicksPoint, error)
}

// entry is the cached part of a URL record.
type entry struct {
	ID          int64      `json:"id"`
	OriginalURL string     `json:"original_url"`
	ShortCode   string     `json:"short_code"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func newEntry(url *entity.URL) *entry {
	return &entry{
		ID:          url.ID,
		OriginalURL: url.OriginalURL,
		ShortCode:   url.ShortCode,
		CreatedAt:   url.CreatedAt,
		ExpiresAt:   url.ExpiresAt,
	}
}

func (e *entry) toEntity() *entity.URL {
	return &entity.URL{
		ID:          e.ID,
		OriginalURL: e.OriginalURL,
		ShortCode:   e.ShortCode,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

type Option func(*URLRepository)

// WithRedis enables the shared second level cache.
func WithRedis(client *redis.Client) Option {
	return func(r *URLRepository) {
		r.redis = client
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(r *URLRepository) {
		r.ttl = ttl
	}
}

func WithMaxItems(n int64) Option {
	return func(r *URLRepository) {
		r.maxItems = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *URLRepository) {
		r.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *URLRepository) {
		r.logger = logger
	}
}

// URLRepository serves RetrieveActiveByShortCode from cache and delegates
// everything else to the wrapped repository.
type URLRepository struct {
	urlRepository

	local    *ristretto.Cache
	redis    *redis.Client
	ttl      time.Duration
	maxItems int64
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewURLRepository(next urlRepository, opts ...Option) (*URLRepository, error) {
	const op = "adapter.repository.cached.NewURLRepository"

	r := &URLRepository{
		urlRepository: next,
		ttl:           5 * time.Minute,
		maxItems:      100_000,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	local, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: r.maxItems * 10,
		// Every entry costs 1, so MaxCost bounds the number of entries.
		MaxCost:     r.maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create local cache: %w", op, err)
	}

	r.local = local

	return r, nil
}

func (r *URLRepository) RetrieveActiveByShortCode(ctx context.Context, shortCode string, now time.Time) (*entity.URL, error) {
	e, ok := r.get(ctx, shortCode)
	if ok {
		url := e.toEntity()
		if url.IsExpired(now) {
			return nil, fmt.Errorf("adapter.repository.cached.URLRepository.RetrieveActiveByShortCode: %w", entity.ErrURLNotFound)
		}
		return url, nil
	}

	// The raw record is needed so that an expired link is cached as well
	// and still reported as not found on later hits.
	url, err := r.urlRepository.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, err
	}

	r.set(ctx, newEntry(url))

	if url.IsExpired(now) {
		return nil, fmt.Errorf("adapter.repository.cached.URLRepository.RetrieveActiveByShortCode: %w", entity.ErrURLNotFound)
	}

	return url, nil
}

// IncrementClicks always hits the store. A zero row count means the record
// with this id is gone, possibly replaced by a new one under the same code,
// so any cached copy is dropped.
func (r *URLRepository) IncrementClicks(ctx context.Context, shortCode string, id int64) (int64, error) {
	n, err := r.urlRepository.IncrementClicks(ctx, shortCode, id)
	if err != nil {
		return 0, err
	}

	if n == 0 {
		r.evict(ctx, shortCode)
	}

	return n, nil
}

func (r *URLRepository) Remove(ctx context.Context, shortCode string) (bool, error) {
	deleted, err := r.urlRepository.Remove(ctx, shortCode)
	if err != nil {
		return false, err
	}

	r.evict(ctx, shortCode)

	return deleted, nil
}

// Close releases the local cache. The Redis client is owned by the caller.
func (r *URLRepository) Close() {
	r.local.Close()
}

func (r *URLRepository) get(ctx context.Context, shortCode string) (*entry, bool) {
	if v, ok := r.local.Get(shortCode); ok {
		r.record("l1", "hit")
		return v.(*entry), true
	}
	r.record("l1", "miss")

	if r.redis == nil {
		return nil, false
	}

	data, err := r.redis.Get(ctx, keyPrefix+shortCode).Bytes()
	if errors.Is(err, redis.Nil) {
		r.record("l2", "miss")
		return nil, false
	}
	if err != nil {
		r.record("l2", "error")
		r.logger.Warn("failed to read from redis cache", slog.String("short_code", shortCode), slog.Any("err", err))
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		r.record("l2", "error")
		r.logger.Warn("failed to decode cached url", slog.String("short_code", shortCode), slog.Any("err", err))
		return nil, false
	}
	r.record("l2", "hit")

	r.local.SetWithTTL(shortCode, &e, 1, r.ttl)

	return &e, true
}

func (r *URLRepository) set(ctx context.Context, e *entry) {
	r.local.SetWithTTL(e.ShortCode, e, 1, r.ttl)

	if r.redis == nil {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("failed to encode cached url", slog.String("short_code", e.ShortCode), slog.Any("err", err))
		return
	}

	if err := r.redis.Set(ctx, keyPrefix+e.ShortCode, data, r.ttl).Err(); err != nil {
		r.logger.Warn("failed to write to redis cache", slog.String("short_code", e.ShortCode), slog.Any("err", err))
	}
}

func (r *URLRepository) evict(ctx context.Context, shortCode string) {
	r.local.Del(shortCode)

	if r.redis == nil {
		return
	}

	if err := r.redis.Del(ctx, keyPrefix+shortCode).Err(); err != nil {
		r.logger.Warn("failed to evict from redis cache", slog.String("short_code", shortCode), slog.Any("err", err))
	}
}

func (r *URLRepository) record(layer, result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.CacheOperations.WithLabelValues(layer, result).Inc()
}
