// Package memory provides an in-process URL repository.
// It is meant for development and tests; records are lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vadimbarashkov/shortly/internal/entity"
)

type URLRepository struct {
	mu     sync.RWMutex
	nextID int64
	urls   map[string]*entity.URL
}

func NewURLRepository() *URLRepository {
	return &URLRepository{
		urls: make(map[string]*entity.URL),
	}
}

// copyURL returns a detached copy so callers never share state with the map.
func copyURL(u *entity.URL) *entity.URL {
	c := *u
	if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func (r *URLRepository) Save(_ context.Context, url *entity.URL) (*entity.URL, error) {
	const op = "adapter.repository.memory.URLRepository.Save"

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.urls[url.ShortCode]; ok {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrShortCodeExists)
	}

	r.nextID++

	stored := copyURL(url)
	stored.ID = r.nextID
	stored.Clicks = 0
	r.urls[stored.ShortCode] = stored

	return copyURL(stored), nil
}

func (r *URLRepository) RetrieveByShortCode(_ context.Context, shortCode string) (*entity.URL, error) {
	const op = "adapter.repository.memory.URLRepository.RetrieveByShortCode"

	r.mu.RLock()
	defer r.mu.RUnlock()

	url, ok := r.urls[shortCode]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return copyURL(url), nil
}

func (r *URLRepository) RetrieveActiveByShortCode(_ context.Context, shortCode string, now time.Time) (*entity.URL, error) {
	const op = "adapter.repository.memory.URLRepository.RetrieveActiveByShortCode"

	r.mu.RLock()
	defer r.mu.RUnlock()

	url, ok := r.urls[shortCode]
	if !ok || url.IsExpired(now) {
		return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return copyURL(url), nil
}

// IncrementClicks counts a click only if shortCode still belongs to the record with id.
func (r *URLRepository) IncrementClicks(_ context.Context, shortCode string, id int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	url, ok := r.urls[shortCode]
	if !ok || url.ID != id {
		return 0, nil
	}

	url.Clicks++
	return 1, nil
}

func (r *URLRepository) RetrieveAll(_ context.Context) ([]*entity.URL, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	urls := make([]*entity.URL, 0, len(r.urls))
	for _, url := range r.urls {
		urls = append(urls, copyURL(url))
	}

	sortNewestFirst(urls)

	return urls, nil
}

func (r *URLRepository) Remove(_ context.Context, shortCode string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.urls[shortCode]; !ok {
		return false, nil
	}

	delete(r.urls, shortCode)
	return true, nil
}

func (r *URLRepository) AggregateStats(_ context.Context, since time.Time) (*entity.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats entity.Stats
	for _, url := range r.urls {
		if url.CreatedAt.Before(since) {
			continue
		}
		stats.TotalURLs++
		stats.TotalClicks += url.Clicks
	}

	if stats.TotalURLs > 0 {
		stats.AvgClicks = float64(stats.TotalClicks) / float64(stats.TotalURLs)
	}

	return &stats, nil
}

func (r *URLRepository) RetrieveTop(_ context.Context, since time.Time, limit int) ([]*entity.URL, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var urls []*entity.URL
	for _, url := range r.urls {
		if !url.CreatedAt.Before(since) {
			urls = append(urls, copyURL(url))
		}
	}

	sort.SliceStable(urls, func(i, j int) bool {
		if urls[i].Clicks != urls[j].Clicks {
			return urls[i].Clicks > urls[j].Clicks
		}
		return urls[i].ID < urls[j].ID
	})

	if len(urls) > limit {
		urls = urls[:limit]
	}

	return urls, nil
}

func (r *URLRepository) ClicksOverTime(_ context.Context, since time.Time, bucket entity.Bucket) ([]entity.ClicksPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sums := make(map[string]int64)
	for _, url := range r.urls {
		if url.CreatedAt.Before(since) {
			continue
		}
		sums[bucket.Format(url.CreatedAt)] += url.Clicks
	}

	points := make([]entity.ClicksPoint, 0, len(sums))
	for period, clicks := range sums {
		points = append(points, entity.ClicksPoint{Period: period, Clicks: clicks})
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].Period < points[j].Period
	})

	return points, nil
}

// sortNewestFirst orders by creation time descending, ties broken by id.
func sortNewestFirst(urls []*entity.URL) {
	sort.Slice(urls, func(i, j int) bool {
		if !urls[i].CreatedAt.Equal(urls[j].CreatedAt) {
			return urls[i].CreatedAt.After(urls[j].CreatedAt)
		}
		return urls[i].ID > urls[j].ID
	})
}
