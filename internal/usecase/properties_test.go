package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadimbarashkov/shortly/internal/adapter/repository/cached"
	"github.com/vadimbarashkov/shortly/internal/adapter/repository/memory"
	"github.com/vadimbarashkov/shortly/internal/entity"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestUseCase(t *testing.T) (*URLUseCase, *memory.URLRepository, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	repo := memory.NewURLRepository()
	uc := New(repo, NewCodeGenerator(repo), WithClock(clock.Now))

	return uc, repo, clock
}

func TestShortenResolve_RoundTrip(t *testing.T) {
	ctx := context.Background()
	uc, _, _ := newTestUseCase(t)

	res, err := uc.ShortenURL(ctx, ShortenParams{
		OriginalURL: "https://example.com/a",
		BaseURL:     "http://localhost:8080",
	})
	require.NoError(t, err)
	assert.Len(t, res.URL.ShortCode, DefaultCodeLength)
	assert.Zero(t, res.URL.Clicks)

	originalURL, err := uc.ResolveShortCode(ctx, res.URL.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", originalURL)

	url, err := uc.GetURLStats(ctx, res.URL.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), url.Clicks)
}

func TestShortenURL_ConcurrentCodesAreUnique(t *testing.T) {
	const n = 200

	ctx := context.Background()
	uc, _, _ := newTestUseCase(t)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]struct{}, n)
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := uc.ShortenURL(ctx, ShortenParams{OriginalURL: "https://example.com"})
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			codes[res.URL.ShortCode] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, codes, n)
}

func TestShortenURL_ConcurrentCustomCode(t *testing.T) {
	const n = 20

	ctx := context.Background()
	uc, repo, _ := newTestUseCase(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := uc.ShortenURL(ctx, ShortenParams{
				OriginalURL: "https://example.com",
				CustomCode:  "promo",
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrShortCodeTaken)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)

	urls, err := repo.RetrieveAll(ctx)
	require.NoError(t, err)
	assert.Len(t, urls, 1)
}

func TestResolveShortCode_ConcurrentClicks(t *testing.T) {
	const n = 100

	ctx := context.Background()
	uc, _, _ := newTestUseCase(t)

	res, err := uc.ShortenURL(ctx, ShortenParams{OriginalURL: "https://example.com"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.ResolveShortCode(ctx, res.URL.ShortCode)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	url, err := uc.GetURLStats(ctx, res.URL.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(n), url.Clicks)
}

func TestResolveShortCode_Expiry(t *testing.T) {
	ctx := context.Background()
	uc, _, clock := newTestUseCase(t)

	res, err := uc.ShortenURL(ctx, ShortenParams{
		OriginalURL:    "https://example.com",
		CustomCode:     "soon",
		ExpiresInHours: 1,
	})
	require.NoError(t, err)

	_, err = uc.ResolveShortCode(ctx, "soon")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	_, err = uc.ResolveShortCode(ctx, "soon")
	assert.ErrorIs(t, err, entity.ErrURLNotFound)

	// Expired links remain visible to stats with their click count.
	url, err := uc.GetURLStats(ctx, res.URL.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), url.Clicks)
	assert.True(t, url.IsExpired(clock.Now()))
}

func TestResolveShortCode_AfterDelete(t *testing.T) {
	ctx := context.Background()
	uc, _, _ := newTestUseCase(t)

	_, err := uc.ShortenURL(ctx, ShortenParams{OriginalURL: "https://example.com", CustomCode: "gone"})
	require.NoError(t, err)

	require.NoError(t, uc.DeleteURL(ctx, "gone"))

	_, err = uc.ResolveShortCode(ctx, "gone")
	assert.ErrorIs(t, err, entity.ErrURLNotFound)

	assert.ErrorIs(t, uc.DeleteURL(ctx, "gone"), entity.ErrURLNotFound)
}

func TestShortenURL_Rejections(t *testing.T) {
	ctx := context.Background()
	uc, repo, _ := newTestUseCase(t)

	_, err := uc.ShortenURL(ctx, ShortenParams{OriginalURL: "ftp://example.com"})
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = uc.ShortenURL(ctx, ShortenParams{OriginalURL: "https://example.com", CustomCode: "ab"})
	assert.ErrorIs(t, err, ErrInvalidShortCode)

	_, err = uc.ShortenURL(ctx, ShortenParams{OriginalURL: "https://example.com", CustomCode: "taken"})
	require.NoError(t, err)

	_, err = uc.ShortenURL(ctx, ShortenParams{OriginalURL: "https://other.com", CustomCode: "taken"})
	assert.ErrorIs(t, err, ErrShortCodeTaken)

	urls, err := repo.RetrieveAll(ctx)
	require.NoError(t, err)
	assert.Len(t, urls, 1)
}

func TestShortenURL_Exhaustion(t *testing.T) {
	ctx := context.Background()
	uc, _, _ := newTestUseCase(t)

	_, err := uc.ShortenURL(ctx, ShortenParams{OriginalURL: "https://example.com", CustomCode: "aaaa"})
	require.NoError(t, err)

	uc.codeGen.generate = func(string, int) (string, error) {
		return "aaaa", nil
	}

	res, err := uc.ShortenURL(ctx, ShortenParams{OriginalURL: "https://example.com"})

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Nil(t, res)
}

func TestResolveShortCode_CodeRegisteredAgainOnAnotherInstance(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewURLRepository()

	newInstance := func() *URLUseCase {
		repo, err := cached.NewURLRepository(store)
		require.NoError(t, err)
		t.Cleanup(repo.Close)
		return New(repo, NewCodeGenerator(repo), WithClock(clock.Now))
	}
	a, b := newInstance(), newInstance()

	_, err := a.ShortenURL(ctx, ShortenParams{OriginalURL: "https://old.example", CustomCode: "promo"})
	require.NoError(t, err)

	originalURL, err := b.ResolveShortCode(ctx, "promo")
	require.NoError(t, err)
	require.Equal(t, "https://old.example", originalURL)

	require.NoError(t, a.DeleteURL(ctx, "promo"))
	_, err = a.ShortenURL(ctx, ShortenParams{OriginalURL: "https://new.example", CustomCode: "promo"})
	require.NoError(t, err)

	originalURL, err = b.ResolveShortCode(ctx, "promo")
	if err != nil {
		assert.ErrorIs(t, err, entity.ErrURLNotFound)
	} else {
		assert.Equal(t, "https://new.example", originalURL)
	}
	assert.NotEqual(t, "https://old.example", originalURL)

	originalURL, err = b.ResolveShortCode(ctx, "promo")
	require.NoError(t, err)
	assert.Equal(t, "https://new.example", originalURL)
}
