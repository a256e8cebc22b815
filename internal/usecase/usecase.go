package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/vadimbarashkov/shortly/internal/entity"
)

const (
	// MaxExpiryHours caps the lifetime of a link to one year.
	MaxExpiryHours = 8760
	// TopURLsLimit is the number of most clicked URLs reported by GetAnalytics.
	TopURLsLimit = 5
	// DefaultTimeRange is used by GetAnalytics when the requested range is unknown.
	DefaultTimeRange = "7d"
)

// ErrInvalidURL is returned when the URL to shorten is not an absolute http or https URL.
var ErrInvalidURL = errors.New("invalid url")

var timeRanges = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// IsValidationError reports whether err was caused by invalid client input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidURL) ||
		errors.Is(err, ErrInvalidShortCode) ||
		errors.Is(err, ErrShortCodeTaken)
}

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

// ShortenParams is the input of ShortenURL.
type ShortenParams struct {
	OriginalURL string
	// CustomCode is used verbatim when not empty.
	CustomCode string
	// ExpiresInHours sets the lifetime of the link. Values outside 1..MaxExpiryHours mean no expiry.
	ExpiresInHours int
	// BaseURL is prefixed to the short code to build the short URL.
	BaseURL string
}

// ShortenResult holds the stored record and its externally visible short URL.
type ShortenResult struct {
	URL      *entity.URL
	ShortURL string
}

type Option func(*URLUseCase)

// WithClock replaces time.Now as the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(uc *URLUseCase) {
		uc.now = now
	}
}

type URLUseCase struct {
	urlRepo urlRepository
	codeGen *CodeGenerator
	now     func() time.Time
}

func New(urlRepo urlRepository, codeGen *CodeGenerator, opts ...Option) *URLUseCase {
	uc := &URLUseCase{
		urlRepo: urlRepo,
		codeGen: codeGen,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}

// ValidateURL checks that raw is an absolute URL with an http or https scheme and a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	if strings.TrimSpace(u.Host) == "" {
		return ErrInvalidURL
	}
	return nil
}

func (uc *URLUseCase) expiresAt(hours int, now time.Time) *time.Time {
	if hours <= 0 || hours > MaxExpiryHours {
		return nil
	}

	t := now.Add(time.Duration(hours) * time.Hour)
	return &t
}

func (uc *URLUseCase) ShortenURL(ctx context.Context, params ShortenParams) (*ShortenResult, error) {
	const op = "usecase.URLUseCase.ShortenURL"

	if err := ValidateURL(params.OriginalURL); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := uc.now().UTC()
	url := &entity.URL{
		OriginalURL: params.OriginalURL,
		CreatedAt:   now,
		ExpiresAt:   uc.expiresAt(params.ExpiresInHours, now),
	}

	var (
		saved *entity.URL
		err   error
	)

	if params.CustomCode != "" {
		saved, err = uc.saveCustom(ctx, url, params.CustomCode)
	} else {
		saved, err = uc.saveRandom(ctx, url)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to shorten url: %w", op, err)
	}

	return &ShortenResult{
		URL:      saved,
		ShortURL: saved.ShortURL(params.BaseURL),
	}, nil
}

func (uc *URLUseCase) saveCustom(ctx context.Context, url *entity.URL, code string) (*entity.URL, error) {
	code, err := uc.codeGen.AllocateCustom(ctx, code)
	if err != nil {
		return nil, err
	}

	url.ShortCode = code

	saved, err := uc.urlRepo.Save(ctx, url)
	if err != nil {
		// Lost the race against a concurrent registration of the same code.
		if errors.Is(err, entity.ErrShortCodeExists) {
			return nil, ErrShortCodeTaken
		}
		return nil, err
	}

	return saved, nil
}

func (uc *URLUseCase) saveRandom(ctx context.Context, url *entity.URL) (*entity.URL, error) {
	for i := 0; i < uc.codeGen.MaxAttempts(); i++ {
		code, err := uc.codeGen.AllocateRandom(ctx)
		if err != nil {
			return nil, err
		}

		url.ShortCode = code

		saved, err := uc.urlRepo.Save(ctx, url)
		if err != nil {
			if errors.Is(err, entity.ErrShortCodeExists) {
				continue
			}
			return nil, err
		}

		return saved, nil
	}

	return nil, ErrMaxRetriesExceeded
}

// ResolveShortCode returns the original URL of a live short code and records a click.
func (uc *URLUseCase) ResolveShortCode(ctx context.Context, shortCode string) (string, error) {
	const op = "usecase.URLUseCase.ResolveShortCode"

	if !shortCodeRe.MatchString(shortCode) {
		return "", fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	url, err := uc.urlRepo.RetrieveActiveByShortCode(ctx, shortCode, uc.now().UTC())
	if err != nil {
		return "", fmt.Errorf("%s: failed to resolve short code: %w", op, err)
	}

	n, err := uc.urlRepo.IncrementClicks(ctx, shortCode, url.ID)
	if err != nil {
		return "", fmt.Errorf("%s: failed to record click: %w", op, err)
	}
	if n == 0 {
		// Deleted, or deleted and registered again, between lookup and increment.
		return "", fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return url.OriginalURL, nil
}

func (uc *URLUseCase) ListURLs(ctx context.Context) ([]*entity.URL, error) {
	const op = "usecase.URLUseCase.ListURLs"

	urls, err := uc.urlRepo.RetrieveAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list urls: %w", op, err)
	}

	return urls, nil
}

func (uc *URLUseCase) GetURLStats(ctx context.Context, shortCode string) (*entity.URL, error) {
	const op = "usecase.URLUseCase.GetURLStats"

	url, err := uc.urlRepo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get url stats: %w", op, err)
	}

	return url, nil
}

func (uc *URLUseCase) DeleteURL(ctx context.Context, shortCode string) error {
	const op = "usecase.URLUseCase.DeleteURL"

	deleted, err := uc.urlRepo.Remove(ctx, shortCode)
	if err != nil {
		return fmt.Errorf("%s: failed to delete url: %w", op, err)
	}
	if !deleted {
		return fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return nil
}

// GetAnalytics aggregates the URLs created within timeRange ("24h", "7d" or "30d").
// Clicks over time are grouped by hour of day for "24h" and by date otherwise.
func (uc *URLUseCase) GetAnalytics(ctx context.Context, timeRange string) (*entity.Analytics, error) {
	const op = "usecase.URLUseCase.GetAnalytics"

	window, ok := timeRanges[timeRange]
	if !ok {
		window = timeRanges[DefaultTimeRange]
	}
	since := uc.now().UTC().Add(-window)

	bucket := entity.BucketDay
	if timeRange == "24h" {
		bucket = entity.BucketHour
	}

	stats, err := uc.urlRepo.AggregateStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to aggregate stats: %w", op, err)
	}

	top, err := uc.urlRepo.RetrieveTop(ctx, since, TopURLsLimit)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get top urls: %w", op, err)
	}

	points, err := uc.urlRepo.ClicksOverTime(ctx, since, bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get clicks over time: %w", op, err)
	}

	return &entity.Analytics{
		Since:          since,
		Stats:          *stats,
		TopURLs:        top,
		ClicksOverTime: points,
	}, nil
}

// Now returns the current time as seen by the use case.
func (uc *URLUseCase) Now() time.Time {
	return uc.now()
}
