// Package entity defines the entities and errors used in the application.
// It includes the URL struct, which represents a shortened URL, along with its
// associated metadata, and any relevant error definitions.
package entity

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrShortCodeExists is returned when attempting to create a URL with a short code that already exists.
	ErrShortCodeExists = errors.New("short code exists")
	// ErrURLNotFound is returned when a URL with the specified short code cannot be found or has expired.
	ErrURLNotFound = errors.New("url not found")
	// ErrStorage wraps unexpected failures of the underlying storage engine.
	ErrStorage = errors.New("storage error")
)

// URL represents a shortened URL.
type URL struct {
	ID          int64      // ID is the unique identifier of the URL in the store.
	OriginalURL string     // OriginalURL is the full URL that the short code resolves to.
	ShortCode   string     // ShortCode is the code used to shorten the original URL.
	Clicks      int64      // Clicks is the number of successful resolutions of the short code.
	CreatedAt   time.Time  // CreatedAt is the timestamp when the URL was created.
	ExpiresAt   *time.Time // ExpiresAt is the moment the URL stops resolving; nil means never.
}

// IsExpired reports whether the URL is expired at the given moment.
// A URL is expired once now is at or after ExpiresAt.
func (u *URL) IsExpired(now time.Time) bool {
	return u.ExpiresAt != nil && !now.Before(*u.ExpiresAt)
}

// ShortURL joins base and the short code into the externally visible short URL.
func (u *URL) ShortURL(base string) string {
	return strings.TrimRight(base, "/") + "/" + u.ShortCode
}

// Stats holds aggregated figures over a set of URLs.
type Stats struct {
	TotalURLs   int64
	TotalClicks int64
	AvgClicks   float64
}

// Bucket is the granularity of a clicks time series.
type Bucket string

const (
	// BucketHour groups by hour of day in UTC, "00" to "23".
	BucketHour Bucket = "hour"
	// BucketDay groups by calendar date in UTC, "2006-01-02".
	BucketDay Bucket = "day"
)

// Format renders t as the period label of the bucket.
func (b Bucket) Format(t time.Time) string {
	if b == BucketHour {
		return t.UTC().Format("15")
	}
	return t.UTC().Format("2006-01-02")
}

// ClicksPoint is the sum of clicks of URLs created within one period.
type ClicksPoint struct {
	Period string
	Clicks int64
}

// Analytics is the overview reported for a time window.
type Analytics struct {
	Since          time.Time
	Stats          Stats
	TopURLs        []*URL
	ClicksOverTime []ClicksPoint
}
