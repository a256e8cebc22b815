package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestURL_IsExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{name: "never expires", expiresAt: nil, want: false},
		{name: "expired a second ago", expiresAt: &past, want: true},
		{name: "expires exactly now", expiresAt: &now, want: true},
		{name: "expires in an hour", expiresAt: &future, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := URL{ExpiresAt: tt.expiresAt}

			assert.Equal(t, tt.want, u.IsExpired(now))
		})
	}
}

func TestURL_ShortURL(t *testing.T) {
	u := URL{ShortCode: "abc1"}

	assert.Equal(t, "https://s.ly/abc1", u.ShortURL("https://s.ly"))
	assert.Equal(t, "http://localhost:8080/abc1", u.ShortURL("http://localhost:8080/"))
}

func TestBucket_Format(t *testing.T) {
	ts := time.Date(2024, 5, 1, 23, 30, 0, 0, time.FixedZone("UTC+2", 2*60*60))

	assert.Equal(t, "21", BucketHour.Format(ts))
	assert.Equal(t, "2024-05-01", BucketDay.Format(ts))
	assert.Equal(t, "2024-05-02", BucketDay.Format(time.Date(2024, 5, 2, 1, 0, 0, 0, time.UTC)))
}
