// Package sqlite opens SQLite databases through the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

const defaultBusyTimeout = 5 * time.Second

type options struct {
	busyTimeout time.Duration
}

type Option func(*options)

// WithBusyTimeout sets how long a connection waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

// DSN builds the driver connection string for the database file at path.
func DSN(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	q.Set("_time_format", "sqlite")

	return "file:" + path + "?" + q.Encode()
}

// MigrateURL returns the golang-migrate URL for the database file at path.
func MigrateURL(path string) string {
	return "sqlite://" + path
}

// New opens the database file at path. SQLite allows a single writer, so the
// pool is limited to one connection and writers queue instead of failing with SQLITE_BUSY.
func New(ctx context.Context, path string, opts ...Option) (*sqlx.DB, error) {
	const op = "sqlite.New"

	o := options{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sqlx.ConnectContext(ctx, DriverName, DSN(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect to database: %w", op, err)
	}

	db.SetMaxOpenConns(1)

	return db, nil
}
