// Package sqlstore implements the URL repository on top of database/sql.
// The same queries serve PostgreSQL (pgx) and SQLite (modernc.org/sqlite);
// placeholders are rebound for the driver the *sqlx.DB was opened with.
// Only the period expressions of the clicks series differ per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/shortly/internal/entity"
	"modernc.org/sqlite"

	sqlite3 "modernc.org/sqlite/lib"
)

const uniqueViolationErrCode = "23505"

func isUniqueViolationError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationErrCode
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}

	return false
}

func storageError(op, msg string, err error) error {
	return fmt.Errorf("%s: %w: %s: %w", op, entity.ErrStorage, msg, err)
}

const columns = `id, original_url, short_code, clicks, created_at, expires_at`

type queries struct {
	save                string
	retrieveByShortCode string
	retrieveActive      string
	incrementClicks     string
	retrieveAll         string
	remove              string
	aggregateStats      string
	retrieveTop         string
	clicksOverTime      map[entity.Bucket]string
}

// periodExprs renders created_at as a UTC period label for each bucket.
func periodExprs(driverName string) map[entity.Bucket]string {
	if driverName == "sqlite" {
		return map[entity.Bucket]string{
			entity.BucketHour: `strftime('%H', created_at)`,
			entity.BucketDay:  `strftime('%Y-%m-%d', created_at)`,
		}
	}

	return map[entity.Bucket]string{
		entity.BucketHour: `to_char(created_at AT TIME ZONE 'UTC', 'HH24')`,
		entity.BucketDay:  `to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')`,
	}
}

func newQueries(driverName string, rebind func(string) string) queries {
	clicksOverTime := make(map[entity.Bucket]string)
	for bucket, period := range periodExprs(driverName) {
		clicksOverTime[bucket] = rebind(`SELECT ` + period + ` AS period,
				CAST(COALESCE(SUM(clicks), 0) AS BIGINT) AS clicks
			FROM urls WHERE created_at >= ? GROUP BY period ORDER BY period`)
	}

	return queries{
		save: rebind(`INSERT INTO urls (original_url, short_code, created_at, expires_at)
			VALUES (?, ?, ?, ?) RETURNING id`),
		retrieveByShortCode: rebind(`SELECT ` + columns + ` FROM urls WHERE short_code = ?`),
		retrieveActive: rebind(`SELECT ` + columns + ` FROM urls
			WHERE short_code = ? AND (expires_at IS NULL OR expires_at > ?)`),
		incrementClicks: rebind(`UPDATE urls SET clicks = clicks + 1 WHERE short_code = ? AND id = ?`),
		retrieveAll:     `SELECT ` + columns + ` FROM urls ORDER BY created_at DESC, id DESC`,
		remove:          rebind(`DELETE FROM urls WHERE short_code = ?`),
		aggregateStats: rebind(`SELECT
				COUNT(*) AS total_urls,
				CAST(COALESCE(SUM(clicks), 0) AS BIGINT) AS total_clicks,
				CAST(COALESCE(AVG(clicks), 0) AS DOUBLE PRECISION) AS avg_clicks
			FROM urls WHERE created_at >= ?`),
		retrieveTop: rebind(`SELECT ` + columns + ` FROM urls
			WHERE created_at >= ? ORDER BY clicks DESC, id ASC LIMIT ?`),
		clicksOverTime: clicksOverTime,
	}
}

type urlDB struct {
	ID          int64        `db:"id"`
	OriginalURL string       `db:"original_url"`
	ShortCode   string       `db:"short_code"`
	Clicks      int64        `db:"clicks"`
	CreatedAt   time.Time    `db:"created_at"`
	ExpiresAt   sql.NullTime `db:"expires_at"`
}

func (u *urlDB) toEntity() *entity.URL {
	url := &entity.URL{
		ID:          u.ID,
		OriginalURL: u.OriginalURL,
		ShortCode:   u.ShortCode,
		Clicks:      u.Clicks,
		CreatedAt:   u.CreatedAt.UTC(),
	}

	if u.ExpiresAt.Valid {
		t := u.ExpiresAt.Time.UTC()
		url.ExpiresAt = &t
	}

	return url
}

type statsDB struct {
	TotalURLs   int64   `db:"total_urls"`
	TotalClicks int64   `db:"total_clicks"`
	AvgClicks   float64 `db:"avg_clicks"`
}

type clicksPointDB struct {
	Period string `db:"period"`
	Clicks int64  `db:"clicks"`
}

type URLRepository struct {
	db *sqlx.DB
	q  queries
}

func NewURLRepository(db *sqlx.DB) *URLRepository {
	return &URLRepository{
		db: db,
		q:  newQueries(db.DriverName(), db.Rebind),
	}
}

// Save inserts url and returns the stored record. Uniqueness of the short code is
// enforced by the table's unique index, so concurrent inserts of one code cannot both succeed.
func (r *URLRepository) Save(ctx context.Context, url *entity.URL) (*entity.URL, error) {
	const op = "adapter.repository.sqlstore.URLRepository.Save"

	var expiresAt sql.NullTime
	if url.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: url.ExpiresAt.UTC(), Valid: true}
	}
	createdAt := url.CreatedAt.UTC()

	var id int64

	err := r.db.QueryRowxContext(ctx, r.q.save, url.OriginalURL, url.ShortCode, createdAt, expiresAt).Scan(&id)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrShortCodeExists)
		}

		return nil, storageError(op, "failed to insert into urls table", err)
	}

	stored := urlDB{
		ID:          id,
		OriginalURL: url.OriginalURL,
		ShortCode:   url.ShortCode,
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
	}

	return stored.toEntity(), nil
}

// RetrieveByShortCode returns the record regardless of its expiry.
func (r *URLRepository) RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.URL, error) {
	const op = "adapter.repository.sqlstore.URLRepository.RetrieveByShortCode"

	var url urlDB

	if err := r.db.GetContext(ctx, &url, r.q.retrieveByShortCode, shortCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
		}

		return nil, storageError(op, "failed to get row from urls table", err)
	}

	return url.toEntity(), nil
}

// RetrieveActiveByShortCode returns the record only if it has not expired at now.
func (r *URLRepository) RetrieveActiveByShortCode(ctx context.Context, shortCode string, now time.Time) (*entity.URL, error) {
	const op = "adapter.repository.sqlstore.URLRepository.RetrieveActiveByShortCode"

	var url urlDB

	if err := r.db.GetContext(ctx, &url, r.q.retrieveActive, shortCode, now.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
		}

		return nil, storageError(op, "failed to get row from urls table", err)
	}

	return url.toEntity(), nil
}

// IncrementClicks bumps the counter of the record identified by both shortCode and id
// in a single UPDATE and returns the number of affected rows. A code that was deleted
// and registered again gets a new id, so a stale id affects nothing.
func (r *URLRepository) IncrementClicks(ctx context.Context, shortCode string, id int64) (int64, error) {
	const op = "adapter.repository.sqlstore.URLRepository.IncrementClicks"

	res, err := r.db.ExecContext(ctx, r.q.incrementClicks, shortCode, id)
	if err != nil {
		return 0, storageError(op, "failed to update urls table row", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(op, "failed to get number of affected rows", err)
	}

	return rowsAffected, nil
}

// RetrieveAll returns every record, newest first.
func (r *URLRepository) RetrieveAll(ctx context.Context) ([]*entity.URL, error) {
	const op = "adapter.repository.sqlstore.URLRepository.RetrieveAll"

	var rows []urlDB

	if err := r.db.SelectContext(ctx, &rows, r.q.retrieveAll); err != nil {
		return nil, storageError(op, "failed to select from urls table", err)
	}

	urls := make([]*entity.URL, 0, len(rows))
	for i := range rows {
		urls = append(urls, rows[i].toEntity())
	}

	return urls, nil
}

// Remove deletes the record and reports whether a row was removed.
func (r *URLRepository) Remove(ctx context.Context, shortCode string) (bool, error) {
	const op = "adapter.repository.sqlstore.URLRepository.Remove"

	res, err := r.db.ExecContext(ctx, r.q.remove, shortCode)
	if err != nil {
		return false, storageError(op, "failed to delete from urls table", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, storageError(op, "failed to get number of affected rows", err)
	}

	return rowsAffected > 0, nil
}

func (r *URLRepository) AggregateStats(ctx context.Context, since time.Time) (*entity.Stats, error) {
	const op = "adapter.repository.sqlstore.URLRepository.AggregateStats"

	var stats statsDB

	if err := r.db.GetContext(ctx, &stats, r.q.aggregateStats, since.UTC()); err != nil {
		return nil, storageError(op, "failed to aggregate urls table", err)
	}

	return &entity.Stats{
		TotalURLs:   stats.TotalURLs,
		TotalClicks: stats.TotalClicks,
		AvgClicks:   stats.AvgClicks,
	}, nil
}

// RetrieveTop returns up to limit records created since the given moment, most clicked first.
func (r *URLRepository) RetrieveTop(ctx context.Context, since time.Time, limit int) ([]*entity.URL, error) {
	const op = "adapter.repository.sqlstore.URLRepository.RetrieveTop"

	var rows []urlDB

	if err := r.db.SelectContext(ctx, &rows, r.q.retrieveTop, since.UTC(), limit); err != nil {
		return nil, storageError(op, "failed to select from urls table", err)
	}

	urls := make([]*entity.URL, 0, len(rows))
	for i := range rows {
		urls = append(urls, rows[i].toEntity())
	}

	return urls, nil
}

// ClicksOverTime sums clicks of records created since the given moment per period,
// ordered by period. Periods without records are omitted.
func (r *URLRepository) ClicksOverTime(ctx context.Context, since time.Time, bucket entity.Bucket) ([]entity.ClicksPoint, error) {
	const op = "adapter.repository.sqlstore.URLRepository.ClicksOverTime"

	query, ok := r.q.clicksOverTime[bucket]
	if !ok {
		query = r.q.clicksOverTime[entity.BucketDay]
	}

	var rows []clicksPointDB

	if err := r.db.SelectContext(ctx, &rows, query, since.UTC()); err != nil {
		return nil, storageError(op, "failed to group urls table", err)
	}

	points := make([]entity.ClicksPoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, entity.ClicksPoint{Period: row.Period, Clicks: row.Clicks})
	}

	return points, nil
}
