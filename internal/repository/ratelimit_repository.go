package repository

import (
	"context"
	"database/sql"
	"time"
)

// RateLimitRepo stores one row per admitted request in rate_limits.
type RateLimitRepo struct{ DB *sql.DB }

func NewRateLimitRepo(db *sql.DB) *RateLimitRepo { return &RateLimitRepo{DB: db} }

// DeleteOlderThan drops the identifier's rows created before cutoff.
func (r *RateLimitRepo) DeleteOlderThan(ctx context.Context, identifier string, cutoff time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM rate_limits WHERE identifier = ? AND created_at < ?",
		identifier, cutoff)
	return err
}

// Count returns the identifier's rows created after since.
func (r *RateLimitRepo) Count(ctx context.Context, identifier string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM rate_limits WHERE identifier = ? AND created_at > ?",
		identifier, since).Scan(&n)
	return n, err
}

// Insert records one admitted request.
func (r *RateLimitRepo) Insert(ctx context.Context, identifier, ip string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO rate_limits (identifier, ip_address, created_at) VALUES (?,?,?)",
		identifier, ip, at)
	return err
}

// Oldest returns the earliest row created after since; ok is false when the
// window is empty.
func (r *RateLimitRepo) Oldest(ctx context.Context, identifier string, since time.Time) (t time.Time, ok bool, err error) {
	var oldest sql.NullTime
	err = r.DB.QueryRowContext(ctx,
		"SELECT MIN(created_at) FROM rate_limits WHERE identifier = ? AND created_at > ?",
		identifier, since).Scan(&oldest)
	if err != nil || !oldest.Valid {
		return time.Time{}, false, err
	}
	return oldest.Time, true, nil
}

// Purge deletes every row created before cutoff, across identifiers.
func (r *RateLimitRepo) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM rate_limits WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
