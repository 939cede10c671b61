package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/agency-api/internal/model"
)

// BlockRepo manages blocked_ips.
type BlockRepo struct{ DB *sql.DB }

func NewBlockRepo(db *sql.DB) *BlockRepo { return &BlockRepo{DB: db} }

// Block adds a block entry for ip until the given time.
func (r *BlockRepo) Block(ctx context.Context, ip string, until time.Time, reason string) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO blocked_ips (ip_address, blocked_until, reason) VALUES (?,?,?)",
		ip, until, reason)
	return err
}

// ActiveUntil returns the latest blocked_until for ip still in the future.
func (r *BlockRepo) ActiveUntil(ctx context.Context, ip string, now time.Time) (time.Time, bool, error) {
	var until sql.NullTime
	err := r.DB.QueryRowContext(ctx,
		"SELECT MAX(blocked_until) FROM blocked_ips WHERE ip_address = ? AND blocked_until > ?",
		ip, now).Scan(&until)
	if err != nil || !until.Valid {
		return time.Time{}, false, err
	}
	return until.Time, true, nil
}

// Active lists the entries still in force at now, latest ending first.
func (r *BlockRepo) Active(ctx context.Context, now time.Time) ([]model.BlockedIP, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT ip_address, blocked_until, reason FROM blocked_ips WHERE blocked_until > ? ORDER BY blocked_until DESC",
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BlockedIP
	for rows.Next() {
		var b model.BlockedIP
		if err := rows.Scan(&b.IPAddress, &b.BlockedUntil, &b.Reason); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Unblock removes every entry for ip.
func (r *BlockRepo) Unblock(ctx context.Context, ip string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM blocked_ips WHERE ip_address = ?", ip)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpired deletes entries whose block has already ended.
func (r *BlockRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM blocked_ips WHERE blocked_until <= ?", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
