package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/agency-api/internal/model"
)

// TokenRepo persists refresh tokens by their SHA-256 hash (never the raw
// token).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID, tokenHash string, exp, now time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at, revoked, created_at) VALUES (?,?,?,0,?)",
		userID, tokenHash, exp, now)
	return err
}

// FindByHash returns the record for tokenHash whatever its state; callers
// decide what expired or revoked means.
func (r *TokenRepo) FindByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var (
		t         model.RefreshToken
		revokedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, expires_at, revoked, revoked_at, created_at FROM refresh_tokens WHERE token_hash = ? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &revokedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return model.RefreshToken{}, err
	}
	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	return t, nil
}

// Consume revokes a live token in a single conditional update.  Exactly one
// of several concurrent callers sees nil; the others get ErrStale.
func (r *TokenRepo) Consume(ctx context.Context, id uint64, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE id = ? AND revoked = 0 AND expires_at > ?",
		now, id, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrStale
	}
	return nil
}

// RevokeAllForUser revokes all of the user's active tokens and reports how
// many were revoked.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1, revoked_at = ? WHERE user_id = ? AND revoked = 0",
		now, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteDead removes tokens that expired before now and tokens revoked
// before revokedBefore.  Rows revoked before revoked_at existed fall back to
// created_at.
func (r *TokenRepo) DeleteDead(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ? OR (revoked = 1 AND COALESCE(revoked_at, created_at) < ?)",
		now, revokedBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
