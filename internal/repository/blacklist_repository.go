package repository

import (
	"context"
	"time"

	"github.com/iliyamo/devops-dashboard/internal/database"
	"github.com/iliyamo/devops-dashboard/internal/model"
)

// BlacklistRepo stores revoked session token hashes until they expire.
type BlacklistRepo struct{ DB *database.DB }

func NewBlacklistRepo(db *database.DB) *BlacklistRepo { return &BlacklistRepo{DB: db} }

// Insert records a revoked token. Inserting the same hash twice is a no-op.
func (r *BlacklistRepo) Insert(ctx context.Context, e model.BlacklistEntry) error {
	q := "INSERT INTO blacklisted_tokens (token_hash, account_id, expires_at, created_at) VALUES (?,?,?,?)"
	if r.DB.Dialect == database.MySQL {
		q += " ON DUPLICATE KEY UPDATE token_hash=token_hash"
	} else {
		q += " ON CONFLICT (token_hash) DO NOTHING"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(q),
		e.TokenHash, e.AccountID, e.ExpiresAt.UTC(), created.UTC())
	return err
}

// Exists reports whether tokenHash is blacklisted and the entry has not yet
// reached its expiry.
func (r *BlacklistRepo) Exists(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		r.DB.Rebind("SELECT COUNT(*) FROM blacklisted_tokens WHERE token_hash=? AND expires_at>?"),
		tokenHash, now.UTC()).Scan(&n)
	return n > 0, err
}

// Sweep deletes entries whose tokens have expired on their own.
func (r *BlacklistRepo) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("DELETE FROM blacklisted_tokens WHERE expires_at<=?"), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
