package repository

import (
	"context"
	"time"

	"github.com/iliyamo/devops-dashboard/internal/database"
)

// TokenRepo persists refresh tokens by hash. A row exists exactly while the
// token may still be exchanged; rotation and logout delete it.
type TokenRepo struct{ DB *database.DB }

func NewTokenRepo(db *database.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Store inserts a refresh token hash row.
func (r *TokenRepo) Store(ctx context.Context, accountID uint64, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("INSERT INTO refresh_tokens (account_id, token_hash, expires_at, created_at) VALUES (?,?,?,?)"),
		accountID, tokenHash, exp.UTC(), time.Now().UTC())
	return err
}

// IsLive reports whether tokenHash is stored and not past its expiry.
func (r *TokenRepo) IsLive(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		r.DB.Rebind("SELECT COUNT(*) FROM refresh_tokens WHERE token_hash=? AND expires_at>?"),
		tokenHash, now.UTC()).Scan(&n)
	return n > 0, err
}

// Rotate replaces oldHash with newHash in one transaction. The conditional
// delete must remove exactly one live row owned by accountID, otherwise
// ErrRefreshConsumed is returned and nothing changes.
func (r *TokenRepo) Rotate(ctx context.Context, accountID uint64, oldHash, newHash string, newExp, now time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		r.DB.Rebind("DELETE FROM refresh_tokens WHERE token_hash=? AND account_id=? AND expires_at>?"),
		oldHash, accountID, now.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrRefreshConsumed
	}

	if _, err := tx.ExecContext(ctx,
		r.DB.Rebind("INSERT INTO refresh_tokens (account_id, token_hash, expires_at, created_at) VALUES (?,?,?,?)"),
		accountID, newHash, newExp.UTC(), now.UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes one token of accountID. It reports whether a row existed.
func (r *TokenRepo) Delete(ctx context.Context, accountID uint64, tokenHash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("DELETE FROM refresh_tokens WHERE token_hash=? AND account_id=?"),
		tokenHash, accountID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteAllForAccount removes every refresh token of the account.
func (r *TokenRepo) DeleteAllForAccount(ctx context.Context, accountID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("DELETE FROM refresh_tokens WHERE account_id=?"), accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SweepExpired deletes rows whose expiry is at or before now.
func (r *TokenRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("DELETE FROM refresh_tokens WHERE expires_at<=?"), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
