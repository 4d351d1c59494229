package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/devops-dashboard/internal/database"
	"github.com/iliyamo/devops-dashboard/internal/model"
)

// CredentialRepo stores sealed service credentials, one row per
// (account_id, service_type).
type CredentialRepo struct{ DB *database.DB }

func NewCredentialRepo(db *database.DB) *CredentialRepo { return &CredentialRepo{DB: db} }

// Upsert writes secret for (accountID, st) in a single statement, inserting
// or replacing the existing row and reactivating it.
func (r *CredentialRepo) Upsert(ctx context.Context, accountID uint64, st model.ServiceType, secret []byte, now time.Time) error {
	q := "INSERT INTO service_credentials (account_id, service_type, secret, is_active, created_at, updated_at) VALUES (?,?,?,?,?,?)"
	if r.DB.Dialect == database.MySQL {
		q += " ON DUPLICATE KEY UPDATE secret=VALUES(secret), is_active=VALUES(is_active), updated_at=VALUES(updated_at)"
	} else {
		q += " ON CONFLICT (account_id, service_type) DO UPDATE SET secret=excluded.secret, is_active=excluded.is_active, updated_at=excluded.updated_at"
	}
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(q),
		accountID, string(st), secret, true, now.UTC(), now.UTC())
	return err
}

// Get returns the row for (accountID, st), active or not.
func (r *CredentialRepo) Get(ctx context.Context, accountID uint64, st model.ServiceType) (model.SealedCredential, error) {
	var (
		c        model.SealedCredential
		svc      string
		lastSync sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		r.DB.Rebind("SELECT id,account_id,service_type,secret,is_active,created_at,updated_at,last_sync FROM service_credentials WHERE account_id=? AND service_type=? LIMIT 1"),
		accountID, string(st)).Scan(&c.ID, &c.AccountID, &svc, &c.Secret, &c.IsActive, &c.CreatedAt, &c.UpdatedAt, &lastSync)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SealedCredential{}, ErrNotFound
	}
	if err != nil {
		return model.SealedCredential{}, err
	}
	c.ServiceType = model.ServiceType(svc)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.LastSync = nullTimePtr(lastSync)
	return c, nil
}

// ListMeta returns metadata for every row of the account, without secrets.
func (r *CredentialRepo) ListMeta(ctx context.Context, accountID uint64) ([]model.CredentialMeta, error) {
	rows, err := r.DB.QueryContext(ctx,
		r.DB.Rebind("SELECT service_type,is_active,created_at,updated_at,last_sync FROM service_credentials WHERE account_id=? ORDER BY service_type"),
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.CredentialMeta, 0)
	for rows.Next() {
		var (
			m        model.CredentialMeta
			svc      string
			lastSync sql.NullTime
		)
		if err := rows.Scan(&svc, &m.IsActive, &m.CreatedAt, &m.UpdatedAt, &lastSync); err != nil {
			return nil, err
		}
		m.ServiceType = model.ServiceType(svc)
		m.CreatedAt = m.CreatedAt.UTC()
		m.UpdatedAt = m.UpdatedAt.UTC()
		m.LastSync = nullTimePtr(lastSync)
		out = append(out, m)
	}
	return out, rows.Err()
}

// HasActive reports whether an active row exists for (accountID, st).
func (r *CredentialRepo) HasActive(ctx context.Context, accountID uint64, st model.ServiceType) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		r.DB.Rebind("SELECT COUNT(*) FROM service_credentials WHERE account_id=? AND service_type=? AND is_active=?"),
		accountID, string(st), true).Scan(&n)
	return n > 0, err
}

// SetActive flips the active flag. ErrNotFound when no row exists.
func (r *CredentialRepo) SetActive(ctx context.Context, accountID uint64, st model.ServiceType, active bool, now time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("UPDATE service_credentials SET is_active=?, updated_at=? WHERE account_id=? AND service_type=?"),
		active, now.UTC(), accountID, string(st))
	if err != nil {
		return err
	}
	return r.affectedOrExists(ctx, res, accountID, st, false)
}

// MarkSynced stamps last_sync on an active row. ErrNotFound when there is
// no active row.
func (r *CredentialRepo) MarkSynced(ctx context.Context, accountID uint64, st model.ServiceType, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("UPDATE service_credentials SET last_sync=? WHERE account_id=? AND service_type=? AND is_active=?"),
		at.UTC(), accountID, string(st), true)
	if err != nil {
		return err
	}
	return r.affectedOrExists(ctx, res, accountID, st, true)
}

func (r *CredentialRepo) affectedOrExists(ctx context.Context, res sql.Result, accountID uint64, st model.ServiceType, activeOnly bool) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var (
		ok  bool
		err error
	)
	if activeOnly {
		ok, err = r.HasActive(ctx, accountID, st)
	} else {
		var n int
		err = r.DB.QueryRowContext(ctx,
			r.DB.Rebind("SELECT COUNT(*) FROM service_credentials WHERE account_id=? AND service_type=?"),
			accountID, string(st)).Scan(&n)
		ok = n > 0
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
