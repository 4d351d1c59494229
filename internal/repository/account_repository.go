package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/devops-dashboard/internal/database"
	"github.com/iliyamo/devops-dashboard/internal/model"
)

const accountColumns = "id,name,email,password_hash,is_active,role,failed_login_attempts,last_failed_login,last_login,created_at,updated_at"

type AccountRepo struct{ DB *database.DB }

func NewAccountRepo(db *database.DB) *AccountRepo { return &AccountRepo{DB: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.Account, error) {
	var (
		a          model.Account
		role       string
		lastFailed sql.NullTime
		lastLogin  sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.IsActive, &role,
		&a.FailedLoginAttempts, &lastFailed, &lastLogin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Account{}, err
	}
	a.Role = model.Role(role)
	a.LastFailedLogin = nullTimePtr(lastFailed)
	a.LastLogin = nullTimePtr(lastLogin)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// Create inserts an account and returns it. Email is only trimmed; matching
// is case-sensitive.
func (r *AccountRepo) Create(ctx context.Context, name, email, passwordHash string, role model.Role) (model.Account, error) {
	email = strings.TrimSpace(email)
	now := time.Now().UTC()
	id, err := r.DB.Dialect.InsertID(ctx, r.DB,
		"INSERT INTO accounts (name, email, password_hash, is_active, role, failed_login_attempts, created_at, updated_at) VALUES (?,?,?,?,?,0,?,?)",
		strings.TrimSpace(name), email, passwordHash, true, string(role), now, now)
	if err != nil {
		if r.DB.Dialect.IsUniqueViolation(err) {
			return model.Account{}, ErrEmailExists
		}
		return model.Account{}, err
	}
	return r.GetByID(ctx, id)
}

// GetByEmail fetches an account by exact email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	row := r.DB.QueryRowContext(ctx,
		r.DB.Rebind("SELECT "+accountColumns+" FROM accounts WHERE email=? LIMIT 1"),
		strings.TrimSpace(email))
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return a, err
}

// GetByID fetches an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id uint64) (model.Account, error) {
	row := r.DB.QueryRowContext(ctx,
		r.DB.Rebind("SELECT "+accountColumns+" FROM accounts WHERE id=? LIMIT 1"), id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return a, err
}

// List returns accounts ordered by id.
func (r *AccountRepo) List(ctx context.Context, limit, offset int) ([]model.Account, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.QueryContext(ctx,
		r.DB.Rebind("SELECT "+accountColumns+" FROM accounts ORDER BY id LIMIT ? OFFSET ?"), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetRole changes the role of an account.
func (r *AccountRepo) SetRole(ctx context.Context, id uint64, role model.Role) error {
	res, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("UPDATE accounts SET role=?, updated_at=? WHERE id=?"),
		string(role), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return r.affectedOrExists(ctx, res, id)
}

// Deactivate clears the active flag and deletes every refresh token of the
// account in one transaction.
func (r *AccountRepo) Deactivate(ctx context.Context, id uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		r.DB.Rebind("UPDATE accounts SET is_active=?, updated_at=? WHERE id=?"),
		false, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, r.DB.Rebind("SELECT COUNT(*) FROM accounts WHERE id=?"), id).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	if _, err := tx.ExecContext(ctx,
		r.DB.Rebind("DELETE FROM refresh_tokens WHERE account_id=?"), id); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordLogin stamps a successful login and clears the failure counter.
func (r *AccountRepo) RecordLogin(ctx context.Context, id uint64, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		r.DB.Rebind("UPDATE accounts SET last_login=?, failed_login_attempts=0, last_failed_login=NULL, updated_at=? WHERE id=?"),
		at.UTC(), at.UTC(), id)
	return err
}

// RecordFailedLogin bumps the failure counter. A previous failure older than
// resetBefore restarts the count at 1.
func (r *AccountRepo) RecordFailedLogin(ctx context.Context, id uint64, at, resetBefore time.Time) error {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`UPDATE accounts SET
		failed_login_attempts = CASE WHEN last_failed_login IS NULL OR last_failed_login < ? THEN 1 ELSE failed_login_attempts + 1 END,
		last_failed_login = ?, updated_at = ?
		WHERE id=?`),
		resetBefore.UTC(), at.UTC(), at.UTC(), id)
	return err
}

// UpsertAdmin creates an admin account for email or promotes the existing
// one. The password of an existing account is left untouched.
func (r *AccountRepo) UpsertAdmin(ctx context.Context, name, email, passwordHash string) (model.Account, bool, error) {
	a, err := r.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		a, err = r.Create(ctx, name, email, passwordHash, model.RoleAdmin)
		if errors.Is(err, ErrEmailExists) {
			// lost a race with a concurrent bootstrap; promote instead
			return r.UpsertAdmin(ctx, name, email, passwordHash)
		}
		return a, err == nil, err
	case err != nil:
		return model.Account{}, false, err
	}
	if a.Role != model.RoleAdmin {
		if err := r.SetRole(ctx, a.ID, model.RoleAdmin); err != nil {
			return model.Account{}, false, err
		}
		a.Role = model.RoleAdmin
	}
	return a, false, nil
}

// affectedOrExists maps "no rows changed" to ErrNotFound only when the row
// is really missing. MySQL reports 0 affected rows for no-op updates.
func (r *AccountRepo) affectedOrExists(ctx context.Context, res sql.Result, id uint64) error {
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var count int
	if err := r.DB.QueryRowContext(ctx, r.DB.Rebind("SELECT COUNT(*) FROM accounts WHERE id=?"), id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
