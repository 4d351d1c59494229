package model

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAdmin }

// Account represents an identity record as stored in the `accounts`
// table. Accounts are never physically deleted; deactivation clears
// IsActive. Email is unique regardless of the active flag and is
// compared case-sensitively.
//
// Fields:
//
//	ID                  – primary key identifier.
//	Name                – display name.
//	Email               – unique email address.
//	PasswordHash        – bcrypt digest of the password.
//	IsActive            – false once an admin deactivates the account.
//	Role                – user or admin.
//	FailedLoginAttempts – consecutive wrong-password logins.
//	LastFailedLogin     – time of the latest wrong-password login.
//	LastLogin           – time of the latest successful login.
type Account struct {
	ID                  uint64     // accounts.id
	Name                string     // accounts.name
	Email               string     // accounts.email
	PasswordHash        string     // accounts.password_hash
	IsActive            bool       // accounts.is_active
	Role                Role       // accounts.role
	FailedLoginAttempts int        // accounts.failed_login_attempts
	LastFailedLogin     *time.Time // accounts.last_failed_login (nullable)
	LastLogin           *time.Time // accounts.last_login (nullable)
	CreatedAt           time.Time  // accounts.created_at
	UpdatedAt           time.Time  // accounts.updated_at
}

// PublicAccount is the JSON view of an Account returned to clients. It
// never carries the password hash or login counters.
type PublicAccount struct {
	ID        uint64     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	IsActive  bool       `json:"is_active"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Public strips the private fields from a.
func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Role:      a.Role,
		IsActive:  a.IsActive,
		LastLogin: a.LastLogin,
		CreatedAt: a.CreatedAt,
	}
}

// RefreshToken models an entry in the `refresh_tokens` table. The plain
// token is not stored; only its SHA-256 hash. A row exists exactly while
// the token may still be exchanged.
type RefreshToken struct {
	ID        uint64    // refresh_tokens.id
	AccountID uint64    // refresh_tokens.account_id
	TokenHash string    // refresh_tokens.token_hash
	ExpiresAt time.Time // refresh_tokens.expires_at
	CreatedAt time.Time // refresh_tokens.created_at
}

// BlacklistEntry is a revoked session token, kept until its natural expiry.
type BlacklistEntry struct {
	TokenHash string    // blacklisted_tokens.token_hash
	AccountID uint64    // blacklisted_tokens.account_id
	ExpiresAt time.Time // blacklisted_tokens.expires_at
	CreatedAt time.Time // blacklisted_tokens.created_at
}
