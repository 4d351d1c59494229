package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/model"
	"github.com/iliyamo/devops-dashboard/internal/queue"
	"github.com/iliyamo/devops-dashboard/internal/repository"
	"github.com/iliyamo/devops-dashboard/internal/utils"
)

// msgInvalidCredentials never says which of email or password was wrong.
const msgInvalidCredentials = "invalid credentials"

// Session is the result of register, login and refresh.
type Session struct {
	Account          model.Account
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LockoutPolicy locks an account for Window after Threshold consecutive
// wrong passwords within Window. A locked account rejects even the right
// password with the generic credentials error. Threshold 0 disables locking.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// AuthService implements registration, login, refresh rotation, logout and
// the admin account operations.
type AuthService struct {
	accounts    *repository.AccountRepo
	tokens      *repository.TokenRepo
	revocations *RevocationStore
	hasher      utils.PasswordHasher
	issuer      *utils.TokenService
	events      queue.Publisher
	lockout     LockoutPolicy
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(
	accounts *repository.AccountRepo,
	tokens *repository.TokenRepo,
	revocations *RevocationStore,
	hasher utils.PasswordHasher,
	issuer *utils.TokenService,
	events queue.Publisher,
	lockout LockoutPolicy,
) *AuthService {
	if events == nil {
		events = queue.NopPublisher{}
	}
	if lockout.Window <= 0 {
		lockout.Window = 15 * time.Minute
	}
	return &AuthService{
		accounts:    accounts,
		tokens:      tokens,
		revocations: revocations,
		hasher:      hasher,
		issuer:      issuer,
		events:      events,
		lockout:     lockout,
		now:         time.Now,
	}
}

// Register validates input, creates a user account and opens a session.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (Session, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || len(name) > 100 {
		return Session{}, apperr.Validation("name is required (max 100 characters)")
	}
	if !utils.ValidEmail(email) {
		return Session{}, apperr.Validation("invalid email")
	}
	if !utils.StrongPassword(password) {
		return Session{}, apperr.Validation("password must be at least 8 characters and include an uppercase letter, a lowercase letter, a digit and one of " + utils.PasswordSymbols)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Session{}, apperr.Dependency("hash password", err)
	}
	account, err := s.accounts.Create(ctx, name, email, hash, model.RoleUser)
	if errors.Is(err, repository.ErrEmailExists) {
		return Session{}, apperr.Conflict("email already registered")
	}
	if err != nil {
		return Session{}, apperr.Dependency("create account", err)
	}

	sess, err := s.openSession(ctx, account)
	if err != nil {
		return Session{}, err
	}
	s.emit(ctx, queue.NewAuditEvent(queue.EventRegister, account.ID), account.Email)
	return sess, nil
}

// Login checks the password and opens a session. Unknown email, wrong
// password and inactive account all produce the same authentication error.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, apperr.Validation("email and password are required")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		// spend the same bcrypt time as a real check
		s.hasher.Verify(password, s.dummy())
		s.emit(ctx, queue.NewAuditEvent(queue.EventLoginFailure, 0), email)
		return Session{}, apperr.Authentication(apperr.ReasonInvalidCredentials, msgInvalidCredentials)
	}
	if err != nil {
		return Session{}, apperr.Dependency("load account", err)
	}

	now := s.now().UTC()
	if s.locked(account, now) {
		// a locked account answers exactly like an unknown email
		s.hasher.Verify(password, s.dummy())
		s.emit(ctx, queue.NewAuditEvent(queue.EventLoginFailure, account.ID), account.Email)
		return Session{}, apperr.Authentication(apperr.ReasonInvalidCredentials, msgInvalidCredentials)
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		if err := s.accounts.RecordFailedLogin(ctx, account.ID, now, now.Add(-s.lockout.Window)); err != nil {
			return Session{}, apperr.Dependency("record failed login", err)
		}
		s.emit(ctx, queue.NewAuditEvent(queue.EventLoginFailure, account.ID), account.Email)
		return Session{}, apperr.Authentication(apperr.ReasonInvalidCredentials, msgInvalidCredentials)
	}
	if !account.IsActive {
		return Session{}, apperr.Authentication(apperr.ReasonInvalidCredentials, msgInvalidCredentials)
	}

	if err := s.accounts.RecordLogin(ctx, account.ID, now); err != nil {
		return Session{}, apperr.Dependency("record login", err)
	}
	account.LastLogin = &now
	account.FailedLoginAttempts = 0
	account.LastFailedLogin = nil

	sess, err := s.openSession(ctx, account)
	if err != nil {
		return Session{}, err
	}
	s.emit(ctx, queue.NewAuditEvent(queue.EventLoginSuccess, account.ID), account.Email)
	return sess, nil
}

func (s *AuthService) locked(a model.Account, now time.Time) bool {
	if s.lockout.Threshold <= 0 || a.FailedLoginAttempts < s.lockout.Threshold || a.LastFailedLogin == nil {
		return false
	}
	return a.LastFailedLogin.Add(s.lockout.Window).After(now)
}

// Refresh exchanges a live refresh token for a new session and a new
// refresh token. The presented token is consumed; replaying it fails.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string) (Session, error) {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return Session{}, apperr.Validation("refresh_token is required")
	}
	claims, err := s.issuer.VerifyRefreshToken(rawRefresh)
	if err != nil {
		return Session{}, err
	}
	// a signed token that is no longer stored was rotated, logged out or
	// swept; Rotate re-checks under the row lock for concurrent callers
	live, err := s.revocations.IsLiveRefreshToken(ctx, rawRefresh)
	if err != nil {
		return Session{}, err
	}
	if !live {
		return Session{}, apperr.Authentication(apperr.ReasonRevoked, "refresh token revoked")
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return Session{}, apperr.Authentication(apperr.ReasonInvalidToken, "invalid refresh token")
	}
	if err != nil {
		return Session{}, apperr.Dependency("load account", err)
	}
	if !account.IsActive {
		return Session{}, apperr.Authentication(apperr.ReasonInvalidToken, "account is inactive")
	}

	newRefresh, refreshExp, err := s.issuer.IssueRefreshToken(account.ID)
	if err != nil {
		return Session{}, apperr.Dependency("issue refresh token", err)
	}
	err = s.tokens.Rotate(ctx, account.ID, utils.HashToken(rawRefresh), utils.HashToken(newRefresh), refreshExp, s.now())
	if errors.Is(err, repository.ErrRefreshConsumed) {
		return Session{}, apperr.Authentication(apperr.ReasonRevoked, "refresh token revoked")
	}
	if err != nil {
		return Session{}, apperr.Dependency("rotate refresh token", err)
	}

	access, accessExp, err := s.issuer.IssueSessionToken(utils.SessionClaims{
		AccountID: account.ID,
		Email:     account.Email,
		Name:      account.Name,
	})
	if err != nil {
		return Session{}, apperr.Dependency("issue session token", err)
	}

	s.emit(ctx, queue.NewAuditEvent(queue.EventRefresh, account.ID), account.Email)
	return Session{
		Account:          account,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout blacklists the presented session token until it expires. With a
// refresh token only that token is deleted; without one every refresh token
// of the account is.
func (s *AuthService) Logout(ctx context.Context, claims utils.SessionClaims, rawSession, rawRefresh string) error {
	if err := s.revocations.Blacklist(ctx, rawSession, claims.AccountID, claims.ExpiresAt); err != nil {
		return err
	}

	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh != "" {
		if _, err := s.tokens.Delete(ctx, claims.AccountID, utils.HashToken(rawRefresh)); err != nil {
			return apperr.Dependency("delete refresh token", err)
		}
	} else {
		if _, err := s.tokens.DeleteAllForAccount(ctx, claims.AccountID); err != nil {
			return apperr.Dependency("delete refresh tokens", err)
		}
	}

	s.emit(ctx, queue.NewAuditEvent(queue.EventLogout, claims.AccountID), claims.Email)
	return nil
}

// Profile returns the caller's account. Deactivated accounts are NotFound.
func (s *AuthService) Profile(ctx context.Context, accountID uint64) (model.Account, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !a.IsActive) {
		return model.Account{}, apperr.NotFound("account not found")
	}
	if err != nil {
		return model.Account{}, apperr.Dependency("load account", err)
	}
	return a, nil
}

// AccountRole returns the current role of an active account. Missing or
// inactive accounts are Forbidden.
func (s *AuthService) AccountRole(ctx context.Context, accountID uint64) (model.Role, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !a.IsActive) {
		return "", apperr.Authorization(apperr.ReasonForbidden, "forbidden")
	}
	if err != nil {
		return "", apperr.Dependency("load account", err)
	}
	return a.Role, nil
}

// ListAccounts pages through all accounts.
func (s *AuthService) ListAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	list, err := s.accounts.List(ctx, limit, offset)
	if err != nil {
		return nil, apperr.Dependency("list accounts", err)
	}
	return list, nil
}

// SetRole changes the role of targetID.
func (s *AuthService) SetRole(ctx context.Context, actorID, targetID uint64, role model.Role) (model.Account, error) {
	if !role.Valid() {
		return model.Account{}, apperr.Validation("role must be user or admin")
	}
	if actorID == targetID && role != model.RoleAdmin {
		return model.Account{}, apperr.Validation("admins cannot demote themselves")
	}
	err := s.accounts.SetRole(ctx, targetID, role)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Account{}, apperr.NotFound("account not found")
	}
	if err != nil {
		return model.Account{}, apperr.Dependency("set role", err)
	}
	a, err := s.accounts.GetByID(ctx, targetID)
	if err != nil {
		return model.Account{}, apperr.Dependency("load account", err)
	}

	ev := queue.NewAuditEvent(queue.EventAccountRoleChanged, targetID)
	ev.ActorID = actorID
	ev.Detail = map[string]string{"role": string(role)}
	s.emit(ctx, ev, a.Email)
	return a, nil
}

// DeactivateAccount soft-deletes targetID and drops its refresh tokens.
// Session tokens already issued stay valid until they expire.
func (s *AuthService) DeactivateAccount(ctx context.Context, actorID, targetID uint64) error {
	if actorID == targetID {
		return apperr.Validation("admins cannot deactivate themselves")
	}
	err := s.accounts.Deactivate(ctx, targetID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("account not found")
	}
	if err != nil {
		return apperr.Dependency("deactivate account", err)
	}

	ev := queue.NewAuditEvent(queue.EventAccountDeactivated, targetID)
	ev.ActorID = actorID
	s.emit(ctx, ev, "")
	return nil
}

// BootstrapAdmin makes sure an admin account exists for email. An existing
// account is promoted and keeps its password.
func (s *AuthService) BootstrapAdmin(ctx context.Context, name, email, password string) (model.Account, error) {
	email = strings.TrimSpace(email)
	if !utils.ValidEmail(email) {
		return model.Account{}, apperr.Validation("invalid admin email")
	}
	if !utils.StrongPassword(password) {
		return model.Account{}, apperr.Validation("admin password does not meet the password policy")
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.Account{}, apperr.Dependency("hash password", err)
	}
	a, created, err := s.accounts.UpsertAdmin(ctx, name, email, hash)
	if err != nil {
		return model.Account{}, apperr.Dependency("bootstrap admin", err)
	}

	ev := queue.NewAuditEvent(queue.EventAdminBootstrapped, a.ID)
	ev.Detail = map[string]string{"created": strconv.FormatBool(created)}
	s.emit(ctx, ev, a.Email)
	return a, nil
}

func (s *AuthService) openSession(ctx context.Context, a model.Account) (Session, error) {
	access, accessExp, err := s.issuer.IssueSessionToken(utils.SessionClaims{
		AccountID: a.ID,
		Email:     a.Email,
		Name:      a.Name,
	})
	if err != nil {
		return Session{}, apperr.Dependency("issue session token", err)
	}
	refresh, refreshExp, err := s.issuer.IssueRefreshToken(a.ID)
	if err != nil {
		return Session{}, apperr.Dependency("issue refresh token", err)
	}
	if err := s.tokens.Store(ctx, a.ID, utils.HashToken(refresh), refreshExp); err != nil {
		return Session{}, apperr.Dependency("store refresh token", err)
	}
	return Session{
		Account:          a,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("dummy-password-for-timing")
	})
	return s.dummyHash
}

func (s *AuthService) emit(ctx context.Context, ev queue.AuditEvent, email string) {
	ev.Email = email
	if err := s.events.Publish(ctx, ev); err != nil {
		logrus.WithError(err).WithField("type", ev.Type).Warn("audit publish failed")
	}
}
