package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/devops-dashboard/internal/database/dbtest"
	"github.com/iliyamo/devops-dashboard/internal/model"
)

func TestAccountRepo_CreateAndLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewAccountRepo(dbtest.Open(t))

	a, err := repo.Create(ctx, "Alice", "  alice@example.com ", "hash", model.RoleUser)
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Equal(t, "alice@example.com", a.Email)
	assert.True(t, a.IsActive)
	assert.Equal(t, model.RoleUser, a.Role)
	assert.Nil(t, a.LastLogin)

	got, err := repo.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = repo.GetByEmail(ctx, "Alice@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByID(ctx, a.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccountRepo_DuplicateEmail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewAccountRepo(dbtest.Open(t))

	_, err := repo.Create(ctx, "A", "dup@example.com", "h", model.RoleUser)
	require.NoError(t, err)
	_, err = repo.Create(ctx, "B", "dup@example.com", "h", model.RoleUser)
	assert.ErrorIs(t, err, ErrEmailExists)

	// case-sensitive: a differently cased address is a different account
	_, err = repo.Create(ctx, "C", "Dup@example.com", "h", model.RoleUser)
	assert.NoError(t, err)
}

func TestAccountRepo_LoginCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewAccountRepo(dbtest.Open(t))
	a, err := repo.Create(ctx, "A", "a@example.com", "h", model.RoleUser)
	require.NoError(t, err)

	base := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	window := 15 * time.Minute
	require.NoError(t, repo.RecordFailedLogin(ctx, a.ID, base, base.Add(-window)))
	require.NoError(t, repo.RecordFailedLogin(ctx, a.ID, base.Add(time.Minute), base.Add(time.Minute-window)))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedLoginAttempts)
	require.NotNil(t, got.LastFailedLogin)
	assert.True(t, got.LastFailedLogin.Equal(base.Add(time.Minute)))

	// an old failure restarts the counter
	later := base.Add(time.Hour)
	require.NoError(t, repo.RecordFailedLogin(ctx, a.ID, later, later.Add(-window)))
	got, err = repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedLoginAttempts)

	require.NoError(t, repo.RecordLogin(ctx, a.ID, later.Add(time.Second)))
	got, err = repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLoginAttempts)
	assert.Nil(t, got.LastFailedLogin)
	require.NotNil(t, got.LastLogin)
	assert.True(t, got.LastLogin.Equal(later.Add(time.Second)))
}

func TestAccountRepo_RoleAndDeactivate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewAccountRepo(db)
	tokens := NewTokenRepo(db)

	a, err := repo.Create(ctx, "A", "a@example.com", "h", model.RoleUser)
	require.NoError(t, err)
	require.NoError(t, tokens.Store(ctx, a.ID, "t1", time.Now().Add(time.Hour)))

	require.NoError(t, repo.SetRole(ctx, a.ID, model.RoleAdmin))
	require.NoError(t, repo.SetRole(ctx, a.ID, model.RoleAdmin))
	assert.ErrorIs(t, repo.SetRole(ctx, 9999, model.RoleAdmin), ErrNotFound)

	require.NoError(t, repo.Deactivate(ctx, a.ID))
	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, model.RoleAdmin, got.Role)

	live, err := tokens.IsLive(ctx, "t1", time.Now())
	require.NoError(t, err)
	assert.False(t, live)

	assert.ErrorIs(t, repo.Deactivate(ctx, 9999), ErrNotFound)

	list, err := repo.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAccountRepo_UpsertAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewAccountRepo(dbtest.Open(t))

	a, created, err := repo.UpsertAdmin(ctx, "Admin", "root@example.com", "h1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.RoleAdmin, a.Role)

	u, err := repo.Create(ctx, "U", "u@example.com", "h2", model.RoleUser)
	require.NoError(t, err)
	p, created, err := repo.UpsertAdmin(ctx, "ignored", "u@example.com", "other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, p.ID)
	assert.Equal(t, model.RoleAdmin, p.Role)
	assert.Equal(t, "h2", p.PasswordHash)
}

func TestTokenRepo_RotateSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := dbtest.Open(t)
	accounts := NewAccountRepo(db)
	repo := NewTokenRepo(db)
	a, err := accounts.Create(ctx, "A", "a@example.com", "h", model.RoleUser)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, repo.Store(ctx, a.ID, "old", now.Add(time.Hour)))

	const workers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.Rotate(ctx, a.ID, "old", "new-"+string(rune('a'+i)), now.Add(time.Hour), now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRefreshConsumed):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, losses)

	live, err := repo.IsLive(ctx, "old", now)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestTokenRepo_RotateRejectsExpiredAndForeign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := dbtest.Open(t)
	accounts := NewAccountRepo(db)
	repo := NewTokenRepo(db)
	a, err := accounts.Create(ctx, "A", "a@example.com", "h", model.RoleUser)
	require.NoError(t, err)
	b, err := accounts.Create(ctx, "B", "b@example.com", "h", model.RoleUser)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, repo.Store(ctx, a.ID, "expired", now.Add(-time.Minute)))
	require.NoError(t, repo.Store(ctx, a.ID, "live", now.Add(time.Hour)))

	assert.ErrorIs(t, repo.Rotate(ctx, a.ID, "expired", "n1", now.Add(time.Hour), now), ErrRefreshConsumed)
	assert.ErrorIs(t, repo.Rotate(ctx, b.ID, "live", "n2", now.Add(time.Hour), now), ErrRefreshConsumed)

	live, err := repo.IsLive(ctx, "live", now)
	require.NoError(t, err)
	assert.True(t, live)

	n, err := repo.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ok, err := repo.Delete(ctx, b.ID, "live")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.Delete(ctx, a.ID, "live")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBlacklistRepo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewBlacklistRepo(dbtest.Open(t))
	now := time.Now().UTC()

	ok, err := repo.Exists(ctx, "h1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	e := model.BlacklistEntry{TokenHash: "h1", AccountID: 1, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.Insert(ctx, e))
	require.NoError(t, repo.Insert(ctx, e))

	ok, err = repo.Exists(ctx, "h1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "h1", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := repo.Sweep(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCredentialRepo_UpsertKeepsOneRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := dbtest.Open(t)
	accounts := NewAccountRepo(db)
	repo := NewCredentialRepo(db)
	a, err := accounts.Create(ctx, "A", "a@example.com", "h", model.RoleUser)
	require.NoError(t, err)

	t0 := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, a.ID, model.ServiceGitHub, []byte("A"), t0))
	require.NoError(t, repo.SetActive(ctx, a.ID, model.ServiceGitHub, false, t0))
	require.NoError(t, repo.Upsert(ctx, a.ID, model.ServiceGitHub, []byte("B"), t0.Add(time.Minute)))

	c, err := repo.Get(ctx, a.ID, model.ServiceGitHub)
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), c.Secret)
	assert.True(t, c.IsActive)
	assert.True(t, c.CreatedAt.Equal(t0))
	assert.True(t, c.UpdatedAt.Equal(t0.Add(time.Minute)))

	metas, err := repo.ListMeta(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, model.ServiceGitHub, metas[0].ServiceType)
}

func TestCredentialRepo_ConcurrentUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := dbtest.Open(t)
	accounts := NewAccountRepo(db)
	repo := NewCredentialRepo(db)
	a, err := accounts.Create(ctx, "A", "a@example.com", "h", model.RoleUser)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.Upsert(ctx, a.ID, model.ServiceDockerHub, []byte{byte(i)}, time.Now()))
		}(i)
	}
	wg.Wait()

	metas, err := repo.ListMeta(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestCredentialRepo_ActiveAndSync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := dbtest.Open(t)
	accounts := NewAccountRepo(db)
	repo := NewCredentialRepo(db)
	a, err := accounts.Create(ctx, "A", "a@example.com", "h", model.RoleUser)
	require.NoError(t, err)
	now := time.Now().UTC()

	assert.ErrorIs(t, repo.SetActive(ctx, a.ID, model.ServiceJenkins, false, now), ErrNotFound)
	assert.ErrorIs(t, repo.MarkSynced(ctx, a.ID, model.ServiceJenkins, now), ErrNotFound)
	_, err = repo.Get(ctx, a.ID, model.ServiceJenkins)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, a.ID, model.ServiceJenkins, []byte("x"), now))
	ok, err := repo.HasActive(ctx, a.ID, model.ServiceJenkins)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.MarkSynced(ctx, a.ID, model.ServiceJenkins, now))
	c, err := repo.Get(ctx, a.ID, model.ServiceJenkins)
	require.NoError(t, err)
	require.NotNil(t, c.LastSync)

	require.NoError(t, repo.SetActive(ctx, a.ID, model.ServiceJenkins, false, now))
	ok, err = repo.HasActive(ctx, a.ID, model.ServiceJenkins)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, repo.MarkSynced(ctx, a.ID, model.ServiceJenkins, now), ErrNotFound)

	ok, err = repo.HasActive(ctx, a.ID+1, model.ServiceJenkins)
	require.NoError(t, err)
	assert.False(t, ok)
}
