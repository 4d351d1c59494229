package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/devops-dashboard/internal/apperr"
	"github.com/iliyamo/devops-dashboard/internal/config"
	"github.com/iliyamo/devops-dashboard/internal/model"
	"github.com/iliyamo/devops-dashboard/internal/repository"
	"github.com/iliyamo/devops-dashboard/internal/utils"
)

// SweepResult counts the rows removed by one expiry sweep.
type SweepResult struct {
	RefreshTokens int64
	Blacklist     int64
}

// RevocationStore answers "has this token been revoked" for session tokens
// and "is this refresh token still live" for refresh tokens. The SQL tables
// are authoritative; Redis only caches positive blacklist hits. A Redis
// failure falls through to SQL, a SQL failure is returned so callers reject.
type RevocationStore struct {
	blacklist *repository.BlacklistRepo
	tokens    *repository.TokenRepo
	rdb       *redis.Client
	cache     config.RevocationCacheConfig
	now       func() time.Time
}

// NewRevocationStore wires the repos and an optional Redis client (nil
// disables caching).
func NewRevocationStore(blacklist *repository.BlacklistRepo, tokens *repository.TokenRepo, rdb *redis.Client, cache config.RevocationCacheConfig) *RevocationStore {
	if !cache.Enabled {
		rdb = nil
	}
	if cache.Prefix == "" {
		cache.Prefix = "revoked"
	}
	if cache.Timeout <= 0 {
		cache.Timeout = 200 * time.Millisecond
	}
	return &RevocationStore{blacklist: blacklist, tokens: tokens, rdb: rdb, cache: cache, now: time.Now}
}

func (r *RevocationStore) cacheKey(hash string) string { return r.cache.Prefix + ":" + hash }

// IsBlacklisted reports whether sessionToken was revoked before its expiry.
func (r *RevocationStore) IsBlacklisted(ctx context.Context, sessionToken string) (bool, error) {
	hash := utils.HashToken(sessionToken)

	if r.rdb != nil {
		cctx, cancel := context.WithTimeout(ctx, r.cache.Timeout)
		n, err := r.rdb.Exists(cctx, r.cacheKey(hash)).Result()
		cancel()
		switch {
		case err != nil:
			logrus.WithError(err).Debug("revocation cache lookup failed, using database")
		case n > 0:
			return true, nil
		}
	}

	ok, err := r.blacklist.Exists(ctx, hash, r.now())
	if err != nil {
		return false, apperr.Dependency("check blacklist", err)
	}
	return ok, nil
}

// Blacklist revokes sessionToken until expiresAt. Calling it again for the
// same token is a no-op.
func (r *RevocationStore) Blacklist(ctx context.Context, sessionToken string, accountID uint64, expiresAt time.Time) error {
	now := r.now()
	if !expiresAt.After(now) {
		// already unusable; nothing to remember
		return nil
	}
	hash := utils.HashToken(sessionToken)
	err := r.blacklist.Insert(ctx, model.BlacklistEntry{
		TokenHash: hash,
		AccountID: accountID,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if err != nil {
		return apperr.Dependency("insert blacklist entry", err)
	}

	if r.rdb != nil {
		cctx, cancel := context.WithTimeout(ctx, r.cache.Timeout)
		if err := r.rdb.Set(cctx, r.cacheKey(hash), accountID, expiresAt.Sub(now)).Err(); err != nil {
			logrus.WithError(err).Debug("revocation cache write failed")
		}
		cancel()
	}
	return nil
}

// IsLiveRefreshToken reports whether refreshToken is stored and unexpired.
func (r *RevocationStore) IsLiveRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	ok, err := r.tokens.IsLive(ctx, utils.HashToken(refreshToken), r.now())
	if err != nil {
		return false, apperr.Dependency("check refresh token", err)
	}
	return ok, nil
}

// Sweep deletes expired refresh tokens and blacklist entries.
func (r *RevocationStore) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	n, err := r.tokens.SweepExpired(ctx, now)
	if err != nil {
		return res, apperr.Dependency("sweep refresh tokens", err)
	}
	res.RefreshTokens = n

	n, err = r.blacklist.Sweep(ctx, now)
	if err != nil {
		return res, apperr.Dependency("sweep blacklist", err)
	}
	res.Blacklist = n
	return res, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *RevocationStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := r.Sweep(ctx, r.now())
			if err != nil {
				logrus.WithError(err).Error("expiry sweep failed")
				continue
			}
			logrus.WithFields(logrus.Fields{
				"refresh_tokens": res.RefreshTokens,
				"blacklist":      res.Blacklist,
			}).Info("expiry sweep done")
		}
	}
}
