package config

import "time"

// RevocationCacheConfig defines the Redis positive cache in front of the
// blacklisted_tokens table. Entries are written with the remaining lifetime
// of the revoked token as TTL, so the cache never outlives the SQL row.
// Timeout bounds each Redis call; a slow or failed lookup falls through to
// SQL.
type RevocationCacheConfig struct {
	Enabled bool
	Prefix  string
	Timeout time.Duration
}

// LoadRevocationCacheConfig reads REVOCATION_CACHE_* variables. Defaults
// are used when variables are not set.
func LoadRevocationCacheConfig() RevocationCacheConfig {
	cfg := RevocationCacheConfig{
		Enabled: envBool("REVOCATION_CACHE_ENABLED", true),
		Prefix:  envStr("REVOCATION_CACHE_PREFIX", "revoked"),
		Timeout: envDur("REVOCATION_CACHE_TIMEOUT", 200*time.Millisecond),
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 200 * time.Millisecond
	}
	return cfg
}
