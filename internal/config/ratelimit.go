package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimitConfig controls admission of login-class requests (register,
// login, refresh). Backend "memory" keeps windows per process; "redis"
// shares them between instances and falls back to memory when Redis is
// unreachable.
//
// The client address is the socket peer unless TrustedProxies is set, in
// which case X-Forwarded-For is honoured for hops inside those ranges.
type RateLimitConfig struct {
	Enabled     bool
	Backend     string
	MaxAttempts int
	Window      time.Duration
	MaxEntries  int
	KeyStrategy string // ip, ip_route, ip_account
	Prefix      string
	Debug       bool

	TrustedProxies []*net.IPNet
}

func LoadRateLimitConfig() RateLimitConfig {
	def := RateLimitConfig{
		Enabled:     envBool("RATE_LIMIT_ENABLED", true),
		Backend:     envStr("RATE_LIMIT_BACKEND", "memory"),
		MaxAttempts: envInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
		Window:      envDur("RATE_LIMIT_WINDOW", 15*time.Minute),
		MaxEntries:  envInt("RATE_LIMIT_MAX_ENTRIES", 10000),
		KeyStrategy: envStr("RATE_LIMIT_KEY_STRATEGY", "ip"),
		Prefix:      envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:       envBool("RATE_LIMIT_DEBUG", false),

		TrustedProxies: ParseCIDRs(os.Getenv("TRUSTED_PROXIES")),
	}
	if def.MaxAttempts < 1 {
		def.MaxAttempts = 1
	}
	if def.Window <= 0 {
		def.Window = 15 * time.Minute
	}
	if def.Backend != "redis" {
		def.Backend = "memory"
	}
	return def
}

// ParseCIDRs reads a comma separated list of CIDRs or bare addresses.
// Invalid entries are logged and skipped.
func ParseCIDRs(list string) []*net.IPNet {
	var out []*net.IPNet
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			if ip := net.ParseIP(raw); ip != nil {
				bits := 128
				if v4 := ip.To4(); v4 != nil {
					ip, bits = v4, 32
				}
				out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			logrus.WithField("entry", raw).Warn("ignoring invalid TRUSTED_PROXIES entry")
			continue
		}
		out = append(out, n)
	}
	return out
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
