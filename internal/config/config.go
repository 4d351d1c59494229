package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/devops-dashboard/internal/database"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBDriver    database.Dialect // mysql, postgres or sqlite
	DBUser      string           // database username
	DBPass      string           // database password (optional)
	DBHost      string           // database host address
	DBPort      string           // database port number
	DBName      string           // database name, or file path for sqlite
	DatabaseURL string           // full DSN; overrides the discrete DB_* values

	SessionSecret string        // HMAC secret for session tokens
	RefreshSecret string        // HMAC secret for refresh tokens, must differ
	SessionTTL    time.Duration // session token lifetime
	RefreshTTL    time.Duration // refresh token lifetime
	BcryptCost    int           // bcrypt cost for password hashing
	VaultKey      string        // 64 hex chars, seals stored service credentials

	LoginLockThreshold int           // failed logins before lockout; 0 disables
	LoginLockWindow    time.Duration // how long failures count and the lock lasts

	AdminEmail    string // bootstrap admin account, optional
	AdminPassword string
	AdminName     string

	LogLevel  string // logrus level name
	LogFormat string // "json" or "text"
	SentryDSN string // empty disables error reporting

	EventsBackend string   // none, amqp or kafka
	RabbitURL     string   // amqp://... when EventsBackend is amqp
	AuditQueue    string   // queue/topic name for audit events
	KafkaBrokers  []string // when EventsBackend is kafka
	KafkaTopic    string

	SweepInterval time.Duration // period of the expiry sweep in serve; 0 disables
}

// IsProd reports whether the service runs in production mode.
func (c Config) IsProd() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

// DSN returns DATABASE_URL when set, otherwise a DSN built from DB_*.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return database.DSN(c.DBDriver, c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
}

// Load reads a .env file when present, then the process environment.
// Configuration errors are fatal.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("could not read .env file")
	}
	cfg, err := Parse(os.LookupEnv)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	return cfg
}

// Parse builds a Config from lookup. Every problem is reported, not just the
// first one.
func Parse(lookup func(string) (string, bool)) (Config, error) {
	e := &env{lookup: lookup}

	cfg := Config{
		Env:  e.opt("APP_ENV", "dev"),
		Port: e.must("APP_PORT"),

		DBUser:      e.opt("DB_USER", ""),
		DBPass:      e.opt("DB_PASS", ""),
		DBHost:      e.opt("DB_HOST", ""),
		DBPort:      e.opt("DB_PORT", ""),
		DBName:      e.opt("DB_NAME", ""),
		DatabaseURL: e.opt("DATABASE_URL", ""),

		SessionSecret: e.must("JWT_SESSION_SECRET"),
		RefreshSecret: e.must("JWT_REFRESH_SECRET"),
		SessionTTL:    time.Duration(e.optInt("SESSION_TOKEN_TTL_MIN", 60)) * time.Minute,
		RefreshTTL:    time.Duration(e.optInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		BcryptCost:    e.optInt("BCRYPT_COST", 12),
		VaultKey:      e.must("VAULT_KEY"),

		LoginLockThreshold: e.optInt("LOGIN_LOCK_THRESHOLD", 0),
		LoginLockWindow:    time.Duration(e.optInt("LOGIN_LOCK_MINUTES", 15)) * time.Minute,

		AdminEmail:    e.opt("ADMIN_EMAIL", ""),
		AdminPassword: e.opt("ADMIN_PASSWORD", ""),
		AdminName:     e.opt("ADMIN_NAME", "Administrator"),

		LogLevel:  e.opt("LOG_LEVEL", "info"),
		LogFormat: e.opt("LOG_FORMAT", ""),
		SentryDSN: e.opt("SENTRY_DSN", ""),

		EventsBackend: strings.ToLower(e.opt("EVENTS_BACKEND", "none")),
		RabbitURL:     e.opt("RABBITMQ_URL", ""),
		AuditQueue:    e.opt("AUDIT_QUEUE", "audit.events"),
		KafkaBrokers:  splitList(e.opt("KAFKA_BROKERS", "")),
		KafkaTopic:    e.opt("KAFKA_TOPIC", "audit.events"),

		SweepInterval: e.optDur("SWEEP_INTERVAL", time.Hour),
	}

	driver, err := database.ParseDialect(e.opt("DB_DRIVER", "mysql"))
	if err != nil {
		e.errs = append(e.errs, err)
	}
	cfg.DBDriver = driver

	if cfg.DatabaseURL == "" {
		required := []string{"DB_USER", "DB_HOST", "DB_PORT", "DB_NAME"}
		if driver == database.SQLite {
			required = []string{"DB_NAME"}
		}
		for _, k := range required {
			if v, _ := lookup(k); strings.TrimSpace(v) == "" {
				e.errs = append(e.errs, fmt.Errorf("missing required env var: %s", k))
			}
		}
	}

	if cfg.SessionSecret != "" && cfg.SessionSecret == cfg.RefreshSecret {
		e.errs = append(e.errs, errors.New("JWT_SESSION_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if cfg.SessionTTL <= 0 || cfg.RefreshTTL <= 0 {
		e.errs = append(e.errs, errors.New("token lifetimes must be positive"))
	}
	if cfg.LoginLockThreshold < 0 {
		e.errs = append(e.errs, errors.New("LOGIN_LOCK_THRESHOLD must not be negative"))
	}
	if (cfg.AdminEmail == "") != (cfg.AdminPassword == "") {
		e.errs = append(e.errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}

	switch cfg.EventsBackend {
	case "none", "":
		cfg.EventsBackend = "none"
	case "amqp":
		if cfg.RabbitURL == "" {
			e.errs = append(e.errs, errors.New("EVENTS_BACKEND=amqp requires RABBITMQ_URL"))
		}
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			e.errs = append(e.errs, errors.New("EVENTS_BACKEND=kafka requires KAFKA_BROKERS"))
		}
	default:
		e.errs = append(e.errs, fmt.Errorf("unsupported EVENTS_BACKEND %q", cfg.EventsBackend))
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.IsProd() {
			cfg.LogFormat = "json"
		}
	}

	return cfg, errors.Join(e.errs...)
}

// env wraps a lookup function and collects errors instead of exiting.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

// must retrieves the value of a required variable.
func (e *env) must(key string) string {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		e.errs = append(e.errs, fmt.Errorf("missing required env var: %s", key))
		return ""
	}
	return v
}

func (e *env) opt(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// optInt is like opt() but converts the value into an integer.
func (e *env) optInt(key string, def int) int {
	s := e.opt(key, "")
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid int for %s: %q", key, s))
		return def
	}
	return n
}

func (e *env) optDur(key string, def time.Duration) time.Duration {
	s := e.opt(key, "")
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid duration for %s: %q", key, s))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
