package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iliyamo/devops-dashboard/internal/config"
	"github.com/iliyamo/devops-dashboard/internal/database"
	"github.com/iliyamo/devops-dashboard/internal/handler"
	"github.com/iliyamo/devops-dashboard/internal/queue"
	"github.com/iliyamo/devops-dashboard/internal/ratelimit"
	"github.com/iliyamo/devops-dashboard/internal/repository"
	"github.com/iliyamo/devops-dashboard/internal/router"
	"github.com/iliyamo/devops-dashboard/internal/service"
	"github.com/iliyamo/devops-dashboard/internal/utils"
)

func serveCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (migrates the database first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
}

func migrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.Open(cfg.DBDriver, cfg.DSN())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			applied, err := database.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			logrus.WithField("applied", len(applied)).Info("migrations up to date")
			return nil
		},
	}
}

func sweepCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired refresh tokens and blacklist entries once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.Open(cfg.DBDriver, cfg.DSN())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			store := service.NewRevocationStore(repository.NewBlacklistRepo(db), repository.NewTokenRepo(db), nil, config.RevocationCacheConfig{})
			res, err := store.Sweep(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"refresh_tokens": res.RefreshTokens,
				"blacklist":      res.Blacklist,
			}).Info("sweep done")
			return nil
		},
	}
}

func consumeAuditCommand(cfg *config.Config) *cobra.Command {
	var dir, group string
	cmd := &cobra.Command{
		Use:   "consume-audit",
		Short: "Append audit events from the configured broker to <dir>/audit.log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sink := queue.NewAuditLog(dir)
			logrus.WithFields(logrus.Fields{
				"backend": cfg.EventsBackend,
				"file":    sink.Path(),
			}).Info("consuming audit events")

			var err error
			switch cfg.EventsBackend {
			case "amqp":
				err = queue.ConsumeAMQP(cmd.Context(), cfg.RabbitURL, cfg.AuditQueue, sink)
			case "kafka":
				err = queue.ConsumeKafka(cmd.Context(), cfg.KafkaBrokers, cfg.KafkaTopic, group, sink)
			default:
				return errors.New("consume-audit needs EVENTS_BACKEND=amqp or kafka")
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "logs", "directory of audit.log")
	cmd.Flags().StringVar(&group, "group", "audit-log", "kafka consumer group")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	flush := initSentry(cfg)
	defer flush()

	db, err := database.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if _, err := database.Migrate(ctx, db); err != nil {
		return err
	}

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}

	issuer, err := utils.NewTokenService([]byte(cfg.SessionSecret), []byte(cfg.RefreshSecret), cfg.SessionTTL, cfg.RefreshTTL)
	if err != nil {
		return err
	}
	box, err := utils.NewSecretBoxHex(cfg.VaultKey)
	if err != nil {
		return fmt.Errorf("VAULT_KEY: %w", err)
	}

	events := newPublisher(cfg)
	defer events.Close()

	tokens := repository.NewTokenRepo(db)
	revocations := service.NewRevocationStore(repository.NewBlacklistRepo(db), tokens, rdb, config.LoadRevocationCacheConfig())
	auth := service.NewAuthService(
		repository.NewAccountRepo(db),
		tokens,
		revocations,
		utils.NewPasswordHasher(cfg.BcryptCost),
		issuer,
		events,
		service.LockoutPolicy{Threshold: cfg.LoginLockThreshold, Window: cfg.LoginLockWindow},
	)
	vault := service.NewVault(repository.NewCredentialRepo(db), box, events)

	if cfg.AdminEmail != "" {
		a, err := auth.BootstrapAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		logrus.WithField("account_id", a.ID).Info("admin account ready")
	}

	rl := config.LoadRateLimitConfig()
	e := router.New(router.Deps{
		Tokens:      issuer,
		Revocations: revocations,
		Auth:        auth,
		Vault:       vault,
		Limiter:     newLimiter(rl, rdb),
		RateLimit:   rl,
		Health:      handler.NewHealthHandler(db, rdb),
	})

	go revocations.RunSweeper(ctx, cfg.SweepInterval)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logrus.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "db": cfg.DBDriver}).Info("listening")
		errc <- e.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// newPublisher picks the audit transport. Broker publishes happen off the
// request path.
func newPublisher(cfg config.Config) queue.Publisher {
	switch cfg.EventsBackend {
	case "amqp":
		return queue.NewAsyncPublisher(queue.NewAMQPPublisher(cfg.RabbitURL, cfg.AuditQueue), 256)
	case "kafka":
		return queue.NewAsyncPublisher(queue.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), 256)
	}
	return queue.NopPublisher{}
}

func newLimiter(cfg config.RateLimitConfig, rdb *redis.Client) ratelimit.Checker {
	if cfg.Backend == "redis" {
		if rdb != nil {
			return ratelimit.NewRedisLimiter(rdb, cfg.Prefix, cfg.MaxAttempts, cfg.Window)
		}
		logrus.Warn("RATE_LIMIT_BACKEND=redis but Redis is not available, using memory")
	}
	return ratelimit.NewLimiter(cfg.MaxAttempts, cfg.Window, ratelimit.WithMaxEntries(cfg.MaxEntries))
}
