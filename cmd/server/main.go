package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iliyamo/devops-dashboard/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("command failed")
		cancel()
		os.Exit(1)
	}
}

// rootCommand runs serve when no subcommand is given.
func rootCommand() *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:           "devops-dashboard",
		Short:         "Authentication and credential vault API for the DevOps dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg = config.Load()
			setupLogging(cfg)
			return nil
		},
	}

	serve := serveCommand(&cfg)
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		migrateCommand(&cfg),
		sweepCommand(&cfg),
		consumeAuditCommand(&cfg),
	)
	return root
}

func setupLogging(cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// initSentry is a no-op without a DSN. The returned func flushes buffered
// events and must run before exit.
func initSentry(cfg config.Config) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Env,
		AttachStacktrace: true,
	})
	if err != nil {
		logrus.WithError(err).Warn("sentry init failed, error reporting disabled")
		return func() {}
	}
	return func() { sentry.Flush(2 * time.Second) }
}
