// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/identity/internal/api"
	"github.com/holomush/identity/internal/auth"
	"github.com/holomush/identity/internal/auth/postgres"
	"github.com/holomush/identity/internal/config"
	"github.com/holomush/identity/internal/logging"
	"github.com/holomush/identity/internal/mail"
	"github.com/holomush/identity/internal/store"
	"github.com/holomush/identity/pkg/errutil"
)

const (
	serviceName     = "identity"
	shutdownTimeout = 10 * time.Second
	readinessProbe  = time.Second
	mailBackoff     = 500 * time.Millisecond
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the identity API server",
		Long: `Start the HTTP/JSON API together with the mail dispatcher, the
expired-token janitor, and the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}
}

// runServeWithDeps runs the service until a signal arrives, ctx is
// cancelled, or a listener fails. If deps is nil, default implementations
// are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	})

	logger.Info("starting identity service",
		"addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"mail_driver", cfg.Mail.Driver,
	)

	db, err := deps.DatabaseFactory(ctx, cfg.Database.URL, store.PoolOptions{Logger: logger})
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()
	logger.Info("connected to database")

	if cfg.Database.AutoMigrate {
		if err := autoMigrate(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, func() bool {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), readinessProbe)
		defer pingCancel()
		return db.Ping(pingCtx) == nil
	}, logger)
	metrics := obsServer.Metrics()

	transport, err := deps.TransportFactory(cfg.Mail, logger)
	if err != nil {
		return oops.With("operation", "create mail transport").Wrap(err)
	}
	dispatcher, err := mail.NewDispatcher(transport,
		mail.WithWorkers(cfg.Mail.Workers),
		mail.WithQueueSize(cfg.Mail.QueueSize),
		mail.WithRetry(cfg.Mail.MaxRetries, mailBackoff),
		mail.WithLogger(logger),
		mail.WithRecorder(metrics),
	)
	if err != nil {
		return err
	}
	composer, err := auth.NewMailComposer(cfg.Mail.From, cfg.HTTP.PublicURL)
	if err != nil {
		return err
	}
	sessions, err := auth.NewSessionIssuer([]byte(cfg.Session.Secret), cfg.Session.TTL,
		auth.WithSessionIssuerName(cfg.Session.Issuer))
	if err != nil {
		return err
	}

	svc, err := auth.NewService(auth.ServiceConfig{
		Accounts:   postgres.NewAccountRepository(db),
		Tokens:     postgres.NewVerificationTokenRepository(db, cfg.Tokens.VerificationTTL),
		Hasher:     auth.NewArgon2idHasherWithParams(cfg.Password.Argon2.Params()),
		Sessions:   sessions,
		Notifier:   dispatcher,
		Mails:      composer,
		Transactor: postgres.NewTransactor(db),
		ResetTTL:   cfg.Tokens.ResetTTL,
	}, auth.WithLogger(logger), auth.WithEventRecorder(metrics))
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(api.Config{
		Service:        svc,
		Sessions:       sessions,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Observer:       metrics,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	// Workers start only once nothing below can fail without reaching
	// closeDispatcher. Queued mail is drained on shutdown, not abandoned with ctx.
	dispatcher.Start(context.WithoutCancel(ctx))

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		svc.RunTokenJanitor(ctx, cfg.Tokens.PurgeInterval)
	}()

	apiServer := api.NewServer(cfg.HTTP.Addr, handler, cfg.HTTP.ReadHeaderTimeout, logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		cancel()
		background.Wait()
		closeDispatcher(dispatcher, logger)
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api", logger)

	if cfg.Metrics.Addr != "" {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			cancel()
			stopAPI(apiServer, logger)
			background.Wait()
			closeDispatcher(dispatcher, logger)
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Identity service started")
	logger.Info("identity service ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	stopAPI(apiServer, logger)
	cancel()
	background.Wait()
	closeDispatcher(dispatcher, logger)

	if cfg.Metrics.Addr != "" {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func stopAPI(srv *api.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
}

func closeDispatcher(d *mail.Dispatcher, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		errutil.LogError(logger, "mail queue not drained", err)
	}
}

// autoMigrate applies pending migrations before serving.
func autoMigrate(deps *Deps, url string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
