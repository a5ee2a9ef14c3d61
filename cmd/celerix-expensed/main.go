package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/celerix-dev/celerix-expenses/internal/api"
	"github.com/celerix-dev/celerix-expenses/internal/auth"
	"github.com/celerix-dev/celerix-expenses/internal/blobstore"
	"github.com/celerix-dev/celerix-expenses/internal/config"
	"github.com/celerix-dev/celerix-expenses/internal/engine"
	"github.com/celerix-dev/celerix-expenses/internal/intake"
	"github.com/celerix-dev/celerix-expenses/internal/metrics"
	"github.com/celerix-dev/celerix-expenses/internal/notify"
	"github.com/celerix-dev/celerix-expenses/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("celerix-expensed", pflag.ContinueOnError)
	configPath := flagSet.String("config", os.Getenv(config.ConfigEnvVar), "path to YAML config file")
	shutdownTimeout := flagSet.Duration("shutdown-timeout", 15*time.Second, "grace period for in-flight requests")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Blob store
	store, closer, err := blobstore.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s blob store: %w", cfg.Store.Backend, err)
	}
	defer closer.Close()
	logger.Info("blob store ready", "backend", cfg.Store.Backend)

	// 2. Repository and submit workflow
	repo := engine.New(store, engine.OptionsFromConfig(cfg.Repository, logger))

	notifier, err := notify.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure notifications: %w", err)
	}
	if !cfg.MailEnabled() {
		logger.Warn("SMTP not configured; submission emails are disabled")
	}
	submissions := intake.NewService(repo, store, notifier, intake.Options{
		MaxReceiptBytes: cfg.Intake.MaxReceiptBytes,
		Logger:          logger,
	})

	// 3. Admin auth
	tokens := auth.NewTokenService(cfg.Auth.SessionSecret, cfg.Auth.TokenTTL)
	if !tokens.Enabled() {
		logger.Warn("ADMIN_SESSION_SECRET is not set; every admin request will be rejected")
	}
	if cfg.Auth.PasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH is not set; admin login is impossible")
	}

	// 4. HTTP API
	metrics.Register(prometheus.DefaultRegisterer)
	h := &api.Handler{
		Repo:         repo,
		Blobs:        store,
		Intake:       submissions,
		Tokens:       tokens,
		PasswordHash: cfg.Auth.PasswordHash,
		SecureCookie: cfg.HTTP.TLS,
		MaxBodyBytes: cfg.Intake.MaxBodyBytes,
		Logger:       logger,
	}
	router := api.NewRouter(h, api.RouterOptions{
		CORSOrigin: cfg.HTTP.CORSOrigin,
		StaticDir:  cfg.HTTP.StaticDir,
	})

	srv := server.New(":"+cfg.HTTP.Port, router, logger)
	if cfg.HTTP.TLS {
		cert, err := auth.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("failed to generate TLS certificate: %w", err)
		}
		srv.SetCertificate(cert)
	}

	// 5. Serve until signalled, then let pending notifications finish.
	err = srv.Run(ctx, *shutdownTimeout)
	logger.Info("waiting for pending notifications")
	submissions.Wait()
	return err
}
