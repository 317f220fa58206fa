// Package main provides the entry point for the interaction check server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmylchreest/xcheck/internal/admission"
	"github.com/jmylchreest/xcheck/internal/api/handlers"
	"github.com/jmylchreest/xcheck/internal/audit"
	"github.com/jmylchreest/xcheck/internal/auth"
	"github.com/jmylchreest/xcheck/internal/browser"
	"github.com/jmylchreest/xcheck/internal/checker"
	"github.com/jmylchreest/xcheck/internal/config"
	"github.com/jmylchreest/xcheck/internal/credentials"
	"github.com/jmylchreest/xcheck/internal/extract"
	"github.com/jmylchreest/xcheck/internal/http/mw"
	"github.com/jmylchreest/xcheck/internal/http/routes"
	"github.com/jmylchreest/xcheck/internal/logging"
	"github.com/jmylchreest/xcheck/internal/shutdown"
	"github.com/jmylchreest/xcheck/internal/version"
)

const (
	keyReloadInterval   = 5 * time.Minute
	admissionPruneEvery = 10 * time.Minute
	auditCleanupEvery   = time.Hour
)

func main() {
	var (
		importCookies = flag.String("import-cookies", "", "import a JSON cookie export into the encrypted jar and exit")
		issueToken    = flag.String("issue-token", "", "print a service token for the given subject and exit")
		tokenScope    = flag.String("token-scope", "", "scope claim for -issue-token")
		tokenTTL      = flag.Duration("token-ttl", 30*24*time.Hour, "lifetime of the token printed by -issue-token")
		addKey        = flag.Bool("add-key", false, "generate an API key, append it to the key file and exit")
		revokeKey     = flag.String("revoke-key", "", "remove an API key from the key file and exit")
		showVersion   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get().String())
		return
	}

	// Load configuration first (logging config comes from env)
	cfg := config.Load()

	// Initialize logger using slog-logfilter (respects LOG_LEVEL, LOG_FORMAT env vars)
	logger := logging.SetDefault()

	switch {
	case *importCookies != "":
		exitOn(logger, runImportCookies(cfg, logger, *importCookies))
		return
	case *issueToken != "":
		exitOn(logger, runIssueToken(cfg, *issueToken, *tokenScope, *tokenTTL))
		return
	case *addKey:
		exitOn(logger, runAddKey(cfg, logger))
		return
	case *revokeKey != "":
		exitOn(logger, runRevokeKey(cfg, logger, *revokeKey))
		return
	}

	if err := serve(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting xcheck server",
		"version", version.Get().Version,
		"port", cfg.Port,
		"headless", cfg.Headless,
		"auto_login", cfg.CanAutoLogin(),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Browser engine (sessions are created per check)
	engine := browser.NewEngine(cfg, logger)
	defer engine.Close()
	go func() {
		if err := engine.Warmup(ctx); err != nil {
			logger.Warn("browser warmup failed, will retry on first check", "error", err)
		}
	}()

	// Credential manager
	sessions, err := credentials.NewManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	if sessions.CleanupExpired() {
		logger.Info("removed expired cookie jar at startup")
	}

	// API keys and service tokens
	keys, err := newKeyStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := keys.Reload(ctx); err != nil {
		logger.Warn("initial API key load incomplete", "error", err)
	}
	go keys.Watch(ctx, keyReloadInterval)

	tokens := auth.NewTokenVerifier(cfg.JWTSecret)

	switch {
	case cfg.AllowUnauthenticated:
		logger.Warn("unauthenticated access allowed - ALLOW_UNAUTHENTICATED is set")
	case keys.Len() == 0 && !tokens.Enabled():
		logger.Warn("no API keys or JWT secret configured - every check will be rejected",
			"key_file", cfg.APIKeysFile)
	default:
		logger.Info("authentication enabled", "api_keys", keys.Len(), "service_tokens", tokens.Enabled())
	}

	// Admission control
	ctrl := admission.New(admission.Limits{
		PerMinute:  cfg.RateLimitPerMinute,
		PerHour:    cfg.RateLimitPerHour,
		Concurrent: cfg.MaxConcurrentRequests,
	})
	go shutdown.Every(ctx, admissionPruneEvery, func(context.Context) {
		if n := ctrl.Prune(); n > 0 {
			logger.Debug("pruned idle admission entries", "count", n)
		}
	})

	// Checker
	svc := checker.NewService(engine, sessions, extract.New(logger), checker.Options{
		BaseURL:        cfg.BaseURL,
		RetryCount:     cfg.RetryCount,
		ScrollAttempts: cfg.CommentScrollAttempts,
		ScrollPause:    cfg.CommentScrollPause,
	}, logger)

	// Audit history (optional)
	var history handlers.HistoryReader
	if cfg.AuditDBPath != "" {
		store, err := audit.NewSQLiteStore(cfg.AuditDBPath, logger)
		if err != nil {
			return fmt.Errorf("audit store: %w", err)
		}
		defer store.Close()

		svc = svc.WithRecorder(store)
		history = store
		go shutdown.Every(ctx, auditCleanupEvery, func(ctx context.Context) {
			removed, err := store.CleanupOlderThan(ctx, time.Now().Add(-cfg.AuditRetention))
			if err != nil {
				logger.Warn("audit cleanup failed", "error", err)
				return
			}
			if removed > 0 {
				logger.Info("audit entries expired", "count", removed)
				if err := store.Vacuum(); err != nil {
					logger.Warn("audit vacuum failed", "error", err)
				}
			}
		})
		logger.Info("audit history enabled", "path", cfg.AuditDBPath, "retention", cfg.AuditRetention)
	}

	router := routes.New(
		routes.Options{
			IPRateLimit:    cfg.IPRateLimit,
			HandlerTimeout: cfg.HandlerTimeout,
			RequestLogging: logging.GetLevel() <= slog.LevelDebug,
		},
		routes.Handlers{
			Health: handlers.NewHealthHandler(sessions, ctrl),
			Checks: handlers.NewCheckHandler(svc),
			Stats:  handlers.NewStatsHandler(ctrl, history, logger),
		},
		mw.AuthConfig{
			Keys:                 keys,
			Tokens:               tokens,
			AllowUnauthenticated: cfg.AllowUnauthenticated,
			Logger:               logger,
		},
		ctrl,
		logger,
	)

	idle := shutdown.NewIdleMonitor(cfg.IdleTimeout, shutdown.IsCheckRequest, logger)
	go idle.Run(ctx)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      idle.Middleware(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.HandlerTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal, idle timeout or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down server...", "signal", sig.String())
	case <-idle.Done():
		logger.Info("shutting down idle server...")
	case err := <-serverErr:
		return err
	}

	// Cancel context to stop background tasks
	cancel()

	// Graceful shutdown with timeout; in-flight checks finish first
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HandlerTimeout+10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped", "open_browser_sessions", engine.Active())
	return nil
}

// newKeyStore assembles the API key sources: the static key, the key file
// and, when configured, a JSON key list in object storage.
func newKeyStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*auth.KeyStore, error) {
	keys := auth.NewKeyStore(cfg.APIKey, cfg.APIKeysFile, logger)
	if cfg.APIKeysS3Key == "" || cfg.S3Bucket == "" {
		return keys, nil
	}

	client, err := auth.NewS3Client(ctx, auth.S3Options{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	logger.Info("loading API keys from object storage", "bucket", cfg.S3Bucket, "key", cfg.APIKeysS3Key)
	return keys.WithS3(auth.NewS3Source(client, cfg.S3Bucket, cfg.APIKeysS3Key, logger)), nil
}

func exitOn(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
