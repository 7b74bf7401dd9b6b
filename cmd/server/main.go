// @title           Audit Trail API
// @version         1.0.0
// @description     Tamper-evident audit trail: event intake, integrity verification, compliance reporting and retention.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "JWT bearer token: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated port (default: 9090), separate from the API listener. Configure it with AUDIT_TELEMETRY_METRICS_PROMETHEUS_PORT. The path is always GET /metrics.

// Package main is the entry point for the audit trail server binary.
// It dispatches four subcommands (serve, migrate, verify-chain and version) via a
// switch on os.Args. The serve command runs migrations on startup.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audit-trail/audit-trail/internal/api"
	"github.com/audit-trail/audit-trail/internal/api/admin"
	"github.com/audit-trail/audit-trail/internal/audit"
	"github.com/audit-trail/audit-trail/internal/audit/notify"
	"github.com/audit-trail/audit-trail/internal/auth"
	"github.com/audit-trail/audit-trail/internal/compliance"
	"github.com/audit-trail/audit-trail/internal/config"
	"github.com/audit-trail/audit-trail/internal/db"
	"github.com/audit-trail/audit-trail/internal/db/repositories"
	"github.com/audit-trail/audit-trail/internal/jobs"
	"github.com/audit-trail/audit-trail/internal/middleware"
	"github.com/audit-trail/audit-trail/internal/storage"
	_ "github.com/audit-trail/audit-trail/internal/storage/azure"
	_ "github.com/audit-trail/audit-trail/internal/storage/gcs"
	_ "github.com/audit-trail/audit-trail/internal/storage/local"
	_ "github.com/audit-trail/audit-trail/internal/storage/s3"
	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// shutdownTimeout bounds the final flush of buffered events.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command == "version" {
		fmt.Printf("Audit Trail v%s\n", api.Version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")

	switch command {
	case "serve":
		return serve(configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runMigrations(cfg, os.Args[2])
	case "verify-chain":
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return verifyChain(cfg)
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, verify-chain, version", command)
	}
}

func serve(configPath string) error {
	// Set once the logger exists; reloads before that only change the log level.
	var reloadTarget atomic.Pointer[audit.Logger]
	cfg, err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLevel(next.Logging.Level)
		if l := reloadTarget.Load(); l != nil {
			l.ApplyRiskConfig(next.Audit.Risk)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "user", cfg.Database.User, "ssl_mode", cfg.Database.SSLMode)
	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	telemetry.StartDBStatsCollector(ctx, database)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	sqlxDB := sqlx.NewDb(database, "postgres")
	events := repositories.NewAuditEventRepository(sqlxDB)
	criticals := repositories.NewCriticalEventRepository(sqlxDB)
	policies := repositories.NewRetentionPolicyRepository(sqlxDB)

	notifier, err := notify.New(&cfg.Notifications)
	if err != nil {
		return fmt.Errorf("failed to configure notifications: %w", err)
	}
	defer notifier.Close()
	slog.Info("critical event notifications configured", "destinations", notifier.Len())

	auditLogger, err := audit.NewLogger(ctx, &cfg.Audit, events, criticals, notifier)
	if err != nil {
		return fmt.Errorf("failed to start audit logger: %w", err)
	}
	auditLogger.Start()
	reloadTarget.Store(auditLogger)

	var archive storage.Storage
	if cfg.Archive.Enabled {
		archive, err = storage.NewStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to configure archive storage: %w", err)
		}
		slog.Info("archive export enabled", "backend", cfg.Archive.Backend, "prefix", cfg.Archive.Prefix)
	}

	retention := jobs.NewRetentionManager(cfg.Audit.Retention, events, policies, archive, cfg.Archive.Prefix, auditLogger)
	if err := retention.Start(); err != nil {
		return err
	}

	var limiter middleware.Limiter
	if cfg.Security.RateLimit.Enabled {
		limiter, err = middleware.NewLimiter(cfg.Security.RateLimit)
		if err != nil {
			return fmt.Errorf("failed to configure rate limiting: %w", err)
		}
		defer limiter.Close()
	}

	algorithm := auditLogger.Algorithm()
	router := api.NewRouter(api.Dependencies{
		Config:    cfg,
		DB:        database,
		Logger:    auditLogger,
		Events:    compliance.NewQueryService(events, algorithm),
		Criticals: criticals,
		Reports:   compliance.NewReporter(events, criticals, auditLogger, algorithm),
		Integrity: admin.ChainVerifierFunc(func(ctx context.Context) (*audit.ChainReport, error) {
			return audit.VerifyChain(ctx, events, algorithm, 0)
		}),
		Holds:      retention,
		Policies:   policies,
		Retention:  retention,
		Archive:    archive,
		RateLimits: limiter,
	})

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(cfg.Telemetry.Metrics.PrometheusPort)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			slog.Error("server failed", "error", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop intake first so the final flush sees every accepted event.
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}
	if err := retention.Stop(shutdownCtx); err != nil {
		slog.Error("retention manager shutdown failed", "error", err)
	}
	if err := auditLogger.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("audit logger shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// startMetricsServer serves Prometheus metrics on a dedicated port so the scrape path
// is not reachable through the public API listener.
func startMetricsServer(port int) {
	addr := fmt.Sprintf(":%d", port)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting Prometheus metrics server", "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

// verifyChain walks the persisted chain, prints the report as JSON and exits non-zero
// when the chain is broken.
func verifyChain(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	events := repositories.NewAuditEventRepository(sqlx.NewDb(database, "postgres"))
	report, err := audit.VerifyChain(ctx, events, cfg.Audit.Chain.Algorithm, 0)
	if err != nil {
		return fmt.Errorf("chain verification failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("audit chain is broken at event %s", report.FirstBreak.EventID)
	}
	return nil
}
