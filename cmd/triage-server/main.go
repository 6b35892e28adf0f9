package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/instantmed/triage/internal/config"
	"github.com/instantmed/triage/internal/domain/intake"
	"github.com/instantmed/triage/internal/domain/safety"
	"github.com/instantmed/triage/internal/platform/audit"
	"github.com/instantmed/triage/internal/platform/auth"
	"github.com/instantmed/triage/internal/platform/db"
	"github.com/instantmed/triage/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "triage-server",
		Short:        "Telehealth intake safety triage API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// store bundles the intake repository with its health checker and cleanup.
type store struct {
	repo    intake.IntakeRepository
	checker db.Checker
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &store{
			repo:    intake.NewIntakeRepoPG(pool),
			checker: db.PostgresChecker(pool),
			close:   pool.Close,
		}, nil
	case config.StoreSQLite:
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &store{
			repo:    intake.NewIntakeRepoSQLite(sqlDB),
			checker: db.SQLiteChecker(sqlDB),
			close:   func() { sqlDB.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// newAuditSink always logs evaluation records and, when path is set, also
// appends them to a JSONL file.
func newAuditSink(logger zerolog.Logger, path string) (audit.Sink, func(), error) {
	logSink := audit.NewLogSink(logger)
	if path == "" {
		return logSink, func() {}, nil
	}
	jsonl, err := audit.NewJSONLSink(path)
	if err != nil {
		return nil, nil, err
	}
	return audit.MultiSink{logSink, jsonl}, func() { jsonl.Close() }, nil
}

func logRuleSet(logger zerolog.Logger, rs *safety.RuleSet) {
	logger.Info().Str("version", rs.Version()).Int("services", len(rs.ServiceTypes())).Msg("safety rules loaded")
	for _, s := range rs.Summary() {
		logger.Info().
			Str("service_type", string(s.ServiceType)).
			Int("rules", s.Rules).
			Int("critical", s.Critical).
			Msg("service rules")
	}
	for _, ir := range rs.InertRules() {
		logger.Warn().
			Str("service_type", string(ir.ServiceType)).
			Str("rule_id", ir.RuleID).
			Msg("rule has no conditions and will never fire")
	}
}

type serverDeps struct {
	registry *safety.Registry
	intakes  *intake.Service
	checker  db.Checker
}

func newServer(cfg *config.Config, logger zerolog.Logger, deps serverDeps) (*echo.Echo, error) {
	signingKey, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(deps.checker))

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled: requests run as admin unless impersonating")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		jwtCfg, err := auth.ResolveJWKS(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: signingKey,
		})
		if err != nil {
			return nil, err
		}
		if jwtCfg.JWKSURL != "" {
			logger.Info().Str("jwks_url", jwtCfg.JWKSURL).Msg("validating tokens against JWKS")
		}
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	safety.NewHandler(deps.registry, cfg.RulesFile).RegisterRoutes(apiV1)
	intake.NewHandler(deps.intakes, cfg.EmergencyContact).RegisterRoutes(apiV1)

	return e, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid config")
		return err
	}

	// Rules
	registry := safety.NewRegistry(nil)
	rs, err := registry.Reload(cfg.RulesFile)
	if err != nil {
		logger.Error().Err(err).Str("file", cfg.RulesFile).Msg("failed to load safety rules")
		return err
	}
	logRuleSet(logger, rs)

	// Storage
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("store", cfg.Store).Msg("failed to open store")
		return err
	}
	defer st.close()
	logger.Info().Str("store", cfg.Store).Msg("connected to store")

	sink, closeSink, err := newAuditSink(logger, cfg.AuditJSONLPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open audit log")
		return err
	}
	defer closeSink()

	svc := intake.NewService(st.repo, safety.NewEvaluator(registry), sink, logger, cfg.MaxFollowUpRounds)

	e, err := newServer(cfg, logger, serverDeps{registry: registry, intakes: svc, checker: st.checker})
	if err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			rs, err := registry.Reload(cfg.RulesFile)
			if err != nil {
				logger.Error().Err(err).Msg("rule reload failed, keeping current rules")
				continue
			}
			logRuleSet(logger, rs)
		}
	}()

	// Graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
