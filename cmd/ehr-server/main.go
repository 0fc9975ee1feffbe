package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/healthevents/internal/config"
	"github.com/ehr/healthevents/internal/domain/healthevent"
	"github.com/ehr/healthevents/internal/domain/measurement"
	"github.com/ehr/healthevents/internal/domain/medication"
	"github.com/ehr/healthevents/internal/domain/patient"
	"github.com/ehr/healthevents/internal/domain/timing"
	"github.com/ehr/healthevents/internal/platform/auth"
	"github.com/ehr/healthevents/internal/platform/cache"
	"github.com/ehr/healthevents/internal/platform/db"
	"github.com/ehr/healthevents/internal/platform/middleware"
	"github.com/ehr/healthevents/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ehr-server",
		Short: "Health event scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(scheduleCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withPool loads the configuration and opens a pool for one CLI command.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run tenant schema migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				if !db.ValidTenantID(tenant) {
					return fmt.Errorf("invalid tenant identifier: %s", tenant)
				}
				schema := db.SchemaName(tenant)
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := db.NewMigrator(pool, db.Migrations).Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("tenant", "default", "Tenant whose schema is migrated")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				if !db.ValidTenantID(tenant) {
					return fmt.Errorf("invalid tenant identifier: %s", tenant)
				}
				schema := db.SchemaName(tenant)
				statuses, err := db.NewMigrator(pool, db.Migrations).Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd, schema, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("tenant", "default", "Tenant whose schema is inspected")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(cmd *cobra.Command, schema string, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
				if err := db.CreateTenantSchema(ctx, pool, name); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// newResolver builds the resolver from the configured table and offset.
func newResolver(cfg *config.Config) (*timing.Resolver, error) {
	table, err := cfg.WindowTable()
	if err != nil {
		return nil, err
	}
	return timing.NewResolver(timing.WithTable(table), timing.WithOffset(cfg.QueryOffset())), nil
}

// newProfileCache connects to redis when REDIS_URL is set. An unreachable
// cache is logged and replaced by a no-op one.
func newProfileCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Provider, func()) {
	if cfg.RedisURL == "" {
		return cache.Nop{}, func() {}
	}
	r, err := cache.NewRedis(ctx, cfg.RedisURL, "healthevents:")
	if err != nil {
		logger.Warn().Err(err).Msg("profile cache unavailable, continuing without it")
		return cache.Nop{}, func() {}
	}
	logger.Info().Msg("connected to redis")
	return r, func() { _ = r.Close() }
}

// services holds the wired domain services shared by the server and the CLI.
type services struct {
	patients     *patient.Service
	events       *healthevent.Service
	medications  *medication.Service
	measurements *measurement.Service
}

func wireServices(cfg *config.Config, pool *pgxpool.Pool, profiles cache.Provider, logger zerolog.Logger) (*services, error) {
	resolver, err := newResolver(cfg)
	if err != nil {
		return nil, err
	}

	profileRepo := patient.NewCachedRepository(patient.NewProfileRepoPG(pool), profiles, cfg.ProfileCacheTTL)
	patientSvc := patient.NewService(profileRepo, cfg.DefaultTimezone)

	eventSvc := healthevent.NewService(healthevent.NewStorePG(pool), patientSvc, resolver, nil)
	eventSvc.SetLogger(logger.With().Str("component", "healthevent").Logger())
	metrics, err := telemetry.NewSchedulerMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("scheduler metrics: %w", err)
	}
	eventSvc.SetMetrics(metrics)

	medSvc := medication.NewService(medication.NewMedicationRequestRepoPG(pool), eventSvc)
	medSvc.SetTxFunc(db.PoolTx(pool))
	medSvc.SetLogger(logger.With().Str("component", "medication").Logger())

	measSvc := measurement.NewService(measurement.NewOrderRepoPG(pool), eventSvc)
	measSvc.SetTxFunc(db.PoolTx(pool))
	measSvc.SetLogger(logger.With().Str("component", "measurement").Logger())

	return &services{patients: patientSvc, events: eventSvc, medications: medSvc, measurements: measSvc}, nil
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = newLogger(cfg.Env, cfg.LogLevel)

	ctx := context.Background()

	// Telemetry
	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "ehr-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up telemetry")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	// Database
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	profileCache, closeCache := newProfileCache(ctx, cfg, logger)
	defer closeCache()

	svcs, err := wireServices(cfg, pool, profileCache, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Health checks sit outside auth and tenancy.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, map[string]db.Pinger{"profile_cache": profileCache}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	// API groups
	tenancy := db.TenantMiddleware(pool, cfg.DefaultTenant)
	rateLimit := middleware.RateLimit(rateLimitCfg)
	apiV1 := e.Group("/api/v1", authMW, tenancy, rateLimit)
	fhirGroup := e.Group("/fhir", authMW, tenancy, rateLimit)

	patient.NewHandler(svcs.patients).RegisterRoutes(apiV1)
	healthevent.NewHandler(svcs.events).RegisterRoutes(apiV1)
	medication.NewHandler(svcs.medications).RegisterRoutes(apiV1, fhirGroup)
	measurement.NewHandler(svcs.measurements).RegisterRoutes(apiV1, fhirGroup)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
