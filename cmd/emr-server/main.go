package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/surgicenter/emr/internal/config"
	"github.com/surgicenter/emr/internal/domain/anesthesia"
	"github.com/surgicenter/emr/internal/domain/audit"
	"github.com/surgicenter/emr/internal/domain/consent"
	"github.com/surgicenter/emr/internal/domain/operative"
	"github.com/surgicenter/emr/internal/domain/pacu"
	"github.com/surgicenter/emr/internal/platform/auth"
	"github.com/surgicenter/emr/internal/platform/db"
	"github.com/surgicenter/emr/internal/platform/metrics"
	"github.com/surgicenter/emr/internal/platform/middleware"
)

var clinicIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func main() {
	rootCmd := &cobra.Command{
		Use:   "emr-server",
		Short: "Surgery center EMR API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the EMR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

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

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "clinic_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

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

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "clinic_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

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

			fmt.Printf("Creating clinic schema: %s\n", db.SchemaFor(name))
			if err := db.CreateTenantSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Println("Clinic created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit ledger operations",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain of a clinic's audit ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			fromID, _ := cmd.Flags().GetInt64("from")
			toID, _ := cmd.Flags().GetInt64("to")
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			if !clinicIDPattern.MatchString(tenant) {
				return fmt.Errorf("invalid clinic identifier: %s", tenant)
			}

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

			// Pin a connection to the clinic schema, the way the tenant
			// middleware does for HTTP requests.
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return err
			}
			defer conn.Release()
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", db.SchemaFor(tenant))); err != nil {
				return fmt.Errorf("clinic resolution failed: %w", err)
			}
			ctx = context.WithValue(db.ContextWithTenant(ctx, tenant), db.DBConnKey, conn)

			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			svc := audit.NewService(audit.NewRepo(pool), logger)

			report, err := svc.VerifyChain(ctx, tenant, fromID, toID)
			if err != nil {
				return fmt.Errorf("chain verification failed to run: %w", err)
			}

			fmt.Printf("Clinic:  %s\n", report.TenantID)
			fmt.Printf("Window:  entries %d..%d\n", report.FromID, report.ToID)
			fmt.Printf("Checked: %d\n", report.Checked)
			if report.Valid {
				fmt.Println("Result:  chain intact")
				return nil
			}
			if report.FirstBreakID != nil {
				fmt.Printf("Result:  CHAIN BROKEN at entry %d\n", *report.FirstBreakID)
			} else {
				fmt.Println("Result:  CHAIN BROKEN")
			}
			os.Exit(1)
			return nil
		},
	}
	verifyCmd.Flags().String("tenant", "", "Clinic identifier")
	verifyCmd.Flags().Int64("from", 0, "First ledger entry id (default: genesis)")
	verifyCmd.Flags().Int64("to", 0, "Last ledger entry id (default: chain tail)")
	cmd.AddCommand(verifyCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("unsafe configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Services
	auditSvc := audit.NewService(audit.NewRepo(pool), logger)
	consentSvc := consent.NewService(consent.NewSurgicalRepo(pool), consent.NewAnesthesiaRepo(pool), auditSvc, pool, logger)
	anesthesiaSvc := anesthesia.NewService(anesthesia.NewAssessmentRepo(pool), anesthesia.NewRecordRepo(pool), auditSvc, pool, logger)
	operativeSvc := operative.NewService(operative.NewHistoryPhysicalRepo(pool), operative.NewOperativeRecordRepo(pool), auditSvc, pool, logger)
	pacuSvc := pacu.NewService(pacu.NewRecordRepo(pool), pacu.NewProgressNotesRepo(pool), pacu.NewAdditionalNotesRepo(pool), auditSvc, pool, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Access auditing: one best-effort ledger entry per API request.
	e.Use(middleware.Audit(logger, accessRecorder(auditSvc)))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health and metrics
	e.GET("/health", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// Domain routes
	audit.NewHandler(auditSvc).RegisterRoutes(apiV1)
	consent.NewHandler(consentSvc).RegisterRoutes(apiV1)
	anesthesia.NewHandler(anesthesiaSvc).RegisterRoutes(apiV1)
	operative.NewHandler(operativeSvc).RegisterRoutes(apiV1)
	pacu.NewHandler(pacuSvc).RegisterRoutes(apiV1)

	// Start server
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// accessRecorder funnels HTTP access records into the ledger. Recording is
// best-effort by contract; the audit service logs and swallows failures.
func accessRecorder(svc *audit.Service) middleware.Recorder {
	return middleware.RecorderFunc(func(ctx context.Context, a middleware.Access) error {
		action := audit.ActionKind(a.Action)
		if !action.Valid() {
			return nil
		}
		tenantID := a.TenantID
		if tenantID == "" {
			tenantID = db.TenantFromContext(ctx)
		}

		p := audit.AppendParams{
			TenantID:         tenantID,
			ActorDisplayName: a.ActorName,
			ActorRole:        a.ActorRole,
			Action:           action,
			ResourceType:     a.ResourceType,
			OriginAddress:    a.IPAddress,
			OriginAgent:      a.UserAgent,
			Metadata: map[string]any{
				"path":       a.Path,
				"method":     a.Method,
				"status":     a.StatusCode,
				"request_id": a.RequestID,
			},
		}
		if a.ActorID != "" {
			actorID := a.ActorID
			p.ActorID = &actorID
		}
		if a.ResourceID != "" {
			rid := a.ResourceID
			p.ResourceID = &rid
		}

		svc.Record(ctx, p)
		return nil
	})
}
