package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carebook/carebook/internal/config"
	"github.com/carebook/carebook/internal/domain/appointment"
	"github.com/carebook/carebook/internal/domain/payment"
	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/internal/platform/gateway"
	"github.com/carebook/carebook/internal/platform/middleware"
	"github.com/carebook/carebook/internal/platform/notification"
)

// AppointmentStoreAdapter bridges the appointment domain to the narrow view
// the payment service needs, avoiding a dependency from appointment onto
// payment.
type AppointmentStoreAdapter struct {
	repo appointment.Repository
	svc  *appointment.Service
}

func (a *AppointmentStoreAdapter) Find(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return a.repo.GetByID(ctx, id)
}

func (a *AppointmentStoreAdapter) ConfirmOnPaymentSuccess(ctx context.Context, id uuid.UUID) (bool, error) {
	return a.svc.ConfirmOnPaymentSuccess(ctx, id)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "carebook-server",
		Short: "CareBook payments and booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(settleCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
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

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func settleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Run hospital settlement aggregation for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromStr, _ := cmd.Flags().GetString("from")
			toStr, _ := cmd.Flags().GetString("to")

			periodStart, err := time.Parse("2006-01-02", fromStr)
			if err != nil {
				return fmt.Errorf("invalid --from date: %w", err)
			}
			periodEnd, err := time.Parse("2006-01-02", toStr)
			if err != nil {
				return fmt.Errorf("invalid --to date: %w", err)
			}
			if !periodEnd.After(periodStart) {
				return fmt.Errorf("--to must be after --from")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc, _, _, err := buildServices(cfg, pool, logger)
			if err != nil {
				return err
			}

			settlements, err := svc.RunSettlement(ctx, periodStart, periodEnd)
			if err != nil {
				return fmt.Errorf("settlement run failed: %w", err)
			}

			fmt.Printf("%-38s %14s %14s %14s %8s\n", "HOSPITAL", "TOTAL", "FEE", "NET", "COUNT")
			for _, s := range settlements {
				fmt.Printf("%-38s %14d %14d %14d %8d\n",
					s.HospitalID, s.TotalAmount, s.PlatformFee, s.NetAmount, s.PaymentCount)
			}
			fmt.Printf("Created %d settlement(s).\n", len(settlements))
			return nil
		},
	}
	cmd.Flags().String("from", "", "Period start date (YYYY-MM-DD, inclusive)")
	cmd.Flags().String("to", "", "Period end date (YYYY-MM-DD, exclusive)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

func buildProviders(cfg *config.Config) (map[string]gateway.Provider, error) {
	providers := make(map[string]gateway.Provider)
	if cfg.RazorpayKeyID != "" || cfg.PaymentProvider == "razorpay" {
		providers["razorpay"] = gateway.NewRazorpay(
			cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)
	}
	if cfg.CashfreeClientID != "" || cfg.PaymentProvider == "cashfree" {
		providers["cashfree"] = gateway.NewCashfree(
			cfg.CashfreeClientID, cfg.CashfreeClientSecret, cfg.CashfreeWebhookSecret, cfg.CashfreeBaseURL)
	}
	if _, ok := providers[cfg.PaymentProvider]; !ok {
		return nil, fmt.Errorf("active provider %q has no credentials configured", cfg.PaymentProvider)
	}
	return providers, nil
}

func buildServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*payment.Service, *appointment.Service, *notification.Manager, error) {
	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	notifier := notification.NewManager(
		&notification.LogEmailSender{Logger: logger},
		&notification.LogSMSSender{Logger: logger},
		notification.NewTemplateEngine(),
	)

	apptRepo := appointment.NewRepo(pool)
	apptSvc := appointment.NewService(apptRepo, notifier, logger)

	paySvc := payment.NewService(
		payment.NewRepo(pool),
		&AppointmentStoreAdapter{repo: apptRepo, svc: apptSvc},
		providers,
		cfg.PaymentProvider,
		notifier,
		logger,
		payment.ServiceConfig{
			Fees: payment.FeePolicy{
				PercentInPerson: cfg.FeePercentInPerson / 100,
				PercentVideo:    cfg.FeePercentVideo / 100,
				PercentHome:     cfg.FeePercentHome / 100,
				MinFee:          cfg.FeeMin,
				MaxFee:          cfg.FeeMax,
				GSTRate:         cfg.GSTRate / 100,
			},
			DoctorCancelBonus: cfg.DoctorCancelBonus,
			OrderExpiry:       time.Duration(cfg.OrderExpiryMinutes) * time.Minute,
		},
	)
	return paySvc, apptSvc, notifier, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	paySvc, apptSvc, notifier, err := buildServices(cfg, pool, logger)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	payHandler := payment.NewHandler(paySvc)

	// Gateway-facing routes carry their own signature verification and stay
	// outside the auth middleware.
	payHandler.RegisterWebhookRoutes(e.Group("/api/v1"))

	api := e.Group("/api/v1")
	if cfg.IsDev() && cfg.JWTSigningKey == "" {
		logger.Warn().Msg("running with development auth, all requests are admin")
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{SigningKey: []byte(cfg.JWTSigningKey)}))
	}

	appointment.NewHandler(apptSvc).RegisterRoutes(api)
	payHandler.RegisterRoutes(api)

	admin := api.Group("", auth.RequireRole("admin"))
	notification.NewHandler(notifier).RegisterRoutes(admin)

	// Background repair loop for payments that completed without their
	// appointment flipping to confirmed.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runSweep(sweepCtx, paySvc, time.Duration(cfg.SweepIntervalSeconds)*time.Second, logger)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runSweep(ctx context.Context, svc *payment.Service, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repaired, err := svc.SweepUnconfirmed(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("confirmation sweep failed")
				continue
			}
			if repaired > 0 {
				logger.Info().Int("repaired", repaired).Msg("confirmation sweep repaired appointments")
			}
		}
	}
}
