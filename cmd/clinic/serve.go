package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/config"
	"github.com/tbourn/clinic-booking/internal/events"
	httpapi "github.com/tbourn/clinic-booking/internal/http"
	"github.com/tbourn/clinic-booking/internal/http/middleware"
	"github.com/tbourn/clinic-booking/internal/observability"
	"github.com/tbourn/clinic-booking/internal/payment"
	"github.com/tbourn/clinic-booking/internal/repo"
	"github.com/tbourn/clinic-booking/internal/scheduler"
	"github.com/tbourn/clinic-booking/internal/services"
	"github.com/tbourn/clinic-booking/internal/storage"
	"github.com/tbourn/clinic-booking/internal/sysutil"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(a *app) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a.cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", sysutil.IsTruthy(os.Getenv("AUTO_MIGRATE")),
		"run schema migrations before serving (AUTO_MIGRATE)")
	return cmd
}

// serve runs until ctx is cancelled, then drains HTTP requests and running
// jobs before returning.
func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}

	db, err := openDB(cfg, migrate)
	if err != nil {
		return err
	}

	gw, err := payment.New(cfg.Payment)
	if err != nil {
		return err
	}
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	pub, err := events.New(ctx, cfg.Events)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn().Err(err).Msg("closing event publisher")
		}
	}()

	var limiter middleware.Limiter
	if cfg.RedisURL != "" {
		client, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		limiter = middleware.NewRedisLimiter(client, cfg.RateRPS, cfg.RateBurst)
		log.Info().Msg("rate limits shared through redis")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:      db,
		Gateway: gw,
		Store:   store,
		Events:  pub,
		Limiter: limiter,
	}, cfg)

	sched, err := newScheduler(db, cfg)
	if err != nil {
		return err
	}
	sched.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("server error")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := sched.Stop(sctx); err != nil {
		log.Warn().Err(err).Msg("scheduler did not stop in time")
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("server stopped")
	return serveErr
}

func newScheduler(db *gorm.DB, cfg config.Config) (*scheduler.Scheduler, error) {
	clock := services.Clock{Loc: cfg.Booking.Location()}
	slots := services.NewSlotService(db, clock)
	slots.Capacity = cfg.Booking.SlotCapacity
	return scheduler.New(
		services.NewReconcileService(db, cfg.Booking.LockTimeout),
		slots,
		scheduler.Options{
			ReconcileSpec:   cfg.Booking.ReconcileCron,
			MaterializeSpec: cfg.Booking.MaterializeCron,
			PurgeSpec:       "@hourly",
			Purge: func(ctx context.Context, now time.Time) (int64, error) {
				return repo.PurgeExpiredIdempotency(ctx, db, now)
			},
			AheadDays: cfg.Booking.MaterializeAheadDays,
			Location:  clock.Loc,
			Today:     clock.Today,
		},
	)
}

// openDB connects to the configured store, migrating first when asked.
func openDB(cfg config.Config, migrate bool) (*gorm.DB, error) {
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if migrate {
		if err := repo.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Str("driver", cfg.DB.Driver).Msg("schema migrated")
	}
	return db, nil
}
