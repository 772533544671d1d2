// Command server runs the dial-to-verify HTTP API: it leases phone numbers to
// browser sessions, completes verifications from inbound provider calls, and
// reclaims lapsed numbers on a daily schedule.
//
// @title                  Dial Verify API
// @version                1.0
// @description            Phone-call verification: a session is handed a leased number, the user dials it, and the inbound call completes the verification.
// @BasePath               /api/v1
// @schemes                http https
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-dial-verify/docs"
	"github.com/tbourn/go-dial-verify/internal/config"
	httpapi "github.com/tbourn/go-dial-verify/internal/http"
	"github.com/tbourn/go-dial-verify/internal/http/handlers"
	"github.com/tbourn/go-dial-verify/internal/observability"
	"github.com/tbourn/go-dial-verify/internal/repo"
	"github.com/tbourn/go-dial-verify/internal/services"
	"github.com/tbourn/go-dial-verify/internal/sysutil"
	"github.com/tbourn/go-dial-verify/internal/telephony"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		sysutil.ConfigureLogger(os.Stderr, "info", false)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		return err
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return err
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	// Telephony provider. Without credentials the API still serves sessions
	// and existing inventory, but purchases and releases fail.
	var (
		provider services.Provider
		verifier handlers.SignatureVerifier
	)
	if cfg.HasProviderCredentials() {
		tw, err := telephony.NewTwilio(ctx, cfg.Twilio, cfg.WebhookURL())
		if err != nil {
			return err
		}
		provider = tw
		if cfg.Twilio.ValidateWebhook {
			verifier = telephony.NewSignatureValidator(tw.WebhookToken)
		}
	} else {
		log.Warn().Msg("telephony credentials missing; running without a provider")
	}

	pool := services.NewPoolService(db, provider)
	pool.Validity = cfg.Leasing.Validity
	pool.LeaseMonths = cfg.Leasing.LeaseMonths

	if provider != nil {
		if _, err := pool.ReconcileInventory(ctx); err != nil {
			return err
		}
	}

	purger := services.NewCallLogPurger(provider, cfg.Leasing.PurgeDelay)
	matcher := &services.MatcherService{DB: db, Purger: purger}
	reclaimer := &services.ReclamationService{DB: db, Provider: provider, Retention: cfg.Leasing.LedgerRetention}
	sessions := &services.SessionService{DB: db, TTL: cfg.Session.TTL}

	loc, err := time.LoadLocation(cfg.Leasing.ReclaimTimezone)
	if err != nil {
		return err
	}
	sched := services.NewScheduler(loc)
	if _, err := sched.AddReclamation(cfg.Leasing.ReclaimSchedule, reclaimer); err != nil {
		return err
	}
	if _, err := sched.AddSessionSweep(cfg.Session.CleanupInterval, sessions); err != nil {
		return err
	}
	sched.Start()

	docs.SwaggerInfo.Version = appVersion
	docs.SwaggerInfo.BasePath = cfg.APIBasePath

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Pool:     pool,
		Matcher:  matcher,
		Sessions: sessions,
		Verifier: verifier,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", appVersion).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var errs []error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			errs = append(errs, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := purger.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return errors.Join(errs...)
}
