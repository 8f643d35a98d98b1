package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/PratikDhanave/paywall-attribution-service/internal/attribution"
	"github.com/PratikDhanave/paywall-attribution-service/internal/config"
	"github.com/PratikDhanave/paywall-attribution-service/internal/consent"
	"github.com/PratikDhanave/paywall-attribution-service/internal/entitlement"
	"github.com/PratikDhanave/paywall-attribution-service/internal/handlers"
	"github.com/PratikDhanave/paywall-attribution-service/internal/httpserver"
	"github.com/PratikDhanave/paywall-attribution-service/internal/launch"
	"github.com/PratikDhanave/paywall-attribution-service/internal/logging"
	"github.com/PratikDhanave/paywall-attribution-service/internal/navigation"
	"github.com/PratikDhanave/paywall-attribution-service/internal/paywall"
	"github.com/PratikDhanave/paywall-attribution-service/internal/paywallsvc"
	"github.com/PratikDhanave/paywall-attribution-service/internal/store"
)

// main boots the service: config → journal → collaborators → launch → HTTP server.
func main() {
	// Allow a local .env; real environment variables win.
	_ = godotenv.Load()

	// Load runtime config from CONFIG_FILE and environment.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The commerce event journal is optional; without DB_URL events are only relayed.
	var (
		journal  httpserver.Journal
		attrOpts []attribution.Option
	)
	if cfg.DBURL != "" {
		db, err := store.NewPostgresStore(ctx, cfg.DBURL)
		if err != nil {
			logger.Fatal("connect journal", zap.Error(err))
		}
		defer db.Close()

		// Ensure required tables/indexes exist so `docker compose up --build` is enough.
		if err := db.EnsureSchema(ctx); err != nil {
			logger.Fatal("ensure schema", zap.Error(err))
		}
		journal = db
		attrOpts = append(attrOpts, attribution.WithJournal(db))
	}

	backend := attribution.NewGraphBackend(attribution.GraphConfig{
		BaseURL:       cfg.Attribution.BaseURL,
		AppID:         cfg.Attribution.AppID,
		AccessToken:   cfg.Attribution.AccessToken,
		AdvertiserID:  cfg.Attribution.AdvertiserID,
		Timeout:       cfg.Attribution.Timeout,
		FlushAttempts: cfg.Attribution.FlushAttempts,
		FlushInterval: cfg.Attribution.FlushInterval,
		BatchSize:     cfg.Attribution.BatchSize,
		MaxBuffered:   cfg.Attribution.MaxBuffered,
	}, logger)
	attr := attribution.NewClient(backend, logger, attrOpts...)
	go func() { _ = backend.Run(ctx) }()

	svc := paywallsvc.New(cfg.Paywall.BaseURL, cfg.Paywall.APIKey, cfg.Paywall.Timeout)
	subs, push := entitlement.NewStore(svc, logger)
	nav := navigation.NewRouter(subs, cfg.SuccessRedirectDelay, logger)
	defer nav.Close()

	ctrl := paywall.NewController(svc, attr, nav, push, paywall.Config{
		CheckoutDomains: cfg.Paywall.CheckoutDomains,
	}, logger)

	gate := consent.NewGate(cfg.Platform, consent.Fixed(consent.Parse(cfg.TrackingConsent)), logger)
	orch := launch.New(launch.Deps{
		Consent:         gate,
		Attribution:     attr,
		Provider:        svc,
		Paywall:         ctrl,
		CampaignTrigger: cfg.Paywall.CampaignTrigger,
	}, logger)
	go orch.Launch(ctx)

	// Build HTTP router (public health + authenticated APIs).
	router := httpserver.NewRouter(cfg, httpserver.Deps{
		Events: ctrl,
		App: handlers.AppDeps{
			Launch:       orch,
			Subscription: subs,
			Placements:   ctrl,
			Attribution:  attr,
			Navigation:   nav,
		},
		Journal: journal,
		Log:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("server started", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	attr.Flush(shutdownCtx)
}
