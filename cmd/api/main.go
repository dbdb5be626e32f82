package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"studio/internal/bootstrap"
	"studio/internal/domain"
	"studio/internal/http/handlers"
	httpapi "studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/infra/geoip"
	"studio/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.New(ctx, cfg, logger)
	if errors.Is(err, domain.ErrMissingCredential) {
		logger.Fatal().Msg("RUNNINGHUB_API_KEY is not set and no key is stored; run cmd/providerkey or set the variable")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to initialise services")
	}
	defer services.Close()

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	var lookup middleware.CountryLookup
	if resolver != nil {
		defer resolver.Close()
		lookup = resolver.CountryCode
	}

	app := &handlers.App{
		Config:         cfg,
		Logger:         logger,
		Jobs:           services.Manager,
		Gateway:        services.Gateway,
		Ledger:         services.Ledger,
		Accounts:       services.Accounts,
		Metrics:        services.Metrics,
		MetricsHandler: services.Metrics.Handler(),
		Limiter:        services.Limiter,
		CountryLookup:  lookup,
		JWTSecret:      cfg.JWTSecret,
	}

	root := chi.NewRouter()
	root.Mount("/static", http.StripPrefix("/static", http.FileServer(http.Dir(services.Files.BasePath()))))
	root.Mount("/", httpapi.NewRouter(app))

	go func() {
		if err := services.RunRelay(ctx); err != nil {
			logger.Error().Err(err).Msg("api: event relay stopped")
		}
	}()
	go func() {
		if err := services.Reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("api: reconciler stopped")
		}
	}()

	server := infra.NewHTTPServer(cfg, root)
	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
