package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studio/internal/bootstrap"
	"studio/internal/domain"
	"studio/internal/infra"
)

func main() {
	once := flag.Bool("once", false, "run a single reconciliation pass and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "reconciler").Logger()
	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("reconciler: STORE_DRIVER=memory has no shared state to reconcile")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.New(ctx, cfg, logger)
	if errors.Is(err, domain.ErrMissingCredential) {
		logger.Fatal().Msg("reconciler: RUNNINGHUB_API_KEY is not set and no key is stored")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("reconciler: failed to initialise services")
	}
	defer services.Close()

	if *once {
		stats, err := services.Reconciler.RunOnce(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("reconciler: pass failed")
		}
		logger.Info().
			Int("checked", stats.Checked).
			Int("updated", stats.Updated).
			Int("abandoned", stats.Abandoned).
			Int("mismatched", stats.Mismatched).
			Int("errors", stats.Errors).
			Msg("reconciler: pass complete")
		return
	}

	if err := services.Reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("reconciler: stopped with error")
	}
	logger.Info().Msg("reconciler: stopped")
}
