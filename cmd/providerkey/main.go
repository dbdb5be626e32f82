package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"studio/internal/infra"
	"studio/internal/infra/credentials"
)

func main() {
	var (
		keyFlag     string
		baseURLFlag string
	)
	flag.StringVar(&keyFlag, "key", "", "RunningHub API key (fallbacks to RUNNINGHUB_API_KEY)")
	flag.StringVar(&baseURLFlag, "base-url", "", "optional API base URL recorded with the key")
	flag.Parse()

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("RUNNINGHUB_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "RunningHub API key is required via -key or environment")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("provider", credentials.ProviderRunningHub).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	var props map[string]any
	if u := strings.TrimSpace(baseURLFlag); u != "" {
		props = map[string]any{"base_url": u}
	}
	if err := store.SetRunningHubAPIKey(ctx, key, props); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist runninghub api key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("RunningHub API key stored successfully")
}
