// Package bootstrap assembles the job services from configuration so the
// API and the background commands share one wiring.
package bootstrap

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"studio/internal/adapter/memory"
	"studio/internal/adapter/repo"
	"studio/internal/domain"
	"studio/internal/gateway"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/jobs"
	"studio/internal/metrics"
	"studio/internal/notify"
	"studio/internal/providers/runninghub"
	"studio/internal/ratelimit"
	"studio/internal/realtime"
	"studio/internal/storage"
)

const (
	metricsNamespace  = "studio"
	rateLimitPrefix   = "studio:rl"
	providerTimeout   = 60 * time.Second
	reconcileBatchMax = 50
)

// Services holds every long-lived component of one process.
type Services struct {
	Config     *infra.Config
	Logger     infra.Logger
	Jobs       domain.JobStore
	Ledger     domain.CreditLedger
	Accounts   domain.AccountOpener
	Hub        *realtime.Hub
	Relay      *realtime.RedisRelay
	Limiter    ratelimit.Limiter
	Metrics    *metrics.Prom
	Files      *storage.FileStore
	Gateway    *gateway.Gateway
	Lifecycle  *jobs.Lifecycle
	Manager    *jobs.Manager
	Reconciler *jobs.Reconciler

	closers []func()
}

// New builds the services. A missing provider key is reported as
// domain.ErrMissingCredential.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Services, error) {
	s := &Services{Config: cfg, Logger: logger, Hub: realtime.NewHub(), Metrics: metrics.NewProm(metricsNamespace)}

	apiKey := strings.TrimSpace(cfg.RunningHubAPIKey)
	switch cfg.StoreDriver {
	case infra.StoreDriverMemory:
		ledger := memory.NewLedger()
		s.Jobs, s.Ledger, s.Accounts = memory.NewJobStore(), ledger, ledger
		logger.Warn().Msg("bootstrap: using in-memory store; state is lost on restart")
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		runner := infra.NewSQLRunner(pool, logger)
		ledger := repo.NewCreditRepository(runner)
		s.Jobs, s.Ledger, s.Accounts = repo.NewJobRepository(runner), ledger, ledger

		key, err := credentials.NewStore(runner).ResolveRunningHubAPIKey(ctx, apiKey)
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: failed to load runninghub api key from store")
		} else {
			apiKey = key
		}
	}

	var publisher realtime.Publisher = s.Hub
	s.Limiter = ratelimit.NewMemoryLimiter()
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.Limiter = ratelimit.NewRedisLimiter(client, rateLimitPrefix)
		s.Relay = realtime.NewRedisRelay(client, realtime.DefaultChannel, s.Hub, logger)
		publisher = s.Relay
	}

	files, err := newFileStore(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Files = files

	tools, err := gateway.LoadTools(cfg.ToolsConfigPath)
	if err != nil {
		s.Close()
		return nil, err
	}

	client, err := runninghub.NewClient(runninghub.Options{
		APIKey:         apiKey,
		BaseURL:        cfg.RunningHubBaseURL,
		Logger:         &logger,
		RequestTimeout: providerTimeout,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Lifecycle = jobs.NewLifecycle(jobs.LifecycleOptions{
		Jobs:      s.Jobs,
		Ledger:    s.Ledger,
		Publisher: publisher,
		Notifier:  notify.NewNotifier(publisher, cfg.DefaultLocale),
		Metrics:   s.Metrics,
		Logger:    logger,
		Locale:    cfg.DefaultLocale,
	})
	s.Gateway, err = gateway.New(gateway.Options{
		Provider:   client,
		Tools:      tools,
		Jobs:       s.Jobs,
		Finisher:   s.Lifecycle,
		Limiter:    s.Limiter,
		Files:      files,
		Metrics:    s.Metrics,
		Logger:     logger,
		WebhookURL: webhookURL(cfg.RunningHubWebhookURL, cfg.WebhookSecret),
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Manager = jobs.NewManager(jobs.ManagerOptions{
		Jobs:      s.Jobs,
		Ledger:    s.Ledger,
		Gateway:   s.Gateway,
		Lifecycle: s.Lifecycle,
		Events:    s.Hub,
		Metrics:   s.Metrics,
		Logger:    logger,
	})
	s.Reconciler = jobs.NewReconciler(jobs.ReconcilerOptions{
		Jobs:           s.Jobs,
		Gateway:        s.Gateway,
		Lifecycle:      s.Lifecycle,
		Interval:       cfg.ReconcileInterval,
		StaleAfter:     cfg.ReconcileStaleAfter,
		PendingTimeout: cfg.PendingTimeout,
		BatchSize:      reconcileBatchMax,
		Metrics:        s.Metrics,
		Logger:         logger,
	})
	return s, nil
}

// RunRelay forwards events published by other processes into the local hub.
// It is a no-op without Redis.
func (s *Services) RunRelay(ctx context.Context) error {
	if s.Relay == nil {
		return nil
	}
	return s.Relay.Run(ctx)
}

// Close releases connections in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func newFileStore(cfg *infra.Config) (*storage.FileStore, error) {
	path := cfg.StoragePath
	if path == "" {
		path = "./storage"
	}
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return storage.NewFileStore(path, cfg.StorageBaseURL)
}

// webhookURL appends the shared secret the webhook handler checks.
func webhookURL(raw, secret string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || secret == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Get("token") == "" {
		q.Set("token", secret)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
