package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/metrics"
)

// JobReconciler re-queries the provider for a single job.
type JobReconciler interface {
	Reconcile(ctx context.Context, job *domain.Job) (*domain.Job, error)
}

// ReconcilerOptions wires a Reconciler.
type ReconcilerOptions struct {
	Jobs           domain.JobStore
	Gateway        JobReconciler
	Lifecycle      *Lifecycle
	Interval       time.Duration
	StaleAfter     time.Duration
	PendingTimeout time.Duration
	BatchSize      int
	Metrics        metrics.Metrics
	Logger         infra.Logger
}

// Reconciler repairs jobs whose completion was never observed: lost
// webhooks, closed browsers, crashed submitters.
type Reconciler struct {
	jobs           domain.JobStore
	gateway        JobReconciler
	lifecycle      *Lifecycle
	interval       time.Duration
	staleAfter     time.Duration
	pendingTimeout time.Duration
	batch          int
	metrics        metrics.Metrics
	logger         infra.Logger
	now            func() time.Time
}

// Stats summarizes one pass.
type Stats struct {
	Checked    int
	Updated    int
	Abandoned  int
	Mismatched int
	Errors     int
}

func NewReconciler(opts ReconcilerOptions) *Reconciler {
	r := &Reconciler{
		jobs:           opts.Jobs,
		gateway:        opts.Gateway,
		lifecycle:      opts.Lifecycle,
		interval:       opts.Interval,
		staleAfter:     opts.StaleAfter,
		pendingTimeout: opts.PendingTimeout,
		batch:          opts.BatchSize,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		now:            time.Now,
	}
	if r.interval <= 0 {
		r.interval = 30 * time.Second
	}
	if r.staleAfter <= 0 {
		r.staleAfter = time.Minute
	}
	if r.pendingTimeout <= 0 {
		r.pendingTimeout = 5 * time.Minute
	}
	if r.batch <= 0 {
		r.batch = 100
	}
	if r.metrics == nil {
		r.metrics = metrics.Noop{}
	}
	return r
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Msg("reconciler: started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		stats, err := r.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error().Err(err).Msg("reconciler: pass failed")
		} else if stats.Checked > 0 {
			r.logger.Info().
				Int("checked", stats.Checked).
				Int("updated", stats.Updated).
				Int("abandoned", stats.Abandoned).
				Int("mismatched", stats.Mismatched).
				Int("errors", stats.Errors).
				Msg("reconciler: pass complete")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce visits every stale non-terminal job once.
func (r *Reconciler) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	now := r.now()
	stale, err := r.jobs.ListReconcilable(ctx, now.Add(-r.staleAfter), r.batch)
	if err != nil {
		return stats, fmt.Errorf("list reconcilable jobs: %w", err)
	}
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		job := &stale[i]
		stats.Checked++
		log := r.logger.With().Str("job_id", job.ID).Str("status", string(job.Status)).Logger()

		if job.TaskID() == "" {
			if job.Status != domain.JobStatusPending || now.Sub(job.CreatedAt) < r.pendingTimeout {
				continue
			}
			reason := fmt.Sprintf("submission lost: no external task after %s", r.pendingTimeout)
			if _, err := r.lifecycle.Fail(ctx, job, reason); err != nil {
				stats.Errors++
				log.Error().Err(err).Msg("reconciler: fail abandoned job")
				continue
			}
			stats.Abandoned++
			r.metrics.IncReconciled("abandoned")
			log.Warn().Msg("reconciler: abandoned pending job failed and refunded")
			continue
		}

		updated, err := r.gateway.Reconcile(ctx, job)
		switch {
		case errors.Is(err, domain.ErrReconciliationMismatch):
			stats.Mismatched++
			r.metrics.IncReconciled("mismatch")
		case err != nil:
			stats.Errors++
			r.metrics.IncReconciled("error")
			log.Warn().Err(err).Str("task_id", job.TaskID()).Msg("reconciler: reconcile failed")
		case updated != nil && updated.Status != job.Status:
			stats.Updated++
			r.metrics.IncReconciled("updated")
			log.Info().Str("to", string(updated.Status)).Msg("reconciler: job updated")
		default:
			r.metrics.IncReconciled("unchanged")
		}
	}
	return stats, nil
}
