// Package jobs drives Job Records from submission to a terminal state and
// keeps the credit ledger consistent with them.
package jobs

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/errmsg"
	"studio/internal/infra"
	"studio/internal/metrics"
	"studio/internal/realtime"
)

// JobNotifier pushes the terminal payload to the job owner.
type JobNotifier interface {
	JobFinished(ctx context.Context, job *domain.Job) error
}

// LifecycleOptions wires a Lifecycle.
type LifecycleOptions struct {
	Jobs      domain.JobStore
	Ledger    domain.CreditLedger
	Publisher realtime.Publisher
	Notifier  JobNotifier
	Metrics   metrics.Metrics
	Logger    infra.Logger
	Locale    string
}

// Lifecycle is the only component that moves jobs into terminal states.
// Every transition is conditional on the stored status, so concurrent
// callers (webhook, reconciler, user cancel) apply at most one terminal
// state and refund at most once.
type Lifecycle struct {
	jobs     domain.JobStore
	ledger   domain.CreditLedger
	pub      realtime.Publisher
	notifier JobNotifier
	metrics  metrics.Metrics
	logger   infra.Logger
	locale   string
}

func NewLifecycle(opts LifecycleOptions) *Lifecycle {
	l := &Lifecycle{
		jobs:     opts.Jobs,
		ledger:   opts.Ledger,
		pub:      opts.Publisher,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		locale:   opts.Locale,
	}
	if l.metrics == nil {
		l.metrics = metrics.Noop{}
	}
	if l.locale == "" {
		l.locale = errmsg.DefaultLocale
	}
	return l
}

// Announce publishes the job's current state.
func (l *Lifecycle) Announce(ctx context.Context, job *domain.Job) {
	if l.pub == nil || job == nil {
		return
	}
	if err := l.pub.Publish(ctx, realtime.JobEvent(job)); err != nil {
		l.logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: publish event failed")
	}
}

// MarkRunning records that the provider started the task.
func (l *Lifecycle) MarkRunning(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	updated, changed, err := l.jobs.Transition(ctx, job.ID, domain.JobStatusRunning, domain.JobUpdate{})
	if err != nil {
		return nil, err
	}
	if changed {
		l.Announce(ctx, updated)
	}
	return updated, nil
}

// Succeed appends outputs as a new version and closes the job.
func (l *Lifecycle) Succeed(ctx context.Context, job *domain.Job, outputs []domain.Output) (*domain.Job, error) {
	updated, changed, err := l.jobs.Transition(ctx, job.ID, domain.JobStatusSucceeded, domain.JobUpdate{Outputs: outputs})
	if err != nil {
		return nil, err
	}
	if changed {
		l.logger.Info().Str("job_id", updated.ID).Str("tool", updated.Tool).Int("outputs", len(outputs)).Msg("jobs: succeeded")
		l.finished(ctx, updated)
	}
	return updated, nil
}

// Fail stores the raw provider text with its translation and refunds the
// job's cost. Failing a job that is already terminal changes nothing.
func (l *Lifecycle) Fail(ctx context.Context, job *domain.Job, raw string) (*domain.Job, error) {
	text := errmsg.TranslateFor(l.locale, raw).Message
	updated, changed, err := l.jobs.Transition(ctx, job.ID, domain.JobStatusFailed, domain.JobUpdate{
		ErrorRaw:  &raw,
		ErrorText: &text,
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}
	l.logger.Warn().
		Str("job_id", updated.ID).
		Str("tool", updated.Tool).
		Str("error_raw", raw).
		Str("category", string(errmsg.Classify(raw))).
		Msg("jobs: failed")
	refundErr := l.refund(ctx, updated)
	l.finished(ctx, updated)
	return updated, refundErr
}

// Cancel closes the job on the user's request and refunds its cost.
func (l *Lifecycle) Cancel(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	updated, changed, err := l.jobs.Transition(ctx, job.ID, domain.JobStatusCancelled, domain.JobUpdate{})
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}
	l.logger.Info().Str("job_id", updated.ID).Str("tool", updated.Tool).Msg("jobs: cancelled")
	refundErr := l.refund(ctx, updated)
	l.finished(ctx, updated)
	return updated, refundErr
}

func (l *Lifecycle) refund(ctx context.Context, job *domain.Job) error {
	refunded, balance, err := l.ledger.Refund(ctx, job.UserID, job.ID, job.Cost, "refund: "+job.Tool)
	if err != nil {
		l.logger.Error().Err(err).Str("job_id", job.ID).Str("user_id", job.UserID).Int("cost", job.Cost).Msg("jobs: refund failed")
		return fmt.Errorf("refund job %s: %w", job.ID, err)
	}
	if refunded {
		l.metrics.IncRefunds(job.Tool)
		l.logger.Info().Str("job_id", job.ID).Str("user_id", job.UserID).Int("cost", job.Cost).Int("balance", balance).Msg("jobs: credits refunded")
	}
	return nil
}

func (l *Lifecycle) finished(ctx context.Context, job *domain.Job) {
	l.metrics.IncJobsFinished(job.Tool, string(job.Status))
	l.Announce(ctx, job)
	if l.notifier == nil {
		return
	}
	if err := l.notifier.JobFinished(ctx, job); err != nil {
		l.logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: push notification failed")
	}
}
