package domain

import (
	"context"
	"time"
)

// JobStore persists Job Records. Records are never deleted.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	GetForUser(ctx context.Context, id, userID string) (*Job, error)
	GetByExternalTask(ctx context.Context, taskID string) (*Job, error)
	// FindActive returns the newest non-terminal job of the family or ErrNotFound.
	FindActive(ctx context.Context, userID, family string) (*Job, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Job, error)
	// AttachExternalTask records the provider task id and moves pending to queued.
	AttachExternalTask(ctx context.Context, id, taskID string) (*Job, error)
	// Transition applies to only when the current status allows it. changed
	// is false, with the current record, when the update was a no-op.
	Transition(ctx context.Context, id string, to JobStatus, update JobUpdate) (job *Job, changed bool, err error)
	ListReconcilable(ctx context.Context, updatedBefore time.Time, limit int) ([]Job, error)
}

// CreditLedger owns user balances. Consume must be an atomic conditional
// decrement and Refund must apply at most once per job.
type CreditLedger interface {
	Balance(ctx context.Context, userID string) (int, error)
	Consume(ctx context.Context, userID, jobID string, amount int, description string) (int, error)
	Refund(ctx context.Context, userID, jobID string, amount int, description string) (refunded bool, balance int, err error)
	History(ctx context.Context, userID string, limit int) ([]CreditEntry, error)
	ResetMonthly(ctx context.Context) (int, error)
}

// AccountOpener opens a credit account with a monthly allowance on first
// sight of a user. Existing accounts are left untouched.
type AccountOpener interface {
	EnsureAccount(ctx context.Context, userID string, allowance int) error
}
