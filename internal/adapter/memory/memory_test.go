package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"studio/internal/domain"
)

func TestConcurrentConsumeNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()
	if err := ledger.EnsureAccount(ctx, "user-1", 10); err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}

	var (
		wg        sync.WaitGroup
		successes int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Consume(ctx, "user-1", fmt.Sprintf("job-%d", i), 3, "pose-changer")
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, domain.ErrInsufficientCredits):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 3 {
		t.Fatalf("successes = %d, want 3", successes)
	}
	balance, _ := ledger.Balance(ctx, "user-1")
	if balance != 1 {
		t.Fatalf("balance = %d, want 1", balance)
	}
}

func TestRefundAppliesOnce(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()
	_ = ledger.EnsureAccount(ctx, "user-1", 10)
	if _, err := ledger.Consume(ctx, "user-1", "job-1", 4, "flyer"); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	refunded, balance, err := ledger.Refund(ctx, "user-1", "job-1", 4, "refund")
	if err != nil || !refunded || balance != 10 {
		t.Fatalf("first Refund = (%v, %d, %v)", refunded, balance, err)
	}
	refunded, balance, err = ledger.Refund(ctx, "user-1", "job-1", 4, "refund")
	if err != nil || refunded || balance != 10 {
		t.Fatalf("second Refund = (%v, %d, %v)", refunded, balance, err)
	}

	history, _ := ledger.History(ctx, "user-1", 0)
	if len(history) != 2 || history[0].Kind != domain.CreditKindRefund {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestResetMonthlyRestoresAllowance(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()
	_ = ledger.EnsureAccount(ctx, "user-1", 10)
	_ = ledger.EnsureAccount(ctx, "user-2", 5)
	if _, err := ledger.Grant(ctx, "user-3", 7, "bonus"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	_, _ = ledger.Consume(ctx, "user-1", "job-1", 8, "")

	count, err := ledger.ResetMonthly(ctx)
	if err != nil || count != 2 {
		t.Fatalf("ResetMonthly = (%d, %v), want 2", count, err)
	}
	if b, _ := ledger.Balance(ctx, "user-1"); b != 10 {
		t.Fatalf("user-1 balance = %d, want 10", b)
	}
	if b, _ := ledger.Balance(ctx, "user-3"); b != 7 {
		t.Fatalf("user-3 balance = %d, want 7", b)
	}
}

func TestJobStoreTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	job := &domain.Job{ID: "job-1", UserID: "user-1", Tool: "pose-changer", Family: "pose", Status: domain.JobStatusPending, Cost: 2}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	queued, err := store.AttachExternalTask(ctx, "job-1", "task-9")
	if err != nil || queued.Status != domain.JobStatusQueued {
		t.Fatalf("AttachExternalTask = (%+v, %v)", queued, err)
	}
	byTask, err := store.GetByExternalTask(ctx, "task-9")
	if err != nil || byTask.ID != "job-1" {
		t.Fatalf("GetByExternalTask = (%+v, %v)", byTask, err)
	}

	done, changed, err := store.Transition(ctx, "job-1", domain.JobStatusSucceeded, domain.JobUpdate{
		Outputs: []domain.Output{{URL: "https://cdn/out.png", Version: 1}},
	})
	if err != nil || !changed || done.Status != domain.JobStatusSucceeded {
		t.Fatalf("Transition = (%+v, %v, %v)", done, changed, err)
	}

	again, changed, err := store.Transition(ctx, "job-1", domain.JobStatusFailed, domain.JobUpdate{ErrorRaw: domain.StringPtr("late")})
	if err != nil || changed {
		t.Fatalf("terminal job changed: (%v, %v)", changed, err)
	}
	if again.Status != domain.JobStatusSucceeded || again.ErrorRaw != nil {
		t.Fatalf("terminal job mutated: %+v", again)
	}

	if _, err := store.FindActive(ctx, "user-1", "pose"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("FindActive error = %v, want ErrNotFound", err)
	}
}

func TestJobStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	_ = store.Create(ctx, &domain.Job{ID: "job-1", UserID: "user-1", Status: domain.JobStatusPending, InputRefs: map[string]string{"image": "a.png"}})

	got, _ := store.Get(ctx, "job-1")
	got.InputRefs["image"] = "mutated"
	got.Status = domain.JobStatusFailed

	fresh, _ := store.Get(ctx, "job-1")
	if fresh.InputRefs["image"] != "a.png" || fresh.Status != domain.JobStatusPending {
		t.Fatalf("store leaked internal state: %+v", fresh)
	}
	if _, err := store.GetForUser(ctx, "job-1", "someone-else"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetForUser error = %v, want ErrNotFound", err)
	}
}

func TestListReconcilableSkipsTerminalAndFresh(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	_ = store.Create(ctx, &domain.Job{ID: "old", UserID: "u", Status: domain.JobStatusPending})
	_ = store.Create(ctx, &domain.Job{ID: "done", UserID: "u", Status: domain.JobStatusPending})
	_, _, _ = store.Transition(ctx, "done", domain.JobStatusFailed, domain.JobUpdate{})
	store.now = func() time.Time { return base.Add(time.Hour) }
	_ = store.Create(ctx, &domain.Job{ID: "fresh", UserID: "u", Status: domain.JobStatusPending})

	jobs, err := store.ListReconcilable(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListReconcilable: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "old" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}
