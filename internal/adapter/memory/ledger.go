package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"studio/internal/domain"
)

type account struct {
	balance   int
	allowance int
}

type refundKey struct {
	userID string
	jobID  string
}

// Ledger is an in-memory domain.CreditLedger. All balance changes happen
// under one mutex, which makes Consume a true compare-and-decrement.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
	refunded map[refundKey]bool
	entries  map[string][]domain.CreditEntry
	now      func() time.Time
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[string]*account),
		refunded: make(map[refundKey]bool),
		entries:  make(map[string][]domain.CreditEntry),
		now:      time.Now,
	}
}

// EnsureAccount opens an account funded with allowance if none exists.
func (l *Ledger) EnsureAccount(ctx context.Context, userID string, allowance int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[userID]; ok {
		return nil
	}
	l.accounts[userID] = &account{balance: allowance, allowance: allowance}
	return nil
}

// Grant adds amount to the balance, opening the account when needed.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, description string) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrValidation
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(userID)
	acct.balance += amount
	l.record(userID, nil, domain.CreditKindGrant, amount, acct.balance, description)
	return acct.balance, nil
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[userID]; ok {
		return acct.balance, nil
	}
	return 0, nil
}

func (l *Ledger) Consume(ctx context.Context, userID, jobID string, amount int, description string) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrValidation
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[userID]
	if !ok || acct.balance < amount {
		return 0, domain.ErrInsufficientCredits
	}
	acct.balance -= amount
	l.record(userID, &jobID, domain.CreditKindConsume, -amount, acct.balance, description)
	return acct.balance, nil
}

func (l *Ledger) Refund(ctx context.Context, userID, jobID string, amount int, description string) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct := l.account(userID)
	key := refundKey{userID: userID, jobID: jobID}
	if amount <= 0 || l.refunded[key] {
		return false, acct.balance, nil
	}
	l.refunded[key] = true
	acct.balance += amount
	l.record(userID, &jobID, domain.CreditKindRefund, amount, acct.balance, description)
	return true, acct.balance, nil
}

func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := l.entries[userID]
	out := make([]domain.CreditEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (l *Ledger) ResetMonthly(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for userID, acct := range l.accounts {
		if acct.allowance <= 0 {
			continue
		}
		delta := acct.allowance - acct.balance
		acct.balance = acct.allowance
		l.record(userID, nil, domain.CreditKindReset, delta, acct.balance, "monthly credit reset")
		count++
	}
	return count, nil
}

func (l *Ledger) account(userID string) *account {
	acct, ok := l.accounts[userID]
	if !ok {
		acct = &account{}
		l.accounts[userID] = acct
	}
	return acct
}

func (l *Ledger) record(userID string, jobID *string, kind domain.CreditKind, delta, balance int, description string) {
	var ref *string
	if jobID != nil {
		ref = domain.StringPtr(*jobID)
	}
	l.entries[userID] = append(l.entries[userID], domain.CreditEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		JobID:        ref,
		Kind:         kind,
		Delta:        delta,
		BalanceAfter: balance,
		Description:  description,
		CreatedAt:    l.now().UTC(),
	})
}

var (
	_ domain.CreditLedger  = (*Ledger)(nil)
	_ domain.AccountOpener = (*Ledger)(nil)
)
