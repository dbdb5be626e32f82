package repo

import (
	"context"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// CreditRepositoryPG implements domain.CreditLedger on PostgreSQL. Every
// balance change is a single statement so the balance guard and the ledger
// row commit together.
type CreditRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewCreditRepository constructs a ledger backed by PostgreSQL.
func NewCreditRepository(sql infra.SQLExecutor) *CreditRepositoryPG {
	return &CreditRepositoryPG{sql: sql}
}

// Balance returns the current balance; unknown users have zero.
func (r *CreditRepositoryPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectCreditBalance, userID).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// Consume debits amount when the balance covers it.
func (r *CreditRepositoryPG) Consume(ctx context.Context, userID, jobID string, amount int, description string) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrValidation
	}
	var remaining int
	if err := r.sql.QueryRow(ctx, sqlinline.QConsumeCredits, userID, jobID, amount, description).Scan(&remaining); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrInsufficientCredits
		}
		return 0, err
	}
	return remaining, nil
}

// Refund credits amount back once per job.
func (r *CreditRepositoryPG) Refund(ctx context.Context, userID, jobID string, amount int, description string) (bool, int, error) {
	if amount <= 0 {
		balance, err := r.Balance(ctx, userID)
		return false, balance, err
	}
	var balance int
	if err := r.sql.QueryRow(ctx, sqlinline.QRefundCredits, userID, jobID, amount, description).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			current, berr := r.Balance(ctx, userID)
			return false, current, berr
		}
		return false, 0, err
	}
	return true, balance, nil
}

// History lists the newest ledger entries for a user.
func (r *CreditRepositoryPG) History(ctx context.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListCreditTransactions, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.CreditEntry
	for rows.Next() {
		var (
			entry domain.CreditEntry
			kind  string
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.JobID, &kind, &entry.Delta, &entry.BalanceAfter, &entry.Description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Kind = domain.CreditKind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ResetMonthly restores every allowance-bearing balance to its allowance.
func (r *CreditRepositoryPG) ResetMonthly(ctx context.Context) (int, error) {
	var count int
	if err := r.sql.QueryRow(ctx, sqlinline.QResetMonthlyCredits).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// EnsureAccount opens a credit account with the given allowance if the user
// has none yet.
func (r *CreditRepositoryPG) EnsureAccount(ctx context.Context, userID string, allowance int) error {
	_, err := r.sql.Exec(ctx, sqlinline.QEnsureCreditAccount, userID, allowance)
	return err
}

var (
	_ domain.CreditLedger  = (*CreditRepositoryPG)(nil)
	_ domain.AccountOpener = (*CreditRepositoryPG)(nil)
)
