package domain

import "time"

// CreditKind enumerates ledger entry types.
type CreditKind string

const (
	CreditKindConsume CreditKind = "consume"
	CreditKindRefund  CreditKind = "refund"
	CreditKindReset   CreditKind = "reset"
	CreditKindGrant   CreditKind = "grant"
)

// CreditEntry is one balance delta recorded in the ledger.
type CreditEntry struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	JobID        *string    `json:"job_id,omitempty"`
	Kind         CreditKind `json:"kind"`
	Delta        int        `json:"delta"`
	BalanceAfter int        `json:"balance_after"`
	Description  string     `json:"description"`
	CreatedAt    time.Time  `json:"created_at"`
}
