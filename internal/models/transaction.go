package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a ledger transaction.
// POSTED entries are immutable; a VOID transaction keeps its entries and
// is corrected by a separate reversing transaction.
type TransactionStatus string

const (
	StatusDraft  TransactionStatus = "DRAFT"
	StatusPosted TransactionStatus = "POSTED"
	StatusVoid   TransactionStatus = "VOID"
)

// EntryDirection is the side of the ledger an entry lands on.
type EntryDirection string

const (
	DirectionDebit  EntryDirection = "DEBIT"
	DirectionCredit EntryDirection = "CREDIT"
)

// Opposite returns the other ledger side, used when building reversals.
func (d EntryDirection) Opposite() EntryDirection {
	if d == DirectionDebit {
		return DirectionCredit
	}
	return DirectionDebit
}

// Transaction is a committed, balanced set of ledger entries.
type Transaction struct {
	ID             string            `json:"id"`
	Date           time.Time         `json:"date"`
	Description    string            `json:"description"`
	Reference      string            `json:"reference"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Status         TransactionStatus `json:"status"`
	// ReversalOf points at the transaction this one reverses, if any.
	ReversalOf string        `json:"reversalOf,omitempty"`
	Entries    []LedgerEntry `json:"entries"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// DraftEntry is one (account, direction, amount) tuple of a posting
// request, before the engine has validated and committed it.
type DraftEntry struct {
	AccountID string          `json:"accountId"`
	Direction EntryDirection  `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
}

// TransactionDraft is the input to the posting engine. Callers that may
// retry must set IdempotencyKey so a replayed call cannot double-post.
type TransactionDraft struct {
	Date           time.Time    `json:"date"`
	Description    string       `json:"description"`
	Reference      string       `json:"reference"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	Entries        []DraftEntry `json:"entries"`
}
