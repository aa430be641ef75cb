package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event names used as message keys by the publisher.
const (
	TopicTransactionPosted = "ledger.transaction_posted"
	TopicShiftReconciled   = "ledger.shift_reconciled"
)

// PostedEntry is one ledger entry as carried on the wire.
type PostedEntry struct {
	AccountID string          `json:"account_id"`
	Direction string          `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
}

// TransactionPosted is emitted after a transaction and its balance
// updates have been committed.
type TransactionPosted struct {
	TransactionID string          `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Description   string          `json:"description"`
	Entries       []PostedEntry   `json:"entries"`
	Total         decimal.Decimal `json:"total"` // debit-side total
	ReversalOf    string          `json:"reversal_of,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// ShiftReconciled is emitted once a shift reaches RECONCILED and its
// postings are ledger-permanent.
type ShiftReconciled struct {
	ShiftID        string          `json:"shift_id"`
	CashierID      string          `json:"cashier_id"`
	TransactionIDs []string        `json:"transaction_ids"`
	TotalActual    decimal.Decimal `json:"total_actual"`
	TotalVariance  decimal.Decimal `json:"total_variance"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
