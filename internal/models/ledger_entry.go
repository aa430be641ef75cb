package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is a single debit or credit against one account. Entries
// are owned by their transaction and are never created or changed
// outside a posting call.
type LedgerEntry struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	AccountID     string          `json:"accountId"`
	Direction     EntryDirection  `json:"direction"`
	Amount        decimal.Decimal `json:"amount"` // always > 0
	CreatedAt     time.Time       `json:"createdAt"`
}

// Signed returns the entry amount signed relative to the given normal
// side: positive when the entry increases the account, negative when it
// decreases it.
func (e LedgerEntry) Signed(normal EntryDirection) decimal.Decimal {
	if e.Direction == normal {
		return e.Amount
	}
	return e.Amount.Neg()
}
