package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShiftStatus is the linear cashier-session lifecycle. There are no
// back-transitions: OPEN -> CLOSED -> RECONCILED.
type ShiftStatus string

const (
	ShiftOpen       ShiftStatus = "OPEN"
	ShiftClosed     ShiftStatus = "CLOSED"
	ShiftReconciled ShiftStatus = "RECONCILED"
)

// Shift is one cashier session at the till.
type Shift struct {
	ID        string          `json:"id"`
	CashierID string          `json:"cashierId"`
	Status    ShiftStatus     `json:"status"`
	StartCash decimal.Decimal `json:"startCash"`
	OpenedAt  time.Time       `json:"openedAt"`
	ClosedAt  *time.Time      `json:"closedAt,omitempty"`
}

// Payment is one payment leg of a sale, tagged with the method it was
// taken through and, optionally, the account the money lands on.
type Payment struct {
	MethodCode string          `json:"methodCode"`
	AccountID  string          `json:"accountId,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

// ShiftSale is a sale recorded during an open shift. Immutable once
// recorded; it only feeds the shift's expected totals, the ledger is
// touched at reconciliation time.
type ShiftSale struct {
	ID        string    `json:"id"`
	ShiftID   string    `json:"shiftId"`
	Reference string    `json:"reference"`
	Payments  []Payment `json:"payments"`
	CreatedAt time.Time `json:"createdAt"`
}

// DepositStatus tracks whether a cash drop has been confirmed.
type DepositStatus string

const (
	DepositPending   DepositStatus = "PENDING"
	DepositConfirmed DepositStatus = "CONFIRMED"
)

// CashDeposit is a partial cash removal from the drawer ("drop") during
// an open shift. It reduces the expected drawer cash as soon as it is
// logged, but only reaches the ledger once confirmed.
type CashDeposit struct {
	ID          string          `json:"id"`
	ShiftID     string          `json:"shiftId"`
	Amount      decimal.Decimal `json:"amount"`
	AccountID   string          `json:"accountId,omitempty"` // destination, e.g. a bank account
	Status      DepositStatus   `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	ConfirmedAt *time.Time      `json:"confirmedAt,omitempty"`
}

// ReconciliationStatus tracks per-row confirmation at shift close.
type ReconciliationStatus string

const (
	ReconciliationPending   ReconciliationStatus = "PENDING"
	ReconciliationConfirmed ReconciliationStatus = "CONFIRMED"
)

// Reconciliation is one payment-method row created when a shift closes:
// what the system expected versus what the cashier counted. Difference
// is actual minus expected; a shortage is negative. Posting always uses
// the counted actual so drawer variances flow into the books instead of
// being absorbed silently.
type Reconciliation struct {
	ID          string               `json:"id"`
	ShiftID     string               `json:"shiftId"`
	MethodCode  string               `json:"methodCode"`
	AccountID   string               `json:"accountId,omitempty"`
	Expected    decimal.Decimal      `json:"expectedAmount"`
	Actual      decimal.Decimal      `json:"actualAmount"`
	Difference  decimal.Decimal      `json:"difference"`
	Status      ReconciliationStatus `json:"status"`
	CreatedAt   time.Time            `json:"createdAt"`
	ConfirmedAt *time.Time           `json:"confirmedAt,omitempty"`
}
