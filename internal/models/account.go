package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies an account on the chart of accounts and fixes
// which side of the ledger increases its balance.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is one of the five account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// NormalSide returns the direction that increases an account of this type.
// ASSET and EXPENSE accounts are debit-normal; LIABILITY, EQUITY and
// INCOME accounts are credit-normal.
func (t AccountType) NormalSide() EntryDirection {
	if t == AccountTypeAsset || t == AccountTypeExpense {
		return DirectionDebit
	}
	return DirectionCredit
}

// Account is a single account on the chart of accounts. CachedBalance is
// owned by the posting engine: it carries the signed balance on the
// account's normal side and must always equal a full replay of the
// account's ledger entries.
type Account struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"` // unique numeric string, drives statement classification
	Name          string          `json:"name"`
	Type          AccountType     `json:"type"`
	Currency      string          `json:"currency"`
	CachedBalance decimal.Decimal `json:"cachedBalance"`
	// Provider metadata is owned by the disbursement collaborator and is
	// opaque to the posting engine.
	Provider    string    `json:"provider,omitempty"`
	ExternalRef string    `json:"externalRef,omitempty"`
	Retired     bool      `json:"retired"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BalanceDelta is a signed adjustment to one account's cached balance,
// applied atomically together with the transaction that caused it.
type BalanceDelta struct {
	AccountID string
	Delta     decimal.Decimal
}

// Activity is the debit/credit turnover of one account inside a
// reporting window.
type Activity struct {
	Debits  decimal.Decimal `json:"debits"`
	Credits decimal.Decimal `json:"credits"`
}
