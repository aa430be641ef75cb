package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quibooks/ledger-core/internal/models"
)

// LedgerStore is the transactional persistence boundary of the posting
// engine. Implementations must make SavePosting atomic: the transaction,
// its entries and every balance delta commit together or not at all.
type LedgerStore interface {
	// CreateAccount persists a new account. Returns
	// models.ErrDuplicateCode when the code is already on the chart.
	CreateAccount(ctx context.Context, account models.Account) error

	// GetAccount returns models.ErrNotFound for a missing id.
	GetAccount(ctx context.Context, id string) (models.Account, error)

	// GetAccountByCode returns models.ErrNotFound for a missing code.
	GetAccountByCode(ctx context.Context, code string) (models.Account, error)

	ListAccounts(ctx context.Context) ([]models.Account, error)

	// RetireAccount flips the soft retire flag; the account and its
	// entries remain, the engine simply refuses further postings.
	RetireAccount(ctx context.Context, id string) error

	// TransactionByKey looks up a committed transaction by idempotency
	// key. Returns models.ErrNotFound when the key has never committed.
	TransactionByKey(ctx context.Context, key string) (models.Transaction, error)

	GetTransaction(ctx context.Context, id string) (models.Transaction, error)

	// SavePosting commits the transaction, its entries and the signed
	// balance deltas in one atomic write. When voidOf is non-empty the
	// referenced transaction is marked VOID in the same write. A
	// previously committed idempotency key fails the whole write with
	// models.ErrAlreadyPosted.
	SavePosting(ctx context.Context, tx models.Transaction, deltas []models.BalanceDelta, voidOf string) error

	// EntriesByAccount returns the account's entries, oldest first,
	// limited to transactions dated at or before until when set.
	EntriesByAccount(ctx context.Context, accountID string, until *time.Time) ([]models.LedgerEntry, error)

	// PeriodActivity sums debits and credits per account for entries
	// whose transaction date falls within [from, to].
	PeriodActivity(ctx context.Context, accountIDs []string, from, to time.Time) (map[string]models.Activity, error)

	// LedgerEntries returns every entry in the ledger, for audit replay.
	LedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)

	// SetCachedBalance overwrites one account's cached balance. Only the
	// audit rebuild path uses this.
	SetCachedBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
}
