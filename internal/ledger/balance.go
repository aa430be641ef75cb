package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quibooks/ledger-core/internal/interfaces"
	"github.com/quibooks/ledger-core/internal/models"
)

// Balances answers point-in-time and period-windowed balance questions.
// "Now" queries read the cached balance; historical queries always
// recompute from entries, the cache is only a fast path for the present.
type Balances struct {
	store interfaces.LedgerStore
}

// NewBalances creates the balance query service.
func NewBalances(store interfaces.LedgerStore) *Balances {
	return &Balances{store: store}
}

// Balance returns the account's current balance on its normal side,
// served from the cache.
func (b *Balances) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	account, err := b.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.CachedBalance, nil
}

// BalanceAsOf recomputes the account's cumulative balance from its
// entries up to and including the cutoff.
func (b *Balances) BalanceAsOf(ctx context.Context, accountID string, asOf time.Time) (decimal.Decimal, error) {
	return b.replay(ctx, accountID, &asOf)
}

// Recompute replays every entry of the account from inception. Used by
// the auditor to check the cache-consistency invariant.
func (b *Balances) Recompute(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return b.replay(ctx, accountID, nil)
}

func (b *Balances) replay(ctx context.Context, accountID string, until *time.Time) (decimal.Decimal, error) {
	account, err := b.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	entries, err := b.store.EntriesByAccount(ctx, accountID, until)
	if err != nil {
		return decimal.Zero, err
	}

	normal := account.Type.NormalSide()
	balance := decimal.Zero
	for _, entry := range entries {
		balance = balance.Add(entry.Signed(normal))
	}
	return balance, nil
}

// PeriodActivity sums debits and credits per account over transactions
// dated within [from, to]. This is the windowed view P&L reporting
// needs, as opposed to the cumulative-to-date view the balance sheet
// uses — the distinction is load-bearing for statement math.
func (b *Balances) PeriodActivity(ctx context.Context, accountIDs []string, from, to time.Time) (map[string]models.Activity, error) {
	return b.store.PeriodActivity(ctx, accountIDs, from, to)
}
