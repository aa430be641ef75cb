package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quibooks/ledger-core/internal/ledger"
	"github.com/quibooks/ledger-core/internal/models"
	"github.com/quibooks/ledger-core/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	engine   *ledger.Engine
	balances *ledger.Balances
	cash     models.Account
	sales    models.Account
	expense  models.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	f := &fixture{
		store:    store,
		engine:   ledger.NewEngine(store, nil, nil),
		balances: ledger.NewBalances(store),
	}
	f.cash = f.createAccount(t, "1010", "Cash in Drawer", models.AccountTypeAsset)
	f.sales = f.createAccount(t, "4010", "Sales Revenue", models.AccountTypeIncome)
	f.expense = f.createAccount(t, "6010", "Operating Expenses", models.AccountTypeExpense)
	return f
}

func (f *fixture) createAccount(t *testing.T, code, name string, typ models.AccountType) models.Account {
	t.Helper()

	account := models.Account{
		ID:   "acct-" + code,
		Code: code,
		Name: name,
		Type: typ,
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), account))
	return account
}

func mustDate(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func saleDraft(debitID, creditID string, amount int64) models.TransactionDraft {
	return models.TransactionDraft{
		Description: "test sale",
		Entries: []models.DraftEntry{
			{AccountID: debitID, Direction: models.DirectionDebit, Amount: decimal.NewFromInt(amount)},
			{AccountID: creditID, Direction: models.DirectionCredit, Amount: decimal.NewFromInt(amount)},
		},
	}
}

func TestPostBalancedTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.engine.Post(ctx, saleDraft(f.cash.ID, f.sales.ID, 5000))
	require.NoError(t, err)

	assert.Equal(t, models.StatusPosted, tx.Status)
	assert.Len(t, tx.Entries, 2)

	// Both accounts grow on their normal side: cash is a debit-normal
	// asset, sales a credit-normal income account.
	cash, err := f.balances.Balance(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000", cash.String())

	sales, err := f.balances.Balance(ctx, f.sales.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000", sales.String())
}

func TestPostRejectsUnbalancedDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := models.TransactionDraft{
		Entries: []models.DraftEntry{
			{AccountID: f.cash.ID, Direction: models.DirectionDebit, Amount: decimal.NewFromInt(100)},
			{AccountID: f.sales.ID, Direction: models.DirectionCredit, Amount: decimal.NewFromInt(99)},
		},
	}
	_, err := f.engine.Post(ctx, draft)
	require.ErrorIs(t, err, models.ErrUnbalancedTransaction)

	// The rejection left no trace.
	cash, err := f.balances.Balance(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.True(t, cash.IsZero())

	entries, err := f.store.LedgerEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostRejectsSingleEntry(t *testing.T) {
	f := newFixture(t)

	draft := models.TransactionDraft{
		Entries: []models.DraftEntry{
			{AccountID: f.cash.ID, Direction: models.DirectionDebit, Amount: decimal.NewFromInt(100)},
		},
	}
	_, err := f.engine.Post(context.Background(), draft)
	assert.ErrorIs(t, err, models.ErrUnbalancedTransaction)
}

func TestPostRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)

	draft := models.TransactionDraft{
		Entries: []models.DraftEntry{
			{AccountID: f.cash.ID, Direction: models.DirectionDebit, Amount: decimal.Zero},
			{AccountID: f.sales.ID, Direction: models.DirectionCredit, Amount: decimal.Zero},
		},
	}
	_, err := f.engine.Post(context.Background(), draft)
	assert.ErrorIs(t, err, models.ErrUnbalancedTransaction)
}

func TestPostRejectsUnknownAccount(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Post(context.Background(), saleDraft("no-such-account", f.sales.ID, 100))
	assert.ErrorIs(t, err, models.ErrUnknownAccount)
}

func TestPostRejectsRetiredAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.RetireAccount(ctx, f.expense.ID))

	_, err := f.engine.Post(ctx, saleDraft(f.expense.ID, f.sales.ID, 100))
	assert.ErrorIs(t, err, models.ErrUnknownAccount)
}

func TestPostIdempotencyReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := saleDraft(f.cash.ID, f.sales.ID, 250)
	draft.IdempotencyKey = "order-42"

	first, err := f.engine.Post(ctx, draft)
	require.NoError(t, err)

	replayed, err := f.engine.Post(ctx, draft)
	require.ErrorIs(t, err, models.ErrAlreadyPosted)
	assert.Equal(t, first.ID, replayed.ID)

	// Posted exactly once.
	cash, err := f.balances.Balance(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.Equal(t, "250", cash.String())
}

func TestVoidReversesAndPreservesOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.engine.Post(ctx, saleDraft(f.cash.ID, f.sales.ID, 900))
	require.NoError(t, err)

	reversal, err := f.engine.Void(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, reversal.ReversalOf)

	// Directions flipped, amounts identical.
	require.Len(t, reversal.Entries, 2)
	for i, entry := range reversal.Entries {
		assert.Equal(t, tx.Entries[i].Direction.Opposite(), entry.Direction)
		assert.True(t, tx.Entries[i].Amount.Equal(entry.Amount))
	}

	// Original entries are still in the books, now under a VOID parent.
	orig, err := f.engine.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVoid, orig.Status)
	assert.Len(t, orig.Entries, 2)

	// Net effect is zero.
	cash, err := f.balances.Balance(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.True(t, cash.IsZero())
	sales, err := f.balances.Balance(ctx, f.sales.ID)
	require.NoError(t, err)
	assert.True(t, sales.IsZero())
}

func TestVoidTwiceReturnsSameReversal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.engine.Post(ctx, saleDraft(f.cash.ID, f.sales.ID, 300))
	require.NoError(t, err)

	reversal, err := f.engine.Void(ctx, tx.ID)
	require.NoError(t, err)

	again, err := f.engine.Void(ctx, tx.ID)
	require.ErrorIs(t, err, models.ErrAlreadyPosted)
	assert.Equal(t, reversal.ID, again.ID)

	cash, err := f.balances.Balance(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.True(t, cash.IsZero())
}

func TestConcurrentPostsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Post(ctx, saleDraft(f.cash.ID, f.sales.ID, 10))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cash, err := f.balances.Balance(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.Equal(t, "320", cash.String())

	// The cache agrees with a full replay after concurrent writes.
	replayed, err := f.balances.Recompute(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.True(t, cash.Equal(replayed))
}

func TestConcurrentIdempotentRetriesPostOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := saleDraft(f.cash.ID, f.sales.ID, 75)
	draft.IdempotencyKey = "retry-storm"

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Post(ctx, draft)
			if err != nil {
				assert.ErrorIs(t, err, models.ErrAlreadyPosted)
			}
		}()
	}
	wg.Wait()

	cash, err := f.balances.Balance(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.Equal(t, "75", cash.String())
}

func TestBalanceAsOfIgnoresLaterEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := saleDraft(f.cash.ID, f.sales.ID, 100)
	early.Date = mustDate("2026-01-10")
	_, err := f.engine.Post(ctx, early)
	require.NoError(t, err)

	late := saleDraft(f.cash.ID, f.sales.ID, 40)
	late.Date = mustDate("2026-02-10")
	_, err = f.engine.Post(ctx, late)
	require.NoError(t, err)

	asOf, err := f.balances.BalanceAsOf(ctx, f.cash.ID, mustDate("2026-01-31"))
	require.NoError(t, err)
	assert.Equal(t, "100", asOf.String())

	now, err := f.balances.Balance(ctx, f.cash.ID)
	require.NoError(t, err)
	assert.Equal(t, "140", now.String())
}
