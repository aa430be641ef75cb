package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quibooks/ledger-core/internal/models"
	"github.com/quibooks/ledger-core/internal/storage/memory"
)

func testAccount(id, code string) models.Account {
	return models.Account{ID: id, Code: code, Name: "Account " + code, Type: models.AccountTypeAsset}
}

func testPosting(txID, key, debitID, creditID string, amount int64, date time.Time) (models.Transaction, []models.BalanceDelta) {
	amt := decimal.NewFromInt(amount)
	tx := models.Transaction{
		ID:             txID,
		Date:           date,
		IdempotencyKey: key,
		Status:         models.StatusPosted,
		Entries: []models.LedgerEntry{
			{ID: txID + "-1", TransactionID: txID, AccountID: debitID, Direction: models.DirectionDebit, Amount: amt},
			{ID: txID + "-2", TransactionID: txID, AccountID: creditID, Direction: models.DirectionCredit, Amount: amt},
		},
	}
	deltas := []models.BalanceDelta{
		{AccountID: creditID, Delta: amt.Neg()},
		{AccountID: debitID, Delta: amt},
	}
	return tx, deltas
}

func TestCreateAccountRejectsDuplicateCode(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))
	err := store.CreateAccount(ctx, testAccount("a2", "1010"))
	assert.ErrorIs(t, err, models.ErrDuplicateCode)
}

func TestGetAccountByCode(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))

	account, err := store.GetAccountByCode(ctx, "1010")
	require.NoError(t, err)
	assert.Equal(t, "a1", account.ID)

	_, err = store.GetAccountByCode(ctx, "9999")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSavePostingAppliesDeltas(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))
	require.NoError(t, store.CreateAccount(ctx, testAccount("a2", "1020")))

	tx, deltas := testPosting("tx1", "", "a1", "a2", 100, time.Now())
	require.NoError(t, store.SavePosting(ctx, tx, deltas, ""))

	debited, err := store.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "100", debited.CachedBalance.String())

	credited, err := store.GetAccount(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "-100", credited.CachedBalance.String())
}

func TestSavePostingDuplicateKeyLeavesNoTrace(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))
	require.NoError(t, store.CreateAccount(ctx, testAccount("a2", "1020")))

	tx, deltas := testPosting("tx1", "key-1", "a1", "a2", 100, time.Now())
	require.NoError(t, store.SavePosting(ctx, tx, deltas, ""))

	retry, retryDeltas := testPosting("tx2", "key-1", "a1", "a2", 100, time.Now())
	err := store.SavePosting(ctx, retry, retryDeltas, "")
	require.ErrorIs(t, err, models.ErrAlreadyPosted)

	// Balance applied exactly once and the retry transaction was never
	// stored.
	account, err := store.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "100", account.CachedBalance.String())

	_, err = store.GetTransaction(ctx, "tx2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSavePostingUnknownAccountIsAtomic(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))

	tx, deltas := testPosting("tx1", "", "a1", "missing", 100, time.Now())
	err := store.SavePosting(ctx, tx, deltas, "")
	require.ErrorIs(t, err, models.ErrUnknownAccount)

	// The known account was not touched either.
	account, err := store.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, account.CachedBalance.IsZero())

	entries, err := store.LedgerEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSavePostingVoidMarksOriginal(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))
	require.NoError(t, store.CreateAccount(ctx, testAccount("a2", "1020")))

	orig, deltas := testPosting("tx1", "", "a1", "a2", 100, time.Now())
	require.NoError(t, store.SavePosting(ctx, orig, deltas, ""))

	reversal, reversalDeltas := testPosting("tx2", "void:tx1", "a2", "a1", 100, time.Now())
	require.NoError(t, store.SavePosting(ctx, reversal, reversalDeltas, "tx1"))

	voided, err := store.GetTransaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusVoid, voided.Status)

	// Entries from both transactions survive.
	entries, err := store.LedgerEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestTransactionByKey(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))
	require.NoError(t, store.CreateAccount(ctx, testAccount("a2", "1020")))

	tx, deltas := testPosting("tx1", "key-1", "a1", "a2", 100, time.Now())
	require.NoError(t, store.SavePosting(ctx, tx, deltas, ""))

	found, err := store.TransactionByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "tx1", found.ID)

	_, err = store.TransactionByKey(ctx, "unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEntriesByAccountRespectsCutoff(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))
	require.NoError(t, store.CreateAccount(ctx, testAccount("a2", "1020")))

	jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	tx1, deltas1 := testPosting("tx1", "", "a1", "a2", 100, jan)
	require.NoError(t, store.SavePosting(ctx, tx1, deltas1, ""))
	tx2, deltas2 := testPosting("tx2", "", "a1", "a2", 50, mar)
	require.NoError(t, store.SavePosting(ctx, tx2, deltas2, ""))

	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	entries, err := store.EntriesByAccount(ctx, "a1", &cutoff)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tx1", entries[0].TransactionID)

	all, err := store.EntriesByAccount(ctx, "a1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPeriodActivityWindowsOnTransactionDate(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))
	require.NoError(t, store.CreateAccount(ctx, testAccount("a2", "1020")))

	jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	tx1, deltas1 := testPosting("tx1", "", "a1", "a2", 100, jan)
	require.NoError(t, store.SavePosting(ctx, tx1, deltas1, ""))
	tx2, deltas2 := testPosting("tx2", "", "a1", "a2", 50, mar)
	require.NoError(t, store.SavePosting(ctx, tx2, deltas2, ""))

	activity, err := store.PeriodActivity(ctx, []string{"a1", "a2"},
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "100", activity["a1"].Debits.String())
	assert.True(t, activity["a1"].Credits.IsZero())
	assert.Equal(t, "100", activity["a2"].Credits.String())
}

func TestStoredTransactionIsIsolatedFromCaller(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, testAccount("a1", "1010")))
	require.NoError(t, store.CreateAccount(ctx, testAccount("a2", "1020")))

	tx, deltas := testPosting("tx1", "", "a1", "a2", 100, time.Now())
	require.NoError(t, store.SavePosting(ctx, tx, deltas, ""))

	got, err := store.GetTransaction(ctx, "tx1")
	require.NoError(t, err)
	got.Entries[0].Amount = decimal.NewFromInt(999999)

	again, err := store.GetTransaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, "100", again.Entries[0].Amount.String())
}

func TestShiftRoundTrip(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	shift := models.Shift{ID: "s1", CashierID: "c1", Status: models.ShiftOpen, StartCash: decimal.NewFromInt(1000), OpenedAt: time.Now()}
	require.NoError(t, store.SaveShift(ctx, shift))

	got, err := store.GetShift(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ShiftOpen, got.Status)

	now := time.Now()
	got.Status = models.ShiftClosed
	got.ClosedAt = &now
	require.NoError(t, store.UpdateShift(ctx, got))

	updated, err := store.GetShift(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ShiftClosed, updated.Status)

	err = store.UpdateShift(ctx, models.Shift{ID: "nope"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDepositsByShiftOrderedByCreation(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveDeposit(ctx, models.CashDeposit{ID: "d2", ShiftID: "s1", Amount: decimal.NewFromInt(2), Status: models.DepositPending, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.SaveDeposit(ctx, models.CashDeposit{ID: "d1", ShiftID: "s1", Amount: decimal.NewFromInt(1), Status: models.DepositPending, CreatedAt: base}))
	require.NoError(t, store.SaveDeposit(ctx, models.CashDeposit{ID: "d3", ShiftID: "other", Amount: decimal.NewFromInt(3), Status: models.DepositPending, CreatedAt: base}))

	deposits, err := store.DepositsByShift(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	assert.Equal(t, "d1", deposits[0].ID)
	assert.Equal(t, "d2", deposits[1].ID)
}
