package audit_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quibooks/ledger-core/internal/audit"
	"github.com/quibooks/ledger-core/internal/ledger"
	"github.com/quibooks/ledger-core/internal/models"
	"github.com/quibooks/ledger-core/internal/storage/memory"
)

func setup(t *testing.T) (*memory.Store, *ledger.Engine, *audit.Auditor, models.Account, models.Account) {
	t.Helper()

	store := memory.NewStore()
	ctx := context.Background()

	cash := models.Account{ID: "acct-1010", Code: "1010", Name: "Cash in Drawer", Type: models.AccountTypeAsset}
	sales := models.Account{ID: "acct-4010", Code: "4010", Name: "Sales Revenue", Type: models.AccountTypeIncome}
	require.NoError(t, store.CreateAccount(ctx, cash))
	require.NoError(t, store.CreateAccount(ctx, sales))

	return store, ledger.NewEngine(store, nil, nil), audit.New(store, nil), cash, sales
}

func post(t *testing.T, engine *ledger.Engine, debitID, creditID string, amount int64) {
	t.Helper()
	_, err := engine.Post(context.Background(), models.TransactionDraft{
		Entries: []models.DraftEntry{
			{AccountID: debitID, Direction: models.DirectionDebit, Amount: decimal.NewFromInt(amount)},
			{AccountID: creditID, Direction: models.DirectionCredit, Amount: decimal.NewFromInt(amount)},
		},
	})
	require.NoError(t, err)
}

func TestCheckCleanLedger(t *testing.T) {
	_, engine, auditor, cash, sales := setup(t)

	post(t, engine, cash.ID, sales.ID, 500)

	drifts, err := auditor.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestCheckDetectsDrift(t *testing.T) {
	store, engine, auditor, cash, sales := setup(t)
	ctx := context.Background()

	post(t, engine, cash.ID, sales.ID, 500)

	// Corrupt the cache out-of-band.
	require.NoError(t, store.SetCachedBalance(ctx, cash.ID, decimal.NewFromInt(650)))

	drifts, err := auditor.Check(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)

	assert.Equal(t, cash.ID, drifts[0].AccountID)
	assert.Equal(t, "650", drifts[0].Cached.String())
	assert.Equal(t, "500", drifts[0].Replayed.String())
	assert.Equal(t, "150", drifts[0].Drift.String())
}

func TestRebuildRepairsDrift(t *testing.T) {
	store, engine, auditor, cash, sales := setup(t)
	ctx := context.Background()

	post(t, engine, cash.ID, sales.ID, 500)
	require.NoError(t, store.SetCachedBalance(ctx, cash.ID, decimal.NewFromInt(650)))

	repaired, err := auditor.Rebuild(ctx)
	require.NoError(t, err)
	require.Len(t, repaired, 1)

	account, err := store.GetAccount(ctx, cash.ID)
	require.NoError(t, err)
	assert.Equal(t, "500", account.CachedBalance.String())

	// A subsequent check is clean.
	drifts, err := auditor.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
