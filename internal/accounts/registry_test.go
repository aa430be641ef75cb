package accounts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quibooks/ledger-core/internal/accounts"
	"github.com/quibooks/ledger-core/internal/models"
	"github.com/quibooks/ledger-core/internal/storage/memory"
)

func newRegistry() *accounts.Registry {
	return accounts.NewRegistry(memory.NewStore(), nil)
}

func TestCreateAccount(t *testing.T) {
	registry := newRegistry()
	ctx := context.Background()

	account, err := registry.Create(ctx, "1010", "Cash in Drawer", models.AccountTypeAsset, "USD")
	require.NoError(t, err)

	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "1010", account.Code)
	assert.True(t, account.CachedBalance.IsZero())
	assert.False(t, account.Retired)

	got, err := registry.GetByCode(ctx, "1010")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestCreateRejectsBadInput(t *testing.T) {
	registry := newRegistry()
	ctx := context.Background()

	_, err := registry.Create(ctx, "10a0", "Bad Code", models.AccountTypeAsset, "USD")
	assert.Error(t, err)

	_, err = registry.Create(ctx, "", "Empty Code", models.AccountTypeAsset, "USD")
	assert.Error(t, err)

	_, err = registry.Create(ctx, "1010", "", models.AccountTypeAsset, "USD")
	assert.Error(t, err)

	_, err = registry.Create(ctx, "1010", "Bad Type", models.AccountType("WEIRD"), "USD")
	assert.Error(t, err)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	registry := newRegistry()
	ctx := context.Background()

	_, err := registry.Create(ctx, "1010", "Cash", models.AccountTypeAsset, "USD")
	require.NoError(t, err)

	_, err = registry.Create(ctx, "1010", "Cash Again", models.AccountTypeAsset, "USD")
	assert.ErrorIs(t, err, models.ErrDuplicateCode)
}

func TestRetire(t *testing.T) {
	registry := newRegistry()
	ctx := context.Background()

	account, err := registry.Create(ctx, "1010", "Cash", models.AccountTypeAsset, "USD")
	require.NoError(t, err)

	require.NoError(t, registry.Retire(ctx, account.ID))

	got, err := registry.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Retired)

	err = registry.Retire(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSeedDefaultChartIsIdempotent(t *testing.T) {
	registry := newRegistry()
	ctx := context.Background()

	require.NoError(t, registry.SeedDefaultChart(ctx, "USD"))

	first, err := registry.List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Seeding again skips existing accounts instead of failing.
	require.NoError(t, registry.SeedDefaultChart(ctx, "USD"))

	second, err := registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, second, len(first))

	// The shift service's default codes are on the chart.
	for _, code := range []string{"1010", "1020", "4010"} {
		_, err := registry.GetByCode(ctx, code)
		assert.NoError(t, err, "code %s", code)
	}
}
