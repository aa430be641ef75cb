package models_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quibooks/ledger-core/internal/models"
)

func TestNormalSide(t *testing.T) {
	assert.Equal(t, models.DirectionDebit, models.AccountTypeAsset.NormalSide())
	assert.Equal(t, models.DirectionDebit, models.AccountTypeExpense.NormalSide())
	assert.Equal(t, models.DirectionCredit, models.AccountTypeLiability.NormalSide())
	assert.Equal(t, models.DirectionCredit, models.AccountTypeEquity.NormalSide())
	assert.Equal(t, models.DirectionCredit, models.AccountTypeIncome.NormalSide())
}

func TestAccountTypeValid(t *testing.T) {
	assert.True(t, models.AccountTypeAsset.Valid())
	assert.False(t, models.AccountType("BANANA").Valid())
	assert.False(t, models.AccountType("").Valid())
}

func TestEntrySigned(t *testing.T) {
	entry := models.LedgerEntry{Direction: models.DirectionDebit, Amount: decimal.NewFromInt(100)}

	// A debit grows a debit-normal account and shrinks a credit-normal one.
	assert.Equal(t, "100", entry.Signed(models.DirectionDebit).String())
	assert.Equal(t, "-100", entry.Signed(models.DirectionCredit).String())

	entry.Direction = models.DirectionCredit
	assert.Equal(t, "-100", entry.Signed(models.DirectionDebit).String())
	assert.Equal(t, "100", entry.Signed(models.DirectionCredit).String())
}

func TestDirectionOpposite(t *testing.T) {
	assert.Equal(t, models.DirectionCredit, models.DirectionDebit.Opposite())
	assert.Equal(t, models.DirectionDebit, models.DirectionCredit.Opposite())
}
