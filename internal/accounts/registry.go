package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quibooks/ledger-core/internal/interfaces"
	"github.com/quibooks/ledger-core/internal/models"
)

// Registry owns the chart of accounts. Accounts are read-mostly here:
// balances belong to the posting engine, and there is no delete — an
// account that should stop taking postings is retired instead.
type Registry struct {
	store interfaces.LedgerStore
	log   *zap.Logger
}

// NewRegistry creates a chart of accounts registry over the given store.
func NewRegistry(store interfaces.LedgerStore, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{store: store, log: log}
}

// Create adds an account to the chart. The code must be a numeric
// string (it drives statement classification) and unique on the chart.
func (r *Registry) Create(ctx context.Context, code, name string, typ models.AccountType, currency string) (models.Account, error) {
	if !isNumericCode(code) {
		return models.Account{}, fmt.Errorf("account code %q must be a numeric string", code)
	}
	if !typ.Valid() {
		return models.Account{}, fmt.Errorf("invalid account type %q", typ)
	}
	if name == "" {
		return models.Account{}, fmt.Errorf("account name is required")
	}

	now := time.Now().UTC()
	account := models.Account{
		ID:            uuid.New().String(),
		Code:          code,
		Name:          name,
		Type:          typ,
		Currency:      currency,
		CachedBalance: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.store.CreateAccount(ctx, account); err != nil {
		return models.Account{}, err
	}

	r.log.Info("account created",
		zap.String("account_id", account.ID),
		zap.String("code", code),
		zap.String("type", string(typ)))

	return account, nil
}

// Get returns the account with the given id.
func (r *Registry) Get(ctx context.Context, id string) (models.Account, error) {
	return r.store.GetAccount(ctx, id)
}

// GetByCode returns the account with the given chart code.
func (r *Registry) GetByCode(ctx context.Context, code string) (models.Account, error) {
	return r.store.GetAccountByCode(ctx, code)
}

// List returns every account on the chart.
func (r *Registry) List(ctx context.Context) ([]models.Account, error) {
	return r.store.ListAccounts(ctx)
}

// Retire flags the account so the posting engine refuses new entries
// against it. Existing entries are untouched.
func (r *Registry) Retire(ctx context.Context, id string) error {
	if err := r.store.RetireAccount(ctx, id); err != nil {
		return err
	}
	r.log.Info("account retired", zap.String("account_id", id))
	return nil
}

// SeedDefaultChart installs a minimal chart for dev and demo setups.
// Codes follow the statement classification ranges. Safe to call twice:
// accounts already on the chart are skipped.
func (r *Registry) SeedDefaultChart(ctx context.Context, currency string) error {
	seed := []struct {
		code string
		name string
		typ  models.AccountType
	}{
		{"1010", "Cash in Drawer", models.AccountTypeAsset},
		{"1020", "Bank", models.AccountTypeAsset},
		{"1100", "Accounts Receivable", models.AccountTypeAsset},
		{"1500", "Equipment", models.AccountTypeAsset},
		{"2010", "Accounts Payable", models.AccountTypeLiability},
		{"2500", "Long-Term Loan", models.AccountTypeLiability},
		{"3010", "Owner Capital", models.AccountTypeEquity},
		{"4010", "Sales Revenue", models.AccountTypeIncome},
		{"5010", "Cost of Goods Sold", models.AccountTypeExpense},
		{"6010", "Operating Expenses", models.AccountTypeExpense},
		{"6020", "Payroll Expense", models.AccountTypeExpense},
		{"6030", "Cash Over and Short", models.AccountTypeExpense},
	}

	for _, s := range seed {
		if _, err := r.Create(ctx, s.code, s.name, s.typ, currency); err != nil {
			if errors.Is(err, models.ErrDuplicateCode) {
				continue
			}
			return fmt.Errorf("seed account %s: %w", s.code, err)
		}
	}
	return nil
}

func isNumericCode(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
