package ledger

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quibooks/ledger-core/internal/interfaces"
	"github.com/quibooks/ledger-core/internal/models"
)

// CodeRanges maps numeric account codes to statement sub-buckets. The
// section itself comes from the account type; codes only split a
// section further.
type CodeRanges struct {
	RevenueLow, RevenueHigh                   int
	CostOfSalesLow, CostOfSalesHigh           int
	OperatingExpenseLow, OperatingExpenseHigh int
	CurrentAssetLow, CurrentAssetHigh         int
	CurrentLiabilityLow, CurrentLiabilityHigh int
}

// DefaultCodeRanges returns the standard chart layout: revenue
// 4000-4999, cost of sales 5000-5999, operating expense 6000-8999,
// current assets 1000-1499, current liabilities 2000-2499.
func DefaultCodeRanges() CodeRanges {
	return CodeRanges{
		RevenueLow: 4000, RevenueHigh: 4999,
		CostOfSalesLow: 5000, CostOfSalesHigh: 5999,
		OperatingExpenseLow: 6000, OperatingExpenseHigh: 8999,
		CurrentAssetLow: 1000, CurrentAssetHigh: 1499,
		CurrentLiabilityLow: 2000, CurrentLiabilityHigh: 2499,
	}
}

func (r CodeRanges) inRange(code string, low, high int) bool {
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return n >= low && n <= high
}

// LineItem is one account's contribution to a statement section,
// already signed to show as a positive line under normal activity.
type LineItem struct {
	AccountID string          `json:"accountId"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
}

// ProfitAndLoss is the period-windowed income statement. Totals are
// derived in a fixed order so consumers can recompute and cross-check:
// gross profit, then net operating income, then net profit.
type ProfitAndLoss struct {
	From, To time.Time `json:"-"`

	Revenue           []LineItem `json:"revenue"`
	CostOfSales       []LineItem `json:"costOfSales"`
	OperatingExpenses []LineItem `json:"operatingExpenses"`

	TotalRevenue           decimal.Decimal `json:"totalRevenue"`
	TotalCostOfSales       decimal.Decimal `json:"totalCostOfSales"`
	TotalOperatingExpenses decimal.Decimal `json:"totalOperatingExpenses"`
	GrossProfit            decimal.Decimal `json:"grossProfit"`
	NetOperatingIncome     decimal.Decimal `json:"netOperatingIncome"`
	// NetProfit equals NetOperatingIncome: there is no non-operating
	// adjustment layer in this version.
	NetProfit decimal.Decimal `json:"netProfit"`
}

// BalanceSheet is the cumulative-to-date statement of position. Current
// period earnings are injected as a synthetic equity line so that
// assets == liabilities + equity holds even though profit has not been
// formally closed into retained earnings.
type BalanceSheet struct {
	AsOf time.Time `json:"asOf"`

	CurrentAssets       []LineItem `json:"currentAssets"`
	FixedAssets         []LineItem `json:"fixedAssets"`
	CurrentLiabilities  []LineItem `json:"currentLiabilities"`
	LongTermLiabilities []LineItem `json:"longTermLiabilities"`
	Equity              []LineItem `json:"equity"`

	CurrentEarnings  decimal.Decimal `json:"currentEarnings"`
	TotalAssets      decimal.Decimal `json:"totalAssets"`
	TotalLiabilities decimal.Decimal `json:"totalLiabilities"`
	TotalEquity      decimal.Decimal `json:"totalEquity"`
}

// TrialBalanceRow is one account's cached balance split onto its debit
// or credit column.
type TrialBalanceRow struct {
	AccountID string          `json:"accountId"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      models.AccountType `json:"type"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// Statements derives financial statements from account metadata and
// balance queries. It keeps no state of its own.
type Statements struct {
	store    interfaces.LedgerStore
	balances *Balances
	ranges   CodeRanges
}

// NewStatements creates the statement derivation engine.
func NewStatements(store interfaces.LedgerStore, ranges CodeRanges) *Statements {
	return &Statements{store: store, balances: NewBalances(store), ranges: ranges}
}

// ProfitAndLoss derives the income statement for [from, to]. Accounts
// with zero activity in the window are omitted from the line items but
// still contribute (zero) to the totals.
func (s *Statements) ProfitAndLoss(ctx context.Context, from, to time.Time) (ProfitAndLoss, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return ProfitAndLoss{}, err
	}

	var plAccounts []models.Account
	ids := make([]string, 0)
	for _, account := range accounts {
		if account.Type == models.AccountTypeIncome || account.Type == models.AccountTypeExpense {
			plAccounts = append(plAccounts, account)
			ids = append(ids, account.ID)
		}
	}

	activity, err := s.store.PeriodActivity(ctx, ids, from, to)
	if err != nil {
		return ProfitAndLoss{}, err
	}

	pl := ProfitAndLoss{
		From: from, To: to,
		TotalRevenue:           decimal.Zero,
		TotalCostOfSales:       decimal.Zero,
		TotalOperatingExpenses: decimal.Zero,
	}

	sortByCode(plAccounts)
	for _, account := range plAccounts {
		act := activity[account.ID]

		// Positive line item under the type's sign convention.
		var amount decimal.Decimal
		if account.Type == models.AccountTypeIncome {
			amount = act.Credits.Sub(act.Debits)
		} else {
			amount = act.Debits.Sub(act.Credits)
		}

		item := LineItem{AccountID: account.ID, Code: account.Code, Name: account.Name, Amount: amount}

		switch {
		case account.Type == models.AccountTypeIncome:
			pl.TotalRevenue = pl.TotalRevenue.Add(amount)
			if !amount.IsZero() {
				pl.Revenue = append(pl.Revenue, item)
			}
		case s.ranges.inRange(account.Code, s.ranges.CostOfSalesLow, s.ranges.CostOfSalesHigh):
			pl.TotalCostOfSales = pl.TotalCostOfSales.Add(amount)
			if !amount.IsZero() {
				pl.CostOfSales = append(pl.CostOfSales, item)
			}
		default:
			// Expense codes outside every range fall back to opex.
			pl.TotalOperatingExpenses = pl.TotalOperatingExpenses.Add(amount)
			if !amount.IsZero() {
				pl.OperatingExpenses = append(pl.OperatingExpenses, item)
			}
		}
	}

	pl.GrossProfit = pl.TotalRevenue.Sub(pl.TotalCostOfSales)
	pl.NetOperatingIncome = pl.GrossProfit.Sub(pl.TotalOperatingExpenses)
	pl.NetProfit = pl.NetOperatingIncome

	return pl, nil
}

// BalanceSheet derives the statement of position as of the cutoff.
// Earnings accumulated through the cutoff are injected into equity as a
// synthetic line, since the books carry no period-close postings.
func (s *Statements) BalanceSheet(ctx context.Context, asOf time.Time) (BalanceSheet, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return BalanceSheet{}, err
	}

	bs := BalanceSheet{
		AsOf:             asOf,
		CurrentEarnings:  decimal.Zero,
		TotalAssets:      decimal.Zero,
		TotalLiabilities: decimal.Zero,
		TotalEquity:      decimal.Zero,
	}

	sortByCode(accounts)
	for _, account := range accounts {
		balance, err := s.balances.BalanceAsOf(ctx, account.ID, asOf)
		if err != nil {
			return BalanceSheet{}, err
		}

		item := LineItem{AccountID: account.ID, Code: account.Code, Name: account.Name, Amount: balance}

		switch account.Type {
		case models.AccountTypeAsset:
			bs.TotalAssets = bs.TotalAssets.Add(balance)
			if balance.IsZero() {
				continue
			}
			if s.ranges.inRange(account.Code, s.ranges.CurrentAssetLow, s.ranges.CurrentAssetHigh) {
				bs.CurrentAssets = append(bs.CurrentAssets, item)
			} else {
				bs.FixedAssets = append(bs.FixedAssets, item)
			}
		case models.AccountTypeLiability:
			bs.TotalLiabilities = bs.TotalLiabilities.Add(balance)
			if balance.IsZero() {
				continue
			}
			if s.ranges.inRange(account.Code, s.ranges.CurrentLiabilityLow, s.ranges.CurrentLiabilityHigh) {
				bs.CurrentLiabilities = append(bs.CurrentLiabilities, item)
			} else {
				bs.LongTermLiabilities = append(bs.LongTermLiabilities, item)
			}
		case models.AccountTypeEquity:
			bs.TotalEquity = bs.TotalEquity.Add(balance)
			if !balance.IsZero() {
				bs.Equity = append(bs.Equity, item)
			}
		case models.AccountTypeIncome:
			bs.CurrentEarnings = bs.CurrentEarnings.Add(balance)
		case models.AccountTypeExpense:
			bs.CurrentEarnings = bs.CurrentEarnings.Sub(balance)
		}
	}

	// Unclosed earnings land in equity so the accounting identity is a
	// checkable property of every derived sheet.
	bs.TotalEquity = bs.TotalEquity.Add(bs.CurrentEarnings)
	if !bs.CurrentEarnings.IsZero() {
		bs.Equity = append(bs.Equity, LineItem{
			Name:   "Current Period Earnings",
			Amount: bs.CurrentEarnings,
		})
	}

	return bs, nil
}

// TrialBalance lists every account's cached balance on its natural
// debit or credit column. Total debits always equal total credits for a
// consistent ledger.
func (s *Statements) TrialBalance(ctx context.Context) ([]TrialBalanceRow, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	sortByCode(accounts)
	rows := make([]TrialBalanceRow, 0, len(accounts))
	for _, account := range accounts {
		row := TrialBalanceRow{
			AccountID: account.ID,
			Code:      account.Code,
			Name:      account.Name,
			Type:      account.Type,
			Debit:     decimal.Zero,
			Credit:    decimal.Zero,
		}

		// CachedBalance is signed on the normal side; flip negatives to
		// the opposite column.
		normalDebit := account.Type.NormalSide() == models.DirectionDebit
		switch {
		case account.CachedBalance.IsNegative() && normalDebit:
			row.Credit = account.CachedBalance.Neg()
		case account.CachedBalance.IsNegative():
			row.Debit = account.CachedBalance.Neg()
		case normalDebit:
			row.Debit = account.CachedBalance
		default:
			row.Credit = account.CachedBalance
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func sortByCode(accounts []models.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Code < accounts[j].Code
	})
}
