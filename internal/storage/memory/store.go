package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quibooks/ledger-core/internal/interfaces"
	"github.com/quibooks/ledger-core/internal/models"
)

// Store is an in-memory implementation of both store interfaces, used
// by tests and dev mode. A single mutex guards all maps, which makes
// SavePosting trivially atomic: everything inside one lock either all
// happens or, on validation failure, nothing does.
type Store struct {
	mu sync.RWMutex

	accounts       map[string]models.Account
	accountsByCode map[string]string // code -> account id

	transactions map[string]models.Transaction
	txByKey      map[string]string // idempotency key -> transaction id
	entries      []models.LedgerEntry

	shifts   map[string]models.Shift
	sales    map[string][]models.ShiftSale // by shift id
	deposits map[string]models.CashDeposit
	recons   map[string]models.Reconciliation
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts:       make(map[string]models.Account),
		accountsByCode: make(map[string]string),
		transactions:   make(map[string]models.Transaction),
		txByKey:        make(map[string]string),
		shifts:         make(map[string]models.Shift),
		sales:          make(map[string][]models.ShiftSale),
		deposits:       make(map[string]models.CashDeposit),
		recons:         make(map[string]models.Reconciliation),
	}
}

// --- LedgerStore ---

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accountsByCode[account.Code]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicateCode, account.Code)
	}
	s.accounts[account.ID] = account
	s.accountsByCode[account.Code] = account.ID
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[id]
	if !exists {
		return models.Account{}, fmt.Errorf("%w: account %s", models.ErrNotFound, id)
	}
	return account, nil
}

func (s *Store) GetAccountByCode(ctx context.Context, code string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.accountsByCode[code]
	if !exists {
		return models.Account{}, fmt.Errorf("%w: account code %s", models.ErrNotFound, code)
	}
	return s.accounts[id], nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]models.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		list = append(list, account)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })
	return list, nil
}

func (s *Store) RetireAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[id]
	if !exists {
		return fmt.Errorf("%w: account %s", models.ErrNotFound, id)
	}
	account.Retired = true
	account.UpdatedAt = time.Now().UTC()
	s.accounts[id] = account
	return nil
}

func (s *Store) TransactionByKey(ctx context.Context, key string) (models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.txByKey[key]
	if !exists {
		return models.Transaction{}, fmt.Errorf("%w: idempotency key %s", models.ErrNotFound, key)
	}
	return copyTransaction(s.transactions[id]), nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactions[id]
	if !exists {
		return models.Transaction{}, fmt.Errorf("%w: transaction %s", models.ErrNotFound, id)
	}
	return copyTransaction(tx), nil
}

func (s *Store) SavePosting(ctx context.Context, tx models.Transaction, deltas []models.BalanceDelta, voidOf string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// All checks run before the first mutation so a failed save leaves
	// no partial state behind.
	if tx.IdempotencyKey != "" {
		if _, exists := s.txByKey[tx.IdempotencyKey]; exists {
			return fmt.Errorf("%w: idempotency key %s", models.ErrAlreadyPosted, tx.IdempotencyKey)
		}
	}
	for _, delta := range deltas {
		if _, exists := s.accounts[delta.AccountID]; !exists {
			return fmt.Errorf("%w: account %s", models.ErrUnknownAccount, delta.AccountID)
		}
	}
	if voidOf != "" {
		if _, exists := s.transactions[voidOf]; !exists {
			return fmt.Errorf("%w: transaction %s", models.ErrNotFound, voidOf)
		}
	}

	s.transactions[tx.ID] = copyTransaction(tx)
	if tx.IdempotencyKey != "" {
		s.txByKey[tx.IdempotencyKey] = tx.ID
	}
	s.entries = append(s.entries, tx.Entries...)

	now := time.Now().UTC()
	for _, delta := range deltas {
		account := s.accounts[delta.AccountID]
		account.CachedBalance = account.CachedBalance.Add(delta.Delta)
		account.UpdatedAt = now
		s.accounts[delta.AccountID] = account
	}

	if voidOf != "" {
		orig := s.transactions[voidOf]
		orig.Status = models.StatusVoid
		s.transactions[voidOf] = orig
	}
	return nil
}

func (s *Store) EntriesByAccount(ctx context.Context, accountID string, until *time.Time) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.LedgerEntry
	for _, entry := range s.entries {
		if entry.AccountID != accountID {
			continue
		}
		if until != nil {
			// The cutoff compares against the transaction date, not the
			// wall-clock insert time.
			if tx, exists := s.transactions[entry.TransactionID]; exists && tx.Date.After(*until) {
				continue
			}
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) PeriodActivity(ctx context.Context, accountIDs []string, from, to time.Time) (map[string]models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = struct{}{}
	}

	activity := make(map[string]models.Activity, len(accountIDs))
	for _, entry := range s.entries {
		if _, ok := wanted[entry.AccountID]; !ok {
			continue
		}
		tx, exists := s.transactions[entry.TransactionID]
		if !exists || tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}

		act := activity[entry.AccountID]
		if entry.Direction == models.DirectionDebit {
			act.Debits = act.Debits.Add(entry.Amount)
		} else {
			act.Credits = act.Credits.Add(entry.Amount)
		}
		activity[entry.AccountID] = act
	}
	return activity, nil
}

func (s *Store) LedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]models.LedgerEntry, len(s.entries))
	copy(copied, s.entries)
	return copied, nil
}

func (s *Store) SetCachedBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[accountID]
	if !exists {
		return fmt.Errorf("%w: account %s", models.ErrNotFound, accountID)
	}
	account.CachedBalance = balance
	account.UpdatedAt = time.Now().UTC()
	s.accounts[accountID] = account
	return nil
}

// --- ShiftStore ---

func (s *Store) SaveShift(ctx context.Context, shift models.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shifts[shift.ID] = shift
	return nil
}

func (s *Store) GetShift(ctx context.Context, id string) (models.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shifts[id]
	if !exists {
		return models.Shift{}, fmt.Errorf("%w: shift %s", models.ErrNotFound, id)
	}
	return shift, nil
}

func (s *Store) UpdateShift(ctx context.Context, shift models.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.shifts[shift.ID]; !exists {
		return fmt.Errorf("%w: shift %s", models.ErrNotFound, shift.ID)
	}
	s.shifts[shift.ID] = shift
	return nil
}

func (s *Store) SaveSale(ctx context.Context, sale models.ShiftSale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sales[sale.ShiftID] = append(s.sales[sale.ShiftID], sale)
	return nil
}

func (s *Store) SalesByShift(ctx context.Context, shiftID string) ([]models.ShiftSale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]models.ShiftSale, len(s.sales[shiftID]))
	copy(copied, s.sales[shiftID])
	return copied, nil
}

func (s *Store) SaveDeposit(ctx context.Context, deposit models.CashDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deposits[deposit.ID] = deposit
	return nil
}

func (s *Store) GetDeposit(ctx context.Context, id string) (models.CashDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deposit, exists := s.deposits[id]
	if !exists {
		return models.CashDeposit{}, fmt.Errorf("%w: deposit %s", models.ErrNotFound, id)
	}
	return deposit, nil
}

func (s *Store) UpdateDeposit(ctx context.Context, deposit models.CashDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.deposits[deposit.ID]; !exists {
		return fmt.Errorf("%w: deposit %s", models.ErrNotFound, deposit.ID)
	}
	s.deposits[deposit.ID] = deposit
	return nil
}

func (s *Store) DepositsByShift(ctx context.Context, shiftID string) ([]models.CashDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.CashDeposit
	for _, deposit := range s.deposits {
		if deposit.ShiftID == shiftID {
			result = append(result, deposit)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) SaveReconciliations(ctx context.Context, rows []models.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		s.recons[row.ID] = row
	}
	return nil
}

func (s *Store) GetReconciliation(ctx context.Context, id string) (models.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.recons[id]
	if !exists {
		return models.Reconciliation{}, fmt.Errorf("%w: reconciliation %s", models.ErrNotFound, id)
	}
	return row, nil
}

func (s *Store) UpdateReconciliation(ctx context.Context, row models.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recons[row.ID]; !exists {
		return fmt.Errorf("%w: reconciliation %s", models.ErrNotFound, row.ID)
	}
	s.recons[row.ID] = row
	return nil
}

func (s *Store) ReconciliationsByShift(ctx context.Context, shiftID string) ([]models.Reconciliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.Reconciliation
	for _, row := range s.recons {
		if row.ShiftID == shiftID {
			result = append(result, row)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// copyTransaction returns a transaction with its own entry slice so
// callers cannot reach into stored state.
func copyTransaction(tx models.Transaction) models.Transaction {
	copied := tx
	copied.Entries = make([]models.LedgerEntry, len(tx.Entries))
	copy(copied.Entries, tx.Entries)
	return copied
}

// Compile-time interface checks.
var (
	_ interfaces.LedgerStore = (*Store)(nil)
	_ interfaces.ShiftStore  = (*Store)(nil)
)
