package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/quibooks/ledger-core/internal/interfaces"
	"github.com/quibooks/ledger-core/internal/models"
)

// uniqueViolation is the postgres error code for a unique constraint.
const uniqueViolation = "23505"

// Store is the durable postgres implementation of both store
// interfaces. SavePosting runs inside one database transaction with the
// affected account rows locked FOR UPDATE in sorted order, which gives
// the posting engine its atomicity and deadlock-free serialization.
type Store struct {
	db *sql.DB
}

// New opens a postgres-backed store and verifies connectivity.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- LedgerStore ---

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (id, code, name, type, currency, cached_balance, provider, external_ref, retired, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Code, account.Name, string(account.Type), account.Currency,
		account.CachedBalance, account.Provider, account.ExternalRef, account.Retired,
		account.CreatedAt, account.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", models.ErrDuplicateCode, account.Code)
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, code, name, type, currency, cached_balance, provider, external_ref, retired, created_at, updated_at
		FROM accounts WHERE id = $1`, id), "account "+id)
}

func (s *Store) GetAccountByCode(ctx context.Context, code string) (models.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx,
		`SELECT id, code, name, type, currency, cached_balance, provider, external_ref, retired, created_at, updated_at
		FROM accounts WHERE code = $1`, code), "account code "+code)
}

func (s *Store) scanAccount(row *sql.Row, what string) (models.Account, error) {
	var account models.Account
	var typ string
	err := row.Scan(&account.ID, &account.Code, &account.Name, &typ, &account.Currency,
		&account.CachedBalance, &account.Provider, &account.ExternalRef, &account.Retired,
		&account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("%w: %s", models.ErrNotFound, what)
	}
	if err != nil {
		return models.Account{}, err
	}
	account.Type = models.AccountType(typ)
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, type, currency, cached_balance, provider, external_ref, retired, created_at, updated_at
		FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		var typ string
		if err := rows.Scan(&account.ID, &account.Code, &account.Name, &typ, &account.Currency,
			&account.CachedBalance, &account.Provider, &account.ExternalRef, &account.Retired,
			&account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, err
		}
		account.Type = models.AccountType(typ)
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *Store) RetireAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET retired = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: account %s", models.ErrNotFound, id)
	}
	return nil
}

func (s *Store) TransactionByKey(ctx context.Context, key string) (models.Transaction, error) {
	return s.loadTransaction(ctx,
		`SELECT id, date, description, reference, COALESCE(idempotency_key, ''), status, COALESCE(reversal_of, ''), created_at
		FROM transactions WHERE idempotency_key = $1`, key, "idempotency key "+key)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return s.loadTransaction(ctx,
		`SELECT id, date, description, reference, COALESCE(idempotency_key, ''), status, COALESCE(reversal_of, ''), created_at
		FROM transactions WHERE id = $1`, id, "transaction "+id)
}

func (s *Store) loadTransaction(ctx context.Context, query, arg, what string) (models.Transaction, error) {
	var tx models.Transaction
	var status string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&tx.ID, &tx.Date, &tx.Description, &tx.Reference, &tx.IdempotencyKey, &status, &tx.ReversalOf, &tx.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("%w: %s", models.ErrNotFound, what)
	}
	if err != nil {
		return models.Transaction{}, err
	}
	tx.Status = models.TransactionStatus(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transaction_id, account_id, direction, amount, created_at
		FROM ledger_entries WHERE transaction_id = $1 ORDER BY id`, tx.ID)
	if err != nil {
		return models.Transaction{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.LedgerEntry
		var direction string
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.AccountID, &direction, &entry.Amount, &entry.CreatedAt); err != nil {
			return models.Transaction{}, err
		}
		entry.Direction = models.EntryDirection(direction)
		tx.Entries = append(tx.Entries, entry)
	}
	return tx, rows.Err()
}

func (s *Store) SavePosting(ctx context.Context, tx models.Transaction, deltas []models.BalanceDelta, voidOf string) error {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	// Lock the affected account rows in deterministic (sorted) order so
	// two postings over the same accounts cannot deadlock. Deltas arrive
	// sorted by account id from the engine.
	ids := make([]string, 0, len(deltas))
	for _, delta := range deltas {
		ids = append(ids, delta.AccountID)
	}
	lockRows, err := dbTx.QueryContext(ctx,
		`SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, pq.Array(ids))
	if err != nil {
		return err
	}
	locked := 0
	for lockRows.Next() {
		locked++
	}
	if err = lockRows.Err(); err != nil {
		lockRows.Close()
		return err
	}
	lockRows.Close()
	if locked != len(ids) {
		err = fmt.Errorf("%w: posting references a missing account", models.ErrUnknownAccount)
		return err
	}

	var key any
	if tx.IdempotencyKey != "" {
		key = tx.IdempotencyKey
	}
	var reversalOf any
	if tx.ReversalOf != "" {
		reversalOf = tx.ReversalOf
	}
	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO transactions (id, date, description, reference, idempotency_key, status, reversal_of, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tx.ID, tx.Date, tx.Description, tx.Reference, key, string(tx.Status), reversalOf, tx.CreatedAt)
	if isUniqueViolation(err) {
		err = fmt.Errorf("%w: idempotency key %s", models.ErrAlreadyPosted, tx.IdempotencyKey)
		return err
	}
	if err != nil {
		return err
	}

	for _, entry := range tx.Entries {
		if _, err = dbTx.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, transaction_id, account_id, direction, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.ID, entry.TransactionID, entry.AccountID, string(entry.Direction), entry.Amount, entry.CreatedAt); err != nil {
			return err
		}
	}

	for _, delta := range deltas {
		if _, err = dbTx.ExecContext(ctx,
			`UPDATE accounts SET cached_balance = cached_balance + $1, updated_at = now() WHERE id = $2`,
			delta.Delta, delta.AccountID); err != nil {
			return err
		}
	}

	if voidOf != "" {
		if _, err = dbTx.ExecContext(ctx,
			`UPDATE transactions SET status = $1 WHERE id = $2`, string(models.StatusVoid), voidOf); err != nil {
			return err
		}
	}

	err = dbTx.Commit()
	return err
}

func (s *Store) EntriesByAccount(ctx context.Context, accountID string, until *time.Time) ([]models.LedgerEntry, error) {
	query := `SELECT e.id, e.transaction_id, e.account_id, e.direction, e.amount, e.created_at
		FROM ledger_entries e
		JOIN transactions t ON t.id = e.transaction_id
		WHERE e.account_id = $1`
	args := []any{accountID}
	if until != nil {
		query += ` AND t.date <= $2`
		args = append(args, *until)
	}
	query += ` ORDER BY e.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		var direction string
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.AccountID, &direction, &entry.Amount, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Direction = models.EntryDirection(direction)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) PeriodActivity(ctx context.Context, accountIDs []string, from, to time.Time) (map[string]models.Activity, error) {
	const query = `SELECT e.account_id,
		COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'DEBIT'), 0),
		COALESCE(SUM(e.amount) FILTER (WHERE e.direction = 'CREDIT'), 0)
		FROM ledger_entries e
		JOIN transactions t ON t.id = e.transaction_id
		WHERE e.account_id = ANY($1) AND t.date >= $2 AND t.date <= $3
		GROUP BY e.account_id`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(accountIDs), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activity := make(map[string]models.Activity, len(accountIDs))
	for rows.Next() {
		var accountID string
		var act models.Activity
		if err := rows.Scan(&accountID, &act.Debits, &act.Credits); err != nil {
			return nil, err
		}
		activity[accountID] = act
	}
	return activity, rows.Err()
}

func (s *Store) LedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, transaction_id, account_id, direction, amount, created_at FROM ledger_entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		var direction string
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.AccountID, &direction, &entry.Amount, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Direction = models.EntryDirection(direction)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) SetCachedBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET cached_balance = $1, updated_at = now() WHERE id = $2`, balance, accountID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: account %s", models.ErrNotFound, accountID)
	}
	return nil
}

// --- ShiftStore ---

func (s *Store) SaveShift(ctx context.Context, shift models.Shift) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shifts (id, cashier_id, status, start_cash, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		shift.ID, shift.CashierID, string(shift.Status), shift.StartCash, shift.OpenedAt, shift.ClosedAt)
	return err
}

func (s *Store) GetShift(ctx context.Context, id string) (models.Shift, error) {
	var shift models.Shift
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, cashier_id, status, start_cash, opened_at, closed_at FROM shifts WHERE id = $1`, id).
		Scan(&shift.ID, &shift.CashierID, &status, &shift.StartCash, &shift.OpenedAt, &shift.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Shift{}, fmt.Errorf("%w: shift %s", models.ErrNotFound, id)
	}
	if err != nil {
		return models.Shift{}, err
	}
	shift.Status = models.ShiftStatus(status)
	return shift, nil
}

func (s *Store) UpdateShift(ctx context.Context, shift models.Shift) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE shifts SET status = $1, closed_at = $2 WHERE id = $3`,
		string(shift.Status), shift.ClosedAt, shift.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: shift %s", models.ErrNotFound, shift.ID)
	}
	return nil
}

func (s *Store) SaveSale(ctx context.Context, sale models.ShiftSale) error {
	payments, err := json.Marshal(sale.Payments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO shift_sales (id, shift_id, reference, payments, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sale.ID, sale.ShiftID, sale.Reference, payments, sale.CreatedAt)
	return err
}

func (s *Store) SalesByShift(ctx context.Context, shiftID string) ([]models.ShiftSale, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, shift_id, reference, payments, created_at FROM shift_sales WHERE shift_id = $1 ORDER BY id`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []models.ShiftSale
	for rows.Next() {
		var sale models.ShiftSale
		var payments []byte
		if err := rows.Scan(&sale.ID, &sale.ShiftID, &sale.Reference, &payments, &sale.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payments, &sale.Payments); err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (s *Store) SaveDeposit(ctx context.Context, deposit models.CashDeposit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cash_deposits (id, shift_id, amount, account_id, status, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		deposit.ID, deposit.ShiftID, deposit.Amount, deposit.AccountID, string(deposit.Status),
		deposit.CreatedAt, deposit.ConfirmedAt)
	return err
}

func (s *Store) GetDeposit(ctx context.Context, id string) (models.CashDeposit, error) {
	var deposit models.CashDeposit
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, shift_id, amount, COALESCE(account_id, ''), status, created_at, confirmed_at
		FROM cash_deposits WHERE id = $1`, id).
		Scan(&deposit.ID, &deposit.ShiftID, &deposit.Amount, &deposit.AccountID, &status,
			&deposit.CreatedAt, &deposit.ConfirmedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CashDeposit{}, fmt.Errorf("%w: deposit %s", models.ErrNotFound, id)
	}
	if err != nil {
		return models.CashDeposit{}, err
	}
	deposit.Status = models.DepositStatus(status)
	return deposit, nil
}

func (s *Store) UpdateDeposit(ctx context.Context, deposit models.CashDeposit) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE cash_deposits SET status = $1, confirmed_at = $2 WHERE id = $3`,
		string(deposit.Status), deposit.ConfirmedAt, deposit.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: deposit %s", models.ErrNotFound, deposit.ID)
	}
	return nil
}

func (s *Store) DepositsByShift(ctx context.Context, shiftID string) ([]models.CashDeposit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, shift_id, amount, COALESCE(account_id, ''), status, created_at, confirmed_at
		FROM cash_deposits WHERE shift_id = $1 ORDER BY created_at`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []models.CashDeposit
	for rows.Next() {
		var deposit models.CashDeposit
		var status string
		if err := rows.Scan(&deposit.ID, &deposit.ShiftID, &deposit.Amount, &deposit.AccountID, &status,
			&deposit.CreatedAt, &deposit.ConfirmedAt); err != nil {
			return nil, err
		}
		deposit.Status = models.DepositStatus(status)
		deposits = append(deposits, deposit)
	}
	return deposits, rows.Err()
}

func (s *Store) SaveReconciliations(ctx context.Context, rowsIn []models.Reconciliation) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	for _, row := range rowsIn {
		if _, err = dbTx.ExecContext(ctx,
			`INSERT INTO reconciliations (id, shift_id, method_code, account_id, expected, actual, difference, status, created_at, confirmed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			row.ID, row.ShiftID, row.MethodCode, row.AccountID, row.Expected, row.Actual,
			row.Difference, string(row.Status), row.CreatedAt, row.ConfirmedAt); err != nil {
			return err
		}
	}
	err = dbTx.Commit()
	return err
}

func (s *Store) GetReconciliation(ctx context.Context, id string) (models.Reconciliation, error) {
	var row models.Reconciliation
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, shift_id, method_code, COALESCE(account_id, ''), expected, actual, difference, status, created_at, confirmed_at
		FROM reconciliations WHERE id = $1`, id).
		Scan(&row.ID, &row.ShiftID, &row.MethodCode, &row.AccountID, &row.Expected, &row.Actual,
			&row.Difference, &status, &row.CreatedAt, &row.ConfirmedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reconciliation{}, fmt.Errorf("%w: reconciliation %s", models.ErrNotFound, id)
	}
	if err != nil {
		return models.Reconciliation{}, err
	}
	row.Status = models.ReconciliationStatus(status)
	return row, nil
}

func (s *Store) UpdateReconciliation(ctx context.Context, row models.Reconciliation) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE reconciliations SET status = $1, confirmed_at = $2 WHERE id = $3`,
		string(row.Status), row.ConfirmedAt, row.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: reconciliation %s", models.ErrNotFound, row.ID)
	}
	return nil
}

func (s *Store) ReconciliationsByShift(ctx context.Context, shiftID string) ([]models.Reconciliation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, shift_id, method_code, COALESCE(account_id, ''), expected, actual, difference, status, created_at, confirmed_at
		FROM reconciliations WHERE shift_id = $1 ORDER BY id`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Reconciliation
	for rows.Next() {
		var row models.Reconciliation
		var status string
		if err := rows.Scan(&row.ID, &row.ShiftID, &row.MethodCode, &row.AccountID, &row.Expected, &row.Actual,
			&row.Difference, &status, &row.CreatedAt, &row.ConfirmedAt); err != nil {
			return nil, err
		}
		row.Status = models.ReconciliationStatus(status)
		result = append(result, row)
	}
	return result, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Compile-time interface checks.
var (
	_ interfaces.LedgerStore = (*Store)(nil)
	_ interfaces.ShiftStore  = (*Store)(nil)
)
