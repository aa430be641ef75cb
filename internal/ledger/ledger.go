package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quibooks/ledger-core/internal/interfaces"
	"github.com/quibooks/ledger-core/internal/metrics"
	"github.com/quibooks/ledger-core/internal/models"
	"github.com/quibooks/ledger-core/internal/models/events"
)

// Engine is the double-entry posting engine. It is the only writer of
// ledger state: every producer (disbursement, payroll, manual journals,
// shift reconciliation) funnels its balanced entry sets through Post.
//
// Writes touching the same account are serialized with a per-account
// mutex held for the duration of the posting. Locks are always acquired
// in sorted account order so two postings touching the same accounts in
// opposite order cannot deadlock.
type Engine struct {
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher // optional
	log       *zap.Logger

	muMap map[string]*sync.Mutex // one mutex per account id
	mapMu sync.Mutex             // protects muMap itself
}

// NewEngine creates a posting engine over the given store. publisher
// may be nil when no event bus is configured.
func NewEngine(store interfaces.LedgerStore, publisher interfaces.EventPublisher, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     store,
		publisher: publisher,
		log:       log,
		muMap:     make(map[string]*sync.Mutex),
	}
}

// accountLock returns the mutex guarding one account, creating it on
// first use.
func (e *Engine) accountLock(accountID string) *sync.Mutex {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()

	if _, exists := e.muMap[accountID]; !exists {
		e.muMap[accountID] = &sync.Mutex{}
	}
	return e.muMap[accountID]
}

// lockAccounts acquires every account's mutex in sorted order and
// returns the unlock function. ids must be deduplicated.
func (e *Engine) lockAccounts(ids []string) func() {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	locks := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		mu := e.accountLock(id)
		mu.Lock()
		locks = append(locks, mu)
	}
	return func() {
		for _, mu := range locks {
			mu.Unlock()
		}
	}
}

// Post validates a draft and commits it as a POSTED transaction. All
// checks run before any mutation; on any failure the ledger is left
// untouched. On success every referenced account's cached balance has
// been adjusted on its normal side within the same atomic write.
//
// A draft carrying an idempotency key that already committed returns
// the original transaction together with models.ErrAlreadyPosted.
func (e *Engine) Post(ctx context.Context, draft models.TransactionDraft) (models.Transaction, error) {
	started := time.Now()

	if err := validateDraft(draft); err != nil {
		metrics.ObservePosting("rejected", 0)
		return models.Transaction{}, err
	}

	// Fast-path idempotency check before taking any locks. The store's
	// unique key constraint inside SavePosting closes the race.
	if draft.IdempotencyKey != "" {
		existing, err := e.store.TransactionByKey(ctx, draft.IdempotencyKey)
		if err == nil {
			metrics.ObservePosting("replayed", 0)
			return existing, fmt.Errorf("%w: idempotency key %q", models.ErrAlreadyPosted, draft.IdempotencyKey)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return models.Transaction{}, err
		}
	}

	ids := uniqueAccountIDs(draft.Entries)
	unlock := e.lockAccounts(ids)
	defer unlock()

	accounts, err := e.loadAccounts(ctx, ids)
	if err != nil {
		metrics.ObservePosting("rejected", 0)
		return models.Transaction{}, err
	}

	tx, deltas := buildPosting(draft, accounts)

	if err := e.store.SavePosting(ctx, tx, deltas, ""); err != nil {
		if errors.Is(err, models.ErrAlreadyPosted) {
			// Lost the race to a concurrent retry; surface the winner.
			if existing, lookupErr := e.store.TransactionByKey(ctx, draft.IdempotencyKey); lookupErr == nil {
				metrics.ObservePosting("replayed", 0)
				return existing, fmt.Errorf("%w: idempotency key %q", models.ErrAlreadyPosted, draft.IdempotencyKey)
			}
		}
		metrics.ObservePosting("failed", 0)
		return models.Transaction{}, err
	}

	metrics.ObservePosting("posted", time.Since(started))
	e.log.Info("transaction posted",
		zap.String("transaction_id", tx.ID),
		zap.String("reference", tx.Reference),
		zap.Int("entries", len(tx.Entries)))

	e.publishPosted(ctx, tx)

	return tx, nil
}

// Void reverses a posted transaction by committing a new transaction
// with every entry's direction flipped and marking the original VOID.
// The original is never altered or removed. Voiding twice returns the
// reversal together with models.ErrAlreadyPosted.
func (e *Engine) Void(ctx context.Context, transactionID string) (models.Transaction, error) {
	orig, err := e.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return models.Transaction{}, err
	}

	key := "void:" + orig.ID
	if existing, lookupErr := e.store.TransactionByKey(ctx, key); lookupErr == nil {
		return existing, fmt.Errorf("%w: transaction %s is already voided", models.ErrAlreadyPosted, orig.ID)
	}
	if orig.Status == models.StatusVoid {
		return models.Transaction{}, fmt.Errorf("%w: transaction %s is already voided", models.ErrAlreadyPosted, orig.ID)
	}

	draft := models.TransactionDraft{
		Date:           time.Now().UTC(),
		Description:    "reversal of " + orig.ID,
		Reference:      orig.Reference,
		IdempotencyKey: key,
	}
	for _, entry := range orig.Entries {
		draft.Entries = append(draft.Entries, models.DraftEntry{
			AccountID: entry.AccountID,
			Direction: entry.Direction.Opposite(),
			Amount:    entry.Amount,
		})
	}

	ids := uniqueAccountIDs(draft.Entries)
	unlock := e.lockAccounts(ids)
	defer unlock()

	accounts, err := e.loadAccounts(ctx, ids)
	if err != nil {
		return models.Transaction{}, err
	}

	tx, deltas := buildPosting(draft, accounts)
	tx.ReversalOf = orig.ID

	if err := e.store.SavePosting(ctx, tx, deltas, orig.ID); err != nil {
		if errors.Is(err, models.ErrAlreadyPosted) {
			if existing, lookupErr := e.store.TransactionByKey(ctx, key); lookupErr == nil {
				return existing, fmt.Errorf("%w: transaction %s is already voided", models.ErrAlreadyPosted, orig.ID)
			}
		}
		return models.Transaction{}, err
	}

	e.log.Info("transaction voided",
		zap.String("transaction_id", orig.ID),
		zap.String("reversal_id", tx.ID))

	e.publishPosted(ctx, tx)

	return tx, nil
}

// GetTransaction returns one committed transaction with its entries.
func (e *Engine) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return e.store.GetTransaction(ctx, id)
}

// TransactionByKey returns the committed transaction behind an
// idempotency key, or models.ErrNotFound when the key never committed.
func (e *Engine) TransactionByKey(ctx context.Context, key string) (models.Transaction, error) {
	return e.store.TransactionByKey(ctx, key)
}

// validateDraft runs every check that needs no store access. A draft
// that is not a balanced double entry is rejected as a whole.
func validateDraft(draft models.TransactionDraft) error {
	if len(draft.Entries) < 2 {
		return fmt.Errorf("%w: at least two entries are required", models.ErrUnbalancedTransaction)
	}

	debits, credits := decimal.Zero, decimal.Zero
	for i, entry := range draft.Entries {
		if !entry.Amount.IsPositive() {
			return fmt.Errorf("%w: entry %d amount must be greater than zero", models.ErrUnbalancedTransaction, i)
		}
		switch entry.Direction {
		case models.DirectionDebit:
			debits = debits.Add(entry.Amount)
		case models.DirectionCredit:
			credits = credits.Add(entry.Amount)
		default:
			return fmt.Errorf("%w: entry %d has invalid direction %q", models.ErrUnbalancedTransaction, i, entry.Direction)
		}
	}

	// Exact comparison: a rounding mismatch is rejected, never absorbed.
	if !debits.Equal(credits) {
		return fmt.Errorf("%w: debits %s != credits %s", models.ErrUnbalancedTransaction, debits, credits)
	}
	return nil
}

// loadAccounts resolves every referenced account and refuses missing or
// retired ones.
func (e *Engine) loadAccounts(ctx context.Context, ids []string) (map[string]models.Account, error) {
	accounts := make(map[string]models.Account, len(ids))
	for _, id := range ids {
		account, err := e.store.GetAccount(ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", models.ErrUnknownAccount, id)
			}
			return nil, err
		}
		if account.Retired {
			return nil, fmt.Errorf("%w: account %s is retired", models.ErrUnknownAccount, id)
		}
		accounts[id] = account
	}
	return accounts, nil
}

// buildPosting materializes the draft into a POSTED transaction and the
// signed balance deltas per account: +amount on the account's normal
// side, -amount on the opposite side.
func buildPosting(draft models.TransactionDraft, accounts map[string]models.Account) (models.Transaction, []models.BalanceDelta) {
	now := time.Now().UTC()
	date := draft.Date
	if date.IsZero() {
		date = now
	}

	tx := models.Transaction{
		ID:             ulid.Make().String(),
		Date:           date,
		Description:    draft.Description,
		Reference:      draft.Reference,
		IdempotencyKey: draft.IdempotencyKey,
		Status:         models.StatusPosted,
		CreatedAt:      now,
	}

	deltaByAccount := make(map[string]decimal.Decimal, len(accounts))
	for _, entry := range draft.Entries {
		ledgerEntry := models.LedgerEntry{
			ID:            ulid.Make().String(),
			TransactionID: tx.ID,
			AccountID:     entry.AccountID,
			Direction:     entry.Direction,
			Amount:        entry.Amount,
			CreatedAt:     now,
		}
		tx.Entries = append(tx.Entries, ledgerEntry)

		signed := ledgerEntry.Signed(accounts[entry.AccountID].Type.NormalSide())
		deltaByAccount[entry.AccountID] = deltaByAccount[entry.AccountID].Add(signed)
	}

	// Deterministic delta order so the store can lock rows consistently.
	ids := make([]string, 0, len(deltaByAccount))
	for id := range deltaByAccount {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	deltas := make([]models.BalanceDelta, 0, len(ids))
	for _, id := range ids {
		deltas = append(deltas, models.BalanceDelta{AccountID: id, Delta: deltaByAccount[id]})
	}
	return tx, deltas
}

func uniqueAccountIDs(entries []models.DraftEntry) []string {
	seen := make(map[string]struct{}, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.AccountID]; ok {
			continue
		}
		seen[entry.AccountID] = struct{}{}
		ids = append(ids, entry.AccountID)
	}
	return ids
}

// publishPosted emits the post-commit event. Failures are logged only;
// the posting has already committed.
func (e *Engine) publishPosted(ctx context.Context, tx models.Transaction) {
	if e.publisher == nil {
		return
	}

	total := decimal.Zero
	evt := events.TransactionPosted{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		Description:   tx.Description,
		ReversalOf:    tx.ReversalOf,
		OccurredAt:    tx.CreatedAt,
	}
	for _, entry := range tx.Entries {
		if entry.Direction == models.DirectionDebit {
			total = total.Add(entry.Amount)
		}
		evt.Entries = append(evt.Entries, events.PostedEntry{
			AccountID: entry.AccountID,
			Direction: string(entry.Direction),
			Amount:    entry.Amount,
		})
	}
	evt.Total = total

	if err := e.publisher.Publish(ctx, events.TopicTransactionPosted, evt); err != nil {
		e.log.Warn("publish transaction_posted failed",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}
}
