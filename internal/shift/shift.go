package shift

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quibooks/ledger-core/internal/interfaces"
	"github.com/quibooks/ledger-core/internal/ledger"
	"github.com/quibooks/ledger-core/internal/metrics"
	"github.com/quibooks/ledger-core/internal/models"
	"github.com/quibooks/ledger-core/internal/models/events"
)

// Config wires the state machine to the chart of accounts and sets the
// variance policy.
type Config struct {
	// TillAccountID is the drawer cash account. Cash reconciliations
	// debit it; cash deposits transfer out of it.
	TillAccountID string

	// ClearingAccountID takes the credit side of every reconciliation
	// posting (a sales/clearing account).
	ClearingAccountID string

	// DepositAccountID is the default destination for cash drops whose
	// deposit row does not name an account (typically the bank).
	DepositAccountID string

	// MethodAccounts maps a payment method code to its destination
	// account when a payment does not carry one.
	MethodAccounts map[string]string

	// CashMethodCode identifies drawer cash among the payment methods.
	CashMethodCode string

	// VarianceTolerance and BlockOnVariance set the reconciliation
	// variance policy: differences are always surfaced; beyond the
	// tolerance they additionally block reconciliation when
	// BlockOnVariance is set.
	VarianceTolerance decimal.Decimal
	BlockOnVariance   bool
}

// Service is the shift reconciliation state machine: OPEN -> CLOSED ->
// RECONCILED, strictly forward. It is the ledger's primary concurrent
// producer — all of its postings go through the posting engine with
// deterministic idempotency keys, so a crashed or retried
// reconciliation can never double-post.
type Service struct {
	store     interfaces.ShiftStore
	engine    *ledger.Engine
	publisher interfaces.EventPublisher // optional
	cfg       Config
	log       *zap.Logger

	muMap map[string]*sync.Mutex // one mutex per shift id
	mapMu sync.Mutex
}

// NewService creates the shift service. publisher may be nil.
func NewService(store interfaces.ShiftStore, engine *ledger.Engine, publisher interfaces.EventPublisher, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CashMethodCode == "" {
		cfg.CashMethodCode = "CASH"
	}
	return &Service{
		store:     store,
		engine:    engine,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		muMap:     make(map[string]*sync.Mutex),
	}
}

func (s *Service) shiftLock(shiftID string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, exists := s.muMap[shiftID]; !exists {
		s.muMap[shiftID] = &sync.Mutex{}
	}
	return s.muMap[shiftID]
}

// Open starts a new OPEN shift with the declared drawer float.
func (s *Service) Open(ctx context.Context, cashierID string, startCash decimal.Decimal) (models.Shift, error) {
	if startCash.IsNegative() {
		return models.Shift{}, fmt.Errorf("start cash must not be negative")
	}

	shift := models.Shift{
		ID:        uuid.New().String(),
		CashierID: cashierID,
		Status:    models.ShiftOpen,
		StartCash: startCash,
		OpenedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveShift(ctx, shift); err != nil {
		return models.Shift{}, err
	}

	s.log.Info("shift opened",
		zap.String("shift_id", shift.ID),
		zap.String("cashier_id", cashierID),
		zap.String("start_cash", startCash.String()))

	return shift, nil
}

// Get returns one shift.
func (s *Service) Get(ctx context.Context, shiftID string) (models.Shift, error) {
	return s.store.GetShift(ctx, shiftID)
}

// RecordSale records a sale against an open shift. Each payment leg
// increments the expected total of its method; nothing reaches the
// ledger until reconciliation.
func (s *Service) RecordSale(ctx context.Context, shiftID, reference string, payments []models.Payment) (models.ShiftSale, error) {
	mu := s.shiftLock(shiftID)
	mu.Lock()
	defer mu.Unlock()

	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return models.ShiftSale{}, err
	}
	if shift.Status != models.ShiftOpen {
		return models.ShiftSale{}, fmt.Errorf("%w: cannot record sale on %s shift", models.ErrInvalidTransition, shift.Status)
	}
	if len(payments) == 0 {
		return models.ShiftSale{}, fmt.Errorf("sale requires at least one payment")
	}
	for i, payment := range payments {
		if !payment.Amount.IsPositive() {
			return models.ShiftSale{}, fmt.Errorf("payment %d amount must be greater than zero", i)
		}
		if payment.MethodCode == "" {
			return models.ShiftSale{}, fmt.Errorf("payment %d method code is required", i)
		}
	}

	sale := models.ShiftSale{
		ID:        ulid.Make().String(),
		ShiftID:   shiftID,
		Reference: reference,
		Payments:  payments,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveSale(ctx, sale); err != nil {
		return models.ShiftSale{}, err
	}
	return sale, nil
}

// LogDeposit records a cash drop against an open shift. The drop counts
// against the expected drawer cash immediately, regardless of
// confirmation state.
func (s *Service) LogDeposit(ctx context.Context, shiftID string, amount decimal.Decimal, accountID string) (models.CashDeposit, error) {
	mu := s.shiftLock(shiftID)
	mu.Lock()
	defer mu.Unlock()

	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return models.CashDeposit{}, err
	}
	if shift.Status != models.ShiftOpen {
		return models.CashDeposit{}, fmt.Errorf("%w: cannot log deposit on %s shift", models.ErrInvalidTransition, shift.Status)
	}
	if !amount.IsPositive() {
		return models.CashDeposit{}, fmt.Errorf("deposit amount must be greater than zero")
	}

	deposit := models.CashDeposit{
		ID:        uuid.New().String(),
		ShiftID:   shiftID,
		Amount:    amount,
		AccountID: accountID,
		Status:    models.DepositPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveDeposit(ctx, deposit); err != nil {
		return models.CashDeposit{}, err
	}
	return deposit, nil
}

// ConfirmDeposit posts the drop to the ledger (till -> destination) and
// marks it CONFIRMED. Confirmation is independent of shift status and
// idempotent: confirming twice is a no-op, not an error.
func (s *Service) ConfirmDeposit(ctx context.Context, depositID string) (models.CashDeposit, error) {
	deposit, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return models.CashDeposit{}, err
	}
	if deposit.Status == models.DepositConfirmed {
		return deposit, nil
	}
	return s.postDeposit(ctx, deposit)
}

func (s *Service) postDeposit(ctx context.Context, deposit models.CashDeposit) (models.CashDeposit, error) {
	destination := deposit.AccountID
	if destination == "" {
		destination = s.cfg.DepositAccountID
	}

	draft := models.TransactionDraft{
		Description:    "cash deposit from shift " + deposit.ShiftID,
		Reference:      deposit.ShiftID,
		IdempotencyKey: "deposit:" + deposit.ID,
		Entries: []models.DraftEntry{
			{AccountID: destination, Direction: models.DirectionDebit, Amount: deposit.Amount},
			{AccountID: s.cfg.TillAccountID, Direction: models.DirectionCredit, Amount: deposit.Amount},
		},
	}
	if _, err := s.engine.Post(ctx, draft); err != nil && !errors.Is(err, models.ErrAlreadyPosted) {
		return models.CashDeposit{}, err
	}

	now := time.Now().UTC()
	deposit.Status = models.DepositConfirmed
	deposit.ConfirmedAt = &now
	if err := s.store.UpdateDeposit(ctx, deposit); err != nil {
		return models.CashDeposit{}, err
	}
	return deposit, nil
}

// Summary is the live view of an open (or closed) shift: expected
// amounts per payment method and the expected cash left in the drawer.
type Summary struct {
	ShiftID          string                     `json:"shiftId"`
	Status           models.ShiftStatus         `json:"status"`
	StartCash        decimal.Decimal            `json:"startCash"`
	ExpectedByMethod map[string]decimal.Decimal `json:"expectedByMethod"`
	CashSales        decimal.Decimal            `json:"cashSales"`
	Deposits         decimal.Decimal            `json:"deposits"`
	// ExpectedInDrawer = startCash + cash sales - deposits. Deposits
	// count whether pending or confirmed: the cash has left the drawer
	// either way.
	ExpectedInDrawer decimal.Decimal `json:"expectedInDrawer"`
}

// Summary computes the expected totals for a shift.
func (s *Service) Summary(ctx context.Context, shiftID string) (Summary, error) {
	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return Summary{}, err
	}

	expected, err := s.expectedByMethod(ctx, shiftID)
	if err != nil {
		return Summary{}, err
	}

	deposits, err := s.depositTotal(ctx, shiftID)
	if err != nil {
		return Summary{}, err
	}

	cashSales := expected[s.cfg.CashMethodCode]
	return Summary{
		ShiftID:          shift.ID,
		Status:           shift.Status,
		StartCash:        shift.StartCash,
		ExpectedByMethod: expected,
		CashSales:        cashSales,
		Deposits:         deposits,
		ExpectedInDrawer: shift.StartCash.Add(cashSales).Sub(deposits),
	}, nil
}

func (s *Service) expectedByMethod(ctx context.Context, shiftID string) (map[string]decimal.Decimal, error) {
	sales, err := s.store.SalesByShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]decimal.Decimal)
	for _, sale := range sales {
		for _, payment := range sale.Payments {
			expected[payment.MethodCode] = expected[payment.MethodCode].Add(payment.Amount)
		}
	}
	return expected, nil
}

func (s *Service) depositTotal(ctx context.Context, shiftID string) (decimal.Decimal, error) {
	deposits, err := s.store.DepositsByShift(ctx, shiftID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, deposit := range deposits {
		total = total.Add(deposit.Amount)
	}
	return total, nil
}

// Close transitions OPEN -> CLOSED and creates one reconciliation row
// per payment method with a non-zero expected or actual amount. For the
// cash method the expectation is the drawer expectation (start cash
// plus cash sales minus drops); for every other method it is the
// method's sales total.
func (s *Service) Close(ctx context.Context, shiftID string, actuals map[string]decimal.Decimal) ([]models.Reconciliation, error) {
	mu := s.shiftLock(shiftID)
	mu.Lock()
	defer mu.Unlock()

	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if shift.Status != models.ShiftOpen {
		return nil, fmt.Errorf("%w: cannot close %s shift", models.ErrInvalidTransition, shift.Status)
	}

	summary, err := s.Summary(ctx, shiftID)
	if err != nil {
		return nil, err
	}

	expected := make(map[string]decimal.Decimal, len(summary.ExpectedByMethod))
	for method, amount := range summary.ExpectedByMethod {
		expected[method] = amount
	}
	// The cashier counts what is in the drawer, so cash reconciles
	// against the drawer expectation, not raw cash sales.
	expected[s.cfg.CashMethodCode] = summary.ExpectedInDrawer

	methods := make(map[string]struct{}, len(expected)+len(actuals))
	for method := range expected {
		methods[method] = struct{}{}
	}
	for method := range actuals {
		methods[method] = struct{}{}
	}

	ordered := make([]string, 0, len(methods))
	for method := range methods {
		ordered = append(ordered, method)
	}
	sort.Strings(ordered)

	now := time.Now().UTC()
	rows := make([]models.Reconciliation, 0, len(ordered))
	for _, method := range ordered {
		exp := expected[method]
		act := actuals[method]
		if exp.IsZero() && act.IsZero() {
			continue
		}
		rows = append(rows, models.Reconciliation{
			ID:         ulid.Make().String(),
			ShiftID:    shiftID,
			MethodCode: method,
			AccountID:  s.destinationAccount(method),
			Expected:   exp,
			Actual:     act,
			Difference: act.Sub(exp),
			Status:     models.ReconciliationPending,
			CreatedAt:  now,
		})
	}

	if err := s.store.SaveReconciliations(ctx, rows); err != nil {
		return nil, err
	}

	shift.Status = models.ShiftClosed
	shift.ClosedAt = &now
	if err := s.store.UpdateShift(ctx, shift); err != nil {
		return nil, err
	}

	s.log.Info("shift closed",
		zap.String("shift_id", shiftID),
		zap.Int("reconciliations", len(rows)))

	return rows, nil
}

// ConfirmReconciliation marks one row CONFIRMED. Idempotent: a second
// confirmation is a no-op. A non-zero difference never blocks
// confirmation; it is surfaced on the row.
func (s *Service) ConfirmReconciliation(ctx context.Context, reconciliationID string) (models.Reconciliation, error) {
	row, err := s.store.GetReconciliation(ctx, reconciliationID)
	if err != nil {
		return models.Reconciliation{}, err
	}
	if row.Status == models.ReconciliationConfirmed {
		return row, nil
	}

	now := time.Now().UTC()
	row.Status = models.ReconciliationConfirmed
	row.ConfirmedAt = &now
	if err := s.store.UpdateReconciliation(ctx, row); err != nil {
		return models.Reconciliation{}, err
	}
	return row, nil
}

// Reconcile transitions CLOSED -> RECONCILED. This is the sole point
// where shift activity becomes ledger-permanent: one transaction per
// reconciliation row (debiting the destination account, crediting the
// clearing account, for the counted actual amount), plus one transfer
// per still-pending cash drop. Every posting carries a deterministic
// idempotency key, so a retry after a crash resumes instead of
// double-posting. Reconciling an already-RECONCILED shift returns the
// prior postings together with models.ErrAlreadyReconciled.
func (s *Service) Reconcile(ctx context.Context, shiftID string) ([]models.Transaction, error) {
	mu := s.shiftLock(shiftID)
	mu.Lock()
	defer mu.Unlock()

	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}

	switch shift.Status {
	case models.ShiftReconciled:
		prior, priorErr := s.priorPostings(ctx, shiftID)
		if priorErr != nil {
			return nil, priorErr
		}
		return prior, fmt.Errorf("%w: shift %s", models.ErrAlreadyReconciled, shiftID)
	case models.ShiftOpen:
		return nil, fmt.Errorf("%w: shift %s must be closed before reconciling", models.ErrInvalidTransition, shiftID)
	}

	rows, err := s.store.ReconciliationsByShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}

	if s.cfg.BlockOnVariance {
		for _, row := range rows {
			if row.Difference.Abs().GreaterThan(s.cfg.VarianceTolerance) {
				return nil, fmt.Errorf("%w: variance %s on method %s exceeds tolerance %s",
					models.ErrInvalidTransition, row.Difference, row.MethodCode, s.cfg.VarianceTolerance)
			}
		}
	}

	totalActual, totalVariance := decimal.Zero, decimal.Zero
	var posted []models.Transaction
	for _, row := range rows {
		totalActual = totalActual.Add(row.Actual)
		totalVariance = totalVariance.Add(row.Difference)

		if !row.Difference.IsZero() {
			s.log.Warn("reconciliation variance",
				zap.String("shift_id", shiftID),
				zap.String("method", row.MethodCode),
				zap.String("difference", row.Difference.String()))
		}

		// Nothing to post for a method counted at zero; the row still
		// documents the missing expectation.
		if !row.Actual.IsPositive() {
			continue
		}

		tx, err := s.postReconciliation(ctx, shift, row)
		if err != nil {
			return nil, err
		}
		posted = append(posted, tx)

		if row.Status != models.ReconciliationConfirmed {
			if _, err := s.ConfirmReconciliation(ctx, row.ID); err != nil {
				return nil, err
			}
		}
	}

	// Sweep up drops the cashier never explicitly confirmed.
	deposits, err := s.store.DepositsByShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	for _, deposit := range deposits {
		if deposit.Status != models.DepositPending {
			continue
		}
		if _, err := s.postDeposit(ctx, deposit); err != nil {
			return nil, err
		}
	}

	shift.Status = models.ShiftReconciled
	if err := s.store.UpdateShift(ctx, shift); err != nil {
		return nil, err
	}

	metrics.IncReconciliation()
	s.log.Info("shift reconciled",
		zap.String("shift_id", shiftID),
		zap.Int("postings", len(posted)),
		zap.String("total_actual", totalActual.String()),
		zap.String("total_variance", totalVariance.String()))

	if s.publisher != nil {
		txIDs := make([]string, 0, len(posted))
		for _, tx := range posted {
			txIDs = append(txIDs, tx.ID)
		}
		evt := events.ShiftReconciled{
			ShiftID:        shiftID,
			CashierID:      shift.CashierID,
			TransactionIDs: txIDs,
			TotalActual:    totalActual,
			TotalVariance:  totalVariance,
			OccurredAt:     time.Now().UTC(),
		}
		if err := s.publisher.Publish(ctx, events.TopicShiftReconciled, evt); err != nil {
			s.log.Warn("publish shift_reconciled failed", zap.String("shift_id", shiftID), zap.Error(err))
		}
	}

	return posted, nil
}

// postReconciliation posts one reconciliation row for its counted
// actual amount. The actual is ground truth: shortages and overages
// flow into the books through the amount, never absorbed.
func (s *Service) postReconciliation(ctx context.Context, shift models.Shift, row models.Reconciliation) (models.Transaction, error) {
	destination := row.AccountID
	if destination == "" {
		destination = s.destinationAccount(row.MethodCode)
	}

	draft := models.TransactionDraft{
		Description:    fmt.Sprintf("shift %s reconciliation, %s", shift.ID, row.MethodCode),
		Reference:      shift.ID,
		IdempotencyKey: "recon:" + row.ID,
		Entries: []models.DraftEntry{
			{AccountID: destination, Direction: models.DirectionDebit, Amount: row.Actual},
			{AccountID: s.cfg.ClearingAccountID, Direction: models.DirectionCredit, Amount: row.Actual},
		},
	}

	tx, err := s.engine.Post(ctx, draft)
	if err != nil && !errors.Is(err, models.ErrAlreadyPosted) {
		return models.Transaction{}, err
	}
	return tx, nil
}

// priorPostings collects the transactions a finished reconciliation
// produced, for the retrying caller.
func (s *Service) priorPostings(ctx context.Context, shiftID string) ([]models.Transaction, error) {
	rows, err := s.store.ReconciliationsByShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}

	var prior []models.Transaction
	for _, row := range rows {
		tx, err := s.engine.TransactionByKey(ctx, "recon:"+row.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		prior = append(prior, tx)
	}
	return prior, nil
}

// destinationAccount resolves a payment method to its default
// destination account: drawer cash stays in the till, other methods use
// the configured mapping.
func (s *Service) destinationAccount(method string) string {
	if method == s.cfg.CashMethodCode {
		return s.cfg.TillAccountID
	}
	if id, ok := s.cfg.MethodAccounts[method]; ok {
		return id
	}
	return s.cfg.DepositAccountID
}
