package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quibooks/ledger-core/internal/interfaces"
	"github.com/quibooks/ledger-core/internal/ledger"
	"github.com/quibooks/ledger-core/internal/metrics"
)

// Drift reports one account whose cached balance disagrees with a full
// replay of its entries.
type Drift struct {
	AccountID string          `json:"accountId"`
	Code      string          `json:"code"`
	Cached    decimal.Decimal `json:"cached"`
	Replayed  decimal.Decimal `json:"replayed"`
	Drift     decimal.Decimal `json:"drift"`
}

// Auditor periodically verifies the cache-consistency invariant: every
// account's cached balance must equal the replay of its posted entries.
// Drift means a bug or out-of-band mutation, never normal operation.
type Auditor struct {
	store    interfaces.LedgerStore
	balances *ledger.Balances
	log      *zap.Logger
	cron     *cron.Cron
}

func New(store interfaces.LedgerStore, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{
		store:    store,
		balances: ledger.NewBalances(store),
		log:      log,
		cron:     cron.New(),
	}
}

// Check replays every account and returns those whose cache disagrees.
// Each account's drift gauge is updated, drifted or not, so a recovered
// account reads zero again.
func (a *Auditor) Check(ctx context.Context) ([]Drift, error) {
	accounts, err := a.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var drifts []Drift
	for _, account := range accounts {
		replayed, err := a.balances.Recompute(ctx, account.ID)
		if err != nil {
			return nil, err
		}

		diff := account.CachedBalance.Sub(replayed)
		metrics.SetBalanceDrift(account.Code, diff.InexactFloat64())
		if diff.IsZero() {
			continue
		}

		drifts = append(drifts, Drift{
			AccountID: account.ID,
			Code:      account.Code,
			Cached:    account.CachedBalance,
			Replayed:  replayed,
			Drift:     diff,
		})
		a.log.Warn("cached balance drifted from entry replay",
			zap.String("account_id", account.ID),
			zap.String("code", account.Code),
			zap.String("cached", account.CachedBalance.String()),
			zap.String("replayed", replayed.String()))
	}
	return drifts, nil
}

// Rebuild overwrites every drifted cache with its replayed value and
// returns the drifts that were repaired.
func (a *Auditor) Rebuild(ctx context.Context) ([]Drift, error) {
	drifts, err := a.Check(ctx)
	if err != nil {
		return nil, err
	}

	for _, drift := range drifts {
		if err := a.store.SetCachedBalance(ctx, drift.AccountID, drift.Replayed); err != nil {
			return nil, err
		}
		metrics.SetBalanceDrift(drift.Code, 0)
		a.log.Info("rebuilt cached balance",
			zap.String("account_id", drift.AccountID),
			zap.String("code", drift.Code),
			zap.String("balance", drift.Replayed.String()))
	}
	return drifts, nil
}

// Start schedules periodic checks using a cron expression, e.g.
// "@every 10m".
func (a *Auditor) Start(schedule string) error {
	_, err := a.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := a.Check(ctx); err != nil {
			a.log.Error("scheduled balance audit failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	a.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running check to finish.
func (a *Auditor) Stop() {
	<-a.cron.Stop().Done()
}
