package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quibooks/ledger-core/internal/accounts"
	"github.com/quibooks/ledger-core/internal/audit"
	"github.com/quibooks/ledger-core/internal/config"
	"github.com/quibooks/ledger-core/internal/events/kafka"
	"github.com/quibooks/ledger-core/internal/interfaces"
	"github.com/quibooks/ledger-core/internal/ledger"
	"github.com/quibooks/ledger-core/internal/metrics"
	"github.com/quibooks/ledger-core/internal/models"
	"github.com/quibooks/ledger-core/internal/shift"
	"github.com/quibooks/ledger-core/internal/storage/memory"
	"github.com/quibooks/ledger-core/internal/storage/postgres"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	// Store selection: postgres when DATABASE_URL is set, in-memory
	// otherwise. Both implement the ledger and shift store interfaces.
	var ledgerStore interfaces.LedgerStore
	var shiftStore interfaces.ShiftStore
	if cfg.DatabaseURL != "" {
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("run migrations", zap.Error(err))
		}
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		defer pg.Close()
		ledgerStore, shiftStore = pg, pg
		logger.Info("using postgres store")
	} else {
		mem := memory.NewStore()
		ledgerStore, shiftStore = mem, mem
		logger.Info("using in-memory store")
	}

	var publisher interfaces.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info("kafka publisher enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	registry := accounts.NewRegistry(ledgerStore, logger)
	if cfg.SeedChart {
		if err := registry.SeedDefaultChart(ctx, "USD"); err != nil {
			logger.Fatal("seed chart of accounts", zap.Error(err))
		}
	}

	engine := ledger.NewEngine(ledgerStore, publisher, logger)
	balances := ledger.NewBalances(ledgerStore)
	statements := ledger.NewStatements(ledgerStore, ledger.DefaultCodeRanges())

	shiftCfg, err := resolveShiftConfig(ctx, registry, cfg)
	if err != nil {
		logger.Fatal("resolve shift accounts", zap.Error(err))
	}
	shifts := shift.NewService(shiftStore, engine, publisher, shiftCfg, logger)

	auditor := audit.New(ledgerStore, logger)
	if err := auditor.Start(cfg.AuditSchedule); err != nil {
		logger.Fatal("start balance auditor", zap.Error(err))
	}
	defer auditor.Stop()

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list, err := registry.List(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, list)
		case http.MethodPost:
			var req struct {
				Code     string             `json:"code"`
				Name     string             `json:"name"`
				Type     models.AccountType `json:"type"`
				Currency string             `json:"currency"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			account, err := registry.Create(r.Context(), req.Code, req.Name, req.Type, req.Currency)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, account)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/accounts/retire", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			http.Error(w, "account_id is a mandatory field", http.StatusBadRequest)
			return
		}
		if err := registry.Retire(r.Context(), accountID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/accounts/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			http.Error(w, "account_id is a mandatory field", http.StatusBadRequest)
			return
		}

		var balance decimal.Decimal
		var err error
		if asOfRaw := r.URL.Query().Get("as_of"); asOfRaw != "" {
			asOf, parseErr := time.Parse(time.RFC3339, asOfRaw)
			if parseErr != nil {
				http.Error(w, "as_of must be RFC3339", http.StatusBadRequest)
				return
			}
			balance, err = balances.BalanceAsOf(r.Context(), accountID, asOf)
		} else {
			balance, err = balances.Balance(r.Context(), accountID)
		}
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			AccountID string          `json:"account_id"`
			Balance   decimal.Decimal `json:"balance"`
		}{accountID, balance})
	})

	mux.HandleFunc("/accounts/activity", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ids := r.URL.Query()["account_id"]
		if len(ids) == 0 {
			http.Error(w, "account_id is a mandatory field", http.StatusBadRequest)
			return
		}
		from, to, err := parseWindow(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		activity, err := balances.PeriodActivity(r.Context(), ids, from, to)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, activity)
	})

	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			id := r.URL.Query().Get("id")
			if id == "" {
				http.Error(w, "id is a mandatory field", http.StatusBadRequest)
				return
			}
			tx, err := engine.GetTransaction(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, tx)
		case http.MethodPost:
			var draft models.TransactionDraft
			if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if key := r.Header.Get("Idempotency-Key"); key != "" {
				draft.IdempotencyKey = key
			}
			tx, err := engine.Post(r.Context(), draft)
			if errors.Is(err, models.ErrAlreadyPosted) {
				// Replay of a committed posting: return the original.
				writeJSON(w, http.StatusOK, tx)
				return
			}
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, tx)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/transactions/void", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is a mandatory field", http.StatusBadRequest)
			return
		}
		reversal, err := engine.Void(r.Context(), id)
		if errors.Is(err, models.ErrAlreadyPosted) {
			writeJSON(w, http.StatusOK, reversal)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, reversal)
	})

	mux.HandleFunc("/reports/profit-and-loss", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		from, to, err := parseWindow(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		pl, err := statements.ProfitAndLoss(r.Context(), from, to)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pl)
	})

	mux.HandleFunc("/reports/balance-sheet", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		asOf := time.Now().UTC()
		if raw := r.URL.Query().Get("as_of"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, "as_of must be RFC3339", http.StatusBadRequest)
				return
			}
			asOf = parsed
		}
		bs, err := statements.BalanceSheet(r.Context(), asOf)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bs)
	})

	mux.HandleFunc("/reports/trial-balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rows, err := statements.TrialBalance(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})

	mux.HandleFunc("/audit/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		drifts, err := auditor.Check(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, drifts)
	})

	mux.HandleFunc("/audit/rebuild", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		repaired, err := auditor.Rebuild(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, repaired)
	})

	mux.HandleFunc("/shifts", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			id := r.URL.Query().Get("id")
			if id == "" {
				http.Error(w, "id is a mandatory field", http.StatusBadRequest)
				return
			}
			sh, err := shifts.Get(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, sh)
		case http.MethodPost:
			var req struct {
				CashierID string          `json:"cashierId"`
				StartCash decimal.Decimal `json:"startCash"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			sh, err := shifts.Open(r.Context(), req.CashierID, req.StartCash)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, sh)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/shifts/sales", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ShiftID   string           `json:"shiftId"`
			Reference string           `json:"reference"`
			Payments  []models.Payment `json:"payments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		sale, err := shifts.RecordSale(r.Context(), req.ShiftID, req.Reference, req.Payments)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sale)
	})

	mux.HandleFunc("/shifts/deposits", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ShiftID   string          `json:"shiftId"`
			Amount    decimal.Decimal `json:"amount"`
			AccountID string          `json:"accountId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		deposit, err := shifts.LogDeposit(r.Context(), req.ShiftID, req.Amount, req.AccountID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, deposit)
	})

	mux.HandleFunc("/shifts/deposits/confirm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is a mandatory field", http.StatusBadRequest)
			return
		}
		deposit, err := shifts.ConfirmDeposit(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deposit)
	})

	mux.HandleFunc("/shifts/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is a mandatory field", http.StatusBadRequest)
			return
		}
		summary, err := shifts.Summary(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	mux.HandleFunc("/shifts/close", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ShiftID string                     `json:"shiftId"`
			Actuals map[string]decimal.Decimal `json:"actuals"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		rows, err := shifts.Close(r.Context(), req.ShiftID, req.Actuals)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})

	mux.HandleFunc("/shifts/reconciliations/confirm", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is a mandatory field", http.StatusBadRequest)
			return
		}
		row, err := shifts.ConfirmReconciliation(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, row)
	})

	mux.HandleFunc("/shifts/reconcile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is a mandatory field", http.StatusBadRequest)
			return
		}
		posted, err := shifts.Reconcile(r.Context(), id)
		if errors.Is(err, models.ErrAlreadyReconciled) {
			writeJSON(w, http.StatusOK, posted)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, posted)
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// resolveShiftConfig maps the configured chart codes to account ids. The
// accounts must exist, either seeded or created beforehand.
func resolveShiftConfig(ctx context.Context, registry *accounts.Registry, cfg config.Config) (shift.Config, error) {
	till, err := registry.GetByCode(ctx, cfg.TillAccountCode)
	if err != nil {
		return shift.Config{}, err
	}
	bank, err := registry.GetByCode(ctx, cfg.BankAccountCode)
	if err != nil {
		return shift.Config{}, err
	}
	clearing, err := registry.GetByCode(ctx, cfg.ClearingAccountCode)
	if err != nil {
		return shift.Config{}, err
	}

	return shift.Config{
		TillAccountID:     till.ID,
		ClearingAccountID: clearing.ID,
		DepositAccountID:  bank.ID,
		MethodAccounts: map[string]string{
			"CARD":     bank.ID,
			"TRANSFER": bank.ID,
		},
		CashMethodCode:    "CASH",
		VarianceTolerance: cfg.VarianceTolerance,
		BlockOnVariance:   cfg.BlockOnVariance,
	}, nil
}

// parseWindow reads the from/to query parameters as RFC3339 timestamps.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
	}
	return from, to, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrUnbalancedTransaction),
		errors.Is(err, models.ErrUnknownAccount),
		errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDuplicateCode),
		errors.Is(err, models.ErrAlreadyReconciled):
		status = http.StatusConflict
	case strings.Contains(err.Error(), "required"),
		strings.Contains(err.Error(), "must"):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
