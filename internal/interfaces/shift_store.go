package interfaces

import (
	"context"

	"github.com/quibooks/ledger-core/internal/models"
)

// ShiftStore persists cashier sessions and everything hanging off them.
// Shift records are never deleted; status moves forward only.
type ShiftStore interface {
	SaveShift(ctx context.Context, shift models.Shift) error
	GetShift(ctx context.Context, id string) (models.Shift, error)
	UpdateShift(ctx context.Context, shift models.Shift) error

	SaveSale(ctx context.Context, sale models.ShiftSale) error
	SalesByShift(ctx context.Context, shiftID string) ([]models.ShiftSale, error)

	SaveDeposit(ctx context.Context, deposit models.CashDeposit) error
	GetDeposit(ctx context.Context, id string) (models.CashDeposit, error)
	UpdateDeposit(ctx context.Context, deposit models.CashDeposit) error
	DepositsByShift(ctx context.Context, shiftID string) ([]models.CashDeposit, error)

	SaveReconciliations(ctx context.Context, rows []models.Reconciliation) error
	GetReconciliation(ctx context.Context, id string) (models.Reconciliation, error)
	UpdateReconciliation(ctx context.Context, row models.Reconciliation) error
	ReconciliationsByShift(ctx context.Context, shiftID string) ([]models.Reconciliation, error)
}
