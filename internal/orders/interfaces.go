package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
)

// Repository defines persistence operations for orders and their purchase history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateVersioned(ctx context.Context, order *models.Order, columns ...string) error
	HasPendingOrder(ctx context.Context, userID uuid.UUID) (bool, error)
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	CreateBuyRecords(ctx context.Context, records []models.BuyRecord) error
	SumUnderpaidFiat(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, int64, error)
}
