package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// ErrStaleOrder is returned when the version guard rejects an update.
var ErrStaleOrder = errors.New("order was modified concurrently")

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateVersioned writes the named columns from order, guarded by its
// current version. The in-memory version is bumped on success.
func (r *repository) UpdateVersioned(ctx context.Context, order *models.Order, columns ...string) error {
	next := *order
	next.Version = order.Version + 1
	next.UpdatedAt = time.Now().UTC()
	selected := append([]string{"version", "updated_at"}, columns...)

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Select(selected).
		Updates(&next)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleOrder
	}
	order.Version = next.Version
	order.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *repository) HasPendingOrder(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("user_id = ? AND status IN ?", userID, enums.PendingOrderStatuses).
		Count(&count).Error
	return count > 0, err
}

// FindExpiredPending returns pending orders past their deadline. Orders
// parked for manual review are never returned.
func (r *repository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Where("status IN ?", enums.PendingOrderStatuses).
		Where("expires_at < ?", now).
		Where("needs_review = ?", false).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) CreateBuyRecords(ctx context.Context, records []models.BuyRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&records).Error
}

// SumUnderpaidFiat totals the fiat value of partial payments recorded for
// the order and reports how many there were.
func (r *repository) SumUnderpaidFiat(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, int64, error) {
	var rows []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND is_underpayment = ?", orderID, true).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.FiatAmount)
	}
	return total, int64(len(rows)), nil
}
