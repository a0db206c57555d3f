// Package reservation binds inventory units to orders.
package reservation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// Result describes how much of one cart line could be claimed.
type Result struct {
	SubcategoryID uuid.UUID
	Requested     int
	Units         []models.Item
}

// Reserved returns the number of units bound to the order.
func (r Result) Reserved() int {
	return len(r.Units)
}

// Shortfall returns how many requested units were unavailable.
func (r Result) Shortfall() int {
	return r.Requested - len(r.Units)
}

// Reserve claims up to requestedQty unsold, unreserved units of the
// subcategory for orderID. Rows held by concurrent checkouts are skipped, so
// a shortfall is reported instead of blocking. Claimed units stay reserved
// even when fewer than requested were available.
func Reserve(ctx context.Context, tx *gorm.DB, subcategoryID uuid.UUID, requestedQty int, orderID uuid.UUID) (Result, error) {
	if tx == nil {
		return Result{}, fmt.Errorf("transaction required")
	}
	if requestedQty <= 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if subcategoryID == uuid.Nil || orderID == uuid.Nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "subcategory and order are required")
	}

	result := Result{SubcategoryID: subcategoryID, Requested: requestedQty}

	var units []models.Item
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("subcategory_id = ? AND is_sold = ? AND order_id IS NULL", subcategoryID, false).
		Order("created_at ASC, id ASC").
		Limit(requestedQty).
		Find(&units).Error
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "select available units")
	}
	if len(units) == 0 {
		return result, nil
	}

	ids := make([]uuid.UUID, 0, len(units))
	for _, unit := range units {
		ids = append(ids, unit.ID)
	}
	update := tx.WithContext(ctx).
		Model(&models.Item{}).
		Where("id IN ? AND order_id IS NULL AND is_sold = ?", ids, false).
		Update("order_id", orderID)
	if update.Error != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, update.Error, "claim units")
	}
	if update.RowsAffected != int64(len(ids)) {
		return Result{}, pkgerrors.New(pkgerrors.CodeConflict, "units claimed concurrently")
	}

	for i := range units {
		units[i].OrderID = &orderID
	}
	result.Units = units
	return result, nil
}

// Release returns every unsold unit of the order to the pool and reports how
// many were released. Sold units keep their order association.
func Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("transaction required")
	}
	res := tx.WithContext(ctx).
		Model(&models.Item{}).
		Where("order_id = ? AND is_sold = ?", orderID, false).
		Update("order_id", nil)
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "release units")
	}
	return res.RowsAffected, nil
}

// MarkSold flags every reserved unit of the order as sold and returns them.
func MarkSold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.Item, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	var units []models.Item
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND is_sold = ?", orderID, false).
		Order("created_at ASC, id ASC").
		Find(&units).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reserved units")
	}
	if len(units) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(units))
	for _, unit := range units {
		ids = append(ids, unit.ID)
	}
	if err := tx.WithContext(ctx).
		Model(&models.Item{}).
		Where("id IN ?", ids).
		Update("is_sold", true).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark units sold")
	}
	for i := range units {
		units[i].IsSold = true
	}
	return units, nil
}

// ListForOrder returns the units currently bound to the order.
func ListForOrder(ctx context.Context, db *gorm.DB, orderID uuid.UUID) ([]models.Item, error) {
	var units []models.Item
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&units).Error
	return units, err
}
