// Package wallet mutates the internal customer balance. Every call runs
// inside the caller's transaction so the wallet change commits together with
// the order change that caused it.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// LockUser loads the user row with FOR UPDATE.
func LockUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.User, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	var user models.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock user")
	}
	return &user, nil
}

// Balance returns the current spendable balance without locking.
func Balance(ctx context.Context, db *gorm.DB, userID uuid.UUID) (decimal.Decimal, error) {
	var user models.User
	err := db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load balance")
	}
	return user.Balance(), nil
}

// Credit adds amount to the user's top-up counter as an atomic increment.
func Credit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "credit amount must be positive")
	}
	return increment(ctx, tx, userID, "top_up_amount", amount)
}

// Debit records amount as consumed. The user must already be locked by the
// caller; debiting beyond the balance is a state conflict.
func Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}
	user, err := LockUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	if user.Balance().LessThan(amount) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient wallet balance").
			WithDetails(map[string]any{"balance": user.Balance().StringFixed(2), "requested": amount.StringFixed(2)})
	}
	return increment(ctx, tx, userID, "consume_records", amount)
}

func increment(ctx context.Context, tx *gorm.DB, userID uuid.UUID, column string, amount decimal.Decimal) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	res := tx.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update(column, gorm.Expr(column+" + ?", amount))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update wallet")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return nil
}
