// Package dbtest opens throwaway sqlite databases carrying the settlement schema.
package dbtest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
)

// Models lists every table the engine persists.
var Models = []any{
	&models.User{},
	&models.Subcategory{},
	&models.Item{},
	&models.Order{},
	&models.Invoice{},
	&models.InvoiceSequence{},
	&models.PaymentTransaction{},
	&models.BuyRecord{},
	&models.OutboxEvent{},
}

// Open returns an isolated in-memory database. The pool is capped at one
// connection so concurrent transactions serialize instead of failing with
// "database is locked".
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:settlement_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(Models...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// Tx adapts a raw connection to the WithTx signature used by services.
type Tx struct {
	DB *gorm.DB
}

// WithTx runs fn inside a transaction on the wrapped connection.
func (t Tx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.DB.WithContext(ctx).Transaction(fn)
}

// SeedUser inserts a user whose wallet balance equals balance.
func SeedUser(t testing.TB, db *gorm.DB, balance string) models.User {
	t.Helper()
	user := models.User{TopUpAmount: decimal.RequireFromString(balance)}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// SeedStock inserts a subcategory with qty unsold units.
func SeedStock(t testing.TB, db *gorm.DB, price string, qty int, physical bool, shipping string) models.Subcategory {
	t.Helper()
	sub := models.Subcategory{
		Name:         "sub-" + uuid.NewString()[:8],
		Price:        decimal.RequireFromString(price),
		IsPhysical:   physical,
		ShippingCost: decimal.RequireFromString(shipping),
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed subcategory: %v", err)
	}
	for i := 0; i < qty; i++ {
		item := models.Item{
			SubcategoryID: sub.ID,
			Price:         sub.Price,
			IsPhysical:    physical,
			ShippingCost:  sub.ShippingCost,
			PrivateData:   "unit-" + uuid.NewString()[:8],
		}
		if err := db.Create(&item).Error; err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}
	return sub
}
