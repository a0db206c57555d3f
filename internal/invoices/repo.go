package invoices

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
)

// Repository defines persistence operations for invoices and their numbering.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindByProcessingID(ctx context.Context, processingID string) (*models.Invoice, error)
	ActiveForOrder(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Invoice, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	NextSequence(ctx context.Context, year int) (int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an invoice repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByProcessingID(ctx context.Context, processingID string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).Where("payment_processing_id = ?", processingID).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ActiveForOrder returns nil without error when the order has no active invoice.
func (r *repository) ActiveForOrder(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND is_active = ?", orderID, true).
		Order("created_at DESC").
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, invoice_number ASC").
		Find(&invoices).Error
	return invoices, err
}

func (r *repository) Deactivate(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}

// NextSequence inserts the year's counter when missing, then increments it
// under the row lock taken by the UPDATE.
func (r *repository) NextSequence(ctx context.Context, year int) (int, error) {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.InvoiceSequence{Year: year}).Error; err != nil {
		return 0, fmt.Errorf("ensure invoice sequence: %w", err)
	}

	res := db.Model(&models.InvoiceSequence{}).
		Where("year = ?", year).
		Update("last_value", gorm.Expr("last_value + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("increment invoice sequence: %w", res.Error)
	}

	var seq models.InvoiceSequence
	if err := db.Where("year = ?", year).First(&seq).Error; err != nil {
		return 0, fmt.Errorf("read invoice sequence: %w", err)
	}
	return seq.LastValue, nil
}
