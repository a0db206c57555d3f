// Package invoices issues crypto and wallet-only invoices for orders.
package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/processor"
)

const defaultProcessorTimeout = 10 * time.Second

// PaymentCreator is the slice of the processor client the issuer needs.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, req processor.CreatePaymentRequest) (*processor.Payment, error)
}

// Service issues and looks up invoices. Issuing methods run inside the
// caller's transaction.
type Service interface {
	IssueInvoice(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fiatAmount decimal.Decimal, fiatCurrency, cryptoCurrency string) (*models.Invoice, error)
	IssueWalletOnlyInvoice(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fiatAmount decimal.Decimal, fiatCurrency string) (*models.Invoice, error)
	NextInvoiceNumber(ctx context.Context, tx *gorm.DB, year int) (string, error)
	Deactivate(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) error
	FindByID(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) (*models.Invoice, error)
	FindByProcessingID(ctx context.Context, tx *gorm.DB, processingID string) (*models.Invoice, error)
	ActiveForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Invoice, error)
	ListByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.Invoice, error)
}

// ServiceParams wires the issuer dependencies.
type ServiceParams struct {
	Repo             Repository
	Processor        PaymentCreator
	ProcessorTimeout time.Duration
	Logger           *logger.Logger
	Clock            func() time.Time
}

type service struct {
	repo      Repository
	processor PaymentCreator
	timeout   time.Duration
	logg      *logger.Logger
	now       func() time.Time
}

// NewService validates params and builds the invoice service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("payment processor required")
	}
	timeout := params.ProcessorTimeout
	if timeout <= 0 {
		timeout = defaultProcessorTimeout
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:      params.Repo,
		processor: params.Processor,
		timeout:   timeout,
		logg:      params.Logger,
		now:       clock,
	}, nil
}

// FormatInvoiceNumber renders INV-<year>-<5 digit sequence>.
func FormatInvoiceNumber(year, seq int) string {
	return fmt.Sprintf("INV-%d-%05d", year, seq)
}

func (s *service) IssueInvoice(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fiatAmount decimal.Decimal, fiatCurrency, cryptoCurrency string) (*models.Invoice, error) {
	if err := validateIssue(orderID, fiatAmount, fiatCurrency); err != nil {
		return nil, err
	}
	cryptoCurrency = strings.ToUpper(strings.TrimSpace(cryptoCurrency))
	if cryptoCurrency == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "crypto currency is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	payment, err := s.processor.CreatePayment(callCtx, processor.CreatePaymentRequest{
		FiatAmount:     fiatAmount,
		FiatCurrency:   fiatCurrency,
		CryptoCurrency: cryptoCurrency,
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeDependency {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create processor payment")
	}

	number, err := s.NextInvoiceNumber(ctx, tx, s.now().UTC().Year())
	if err != nil {
		return nil, err
	}

	currency := payment.CryptoCurrency
	if currency == "" {
		currency = cryptoCurrency
	}
	address := payment.Address
	processingID := payment.ProcessorID
	invoice := &models.Invoice{
		OrderID:               orderID,
		InvoiceNumber:         number,
		PaymentAddress:        &address,
		PaymentAmountCrypto:   payment.CryptoAmount,
		PaymentCryptoCurrency: &currency,
		PaymentProcessingID:   &processingID,
		FiatAmount:            fiatAmount,
		FiatCurrency:          fiatCurrency,
		IsActive:              true,
	}
	if err := s.repo.WithTx(tx).Create(ctx, invoice); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist invoice")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":       orderID.String(),
			"invoice_number": number,
			"processor_id":   processingID,
		})
		s.logg.Info(logCtx, "crypto invoice issued")
	}
	return invoice, nil
}

func (s *service) IssueWalletOnlyInvoice(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fiatAmount decimal.Decimal, fiatCurrency string) (*models.Invoice, error) {
	if err := validateIssue(orderID, fiatAmount, fiatCurrency); err != nil {
		return nil, err
	}

	number, err := s.NextInvoiceNumber(ctx, tx, s.now().UTC().Year())
	if err != nil {
		return nil, err
	}
	invoice := &models.Invoice{
		OrderID:       orderID,
		InvoiceNumber: number,
		FiatAmount:    fiatAmount,
		FiatCurrency:  fiatCurrency,
		IsActive:      true,
		IsWalletOnly:  true,
	}
	if err := s.repo.WithTx(tx).Create(ctx, invoice); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist invoice")
	}
	return invoice, nil
}

func (s *service) NextInvoiceNumber(ctx context.Context, tx *gorm.DB, year int) (string, error) {
	seq, err := s.repo.WithTx(tx).NextSequence(ctx, year)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "allocate invoice number")
	}
	return FormatInvoiceNumber(year, seq), nil
}

func (s *service) Deactivate(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) error {
	if err := s.repo.WithTx(tx).Deactivate(ctx, invoiceID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivate invoice")
	}
	return nil
}

func (s *service) FindByID(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.WithTx(tx).FindByID(ctx, invoiceID)
	return invoice, notFound(err, "invoice not found")
}

func (s *service) FindByProcessingID(ctx context.Context, tx *gorm.DB, processingID string) (*models.Invoice, error) {
	if strings.TrimSpace(processingID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processing id is required")
	}
	invoice, err := s.repo.WithTx(tx).FindByProcessingID(ctx, processingID)
	return invoice, notFound(err, "invoice not found")
}

func (s *service) ActiveForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.WithTx(tx).ActiveForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active invoice")
	}
	return invoice, nil
}

func (s *service) ListByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.Invoice, error) {
	invoices, err := s.repo.WithTx(tx).ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list invoices")
	}
	return invoices, nil
}

func validateIssue(orderID uuid.UUID, fiatAmount decimal.Decimal, fiatCurrency string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !fiatAmount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice amount must be positive")
	}
	if strings.TrimSpace(fiatCurrency) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "fiat currency is required")
	}
	return nil
}

func notFound(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
