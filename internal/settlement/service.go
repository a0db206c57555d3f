// Package settlement applies processor payments to orders. Every payment is
// classified against its invoice and handled in one transaction together
// with the wallet change, the order change and the queued notifications.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/notifications"
	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/money"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

// ErrInvoiceNotFound is returned when no invoice carries the processor id.
var ErrInvoiceNotFound = errors.New("invoice not found for processor payment")

// PaymentNotice is one payment reported by the processor.
type PaymentNotice struct {
	ProcessorID     string
	Address         string
	CryptoAmount    decimal.Decimal
	CryptoCurrency  string
	FiatAmount      decimal.Decimal
	FiatCurrency    string
	TransactionHash string
}

// Result summarizes what a settlement did.
type Result struct {
	Outcome      enums.PaymentOutcome
	Duplicate    bool
	OrderID      uuid.UUID
	OrderStatus  enums.OrderStatus
	WalletCredit decimal.Decimal
	Penalty      decimal.Decimal
	RetryInvoice *models.Invoice
}

// Service settles processor payments.
type Service interface {
	Settle(ctx context.Context, notice PaymentNotice) (*Result, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderLifecycle interface {
	LockInTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	SaveInTx(ctx context.Context, tx *gorm.DB, order *models.Order, columns ...string) error
	CompletePayment(ctx context.Context, tx *gorm.DB, order *models.Order) error
	CancelInTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason enums.CancelReason, opts orders.CancelOptions) (*orders.CancelResult, error)
	FlagForReviewInTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error
	RequestReviewInTx(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error
}

type invoiceIssuer interface {
	IssueInvoice(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fiatAmount decimal.Decimal, fiatCurrency, cryptoCurrency string) (*models.Invoice, error)
	Deactivate(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) error
	FindByProcessingID(ctx context.Context, tx *gorm.DB, processingID string) (*models.Invoice, error)
}

// ServiceParams wires the settlement dependencies.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Orders   orderLifecycle
	Invoices invoiceIssuer
	Notifier notifications.Notifier
	Outbox   outboxPublisher
	Config   config.OrdersConfig
	Metrics  *metrics.SettlementMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	orders   orderLifecycle
	invoices invoiceIssuer
	notifier notifications.Notifier
	outbox   outboxPublisher
	cfg      config.OrdersConfig
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
	clock    func() time.Time
}

// NewService validates params and builds the settlement service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payment transaction repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		orders:   params.Orders,
		invoices: params.Invoices,
		notifier: params.Notifier,
		outbox:   params.Outbox,
		cfg:      params.Config,
		metrics:  params.Metrics,
		logg:     params.Logger,
		clock:    clock,
	}, nil
}

// settlement is the state shared by the outcome handlers of one payment.
type settlement struct {
	tx      *gorm.DB
	order   *models.Order
	invoice *models.Invoice
	notice  PaymentNotice
	outcome enums.PaymentOutcome
	fiat    decimal.Decimal
	now     time.Time
	record  *models.PaymentTransaction
	result  *Result
}

// Settle records the payment and applies the handler for its outcome. A
// processor id that was already recorded is a no-op.
func (s *service) Settle(ctx context.Context, notice PaymentNotice) (*Result, error) {
	notice.ProcessorID = strings.TrimSpace(notice.ProcessorID)
	if notice.ProcessorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor payment id is required")
	}
	if notice.CryptoAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "crypto amount must not be negative")
	}

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		invoice, err := s.invoices.FindByProcessingID(ctx, tx, notice.ProcessorID)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrInvoiceNotFound, "no invoice for processor payment")
			}
			return err
		}
		order, err := s.orders.LockInTx(ctx, tx, invoice.OrderID)
		if err != nil {
			return err
		}

		existing, err := s.repo.WithTx(tx).FindByProcessingID(ctx, notice.ProcessorID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check recorded payment")
		}
		if existing != nil {
			result = &Result{Duplicate: true, OrderID: order.ID, OrderStatus: order.Status}
			return nil
		}

		st := s.classify(tx, order, invoice, notice)
		if err := s.dispatch(ctx, st); err != nil {
			return err
		}
		if err := s.emitRecorded(ctx, st); err != nil {
			return err
		}
		st.result.OrderStatus = st.order.Status
		result = st.result
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     result.OrderID.String(),
		"processor_id": notice.ProcessorID,
		"outcome":      result.Outcome.String(),
		"status":       result.OrderStatus.String(),
	})
	if result.Duplicate {
		s.metrics.IncDuplicate()
		s.logg.Info(logCtx, "processor payment already recorded")
		return result, nil
	}
	s.metrics.IncOutcome(result.Outcome.String())
	s.logg.Info(logCtx, "processor payment settled")
	return result, nil
}

func (s *service) classify(tx *gorm.DB, order *models.Order, invoice *models.Invoice, notice PaymentNotice) *settlement {
	now := s.clock().UTC()
	required := ""
	if invoice.PaymentCryptoCurrency != nil {
		required = *invoice.PaymentCryptoCurrency
	}
	outcome := payments.Validate(payments.ValidationInput{
		Paid:             notice.CryptoAmount,
		Required:         invoice.PaymentAmountCrypto,
		CurrencyPaid:     notice.CryptoCurrency,
		CurrencyRequired: required,
		Deadline:         order.ExpiresAt,
		TolerancePercent: s.cfg.PaymentTolerancePercent,
		Now:              now,
	})
	// a cancelled order can only take the late-payment path
	if outcome != enums.PaymentOutcomeCurrencyMismatch && order.Status.IsTerminal() && !order.Status.IsPaid() {
		outcome = enums.PaymentOutcomeLatePayment
	}

	fiat := decimal.Zero
	if outcome != enums.PaymentOutcomeCurrencyMismatch {
		fiat = money.ConvertAtRate(notice.CryptoAmount, invoice.PaymentAmountCrypto, invoice.FiatAmount)
	}
	st := &settlement{
		tx:      tx,
		order:   order,
		invoice: invoice,
		notice:  notice,
		outcome: outcome,
		fiat:    fiat,
		now:     now,
		result: &Result{
			Outcome:      outcome,
			OrderID:      order.ID,
			WalletCredit: decimal.Zero,
			Penalty:      decimal.Zero,
		},
	}
	st.record = &models.PaymentTransaction{
		OrderID:             order.ID,
		InvoiceID:           invoice.ID,
		CryptoAmount:        notice.CryptoAmount,
		CryptoCurrency:      strings.ToUpper(strings.TrimSpace(notice.CryptoCurrency)),
		FiatAmount:          fiat,
		PaymentProcessingID: notice.ProcessorID,
		PenaltyPercent:      decimal.Zero,
		ReceivedAt:          now,
	}
	if hash := strings.TrimSpace(notice.TransactionHash); hash != "" {
		st.record.TransactionHash = &hash
	}
	return st
}

func (s *service) dispatch(ctx context.Context, st *settlement) error {
	if st.order.Status.IsPaid() {
		return s.handleAlreadyPaid(ctx, st)
	}
	switch st.outcome {
	case enums.PaymentOutcomeExactMatch, enums.PaymentOutcomeMinorOverpayment:
		return s.handleExact(ctx, st)
	case enums.PaymentOutcomeOverpayment:
		return s.handleOverpayment(ctx, st)
	case enums.PaymentOutcomeUnderpayment:
		if st.order.RetryCount == 0 {
			return s.handleFirstUnderpayment(ctx, st)
		}
		return s.handleSecondUnderpayment(ctx, st)
	case enums.PaymentOutcomeLatePayment:
		return s.handleLate(ctx, st)
	case enums.PaymentOutcomeCurrencyMismatch:
		return s.handleCurrencyMismatch(ctx, st)
	}
	return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unhandled payment outcome %s", st.outcome))
}

func (s *service) saveRecord(ctx context.Context, st *settlement) error {
	if err := s.repo.WithTx(st.tx).Create(ctx, st.record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment transaction")
	}
	return nil
}

func (s *service) emitRecorded(ctx context.Context, st *settlement) error {
	processingID := ""
	if st.invoice.PaymentProcessingID != nil {
		processingID = *st.invoice.PaymentProcessingID
	}
	return s.outbox.Emit(ctx, st.tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRecorded,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   st.invoice.ID,
		Data: payloads.PaymentRecordedEvent{
			TransactionID:       st.record.ID,
			OrderID:             st.order.ID,
			InvoiceID:           st.invoice.ID,
			PaymentProcessingID: processingID,
			Outcome:             st.outcome,
			CryptoAmount:        st.record.CryptoAmount,
			CryptoCurrency:      st.record.CryptoCurrency,
			FiatAmount:          st.record.FiatAmount,
			PenaltyApplied:      st.record.PenaltyApplied,
			WalletCreditAmount:  st.record.WalletCreditAmount,
			ReceivedAt:          st.record.ReceivedAt,
		},
	})
}
