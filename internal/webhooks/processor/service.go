package processorwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/internal/settlement"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
)

// IdempotencyScope namespaces processor payment ids in Redis.
const IdempotencyScope = "processor-webhook"

const paymentTypePayment = "PAYMENT"

// Handling statuses reported back to the processor.
const (
	StatusSettled        = "settled"
	StatusIgnored        = "ignored"
	StatusDuplicate      = "duplicate"
	StatusUnknownInvoice = "unknown_invoice"
	StatusRejected       = "rejected"
)

// Payload is the processor callback body.
type Payload struct {
	ID             json.Number     `json:"id" validate:"required"`
	Address        string          `json:"address"`
	CryptoAmount   decimal.Decimal `json:"cryptoAmount" validate:"gte=0"`
	CryptoCurrency string          `json:"cryptoCurrency" validate:"required"`
	FiatAmount     decimal.Decimal `json:"fiatAmount" validate:"gte=0"`
	FiatCurrency   string          `json:"fiatCurrency"`
	IsPaid         bool            `json:"isPaid"`
	PaymentType    string          `json:"paymentType"`
	Hash           string          `json:"hash"`
}

// Result tells the caller how the callback was handled.
type Result struct {
	Status     string             `json:"status"`
	Settlement *settlement.Result `json:"-"`
}

type settler interface {
	Settle(ctx context.Context, notice settlement.PaymentNotice) (*settlement.Result, error)
}

type guard interface {
	CheckAndMark(ctx context.Context, scope, id string) (bool, error)
	Delete(ctx context.Context, scope, id string) error
}

type ServiceParams struct {
	Settlement settler
	Guard      guard
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
}

type Service struct {
	settlement settler
	guard      guard
	metrics    *metrics.SettlementMetrics
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Settlement == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement service required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		settlement: params.Settlement,
		guard:      params.Guard,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

// Handle settles one verified callback. Business rejections are reported as
// a status; only failures worth a redelivery are returned as errors, and
// those release the idempotency claim first.
func (s *Service) Handle(ctx context.Context, payload Payload) (*Result, error) {
	id := strings.TrimSpace(payload.ID.String())
	ctx = s.logg.WithFields(ctx, map[string]any{
		"processor_id": id,
		"is_paid":      payload.IsPaid,
	})

	if !payload.IsPaid {
		s.logg.Info(ctx, "processor callback ignored, payment not confirmed")
		return &Result{Status: StatusIgnored}, nil
	}
	if pt := strings.TrimSpace(payload.PaymentType); pt != "" && !strings.EqualFold(pt, paymentTypePayment) {
		s.logg.Info(s.logg.WithField(ctx, "payment_type", pt), "processor callback ignored, not a payment")
		return &Result{Status: StatusIgnored}, nil
	}
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor payment id is required")
	}

	claimed, err := s.guard.CheckAndMark(ctx, IdempotencyScope, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	if claimed {
		s.metrics.IncDuplicate()
		s.logg.Info(ctx, "processor callback already accepted")
		return &Result{Status: StatusDuplicate}, nil
	}

	res, err := s.settlement.Settle(ctx, settlement.PaymentNotice{
		ProcessorID:     id,
		Address:         payload.Address,
		CryptoAmount:    payload.CryptoAmount,
		CryptoCurrency:  payload.CryptoCurrency,
		FiatAmount:      payload.FiatAmount,
		FiatCurrency:    payload.FiatCurrency,
		TransactionHash: payload.Hash,
	})
	if err == nil {
		status := StatusSettled
		if res.Duplicate {
			status = StatusDuplicate
		}
		return &Result{Status: status, Settlement: res}, nil
	}

	if errors.Is(err, settlement.ErrInvoiceNotFound) {
		s.metrics.IncWebhookRejected(StatusUnknownInvoice)
		s.logg.Error(ctx, "processor payment has no invoice, integrity issue", err)
		return &Result{Status: StatusUnknownInvoice}, nil
	}
	if isBusinessRejection(err) {
		s.metrics.IncWebhookRejected(StatusRejected)
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "processor payment rejected")
		return &Result{Status: StatusRejected}, nil
	}

	if delErr := s.guard.Delete(ctx, IdempotencyScope, id); delErr != nil {
		s.logg.Error(ctx, "release idempotency claim", delErr)
	}
	if pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		return nil, err
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle processor payment")
}

// isBusinessRejection reports errors a redelivery cannot fix.
func isBusinessRejection(err error) bool {
	if errors.Is(err, orders.ErrStaleOrder) {
		return false
	}
	if pkgerrors.As(err) == nil {
		return false
	}
	switch pkgerrors.ClassOf(err) {
	case pkgerrors.ClassRejected, pkgerrors.ClassSecurity, pkgerrors.ClassIntegrity:
		return true
	}
	return false
}
