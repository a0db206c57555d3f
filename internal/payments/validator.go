// Package payments classifies processor payments against the invoice they settle.
package payments

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/money"
)

// DefaultTolerancePercent is the band above the required amount that still
// counts as a minor overpayment.
var DefaultTolerancePercent = decimal.RequireFromString("0.1")

// ValidationInput carries one payment and the invoice terms it is checked against.
type ValidationInput struct {
	Paid             decimal.Decimal
	Required         decimal.Decimal
	CurrencyPaid     string
	CurrencyRequired string
	Deadline         time.Time
	TolerancePercent decimal.Decimal
	Now              time.Time
}

// Validate returns the first matching outcome in this order: currency
// mismatch, late, under, exact, minor over, over. Underpayment has zero
// tolerance.
func Validate(in ValidationInput) enums.PaymentOutcome {
	if !strings.EqualFold(strings.TrimSpace(in.CurrencyPaid), strings.TrimSpace(in.CurrencyRequired)) {
		return enums.PaymentOutcomeCurrencyMismatch
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if !in.Deadline.IsZero() && now.After(in.Deadline) {
		return enums.PaymentOutcomeLatePayment
	}

	switch in.Paid.Cmp(in.Required) {
	case -1:
		return enums.PaymentOutcomeUnderpayment
	case 0:
		return enums.PaymentOutcomeExactMatch
	}

	tolerance := in.TolerancePercent
	if tolerance.IsNegative() {
		tolerance = DefaultTolerancePercent
	}
	if in.Paid.LessThanOrEqual(money.WithTolerance(in.Required, tolerance)) {
		return enums.PaymentOutcomeMinorOverpayment
	}
	return enums.PaymentOutcomeOverpayment
}
