package enums

import "fmt"

// PaymentOutcome classifies a received crypto payment against its invoice.
type PaymentOutcome string

const (
	PaymentOutcomeExactMatch       PaymentOutcome = "EXACT_MATCH"
	PaymentOutcomeMinorOverpayment PaymentOutcome = "MINOR_OVERPAYMENT"
	PaymentOutcomeOverpayment      PaymentOutcome = "OVERPAYMENT"
	PaymentOutcomeUnderpayment     PaymentOutcome = "UNDERPAYMENT"
	PaymentOutcomeLatePayment      PaymentOutcome = "LATE_PAYMENT"
	PaymentOutcomeCurrencyMismatch PaymentOutcome = "CURRENCY_MISMATCH"
)

var validPaymentOutcomes = []PaymentOutcome{
	PaymentOutcomeExactMatch,
	PaymentOutcomeMinorOverpayment,
	PaymentOutcomeOverpayment,
	PaymentOutcomeUnderpayment,
	PaymentOutcomeLatePayment,
	PaymentOutcomeCurrencyMismatch,
}

// String implements fmt.Stringer.
func (p PaymentOutcome) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentOutcome.
func (p PaymentOutcome) IsValid() bool {
	for _, candidate := range validPaymentOutcomes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentOutcome converts raw input into a PaymentOutcome.
func ParsePaymentOutcome(value string) (PaymentOutcome, error) {
	for _, candidate := range validPaymentOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment outcome %q", value)
}
