// Package money holds the fixed-point helpers every settlement amount goes through.
package money

import "github.com/shopspring/decimal"

// Places is the number of decimals of the smallest fiat unit.
const Places int32 = 2

var hundred = decimal.NewFromInt(100)

// RoundDown truncates amount to the smallest fiat unit.
func RoundDown(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundFloor(Places)
}

// RoundUp raises amount to the next smallest fiat unit.
func RoundUp(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundCeil(Places)
}

// Round rounds half away from zero to the smallest fiat unit.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Places)
}

// Percent returns pct percent of amount without rounding.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// CalculatePenalty splits amount into the penalty kept by the shop and the
// net returned to the customer. The penalty is floored so rounding always
// favors the customer; net is exact.
func CalculatePenalty(amount, percent decimal.Decimal) (penalty, net decimal.Decimal) {
	penalty = RoundDown(Percent(amount, percent))
	return penalty, amount.Sub(penalty)
}

// WithTolerance returns required grown by pct percent.
func WithTolerance(required, pct decimal.Decimal) decimal.Decimal {
	return required.Add(Percent(required, pct))
}

// ConvertAtRate values cryptoAmount in fiat using the rate embedded in an
// invoice (invoiceFiat per invoiceCrypto). A zero crypto side yields zero.
func ConvertAtRate(cryptoAmount, invoiceCrypto, invoiceFiat decimal.Decimal) decimal.Decimal {
	if invoiceCrypto.IsZero() {
		return decimal.Zero
	}
	return Round(cryptoAmount.Mul(invoiceFiat).Div(invoiceCrypto))
}

// Rate returns the fiat price of one crypto unit.
func Rate(fiat, crypto decimal.Decimal) decimal.Decimal {
	if crypto.IsZero() {
		return decimal.Zero
	}
	return fiat.Div(crypto)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// IsPositive reports whether amount is strictly greater than zero.
func IsPositive(amount decimal.Decimal) bool {
	return amount.IsPositive()
}
