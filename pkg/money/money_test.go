package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestCalculatePenaltyFloorsToCents(t *testing.T) {
	tests := []struct {
		amount, pct, penalty, net string
	}{
		{"45.00", "5", "2.25", "42.75"},
		{"18.91", "5", "0.94", "17.97"},
		{"0.19", "5", "0", "0.19"},
		{"100", "0", "0", "100"},
		{"33.33", "10", "3.33", "30"},
	}
	for _, tt := range tests {
		penalty, net := CalculatePenalty(d(tt.amount), d(tt.pct))
		assert.Truef(t, penalty.Equal(d(tt.penalty)), "penalty(%s,%s) = %s", tt.amount, tt.pct, penalty)
		assert.Truef(t, net.Equal(d(tt.net)), "net(%s,%s) = %s", tt.amount, tt.pct, net)
		assert.True(t, penalty.Add(net).Equal(d(tt.amount)))
	}
}

func TestConvertAtRateUsesInvoiceRate(t *testing.T) {
	// Invoice: 30 EUR for 0.0005 BTC.
	invoiceCrypto := d("0.0005")
	invoiceFiat := d("30")

	assert.Equal(t, "30.00", ConvertAtRate(d("0.0005"), invoiceCrypto, invoiceFiat).StringFixed(2))
	assert.Equal(t, "18.00", ConvertAtRate(d("0.0003"), invoiceCrypto, invoiceFiat).StringFixed(2))
	assert.True(t, ConvertAtRate(d("1"), decimal.Zero, invoiceFiat).IsZero())
}

func TestPartialPaymentsSumConsistently(t *testing.T) {
	invoiceCrypto := d("0.00123456")
	invoiceFiat := d("50")

	first := ConvertAtRate(d("0.00061728"), invoiceCrypto, invoiceFiat)
	second := ConvertAtRate(d("0.00061728"), invoiceCrypto, invoiceFiat)
	assert.Equal(t, "50.00", first.Add(second).StringFixed(2))
}

func TestRoundingHelpers(t *testing.T) {
	assert.Equal(t, "1.23", RoundDown(d("1.239")).String())
	assert.Equal(t, "1.24", RoundUp(d("1.231")).String())
	assert.Equal(t, "1.24", Round(d("1.235")).String())
	assert.Equal(t, "100.1", WithTolerance(d("100"), d("0.1")).String())
	assert.True(t, Min(d("20"), d("50")).Equal(d("20")))
	assert.True(t, Min(d("60"), d("50")).Equal(d("50")))
	assert.Equal(t, "60000", Rate(d("30"), d("0.0005")).String())
	assert.False(t, IsPositive(decimal.Zero))
}
