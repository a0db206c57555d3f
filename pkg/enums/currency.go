package enums

import (
	"fmt"
	"strings"
)

// CryptoCurrency lists the coins the payment processor can invoice in.
type CryptoCurrency string

const (
	CryptoBTC       CryptoCurrency = "BTC"
	CryptoLTC       CryptoCurrency = "LTC"
	CryptoETH       CryptoCurrency = "ETH"
	CryptoSOL       CryptoCurrency = "SOL"
	CryptoBNB       CryptoCurrency = "BNB"
	CryptoUSDTTRC20 CryptoCurrency = "USDT_TRC20"
	CryptoUSDTERC20 CryptoCurrency = "USDT_ERC20"
	CryptoUSDCERC20 CryptoCurrency = "USDC_ERC20"
)

var validCryptoCurrencies = []CryptoCurrency{
	CryptoBTC,
	CryptoLTC,
	CryptoETH,
	CryptoSOL,
	CryptoBNB,
	CryptoUSDTTRC20,
	CryptoUSDTERC20,
	CryptoUSDCERC20,
}

// String implements fmt.Stringer.
func (c CryptoCurrency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c CryptoCurrency) IsValid() bool {
	for _, candidate := range validCryptoCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCryptoCurrency converts a raw string into a CryptoCurrency. Matching is
// case-insensitive.
func ParseCryptoCurrency(value string) (CryptoCurrency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validCryptoCurrencies {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid crypto currency %q", value)
}
