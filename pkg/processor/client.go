// Package processor talks to the external crypto payment processor.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

const (
	defaultBaseURL               = "https://kryptoexpress.pro/api"
	defaultTimeout               = 10 * time.Second
	apiKeyHeader                 = "X-Api-Key"
	responseBodyReadLimit int64  = 1024
	readRetries           uint64 = 2
)

var errAPIKeyRequired = errors.New("payment processor api key is required")

// Client wraps the processor REST API. Every request is bounded by the
// configured timeout; read-only calls are retried with exponential backoff.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	callbackURL string
	backoff     func() retry.Backoff
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithCallbackURL sets the webhook URL registered with each new payment.
func WithCallbackURL(callbackURL string) Option {
	return func(c *Client) {
		c.callbackURL = strings.TrimSpace(callbackURL)
	}
}

// WithBackoff overrides the retry policy of read-only calls.
func WithBackoff(factory func() retry.Backoff) Option {
	return func(c *Client) {
		if factory != nil {
			c.backoff = factory
		}
	}
}

// NewClient builds the processor client from configuration.
func NewClient(cfg config.ProcessorConfig, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(cfg.APIKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		apiKey:      trimmedKey,
		baseURL:     strings.TrimSpace(cfg.BaseURL),
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		httpClient:  &http.Client{Timeout: timeout},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(readRetries, retry.NewExponential(200*time.Millisecond))
		},
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// CreatePaymentRequest asks the processor for a payment address.
type CreatePaymentRequest struct {
	FiatAmount     decimal.Decimal
	FiatCurrency   string
	CryptoCurrency string
}

// Payment is the processor's answer to CreatePayment.
type Payment struct {
	ProcessorID    string
	Address        string
	CryptoAmount   decimal.Decimal
	CryptoCurrency string
	FiatAmount     decimal.Decimal
	FiatCurrency   string
}

// CreatePayment registers a new payment for the fiat amount. It is not
// retried: a lost response could otherwise create two payments.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment processor client not configured")
	}
	if !req.FiatAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fiat amount must be positive")
	}
	if strings.TrimSpace(req.FiatCurrency) == "" || strings.TrimSpace(req.CryptoCurrency) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fiat and crypto currency are required")
	}

	body := map[string]any{
		"paymentType":    "PAYMENT",
		"fiatCurrency":   strings.ToUpper(req.FiatCurrency),
		"fiatAmount":     json.Number(req.FiatAmount.StringFixed(2)),
		"cryptoCurrency": strings.ToUpper(req.CryptoCurrency),
	}
	if c.callbackURL != "" {
		body["callbackUrl"] = c.callbackURL
	}

	var apiResp struct {
		ID             json.Number     `json:"id"`
		Address        string          `json:"address"`
		CryptoAmount   decimal.Decimal `json:"cryptoAmount"`
		CryptoCurrency string          `json:"cryptoCurrency"`
		FiatAmount     decimal.Decimal `json:"fiatAmount"`
		FiatCurrency   string          `json:"fiatCurrency"`
	}
	if err := c.do(ctx, http.MethodPost, "payment", body, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.ID.String() == "" || apiResp.Address == "" || !apiResp.CryptoAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "incomplete payment response")
	}

	return &Payment{
		ProcessorID:    apiResp.ID.String(),
		Address:        apiResp.Address,
		CryptoAmount:   apiResp.CryptoAmount,
		CryptoCurrency: apiResp.CryptoCurrency,
		FiatAmount:     apiResp.FiatAmount,
		FiatCurrency:   apiResp.FiatCurrency,
	}, nil
}

// GetWalletBalance returns the merchant balance per crypto currency.
func (c *Client) GetWalletBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment processor client not configured")
	}

	var balances map[string]decimal.Decimal
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		balances = nil
		if err := c.do(ctx, http.MethodGet, "wallet", nil, &balances); err != nil {
			if isRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

// WithdrawRequest moves the whole balance of one currency off the processor.
type WithdrawRequest struct {
	Currency      string
	ToAddress     string
	CalculateOnly bool
}

// Withdrawal is the processor's report of a (possibly simulated) withdrawal.
type Withdrawal struct {
	ID                  string
	Currency            string
	ToAddress           string
	ReceivingAmount     decimal.Decimal
	BlockchainFeeAmount decimal.Decimal
	ServiceFeeAmount    decimal.Decimal
	TxIDs               []string
	CalculateOnly       bool
}

// Withdraw requests a withdrawal. Only fee calculations are retried.
func (c *Client) Withdraw(ctx context.Context, req WithdrawRequest) (*Withdrawal, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment processor client not configured")
	}
	if strings.TrimSpace(req.Currency) == "" || strings.TrimSpace(req.ToAddress) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency and destination address are required")
	}

	body := map[string]any{
		"withdrawType":  "ALL",
		"currency":      strings.ToUpper(req.Currency),
		"toAddress":     strings.TrimSpace(req.ToAddress),
		"onlyCalculate": req.CalculateOnly,
	}

	var apiResp struct {
		ID                  json.Number     `json:"id"`
		CryptoCurrency      string          `json:"cryptoCurrency"`
		ToAddress           string          `json:"toAddress"`
		TxIDList            []string        `json:"txIdList"`
		ReceivingAmount     decimal.Decimal `json:"receivingAmount"`
		BlockchainFeeAmount decimal.Decimal `json:"blockchainFeeAmount"`
		ServiceFeeAmount    decimal.Decimal `json:"serviceFeeAmount"`
		OnlyCalculate       bool            `json:"onlyCalculate"`
	}
	call := func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "wallet/withdrawal", body, &apiResp)
	}

	var err error
	if req.CalculateOnly {
		err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
			if cerr := call(ctx); cerr != nil {
				if isRetryable(cerr) {
					return retry.RetryableError(cerr)
				}
				return cerr
			}
			return nil
		})
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}

	return &Withdrawal{
		ID:                  apiResp.ID.String(),
		Currency:            apiResp.CryptoCurrency,
		ToAddress:           apiResp.ToAddress,
		ReceivingAmount:     apiResp.ReceivingAmount,
		BlockchainFeeAmount: apiResp.BlockchainFeeAmount,
		ServiceFeeAmount:    apiResp.ServiceFeeAmount,
		TxIDs:               apiResp.TxIDList,
		CalculateOnly:       apiResp.OnlyCalculate,
	}, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= http.StatusInternalServerError || se.status == http.StatusTooManyRequests
	}
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeDependency
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal processor request")
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build processor request")
	}
	httpReq.Header.Set(apiKeyHeader, c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute processor request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}, "processor request failed")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode processor response")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
