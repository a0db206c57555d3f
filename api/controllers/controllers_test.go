package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/processor"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubAccount struct {
	req processor.WithdrawRequest
	err error
}

func (s *stubAccount) GetWalletBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return map[string]decimal.Decimal{"BTC": decimal.RequireFromString("0.25")}, nil
}

func (s *stubAccount) Withdraw(ctx context.Context, req processor.WithdrawRequest) (*processor.Withdrawal, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &processor.Withdrawal{Currency: req.Currency, ToAddress: req.ToAddress, CalculateOnly: req.CalculateOnly}, nil
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get(envHeader))

	rec = httptest.NewRecorder()
	HealthReady(cfg, nil, map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("refused")}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminProcessorWithdraw(t *testing.T) {
	account := &stubAccount{}
	body := `{"currency":"btc","to_address":" bc1qcold ","calculate_only":true}`
	rec := httptest.NewRecorder()
	AdminProcessorWithdraw(account, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "BTC", account.req.Currency)
	assert.Equal(t, "bc1qcold", account.req.ToAddress)
	assert.True(t, account.req.CalculateOnly)
}

func TestAdminProcessorWithdrawValidates(t *testing.T) {
	rec := httptest.NewRecorder()
	AdminProcessorWithdraw(&stubAccount{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"currency":"BTC"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminProcessorBalanceDependencyError(t *testing.T) {
	account := &stubAccount{err: pkgerrors.New(pkgerrors.CodeDependency, "processor timeout")}
	rec := httptest.NewRecorder()
	AdminProcessorBalance(account, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	AdminProcessorBalance(&stubAccount{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"BTC"`)
}
