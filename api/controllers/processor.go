package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/processor"
)

// ProcessorAccount is the admin view of the processor wallet.
type ProcessorAccount interface {
	GetWalletBalance(ctx context.Context) (map[string]decimal.Decimal, error)
	Withdraw(ctx context.Context, req processor.WithdrawRequest) (*processor.Withdrawal, error)
}

type withdrawRequest struct {
	Currency      string `json:"currency" validate:"required,crypto_currency"`
	ToAddress     string `json:"to_address" validate:"required,max=256"`
	CalculateOnly bool   `json:"calculate_only"`
}

// AdminProcessorBalance returns the processor balance per currency.
func AdminProcessorBalance(account ProcessorAccount, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if account == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "processor client unavailable"))
			return
		}
		balances, err := account.GetWalletBalance(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"balances": balances})
	}
}

// AdminProcessorWithdraw withdraws, or prices a withdrawal of, one currency.
func AdminProcessorWithdraw(account ProcessorAccount, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if account == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "processor client unavailable"))
			return
		}
		var payload withdrawRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"currency":       strings.ToUpper(payload.Currency),
				"calculate_only": payload.CalculateOnly,
			})
		}
		withdrawal, err := account.Withdraw(ctx, processor.WithdrawRequest{
			Currency:      strings.ToUpper(strings.TrimSpace(payload.Currency)),
			ToAddress:     strings.TrimSpace(payload.ToAddress),
			CalculateOnly: payload.CalculateOnly,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil && !payload.CalculateOnly {
			logg.Info(ctx, "processor withdrawal requested")
		}
		responses.WriteSuccess(w, withdrawal)
	}
}
