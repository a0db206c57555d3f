package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	processorwebhook "github.com/angelmondragon/settlement-engine/internal/webhooks/processor"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/processor"
)

const maxWebhookBody = 1 << 20

type ProcessorWebhookService interface {
	Handle(ctx context.Context, payload processorwebhook.Payload) (*processorwebhook.Result, error)
}

// ProcessorWebhook accepts payment callbacks from the crypto processor.
func ProcessorWebhook(svc ProcessorWebhookService, cfg config.ProcessorConfig, m *metrics.SettlementMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		signature := r.Header.Get(processor.SignatureHeader)
		switch {
		case signature == "" && !cfg.AllowUnsignedWebhooks:
			m.IncWebhookRejected("missing_signature")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing"))
			return
		case signature == "":
			if logg != nil {
				logg.Warn(ctx, "accepting unsigned processor webhook")
			}
		case !processor.VerifySignature(cfg.WebhookSecret, body, signature):
			m.IncWebhookRejected("invalid_signature")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature invalid"))
			return
		}

		var payload processorwebhook.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			reject(ctx, w, m, logg, err)
			return
		}
		if err := validators.ValidateStruct(&payload); err != nil {
			reject(ctx, w, m, logg, err)
			return
		}

		res, err := svc.Handle(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// reject acknowledges an authentic callback the engine cannot use. Redelivery
// would carry the same body, so the processor gets a 200.
func reject(ctx context.Context, w http.ResponseWriter, m *metrics.SettlementMetrics, logg *logger.Logger, err error) {
	m.IncWebhookRejected("malformed")
	if logg != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "processor webhook payload rejected")
	}
	responses.WriteSuccess(w, processorwebhook.Result{Status: processorwebhook.StatusRejected})
}
