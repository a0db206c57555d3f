package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	processorwebhook "github.com/angelmondragon/settlement-engine/internal/webhooks/processor"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/processor"
)

const testSecret = "whsec_processor"

type fakeProcessorWebhookService struct {
	calls  []processorwebhook.Payload
	status string
	err    error
}

func (f *fakeProcessorWebhookService) Handle(ctx context.Context, payload processorwebhook.Payload) (*processorwebhook.Result, error) {
	f.calls = append(f.calls, payload)
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == "" {
		status = processorwebhook.StatusSettled
	}
	return &processorwebhook.Result{Status: status}, nil
}

func callbackBody() []byte {
	return []byte(`{"id":4242,"address":"bc1qtest","cryptoAmount":"0.0005","cryptoCurrency":"BTC","fiatAmount":"30.00","fiatCurrency":"EUR","isPaid":true,"paymentType":"PAYMENT","hash":"0xabc"}`)
}

func serveCallback(t *testing.T, handler http.HandlerFunc, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/processor", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(processor.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestProcessorWebhook_SignedCallbackIsHandled(t *testing.T) {
	svc := &fakeProcessorWebhookService{}
	handler := ProcessorWebhook(svc, config.ProcessorConfig{WebhookSecret: testSecret}, nil, nil)

	body := callbackBody()
	rec := serveCallback(t, handler, body, processor.SignPayload(testSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(svc.calls))
	}
	got := svc.calls[0]
	if got.ID.String() != "4242" || got.CryptoCurrency != "BTC" || !got.IsPaid {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.CryptoAmount.String() != "0.0005" {
		t.Fatalf("expected crypto amount 0.0005, got %s", got.CryptoAmount)
	}

	var envelope struct {
		Data processorwebhook.Result `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Status != processorwebhook.StatusSettled {
		t.Fatalf("expected settled status, got %q", envelope.Data.Status)
	}
}

func TestProcessorWebhook_InvalidSignature(t *testing.T) {
	svc := &fakeProcessorWebhookService{}
	handler := ProcessorWebhook(svc, config.ProcessorConfig{WebhookSecret: testSecret}, nil, nil)

	body := callbackBody()
	rec := serveCallback(t, handler, body, processor.SignPayload("other-secret", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("service must not run on a bad signature")
	}
}

func TestProcessorWebhook_MissingSignature(t *testing.T) {
	svc := &fakeProcessorWebhookService{}
	handler := ProcessorWebhook(svc, config.ProcessorConfig{WebhookSecret: testSecret}, nil, nil)

	rec := serveCallback(t, handler, callbackBody(), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	permissive := ProcessorWebhook(svc, config.ProcessorConfig{WebhookSecret: testSecret, AllowUnsignedWebhooks: true}, nil, nil)
	rec = serveCallback(t, permissive, callbackBody(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected unsigned callback accepted when allowed, got %d", rec.Code)
	}
	if len(svc.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(svc.calls))
	}
}

func TestProcessorWebhook_MalformedPayloadIsAcknowledgedAsRejected(t *testing.T) {
	svc := &fakeProcessorWebhookService{}
	handler := ProcessorWebhook(svc, config.ProcessorConfig{WebhookSecret: testSecret}, nil, nil)

	for _, body := range [][]byte{
		[]byte(`{"id":`),
		[]byte(`{"cryptoAmount":"0.1","isPaid":true}`),
	} {
		rec := serveCallback(t, handler, body, processor.SignPayload(testSecret, body))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", body, rec.Code)
		}
		var envelope struct {
			Data processorwebhook.Result `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if envelope.Data.Status != processorwebhook.StatusRejected {
			t.Fatalf("expected rejected status for %s, got %q", body, envelope.Data.Status)
		}
	}
	if len(svc.calls) != 0 {
		t.Fatalf("service must not run on malformed payloads")
	}

	// the signature is still checked before the body is parsed
	body := []byte(`{"id":`)
	rec := serveCallback(t, handler, body, processor.SignPayload("other-secret", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned garbage, got %d", rec.Code)
	}
}

func TestProcessorWebhook_DependencyFailureAsksForRedelivery(t *testing.T) {
	svc := &fakeProcessorWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "processor unavailable")}
	handler := ProcessorWebhook(svc, config.ProcessorConfig{WebhookSecret: testSecret}, nil, nil)

	body := callbackBody()
	rec := serveCallback(t, handler, body, processor.SignPayload(testSecret, body))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
