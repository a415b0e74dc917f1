package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/crowdpay/payments-service/internal/app"
	"github.com/crowdpay/payments-service/internal/store"
	"github.com/crowdpay/payments-service/pkg/rabbitmq"
)

type stubRepo struct {
	store.Repository
}

type stubProvider struct {
	app.InvoiceProvider
}

func newWebhookHandlers(secret string) *PaymentHandlers {
	svc := app.NewService(context.Background(), &stubRepo{}, &stubProvider{}, &rabbitmq.EventProducerFallback{}, app.NewWatcherRegistry(), nil, app.ServiceConfig{})
	return NewPaymentHandlers(svc, secret)
}

func signPayload(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookHandler_RejectsMissingSignatureWhenSecretConfigured(t *testing.T) {
	handlers := newWebhookHandlers("hook-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/lnbits", strings.NewReader(`{"payment_hash":"abc","paid":false}`))
	rec := httptest.NewRecorder()

	handlers.WebhookHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned delivery, got %d", rec.Code)
	}
}

func TestWebhookHandler_RejectsInvalidSignature(t *testing.T) {
	handlers := newWebhookHandlers("hook-secret")

	body := `{"payment_hash":"abc","paid":false}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/lnbits", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signPayload(body, "wrong-secret"))
	rec := httptest.NewRecorder()

	handlers.WebhookHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
}

func TestWebhookHandler_AcceptsValidSignature(t *testing.T) {
	handlers := newWebhookHandlers("hook-secret")

	body := `{"payment_hash":"abc","paid":false}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/lnbits", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signPayload(body, "hook-secret"))
	rec := httptest.NewRecorder()

	handlers.WebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != app.WebhookOutcomeIgnored {
		t.Fatalf("expected unpaid notification to be ignored, got %q", resp["status"])
	}
}

func TestWebhookHandler_AcceptsUnsignedWhenNoSecretConfigured(t *testing.T) {
	handlers := newWebhookHandlers("")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/lnbits", strings.NewReader(`{"payment_hash":"abc","paid":false}`))
	rec := httptest.NewRecorder()

	handlers.WebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when no secret is configured, got %d", rec.Code)
	}
}

func TestWebhookHandler_RejectsMalformedJSON(t *testing.T) {
	handlers := newWebhookHandlers("")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/lnbits", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()

	handlers.WebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed payload, got %d", rec.Code)
	}
}
