package stripe

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// signedWebhookRequest builds a POST carrying a full event envelope signed
// the way the gateway signs deliveries: an HMAC-SHA256 of "<ts>.<raw body>".
func signedWebhookRequest(t *testing.T, secret, eventType string, object interface{}) *http.Request {
	t.Helper()

	rawObject, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("Failed to marshal event object: %v", err)
	}
	// A snapshot event envelope needs "object" and "api_version" or the
	// library treats it as a thin event notification and rejects it.
	envelope := map[string]interface{}{
		"id":          "evt_http_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": json.RawMessage(rawObject)},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("Failed to marshal event envelope: %v", err)
	}

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, signature))
	return req
}

func TestWebhookHandler_RejectsInvalidSignature(t *testing.T) {
	env := newTestEnv(t, nil)
	handler := env.provider.WebhookHandler()

	req := signedWebhookRequest(t, "whsec_wrong_secret", "customer.subscription.updated",
		testSubscription("active", nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Unverified delivery status = %d, want 400", rec.Code)
	}
}

func TestWebhookHandler_RejectsMissingSignature(t *testing.T) {
	env := newTestEnv(t, nil)
	handler := env.provider.WebhookHandler()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Unsigned delivery status = %d, want 400", rec.Code)
	}
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	handler := env.provider.WebhookHandler()

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

func TestWebhookHandler_UnknownEventTypeAccepted(t *testing.T) {
	env := newTestEnv(t, nil)
	handler := env.provider.WebhookHandler()

	// A non-2xx here would cause redelivery storms for types we never handle.
	req := signedWebhookRequest(t, testStripeWebhookSecret, "customer.created",
		map[string]string{"id": testCustomerID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Unknown event type status = %d, want 200", rec.Code)
	}
}

func TestWebhookHandler_CheckoutCompletedEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	handler := env.provider.WebhookHandler()

	env.api.addSubscription(testSubscription("active", nil))
	session := map[string]interface{}{
		"id":           "cs_http_1",
		"subscription": map[string]interface{}{"id": testSubscriptionID},
		"customer":     map[string]interface{}{"id": testCustomerID},
		"metadata":     signupMetadata(),
	}

	req := signedWebhookRequest(t, testStripeWebhookSecret, "checkout.session.completed", session)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Delivery status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	account, err := env.manager.AccountByCustomer(context.Background(), testCustomerID)
	if err != nil {
		t.Fatalf("Account was not provisioned: %v", err)
	}
	if account.Status.Entitled() != true {
		t.Errorf("Provisioned account not entitled: %s", account.Status)
	}
}

func TestWebhookHandler_ProcessingFailureInduces500(t *testing.T) {
	env := newTestEnv(t, nil)
	handler := env.provider.WebhookHandler()

	// The referenced subscription does not exist at the gateway, so the
	// handler cannot resolve the checkout; a 500 makes the gateway retry.
	session := map[string]interface{}{
		"id":           "cs_http_2",
		"subscription": map[string]interface{}{"id": "sub_missing"},
		"customer":     map[string]interface{}{"id": testCustomerID},
		"metadata":     signupMetadata(),
	}

	req := signedWebhookRequest(t, testStripeWebhookSecret, "checkout.session.completed", session)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Processing failure status = %d, want 500", rec.Code)
	}
}
