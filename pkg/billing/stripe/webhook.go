package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lumilearn/provision/pkg/billing"
	"github.com/lumilearn/provision/pkg/billing/internal"
	"github.com/lumilearn/provision/pkg/provision"
)

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	select {
	case <-r.Context().Done():
		http.Error(w, "request timeout", http.StatusRequestTimeout)
		return
	default:
	}

	// Read and validate body (with size limit protection)
	body, err := internal.ReadBodyStrict(w, r, 256*1024)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	// Extract signature from header
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	// Verify webhook signature over the exact raw body, before any parsing.
	// Unverifiable deliveries are rejected with a 4xx so the gateway does
	// not redeliver them.
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	// Process webhook event. A 500 here induces gateway redelivery; every
	// handler is safe to re-run.
	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processWebhookEvent dispatches a verified event by type. Unknown types are
// accepted and ignored; a non-2xx for an unhandled type would only cause
// redelivery storms.
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	case "invoice.paid", "invoice.payment_succeeded":
		return p.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return p.handleInvoicePaymentFailed(ctx, event)
	case "customer.subscription.updated":
		return p.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	default:
		return nil
	}
}

// handleCheckoutCompleted processes checkout.session.completed events: the
// provisioning trigger for new signups, the activation event for existing
// identities.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	if subscriptionID == "" {
		// Not a subscription checkout - ignore
		return nil
	}

	sub, err := p.api.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	customerID := customerIDFromSubscription(sub)
	if customerID == "" && session.Customer != nil {
		customerID = session.Customer.ID
	}
	if customerID == "" {
		return fmt.Errorf("no customer reference on checkout session %s", session.ID)
	}

	// Session metadata wins over subscription metadata; both carry the
	// checkout intent for sessions created by CreateCheckoutSession.
	metadata := mergeMetadata(session.Metadata, sub.Metadata)

	// Patch intent metadata missing from the subscription so later invoice
	// and subscription events can be resolved without the session.
	sub = p.patchSubscriptionMetadata(ctx, sub, session.Metadata)

	if isSignupIntent(metadata) {
		return p.provisionSignup(ctx, event, customerID, metadata, sub)
	}

	identityID := metadata[metadataKeyIdentity]
	if identityID == "" {
		return fmt.Errorf("%w: checkout session %s carries no identity or signup metadata",
			billing.ErrInvalidWebhookPayload, session.ID)
	}
	return p.activateExisting(ctx, event, identityID, customerID, sub)
}

// handleInvoicePaid processes invoice.paid and invoice.payment_succeeded
// events. The subscription is fetched so the applied state reflects the
// gateway's status at the time of the event (trial conversions land here).
func (p *Provider) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	subscriptionID := subscriptionIDFromInvoice(event.Data.Raw)
	if subscriptionID == "" {
		// Not a subscription invoice - ignore
		return nil
	}

	sub, err := p.api.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	customerID := customerIDFromSubscription(sub)
	if customerID == "" {
		return fmt.Errorf("no customer reference on subscription %s", subscriptionID)
	}

	return p.applyState(ctx, event, "", customerID, p.stateFromSubscription(sub))
}

// handleInvoicePaymentFailed processes invoice.payment_failed events. The
// local status moves to past_due even if the gateway has not flipped the
// subscription yet; access questions should err toward the declined card.
func (p *Provider) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	subscriptionID := subscriptionIDFromInvoice(event.Data.Raw)
	if subscriptionID == "" {
		return nil
	}

	sub, err := p.api.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	customerID := customerIDFromSubscription(sub)
	if customerID == "" {
		return fmt.Errorf("no customer reference on subscription %s", subscriptionID)
	}

	state := p.stateFromSubscription(sub)
	state.Status = provision.StatusPastDue
	return p.applyState(ctx, event, "", customerID, state)
}

// handleSubscriptionUpdated processes customer.subscription.updated events:
// plan changes, trial-to-active transitions, and gateway-driven status moves.
func (p *Provider) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	customerID := customerIDFromSubscription(&subscription)
	if customerID == "" {
		return fmt.Errorf("no customer reference on subscription %s", subscription.ID)
	}

	return p.applyState(ctx, event, "", customerID, p.stateFromSubscription(&subscription))
}

// handleSubscriptionDeleted processes customer.subscription.deleted events.
// Canceled is terminal; reactivation requires a new checkout.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	customerID := customerIDFromSubscription(&subscription)
	if customerID == "" {
		return fmt.Errorf("no customer reference on subscription %s", subscription.ID)
	}

	state := p.stateFromSubscription(&subscription)
	state.Status = provision.StatusCanceled
	state.TrialEndsAt = nil
	return p.applyState(ctx, event, "", customerID, state)
}

// patchSubscriptionMetadata copies checkout intent keys missing from the
// subscription's metadata onto it. Best effort: the session already resolved
// this delivery, the patch only helps later deliveries.
func (p *Provider) patchSubscriptionMetadata(
	ctx context.Context, sub *stripe.Subscription, sessionMetadata map[string]string,
) *stripe.Subscription {
	missing := make(map[string]string)
	for k, v := range sessionMetadata {
		if v == "" {
			continue
		}
		if sub.Metadata == nil || sub.Metadata[k] == "" {
			missing[k] = v
		}
	}
	if len(missing) == 0 {
		return sub
	}

	updated, err := p.api.UpdateSubscriptionMetadata(ctx, sub.ID, missing)
	if err != nil {
		p.logger.Warn("failed to patch subscription metadata",
			provision.Field{Key: "subscriptionId", Value: sub.ID},
			provision.Field{Key: "error", Value: err},
		)
		return sub
	}
	return updated
}

// subscriptionIDFromInvoice extracts the subscription reference from a raw
// invoice payload. The v83 Invoice struct does not surface the field
// directly, and the gateway sends either an ID string or an expanded object.
func subscriptionIDFromInvoice(raw json.RawMessage) string {
	var rawData map[string]interface{}
	if err := json.Unmarshal(raw, &rawData); err != nil {
		return ""
	}
	switch v := rawData["subscription"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	// Newer API versions nest the reference under parent.subscription_details.
	if parent, ok := rawData["parent"].(map[string]interface{}); ok {
		if details, ok := parent["subscription_details"].(map[string]interface{}); ok {
			switch v := details["subscription"].(type) {
			case string:
				return v
			case map[string]interface{}:
				if id, ok := v["id"].(string); ok {
					return id
				}
			}
		}
	}
	return ""
}

func customerIDFromSubscription(sub *stripe.Subscription) string {
	if sub == nil || sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

// mergeMetadata overlays maps left to right; earlier maps win.
func mergeMetadata(maps ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			if _, ok := merged[k]; !ok && v != "" {
				merged[k] = v
			}
		}
	}
	return merged
}

func isSignupIntent(metadata map[string]string) bool {
	return metadata[metadataKeySignupToken] != "" || metadata[metadataKeySignupEmail] != ""
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
