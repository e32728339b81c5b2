package billing

import (
	"time"

	"github.com/lumilearn/provision/pkg/provision"
)

// WebhookEvent describes a successfully applied webhook event. It is passed
// to the WebhookCallback after the local account mirror has been updated.
type WebhookEvent struct {
	// CustomerID is the gateway customer reference the event reconciled
	CustomerID string

	// IdentityID is the local identity, when known (always set for
	// provisioning events, best-effort for pure reconciliation events)
	IdentityID string

	// Provider is the billing provider name ("stripe")
	Provider string

	// EventType is the provider-specific event type
	// (e.g. "checkout.session.completed", "invoice.payment_failed")
	EventType string

	// PreviousStatus is the local status before the event ("" if the
	// account was just provisioned)
	PreviousStatus provision.SubscriptionStatus

	// NewStatus is the local status after the event
	NewStatus provision.SubscriptionStatus

	// Tier is the plan tier after the event
	Tier provision.PlanTier

	// EventTimestamp is when the event occurred (from the gateway)
	EventTimestamp time.Time
}
