package billing

import (
	"context"
	"net/http"

	"github.com/lumilearn/provision/pkg/provision"
)

// Provider is the generic interface a payment gateway integration must
// implement. The gateway is the only externally authoritative source of
// subscription state; everything local is a best-effort mirror.
type Provider interface {
	// Name returns the provider name (e.g. "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes the gateway's
	// asynchronous delivery notifications. The implementation handles
	// signature verification, dispatch, provisioning, and reconciliation
	// internally.
	WebhookHandler() http.Handler

	// SyncCustomer forces a reconciliation of one customer's local mirror
	// from the gateway API. Used for manual repair and nightly
	// reconciliation jobs. Returns the resulting local status.
	SyncCustomer(ctx context.Context, customerID string) (provision.SubscriptionStatus, error)
}
