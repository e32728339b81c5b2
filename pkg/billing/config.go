package billing

import (
	"context"
	"net/http"

	"github.com/lumilearn/provision/pkg/provision"
)

// Plan pairs a plan tier with its billing period. Each gateway price maps to
// exactly one Plan.
type Plan struct {
	Tier   provision.PlanTier
	Period provision.BillingPeriod
}

// Config defines the standard configuration all providers accept.
type Config struct {
	// Manager is the provisioning manager that owns the local account mirror
	Manager *provision.Manager

	// PlanMapping maps gateway price IDs to plans.
	// Example: map[string]billing.Plan{"price_std_m": {Tier: "standard", Period: "monthly"}}
	PlanMapping map[string]Plan

	// WebhookSecret is the shared signing secret used to verify inbound
	// webhook deliveries over the exact raw request body.
	WebhookSecret string

	// APIKey is used for outbound API calls to the gateway.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Vault, if set, stores pending-signup payloads in application storage
	// and passes only a generated token through gateway metadata. If nil,
	// the signup payload itself is embedded in metadata.
	Vault provision.SignupVault

	// Notifier receives a fire-and-forget welcome notification after a new
	// signup is provisioned. Failures are logged and swallowed; they never
	// affect the webhook response.
	Notifier WelcomeNotifier

	// Logger is used for structured logging (default: NoopLogger)
	Logger provision.Logger

	// Metrics is an optional metrics collector. If nil, metrics are
	// silently ignored. Use billing/metrics/prometheus for Prometheus.
	Metrics Metrics

	// WebhookCallback, if set, is invoked after a webhook event has been
	// successfully applied to the local mirror. An error fails the webhook
	// (the gateway redelivers).
	WebhookCallback func(ctx context.Context, event WebhookEvent) error
}
