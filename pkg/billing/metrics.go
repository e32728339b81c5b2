package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the gateway.
	// status: "success", "error", or "dropped" (unknown customer reference)
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long a webhook took to process.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "auth_failed", "invalid_payload", "processing_error"
	RecordWebhookError(provider, errorType string)

	// RecordProvisioning records an identity provisioning attempt.
	// outcome: "created", "adopted", "already_provisioned", "fallback", "failed"
	RecordProvisioning(provider, outcome string)

	// RecordProvisioningDuration records how long provisioning took,
	// including the bounded polling for trigger-created rows.
	RecordProvisioningDuration(provider string, duration time.Duration)

	// RecordStatusChange records a local subscription status transition.
	RecordStatusChange(provider, fromStatus, toStatus string)

	// RecordCustomerSync records a manual customer reconciliation.
	// status: "success" or "error"
	RecordCustomerSync(provider, status string)

	// RecordAPICall records an API call to the gateway.
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordProvisioning(_, _ string)                               {}
func (n *NoopMetrics) RecordProvisioningDuration(_ string, _ time.Duration)         {}
func (n *NoopMetrics) RecordStatusChange(_, _, _ string)                            {}
func (n *NoopMetrics) RecordCustomerSync(_, _ string)                               {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
