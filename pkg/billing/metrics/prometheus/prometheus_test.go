package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_RecordWebhookEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordWebhookEvent("stripe", "checkout.session.completed", "success")
	metrics.RecordWebhookEvent("stripe", "invoice.paid", "error")
	metrics.RecordWebhookProcessingDuration("stripe", "invoice.paid", 30*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var events *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "test_billing_webhook_events_total" {
			events = mf
		}
	}
	if events == nil {
		t.Fatal("Expected webhook_events_total to be registered")
	}
	if len(events.GetMetric()) != 2 {
		t.Errorf("Expected 2 label combinations, got %d", len(events.GetMetric()))
	}
}

func TestMetrics_RecordProvisioning(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordProvisioning("stripe", "created")
	metrics.RecordProvisioning("stripe", "created")
	metrics.RecordProvisioning("stripe", "adopted")
	metrics.RecordProvisioningDuration("stripe", 5200*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var total *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "test_billing_provisioning_total" {
			total = mf
		}
	}
	if total == nil {
		t.Fatal("Expected provisioning_total to be registered")
	}
	for _, m := range total.GetMetric() {
		for _, label := range m.GetLabel() {
			if label.GetName() == "outcome" && label.GetValue() == "created" {
				if m.GetCounter().GetValue() != 2 {
					t.Errorf("Expected created=2, got %v", m.GetCounter().GetValue())
				}
			}
		}
	}
}

func TestMetrics_RecordStatusChangeAndAPICalls(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStatusChange("stripe", "trialing", "active")
	metrics.RecordCustomerSync("stripe", "success")
	metrics.RecordAPICall("stripe", "/checkout/sessions", "success")
	metrics.RecordAPICallDuration("stripe", "/checkout/sessions", 120*time.Millisecond)
	metrics.RecordWebhookError("stripe", "auth_failed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 5 {
		t.Errorf("Expected 5 metric families, got %d", len(families))
	}
}
