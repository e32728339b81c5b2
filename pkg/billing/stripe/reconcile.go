package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lumilearn/provision/pkg/billing"
	"github.com/lumilearn/provision/pkg/provision"
)

// applyState mirrors a gateway subscription state onto the local account
// keyed by customer reference. An unknown reference means a later event beat
// the provisioning flow: the event is dead-lettered by the manager and
// dropped with a warning instead of retried forever, since provisioning's own
// idempotent re-entry converges the state once it runs.
func (p *Provider) applyState(
	ctx context.Context, event *stripe.Event, identityID, customerID string, state provision.SubscriptionState,
) error {
	eventType := string(event.Type)

	previous := provision.SubscriptionStatus("")
	if existing, err := p.manager.AccountByCustomer(ctx, customerID); err == nil {
		previous = existing.Status
		if identityID == "" {
			identityID = existing.IdentityID
		}
		if state.Tier == "" {
			state.Tier = existing.Tier
		}
	}

	err := p.manager.ApplySubscription(ctx, customerID, eventType, state)
	if errors.Is(err, provision.ErrAccountNotFound) {
		p.logger.Warn("dropping event for unknown customer reference",
			provision.Field{Key: "customerId", Value: customerID},
			provision.Field{Key: "eventType", Value: eventType},
			provision.Field{Key: "status", Value: string(state.Status)},
		)
		p.metrics.RecordWebhookEvent(providerName, eventType, "dropped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply subscription state: %w", err)
	}

	if previous != "" && previous != state.Status {
		p.metrics.RecordStatusChange(providerName, string(previous), string(state.Status))
	}

	return p.fireCallback(ctx, eventType, identityID, customerID, previous, state)
}

func (p *Provider) fireCallback(
	ctx context.Context, eventType, identityID, customerID string,
	previous provision.SubscriptionStatus, state provision.SubscriptionState,
) error {
	if p.config.WebhookCallback == nil {
		return nil
	}
	return p.config.WebhookCallback(ctx, billing.WebhookEvent{
		CustomerID:     customerID,
		IdentityID:     identityID,
		Provider:       providerName,
		EventType:      eventType,
		PreviousStatus: previous,
		NewStatus:      state.Status,
		Tier:           state.Tier,
		EventTimestamp: time.Now().UTC(),
	})
}

// stateFromSubscription maps a gateway subscription onto the local mirror
// fields. Unknown gateway statuses fail open to active rather than stranding
// a paying customer in an undefined state.
func (p *Provider) stateFromSubscription(sub *stripe.Subscription) provision.SubscriptionState {
	state := provision.SubscriptionState{
		Status: provision.MapGatewayStatus(string(sub.Status)),
		Tier:   p.tierFromSubscription(sub),
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		state.TrialEndsAt = &trialEnd
	}
	return state
}

// tierFromSubscription resolves the plan tier from the subscription's price,
// falling back to the tier stamped into metadata at checkout for prices
// missing from the mapping. Empty means unknown; the upsert then preserves
// whatever tier the account already has.
func (p *Provider) tierFromSubscription(sub *stripe.Subscription) provision.PlanTier {
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			if plan, ok := p.PlanForPrice(item.Price.ID); ok {
				return plan.Tier
			}
		}
	}

	if sub.Metadata != nil {
		if tier, err := provision.ParsePlanTier(sub.Metadata[metadataKeyPlanTier]); err == nil {
			return tier
		}
	}
	return ""
}

// SyncCustomer forces a reconciliation of one customer's local mirror from
// the Stripe API. Used for manual repair and nightly reconciliation jobs.
func (p *Provider) SyncCustomer(ctx context.Context, customerID string) (provision.SubscriptionStatus, error) {
	startTime := time.Now()

	subscriptions, err := p.api.ListSubscriptions(ctx, customerID)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/list", "error")
		p.metrics.RecordCustomerSync(providerName, "error")
		return "", fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions/list", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/list", time.Since(startTime))

	var state provision.SubscriptionState
	if sub := latestSubscription(subscriptions); sub != nil {
		state = p.stateFromSubscription(sub)
	} else {
		// Nothing on file at the gateway; the local mirror is stale.
		state = provision.SubscriptionState{Status: provision.StatusCanceled}
	}

	if err := p.manager.ApplySubscription(ctx, customerID, "sync", state); err != nil {
		p.metrics.RecordCustomerSync(providerName, "error")
		if errors.Is(err, provision.ErrAccountNotFound) {
			return "", fmt.Errorf("%w: %s", billing.ErrCustomerNotFound, customerID)
		}
		return "", fmt.Errorf("failed to apply subscription state: %w", err)
	}

	p.metrics.RecordCustomerSync(providerName, "success")
	return state.Status, nil
}

// latestSubscription picks the most recently created subscription. A customer
// normally carries at most one; after a cancel-and-rebuy both can appear
// briefly and the newer one is authoritative.
func latestSubscription(subscriptions []*stripe.Subscription) *stripe.Subscription {
	var latest *stripe.Subscription
	for _, sub := range subscriptions {
		if latest == nil || sub.Created > latest.Created {
			latest = sub
		}
	}
	return latest
}
