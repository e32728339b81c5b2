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

// provisionSignup converges local state for a freshly paid signup: exactly one
// Identity and one AccountRecord, then subscription activation and the welcome
// notification. The gateway has already charged the customer by the time this
// runs; every path below exists to avoid a charged customer without an
// account. Safe to re-run in full on redelivery.
func (p *Provider) provisionSignup(
	ctx context.Context, event *stripe.Event, customerID string, metadata map[string]string, sub *stripe.Subscription,
) error {
	// Concurrent deliveries for the same customer collapse into one run; the
	// losers get the winner's result.
	_, err, _ := p.provisioning.Do(customerID, func() (interface{}, error) {
		return nil, p.provisionCustomer(ctx, event, customerID, metadata, sub)
	})
	return err
}

func (p *Provider) provisionCustomer(
	ctx context.Context, event *stripe.Event, customerID string, metadata map[string]string, sub *stripe.Subscription,
) error {
	startTime := time.Now()
	eventType := string(event.Type)

	// 1. Redelivery check: an account carrying this customer reference means
	// the checkout intent was already consumed.
	_, err := p.manager.AccountByCustomer(ctx, customerID)
	if err == nil {
		p.logger.Info("customer already provisioned, ignoring redelivery",
			provision.Field{Key: "customerId", Value: customerID},
		)
		p.metrics.RecordProvisioning(providerName, "already_provisioned")
		return nil
	}
	if !errors.Is(err, provision.ErrAccountNotFound) {
		return fmt.Errorf("failed to check existing account: %w", err)
	}

	// 2. Resolve the signup payload from the vault token or inline metadata.
	signup, token, err := p.resolveSignup(ctx, metadata)
	if err != nil {
		p.metrics.RecordProvisioning(providerName, "failed")
		return err
	}

	// 3. Create the identity, email pre-verified: payment already proves
	// contactability. A duplicate email means a retried delivery (or a racing
	// one) got here first; adopt the existing identity and resume.
	outcome := "created"
	ident, err := p.manager.CreateIdentity(ctx, &provision.NewIdentity{
		Email:         signup.Email,
		Password:      signup.Password,
		DisplayName:   signup.DisplayName,
		EmailVerified: true,
	})
	if errors.Is(err, provision.ErrIdentityExists) {
		p.logger.Warn("identity already exists, adopting",
			provision.Field{Key: "email", Value: signup.Email},
			provision.Field{Key: "customerId", Value: customerID},
		)
		ident, err = p.manager.IdentityByEmail(ctx, signup.Email)
		outcome = "adopted"
	}
	if err != nil {
		p.metrics.RecordProvisioning(providerName, "failed")
		return fmt.Errorf("failed to create identity: %w", err)
	}

	state := p.stateFromSubscription(sub)
	if state.Tier == "" {
		if tier, terr := provision.ParsePlanTier(metadata[metadataKeyPlanTier]); terr == nil {
			state.Tier = tier
		}
	}

	// 4. Obtain the account record: poll for the platform trigger, then
	// create-or-adopt, then a longer wait for lagging replicas.
	_, err = p.ensureAccount(ctx, ident.ID)
	if err != nil {
		// The row may exist but be invisible to point lookups under
		// replication lag. Write through by identity reference before giving
		// up; this path must never silently drop a paying customer.
		upd := provision.AccountUpdate{
			CustomerID:  &customerID,
			Tier:        &state.Tier,
			Status:      &state.Status,
			TrialEndsAt: state.TrialEndsAt,
		}
		if uerr := p.manager.UpdateAccountByIdentity(ctx, ident.ID, upd); uerr != nil {
			p.logger.Error("CRITICAL: paid customer could not be provisioned",
				provision.Field{Key: "identityId", Value: ident.ID},
				provision.Field{Key: "customerId", Value: customerID},
				provision.Field{Key: "pollError", Value: err},
				provision.Field{Key: "updateError", Value: uerr},
			)
			p.metrics.RecordProvisioning(providerName, "failed")
			return fmt.Errorf("failed to provision account: %w", err)
		}
		outcome = "fallback"
	} else {
		// 5. Attach the customer reference and apply the subscription state.
		if aerr := p.manager.AttachCustomer(ctx, ident.ID, customerID); aerr != nil {
			p.metrics.RecordProvisioning(providerName, "failed")
			return fmt.Errorf("failed to attach customer reference: %w", aerr)
		}
		if serr := p.manager.ApplySubscription(ctx, customerID, eventType, state); serr != nil {
			p.metrics.RecordProvisioning(providerName, "failed")
			return fmt.Errorf("failed to apply subscription state: %w", serr)
		}
	}

	// 6. The intent is consumed; drop the vault entry.
	if token != "" && p.vault != nil {
		if derr := p.vault.Delete(ctx, token); derr != nil {
			p.logger.Warn("failed to delete signup token",
				provision.Field{Key: "customerId", Value: customerID},
				provision.Field{Key: "error", Value: derr},
			)
		}
	}

	p.metrics.RecordProvisioning(providerName, outcome)
	p.metrics.RecordProvisioningDuration(providerName, time.Since(startTime))

	p.logger.Info("provisioned new account",
		provision.Field{Key: "identityId", Value: ident.ID},
		provision.Field{Key: "customerId", Value: customerID},
		provision.Field{Key: "tier", Value: string(state.Tier)},
		provision.Field{Key: "status", Value: string(state.Status)},
		provision.Field{Key: "outcome", Value: outcome},
	)

	// 7. Fire the welcome notification. Best effort: failures never affect
	// the webhook response.
	p.sendWelcome(ctx, signup, state)

	return p.fireCallback(ctx, eventType, ident.ID, customerID, "", state)
}

// ensureAccount obtains the AccountRecord for an identity. The platform
// trigger races to create the row the moment the identity exists, so the
// order is: bounded poll, create-or-adopt, a second longer poll, one final
// create attempt.
func (p *Provider) ensureAccount(ctx context.Context, identityID string) (*provision.AccountRecord, error) {
	rec, err := p.manager.WaitForAccount(ctx, identityID, p.triggerPoll.attempts, p.triggerPoll.interval)
	if err == nil {
		return rec, nil
	}

	rec, err = p.manager.CreateOrAdoptAccount(ctx, identityID)
	if err == nil {
		return rec, nil
	}

	rec, werr := p.manager.WaitForAccount(ctx, identityID, p.fallbackPoll.attempts, p.fallbackPoll.interval)
	if werr == nil {
		return rec, nil
	}

	return p.manager.CreateOrAdoptAccount(ctx, identityID)
}

// resolveSignup returns the pending signup for a checkout delivery, plus the
// vault token it came from (empty for inline metadata).
func (p *Provider) resolveSignup(
	ctx context.Context, metadata map[string]string,
) (*provision.PendingSignup, string, error) {
	if token := metadata[metadataKeySignupToken]; token != "" {
		if p.vault == nil {
			return nil, "", fmt.Errorf("%w: signup token present but no vault configured",
				billing.ErrInvalidWebhookPayload)
		}
		signup, err := p.vault.Get(ctx, token)
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve signup token: %w", err)
		}
		return signup, token, nil
	}

	signup := &provision.PendingSignup{
		Email:       provision.NormalizeEmail(metadata[metadataKeySignupEmail]),
		Password:    metadata[metadataKeySignupPassword],
		DisplayName: metadata[metadataKeySignupName],
	}
	if !signup.Valid() {
		return nil, "", fmt.Errorf("%w: incomplete signup metadata", billing.ErrInvalidWebhookPayload)
	}
	return signup, "", nil
}

// activateExisting handles a checkout completed by an already-registered
// identity: attach the customer reference and mirror the subscription.
func (p *Provider) activateExisting(
	ctx context.Context, event *stripe.Event, identityID, customerID string, sub *stripe.Subscription,
) error {
	err := p.manager.AttachCustomer(ctx, identityID, customerID)
	if errors.Is(err, provision.ErrAccountNotFound) {
		// Registered identity without an account row; the trigger may never
		// have fired for it. Create one and retry.
		if _, cerr := p.manager.CreateOrAdoptAccount(ctx, identityID); cerr != nil {
			return fmt.Errorf("failed to create account for identity %s: %w", identityID, cerr)
		}
		err = p.manager.AttachCustomer(ctx, identityID, customerID)
	}
	if err != nil {
		return fmt.Errorf("failed to attach customer reference: %w", err)
	}

	return p.applyState(ctx, event, identityID, customerID, p.stateFromSubscription(sub))
}

func (p *Provider) sendWelcome(ctx context.Context, signup *provision.PendingSignup, state provision.SubscriptionState) {
	welcome := &billing.Welcome{
		Email:       signup.Email,
		DisplayName: signup.DisplayName,
		Tier:        state.Tier,
		Trialing:    state.Status == provision.StatusTrialing,
	}
	if err := p.notifier.SendWelcome(ctx, welcome); err != nil {
		p.logger.Warn("welcome notification failed",
			provision.Field{Key: "email", Value: signup.Email},
			provision.Field{Key: "error", Value: err},
		)
	}
}
