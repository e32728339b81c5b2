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

// CheckoutRequest describes a checkout intent: a plan choice plus either an
// existing identity reference or the signup payload of a brand-new parent.
// Exactly one of IdentityID and Signup must be set.
type CheckoutRequest struct {
	Tier   provision.PlanTier
	Period provision.BillingPeriod

	SuccessURL string
	CancelURL  string

	// IdentityID references an already-registered parent re-subscribing or
	// changing plans.
	IdentityID string

	// Signup is the deferred signup of a brand-new parent. No local record
	// is created until the gateway confirms payment.
	Signup *provision.PendingSignup
}

// CheckoutSession is the hosted payment page created for one checkout intent.
type CheckoutSession struct {
	ID  string
	URL string
}

// CreateCheckoutSession validates the intent, stamps it into gateway metadata,
// and opens a hosted checkout session. Nothing is persisted locally; the
// webhook receiver picks the intent back up once payment succeeds.
func (p *Provider) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	startTime := time.Now()

	if req == nil {
		return nil, billing.ErrInvalidCheckout
	}
	tier, err := provision.ParsePlanTier(string(req.Tier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidCheckout, err)
	}
	period, err := provision.ParseBillingPeriod(string(req.Period))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidCheckout, err)
	}
	if req.SuccessURL == "" || req.CancelURL == "" {
		return nil, fmt.Errorf("%w: success and cancel URLs are required", billing.ErrInvalidCheckout)
	}
	if (req.IdentityID == "") == (req.Signup == nil) {
		return nil, fmt.Errorf("%w: exactly one of identity and signup must be set", billing.ErrInvalidCheckout)
	}

	// 1. Resolve plan to Stripe Price ID
	priceID := p.PriceForPlan(tier, period)
	if priceID == "" {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "plan_not_found")
		return nil, fmt.Errorf("%w: %s/%s", billing.ErrPlanNotConfigured, tier, period)
	}

	// 2. Build the metadata the webhook handlers will consume
	metadata := map[string]string{
		metadataKeyPlanTier: string(tier),
	}
	existingCustomer := ""

	if req.Signup != nil {
		signup := *req.Signup
		signup.Email = provision.NormalizeEmail(signup.Email)
		if !signup.Valid() {
			return nil, fmt.Errorf("%w: signup requires email, password and name", billing.ErrInvalidCheckout)
		}

		if p.vault != nil {
			token, vaultErr := p.vault.Put(ctx, &signup, p.signupTTL)
			if vaultErr != nil {
				return nil, fmt.Errorf("failed to store pending signup: %w", vaultErr)
			}
			metadata[metadataKeySignupToken] = token
		} else {
			metadata[metadataKeySignupEmail] = signup.Email
			metadata[metadataKeySignupPassword] = signup.Password
			metadata[metadataKeySignupName] = signup.DisplayName
		}
	} else {
		metadata[metadataKeyIdentity] = req.IdentityID

		// Reuse the gateway customer if this parent checked out before.
		// Only a missing account is ignorable. Fail on real errors (DB down,
		// network issues) to prevent creating duplicate customers in Stripe.
		rec, lookupErr := p.manager.AccountByIdentity(ctx, req.IdentityID)
		switch {
		case lookupErr == nil:
			existingCustomer = rec.CustomerID
		case errors.Is(lookupErr, provision.ErrAccountNotFound):
			// New account; Stripe creates the customer during checkout.
		default:
			p.metrics.RecordAPICall(providerName, "/checkout/sessions", "customer_resolution_failed")
			return nil, fmt.Errorf("failed to resolve customer: %w", lookupErr)
		}
	}

	// 3. Create Checkout Session
	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Metadata = metadata

	// CRITICAL: duplicate the metadata onto the subscription object itself.
	// Invoice and subscription lifecycle events only carry the subscription,
	// never the originating session.
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	for k, v := range metadata {
		params.SubscriptionData.AddMetadata(k, v)
	}
	if p.config.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(p.config.TrialDays)
	}

	// Attach existing customer if found (avoids duplicates)
	if existingCustomer != "" {
		params.Customer = stripe.String(existingCustomer)
	} else {
		params.CustomerCreation = stripe.String("always")
		if req.IdentityID != "" {
			params.ClientReferenceID = stripe.String(req.IdentityID)
		}
	}

	session, err := p.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}
