package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v83"
)

// gatewayAPI is the slice of the Stripe client the provider calls. Tests
// substitute a fake so handlers run without network access.
type gatewayAPI interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) (*stripe.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
}

type apiClient struct {
	client *stripe.Client
}

func newAPIClient(apiKey string) *apiClient {
	// Create Stripe client (new API in v82+)
	return &apiClient{client: stripe.NewClient(apiKey)}
}

func (c *apiClient) CreateCheckoutSession(
	ctx context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	return c.client.V1CheckoutSessions.Create(ctx, params)
}

func (c *apiClient) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return c.client.V1Subscriptions.Retrieve(ctx, id, nil)
}

func (c *apiClient) UpdateSubscriptionMetadata(
	ctx context.Context, id string, metadata map[string]string,
) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionUpdateParams{}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return c.client.V1Subscriptions.Update(ctx, id, params)
}

func (c *apiClient) ListSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)

	var subscriptions []*stripe.Subscription

	// Use new client API for List (v83)
	for sub, err := range c.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, sub)
	}
	return subscriptions, nil
}
