package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/lumilearn/provision/pkg/billing"
	"github.com/lumilearn/provision/pkg/provision"
	"github.com/lumilearn/provision/storage/memory"
)

const (
	testStripeAPIKey         = "sk_test_1234567890"
	testStripeWebhookSecret  = "whsec_test_secret"
	testCustomerID           = "cus_test_123"
	testSubscriptionID       = "sub_test_123"
	testPriceStandardMonthly = "price_standard_monthly"
	testPriceStandardAnnual  = "price_standard_annual"
	testPricePremiumMonthly  = "price_premium_monthly"
)

func testPlanMapping() map[string]billing.Plan {
	return map[string]billing.Plan{
		testPriceStandardMonthly: {Tier: provision.TierStandard, Period: provision.PeriodMonthly},
		testPriceStandardAnnual:  {Tier: provision.TierStandard, Period: provision.PeriodAnnual},
		testPricePremiumMonthly:  {Tier: provision.TierPremium, Period: provision.PeriodMonthly},
	}
}

// fakeGatewayAPI is an in-memory stand-in for the Stripe API.
type fakeGatewayAPI struct {
	mu            sync.Mutex
	subscriptions map[string]*stripe.Subscription
	checkouts     []*stripe.CheckoutSessionCreateParams
}

func newFakeGatewayAPI() *fakeGatewayAPI {
	return &fakeGatewayAPI{subscriptions: make(map[string]*stripe.Subscription)}
}

func (f *fakeGatewayAPI) addSubscription(sub *stripe.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.ID] = sub
}

func (f *fakeGatewayAPI) CreateCheckoutSession(
	_ context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, params)
	return &stripe.CheckoutSession{
		ID:  fmt.Sprintf("cs_test_%d", len(f.checkouts)),
		URL: "https://checkout.stripe.test/pay",
	}, nil
}

func (f *fakeGatewayAPI) RetrieveSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func (f *fakeGatewayAPI) UpdateSubscriptionMetadata(
	_ context.Context, id string, metadata map[string]string,
) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	if sub.Metadata == nil {
		sub.Metadata = make(map[string]string)
	}
	for k, v := range metadata {
		sub.Metadata[k] = v
	}
	return sub, nil
}

func (f *fakeGatewayAPI) ListSubscriptions(_ context.Context, customerID string) ([]*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var subs []*stripe.Subscription
	for _, sub := range f.subscriptions {
		if sub.Customer != nil && sub.Customer.ID == customerID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// testEnv bundles a provider wired to in-memory collaborators.
type testEnv struct {
	platform   *memory.Platform
	vault      *memory.Vault
	deadLetter *memory.DeadLetter
	manager    *provision.Manager
	api        *fakeGatewayAPI
	provider   *Provider
	welcomes   []*billing.Welcome
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWith(t, memory.NewWithConfig(memory.Config{TriggerDelay: time.Millisecond}), mutate)
}

func newTestEnvWith(t *testing.T, platform *memory.Platform, mutate func(*Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		platform:   platform,
		vault:      memory.NewVault(),
		deadLetter: memory.NewDeadLetter(),
		api:        newFakeGatewayAPI(),
	}

	manager, err := provision.NewManager(env.platform, provision.Config{DeadLetter: env.deadLetter})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	env.manager = manager

	config := Config{
		Config: billing.Config{
			Manager:     manager,
			PlanMapping: testPlanMapping(),
			Notifier: billing.NotifierFunc(func(_ context.Context, welcome *billing.Welcome) error {
				env.welcomes = append(env.welcomes, welcome)
				return nil
			}),
		},
		StripeAPIKey:        testStripeAPIKey,
		StripeWebhookSecret: testStripeWebhookSecret,
	}
	if mutate != nil {
		mutate(&config)
	}

	provider, err := NewProvider(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	provider.api = env.api
	provider.triggerPoll = pollSchedule{attempts: 3, interval: 20 * time.Millisecond}
	provider.fallbackPoll = pollSchedule{attempts: 2, interval: 20 * time.Millisecond}
	env.provider = provider

	return env
}

// testSubscription builds a gateway subscription with one standard/monthly item.
func testSubscription(status stripe.SubscriptionStatus, metadata map[string]string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       testSubscriptionID,
		Status:   status,
		Created:  time.Now().Unix(),
		Customer: &stripe.Customer{ID: testCustomerID},
		Metadata: metadata,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: testPriceStandardMonthly}},
			},
		},
	}
}

func mustEvent(t *testing.T, eventType string, payload interface{}) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal event payload: %v", err)
	}
	return &stripe.Event{
		ID:      "evt_test_1",
		Type:    stripe.EventType(eventType),
		Created: time.Now().Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
}

func TestProvider_Name(t *testing.T) {
	env := newTestEnv(t, nil)
	if env.provider.Name() != providerName {
		t.Errorf("Name() = %s, want %s", env.provider.Name(), providerName)
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(Config{StripeAPIKey: testStripeAPIKey})
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured for nil manager, got %v", err)
	}

	manager, err := provision.NewManager(memory.New(), provision.Config{})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	_, err = NewProvider(Config{Config: billing.Config{Manager: manager}})
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured for empty API key, got %v", err)
	}
}

func TestProvider_PlanForPrice(t *testing.T) {
	env := newTestEnv(t, nil)

	plan, ok := env.provider.PlanForPrice(testPriceStandardMonthly)
	if !ok {
		t.Fatal("Expected plan for configured price")
	}
	if plan.Tier != provision.TierStandard || plan.Period != provision.PeriodMonthly {
		t.Errorf("Unexpected plan: %+v", plan)
	}

	if _, ok := env.provider.PlanForPrice("price_unknown"); ok {
		t.Error("Expected no plan for unconfigured price")
	}
}

func TestProvider_PriceForPlan(t *testing.T) {
	env := newTestEnv(t, nil)

	priceID := env.provider.PriceForPlan(provision.TierStandard, provision.PeriodAnnual)
	if priceID != testPriceStandardAnnual {
		t.Errorf("PriceForPlan = %s, want %s", priceID, testPriceStandardAnnual)
	}

	if priceID := env.provider.PriceForPlan(provision.TierBasic, provision.PeriodMonthly); priceID != "" {
		t.Errorf("Expected empty price for unmapped plan, got %s", priceID)
	}
}

func TestProcessWebhookEvent_UnknownType(t *testing.T) {
	env := newTestEnv(t, nil)

	event := mustEvent(t, "customer.created", map[string]string{"id": testCustomerID})
	if err := env.provider.processWebhookEvent(context.Background(), event); err != nil {
		t.Errorf("Unknown event type should be ignored, got %v", err)
	}
}
