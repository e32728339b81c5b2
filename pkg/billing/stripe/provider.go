package stripe

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lumilearn/provision/pkg/billing"
	"github.com/lumilearn/provision/pkg/billing/internal"
	"github.com/lumilearn/provision/pkg/provision"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultSignupTokenTTL    = 24 * time.Hour

	// Metadata keys stamped on the checkout session and duplicated onto the
	// subscription object. Invoice and subscription events only carry the
	// subscription, never the originating session.
	metadataKeyIdentity       = "identity_id"
	metadataKeySignupToken    = "signup_token"
	metadataKeySignupEmail    = "signup_email"
	metadataKeySignupPassword = "signup_password"
	metadataKeySignupName     = "signup_name"
	metadataKeyPlanTier       = "plan_tier"

	// The platform trigger normally creates the account row within a second
	// of identity creation. The second, longer window covers lagging replicas.
	triggerPollAttempts  = 5
	triggerPollInterval  = time.Second
	fallbackPollAttempts = 3
	fallbackPollInterval = 2 * time.Second
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Manager, PlanMapping, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// TrialDays, when positive, starts new subscriptions with a free trial
	// of this many days.
	TrialDays int64

	// SignupTokenTTL bounds vault entries when a Vault is configured.
	// Zero means 24h, roughly the lifetime of a hosted checkout session.
	SignupTokenTTL time.Duration
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	manager       *provision.Manager
	config        Config
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	planMapping   map[string]billing.Plan // Price ID -> Plan
	webhookSecret []byte
	apiKey        string
	api           gatewayAPI
	vault         provision.SignupVault
	notifier      billing.WelcomeNotifier
	logger        provision.Logger
	metrics       billing.Metrics
	signupTTL     time.Duration

	triggerPoll  pollSchedule
	fallbackPoll pollSchedule

	// provisioning collapses concurrent deliveries for the same customer
	// reference into a single provisioning run.
	provisioning singleflight.Group
}

// pollSchedule bounds one round of waiting for the platform trigger.
type pollSchedule struct {
	attempts int
	interval time.Duration
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	webhookSecret := []byte(strings.TrimSpace(config.StripeWebhookSecret))

	planMapping := make(map[string]billing.Plan, len(config.PlanMapping))
	for priceID, plan := range config.PlanMapping {
		planMapping[strings.TrimSpace(priceID)] = plan
	}

	logger := config.Logger
	if logger == nil {
		logger = &provision.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	notifier := config.Notifier
	if notifier == nil {
		notifier = &billing.NoopNotifier{}
	}

	signupTTL := config.SignupTokenTTL
	if signupTTL <= 0 {
		signupTTL = defaultSignupTokenTTL
	}

	limiter := internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow)

	return &Provider{
		manager:       config.Manager,
		config:        config,
		httpClient:    httpClient,
		rateLimiter:   limiter,
		planMapping:   planMapping,
		webhookSecret: webhookSecret,
		apiKey:        apiKey,
		api:           newAPIClient(apiKey),
		vault:         config.Vault,
		notifier:      notifier,
		logger:        logger,
		metrics:       metrics,
		signupTTL:     signupTTL,
		triggerPoll:   pollSchedule{attempts: triggerPollAttempts, interval: triggerPollInterval},
		fallbackPoll:  pollSchedule{attempts: fallbackPollAttempts, interval: fallbackPollInterval},
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}

// PlanForPrice maps a Stripe Price ID to its configured plan.
func (p *Provider) PlanForPrice(priceID string) (billing.Plan, bool) {
	plan, ok := p.planMapping[strings.TrimSpace(priceID)]
	return plan, ok
}

// PriceForPlan returns the Stripe Price ID for a tier and billing period.
// This is the reverse of PlanForPrice.
func (p *Provider) PriceForPlan(tier provision.PlanTier, period provision.BillingPeriod) string {
	for priceID, plan := range p.planMapping {
		if plan.Tier == tier && plan.Period == period {
			return priceID
		}
	}
	return ""
}
