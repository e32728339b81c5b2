package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/lumilearn/provision/pkg/billing"
	"github.com/lumilearn/provision/pkg/provision"
)

func testSignup() *provision.PendingSignup {
	return &provision.PendingSignup{
		Email:       "parent@example.com",
		Password:    "hunter2secret",
		DisplayName: "Pat Parent",
	}
}

func TestCreateCheckoutSession_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CheckoutRequest
		want error
	}{
		{
			name: "invalid tier",
			req: &CheckoutRequest{
				Tier: "platinum", Period: provision.PeriodMonthly,
				SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel",
				Signup: testSignup(),
			},
			want: billing.ErrInvalidCheckout,
		},
		{
			name: "invalid period",
			req: &CheckoutRequest{
				Tier: provision.TierStandard, Period: "weekly",
				SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel",
				Signup: testSignup(),
			},
			want: billing.ErrInvalidCheckout,
		},
		{
			name: "missing URLs",
			req: &CheckoutRequest{
				Tier: provision.TierStandard, Period: provision.PeriodMonthly,
				Signup: testSignup(),
			},
			want: billing.ErrInvalidCheckout,
		},
		{
			name: "neither identity nor signup",
			req: &CheckoutRequest{
				Tier: provision.TierStandard, Period: provision.PeriodMonthly,
				SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel",
			},
			want: billing.ErrInvalidCheckout,
		},
		{
			name: "both identity and signup",
			req: &CheckoutRequest{
				Tier: provision.TierStandard, Period: provision.PeriodMonthly,
				SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel",
				IdentityID: "ident-1", Signup: testSignup(),
			},
			want: billing.ErrInvalidCheckout,
		},
		{
			name: "incomplete signup",
			req: &CheckoutRequest{
				Tier: provision.TierStandard, Period: provision.PeriodMonthly,
				SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel",
				Signup: &provision.PendingSignup{Email: "parent@example.com"},
			},
			want: billing.ErrInvalidCheckout,
		},
		{
			name: "unmapped plan",
			req: &CheckoutRequest{
				Tier: provision.TierBasic, Period: provision.PeriodMonthly,
				SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel",
				Signup: testSignup(),
			},
			want: billing.ErrPlanNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.provider.CreateCheckoutSession(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateCheckoutSession error = %v, want %v", err, tt.want)
			}
		})
	}

	if len(env.api.checkouts) != 0 {
		t.Errorf("Rejected requests must not reach the gateway, got %d calls", len(env.api.checkouts))
	}
}

func TestCreateCheckoutSession_SignupMetadata(t *testing.T) {
	env := newTestEnv(t, func(config *Config) {
		config.TrialDays = 7
	})

	session, err := env.provider.CreateCheckoutSession(context.Background(), &CheckoutRequest{
		Tier:       provision.TierStandard,
		Period:     provision.PeriodMonthly,
		SuccessURL: "https://app.test/ok",
		CancelURL:  "https://app.test/cancel",
		Signup: &provision.PendingSignup{
			Email:       "  Pat.Parent@Example.COM ",
			Password:    "hunter2secret",
			DisplayName: "Pat Parent",
		},
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession failed: %v", err)
	}
	if session.ID == "" || session.URL == "" {
		t.Errorf("Expected session id and url, got %+v", session)
	}

	if len(env.api.checkouts) != 1 {
		t.Fatalf("Expected one checkout call, got %d", len(env.api.checkouts))
	}
	params := env.api.checkouts[0]

	// The email is normalized before it leaves the application boundary.
	if got := params.Metadata[metadataKeySignupEmail]; got != "pat.parent@example.com" {
		t.Errorf("Session metadata email = %q, want normalized", got)
	}
	if params.Metadata[metadataKeySignupPassword] != "hunter2secret" {
		t.Error("Session metadata missing signup password")
	}
	if params.Metadata[metadataKeySignupName] != "Pat Parent" {
		t.Error("Session metadata missing signup name")
	}
	if params.Metadata[metadataKeyPlanTier] != string(provision.TierStandard) {
		t.Error("Session metadata missing plan tier")
	}

	// The metadata must also ride on the subscription object: later webhook
	// events carry only the subscription, not the session.
	if params.SubscriptionData == nil {
		t.Fatal("Expected SubscriptionData on checkout params")
	}
	if params.SubscriptionData.Metadata[metadataKeySignupEmail] != "pat.parent@example.com" {
		t.Error("Subscription metadata missing signup email")
	}
	if params.SubscriptionData.TrialPeriodDays == nil || *params.SubscriptionData.TrialPeriodDays != 7 {
		t.Error("Expected 7 trial days on subscription data")
	}

	if params.Customer != nil {
		t.Error("New signup must not attach an existing customer")
	}
	if params.CustomerCreation == nil || *params.CustomerCreation != "always" {
		t.Error("Expected customer creation set to always")
	}
}

func TestCreateCheckoutSession_VaultToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.vault = env.vault

	_, err := env.provider.CreateCheckoutSession(context.Background(), &CheckoutRequest{
		Tier:       provision.TierPremium,
		Period:     provision.PeriodMonthly,
		SuccessURL: "https://app.test/ok",
		CancelURL:  "https://app.test/cancel",
		Signup:     testSignup(),
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession failed: %v", err)
	}

	params := env.api.checkouts[0]
	token := params.Metadata[metadataKeySignupToken]
	if token == "" {
		t.Fatal("Expected signup token in session metadata")
	}
	if params.Metadata[metadataKeySignupPassword] != "" {
		t.Error("Plaintext password must not reach gateway metadata when a vault is configured")
	}

	signup, err := env.vault.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("Vault lookup failed: %v", err)
	}
	if signup.Email != "parent@example.com" {
		t.Errorf("Vault signup email = %s", signup.Email)
	}
}

func TestCreateCheckoutSession_ReusesExistingCustomer(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	ident, err := env.manager.CreateIdentity(ctx, &provision.NewIdentity{
		Email: "existing@example.com", Password: "pw", DisplayName: "Existing",
	})
	if err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}
	env.platform.WaitForTriggers()
	if err := env.manager.AttachCustomer(ctx, ident.ID, testCustomerID); err != nil {
		t.Fatalf("AttachCustomer failed: %v", err)
	}

	_, err = env.provider.CreateCheckoutSession(ctx, &CheckoutRequest{
		Tier:       provision.TierStandard,
		Period:     provision.PeriodAnnual,
		SuccessURL: "https://app.test/ok",
		CancelURL:  "https://app.test/cancel",
		IdentityID: ident.ID,
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession failed: %v", err)
	}

	params := env.api.checkouts[0]
	if params.Customer == nil || *params.Customer != testCustomerID {
		t.Error("Expected existing customer reference on checkout params")
	}
	if params.Metadata[metadataKeyIdentity] != ident.ID {
		t.Error("Expected identity reference in session metadata")
	}
	if params.LineItems[0].Price == nil || *params.LineItems[0].Price != testPriceStandardAnnual {
		t.Error("Expected the annual standard price on the line item")
	}
}
