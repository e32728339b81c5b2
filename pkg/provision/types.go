package provision

import (
	"strings"
	"time"
)

// PlanTier identifies a paid plan of the product.
type PlanTier string

const (
	// TierBasic is the entry-level plan.
	TierBasic PlanTier = "basic"
	// TierStandard is the mid-level plan.
	TierStandard PlanTier = "standard"
	// TierPremium is the top plan.
	TierPremium PlanTier = "premium"
)

// ParsePlanTier validates a raw plan value against the known tiers.
func ParsePlanTier(raw string) (PlanTier, error) {
	switch PlanTier(raw) {
	case TierBasic, TierStandard, TierPremium:
		return PlanTier(raw), nil
	}
	return "", ErrInvalidPlanTier
}

// BillingPeriod identifies how often a plan is billed.
type BillingPeriod string

const (
	// PeriodMonthly bills every month.
	PeriodMonthly BillingPeriod = "monthly"
	// PeriodAnnual bills once a year.
	PeriodAnnual BillingPeriod = "annual"
)

// ParseBillingPeriod validates a raw billing period value.
func ParseBillingPeriod(raw string) (BillingPeriod, error) {
	switch BillingPeriod(raw) {
	case PeriodMonthly, PeriodAnnual:
		return BillingPeriod(raw), nil
	}
	return "", ErrInvalidBillingPeriod
}

// AccountRecord is the local mirror of a parent account's subscription state.
// CustomerID is empty until the first successful checkout and immutable once
// set; it is the join key for all later gateway events for that customer.
// At most one record exists per IdentityID.
type AccountRecord struct {
	IdentityID  string
	CustomerID  string
	Tier        PlanTier
	Status      SubscriptionStatus
	TrialEndsAt *time.Time
	UpdatedAt   time.Time
}

// Identity is the durable login credential and profile, created exactly once
// per human. The password is hashed by the Platform before storage.
type Identity struct {
	ID            string
	Email         string
	DisplayName   string
	EmailVerified bool
	CreatedAt     time.Time
}

// NewIdentity is the request to create an Identity.
type NewIdentity struct {
	Email         string
	Password      string
	DisplayName   string
	EmailVerified bool
}

// PendingSignup is the signup half of a checkout intent: the payload a
// brand-new parent submits before any local record exists. It travels through
// gateway metadata (or a SignupVault token) until payment succeeds.
type PendingSignup struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"name"`
}

// Valid reports whether all signup fields are present.
func (s *PendingSignup) Valid() bool {
	return s != nil && s.Email != "" && s.Password != "" && s.DisplayName != ""
}

// SubscriptionState is the reconciler's upsert payload: the fields of an
// AccountRecord that mirror the gateway subscription. An empty Tier preserves
// the tier already on the record; some gateway events carry no price data.
type SubscriptionState struct {
	Tier        PlanTier
	Status      SubscriptionStatus
	TrialEndsAt *time.Time
}

// AccountUpdate describes a partial update of an AccountRecord. Nil fields
// are left untouched.
type AccountUpdate struct {
	CustomerID  *string
	Tier        *PlanTier
	Status      *SubscriptionStatus
	TrialEndsAt *time.Time
}

// DeadLetterEntry records a reconciliation event that was dropped because no
// AccountRecord carried its customer reference. Kept so an operator (or a
// later provisioning pass) can replay the lost state.
type DeadLetterEntry struct {
	CustomerID string
	EventType  string
	State      SubscriptionState
	OccurredAt time.Time
}

// NormalizeEmail canonicalizes an email address for use as a reconciliation
// key: surrounding whitespace is stripped and the address is lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
