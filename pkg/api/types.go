package api

import "time"

// CheckoutRequest is the JSON body of the checkout endpoint. Signup carries
// the deferred-signup payload of a brand-new parent; authenticated callers
// omit it and are resolved via Config.GetIdentityID.
type CheckoutRequest struct {
	Plan          string         `json:"plan" validate:"required,oneof=basic standard premium"`
	BillingPeriod string         `json:"billingPeriod" validate:"required,oneof=monthly annual"`
	SuccessURL    string         `json:"successUrl" validate:"required,url"`
	CancelURL     string         `json:"cancelUrl" validate:"required,url"`
	Signup        *SignupRequest `json:"signup,omitempty"`
}

// SignupRequest is the signup half of a checkout intent.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required,min=1,max=150"`
}

// CheckoutResponse points the caller at the hosted payment page.
type CheckoutResponse struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

// SubscriptionResponse mirrors the caller's account subscription state.
type SubscriptionResponse struct {
	Tier        string     `json:"tier"`
	Status      string     `json:"status"`
	Entitled    bool       `json:"entitled"`
	TrialEndsAt *time.Time `json:"trialEndsAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
