// Package api provides the outbound HTTP surface of the provisioning flow:
// an endpoint that opens hosted checkout sessions and a read endpoint for the
// caller's mirrored subscription state. Webhook ingestion lives in the billing
// provider, not here.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/lumilearn/provision/pkg/billing"
	"github.com/lumilearn/provision/pkg/billing/stripe"
	"github.com/lumilearn/provision/pkg/provision"
)

// maxRequestBody caps checkout request bodies.
const maxRequestBody = 64 * 1024

var validate = validator.New()

// Handler provides HTTP endpoints for checkout creation and subscription
// inspection
type Handler struct {
	config Config
}

// CreateCheckout opens a hosted checkout session for a plan choice. The body
// either carries a signup payload for a brand-new parent or the caller is
// resolved through Config.GetIdentityID.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	var req CheckoutRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	if err := validate.Struct(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("validation failed: %v", err), http.StatusBadRequest)
		return
	}

	checkout := &stripe.CheckoutRequest{
		Tier:       provision.PlanTier(req.Plan),
		Period:     provision.BillingPeriod(req.BillingPeriod),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	}

	if req.Signup != nil {
		checkout.Signup = &provision.PendingSignup{
			Email:       req.Signup.Email,
			Password:    req.Signup.Password,
			DisplayName: req.Signup.Name,
		}
	} else {
		identityID := h.identityID(r)
		if identityID == "" {
			h.handleError(w, r, fmt.Errorf("authentication required"), http.StatusUnauthorized)
			return
		}
		checkout.IdentityID = identityID
	}

	session, err := h.config.Checkout.CreateCheckoutSession(ctx, checkout)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidCheckout):
			h.handleError(w, r, err, http.StatusBadRequest)
		case errors.Is(err, billing.ErrPlanNotConfigured):
			h.handleError(w, r, err, http.StatusUnprocessableEntity)
		default:
			h.config.Logger.Error("checkout session creation failed",
				provision.Field{Key: "error", Value: err.Error()},
			)
			h.handleError(w, r, fmt.Errorf("payment gateway unavailable"), http.StatusBadGateway)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, CheckoutResponse{
		SessionID:   session.ID,
		RedirectURL: session.URL,
	})
}

// GetSubscription returns the caller's mirrored subscription state.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identityID := h.identityID(r)
	if identityID == "" {
		h.handleError(w, r, fmt.Errorf("authentication required"), http.StatusUnauthorized)
		return
	}

	rec, err := h.config.Manager.AccountByIdentity(ctx, identityID)
	if err != nil {
		if errors.Is(err, provision.ErrAccountNotFound) {
			h.handleError(w, r, fmt.Errorf("no subscription found"), http.StatusNotFound)
			return
		}
		h.handleError(w, r, fmt.Errorf("failed to load subscription: %w", err), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, SubscriptionResponse{
		Tier:        string(rec.Tier),
		Status:      string(rec.Status),
		Entitled:    rec.Status.Entitled(),
		TrialEndsAt: rec.TrialEndsAt,
		UpdatedAt:   rec.UpdatedAt,
	})
}

func (h *Handler) identityID(r *http.Request) string {
	if h.config.GetIdentityID == nil {
		return ""
	}
	return h.config.GetIdentityID(r)
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response already sent
		_ = err
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	h.writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}
