package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lumilearn/provision/pkg/billing/stripe"
	"github.com/lumilearn/provision/pkg/provision"
)

// CheckoutService opens hosted checkout sessions. Satisfied by
// *stripe.Provider.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, req *stripe.CheckoutRequest) (*stripe.CheckoutSession, error)
}

// Config holds configuration for the checkout API handler
type Config struct {
	// Checkout opens hosted checkout sessions (required)
	Checkout CheckoutService

	// Manager resolves account state for GetSubscription (required)
	Manager *provision.Manager

	// GetIdentityID extracts the authenticated identity reference from an
	// HTTP request. Optional; without it only signup checkouts are served.
	GetIdentityID func(*http.Request) string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional; defaults to a no-op logger
	Logger provision.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Checkout == nil {
		return fmt.Errorf("checkout service is required")
	}
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	return nil
}

// NewHandler creates a new checkout API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &provision.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// Helper functions for common identity extraction patterns

// FromHeader returns a GetIdentityID function that extracts the identity
// reference from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetIdentityID function that extracts the identity
// reference from the request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if identityID, ok := r.Context().Value(key).(string); ok {
			return identityID
		}
		return ""
	}
}
