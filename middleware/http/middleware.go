// Package http provides HTTP middleware that gates routes on an entitled
// subscription
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/lumilearn/provision/pkg/provision"
)

// IdentityIDExtractor extracts the identity reference from an HTTP request
// Return empty string if the caller is not authenticated
type IdentityIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Manager resolves account state (required)
	Manager *provision.Manager

	// GetIdentityID extracts the identity reference from the request (required)
	GetIdentityID IdentityIDExtractor

	// AllowPastDue lets past_due subscriptions through the gate. Use this for
	// routes that should keep working during the payment retry window.
	AllowPastDue bool

	// OnDenied is called when the caller has no entitled subscription.
	// rec is nil when no account record exists at all.
	// If nil, returns 402 Payment Required
	OnDenied func(w http.ResponseWriter, r *http.Request, rec *provision.AccountRecord)

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireSubscription creates an HTTP middleware that only admits callers
// whose account mirror carries an entitled subscription status
func RequireSubscription(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identityID := config.GetIdentityID(r)
			if identityID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			ctx := r.Context()
			rec, err := config.Manager.AccountByIdentity(ctx, identityID)
			if err != nil {
				if errors.Is(err, provision.ErrAccountNotFound) {
					config.deny(w, r, nil)
					return
				}
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !entitled(rec, config.AllowPastDue) {
				config.deny(w, r, rec)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(ctx, rec)))
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates a HandlerFunc
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := RequireSubscription(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func (c *Config) deny(w http.ResponseWriter, r *http.Request, rec *provision.AccountRecord) {
	if c.OnDenied != nil {
		c.OnDenied(w, r, rec)
		return
	}
	http.Error(w, "Payment Required", http.StatusPaymentRequired)
}

func entitled(rec *provision.AccountRecord, allowPastDue bool) bool {
	if rec.Status.Entitled() {
		return true
	}
	return allowPastDue && rec.Status == provision.StatusPastDue
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// IdentityIDKey is the context key for the identity reference
	IdentityIDKey ContextKey = "provision:identityID"

	// AccountKey is the context key the middleware stores the admitted
	// account record under
	AccountKey ContextKey = "provision:account"
)

// WithAccount stores an account record in the context
func WithAccount(ctx context.Context, rec *provision.AccountRecord) context.Context {
	return context.WithValue(ctx, AccountKey, rec)
}

// AccountFromContext returns the account record stored by the middleware
func AccountFromContext(ctx context.Context) (*provision.AccountRecord, bool) {
	rec, ok := ctx.Value(AccountKey).(*provision.AccountRecord)
	return rec, ok
}

// FromContext returns an IdentityIDExtractor that reads the request context
func FromContext(key ContextKey) IdentityIDExtractor {
	return func(r *http.Request) string {
		if identityID, ok := r.Context().Value(key).(string); ok {
			return identityID
		}
		return ""
	}
}

// FromHeader returns an IdentityIDExtractor that reads a header
func FromHeader(headerName string) IdentityIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithIdentityID adds an identity reference to the request context
func WithIdentityID(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, IdentityIDKey, identityID)
}
