// Package gin provides Gin middleware that gates routes on an entitled
// subscription
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/lumilearn/provision/pkg/provision"
)

// AccountKey is the Gin context key the middleware stores the admitted
// account record under
const AccountKey = "provision:account"

// IdentityIDExtractor extracts the identity reference from a Gin context
// Return empty string if the caller is not authenticated
type IdentityIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Manager resolves account state (required)
	Manager *provision.Manager

	// GetIdentityID extracts the identity reference from the context (required)
	GetIdentityID IdentityIDExtractor

	// AllowPastDue lets past_due subscriptions through the gate
	AllowPastDue bool

	// OnDenied is called when the caller has no entitled subscription.
	// rec is nil when no account record exists at all.
	// If nil, returns 402 Payment Required
	OnDenied func(c *gongin.Context, rec *provision.AccountRecord)

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// RequireSubscription creates a Gin middleware that only admits callers whose
// account mirror carries an entitled subscription status
func RequireSubscription(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("provision/gin: Config.Manager is required")
	}
	if cfg.GetIdentityID == nil {
		panic("provision/gin: Config.GetIdentityID is required")
	}

	return func(c *gongin.Context) {
		identityID := cfg.GetIdentityID(c)
		if identityID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		rec, err := cfg.Manager.AccountByIdentity(c.Request.Context(), identityID)
		if err != nil {
			if errors.Is(err, provision.ErrAccountNotFound) {
				deny(c, cfg, nil)
				return
			}
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		if !rec.Status.Entitled() && !(cfg.AllowPastDue && rec.Status == provision.StatusPastDue) {
			deny(c, cfg, rec)
			return
		}

		c.Set(AccountKey, rec)
		c.Next()
	}
}

func deny(c *gongin.Context, cfg Config, rec *provision.AccountRecord) {
	if cfg.OnDenied != nil {
		cfg.OnDenied(c, rec)
	} else {
		body := gongin.H{"error": "Subscription required"}
		if rec != nil {
			body["status"] = string(rec.Status)
		}
		c.JSON(http.StatusPaymentRequired, body)
	}
	c.Abort()
}

// AccountFromContext returns the account record stored by the middleware
func AccountFromContext(c *gongin.Context) (*provision.AccountRecord, bool) {
	if val, exists := c.Get(AccountKey); exists {
		if rec, ok := val.(*provision.AccountRecord); ok {
			return rec, true
		}
	}
	return nil, false
}

// Convenience extractors

// FromContext returns an IdentityIDExtractor that reads Gin context values.
// This is the recommended approach for integrating with auth middleware that
// sets the identity via c.Set.
func FromContext(key string) IdentityIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns an IdentityIDExtractor that reads a header
func FromHeader(headerName string) IdentityIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns an IdentityIDExtractor that reads a route parameter
func FromParam(paramName string) IdentityIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
