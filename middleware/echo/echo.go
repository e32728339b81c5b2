// Package echo provides Echo middleware that gates routes on an entitled
// subscription
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lumilearn/provision/pkg/provision"
)

// AccountKey is the Echo context key the middleware stores the admitted
// account record under
const AccountKey = "provision:account"

// IdentityIDExtractor extracts the identity reference from an Echo context
// Return empty string if the caller is not authenticated
type IdentityIDExtractor func(c echo.Context) string

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
	OnDenied func(c echo.Context, rec *provision.AccountRecord) error

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// RequireSubscription creates an Echo middleware that only admits callers
// whose account mirror carries an entitled subscription status
func RequireSubscription(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("provision/echo: Config.Manager is required")
	}
	if cfg.GetIdentityID == nil {
		panic("provision/echo: Config.GetIdentityID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identityID := cfg.GetIdentityID(c)
			if identityID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			rec, err := cfg.Manager.AccountByIdentity(c.Request().Context(), identityID)
			if err != nil {
				if errors.Is(err, provision.ErrAccountNotFound) {
					return deny(c, cfg, nil)
				}
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			}

			if !rec.Status.Entitled() && !(cfg.AllowPastDue && rec.Status == provision.StatusPastDue) {
				return deny(c, cfg, rec)
			}

			c.Set(AccountKey, rec)
			return next(c)
		}
	}
}

func deny(c echo.Context, cfg Config, rec *provision.AccountRecord) error {
	if cfg.OnDenied != nil {
		return cfg.OnDenied(c, rec)
	}
	body := map[string]string{"error": "Subscription required"}
	if rec != nil {
		body["status"] = string(rec.Status)
	}
	return c.JSON(http.StatusPaymentRequired, body)
}

// AccountFromContext returns the account record stored by the middleware
func AccountFromContext(c echo.Context) (*provision.AccountRecord, bool) {
	rec, ok := c.Get(AccountKey).(*provision.AccountRecord)
	return rec, ok
}

// Convenience extractors

// FromContext returns an IdentityIDExtractor that reads Echo context values
func FromContext(key string) IdentityIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns an IdentityIDExtractor that reads a header
func FromHeader(headerName string) IdentityIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns an IdentityIDExtractor that reads a route parameter
func FromParam(paramName string) IdentityIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}
