// Package fiber provides Fiber middleware that gates routes on an entitled
// subscription
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/lumilearn/provision/pkg/provision"
)

// AccountKey is the Fiber locals key the middleware stores the admitted
// account record under
const AccountKey = "provision:account"

// IdentityIDExtractor extracts the identity reference from a Fiber context
// Return empty string if the caller is not authenticated
type IdentityIDExtractor func(c *fiber.Ctx) string

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
	OnDenied func(c *fiber.Ctx, rec *provision.AccountRecord) error

	// OnUnauthorized is called when the caller is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// RequireSubscription creates a Fiber middleware that only admits callers
// whose account mirror carries an entitled subscription status
func RequireSubscription(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("provision/fiber: Config.Manager is required")
	}
	if cfg.GetIdentityID == nil {
		panic("provision/fiber: Config.GetIdentityID is required")
	}

	return func(c *fiber.Ctx) error {
		identityID := cfg.GetIdentityID(c)
		if identityID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}

		rec, err := cfg.Manager.AccountByIdentity(c.UserContext(), identityID)
		if err != nil {
			if errors.Is(err, provision.ErrAccountNotFound) {
				return deny(c, cfg, nil)
			}
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		}

		if !rec.Status.Entitled() && !(cfg.AllowPastDue && rec.Status == provision.StatusPastDue) {
			return deny(c, cfg, rec)
		}

		c.Locals(AccountKey, rec)
		return c.Next()
	}
}

func deny(c *fiber.Ctx, cfg Config, rec *provision.AccountRecord) error {
	if cfg.OnDenied != nil {
		return cfg.OnDenied(c, rec)
	}
	body := fiber.Map{"error": "Subscription required"}
	if rec != nil {
		body["status"] = string(rec.Status)
	}
	return c.Status(fiber.StatusPaymentRequired).JSON(body)
}

// AccountFromContext returns the account record stored by the middleware
func AccountFromContext(c *fiber.Ctx) (*provision.AccountRecord, bool) {
	rec, ok := c.Locals(AccountKey).(*provision.AccountRecord)
	return rec, ok
}

// Convenience extractors

// FromLocals returns an IdentityIDExtractor that reads Fiber locals
func FromLocals(key string) IdentityIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns an IdentityIDExtractor that reads a header
func FromHeader(headerName string) IdentityIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns an IdentityIDExtractor that reads a route parameter
func FromParam(paramName string) IdentityIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
