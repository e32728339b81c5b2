package provision

import (
	"context"
	"time"
)

// Platform is the identity & data platform collaborator: create/find/update
// for Identity and AccountRecord. Implementations must surface duplicate
// inserts as ErrIdentityExists/ErrAccountExists so callers can treat a lost
// creation race as success. The platform may run its own triggers that create
// a default AccountRecord asynchronously after CreateIdentity; callers poll
// rather than assume synchronous creation.
type Platform interface {
	// CreateIdentity creates the durable login credential and profile.
	// Returns ErrIdentityExists if an identity already holds the email.
	CreateIdentity(ctx context.Context, req *NewIdentity) (*Identity, error)

	// FindIdentityByEmail looks up an identity by normalized email.
	// Returns ErrIdentityNotFound when absent.
	FindIdentityByEmail(ctx context.Context, email string) (*Identity, error)

	// CreateAccount inserts an AccountRecord. Returns ErrAccountExists if a
	// record already exists for the identity.
	CreateAccount(ctx context.Context, rec *AccountRecord) error

	// GetAccountByIdentity returns the account for an identity reference.
	// Returns ErrAccountNotFound when absent.
	GetAccountByIdentity(ctx context.Context, identityID string) (*AccountRecord, error)

	// GetAccountByCustomer returns the account carrying a gateway customer
	// reference. Returns ErrAccountNotFound when absent.
	GetAccountByCustomer(ctx context.Context, customerID string) (*AccountRecord, error)

	// UpdateAccountByIdentity applies a partial update keyed by identity
	// reference. Returns ErrAccountNotFound when no row matches.
	UpdateAccountByIdentity(ctx context.Context, identityID string, upd AccountUpdate) error

	// UpdateSubscriptionByCustomer overwrites the subscription mirror fields
	// of the account keyed by customer reference. A single keyed write, so
	// concurrent deliveries for the same customer serialize at the platform.
	// Returns ErrAccountNotFound when no row carries the reference.
	UpdateSubscriptionByCustomer(ctx context.Context, customerID string, sub SubscriptionState) error
}

// SignupVault holds pending-signup payloads keyed by a generated token, so
// only the token travels through gateway metadata instead of the raw payload.
type SignupVault interface {
	// Put stores a pending signup and returns its token.
	Put(ctx context.Context, signup *PendingSignup, ttl time.Duration) (string, error)

	// Get returns the pending signup for a token without consuming it, so a
	// redelivered payment event can still resolve the signup if an earlier
	// provisioning attempt failed partway. Returns ErrSignupNotFound for
	// unknown or expired tokens.
	Get(ctx context.Context, token string) (*PendingSignup, error)

	// Delete discards a token once provisioning has completed. Deleting an
	// unknown token is not an error.
	Delete(ctx context.Context, token string) error
}

// DeadLetter durably records reconciliation events dropped for an unknown
// customer reference. Implementations must never fail the caller's main path;
// Record errors are for logging only.
type DeadLetter interface {
	Record(ctx context.Context, entry *DeadLetterEntry) error
}
