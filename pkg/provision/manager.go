package provision

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds Manager configuration.
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// DeadLetter, if set, records reconciliation events dropped for an
	// unknown customer reference
	DeadLetter DeadLetter
}

// Manager wraps a Platform with the provisioning primitives: create-or-adopt
// account creation, bounded polling for trigger-created rows, and the keyed
// subscription upsert the reconciler drives.
type Manager struct {
	platform   Platform
	logger     Logger
	deadLetter DeadLetter
}

// NewManager creates a new Manager over the given platform.
func NewManager(platform Platform, config Config) (*Manager, error) {
	if platform == nil {
		return nil, ErrPlatformUnavailable
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}

	return &Manager{
		platform:   platform,
		logger:     logger,
		deadLetter: config.DeadLetter,
	}, nil
}

// CreateIdentity creates the durable login credential via the platform.
func (m *Manager) CreateIdentity(ctx context.Context, req *NewIdentity) (*Identity, error) {
	if req == nil || req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("invalid identity request")
	}
	req.Email = NormalizeEmail(req.Email)
	return m.platform.CreateIdentity(ctx, req)
}

// IdentityByEmail looks up an identity by email, normalizing first.
func (m *Manager) IdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	return m.platform.FindIdentityByEmail(ctx, NormalizeEmail(email))
}

// AccountByIdentity returns the account for an identity reference.
func (m *Manager) AccountByIdentity(ctx context.Context, identityID string) (*AccountRecord, error) {
	return m.platform.GetAccountByIdentity(ctx, identityID)
}

// AccountByCustomer returns the account for a gateway customer reference.
func (m *Manager) AccountByCustomer(ctx context.Context, customerID string) (*AccountRecord, error) {
	return m.platform.GetAccountByCustomer(ctx, customerID)
}

// WaitForAccount polls for the account of an identity with a fixed interval.
// The platform's trigger may still be creating the row; a bounded poll covers
// that window without assuming synchronous creation.
func (m *Manager) WaitForAccount(
	ctx context.Context, identityID string, attempts int, interval time.Duration,
) (*AccountRecord, error) {
	var rec *AccountRecord
	err := Retry(ctx, attempts, interval, func(ctx context.Context) error {
		var lookupErr error
		rec, lookupErr = m.platform.GetAccountByIdentity(ctx, identityID)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateOrAdoptAccount inserts an account for the identity, treating a
// conflicting insert as success: if the platform trigger won the creation
// race, the existing row is fetched and adopted.
func (m *Manager) CreateOrAdoptAccount(ctx context.Context, identityID string) (*AccountRecord, error) {
	rec := &AccountRecord{
		IdentityID: identityID,
		UpdatedAt:  time.Now().UTC(),
	}

	err := m.platform.CreateAccount(ctx, rec)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrAccountExists) {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	// Lost the race to the trigger; the row is there now.
	m.logger.Debug("account insert conflicted, adopting existing row",
		Field{Key: "identityId", Value: identityID},
	)
	return m.platform.GetAccountByIdentity(ctx, identityID)
}

// AttachCustomer sets the gateway customer reference on an identity's
// account. The reference is immutable once set: attaching the same value
// again is a no-op, a different value is an error.
func (m *Manager) AttachCustomer(ctx context.Context, identityID, customerID string) error {
	if customerID == "" {
		return fmt.Errorf("empty customer reference")
	}

	rec, err := m.platform.GetAccountByIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if rec.CustomerID == customerID {
		return nil
	}
	if rec.CustomerID != "" {
		return fmt.Errorf("%w: account %s has %s", ErrCustomerRefSet, identityID, rec.CustomerID)
	}

	return m.platform.UpdateAccountByIdentity(ctx, identityID, AccountUpdate{
		CustomerID: &customerID,
	})
}

// UpdateAccountByIdentity applies a partial update keyed by identity
// reference. Used by the provisioner's final fallback when point lookups
// missed a row that nonetheless exists.
func (m *Manager) UpdateAccountByIdentity(ctx context.Context, identityID string, upd AccountUpdate) error {
	return m.platform.UpdateAccountByIdentity(ctx, identityID, upd)
}

// ApplySubscription overwrites the subscription mirror of the account keyed
// by customer reference. When no account carries the reference the event is
// recorded in the dead letter (if configured) and ErrAccountNotFound is
// returned so the caller can warn and drop rather than retry forever.
func (m *Manager) ApplySubscription(ctx context.Context, customerID, eventType string, sub SubscriptionState) error {
	err := m.platform.UpdateSubscriptionByCustomer(ctx, customerID, sub)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrAccountNotFound) && m.deadLetter != nil {
		entry := &DeadLetterEntry{
			CustomerID: customerID,
			EventType:  eventType,
			State:      sub,
			OccurredAt: time.Now().UTC(),
		}
		if dlErr := m.deadLetter.Record(ctx, entry); dlErr != nil {
			m.logger.Error("failed to dead-letter dropped event",
				Field{Key: "customerId", Value: customerID},
				Field{Key: "error", Value: dlErr},
			)
		}
	}
	return err
}
