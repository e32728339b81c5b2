// Package memory provides in-memory implementations of the provision.Platform,
// provision.SignupVault, and provision.DeadLetter interfaces. Primarily
// intended for testing and development; the Platform can simulate the hosted
// platform's trigger that asynchronously creates a default account after
// identity creation.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumilearn/provision/pkg/provision"
)

// Config holds in-memory platform configuration.
type Config struct {
	// TriggerDelay, when positive, simulates the platform trigger: after
	// CreateIdentity succeeds, a default AccountRecord for the identity is
	// inserted asynchronously after this delay. Zero disables the trigger.
	TriggerDelay time.Duration
}

// Platform implements provision.Platform using in-memory maps.
type Platform struct {
	mu         sync.RWMutex
	identities map[string]*provision.Identity      // email -> identity
	accounts   map[string]*provision.AccountRecord // identityID -> account
	customers  map[string]string                   // customerID -> identityID
	passwords  map[string]string                   // identityID -> bcrypt hash
	config     Config

	// trigger bookkeeping so tests can wait for in-flight trigger inserts
	triggers sync.WaitGroup
}

// New creates a new in-memory platform with the trigger disabled.
func New() *Platform {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a new in-memory platform.
func NewWithConfig(config Config) *Platform {
	return &Platform{
		identities: make(map[string]*provision.Identity),
		accounts:   make(map[string]*provision.AccountRecord),
		customers:  make(map[string]string),
		passwords:  make(map[string]string),
		config:     config,
	}
}

// CreateIdentity implements provision.Platform.
func (p *Platform) CreateIdentity(ctx context.Context, req *provision.NewIdentity) (*provision.Identity, error) {
	if req == nil || req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("invalid identity request")
	}

	email := provision.NormalizeEmail(req.Email)

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	if _, ok := p.identities[email]; ok {
		p.mu.Unlock()
		return nil, provision.ErrIdentityExists
	}

	ident := &provision.Identity{
		ID:            uuid.NewString(),
		Email:         email,
		DisplayName:   req.DisplayName,
		EmailVerified: req.EmailVerified,
		CreatedAt:     time.Now().UTC(),
	}
	p.identities[email] = ident
	p.passwords[ident.ID] = string(hash)
	p.mu.Unlock()

	if p.config.TriggerDelay > 0 {
		p.triggers.Add(1)
		go p.runTrigger(ident.ID)
	}

	identCopy := *ident
	return &identCopy, nil
}

// runTrigger simulates the platform-side trigger that inserts a default
// account for a fresh identity. A conflicting insert means someone else
// created the row first; the trigger silently yields.
func (p *Platform) runTrigger(identityID string) {
	defer p.triggers.Done()
	time.Sleep(p.config.TriggerDelay)

	rec := &provision.AccountRecord{
		IdentityID: identityID,
		UpdatedAt:  time.Now().UTC(),
	}
	_ = p.CreateAccount(context.Background(), rec)
}

// WaitForTriggers blocks until all in-flight trigger inserts have finished.
// Test helper.
func (p *Platform) WaitForTriggers() {
	p.triggers.Wait()
}

// FindIdentityByEmail implements provision.Platform.
func (p *Platform) FindIdentityByEmail(ctx context.Context, email string) (*provision.Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ident, ok := p.identities[provision.NormalizeEmail(email)]
	if !ok {
		return nil, provision.ErrIdentityNotFound
	}

	identCopy := *ident
	return &identCopy, nil
}

// CreateAccount implements provision.Platform.
func (p *Platform) CreateAccount(ctx context.Context, rec *provision.AccountRecord) error {
	if rec == nil || rec.IdentityID == "" {
		return fmt.Errorf("invalid account record")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.accounts[rec.IdentityID]; ok {
		return provision.ErrAccountExists
	}

	recCopy := *rec
	if recCopy.UpdatedAt.IsZero() {
		recCopy.UpdatedAt = time.Now().UTC()
	}
	p.accounts[rec.IdentityID] = &recCopy
	if recCopy.CustomerID != "" {
		p.customers[recCopy.CustomerID] = recCopy.IdentityID
	}
	return nil
}

// GetAccountByIdentity implements provision.Platform.
func (p *Platform) GetAccountByIdentity(ctx context.Context, identityID string) (*provision.AccountRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.accounts[identityID]
	if !ok {
		return nil, provision.ErrAccountNotFound
	}

	recCopy := *rec
	return &recCopy, nil
}

// GetAccountByCustomer implements provision.Platform.
func (p *Platform) GetAccountByCustomer(ctx context.Context, customerID string) (*provision.AccountRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	identityID, ok := p.customers[customerID]
	if !ok {
		return nil, provision.ErrAccountNotFound
	}
	rec, ok := p.accounts[identityID]
	if !ok {
		return nil, provision.ErrAccountNotFound
	}

	recCopy := *rec
	return &recCopy, nil
}

// UpdateAccountByIdentity implements provision.Platform.
func (p *Platform) UpdateAccountByIdentity(
	ctx context.Context, identityID string, upd provision.AccountUpdate,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.accounts[identityID]
	if !ok {
		return provision.ErrAccountNotFound
	}

	if upd.CustomerID != nil {
		rec.CustomerID = *upd.CustomerID
		p.customers[rec.CustomerID] = identityID
	}
	if upd.Tier != nil {
		rec.Tier = *upd.Tier
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.TrialEndsAt != nil {
		trialCopy := *upd.TrialEndsAt
		rec.TrialEndsAt = &trialCopy
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateSubscriptionByCustomer implements provision.Platform.
func (p *Platform) UpdateSubscriptionByCustomer(
	ctx context.Context, customerID string, sub provision.SubscriptionState,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	identityID, ok := p.customers[customerID]
	if !ok {
		return provision.ErrAccountNotFound
	}
	rec, ok := p.accounts[identityID]
	if !ok {
		return provision.ErrAccountNotFound
	}

	if sub.Tier != "" {
		rec.Tier = sub.Tier
	}
	rec.Status = sub.Status
	if sub.TrialEndsAt != nil {
		trialCopy := *sub.TrialEndsAt
		rec.TrialEndsAt = &trialCopy
	} else {
		rec.TrialEndsAt = nil
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// VerifyPassword checks a plaintext password against the stored hash for an
// identity. Test helper; the product's login path lives outside this module.
func (p *Platform) VerifyPassword(identityID, password string) bool {
	p.mu.RLock()
	hash, ok := p.passwords[identityID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
