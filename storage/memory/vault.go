package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumilearn/provision/pkg/provision"
)

// Vault implements provision.SignupVault using an in-memory map.
type Vault struct {
	mu      sync.Mutex
	entries map[string]vaultEntry
}

type vaultEntry struct {
	signup    provision.PendingSignup
	expiresAt time.Time
}

// NewVault creates a new in-memory signup vault.
func NewVault() *Vault {
	return &Vault{
		entries: make(map[string]vaultEntry),
	}
}

// Put implements provision.SignupVault.
func (v *Vault) Put(ctx context.Context, signup *provision.PendingSignup, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[token] = vaultEntry{signup: *signup, expiresAt: expiresAt}
	return token, nil
}

// Get implements provision.SignupVault.
func (v *Vault) Get(ctx context.Context, token string) (*provision.PendingSignup, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[token]
	if !ok {
		return nil, provision.ErrSignupNotFound
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(v.entries, token)
		return nil, provision.ErrSignupNotFound
	}

	signupCopy := entry.signup
	return &signupCopy, nil
}

// Delete implements provision.SignupVault.
func (v *Vault) Delete(ctx context.Context, token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, token)
	return nil
}
