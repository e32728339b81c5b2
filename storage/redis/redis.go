// Package redis provides a Redis implementation of the provision.SignupVault
// interface. Pending signups are stored as JSON under generated tokens with a
// TTL, so only the opaque token travels through gateway metadata.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lumilearn/provision/pkg/provision"
)

// Vault implements provision.SignupVault using Redis
type Vault struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis vault configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "provision:signup:")
	KeyPrefix string

	// DefaultTTL is used when Put is called with a zero TTL
	DefaultTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "provision:signup:",
		DefaultTTL: 24 * time.Hour,
	}
}

// New creates a new Redis vault adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Vault, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "provision:signup:"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 24 * time.Hour
	}

	return &Vault{client: client, config: config}, nil
}

func (v *Vault) key(token string) string {
	return v.config.KeyPrefix + token
}

// Put implements provision.SignupVault
func (v *Vault) Put(ctx context.Context, signup *provision.PendingSignup, ttl time.Duration) (string, error) {
	if !signup.Valid() {
		return "", fmt.Errorf("incomplete signup payload")
	}
	if ttl <= 0 {
		ttl = v.config.DefaultTTL
	}

	payload, err := json.Marshal(signup)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signup: %w", err)
	}

	token := uuid.NewString()
	if err := v.client.Set(ctx, v.key(token), payload, ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store signup: %w", err)
	}

	return token, nil
}

// Get implements provision.SignupVault. Expired keys vanish from Redis, so
// expiry and unknown tokens are indistinguishable here.
func (v *Vault) Get(ctx context.Context, token string) (*provision.PendingSignup, error) {
	payload, err := v.client.Get(ctx, v.key(token)).Bytes()
	if err == redis.Nil {
		return nil, provision.ErrSignupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signup: %w", err)
	}

	var signup provision.PendingSignup
	if err := json.Unmarshal(payload, &signup); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signup: %w", err)
	}

	return &signup, nil
}

// Delete implements provision.SignupVault. Deleting an unknown token is not
// an error.
func (v *Vault) Delete(ctx context.Context, token string) error {
	if err := v.client.Del(ctx, v.key(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete signup: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (v *Vault) Ping(ctx context.Context) error {
	return v.client.Ping(ctx).Err()
}
