package billing

import (
	"context"

	"github.com/lumilearn/provision/pkg/provision"
)

// Welcome carries everything the transactional email sender needs to greet a
// freshly provisioned parent account.
type Welcome struct {
	Email       string
	DisplayName string
	Tier        provision.PlanTier
	Trialing    bool
}

// WelcomeNotifier is the transactional email collaborator. Implementations
// are fire-and-forget: the caller ignores errors beyond logging and never
// retries.
type WelcomeNotifier interface {
	SendWelcome(ctx context.Context, welcome *Welcome) error
}

// NotifierFunc adapts a function to the WelcomeNotifier interface.
type NotifierFunc func(ctx context.Context, welcome *Welcome) error

func (f NotifierFunc) SendWelcome(ctx context.Context, welcome *Welcome) error {
	return f(ctx, welcome)
}

// NoopNotifier is a no-op implementation of the WelcomeNotifier interface.
type NoopNotifier struct{}

func (n *NoopNotifier) SendWelcome(_ context.Context, _ *Welcome) error { return nil }
