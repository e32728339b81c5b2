package provision_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumilearn/provision/pkg/provision"
)

func TestRetry_SucceedsEventually(t *testing.T) {
	calls := 0
	err := provision.Retry(context.Background(), 5, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("still missing")
	calls := 0
	err := provision.Retry(context.Background(), 4, time.Millisecond, func(ctx context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("Expected last error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("Expected 4 calls, got %d", calls)
	}
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := provision.Retry(ctx, 100, 50*time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("not yet")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before cancel, got %d", calls)
	}
}

func TestRetry_AtLeastOneAttempt(t *testing.T) {
	calls := 0
	err := provision.Retry(context.Background(), 0, time.Millisecond, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("Expected a single successful call, got calls=%d err=%v", calls, err)
	}
}
