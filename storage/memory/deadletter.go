package memory

import (
	"context"
	"sync"

	"github.com/lumilearn/provision/pkg/provision"
)

// DeadLetter implements provision.DeadLetter by keeping dropped events in
// memory, keyed by customer reference.
type DeadLetter struct {
	mu      sync.Mutex
	entries map[string][]*provision.DeadLetterEntry
}

// NewDeadLetter creates a new in-memory dead letter.
func NewDeadLetter() *DeadLetter {
	return &DeadLetter{
		entries: make(map[string][]*provision.DeadLetterEntry),
	}
}

// Record implements provision.DeadLetter.
func (d *DeadLetter) Record(ctx context.Context, entry *provision.DeadLetterEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entryCopy := *entry
	d.entries[entry.CustomerID] = append(d.entries[entry.CustomerID], &entryCopy)
	return nil
}

// Entries returns the dropped events recorded for a customer reference.
func (d *DeadLetter) Entries(customerID string) []*provision.DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.entries[customerID]
	out := make([]*provision.DeadLetterEntry, len(entries))
	copy(out, entries)
	return out
}
