package websession

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryBackend keeps session state in process memory with per-entry
// expiry. Suitable for single-instance deployments and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	state   map[string]any
	expires time.Time
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry)}
}

func (b *MemoryBackend) Load(_ context.Context, id string) (map[string]any, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[id]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expires) {
		delete(b.entries, id)
		return nil, false, nil
	}
	// Copy so callers never mutate the stored state, not even through
	// nested maps or slices.
	state, err := cloneState(entry.state)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (b *MemoryBackend) Store(_ context.Context, id string, state map[string]any, ttl time.Duration) error {
	copied, err := cloneState(state)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[id] = memoryEntry{state: copied, expires: time.Now().Add(ttl)}
	return nil
}

// cloneState deep-copies session state through a JSON round trip, the
// same normalization stored state gets from the redis backend.
func cloneState(state map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	copied := make(map[string]any, len(state))
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, err
	}
	return copied, nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, id)
	return nil
}
