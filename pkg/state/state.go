// Package state stores per-agent scratch data scoped to a user. Entries
// are keyed by the (agent, user, key) triple so that agents never observe
// another user's data.
package state

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Errors
var (
	ErrNotFound = &Error{Code: "state_not_found", Message: "state entry not found"}
)

// Error is a state-related error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Store is the contract for agent state persistence. Implementations must
// isolate entries by the full (agent, user, key) triple.
type Store interface {
	// Get returns the data stored under the triple, or ErrNotFound.
	Get(ctx context.Context, agent, user, key string) (json.RawMessage, error)

	// Set stores data under the triple, overwriting any previous value.
	Set(ctx context.Context, agent, user, key string, data json.RawMessage) error

	// Delete removes the entry. Deleting a missing entry is a no-op.
	Delete(ctx context.Context, agent, user, key string) error

	// ListKeys returns the keys stored for the agent/user pair, sorted.
	ListKeys(ctx context.Context, agent, user string) ([]string, error)
}

type triple struct {
	agent string
	user  string
	key   string
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	entries map[triple]json.RawMessage
	mu      sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[triple]json.RawMessage),
	}
}

func (s *InMemoryStore) Get(_ context.Context, agent, user, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.entries[triple{agent, user, key}]
	if !ok {
		return nil, ErrNotFound
	}
	// Copy so callers cannot mutate the stored value
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out, nil
}

func (s *InMemoryStore) Set(_ context.Context, agent, user, key string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(json.RawMessage, len(data))
	copy(cp, data)
	s.entries[triple{agent, user, key}] = cp
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, agent, user, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, triple{agent, user, key})
	return nil
}

func (s *InMemoryStore) ListKeys(_ context.Context, agent, user string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for tr := range s.entries {
		if tr.agent == agent && tr.user == user {
			keys = append(keys, tr.key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
