// Copyright 2026 The Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"context"
	"sync"
)

// Store is the storage contract the orchestrator persists snapshots
// through. Implementations must support concurrent access to distinct
// tasks; updates to a single task are serialized by the orchestrator
// (stages of one task never run concurrently).
type Store interface {
	// Create persists a new Pending task for the goal and returns it.
	Create(ctx context.Context, goal string) (*Task, error)

	// Get returns a snapshot of the task.
	Get(ctx context.Context, taskID string) (*Task, error)

	// Update persists the current state of the task.
	Update(ctx context.Context, t *Task) error

	// Cancel drives a stored task to Cancelled. Returns ErrTerminal if the
	// task already reached a terminal status.
	Cancel(ctx context.Context, taskID string) (*Task, error)

	// List returns snapshots of all tasks.
	List(ctx context.Context) ([]*Task, error)
}

// Errors
var (
	ErrNotFound = &Error{Code: "task_not_found", Message: "task not found"}
	ErrTerminal = &Error{Code: "task_terminal", Message: "task is in terminal state"}
)

// Error is a task-related error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	tasks map[string]*Task
	order []string
	mu    sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tasks: make(map[string]*Task),
	}
}

func (s *InMemoryStore) Create(_ context.Context, goal string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := New(goal)
	s.tasks[t.ID] = t.Snapshot()
	s.order = append(s.order, t.ID)
	return t, nil
}

func (s *InMemoryStore) Get(_ context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Snapshot(), nil
}

func (s *InMemoryStore) Update(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	s.tasks[t.ID] = t.Snapshot()
	return nil
}

func (s *InMemoryStore) Cancel(_ context.Context, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.GetStatus().IsTerminal() {
		return t.Snapshot(), ErrTerminal
	}
	t.Cancel()
	return t.Snapshot(), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Snapshot())
	}
	return out, nil
}
