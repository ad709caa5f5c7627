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

// Package orchestrator drives tasks through their plans. Each submitted
// goal becomes one task executed by one goroutine: stages run sequentially,
// each stage's output feeds the next, and the first failure fails the task.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/goconductor/conductor/pkg/invoker"
	"github.com/goconductor/conductor/pkg/observability"
	"github.com/goconductor/conductor/pkg/task"
)

// StatusEvent is published to subscribers on every task transition.
type StatusEvent struct {
	TaskID    string      `json:"task_id"`
	Status    task.Status `json:"status"`
	Stage     string      `json:"stage,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// handle tracks one running task goroutine so in-flight work can be
// cancelled and awaited. Nothing here is fire-and-forget.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator executes goals as tasks.
type Orchestrator struct {
	planner Planner
	invoker invoker.Invoker
	store   task.Store
	metrics observability.Metrics
	logger  *slog.Logger

	persistTimeout time.Duration
	persistRetries uint

	mu      sync.RWMutex
	live    map[string]*task.Task
	handles map[string]*handle

	subscribersMu sync.RWMutex
	subscribers   map[string][]chan StatusEvent
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func WithMetrics(m observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithPersistRetries bounds how many times a failed store update is
// retried before the task is failed.
func WithPersistRetries(n uint) Option {
	return func(o *Orchestrator) {
		o.persistRetries = n
	}
}

func New(planner Planner, inv invoker.Invoker, store task.Store, opts ...Option) (*Orchestrator, error) {
	if planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if inv == nil {
		return nil, fmt.Errorf("invoker is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	o := &Orchestrator{
		planner:        planner,
		invoker:        inv,
		store:          store,
		metrics:        observability.NoopMetrics{},
		logger:         slog.Default(),
		persistTimeout: 10 * time.Second,
		persistRetries: 3,
		live:           make(map[string]*task.Task),
		handles:        make(map[string]*handle),
		subscribers:    make(map[string][]chan StatusEvent),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Submit creates a Pending task for the goal and starts executing it.
// It returns as soon as the task is persisted; execution continues in the
// background and is observable via Status, Subscribe, and Wait.
func (o *Orchestrator) Submit(ctx context.Context, goal string) (string, error) {
	t, err := o.store.Create(ctx, goal)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	// Execution outlives the submitting request, so the run context is
	// detached from ctx. Cancellation goes through Cancel.
	runCtx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	o.live[t.ID] = t
	o.handles[t.ID] = h
	o.mu.Unlock()

	o.logger.Info("task submitted", "task_id", t.ID, "goal", goal)

	go o.run(runCtx, t, h)
	return t.ID, nil
}

// Status returns a snapshot of the task, live or stored.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (*task.Task, error) {
	o.mu.RLock()
	t, ok := o.live[taskID]
	o.mu.RUnlock()

	if ok {
		return t.Snapshot(), nil
	}
	return o.store.Get(ctx, taskID)
}

// Cancel stops a task. An in-flight invocation is interrupted via its
// context; its late result is discarded. Cancelling a finished task
// returns task.ErrTerminal, an unknown one task.ErrNotFound.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	o.mu.RLock()
	t, live := o.live[taskID]
	h := o.handles[taskID]
	o.mu.RUnlock()

	if !live {
		_, err := o.store.Cancel(ctx, taskID)
		return err
	}

	if !t.Cancel() {
		return task.ErrTerminal
	}
	o.logger.Info("task cancelled", "task_id", taskID)
	if h != nil {
		h.cancel()
	}
	return nil
}

// Subscribe returns a channel of status events for the task. A terminal
// task yields its final status and a closed channel. The subscription ends
// when the task finishes or ctx is done.
func (o *Orchestrator) Subscribe(ctx context.Context, taskID string) (<-chan StatusEvent, error) {
	snap, err := o.Status(ctx, taskID)
	if err != nil {
		return nil, err
	}

	ch := make(chan StatusEvent, 100)

	if snap.Status.IsTerminal() {
		ch <- StatusEvent{TaskID: taskID, Status: snap.Status, Timestamp: snap.UpdatedAt}
		close(ch)
		return ch, nil
	}

	o.subscribersMu.Lock()
	o.subscribers[taskID] = append(o.subscribers[taskID], ch)
	o.subscribersMu.Unlock()

	// The task may have finished between the snapshot and registration,
	// after closeTaskSubscribers already ran. Re-check so a late
	// registration still gets its final event and a closed channel.
	o.finalizeIfTerminal(ctx, taskID, ch)

	go func() {
		<-ctx.Done()
		o.unsubscribe(taskID, ch)
	}()

	return ch, nil
}

// finalizeIfTerminal delivers the final event and closes ch if the task
// turned terminal before ch was registered. Holding subscribersMu while
// checking membership keeps this single-close: closeTaskSubscribers and
// this method cannot both own the channel.
func (o *Orchestrator) finalizeIfTerminal(ctx context.Context, taskID string, ch chan StatusEvent) {
	snap, err := o.Status(ctx, taskID)
	if err != nil || !snap.Status.IsTerminal() {
		return
	}

	o.subscribersMu.Lock()
	defer o.subscribersMu.Unlock()

	subscribers := o.subscribers[taskID]
	for i, sub := range subscribers {
		if sub == ch {
			o.subscribers[taskID] = append(subscribers[:i], subscribers[i+1:]...)
			select {
			case ch <- StatusEvent{TaskID: taskID, Status: snap.Status, Timestamp: snap.UpdatedAt}:
			default:
			}
			close(ch)
			return
		}
	}
}

// Wait blocks until the task's goroutine finishes. Returns immediately for
// unknown or already-finished tasks.
func (o *Orchestrator) Wait(taskID string) {
	o.mu.RLock()
	h, ok := o.handles[taskID]
	o.mu.RUnlock()

	if ok {
		<-h.done
	}
}

// Shutdown cancels all running tasks and waits for their goroutines.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	handles := make([]*handle, 0, len(o.handles))
	ids := make([]string, 0, len(o.handles))
	for id, h := range o.handles {
		handles = append(handles, h)
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	for i, h := range handles {
		o.mu.RLock()
		t := o.live[ids[i]]
		o.mu.RUnlock()
		if t != nil {
			t.Cancel()
		}
		h.cancel()
	}

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// run executes the task's plan sequentially. Exactly one run goroutine
// exists per task, and it is the only writer of that task's transitions
// besides Cancel.
func (o *Orchestrator) run(ctx context.Context, t *task.Task, h *handle) {
	// The handle is evicted only after done is closed: a Wait that grabbed
	// the handle earlier unblocks, a later Wait finds nothing and returns.
	defer func() {
		close(h.done)
		o.mu.Lock()
		delete(o.handles, t.ID)
		o.mu.Unlock()
	}()
	defer o.finish(t)

	stages, err := o.planner.Plan(ctx, t.Goal)
	if err != nil {
		o.failTask(t, fmt.Sprintf("planning failed: %v", err))
		return
	}
	if len(stages) == 0 {
		o.failTask(t, "plan resolved to zero stages")
		return
	}

	if !t.Start(stages[0].Name) {
		// Cancelled before the first stage began
		o.persist(t)
		return
	}
	o.persist(t)
	o.publish(t, stages[0].Name)

	// The goal seeds the first stage; afterwards each stage consumes its
	// predecessor's output.
	input, err := json.Marshal(t.Goal)
	if err != nil {
		o.failTask(t, fmt.Sprintf("failed to encode goal: %v", err))
		return
	}

	for _, stage := range stages {
		if !t.BeginStage(stage.Name) {
			return
		}
		o.persist(t)
		o.publish(t, stage.Name)

		result := o.invoker.Invoke(ctx, invoker.SkillRequest{
			AgentName: stage.Agent,
			Skill:     stage.Skill,
			Input:     input,
			Timeout:   stage.Timeout,
		})

		if !result.OK() {
			// Transition guards make late failures after cancellation
			// no-ops.
			// The task carries the failure message verbatim; the stage
			// context lives in the step record and the log line.
			t.FailStage(stage.Name, result.Err.Message)
			if t.Fail(result.Err.Message) {
				o.logger.Warn("task failed",
					"task_id", t.ID,
					"stage", stage.Name,
					"kind", result.Err.Kind,
					"error", result.Err.Message)
			}
			return
		}

		if !t.CompleteStage(stage.Name, result.Data) {
			// Cancelled mid-flight: discard the late result
			return
		}
		o.persist(t)
		input = result.Data
	}

	if t.Complete(input) {
		o.logger.Info("task completed", "task_id", t.ID, "stages", len(stages))
	}
}

// finish persists the final state, notifies subscribers, records metrics,
// and releases the live entry. run evicts the handle afterwards.
func (o *Orchestrator) finish(t *task.Task) {
	o.persist(t)

	snap := t.Snapshot()
	o.publish(t, "")
	o.closeTaskSubscribers(t.ID)
	o.metrics.RecordTaskFinished(context.Background(), string(snap.Status))

	o.mu.Lock()
	delete(o.live, t.ID)
	o.mu.Unlock()
}

func (o *Orchestrator) failTask(t *task.Task, message string) {
	if t.Fail(message) {
		o.logger.Warn("task failed", "task_id", t.ID, "error", message)
	}
}

// persist writes a snapshot through the store, retrying transient failures
// with exponential backoff. A store that stays down fails the task but
// never panics the orchestrator.
func (o *Orchestrator) persist(t *task.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), o.persistTimeout)
	defer cancel()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, o.store.Update(ctx, t)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(o.persistRetries),
	)
	if err != nil {
		o.logger.Error("failed to persist task", "task_id", t.ID, "error", err)
		t.Fail(fmt.Sprintf("persistence failure: %v", err))
	}
}

func (o *Orchestrator) publish(t *task.Task, stage string) {
	snap := t.Snapshot()
	event := StatusEvent{
		TaskID:    snap.ID,
		Status:    snap.Status,
		Stage:     stage,
		Timestamp: snap.UpdatedAt,
	}

	o.subscribersMu.RLock()
	subscribers := o.subscribers[t.ID]
	o.subscribersMu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			// A slow subscriber drops events rather than stalling the task
		}
	}
}

func (o *Orchestrator) closeTaskSubscribers(taskID string) {
	o.subscribersMu.Lock()
	defer o.subscribersMu.Unlock()

	if subscribers, exists := o.subscribers[taskID]; exists {
		for _, ch := range subscribers {
			close(ch)
		}
		delete(o.subscribers, taskID)
	}
}

func (o *Orchestrator) unsubscribe(taskID string, ch chan StatusEvent) {
	o.subscribersMu.Lock()
	defer o.subscribersMu.Unlock()

	if subscribers, exists := o.subscribers[taskID]; exists {
		for i, sub := range subscribers {
			if sub == ch {
				o.subscribers[taskID] = append(subscribers[:i], subscribers[i+1:]...)
				close(ch)
				break
			}
		}
	}
}
