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

// Package task models the lifecycle of one unit of delegated work:
//
//	Pending → Running → Completed | Failed | Cancelled
//
// Transitions are monotonic: terminal states are absorbing, and
// re-applying a terminal transition is a no-op rather than an error, which
// guards against duplicate completion callbacks from slow agents.
package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns whether this status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of one workflow step.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// WorkflowStep tracks one named stage of a task. Steps are created when the
// orchestrator begins a stage and finalized when the stage's result arrives.
type WorkflowStep struct {
	Name        string          `json:"name"`
	Status      StepStatus      `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// StageOutput pairs a stage name with its result. StageOutputs is kept as
// an ordered slice: insertion order is completion order.
type StageOutput struct {
	Stage  string          `json:"stage"`
	Output json.RawMessage `json:"output"`
}

// Task is one workflow instance. All mutation goes through transition
// methods, which maintain the invariants: monotonic status, append-only
// stage outputs, ErrorMessage set iff Failed.
type Task struct {
	ID           string          `json:"id"`
	Goal         string          `json:"goal"`
	Status       Status          `json:"status"`
	CurrentStage string          `json:"current_stage,omitempty"`
	StageOutputs []StageOutput   `json:"stage_outputs,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Steps        []*WorkflowStep `json:"steps,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	mu sync.RWMutex
}

// New creates a Pending task. CreatedAt and UpdatedAt are identical at
// creation.
func New(goal string) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.New().String(),
		Goal:      goal,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Start moves the task from Pending to Running as the first stage begins.
// Returns false if the task is not Pending.
func (t *Task) Start(stage string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status != StatusPending {
		return false
	}
	t.Status = StatusRunning
	t.CurrentStage = stage
	t.UpdatedAt = time.Now()
	return true
}

// BeginStage appends a Running step for the stage and marks it current.
// No-op on terminal tasks.
func (t *Task) BeginStage(stage string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return false
	}
	t.Status = StatusRunning
	t.CurrentStage = stage
	t.Steps = append(t.Steps, &WorkflowStep{
		Name:      stage,
		Status:    StepRunning,
		StartedAt: time.Now(),
	})
	t.UpdatedAt = time.Now()
	return true
}

// CompleteStage finalizes the stage's step as Completed and appends the
// stage output. No-op on terminal tasks.
func (t *Task) CompleteStage(stage string, result json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return false
	}
	now := time.Now()
	if step := t.findStep(stage); step != nil {
		step.Status = StepCompleted
		step.CompletedAt = &now
		step.Result = result
	}
	t.StageOutputs = append(t.StageOutputs, StageOutput{Stage: stage, Output: result})
	t.UpdatedAt = now
	return true
}

// FailStage finalizes the stage's step as Failed. The task itself is failed
// separately via Fail.
func (t *Task) FailStage(stage, message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return false
	}
	now := time.Now()
	if step := t.findStep(stage); step != nil {
		step.Status = StepFailed
		step.CompletedAt = &now
		step.Error = message
	}
	t.UpdatedAt = now
	return true
}

// Complete drives the task to Completed with the final aggregate result.
// Idempotent on terminal tasks.
func (t *Task) Complete(result json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return false
	}
	t.Status = StatusCompleted
	t.Result = result
	t.CurrentStage = ""
	t.UpdatedAt = time.Now()
	return true
}

// Fail drives the task to Failed with a human-readable message.
// Idempotent on terminal tasks.
func (t *Task) Fail(message string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return false
	}
	t.Status = StatusFailed
	t.ErrorMessage = message
	t.CurrentStage = ""
	t.UpdatedAt = time.Now()
	return true
}

// Cancel drives the task to Cancelled. Idempotent on terminal tasks: a
// late-arriving result for a cancelled task is discarded by the terminal
// guard in CompleteStage/Complete.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Status.IsTerminal() {
		return false
	}
	t.Status = StatusCancelled
	t.CurrentStage = ""
	t.UpdatedAt = time.Now()
	return true
}

// GetStatus returns the current status.
func (t *Task) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// Snapshot returns a deep copy safe to hand to callers while the task is
// still being driven.
func (t *Task) Snapshot() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cp := &Task{
		ID:           t.ID,
		Goal:         t.Goal,
		Status:       t.Status,
		CurrentStage: t.CurrentStage,
		Result:       t.Result,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if len(t.StageOutputs) > 0 {
		cp.StageOutputs = make([]StageOutput, len(t.StageOutputs))
		copy(cp.StageOutputs, t.StageOutputs)
	}
	for _, s := range t.Steps {
		sc := *s
		cp.Steps = append(cp.Steps, &sc)
	}
	return cp
}

func (t *Task) findStep(stage string) *WorkflowStep {
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if t.Steps[i].Name == stage {
			return t.Steps[i]
		}
	}
	return nil
}
