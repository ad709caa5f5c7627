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

// Package invoker implements the skill-invocation protocol: a single remote
// call to an agent with a hard deadline, normalized into a SkillResult
// envelope. Invocations are one deterministic attempt; retry policy belongs
// to the orchestrator, where different stages may want different counts.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// FailureKind classifies why a skill invocation failed.
type FailureKind string

const (
	// FailureNotFound means the target agent is not registered.
	FailureNotFound FailureKind = "not_found"

	// FailureTimeout means the invocation exceeded its deadline.
	FailureTimeout FailureKind = "timeout"

	// FailureTransport means the agent could not be reached (connection
	// refused, DNS failure, and the like).
	FailureTransport FailureKind = "transport"

	// FailureRemote means the agent was reached but reported an error.
	FailureRemote FailureKind = "remote"

	// FailureInternal means a serialization or programming fault.
	FailureInternal FailureKind = "internal"
)

// SkillError describes a failed invocation.
type SkillError struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (e *SkillError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// SkillRequest describes a single invocation of a named skill on an agent.
// Constructed per invocation; never persisted.
type SkillRequest struct {
	AgentName string
	Skill     string
	Input     json.RawMessage

	// Timeout bounds the whole call. Zero means the invoker's default.
	Timeout time.Duration
}

// SkillResult is the uniform result envelope: either Data or Err is set,
// never both.
type SkillResult struct {
	Data json.RawMessage `json:"data,omitempty"`
	Err  *SkillError     `json:"error,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r SkillResult) OK() bool {
	return r.Err == nil
}

// Success builds a successful result.
func Success(data json.RawMessage) SkillResult {
	return SkillResult{Data: data}
}

// Failure builds a failed result.
func Failure(kind FailureKind, message string) SkillResult {
	return SkillResult{Err: &SkillError{Kind: kind, Message: message}}
}

// AsSkillError extracts a SkillError from err, mapping unknown errors to
// FailureInternal.
func AsSkillError(err error) *SkillError {
	var se *SkillError
	if errors.As(err, &se) {
		return se
	}
	return &SkillError{Kind: FailureInternal, Message: err.Error()}
}

// Invoker performs skill invocations against remote agents. Implementations
// never retry internally and never mutate task state.
type Invoker interface {
	Invoke(ctx context.Context, req SkillRequest) SkillResult
}
