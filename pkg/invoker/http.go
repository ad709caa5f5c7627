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

package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goconductor/conductor/pkg/agent"
	"github.com/goconductor/conductor/pkg/observability"
)

// invokePayload is the wire request for POST {address}/invoke.
type invokePayload struct {
	Skill string          `json:"skill"`
	Input json.RawMessage `json:"input,omitempty"`
}

// invokeResponse is the wire response from an agent. A populated Error
// field marks a remote business error regardless of status code.
type invokeResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HTTPInvoker invokes skills over the agent HTTP contract:
// POST {address}/invoke with {"skill": ..., "input": ...}.
type HTTPInvoker struct {
	agents         *agent.Registry
	client         *http.Client
	defaultTimeout time.Duration
	metrics        observability.Metrics
}

// HTTPOption configures an HTTPInvoker.
type HTTPOption func(*HTTPInvoker)

// WithDefaultTimeout sets the timeout used when a request carries none.
func WithDefaultTimeout(d time.Duration) HTTPOption {
	return func(i *HTTPInvoker) {
		i.defaultTimeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(i *HTTPInvoker) {
		i.client = c
	}
}

// WithMetrics sets the metrics sink for per-invocation recording.
func WithMetrics(m observability.Metrics) HTTPOption {
	return func(i *HTTPInvoker) {
		i.metrics = m
	}
}

func NewHTTP(agents *agent.Registry, opts ...HTTPOption) *HTTPInvoker {
	inv := &HTTPInvoker{
		agents:         agents,
		client:         &http.Client{},
		defaultTimeout: 30 * time.Second,
		metrics:        observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke performs one attempt against the target agent, bounded by the
// request timeout. The outcome is always a SkillResult; this method never
// panics across the orchestrator boundary.
func (i *HTTPInvoker) Invoke(ctx context.Context, req SkillRequest) SkillResult {
	start := time.Now()
	result := i.invoke(ctx, req)
	duration := time.Since(start)

	outcome := "success"
	if !result.OK() {
		outcome = string(result.Err.Kind)
	}
	i.metrics.RecordInvocation(ctx, req.AgentName, req.Skill, outcome, duration)
	slog.Debug("Skill invocation finished",
		"agent", req.AgentName, "skill", req.Skill,
		"duration", duration, "outcome", outcome)

	return result
}

func (i *HTTPInvoker) invoke(ctx context.Context, req SkillRequest) SkillResult {
	target, err := i.agents.Lookup(req.AgentName)
	if err != nil {
		return Failure(FailureNotFound, fmt.Sprintf("agent '%s' not found", req.AgentName))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = i.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(invokePayload{Skill: req.Skill, Input: req.Input})
	if err != nil {
		return Failure(FailureInternal, fmt.Sprintf("failed to encode request: %v", err))
	}

	url := strings.TrimSuffix(target.Address, "/") + "/invoke"
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Failure(FailureInternal, fmt.Sprintf("failed to build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return classifyTransportError(err)
	}

	var decoded invokeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return Failure(FailureRemote, fmt.Sprintf("agent returned HTTP %d", resp.StatusCode))
		}
		return Failure(FailureInternal, fmt.Sprintf("failed to decode response: %v", err))
	}

	if decoded.Error != "" {
		return Failure(FailureRemote, decoded.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failure(FailureRemote, fmt.Sprintf("agent returned HTTP %d", resp.StatusCode))
	}

	return Success(decoded.Result)
}

// classifyTransportError separates deadline hits from network-level faults.
func classifyTransportError(err error) SkillResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return Failure(FailureTimeout, "invocation deadline exceeded")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Failure(FailureTimeout, "invocation deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return Failure(FailureTransport, "invocation cancelled")
	}
	return Failure(FailureTransport, err.Error())
}
