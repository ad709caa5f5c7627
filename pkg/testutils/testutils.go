// Package testutils provides shared fixtures for tests: scripted skill
// invokers, static scorers, and registry builders.
package testutils

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/goconductor/conductor/pkg/agent"
	"github.com/goconductor/conductor/pkg/invoker"
)

// ScriptedInvoker returns pre-scripted results keyed by "agent/skill" and
// records every invocation. Unknown keys produce a NotFound failure.
type ScriptedInvoker struct {
	mu      sync.Mutex
	results map[string][]invoker.SkillResult
	calls   []invoker.SkillRequest

	// Gate, when set, blocks every invocation until it is closed or the
	// invocation's context is done. Lets tests cancel mid-flight.
	Gate chan struct{}
}

func NewScriptedInvoker() *ScriptedInvoker {
	return &ScriptedInvoker{
		results: make(map[string][]invoker.SkillResult),
	}
}

// Script queues results for the agent/skill pair, consumed in order. The
// last result is sticky and serves all further invocations.
func (s *ScriptedInvoker) Script(agentName, skill string, results ...invoker.SkillResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := agentName + "/" + skill
	s.results[key] = append(s.results[key], results...)
}

func (s *ScriptedInvoker) Invoke(ctx context.Context, req invoker.SkillRequest) invoker.SkillResult {
	s.mu.Lock()
	gate := s.Gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return invoker.Failure(invoker.FailureTransport, "invocation cancelled")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)

	key := req.AgentName + "/" + req.Skill
	queue := s.results[key]
	if len(queue) == 0 {
		return invoker.Failure(invoker.FailureNotFound, "no scripted result for "+key)
	}
	result := queue[0]
	if len(queue) > 1 {
		s.results[key] = queue[1:]
	}
	return result
}

// Calls returns a copy of all recorded invocations.
func (s *ScriptedInvoker) Calls() []invoker.SkillRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]invoker.SkillRequest, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many invocations were recorded.
func (s *ScriptedInvoker) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// StaticScorer returns fixed scores regardless of the query.
type StaticScorer struct {
	Scores []float64
	Err    error
}

func (s *StaticScorer) Score(_ context.Context, _ string, _ []agent.Agent) ([]float64, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Scores, nil
}

// NewAgentRegistry builds a registry with agents named after the given
// names, each with a synthetic local address.
func NewAgentRegistry(names ...string) (*agent.Registry, error) {
	reg := agent.NewRegistry()
	for _, name := range names {
		if err := reg.Register(agent.Agent{
			Name:    name,
			Address: "http://" + name + ".test.local",
		}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// JSON is a shorthand for building raw JSON payloads in tests.
func JSON(s string) json.RawMessage {
	return json.RawMessage(s)
}
