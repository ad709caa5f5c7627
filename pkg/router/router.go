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

// Package router selects which registered agent should handle a query.
// Scoring is pluggable; without a scorer every query goes to the
// configured default agent.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goconductor/conductor/pkg/agent"
)

// Scorer assigns each candidate agent a confidence in [0, 1] for the
// query. The returned slice must be positionally aligned with agents.
type Scorer interface {
	Score(ctx context.Context, query string, agents []agent.Agent) ([]float64, error)
}

// Config holds routing behavior knobs.
type Config struct {
	// DefaultAgent receives queries when no scorer is configured and when
	// the best score falls below MinConfidence. Empty means no fallback.
	DefaultAgent string

	// MinConfidence is the score below which the router falls back to the
	// default agent. Zero disables the floor.
	MinConfidence float64
}

// Router picks an agent for a query.
type Router struct {
	agents *agent.Registry
	scorer Scorer
	config Config
	logger *slog.Logger
}

type Option func(*Router)

// WithScorer installs a confidence scorer.
func WithScorer(s Scorer) Option {
	return func(r *Router) {
		r.scorer = s
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

func New(agents *agent.Registry, config Config, opts ...Option) *Router {
	r := &Router{
		agents: agents,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route returns the name of the agent that should handle the query along
// with the routing confidence.
//
// Without a scorer, every query (including the empty one) routes to the
// default agent at confidence 1.0. With a scorer, the highest-scoring
// agent wins; a strict tie goes to the agent registered first. A best
// score below MinConfidence falls back to the default agent when one is
// configured.
func (r *Router) Route(ctx context.Context, query string) (string, float64, error) {
	if r.scorer == nil {
		if r.config.DefaultAgent == "" {
			return "", 0, fmt.Errorf("no scorer and no default agent configured")
		}
		return r.config.DefaultAgent, 1.0, nil
	}

	candidates := r.agents.List()
	if len(candidates) == 0 {
		if r.config.DefaultAgent != "" {
			return r.config.DefaultAgent, 1.0, nil
		}
		return "", 0, fmt.Errorf("no agents registered")
	}

	scores, err := r.scorer.Score(ctx, query, candidates)
	if err != nil {
		return "", 0, fmt.Errorf("scoring failed: %w", err)
	}
	if len(scores) != len(candidates) {
		return "", 0, fmt.Errorf("scorer returned %d scores for %d agents", len(scores), len(candidates))
	}

	// Candidates come back in registration order, so taking the first
	// strict maximum breaks ties toward the earliest-registered agent.
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	name, confidence := candidates[best].Name, scores[best]
	r.logger.Debug("routed query",
		"agent", name,
		"confidence", confidence,
		"candidates", len(candidates))

	if confidence < r.config.MinConfidence && r.config.DefaultAgent != "" {
		r.logger.Debug("confidence below floor, using default agent",
			"best", name,
			"confidence", confidence,
			"min_confidence", r.config.MinConfidence)
		return r.config.DefaultAgent, 1.0, nil
	}
	return name, confidence, nil
}
