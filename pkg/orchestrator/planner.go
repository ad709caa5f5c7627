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

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goconductor/conductor/pkg/router"
)

// Stage is one step of a plan: invoke one skill on one agent.
type Stage struct {
	Name    string
	Agent   string
	Skill   string
	Timeout time.Duration // zero uses the invoker's default
}

// Planner resolves a goal into the ordered stages that accomplish it.
type Planner interface {
	Plan(ctx context.Context, goal string) ([]Stage, error)
}

// StaticPlanner selects one of a set of named plans by goal prefix
// ("plan-name: actual goal"). A goal without a recognized prefix uses the
// default plan.
type StaticPlanner struct {
	plans       map[string][]Stage
	defaultPlan string
}

func NewStaticPlanner(plans map[string][]Stage, defaultPlan string) (*StaticPlanner, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("at least one plan is required")
	}
	if defaultPlan != "" {
		if _, ok := plans[defaultPlan]; !ok {
			return nil, fmt.Errorf("default plan %q is not defined", defaultPlan)
		}
	}
	return &StaticPlanner{plans: plans, defaultPlan: defaultPlan}, nil
}

func (p *StaticPlanner) Plan(_ context.Context, goal string) ([]Stage, error) {
	if name, _, ok := strings.Cut(goal, ":"); ok {
		if stages, found := p.plans[strings.TrimSpace(name)]; found {
			return stages, nil
		}
	}
	if p.defaultPlan == "" {
		return nil, fmt.Errorf("no plan matches goal and no default plan configured")
	}
	return p.plans[p.defaultPlan], nil
}

// RouterPlanner produces a single-stage plan targeting whichever agent the
// router picks for the goal.
type RouterPlanner struct {
	router *router.Router
	skill  string
}

// NewRouterPlanner builds a planner that routes each goal to one agent and
// invokes the given skill on it.
func NewRouterPlanner(r *router.Router, skill string) *RouterPlanner {
	return &RouterPlanner{router: r, skill: skill}
}

func (p *RouterPlanner) Plan(ctx context.Context, goal string) ([]Stage, error) {
	agentName, _, err := p.router.Route(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("routing failed: %w", err)
	}
	return []Stage{{
		Name:  agentName,
		Agent: agentName,
		Skill: p.skill,
	}}, nil
}
