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

package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/goconductor/conductor/pkg/agent"
)

// GeminiConfig contains configuration for the Gemini scorer.
type GeminiConfig struct {
	// APIKey is the Google AI API key.
	APIKey string

	// Model is the model name (e.g., "gemini-2.0-flash").
	Model string
}

// GeminiScorer asks a Gemini model how well each agent fits a query. The
// model is prompted with agent names and descriptions and must answer with
// a JSON object mapping agent name to a confidence in [0, 1].
type GeminiScorer struct {
	client *genai.Client
	model  string
}

// NewGeminiScorer creates a Gemini-backed scorer.
func NewGeminiScorer(cfg GeminiConfig) (*GeminiScorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	// Use context.Background() for initialization - constructors shouldn't require context
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiScorer{
		client: client,
		model:  cfg.Model,
	}, nil
}

func (s *GeminiScorer) Score(ctx context.Context, query string, agents []agent.Agent) ([]float64, error) {
	if len(agents) == 0 {
		return nil, nil
	}

	prompt := buildScoringPrompt(query, agents)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), config)
	if err != nil {
		return nil, fmt.Errorf("gemini scoring request failed: %w", err)
	}

	var byName map[string]float64
	if err := json.Unmarshal([]byte(resp.Text()), &byName); err != nil {
		return nil, fmt.Errorf("failed to parse scoring response: %w", err)
	}

	scores := make([]float64, len(agents))
	for i, a := range agents {
		scores[i] = clamp01(byName[a.Name])
	}
	return scores, nil
}

func buildScoringPrompt(query string, agents []agent.Agent) string {
	var b strings.Builder
	b.WriteString("You route user queries to specialized agents.\n")
	b.WriteString("For the query below, score how well EACH agent fits on a scale of 0.0 to 1.0.\n\n")
	b.WriteString("Agents:\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s: %s", a.Name, a.Description)
		if len(a.Skills) > 0 {
			fmt.Fprintf(&b, " (skills: %s)", strings.Join(a.Skills, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nQuery: %s\n\n", query)
	b.WriteString("Respond with a JSON object mapping each agent name to its score, nothing else.\n")
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
