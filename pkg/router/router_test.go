package router

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goconductor/conductor/pkg/agent"
)

type staticScorer struct {
	scores []float64
	err    error
}

func (s *staticScorer) Score(_ context.Context, _ string, agents []agent.Agent) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func newTestRegistry(t *testing.T, names ...string) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry()
	for _, name := range names {
		require.NoError(t, reg.Register(agent.Agent{
			Name:    name,
			Address: "http://" + name + ".local",
		}))
	}
	return reg
}

func TestRouteWithoutScorerUsesDefault(t *testing.T) {
	reg := newTestRegistry(t, "summarizer", "translator")
	r := New(reg, Config{DefaultAgent: "summarizer"})

	name, confidence, err := r.Route(context.Background(), "translate this")
	require.NoError(t, err)
	assert.Equal(t, "summarizer", name)
	assert.Equal(t, 1.0, confidence)

	// The empty query behaves the same
	name, confidence, err = r.Route(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "summarizer", name)
	assert.Equal(t, 1.0, confidence)
}

func TestRouteWithoutScorerOrDefaultFails(t *testing.T) {
	reg := newTestRegistry(t, "summarizer")
	r := New(reg, Config{})

	_, _, err := r.Route(context.Background(), "anything")
	assert.Error(t, err)
}

func TestRoutePicksHighestScore(t *testing.T) {
	reg := newTestRegistry(t, "summarizer", "translator", "coder")
	r := New(reg, Config{}, WithScorer(&staticScorer{scores: []float64{0.2, 0.9, 0.5}}))

	name, confidence, err := r.Route(context.Background(), "translate this")
	require.NoError(t, err)
	assert.Equal(t, "translator", name)
	assert.Equal(t, 0.9, confidence)
}

func TestRouteTieBreaksByRegistrationOrder(t *testing.T) {
	reg := newTestRegistry(t, "first", "second", "third")
	r := New(reg, Config{}, WithScorer(&staticScorer{scores: []float64{0.7, 0.7, 0.7}}))

	name, _, err := r.Route(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, "first", name)
}

func TestRouteFallsBackBelowMinConfidence(t *testing.T) {
	reg := newTestRegistry(t, "summarizer", "translator")
	r := New(reg, Config{DefaultAgent: "summarizer", MinConfidence: 0.5},
		WithScorer(&staticScorer{scores: []float64{0.1, 0.3}}))

	name, confidence, err := r.Route(context.Background(), "vague query")
	require.NoError(t, err)
	assert.Equal(t, "summarizer", name)
	assert.Equal(t, 1.0, confidence)
}

func TestRouteLowConfidenceWithoutDefaultStands(t *testing.T) {
	reg := newTestRegistry(t, "summarizer", "translator")
	r := New(reg, Config{MinConfidence: 0.5},
		WithScorer(&staticScorer{scores: []float64{0.1, 0.3}}))

	name, confidence, err := r.Route(context.Background(), "vague query")
	require.NoError(t, err)
	assert.Equal(t, "translator", name)
	assert.Equal(t, 0.3, confidence)
}

func TestRouteScorerError(t *testing.T) {
	reg := newTestRegistry(t, "summarizer")
	r := New(reg, Config{}, WithScorer(&staticScorer{err: fmt.Errorf("model unavailable")}))

	_, _, err := r.Route(context.Background(), "query")
	assert.ErrorContains(t, err, "scoring failed")
}

func TestRouteScorerLengthMismatch(t *testing.T) {
	reg := newTestRegistry(t, "a", "b")
	r := New(reg, Config{}, WithScorer(&staticScorer{scores: []float64{0.5}}))

	_, _, err := r.Route(context.Background(), "query")
	assert.Error(t, err)
}

func TestRouteNoAgentsRegistered(t *testing.T) {
	reg := agent.NewRegistry()
	r := New(reg, Config{DefaultAgent: "summarizer"}, WithScorer(&staticScorer{}))

	name, confidence, err := r.Route(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, "summarizer", name)
	assert.Equal(t, 1.0, confidence)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.5))
	assert.Equal(t, 1.0, clamp01(1.5))
	assert.Equal(t, 0.42, clamp01(0.42))
}
