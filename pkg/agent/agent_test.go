package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register(Agent{
		Name:        "summarizer",
		Address:     "http://localhost:9001",
		Description: "Summarizes documents",
		Skills:      []string{"summarize"},
	}))

	got, err := reg.Lookup("summarizer")
	require.NoError(t, err)
	assert.Equal(t, "summarizer", got.Name)
	assert.Equal(t, "http://localhost:9001", got.Address)
	assert.Equal(t, []string{"summarize"}, got.Skills)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Agent{Name: "summarizer", Address: "http://a"}))

	err := reg.Register(Agent{Name: "summarizer", Address: "http://b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// The first registration stands
	got, err := reg.Lookup("summarizer")
	require.NoError(t, err)
	assert.Equal(t, "http://a", got.Address)
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	reg := NewRegistry()

	assert.Error(t, reg.Register(Agent{Address: "http://a"}))
	assert.Error(t, reg.Register(Agent{Name: "nameless"}))
	assert.Equal(t, 0, reg.Count())
}

func TestLookupUnknownAgent(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Agent{Name: "summarizer", Address: "http://a"}))

	_, err := reg.Lookup("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	// The error names the agents that do exist
	assert.Contains(t, err.Error(), "summarizer")
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	names := []string{"zeta", "alpha", "mike"}
	for _, name := range names {
		require.NoError(t, reg.Register(Agent{Name: name, Address: "http://" + name}))
	}

	list := reg.List()
	require.Len(t, list, 3)
	for i, name := range names {
		assert.Equal(t, name, list[i].Name)
	}
	assert.Equal(t, names, reg.Names())
}

func TestRegistryErrorFormatting(t *testing.T) {
	err := NewRegistryError("AgentRegistry", "Register", "agent 'x'", ErrAlreadyExists)
	assert.Contains(t, err.Error(), "AgentRegistry")
	assert.Contains(t, err.Error(), "Register")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}
