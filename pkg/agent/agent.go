// Package agent holds agent identity and the agent registry, the single
// source of truth for which agents can be asked to do what.
package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goconductor/conductor/pkg/registry"
)

var (
	// ErrNotFound is returned when an agent is not registered.
	ErrNotFound = errors.New("agent not found")

	// ErrAlreadyExists is returned when registering a duplicate agent name.
	// Registration never overwrites: routing to a stale address mid-flight
	// is worse than failing loudly at startup.
	ErrAlreadyExists = errors.New("agent already registered")
)

// Agent identifies an independently addressable service implementing one
// specialized capability. Immutable once registered.
type Agent struct {
	// Name is the unique, stable key for this agent.
	Name string `json:"name" yaml:"name"`

	// Address is the base URL of the agent's network endpoint.
	Address string `json:"address" yaml:"address"`

	// ExternalID is an optional identifier in an external system.
	ExternalID string `json:"external_id,omitempty" yaml:"external_id,omitempty"`

	// Description describes what the agent does. Consumed by scorers.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Skills lists the named operations the agent exposes.
	Skills []string `json:"skills,omitempty" yaml:"skills,omitempty"`
}

// RegistryError carries component/action context for registry failures.
type RegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

func NewRegistryError(component, action, message string, err error) *RegistryError {
	return &RegistryError{
		Component: component,
		Action:    action,
		Message:   message,
		Err:       err,
	}
}

// Registry is an insertion-ordered registry of agents. Registration happens
// at startup; lookups happen per request, so the underlying RWMutex is all
// the synchronization needed.
type Registry struct {
	base *registry.BaseRegistry[Agent]
}

func NewRegistry() *Registry {
	return &Registry{
		base: registry.NewBaseRegistry[Agent](),
	}
}

// Register adds an agent. It fails with ErrAlreadyExists if the name is
// already taken.
func (r *Registry) Register(a Agent) error {
	if a.Name == "" {
		return NewRegistryError("AgentRegistry", "Register", "agent name cannot be empty", nil)
	}
	if a.Address == "" {
		return NewRegistryError("AgentRegistry", "Register",
			fmt.Sprintf("agent %s has no address", a.Name), nil)
	}

	if _, exists := r.base.Get(a.Name); exists {
		return NewRegistryError("AgentRegistry", "Register",
			fmt.Sprintf("agent '%s'", a.Name), ErrAlreadyExists)
	}

	if err := r.base.Register(a.Name, a); err != nil {
		return NewRegistryError("AgentRegistry", "Register",
			fmt.Sprintf("failed to register agent %s", a.Name), err)
	}
	return nil
}

// Lookup returns the agent registered under name.
func (r *Registry) Lookup(name string) (Agent, error) {
	a, exists := r.base.Get(name)
	if !exists {
		names := r.base.Names()
		if len(names) == 0 {
			return Agent{}, NewRegistryError("AgentRegistry", "Lookup",
				fmt.Sprintf("agent '%s': no agents registered", name), ErrNotFound)
		}
		return Agent{}, NewRegistryError("AgentRegistry", "Lookup",
			fmt.Sprintf("agent '%s'\n\nAvailable agents:\n  - %s",
				name, strings.Join(names, "\n  - ")), ErrNotFound)
	}
	return a, nil
}

// List returns all agents in registration order.
func (r *Registry) List() []Agent {
	return r.base.List()
}

// Names returns agent names in registration order.
func (r *Registry) Names() []string {
	return r.base.Names()
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	return r.base.Count()
}
