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

// Package config defines the YAML configuration surface and its loaders.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Logger        LoggerConfig             `yaml:"logger"`
	Agents        []AgentConfig            `yaml:"agents"`
	Router        RouterConfig             `yaml:"router"`
	Plans         map[string][]StageConfig `yaml:"plans"`
	DefaultPlan   string                   `yaml:"default_plan"`
	Storage       StorageConfig            `yaml:"storage"`
	Invoker       InvokerConfig            `yaml:"invoker"`
	Health        HealthConfig             `yaml:"health"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // simple, verbose
	File   string `yaml:"file"`   // empty logs to stderr
}

// AgentConfig declares one remote agent registered at startup. Order in
// the file is registration order.
type AgentConfig struct {
	Name        string   `yaml:"name"`
	Address     string   `yaml:"address"`
	ExternalID  string   `yaml:"external_id"`
	Description string   `yaml:"description"`
	Skills      []string `yaml:"skills"`
}

// RouterConfig configures query routing.
type RouterConfig struct {
	DefaultAgent  string       `yaml:"default_agent"`
	MinConfidence float64      `yaml:"min_confidence"`
	Scorer        ScorerConfig `yaml:"scorer"`

	// Skill is invoked on the routed agent when no plans are configured.
	Skill string `yaml:"skill"`
}

// ScorerConfig selects the routing scorer. An empty type means no scorer:
// everything routes to the default agent.
type ScorerConfig struct {
	Type   string `yaml:"type"` // "", "gemini"
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// StageConfig is one stage of a named plan.
type StageConfig struct {
	Name           string `yaml:"name"`
	Agent          string `yaml:"agent"`
	Skill          string `yaml:"skill"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the stage timeout, zero when unset.
func (c *StageConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig selects the task store backend.
type StorageConfig struct {
	Backend  string `yaml:"backend"` // memory, sqlite, postgres, mysql
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// InvokerConfig configures skill invocation.
type InvokerConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func (c *InvokerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HealthConfig configures the agent health prober.
type HealthConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	TimeoutSeconds  int  `yaml:"timeout_seconds"`
}

func (c *HealthConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c *HealthConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // stdout, otlp
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// SetDefaults fills in zero values.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "simple"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Invoker.TimeoutSeconds == 0 {
		c.Invoker.TimeoutSeconds = 30
	}
	if c.Health.IntervalSeconds == 0 {
		c.Health.IntervalSeconds = 30
	}
	if c.Health.TimeoutSeconds == 0 {
		c.Health.TimeoutSeconds = 5
	}
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = 1.0
	}
	if c.Observability.Tracing.ServiceName == "" {
		c.Observability.Tracing.ServiceName = "conductor"
	}
	if c.Router.Scorer.Type == "gemini" && c.Router.Scorer.Model == "" {
		c.Router.Scorer.Model = "gemini-2.0-flash"
	}
	if c.Router.Skill == "" {
		c.Router.Skill = "handle"
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	names := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		if a.Address == "" {
			return fmt.Errorf("agent %q: address is required", a.Name)
		}
		if names[a.Name] {
			return fmt.Errorf("agent %q: duplicate name", a.Name)
		}
		names[a.Name] = true
	}

	if c.Router.DefaultAgent != "" && !names[c.Router.DefaultAgent] {
		return fmt.Errorf("router default_agent %q is not a configured agent", c.Router.DefaultAgent)
	}
	if c.Router.MinConfidence < 0 || c.Router.MinConfidence > 1 {
		return fmt.Errorf("router min_confidence must be in [0, 1], got %g", c.Router.MinConfidence)
	}
	switch c.Router.Scorer.Type {
	case "", "gemini":
	default:
		return fmt.Errorf("unsupported scorer type: %s", c.Router.Scorer.Type)
	}

	for planName, stages := range c.Plans {
		if len(stages) == 0 {
			return fmt.Errorf("plan %q has no stages", planName)
		}
		for i, s := range stages {
			if s.Agent == "" || s.Skill == "" {
				return fmt.Errorf("plan %q stage %d: agent and skill are required", planName, i)
			}
			if !names[s.Agent] {
				return fmt.Errorf("plan %q stage %d: agent %q is not configured", planName, i, s.Agent)
			}
		}
	}
	if c.DefaultPlan != "" {
		if _, ok := c.Plans[c.DefaultPlan]; !ok {
			return fmt.Errorf("default_plan %q is not defined", c.DefaultPlan)
		}
	}

	switch c.Storage.Backend {
	case "memory", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage backend %s requires a dsn", c.Storage.Backend)
	}

	return nil
}
