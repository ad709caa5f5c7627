package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goconductor/conductor/pkg/httpclient"
)

// ProbeResult is the outcome of the most recent health check for one agent.
type ProbeResult struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Prober periodically probes each registered agent's /health endpoint and
// keeps a per-agent availability snapshot. Probes are advisory: routing and
// invocation never block on them.
type Prober struct {
	agents   *Registry
	client   *httpclient.Client
	interval time.Duration
	timeout  time.Duration

	mu      sync.RWMutex
	results map[string]ProbeResult
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		p.interval = d
	}
}

func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		p.timeout = d
	}
}

func WithProbeClient(c *httpclient.Client) ProberOption {
	return func(p *Prober) {
		p.client = c
	}
}

func NewProber(agents *Registry, opts ...ProberOption) *Prober {
	p := &Prober{
		agents:   agents,
		interval: 30 * time.Second,
		timeout:  5 * time.Second,
		results:  make(map[string]ProbeResult),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: p.timeout}),
			httpclient.WithMaxRetries(1),
		)
	}
	return p
}

// Start probes all agents once immediately, then on every interval tick
// until the context is cancelled.
func (p *Prober) Start(ctx context.Context) {
	p.probeAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// Check probes a single agent and records the result.
func (p *Prober) Check(ctx context.Context, a Agent) ProbeResult {
	result := ProbeResult{CheckedAt: time.Now()}

	err := p.probe(ctx, a)
	if err != nil {
		result.Error = err.Error()
		slog.Warn("Agent health check failed", "agent", a.Name, "error", err)
	} else {
		result.Healthy = true
	}

	p.mu.Lock()
	p.results[a.Name] = result
	p.mu.Unlock()

	return result
}

// Snapshot returns a copy of the latest probe results keyed by agent name.
func (p *Prober) Snapshot() map[string]ProbeResult {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]ProbeResult, len(p.results))
	for name, r := range p.results {
		out[name] = r
	}
	return out
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, a := range p.agents.List() {
		if ctx.Err() != nil {
			return
		}
		p.Check(ctx, a)
	}
}

func (p *Prober) probe(ctx context.Context, a Agent) error {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := strings.TrimSuffix(a.Address, "/") + "/health"
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}
