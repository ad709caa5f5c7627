package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Metrics records orchestration measurements.
type Metrics interface {
	// RecordInvocation records one skill invocation with its outcome
	// ("success" or the failure kind).
	RecordInvocation(ctx context.Context, agentName, skill, outcome string, duration time.Duration)

	// RecordTaskFinished records a task reaching a terminal status.
	RecordTaskFinished(ctx context.Context, status string)

	// Handler serves the metrics endpoint.
	Handler() http.Handler
}

// PrometheusMetrics implements Metrics on an otel meter backed by a
// Prometheus exporter.
type PrometheusMetrics struct {
	invocationDuration metric.Float64Histogram
	invocations        metric.Int64Counter
	invocationErrors   metric.Int64Counter
	tasksFinished      metric.Int64Counter
}

func InitMetrics(ctx context.Context, cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("conductor")

	invocationDuration, err := meter.Float64Histogram(
		"conductor_skill_invocation_duration_seconds",
		metric.WithDescription("Skill invocation duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invocation duration histogram: %w", err)
	}

	invocations, err := meter.Int64Counter(
		"conductor_skill_invocations_total",
		metric.WithDescription("Total skill invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invocations counter: %w", err)
	}

	invocationErrors, err := meter.Int64Counter(
		"conductor_skill_invocation_errors_total",
		metric.WithDescription("Total failed skill invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invocation errors counter: %w", err)
	}

	tasksFinished, err := meter.Int64Counter(
		"conductor_tasks_finished_total",
		metric.WithDescription("Total tasks reaching a terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks finished counter: %w", err)
	}

	return &PrometheusMetrics{
		invocationDuration: invocationDuration,
		invocations:        invocations,
		invocationErrors:   invocationErrors,
		tasksFinished:      tasksFinished,
	}, nil
}

func (m *PrometheusMetrics) RecordInvocation(ctx context.Context, agentName, skill, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("agent", agentName),
		attribute.String("skill", skill),
		attribute.String("outcome", outcome),
	)
	m.invocationDuration.Record(ctx, duration.Seconds(), attrs)
	m.invocations.Add(ctx, 1, attrs)
	if outcome != "success" {
		m.invocationErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordTaskFinished(ctx context.Context, status string) {
	m.tasksFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.Handler()
}
