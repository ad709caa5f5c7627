package observability

import (
	"context"
	"net/http"
	"time"
)

// NoopMetrics is a Metrics implementation that records nothing.
type NoopMetrics struct{}

func (NoopMetrics) RecordInvocation(_ context.Context, _, _, _ string, _ time.Duration) {}

func (NoopMetrics) RecordTaskFinished(_ context.Context, _ string) {}

// Handler returns a handler that reports metrics as disabled.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

var (
	_ Metrics = NoopMetrics{}
	_ Metrics = (*PrometheusMetrics)(nil)
)
