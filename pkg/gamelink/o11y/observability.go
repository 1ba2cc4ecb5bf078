// Package o11y defines the observability abstractions used by gamelink.
// Implementations can be backed by OpenTelemetry, Prometheus, or test fakes.
package o11y

import "context"

// MetricsProvider abstracts metric instrument creation so the session layer
// stays decoupled from any particular metrics backend.
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// Counter represents a monotonically increasing metric.
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records the distribution of values.
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge represents a value that can go up and down.
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

// Label is a key-value pair attached to a metric sample.
type Label struct {
	Key   string
	Value string
}
