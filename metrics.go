package cobrasync

import "time"

// MetricsCollector provides hooks for observing sync operations.
type MetricsCollector interface {
	// RecordOperation records one Domain API call, the path that served it
	// ("remote" or "local") and how long it took.
	RecordOperation(operation, source string, duration time.Duration)

	// RecordFallback records a remote failure that was absorbed by the
	// local store.
	RecordFallback(operation string)

	// RecordDrain records a completed drain run.
	RecordDrain(replayed, pending int, duration time.Duration)

	// RecordDrainError records drain failures by error kind.
	RecordDrainError(kind string)
}

// NoOpMetricsCollector is the default collector; it does nothing.
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordOperation(operation, source string, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordFallback(operation string)                                  {}
func (n *NoOpMetricsCollector) RecordDrain(replayed, pending int, duration time.Duration)        {}
func (n *NoOpMetricsCollector) RecordDrainError(kind string)                                     {}
