package cobrasync

import (
	"log/slog"
	"time"
)

// RetryConfig configures the retry behavior of automatic drains.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay grows per attempt.
	Multiplier float64
}

// Config holds the Manager's tunables. Zero values take the defaults below.
type Config struct {
	// Timeout bounds every Domain API operation. Default 30s.
	Timeout time.Duration

	// DrainInterval is the cadence of periodic drains while auto drain is
	// running, in addition to drains triggered by connectivity transitions.
	// Default 5m.
	DrainInterval time.Duration

	// Retry configures backoff for automatic drains. Nil disables retries.
	Retry *RetryConfig
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.DrainInterval == 0 {
		c.DrainInterval = 5 * time.Minute
	}
	if c.Retry == nil {
		c.Retry = &RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		}
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocalStore injects the embedded store and marks the platform
// local-capable. Without it the Manager runs remote-only.
func WithLocalStore(s LocalStore) Option {
	return func(m *Manager) {
		m.store = s
		m.capability.LocalStore = s != nil
	}
}

// WithMonitor sets the connectivity monitor. The default is permanently
// online.
func WithMonitor(mon ConnectivityMonitor) Option {
	return func(m *Manager) { m.monitor = mon }
}

// WithCapability overrides the platform capability descriptor.
func WithCapability(c Capability) Option {
	return func(m *Manager) { m.capability = c }
}

// WithTimeout sets the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.config.Timeout = d }
}

// WithDrainInterval sets the periodic drain cadence for auto drain.
func WithDrainInterval(d time.Duration) Option {
	return func(m *Manager) { m.config.DrainInterval = d }
}

// WithDrainRetry sets the backoff policy for automatic drains.
func WithDrainRetry(rc *RetryConfig) Option {
	return func(m *Manager) { m.config.Retry = rc }
}

// WithManagerLogger sets a custom logger.
func WithManagerLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets a metrics collector. The default is a no-op.
func WithMetrics(mc MetricsCollector) Option {
	return func(m *Manager) { m.metrics = mc }
}
