package engine

import "time"

// Config configures scheduler behavior. Fields mirror
// internal/config.ExecutionConfig; callers copy the loaded application
// config into it field by field (see cmd/dipeo-run).
type Config struct {
	// DefaultConcurrency bounds simultaneous handler executions across the
	// whole run, independent of any single node's ConcurrencyPolicy.
	DefaultConcurrency int

	// DefaultNodeTimeout applies to nodes that don't set TimeoutSeconds.
	DefaultNodeTimeout time.Duration

	// StrictMode is threaded through to the InputResolver.
	StrictMode bool

	// RetryPolicy applies to every node unless overridden per node in a
	// future revision; for now it is global.
	RetryPolicy *RetryPolicy
}

// DefaultConfig returns scheduler defaults matching
// internal/config.ExecutionConfig's own defaults.
func DefaultConfig() Config {
	return Config{
		DefaultConcurrency: 8,
		DefaultNodeTimeout: 60 * time.Second,
		StrictMode:         false,
		RetryPolicy:        NoRetryPolicy(),
	}
}
