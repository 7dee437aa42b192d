package engine

import "time"

// Config controls the worker pool's shape and polling cadence — the
// engine's analogue of the teacher's config.QueueConfig.
type Config struct {
	// WorkerCount bounds how many executions this instance runs
	// concurrently; set from the app config's MaxConcurrentExecutions.
	WorkerCount int

	// PollInterval is how often an idle worker checks for pending work;
	// PollIntervalJitter randomizes it to avoid thundering-herd polling
	// across every worker in the pool.
	PollInterval       time.Duration
	PollIntervalJitter time.Duration

	// HeartbeatInterval is both the liveness-heartbeat cadence and the
	// cross-instance cancellation-check cadence (§8 invariant: cancel
	// latency bounded by this interval).
	HeartbeatInterval time.Duration

	// DefaultTimeout applies when an execution's TimeoutSec is zero;
	// MaxTimeout caps caller-specified timeouts (the upper bound of the
	// [1s, MAX_EXECUTION_TIME] clamp).
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	// OrphanDetectionInterval and OrphanThreshold govern the periodic
	// scan for executions whose owning worker died without completing
	// them (stale heartbeat).
	OrphanDetectionInterval time.Duration
	OrphanThreshold         time.Duration
}

// DefaultConfig returns sane defaults; WorkerCount must still be set from
// the app's MaxConcurrentExecutions.
func DefaultConfig() Config {
	return Config{
		WorkerCount:             10,
		PollInterval:            500 * time.Millisecond,
		PollIntervalJitter:      150 * time.Millisecond,
		HeartbeatInterval:       5 * time.Second,
		DefaultTimeout:          60 * time.Second,
		MaxTimeout:              5 * time.Minute,
		OrphanDetectionInterval: 30 * time.Second,
		OrphanThreshold:         2 * time.Minute,
	}
}
