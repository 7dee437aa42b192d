package scheduler

import "time"

// Config tunes the boot-declared retention jobs and the poll interval for
// user-scheduled executions (§4.7).
type Config struct {
	ExecutionRetention    time.Duration // terminal executions older than this are deleted
	LogRetention          time.Duration // webhook delivery/api usage history older than this is deleted
	ExecutionCleanupCron  string        // "execution-cleanup" cron spec
	LogCleanupCron        string        // "log-cleanup" cron spec
	PollInterval          time.Duration // how often the user-job loop checks scheduled_jobs
}

// DefaultConfig mirrors the fixed boot-declared schedule (§4.7): daily
// execution cleanup at 02:00 UTC, weekly log cleanup Sunday 03:00 UTC.
func DefaultConfig() Config {
	return Config{
		ExecutionRetention:   30 * 24 * time.Hour,
		LogRetention:         7 * 24 * time.Hour,
		ExecutionCleanupCron: "0 2 * * *",
		LogCleanupCron:       "0 3 * * 0",
		PollInterval:         15 * time.Second,
	}
}
