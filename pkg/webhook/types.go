package webhook

import "time"

// backoff computes the retry delay for a delivery that has just failed its
// attemptCount-th attempt: 2^attemptCount seconds (§4.5) — 2s, 4s, 8s, 16s,
// 32s for attemptCount 1 through 5.
func backoff(attemptCount int) time.Duration {
	return time.Duration(1<<uint(attemptCount)) * time.Second
}
