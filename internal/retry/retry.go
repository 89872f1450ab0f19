// Package retry implements the transport engine's exponential backoff
// counter: a stateful, thread-confined policy with a capped delay and a
// bounded attempt count.
package retry

import "time"

const (
	baseDelay = 1000 * time.Millisecond
	capDelay  = 10000 * time.Millisecond
)

// Policy is a single-use, single-site attempt counter. It is not safe
// for concurrent use — callers create one Policy per retry site (one
// per transport attempt, one per chunk).
type Policy struct {
	maxRetries     int
	currentAttempt int
}

// New creates a policy allowing up to maxRetries backoffs.
func New(maxRetries int) *Policy {
	return &Policy{maxRetries: maxRetries}
}

// NextBackoff returns the delay before the next attempt and true, or
// false if max retries have been exhausted. Delay is
// min(10s, 1s*2^attempt), no jitter.
func (p *Policy) NextBackoff() (time.Duration, bool) {
	if p.currentAttempt >= p.maxRetries {
		return 0, false
	}
	delay := baseDelay * (1 << p.currentAttempt)
	p.currentAttempt++
	if delay > capDelay {
		delay = capDelay
	}
	return delay, true
}

// Attempt returns the number of backoffs already handed out.
func (p *Policy) Attempt() int {
	return p.currentAttempt
}
