package transport

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter throttles aggregate transport throughput. Adapted from the
// teacher's BandwidthManager: a shared token bucket with an on/off
// fast path so an unlimited configuration costs nothing per byte.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	enabled bool
}

// NewLimiter builds a disabled limiter; call SetLimit to enable it.
func NewLimiter() *Limiter {
	return &Limiter{}
}

// SetLimit sets the aggregate bytes/sec cap. A non-positive value
// disables limiting.
func (l *Limiter) SetLimit(bytesPerSec int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bytesPerSec <= 0 {
		l.enabled = false
		return
	}
	l.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
	l.enabled = true
}

// Wait blocks until n bytes may be sent, or returns ctx.Err().
func (l *Limiter) Wait(ctx context.Context, n int) error {
	l.mu.RLock()
	enabled := l.enabled
	lim := l.limiter
	l.mu.RUnlock()

	if !enabled {
		return nil
	}
	// WaitN rejects requests larger than the bucket, so wait in
	// burst-sized pieces.
	burst := lim.Burst()
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := lim.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}
