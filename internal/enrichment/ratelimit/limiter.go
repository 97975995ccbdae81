// Package ratelimit wraps golang.org/x/time/rate as the TheAudioDB global
// leaky bucket (spec.md §4.G): 1 request / 2 s, burst 1.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const detailWaitLimit = 800 * time.Millisecond

// TheAudioDBLimiter gates every TheAudioDB call across all lanes.
type TheAudioDBLimiter struct {
	limiter *rate.Limiter
}

func NewTheAudioDBLimiter() *TheAudioDBLimiter {
	return &TheAudioDBLimiter{limiter: rate.NewLimiter(rate.Every(2*time.Second), 1)}
}

// TryAcquire is used by non-Detail lanes: it never blocks, returning false
// immediately ("rate_limit_deferred") if no slot is free.
func (l *TheAudioDBLimiter) TryAcquire() bool {
	return l.limiter.Allow()
}

// AcquireDetail waits up to THEAUDIODB_DETAIL_WAIT_LIMIT for a slot,
// draining the bus via drainBus while it waits (spec.md §4.G). Returns
// false if the wait limit elapses with no slot acquired.
func (l *TheAudioDBLimiter) AcquireDetail(ctx context.Context, drainBus func()) bool {
	deadline := time.Now().Add(detailWaitLimit)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.limiter.Allow() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		if drainBus != nil {
			drainBus()
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
