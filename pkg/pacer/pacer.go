// Package pacer spaces outbound calls against throttled third-party APIs.
package pacer

import (
	"context"
	"sync"
	"time"
)

// Pacer guarantees a minimum interval between consecutive calls through a
// single adapter instance. Concurrent callers take turns, each slot spaced
// by the configured delay.
type Pacer struct {
	mu    sync.Mutex
	last  time.Time
	delay time.Duration
}

func New(delay time.Duration) *Pacer {
	return &Pacer{delay: delay}
}

// Wait blocks until the caller's slot arrives or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.delay <= 0 {
		return nil
	}

	p.mu.Lock()
	now := time.Now()
	next := p.last.Add(p.delay)
	if next.Before(now) {
		next = now
	}
	p.last = next
	p.mu.Unlock()

	sleep := time.Until(next)
	if sleep <= 0 {
		return nil
	}

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
