// Package ratelimit paces outbound API calls so the daemon stays inside
// per-key request quotas.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter issues permits no faster than the configured rate by tracking the
// next available permit time. A strict minimum interval between permits
// prevents bursts entirely, which matters for explorer APIs that count
// requests per second rather than per sliding window.
type Limiter struct {
	mu             sync.Mutex
	nextPermitTime time.Time
	interval       time.Duration

	// Rate tracking (atomic for lock-free reads)
	rateX1000 atomic.Int64 // rate * 1000 for precision
}

// New creates a new Limiter with the specified rate (requests per second).
func New(ratePerSec float64) *Limiter {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}

	l := &Limiter{
		nextPermitTime: time.Now(),
		interval:       time.Duration(float64(time.Second) / ratePerSec),
	}
	l.rateX1000.Store(int64(ratePerSec * 1000))

	return l
}

// Wait blocks until a permit is available or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	permitTime := l.nextPermitTime
	l.nextPermitTime = permitTime.Add(l.interval)
	l.mu.Unlock()

	waitDuration := time.Until(permitTime)
	if waitDuration <= 0 {
		return nil
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetRate updates the rate limit dynamically.
// Takes effect immediately for subsequent permits.
func (l *Limiter) SetRate(ratePerSec float64) {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.interval = time.Duration(float64(time.Second) / ratePerSec)
	l.rateX1000.Store(int64(ratePerSec * 1000))

	// Reset next permit time to now to avoid stalls after rate decrease
	// or bursts after rate increase
	now := time.Now()
	if l.nextPermitTime.Before(now) {
		l.nextPermitTime = now
	}
}

// Rate returns the current rate limit.
func (l *Limiter) Rate() float64 {
	return float64(l.rateX1000.Load()) / 1000
}
