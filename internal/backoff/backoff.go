// Package backoff implements the retry-delay policy applied between
// reconnection attempts. The policy is a pure state machine: it does no
// I/O and no clock reads, so reconnect loops can own one instance each
// and test it deterministically.
package backoff

import (
	"context"
	"time"
)

// Default schedule: 5s, 10s, 20s, 40s, 60s, 60s, ...
const (
	DefaultBase       = 5 * time.Second
	DefaultMultiplier = 2.0
	DefaultCap        = 60 * time.Second
)

// Policy computes the wait before each retry from the run of
// consecutive failures so far. Not safe for concurrent use: a policy
// belongs to exactly one reconnect loop.
type Policy struct {
	base       time.Duration
	multiplier float64
	cap        time.Duration
	current    time.Duration
}

// New creates a policy. Non-positive arguments fall back to the defaults.
func New(base time.Duration, multiplier float64, cap time.Duration) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if multiplier <= 1 {
		multiplier = DefaultMultiplier
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Policy{base: base, multiplier: multiplier, cap: cap, current: base}
}

// Default returns a policy with the standard 5s/x2/60s schedule.
func Default() *Policy {
	return New(DefaultBase, DefaultMultiplier, DefaultCap)
}

// Next returns the delay to wait before the upcoming retry and advances
// the schedule. The k-th consecutive failure (k starting at 0) waits
// min(base * multiplier^k, cap).
func (p *Policy) Next() time.Duration {
	d := p.current
	grown := time.Duration(float64(p.current) * p.multiplier)
	if grown > p.cap {
		grown = p.cap
	}
	p.current = grown
	return d
}

// Reset returns the schedule to base. Called the moment a connection
// reaches the live state.
func (p *Policy) Reset() {
	p.current = p.base
}

// Current reports the delay the next failure would wait, without
// advancing the schedule.
func (p *Policy) Current() time.Duration {
	return p.current
}

// Wait sleeps for d or until ctx is cancelled or abort is closed.
// Returns false if the wait was interrupted. A nil abort is never ready.
func Wait(ctx context.Context, abort <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-abort:
		return false
	case <-timer.C:
		return true
	}
}
