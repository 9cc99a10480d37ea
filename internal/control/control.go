// Package control holds the failure policy of the polling loop.
package control

import "time"

// ClassPoll is the breaker error class of failed update polls.
const ClassPoll = "command_source_poll"

// Policy defines how the worker reacts to transport failures.
type Policy struct {
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// BaseBackoff is the wait after the first failure; it doubles per
	// consecutive failure up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy returns the default transport policy.
func DefaultPolicy() Policy {
	return Policy{
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
		BaseBackoff:      time.Second,
		MaxBackoff:       30 * time.Second,
	}
}

// Backoff returns the wait after the given number of consecutive failures.
// It is zero for attempt <= 0.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.BaseBackoff <= 0 {
		return 0
	}
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
