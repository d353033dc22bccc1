package orchestration

import "time"

// Policy holds the timings of the client-side task lifecycle.
type Policy struct {
	PollInterval      time.Duration
	CancelFallback    time.Duration
	CleanupGrace      time.Duration
	CancelButtonDelay time.Duration
}

// DefaultPolicy returns the production timings.
func DefaultPolicy() Policy {
	return Policy{
		PollInterval:      2 * time.Second,
		CancelFallback:    15 * time.Second,
		CleanupGrace:      20 * time.Second,
		CancelButtonDelay: 5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.CancelFallback <= 0 {
		p.CancelFallback = d.CancelFallback
	}
	if p.CleanupGrace <= 0 {
		p.CleanupGrace = d.CleanupGrace
	}
	if p.CancelButtonDelay < 0 {
		p.CancelButtonDelay = 0
	}
	return p
}
