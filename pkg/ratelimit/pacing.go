// Package ratelimit implements the provider pacing policy and the
// process-wide single-flight gate guarding the shared provider credential.
package ratelimit

import (
	"time"
)

// Pacing thresholds reflecting the provider's stated rate ceiling.
const (
	// LargeResultThreshold is the total result count at or above which the
	// slow cadence applies.
	LargeResultThreshold = 4000

	// SmallResultDelay keeps small result sets at roughly 2 requests/second.
	SmallResultDelay = 500 * time.Millisecond

	// LargeResultDelay keeps sustained throughput under 40 requests per 60s.
	LargeResultDelay = 1500 * time.Millisecond
)

// Policy computes the delay that must elapse before the next provider
// request, given the provider's declared total result count.
type Policy struct {
	// Threshold is the total at or above which LargeDelay applies.
	Threshold int

	// SmallDelay applies below Threshold.
	SmallDelay time.Duration

	// LargeDelay applies at or above Threshold.
	LargeDelay time.Duration
}

// DefaultPolicy returns the provider's two-tier schedule.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:  LargeResultThreshold,
		SmallDelay: SmallResultDelay,
		LargeDelay: LargeResultDelay,
	}
}

// Delay returns the pacing delay for a result set of total entries.
func (p Policy) Delay(total int) time.Duration {
	if total < p.Threshold {
		return p.SmallDelay
	}
	return p.LargeDelay
}
