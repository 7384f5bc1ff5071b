package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// protocolAttemptCap bounds protocol errors to two attempts regardless of
// max_retries: a tool that cannot speak the output contract twice will not
// start speaking it on the fifth try.
const protocolAttemptCap = 2

// Policy is the per-task retry policy: attempt cap plus exponential
// backoff with jitter.
type Policy struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap for the exponential schedule
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
}

// MaxAttempts is the total number of attempts a task may consume.
func (p Policy) MaxAttempts() int {
	return p.MaxRetries + 1
}

// ShouldRetry reports whether a task that has already made `attempts`
// attempts and failed with the given kind gets another one.
func (p Policy) ShouldRetry(kind contracts.Kind, attempts int) bool {
	if kind.Permanent() {
		return false
	}
	if kind == contracts.KindProtocolError && attempts >= protocolAttemptCap {
		return false
	}
	return attempts < p.MaxAttempts()
}

// NewBackOff returns the delay schedule for one task:
// min(base × 2^(k-1), max) with ±25% jitter per attempt k.
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.RandomizationFactor = 0.25
	bo.Multiplier = 2
	bo.MaxInterval = p.MaxDelay
	bo.Reset()
	return bo
}

// Delay returns the jittered delay before retry attempt k (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	bo := p.NewBackOff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}
