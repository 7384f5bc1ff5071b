package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// BreakerConfig configures a per-executor circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	OpenCooldown     time.Duration // initial refusal window
	MaxCooldown      time.Duration // cap for cooldown doubling
}

// DefaultBreakerConfig mirrors the configuration defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenCooldown:     60 * time.Second,
		MaxCooldown:      600 * time.Second,
	}
}

// Breaker is a per-executor circuit breaker. It is NOT global: a
// misbehaving executor is isolated while the rest keep draining the queue.
//
// CLOSED counts consecutive tool-side failures; at the threshold the
// breaker OPENs and refuses work for the cooldown. On cooldown expiry it
// grants exactly one HALF_OPEN probe: success closes the circuit, failure
// re-opens it with a doubled (capped) cooldown.
type Breaker struct {
	mu sync.Mutex

	executor contracts.ExecutorID
	cfg      BreakerConfig
	log      zerolog.Logger

	state       contracts.BreakerState
	consecutive int
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool

	now func() time.Time // injectable clock for tests
}

// NewBreaker creates a CLOSED breaker for one executor slot.
func NewBreaker(executor contracts.ExecutorID, cfg BreakerConfig, log zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.OpenCooldown <= 0 {
		cfg.OpenCooldown = DefaultBreakerConfig().OpenCooldown
	}
	if cfg.MaxCooldown < cfg.OpenCooldown {
		cfg.MaxCooldown = DefaultBreakerConfig().MaxCooldown
	}
	return &Breaker{
		executor: executor,
		cfg:      cfg,
		log:      log.With().Str("component", "breaker").Int("executor", int(executor)).Logger(),
		state:    contracts.BreakerClosed,
		cooldown: cfg.OpenCooldown,
		now:      time.Now,
	}
}

// Allow reports whether the executor may take work. While OPEN it returns
// ErrCircuitOpen with the remaining cooldown; on cooldown expiry it grants
// exactly one probe and moves to HALF_OPEN.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case contracts.BreakerClosed:
		return nil
	case contracts.BreakerOpen:
		remaining := b.cooldown - b.now().Sub(b.openedAt)
		if remaining > 0 {
			return fmt.Errorf("executor %d: retry in %s: %w", b.executor, remaining.Round(time.Second), contracts.ErrCircuitOpen)
		}
		b.state = contracts.BreakerHalfOpen
		b.probing = true
		b.log.Info().Msg("circuit half-open, granting probe")
		return nil
	default: // half-open
		if b.probing {
			return fmt.Errorf("executor %d: probe in flight: %w", b.executor, contracts.ErrCircuitOpen)
		}
		b.probing = true
		return nil
	}
}

// RecordSuccess resets the failure counter; a successful HALF_OPEN probe
// closes the circuit and restores the initial cooldown.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == contracts.BreakerHalfOpen {
		b.log.Info().Msg("probe succeeded, circuit closed")
		b.cooldown = b.cfg.OpenCooldown
	}
	b.state = contracts.BreakerClosed
	b.consecutive = 0
	b.probing = false
}

// RecordFailure feeds one classified failure into the breaker. Only
// tool-side failures (transient, protocol) count toward opening; a task
// failing on its own terms says nothing about the executor's health.
func (b *Breaker) RecordFailure(kind contracts.Kind) {
	if kind != contracts.KindTransient && kind != contracts.KindProtocolError {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case contracts.BreakerHalfOpen:
		// Failed probe: re-open with doubled cooldown.
		b.cooldown = min(b.cooldown*2, b.cfg.MaxCooldown)
		b.open()
	case contracts.BreakerClosed:
		b.consecutive++
		if b.consecutive >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

// open transitions to OPEN. Caller must hold b.mu.
func (b *Breaker) open() {
	b.state = contracts.BreakerOpen
	b.openedAt = b.now()
	b.probing = false
	b.log.Warn().Dur("cooldown", b.cooldown).Int("failures", b.consecutive).Msg("circuit opened")
}

// State returns the current breaker state.
func (b *Breaker) State() contracts.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Cooldown returns the current cooldown window.
func (b *Breaker) Cooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}
