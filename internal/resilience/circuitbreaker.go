// Package resilience keeps the voice pipeline talking when providers do not.
//
// Every remote backend a session depends on (transcription, reply generation,
// synthesis) sits behind a [Breaker], a three-state circuit breaker that stops
// a flapping provider from adding its timeout to every turn. [FallbackGroup]
// chains several backends of one pipeline stage behind per-backend breakers so
// a dead primary costs one failed call, not a silent agent. The [STTFallback],
// [LLMFallback], and [TTSFallback] wrappers expose the chains through the
// ordinary provider interfaces.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker is open
// and the cooldown has not elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrCircuitOpen] until the cooldown
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log lines, usually the provider name.
	Name string

	// MaxFailures is how many consecutive failures open the breaker.
	// Default 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing again.
	// Default 30s.
	Cooldown time.Duration

	// ProbeBudget is how many half-open probe calls may run before the
	// breaker commits to closed or open. Default 3.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker around one provider backend.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeBudget int

	// now is the clock; tests substitute it to drive cooldown expiry.
	now func() time.Time

	mu         sync.Mutex
	state      BreakerState
	fails      int
	lastFail   time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a closed [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		now:         time.Now,
	}
}

// Execute runs fn unless the breaker refuses. Open breakers return
// [ErrCircuitOpen] without calling fn; half-open breakers admit at most
// ProbeBudget probes.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFail) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("resilience: breaker half-open", "name", b.name)

	case BreakerHalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	probing := b.state == BreakerHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure updates failure accounting. Caller holds b.mu.
func (b *Breaker) onFailure(probing bool) {
	b.lastFail = b.now()

	if probing {
		// One bad probe re-opens immediately.
		b.probeFails++
		b.state = BreakerOpen
		b.fails = b.maxFailures
		slog.Warn("resilience: breaker re-opened", "name", b.name)
		return
	}

	b.fails++
	if b.fails >= b.maxFailures {
		b.state = BreakerOpen
		slog.Warn("resilience: breaker opened",
			"name", b.name, "consecutive_failures", b.fails)
	}
}

// onSuccess updates success accounting. Caller holds b.mu.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = BreakerClosed
			b.fails = 0
			b.probes = 0
			b.probeFails = 0
			slog.Info("resilience: breaker closed", "name", b.name)
		}
		return
	}
	b.fails = 0
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports [BreakerHalfOpen]; the actual transition happens on the
// next [Breaker.Execute].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.lastFail) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.fails = 0
	b.probes = 0
	b.probeFails = 0
	slog.Info("resilience: breaker reset", "name", b.name)
}
