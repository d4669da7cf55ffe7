// Package plcbreaker implements the circuit breaker pattern, scoped down
// to a single purpose: guarding the network endpoint's bind/accept retry
// path against tight-looping when a port stays unavailable across
// restart races (spec.md §4.4's "Socket recreation on I/O error").
package plcbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation, bind attempts pass through
	StateOpen                  // failure threshold exceeded, attempts blocked
	StateHalfOpen              // probing whether bind has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Allow when the breaker is open.
var ErrOpen = errors.New("plcbreaker: circuit open")

// Config configures a Breaker.
type Config struct {
	Name string

	// ConsecutiveFailures is how many consecutive bind failures trip the
	// breaker open.
	ConsecutiveFailures uint32

	// Timeout is how long the breaker stays open before allowing a single
	// half-open probe.
	Timeout time.Duration

	// Logger receives state transitions. Defaults to slog.Default() if nil.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by the server's accept
// loop: trip after 3 consecutive bind failures, back off for 2s.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		ConsecutiveFailures: 3,
		Timeout:             2 * time.Second,
	}
}

// Breaker is a minimal closed/open/half-open circuit breaker for a single
// retried operation.
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures uint32
	openUntil           time.Time
}

// New constructs a Breaker from cfg.
func New(cfg Config) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether an attempt may proceed right now, transitioning
// Open to HalfOpen once the timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Now().Before(b.openUntil) {
			return false
		}
		b.setState(StateHalfOpen)
	}
	return true
}

// RecordSuccess resets the breaker to Closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.setState(StateClosed)
}

// RecordFailure counts a failed attempt, tripping to Open once
// ConsecutiveFailures is reached (from Closed) or immediately (from
// HalfOpen, since a half-open probe failing means recovery did not
// stick).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.openUntil = time.Now().Add(b.cfg.Timeout)
		b.setState(StateOpen)
	default:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.ConsecutiveFailures {
			b.openUntil = time.Now().Add(b.cfg.Timeout)
			b.setState(StateOpen)
		}
	}
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	prev := b.state
	b.state = s
	b.cfg.Logger.Info("circuit breaker state change",
		"breaker", b.cfg.Name, "from", prev.String(), "to", s.String())
}
