// Package circuit implements the circuit breaker that guards downstream
// LLM and TTS calls. Sustained failures open the breaker so the analyzer
// stops paying timeouts for a service that is down; alert fan-out is never
// affected.
package circuit

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Calls suppressed
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	Enabled     bool          `json:"enabled"`
	MaxFailures int           `json:"max_failures"` // Consecutive failures before trip
	Cooldown    time.Duration `json:"cooldown"`     // Open duration before a probe
}

// DefaultBreakerConfig returns safe defaults
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Enabled:     true,
		MaxFailures: 5,
		Cooldown:    60 * time.Second,
	}
}

// Breaker tracks consecutive downstream failures
type Breaker struct {
	config              *BreakerConfig
	state               BreakerState
	consecutiveFailures int
	trippedAt           time.Time
	mu                  sync.Mutex
	onTrip              func(failures int)
	onReset             func()
}

// NewBreaker creates a breaker in the closed state
func NewBreaker(config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// OnTrip sets the callback invoked when the breaker opens
func (b *Breaker) OnTrip(handler func(failures int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset sets the callback invoked when the breaker closes again
func (b *Breaker) OnReset(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// Allow reports whether a downstream call may be attempted. After the
// cooldown the breaker moves to half-open and lets one probe through.
func (b *Breaker) Allow() bool {
	if !b.config.Enabled {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.trippedAt) >= b.config.Cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the failure streak and closes a half-open breaker
func (b *Breaker) RecordSuccess() {
	if !b.config.Enabled {
		return
	}

	b.mu.Lock()
	wasRecovering := b.state == StateHalfOpen
	b.state = StateClosed
	b.consecutiveFailures = 0
	onReset := b.onReset
	b.mu.Unlock()

	if wasRecovering && onReset != nil {
		onReset()
	}
}

// RecordFailure counts one failure; the streak trips the breaker. A failed
// half-open probe reopens immediately.
func (b *Breaker) RecordFailure() {
	if !b.config.Enabled {
		return
	}

	b.mu.Lock()
	b.consecutiveFailures++
	tripped := false
	if b.state == StateHalfOpen || b.consecutiveFailures >= b.config.MaxFailures {
		if b.state != StateOpen {
			tripped = true
		}
		b.state = StateOpen
		b.trippedAt = time.Now()
	}
	failures := b.consecutiveFailures
	onTrip := b.onTrip
	b.mu.Unlock()

	if tripped && onTrip != nil {
		onTrip(failures)
	}
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
