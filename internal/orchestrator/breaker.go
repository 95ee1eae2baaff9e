package orchestrator

import (
	"sync"
	"time"
)

// breakerState is one circuit breaker's place in the
// closed -> open -> half_open -> closed lifecycle.
type breakerState string

const (
	stateClosed   breakerState = "closed"
	stateOpen     breakerState = "open"
	stateHalfOpen breakerState = "half_open"
)

// breaker is a single circuit breaker keyed by (provider, rate class). It
// trips to open after a run of consecutive unavailable/rate-limit
// failures, fails fast while open, and once the cooldown has elapsed
// moves to half_open, where calls are admitted until the next outcome
// decides whether to close or re-open.
type breaker struct {
	mu sync.Mutex

	state              breakerState
	consecutiveFailures int
	openedAt           time.Time
	cooldown           time.Duration

	failureThreshold int
	baseCooldown     time.Duration
	maxCooldown      time.Duration
}

func newBreaker(failureThreshold int, baseCooldown, maxCooldown time.Duration) *breaker {
	return &breaker{
		state:            stateClosed,
		failureThreshold: failureThreshold,
		baseCooldown:     baseCooldown,
		maxCooldown:      maxCooldown,
	}
}

// allow reports whether a call may proceed right now, and transitions
// open -> half_open once the cooldown has elapsed.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed, stateHalfOpen:
		return true
	case stateOpen:
		if now.Sub(b.openedAt) >= b.cooldown {
			b.state = stateHalfOpen
			return true
		}
		return false
	}
	return true
}

// recordSuccess closes the breaker and resets its failure count.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.consecutiveFailures = 0
	b.cooldown = 0
}

// recordFailure increments the consecutive-failure count and trips the
// breaker open once the threshold is reached. A failure observed while
// half_open immediately re-opens with a doubled cooldown, capped at
// maxCooldown.
func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	if b.state == stateHalfOpen {
		b.trip(now, true)
		return
	}

	if b.consecutiveFailures >= b.failureThreshold {
		b.trip(now, false)
	}
}

// trip must be called with b.mu held.
func (b *breaker) trip(now time.Time, escalate bool) {
	b.state = stateOpen
	b.openedAt = now
	switch {
	case b.cooldown == 0:
		b.cooldown = b.baseCooldown
	case escalate:
		b.cooldown *= 2
		if b.cooldown > b.maxCooldown {
			b.cooldown = b.maxCooldown
		}
	}
}

func (b *breaker) snapshot() (breakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutiveFailures
}
