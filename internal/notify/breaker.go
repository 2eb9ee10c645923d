package notify

import (
	"log"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "CLOSED"
	case breakerOpen:
		return "OPEN"
	case breakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// breaker guards the notification gateway. Consecutive delivery failures
// trip it open; after the cooldown a limited number of probe deliveries
// decide whether it closes again. Notifications skipped while open are
// dropped, not queued: the audit log is the source of truth and a dead
// gateway must not back the queue up.
type breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  uint32
	probes    uint32
	successes uint32
	openedAt  time.Time

	tripAfter uint32
	maxProbes uint32
	cooldown  time.Duration
	logger    *log.Logger
}

func newBreaker(tripAfter, maxProbes uint32, cooldown time.Duration, logger *log.Logger) *breaker {
	if tripAfter == 0 {
		tripAfter = 5
	}
	if maxProbes == 0 {
		maxProbes = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{
		tripAfter: tripAfter,
		maxProbes: maxProbes,
		cooldown:  cooldown,
		logger:    logger,
	}
}

// allow reports whether a delivery may proceed right now.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(breakerHalfOpen)
		b.probes = 1
		return true
	case breakerHalfOpen:
		if b.probes >= b.maxProbes {
			return false
		}
		b.probes++
		return true
	}
	return false
}

// record feeds a delivery outcome back into the state machine.
func (b *breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case breakerClosed:
			b.failures = 0
		case breakerHalfOpen:
			b.successes++
			if b.successes >= b.maxProbes {
				b.setState(breakerClosed)
			}
		}
		return
	}

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.tripAfter {
			b.setState(breakerOpen)
		}
	case breakerHalfOpen:
		b.setState(breakerOpen)
	}
}

// setState transitions and resets the counters. Caller holds the lock.
func (b *breaker) setState(next breakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.failures = 0
	b.probes = 0
	b.successes = 0
	if next == breakerOpen {
		b.openedAt = time.Now()
	}
	if b.logger != nil {
		b.logger.Printf("🔌 Gateway breaker %s -> %s", prev, next)
	}
}
