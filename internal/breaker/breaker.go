// Package breaker implements the per-source circuit breaker that stops the
// orchestrator from hammering a source that keeps failing.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// State is the breaker position.
type State int

// Breaker states.
const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 60 * time.Second
)

// Config tunes a Breaker. Zero values fall back to conservative defaults.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	Clock            harvest.Clock
	// OnTransition is invoked synchronously, outside the breaker lock.
	OnTransition func(from, to State)
}

// Snapshot is a point-in-time view of breaker state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	Threshold           int
	Cooldown            time.Duration
}

// Budget returns how many more calls may fail before a closed breaker opens.
// It is zero unless the breaker is closed.
func (s Snapshot) Budget() int {
	if s.State != Closed {
		return 0
	}
	return max(s.Threshold-s.ConsecutiveFailures, 0)
}

// Breaker is a closed/open/half-open state machine. Allow gates calls;
// RecordSuccess and RecordFailure report their outcomes.
type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// New constructs a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clockFunc(time.Now)
	}
	return &Breaker{cfg: cfg}
}

// Allow reports whether a call may proceed. It returns an error matching
// harvest.ErrCircuitOpen while open, or while the single half-open probe is
// outstanding. Once the cooldown has elapsed the first caller becomes the probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var transitioned bool
	switch b.state {
	case Closed:
		b.mu.Unlock()
		return nil
	case Open:
		if b.cfg.Clock.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return harvest.NewError(harvest.KindCircuitOpen, "breaker", harvest.ErrCircuitOpen)
		}
		b.state = HalfOpen
		b.probeInFlight = true
		transitioned = true
	case HalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			return harvest.NewError(harvest.KindCircuitOpen, "breaker", harvest.ErrCircuitOpen)
		}
		b.probeInFlight = true
	}
	b.mu.Unlock()
	if transitioned {
		b.notify(Open, HalfOpen)
	}
	return nil
}

// Ready reports, without changing state, whether Allow would let a call through.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		return b.cfg.Clock.Now().Sub(b.openedAt) >= b.cfg.Cooldown
	case HalfOpen:
		return !b.probeInFlight
	default:
		return true
	}
}

// RetryAfter returns how long until an open breaker admits its probe.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return 0
	}
	remaining := b.cfg.Cooldown - b.cfg.Clock.Now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Release hands back a half-open probe that was granted but never used, so
// the next Allow can take it. It does not change the state.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.probeInFlight = false
	}
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.probeInFlight = false
	if b.state == HalfOpen {
		b.state = Closed
	}
	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

// RecordFailure counts a failed call. A closed breaker opens at the threshold;
// a failed half-open probe reopens the breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.cfg.Clock.Now()
		}
	case HalfOpen:
		b.state = Open
		b.openedAt = b.cfg.Clock.Now()
		b.probeInFlight = false
	}
	to := b.state
	b.mu.Unlock()
	if from != to {
		b.notify(from, to)
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current state for reporting.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		Threshold:           b.cfg.FailureThreshold,
		Cooldown:            b.cfg.Cooldown,
	}
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(from, to)
	}
}
