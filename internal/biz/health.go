package biz

import (
	"sync"
	"time"

	"RouteLane/internal/conf"
)

// CircuitState represents the circuit breaker state of one provider.
// Exactly one value applies per provider at any instant.
type CircuitState int32

const (
	// CircuitClosed is the initial state; traffic flows at full weight.
	CircuitClosed CircuitState = iota
	// CircuitOpen excludes the provider from normal selection until reopenAt.
	CircuitOpen
	// CircuitHalfOpen admits a small trickle of probe traffic.
	CircuitHalfOpen
)

// String implements fmt.Stringer.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Transition cause labels beyond outcome kinds.
const (
	causeBackoffElapsed = "backoff_elapsed"
	causeProbeSuccess   = "probe_success"
)

// BreakerConfig holds the resolved circuit breaker tunables.
type BreakerConfig struct {
	Enabled            bool
	FailureThreshold   int
	RateLimitThreshold int
	BaseOpenDuration   time.Duration
	MaxOpenDuration    time.Duration
	HalfOpenFactor     float64
	RecoveryRampWindow time.Duration
	DefaultCooldown    time.Duration
	ClosedDecayWindow  time.Duration
}

// NewBreakerConfig builds a BreakerConfig from configuration, filling in
// defaults for unset fields.
func NewBreakerConfig(c *conf.Router) BreakerConfig {
	cfg := BreakerConfig{}
	if c != nil {
		cfg.Enabled = c.BreakerEnabled
		cfg.FailureThreshold = int(c.FailureThreshold)
		cfg.RateLimitThreshold = int(c.RateLimitThreshold)
		if c.BaseOpenDuration != nil {
			cfg.BaseOpenDuration = c.BaseOpenDuration.AsDuration()
		}
		if c.MaxOpenDuration != nil {
			cfg.MaxOpenDuration = c.MaxOpenDuration.AsDuration()
		}
		cfg.HalfOpenFactor = c.HalfOpenFactor
		if c.RecoveryRampWindow != nil {
			cfg.RecoveryRampWindow = c.RecoveryRampWindow.AsDuration()
		}
		if c.DefaultCooldown != nil {
			cfg.DefaultCooldown = c.DefaultCooldown.AsDuration()
		}
		if c.ClosedDecayWindow != nil {
			cfg.ClosedDecayWindow = c.ClosedDecayWindow.AsDuration()
		}
	}
	return cfg.withDefaults()
}

// withDefaults fills zero-valued tunables with their documented defaults.
func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RateLimitThreshold <= 0 {
		c.RateLimitThreshold = 3
	}
	if c.BaseOpenDuration <= 0 {
		c.BaseOpenDuration = 30 * time.Second
	}
	if c.MaxOpenDuration < c.BaseOpenDuration {
		c.MaxOpenDuration = 10 * time.Minute
		if c.MaxOpenDuration < c.BaseOpenDuration {
			c.MaxOpenDuration = c.BaseOpenDuration
		}
	}
	if c.HalfOpenFactor <= 0 || c.HalfOpenFactor > 1 {
		c.HalfOpenFactor = 0.2
	}
	if c.RecoveryRampWindow <= 0 {
		c.RecoveryRampWindow = 60 * time.Second
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = 60 * time.Second
	}
	if c.ClosedDecayWindow <= 0 {
		c.ClosedDecayWindow = 5 * time.Minute
	}
	return c
}

// stateChange records one circuit transition for metrics and audit reporting.
// It is produced under the record lock and emitted after the lock is released.
type stateChange struct {
	From         CircuitState
	To           CircuitState
	Cause        string
	OpenDuration time.Duration // set when To == CircuitOpen
}

// healthRecord is the mutable per-provider health state. Each record carries
// its own mutex so contention on one provider never stalls decisions on
// another. A record is created the first time a provider appears in an
// enabled snapshot and discarded when the provider disappears; history does
// not survive a provider's absence.
type healthRecord struct {
	mu sync.Mutex

	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	rateLimitStreak      int

	// cooldownUntil is the explicit upstream-instructed exclusion window.
	// Independent of circuit state and always honored first. Zero when unset.
	cooldownUntil time.Time

	openedAt time.Time
	reopenAt time.Time

	// openDuration is the backoff length to use for the current/next Open
	// period. Doubles (capped) on each Open entry while escalate is set,
	// halves toward base on probe success, resets to base after a sustained
	// failure-free Closed window.
	openDuration time.Duration
	escalate     bool

	// rampStart marks the most recent HalfOpen→Closed transition; the
	// recovery factor climbs from the half-open factor back to 1.0 over the
	// ramp window starting here.
	rampStart time.Time
	ramping   bool

	// lastStrike is the most recent failure or rate-limit observation,
	// used for the sustained-closed backoff decay.
	lastStrike time.Time
}

func newHealthRecord(cfg BreakerConfig) *healthRecord {
	return &healthRecord{
		state:        CircuitClosed,
		openDuration: cfg.BaseOpenDuration,
	}
}

// sync applies wall-clock driven transitions: Open→HalfOpen once the backoff
// elapsed, cooldown expiry, and the sustained-closed backoff decay.
// Must be called with r.mu held.
func (r *healthRecord) sync(now time.Time, cfg BreakerConfig) []stateChange {
	var changes []stateChange

	if r.state == CircuitOpen && !now.Before(r.reopenAt) {
		r.state = CircuitHalfOpen
		r.consecutiveFailures = 0
		r.consecutiveSuccesses = 0
		r.rateLimitStreak = 0
		changes = append(changes, stateChange{
			From:  CircuitOpen,
			To:    CircuitHalfOpen,
			Cause: causeBackoffElapsed,
		})
	}

	if !r.cooldownUntil.IsZero() && !now.Before(r.cooldownUntil) {
		r.cooldownUntil = time.Time{}
	}

	if r.state == CircuitClosed && r.escalate &&
		!r.lastStrike.IsZero() && now.Sub(r.lastStrike) >= cfg.ClosedDecayWindow {
		r.openDuration = cfg.BaseOpenDuration
		r.escalate = false
	}

	return changes
}

// observe applies one classified outcome to the record and returns the
// resulting transitions plus the cooldown deadline if one was set.
// Must be called with r.mu held, after sync.
func (r *healthRecord) observe(now time.Time, out Outcome, cfg BreakerConfig) ([]stateChange, time.Time) {
	var (
		changes  []stateChange
		cooldown time.Time
	)

	switch out.Kind {
	case OutcomeSuccess:
		switch r.state {
		case CircuitClosed:
			r.consecutiveFailures = 0
			r.rateLimitStreak = 0
			r.consecutiveSuccesses++
		case CircuitHalfOpen:
			// Successful probe: close the circuit, shrink the backoff toward
			// its floor and start the slow-start ramp.
			r.state = CircuitClosed
			r.consecutiveFailures = 0
			r.consecutiveSuccesses = 1
			r.rateLimitStreak = 0
			if half := r.openDuration / 2; half > cfg.BaseOpenDuration {
				r.openDuration = half
			} else {
				r.openDuration = cfg.BaseOpenDuration
			}
			r.rampStart = now
			r.ramping = true
			changes = append(changes, stateChange{
				From:  CircuitHalfOpen,
				To:    CircuitClosed,
				Cause: causeProbeSuccess,
			})
		case CircuitOpen:
			// Forced-probe traffic can succeed while Open; re-admission still
			// waits for reopenAt so the breaker cannot flap on report volume.
		}

	case OutcomeRateLimited:
		delay := out.RetryAfter
		if delay <= 0 {
			delay = cfg.DefaultCooldown
		}
		r.cooldownUntil = now.Add(delay)
		cooldown = r.cooldownUntil
		r.rateLimitStreak++
		r.lastStrike = now
		if r.state != CircuitOpen && r.rateLimitStreak >= cfg.RateLimitThreshold {
			changes = append(changes, r.open(now, OutcomeRateLimited.String(), cfg))
		}

	case OutcomeServerError, OutcomeTransportError:
		r.lastStrike = now
		switch r.state {
		case CircuitClosed:
			r.consecutiveSuccesses = 0
			r.consecutiveFailures++
			if r.consecutiveFailures >= cfg.FailureThreshold {
				changes = append(changes, r.open(now, out.Kind.String(), cfg))
			}
		case CircuitHalfOpen:
			// Failed probe: escalate the backoff and reopen immediately.
			changes = append(changes, r.open(now, out.Kind.String(), cfg))
		case CircuitOpen:
			// Residual in-flight failure; the circuit is already open.
		}

	case OutcomeIgnored:
		// Client-caused 4xx never feeds breaker bookkeeping.
	}

	return changes, cooldown
}

// open transitions the record into CircuitOpen, growing the backoff
// geometrically up to the configured maximum. Must be called with r.mu held.
func (r *healthRecord) open(now time.Time, cause string, cfg BreakerConfig) stateChange {
	from := r.state
	if r.escalate {
		r.openDuration *= 2
		if r.openDuration > cfg.MaxOpenDuration {
			r.openDuration = cfg.MaxOpenDuration
		}
	} else {
		r.escalate = true
	}
	r.state = CircuitOpen
	r.openedAt = now
	r.reopenAt = now.Add(r.openDuration)
	r.consecutiveFailures = 0
	r.consecutiveSuccesses = 0
	r.rateLimitStreak = 0
	r.ramping = false
	return stateChange{
		From:         from,
		To:           CircuitOpen,
		Cause:        cause,
		OpenDuration: r.openDuration,
	}
}

// effectiveWeight combines the static weight with the record's current
// health. Pure with respect to the record; must be called with r.mu held,
// after sync.
func (r *healthRecord) effectiveWeight(now time.Time, static float64, cfg BreakerConfig) float64 {
	if static <= 0 {
		return 0
	}
	// Cooldown reflects an explicit upstream instruction, not an inferred
	// failure; it takes precedence over circuit state.
	if !r.cooldownUntil.IsZero() && now.Before(r.cooldownUntil) {
		return 0
	}
	switch r.state {
	case CircuitOpen:
		return 0
	case CircuitHalfOpen:
		return static * cfg.HalfOpenFactor
	default:
		return static * r.recoveryFactor(now, cfg)
	}
}

// recoveryFactor ramps linearly from the half-open factor back to 1.0 over
// the ramp window following a successful probe, and is pinned at 1.0
// otherwise. Must be called with r.mu held.
func (r *healthRecord) recoveryFactor(now time.Time, cfg BreakerConfig) float64 {
	if !r.ramping {
		return 1.0
	}
	elapsed := now.Sub(r.rampStart)
	if elapsed >= cfg.RecoveryRampWindow {
		r.ramping = false
		return 1.0
	}
	frac := float64(elapsed) / float64(cfg.RecoveryRampWindow)
	return cfg.HalfOpenFactor + (1.0-cfg.HalfOpenFactor)*frac
}
