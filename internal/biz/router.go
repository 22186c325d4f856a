package biz

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"RouteLane/internal/conf"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// ErrNoProviderAvailable is returned by Select when no enabled provider
// exists for the requested route at all. It surfaces to the caller as a
// service-unavailable response.
var ErrNoProviderAvailable = kerrors.New(503, "NO_PROVIDER_AVAILABLE", "no enabled upstream provider available")

// IsNoProviderAvailable reports whether err is the no-provider-available error.
func IsNoProviderAvailable(err error) bool {
	return kerrors.Reason(err) == "NO_PROVIDER_AVAILABLE"
}

// Observer receives routing health observations for the metrics exporter.
// Implementations must be non-blocking; they are called on the hot path.
type Observer interface {
	// ObserveEffectiveWeight records a provider's normalized effective
	// weight in [0, 1] (effective weight divided by static weight).
	ObserveEffectiveWeight(provider string, normalized float64)

	// ObserveCircuitState records a provider's current circuit state label
	// (closed, open or half_open).
	ObserveCircuitState(provider, state string)

	// IncEjection increments the ejection counter for a provider, labeled
	// by the outcome kind that caused the circuit to open.
	IncEjection(provider, cause string)

	// ForgetProvider drops all series for a provider removed from the
	// configuration snapshot.
	ForgetProvider(provider string)
}

// TransitionLogger receives circuit transition events for audit persistence.
// Implementations must not block the reporting path.
type TransitionLogger interface {
	LogTransition(provider, from, to, cause string, openDuration time.Duration)
	LogCooldown(provider string, until time.Time)
}

// Selection is the result of one routing decision.
type Selection struct {
	Provider ProviderSpec
	// ForcedProbe flags a selection made via the all-provider fallback path
	// because every candidate's effective weight was zero.
	ForcedProbe bool
}

// ProviderStatus is a point-in-time view of one provider's routing health,
// used by the admin endpoint and the metrics refresh job.
type ProviderStatus struct {
	Key                 string        `json:"key"`
	Name                string        `json:"name"`
	StaticWeight        int32         `json:"static_weight"`
	EffectiveWeight     float64       `json:"effective_weight"`
	HealthFactor        float64       `json:"health_factor"`
	State               CircuitState  `json:"-"`
	StateLabel          string        `json:"circuit_state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RateLimitStreak     int           `json:"rate_limit_streak"`
	CooldownUntil       *time.Time    `json:"cooldown_until,omitempty"`
	ReopenAt            *time.Time    `json:"reopen_at,omitempty"`
	OpenDuration        time.Duration `json:"open_duration_ns"`
}

// RouterUseCase is the adaptive provider-routing engine. It owns the
// immutable weight-table snapshot and the per-provider health records, and
// exposes the two hot-path operations: Select and Report. Neither performs
// I/O nor blocks; both are safe under arbitrary interleaving.
type RouterUseCase struct {
	cfg BreakerConfig

	// snap is the current configuration snapshot; reload swaps the pointer.
	snap atomic.Pointer[Snapshot]

	// mu guards the records map only. Each record carries its own lock.
	mu      sync.RWMutex
	records map[string]*healthRecord

	obs    Observer
	audit  TransitionLogger
	logger *log.Helper

	// now is the clock source, read once per logical operation.
	now func() time.Time
}

// NewRouterUseCase creates the routing engine from configuration.
func NewRouterUseCase(c *conf.Router, obs Observer, audit TransitionLogger, logger log.Logger) *RouterUseCase {
	uc := &RouterUseCase{
		cfg:     NewBreakerConfig(c),
		records: make(map[string]*healthRecord),
		obs:     obs,
		audit:   audit,
		logger:  log.NewHelper(logger),
		now:     time.Now,
	}
	uc.snap.Store(NewSnapshot(nil))
	return uc
}

// Config returns the resolved breaker tunables.
func (uc *RouterUseCase) Config() BreakerConfig {
	return uc.cfg
}

// ApplySnapshot publishes a new configuration snapshot and discards health
// records of providers absent from it. Reappearing providers start fresh.
func (uc *RouterUseCase) ApplySnapshot(snap *Snapshot) {
	if snap == nil {
		snap = NewSnapshot(nil)
	}
	uc.snap.Store(snap)

	var removed []string
	uc.mu.Lock()
	for key := range uc.records {
		if _, ok := snap.Lookup(key); !ok {
			delete(uc.records, key)
			removed = append(removed, key)
		}
	}
	uc.mu.Unlock()

	for _, key := range removed {
		if uc.obs != nil {
			uc.obs.ForgetProvider(key)
		}
		uc.logger.Infow("provider removed from snapshot, health state discarded",
			"provider", key)
	}
}

// Snapshot returns the current configuration snapshot.
func (uc *RouterUseCase) Snapshot() *Snapshot {
	return uc.snap.Load()
}

// Select picks one provider among the candidates by weighted-random draw
// over effective weights. A nil candidate list means every provider in the
// current snapshot. When every effective weight is zero the draw falls back
// to static weights and the selection is flagged as a forced probe, trading
// correctness-of-avoidance for availability.
func (uc *RouterUseCase) Select(ctx context.Context, candidates []string) (*Selection, error) {
	now := uc.now()
	snap := uc.snap.Load()

	var specs []ProviderSpec
	if candidates == nil {
		specs = snap.Providers()
	} else {
		specs = make([]ProviderSpec, 0, len(candidates))
		for _, key := range candidates {
			if spec, ok := snap.Lookup(key); ok {
				specs = append(specs, spec)
			}
		}
	}
	if len(specs) == 0 {
		return nil, ErrNoProviderAvailable
	}

	// Breaker disabled: plain static-weight selection, no health adjustment.
	if !uc.cfg.Enabled {
		idx := pickWeighted(staticWeights(specs))
		return &Selection{Provider: specs[idx]}, nil
	}

	weights := make([]float64, len(specs))
	for i, spec := range specs {
		rec := uc.record(spec.Key)
		rec.mu.Lock()
		changes := rec.sync(now, uc.cfg)
		weights[i] = rec.effectiveWeight(now, float64(spec.Weight), uc.cfg)
		rec.mu.Unlock()
		uc.emit(spec.Key, changes, time.Time{})
	}

	if idx, ok := tryPickWeighted(weights); ok {
		return &Selection{Provider: specs[idx]}, nil
	}

	// Every candidate is open, cooling down or zero-weight: route anyway on
	// static weights rather than failing the request outright.
	idx := pickWeighted(staticWeights(specs))
	uc.logger.Warnw("all candidates unhealthy, forced probe selection",
		"candidates", len(specs),
		"provider", specs[idx].Key)
	return &Selection{Provider: specs[idx], ForcedProbe: true}, nil
}

// Report feeds the classified outcome of one completed upstream attempt back
// into the health state. It is called exactly once per attempt by the
// dispatch layer and never returns an error.
func (uc *RouterUseCase) Report(ctx context.Context, provider string, out Outcome) {
	now := uc.now()

	if _, ok := uc.snap.Load().Lookup(provider); !ok {
		// Stale report for a provider that left the snapshot mid-flight.
		uc.logger.Debugw("dropping outcome report for unknown provider",
			"provider", provider,
			"outcome", out.Kind.String())
		return
	}

	rec := uc.record(provider)
	rec.mu.Lock()
	changes := rec.sync(now, uc.cfg)
	observed, cooldown := rec.observe(now, out, uc.cfg)
	rec.mu.Unlock()

	changes = append(changes, observed...)
	uc.emit(provider, changes, cooldown)
}

// Status returns a point-in-time health view of every provider in the
// current snapshot.
func (uc *RouterUseCase) Status() []ProviderStatus {
	now := uc.now()
	snap := uc.snap.Load()
	specs := snap.Providers()

	statuses := make([]ProviderStatus, 0, len(specs))
	for _, spec := range specs {
		rec := uc.record(spec.Key)

		rec.mu.Lock()
		changes := rec.sync(now, uc.cfg)
		eff := rec.effectiveWeight(now, float64(spec.Weight), uc.cfg)
		st := ProviderStatus{
			Key:                 spec.Key,
			Name:                spec.Name,
			StaticWeight:        spec.Weight,
			EffectiveWeight:     eff,
			State:               rec.state,
			StateLabel:          rec.state.String(),
			ConsecutiveFailures: rec.consecutiveFailures,
			RateLimitStreak:     rec.rateLimitStreak,
			OpenDuration:        rec.openDuration,
		}
		if !rec.cooldownUntil.IsZero() {
			t := rec.cooldownUntil
			st.CooldownUntil = &t
		}
		if rec.state == CircuitOpen {
			t := rec.reopenAt
			st.ReopenAt = &t
		}
		rec.mu.Unlock()

		if spec.Weight > 0 {
			st.HealthFactor = eff / float64(spec.Weight)
		}
		uc.emit(spec.Key, changes, time.Time{})
		statuses = append(statuses, st)
	}
	return statuses
}

// PublishMetrics pushes the normalized effective weight and circuit state of
// every provider to the observer. Invoked periodically by the cron job.
func (uc *RouterUseCase) PublishMetrics() {
	if uc.obs == nil {
		return
	}
	for _, st := range uc.Status() {
		uc.obs.ObserveEffectiveWeight(st.Key, st.HealthFactor)
		uc.obs.ObserveCircuitState(st.Key, st.StateLabel)
	}
}

// record returns the health record for a provider, creating it on first use.
func (uc *RouterUseCase) record(key string) *healthRecord {
	uc.mu.RLock()
	rec, ok := uc.records[key]
	uc.mu.RUnlock()
	if ok {
		return rec
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if rec, ok = uc.records[key]; ok {
		return rec
	}
	rec = newHealthRecord(uc.cfg)
	uc.records[key] = rec
	return rec
}

// emit publishes transitions and cooldown events to metrics, audit and logs.
// Called after the record lock is released.
func (uc *RouterUseCase) emit(provider string, changes []stateChange, cooldown time.Time) {
	for _, ch := range changes {
		if uc.obs != nil {
			uc.obs.ObserveCircuitState(provider, ch.To.String())
			if ch.To == CircuitOpen {
				uc.obs.IncEjection(provider, ch.Cause)
			}
		}
		if uc.audit != nil {
			uc.audit.LogTransition(provider, ch.From.String(), ch.To.String(), ch.Cause, ch.OpenDuration)
		}
		if ch.To == CircuitOpen {
			uc.logger.Warnw("circuit opened",
				"provider", provider,
				"cause", ch.Cause,
				"open_duration", ch.OpenDuration)
		} else {
			uc.logger.Infow("circuit state changed",
				"provider", provider,
				"from", ch.From.String(),
				"to", ch.To.String(),
				"cause", ch.Cause)
		}
	}

	if !cooldown.IsZero() {
		if uc.audit != nil {
			uc.audit.LogCooldown(provider, cooldown)
		}
		uc.logger.Infow("provider cooldown set",
			"provider", provider,
			"until", cooldown)
	}
}

// staticWeights returns the configured weights of the given specs.
func staticWeights(specs []ProviderSpec) []float64 {
	weights := make([]float64, len(specs))
	for i, spec := range specs {
		weights[i] = float64(spec.Weight)
	}
	return weights
}

// tryPickWeighted performs a cumulative-weight random draw. It returns false
// when the total weight is not positive.
func tryPickWeighted(weights []float64) (int, bool) {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0, false
	}

	r := rand.Float64() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		r -= w
		if r < 0 {
			return i, true
		}
	}
	// Floating point edge: fall back to the last positive weight.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i, true
		}
	}
	return 0, true
}

// pickWeighted draws over the given weights, treating an all-zero list as
// uniform so the fallback path can never come up empty-handed.
func pickWeighted(weights []float64) int {
	if idx, ok := tryPickWeighted(weights); ok {
		return idx
	}
	return rand.IntN(len(weights))
}
