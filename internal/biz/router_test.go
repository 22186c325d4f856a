package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"RouteLane/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// fakeClock is a manually advanced clock for deterministic breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeObserver records metric observations.
type fakeObserver struct {
	mu        sync.Mutex
	states    map[string]string
	ejections map[string]int
	forgotten []string
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		states:    make(map[string]string),
		ejections: make(map[string]int),
	}
}

func (o *fakeObserver) ObserveEffectiveWeight(provider string, normalized float64) {}

func (o *fakeObserver) ObserveCircuitState(provider, state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[provider] = state
}

func (o *fakeObserver) IncEjection(provider, cause string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ejections[provider+"/"+cause]++
}

func (o *fakeObserver) ForgetProvider(provider string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forgotten = append(o.forgotten, provider)
}

// fakeAudit records transition audit events.
type fakeAudit struct {
	mu          sync.Mutex
	transitions []string
	cooldowns   []time.Time
}

func (a *fakeAudit) LogTransition(provider, from, to, cause string, openDuration time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transitions = append(a.transitions, provider+":"+from+"->"+to+":"+cause)
}

func (a *fakeAudit) LogCooldown(provider string, until time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cooldowns = append(a.cooldowns, until)
}

func testRouterConf(enabled bool) *conf.Router {
	return &conf.Router{
		BreakerEnabled:     enabled,
		FailureThreshold:   3,
		RateLimitThreshold: 2,
		BaseOpenDuration:   durationpb.New(30 * time.Second),
		MaxOpenDuration:    durationpb.New(4 * time.Minute),
		HalfOpenFactor:     0.2,
		RecoveryRampWindow: durationpb.New(60 * time.Second),
		DefaultCooldown:    durationpb.New(60 * time.Second),
		ClosedDecayWindow:  durationpb.New(5 * time.Minute),
	}
}

func newTestRouter(t *testing.T, enabled bool, specs ...ProviderSpec) (*RouterUseCase, *fakeClock, *fakeObserver, *fakeAudit) {
	t.Helper()
	clock := newFakeClock()
	obs := newFakeObserver()
	audit := &fakeAudit{}
	uc := NewRouterUseCase(testRouterConf(enabled), obs, audit, testLogger())
	uc.now = clock.Now
	uc.ApplySnapshot(NewSnapshot(specs))
	return uc, clock, obs, audit
}

func twoProviders(weightA, weightB int32) []ProviderSpec {
	return []ProviderSpec{
		{Key: "alpha", Name: "Alpha", BaseURL: "https://alpha.example.com", Weight: weightA, Enabled: true},
		{Key: "beta", Name: "Beta", BaseURL: "https://beta.example.com", Weight: weightB, Enabled: true},
	}
}

func statusOf(t *testing.T, uc *RouterUseCase, key string) ProviderStatus {
	t.Helper()
	for _, st := range uc.Status() {
		if st.Key == key {
			return st
		}
	}
	t.Fatalf("provider %s not in status", key)
	return ProviderStatus{}
}

func TestSelectDistributionBreakerDisabled(t *testing.T) {
	uc, _, _, _ := newTestRouter(t, false, twoProviders(9, 1)...)

	const draws = 20000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		sel, err := uc.Select(context.Background(), nil)
		require.NoError(t, err)
		counts[sel.Provider.Key]++
	}

	frac := float64(counts["alpha"]) / draws
	assert.InDelta(t, 0.9, frac, 0.02, "alpha should receive ~90%% of traffic")
	assert.Greater(t, counts["beta"], 0)
}

func TestSelectEmptySnapshot(t *testing.T) {
	uc, _, _, _ := newTestRouter(t, true)

	_, err := uc.Select(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsNoProviderAvailable(err))
}

func TestSelectUnknownCandidates(t *testing.T) {
	uc, _, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)

	_, err := uc.Select(context.Background(), []string{"gamma"})
	require.Error(t, err)
	assert.True(t, IsNoProviderAvailable(err))
}

func TestReportOpensCircuitAtFailureThreshold(t *testing.T) {
	uc, _, obs, audit := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	assert.Equal(t, "closed", statusOf(t, uc, "alpha").StateLabel)

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})

	st := statusOf(t, uc, "alpha")
	assert.Equal(t, "open", st.StateLabel)
	assert.Zero(t, st.EffectiveWeight)
	require.NotNil(t, st.ReopenAt)

	obs.mu.Lock()
	assert.Equal(t, 1, obs.ejections["alpha/server_error"])
	obs.mu.Unlock()

	audit.mu.Lock()
	assert.Contains(t, audit.transitions, "alpha:closed->open:server_error")
	audit.mu.Unlock()

	// While alpha is open, every selection lands on beta.
	for i := 0; i < 100; i++ {
		sel, err := uc.Select(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "beta", sel.Provider.Key)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	uc, _, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeSuccess})
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})

	assert.Equal(t, "closed", statusOf(t, uc, "alpha").StateLabel)
}

func TestIgnoredOutcomeDoesNotFeedBreaker(t *testing.T) {
	uc, _, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	for i := 0; i < 10; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeIgnored})
	}
	assert.Equal(t, "closed", statusOf(t, uc, "alpha").StateLabel)

	// Client errors neither reset nor advance the failure streak.
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	assert.Equal(t, "open", statusOf(t, uc, "alpha").StateLabel)
}

func TestOpenTransitionsToHalfOpenAfterBackoff(t *testing.T) {
	uc, clock, _, audit := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	}
	require.Equal(t, "open", statusOf(t, uc, "alpha").StateLabel)

	clock.Advance(29 * time.Second)
	assert.Equal(t, "open", statusOf(t, uc, "alpha").StateLabel)

	clock.Advance(1 * time.Second)
	st := statusOf(t, uc, "alpha")
	assert.Equal(t, "half_open", st.StateLabel)
	assert.InDelta(t, 0.2, st.EffectiveWeight, 1e-9, "half-open weight is static * half_open_factor")

	audit.mu.Lock()
	assert.Contains(t, audit.transitions, "alpha:open->half_open:backoff_elapsed")
	audit.mu.Unlock()
}

func TestProbeSuccessClosesCircuitAndRamps(t *testing.T) {
	uc, clock, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	}
	clock.Advance(30 * time.Second)
	require.Equal(t, "half_open", statusOf(t, uc, "alpha").StateLabel)

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeSuccess})
	st := statusOf(t, uc, "alpha")
	assert.Equal(t, "closed", st.StateLabel)
	// Immediately after closing the ramp starts at the half-open factor.
	assert.InDelta(t, 0.2, st.EffectiveWeight, 1e-9)

	// Halfway through the ramp window the weight sits between the factor and 1.
	clock.Advance(30 * time.Second)
	st = statusOf(t, uc, "alpha")
	assert.InDelta(t, 0.6, st.EffectiveWeight, 1e-9)

	// After the window it is fully restored.
	clock.Advance(30 * time.Second)
	st = statusOf(t, uc, "alpha")
	assert.InDelta(t, 1.0, st.EffectiveWeight, 1e-9)
}

func TestProbeFailureReopensWithDoubledBackoff(t *testing.T) {
	uc, clock, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	}
	clock.Advance(30 * time.Second)
	require.Equal(t, "half_open", statusOf(t, uc, "alpha").StateLabel)

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeTransportError})
	st := statusOf(t, uc, "alpha")
	require.Equal(t, "open", st.StateLabel)
	assert.Equal(t, 60*time.Second, st.OpenDuration)
	require.NotNil(t, st.ReopenAt)
	assert.Equal(t, clock.Now().Add(60*time.Second), *st.ReopenAt)
}

func TestBackoffCappedAtMaximum(t *testing.T) {
	uc, clock, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	}

	// Fail every probe: 30s -> 60s -> 120s -> 240s -> capped at 240s (max).
	expected := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 240 * time.Second}
	for _, want := range expected {
		st := statusOf(t, uc, "alpha")
		require.Equal(t, "open", st.StateLabel)
		clock.Advance(st.OpenDuration)
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
		assert.Equal(t, want, statusOf(t, uc, "alpha").OpenDuration)
	}
}

func TestProbeSuccessHalvesBackoffTowardBase(t *testing.T) {
	uc, clock, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	// Escalate to 120s.
	for i := 0; i < 3; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	}
	clock.Advance(30 * time.Second)
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError}) // 60s
	clock.Advance(60 * time.Second)
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError}) // 120s
	clock.Advance(120 * time.Second)
	require.Equal(t, "half_open", statusOf(t, uc, "alpha").StateLabel)

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeSuccess})
	assert.Equal(t, 60*time.Second, statusOf(t, uc, "alpha").OpenDuration)

	// Ordinary successes in Closed leave the backoff untouched; only probe
	// successes shrink it.
	for i := 0; i < 5; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeSuccess})
	}
	assert.Equal(t, 60*time.Second, statusOf(t, uc, "alpha").OpenDuration)
}

func TestSuccessWhileOpenDoesNotClose(t *testing.T) {
	uc, clock, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	}
	st := statusOf(t, uc, "alpha")
	require.Equal(t, "open", st.StateLabel)
	reopenAt := *st.ReopenAt

	// Forced-probe traffic may succeed while the circuit is open; the breaker
	// still waits out its backoff.
	clock.Advance(10 * time.Second)
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeSuccess})
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeSuccess})

	st = statusOf(t, uc, "alpha")
	assert.Equal(t, "open", st.StateLabel)
	require.NotNil(t, st.ReopenAt)
	assert.Equal(t, reopenAt, *st.ReopenAt)
}

func TestRateLimitSetsCooldown(t *testing.T) {
	uc, clock, _, audit := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeRateLimited, RetryAfter: 90 * time.Second})

	st := statusOf(t, uc, "alpha")
	assert.Equal(t, "closed", st.StateLabel, "a single 429 must not open the circuit")
	assert.Zero(t, st.EffectiveWeight, "cooldown takes precedence over circuit state")
	require.NotNil(t, st.CooldownUntil)
	assert.Equal(t, clock.Now().Add(90*time.Second), *st.CooldownUntil)

	audit.mu.Lock()
	require.Len(t, audit.cooldowns, 1)
	audit.mu.Unlock()

	// Cooldown expires on its own.
	clock.Advance(91 * time.Second)
	st = statusOf(t, uc, "alpha")
	assert.InDelta(t, 1.0, st.EffectiveWeight, 1e-9)
	assert.Nil(t, st.CooldownUntil)
}

func TestRateLimitWithoutRetryAfterUsesDefaultCooldown(t *testing.T) {
	uc, clock, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeRateLimited})

	st := statusOf(t, uc, "alpha")
	require.NotNil(t, st.CooldownUntil)
	assert.Equal(t, clock.Now().Add(60*time.Second), *st.CooldownUntil)
}

func TestRateLimitStreakOpensCircuit(t *testing.T) {
	uc, _, obs, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeRateLimited})
	assert.Equal(t, "closed", statusOf(t, uc, "alpha").StateLabel)

	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeRateLimited})
	assert.Equal(t, "open", statusOf(t, uc, "alpha").StateLabel)

	obs.mu.Lock()
	assert.Equal(t, 1, obs.ejections["alpha/rate_limited"])
	obs.mu.Unlock()
}

func TestForcedProbeWhenAllUnhealthy(t *testing.T) {
	uc, _, _, _ := newTestRouter(t, true, twoProviders(3, 1)...)
	ctx := context.Background()

	for _, key := range []string{"alpha", "beta"} {
		for i := 0; i < 3; i++ {
			uc.Report(ctx, key, Outcome{Kind: OutcomeServerError})
		}
	}

	sel, err := uc.Select(ctx, nil)
	require.NoError(t, err)
	assert.True(t, sel.ForcedProbe)
	assert.Contains(t, []string{"alpha", "beta"}, sel.Provider.Key)
}

func TestBreakerDisabledIgnoresReports(t *testing.T) {
	uc, _, _, _ := newTestRouter(t, false, twoProviders(1, 1)...)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	}

	// Reports are recorded but selection stays static-weight only.
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		sel, err := uc.Select(ctx, nil)
		require.NoError(t, err)
		assert.False(t, sel.ForcedProbe)
		seen[sel.Provider.Key] = true
	}
	assert.True(t, seen["alpha"])
	assert.True(t, seen["beta"])
}

func TestReportUnknownProviderIsDropped(t *testing.T) {
	uc, _, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)

	// Must not create a health record for a provider outside the snapshot.
	uc.Report(context.Background(), "gamma", Outcome{Kind: OutcomeServerError})

	uc.mu.RLock()
	_, ok := uc.records["gamma"]
	uc.mu.RUnlock()
	assert.False(t, ok)
}

func TestApplySnapshotDiscardsRemovedRecords(t *testing.T) {
	uc, _, obs, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		uc.Report(ctx, "beta", Outcome{Kind: OutcomeServerError})
	}
	require.Equal(t, "open", statusOf(t, uc, "beta").StateLabel)

	// Drop beta, then bring it back: history must not survive its absence.
	uc.ApplySnapshot(NewSnapshot(twoProviders(1, 1)[:1]))
	obs.mu.Lock()
	assert.Contains(t, obs.forgotten, "beta")
	obs.mu.Unlock()

	uc.ApplySnapshot(NewSnapshot(twoProviders(1, 1)))
	assert.Equal(t, "closed", statusOf(t, uc, "beta").StateLabel)
}

func TestClosedDecayResetsBackoff(t *testing.T) {
	uc, clock, _, _ := newTestRouter(t, true, twoProviders(1, 1)...)
	ctx := context.Background()

	// One full open/recover cycle leaves the escalation armed.
	for i := 0; i < 3; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	}
	clock.Advance(30 * time.Second)
	uc.Report(ctx, "alpha", Outcome{Kind: OutcomeSuccess})
	require.Equal(t, "closed", statusOf(t, uc, "alpha").StateLabel)

	// A failure-free window longer than the decay window disarms it.
	clock.Advance(6 * time.Minute)
	for i := 0; i < 3; i++ {
		uc.Report(ctx, "alpha", Outcome{Kind: OutcomeServerError})
	}
	st := statusOf(t, uc, "alpha")
	require.Equal(t, "open", st.StateLabel)
	assert.Equal(t, 30*time.Second, st.OpenDuration, "backoff restarts from base after decay")
}

func TestSelectCandidateSubset(t *testing.T) {
	specs := append(twoProviders(1, 1), ProviderSpec{
		Key: "gamma", Name: "Gamma", BaseURL: "https://gamma.example.com", Weight: 5, Enabled: true,
	})
	uc, _, _, _ := newTestRouter(t, true, specs...)

	for i := 0; i < 50; i++ {
		sel, err := uc.Select(context.Background(), []string{"alpha", "beta"})
		require.NoError(t, err)
		assert.NotEqual(t, "gamma", sel.Provider.Key)
	}
}

func TestConcurrentSelectAndReport(t *testing.T) {
	uc, _, _, _ := newTestRouter(t, true, twoProviders(3, 1)...)
	ctx := context.Background()

	outcomes := []Outcome{
		{Kind: OutcomeSuccess},
		{Kind: OutcomeServerError},
		{Kind: OutcomeRateLimited, RetryAfter: time.Second},
		{Kind: OutcomeIgnored},
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				sel, err := uc.Select(ctx, nil)
				if err != nil {
					continue
				}
				uc.Report(ctx, sel.Provider.Key, outcomes[(seed+i)%len(outcomes)])
			}
		}(g)
	}
	wg.Wait()

	// The engine must stay internally consistent under interleaving.
	for _, st := range uc.Status() {
		assert.Contains(t, []string{"closed", "open", "half_open"}, st.StateLabel)
		assert.GreaterOrEqual(t, st.EffectiveWeight, 0.0)
		assert.LessOrEqual(t, st.EffectiveWeight, float64(st.StaticWeight))
	}
}
