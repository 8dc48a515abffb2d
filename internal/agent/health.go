package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/clawcore/internal/backoff"
)

// Clock supplies the current time. Tests inject a fake to make cooldown
// expiry deterministic.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// ProviderHealth is a snapshot of one provider's health.
type ProviderHealth struct {
	Name                string    `json:"name"`
	Available           bool      `json:"available"`
	CoolingDownUntil    time.Time `json:"cooling_down_until,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int64     `json:"total_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorKind       string    `json:"last_error_kind,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
}

// HealthConfig configures cooldown behavior.
type HealthConfig struct {
	// FailureThreshold is the consecutive failure count at which a provider
	// starts cooling down.
	FailureThreshold int

	// Cooldown computes the cooldown length. The attempt passed to it is the
	// number of failures at or beyond the threshold, starting at 1.
	Cooldown backoff.Policy

	Clock Clock
}

// HealthTracker is the single synchronized owner of provider health shared by
// every fallback chain in the process.
type HealthTracker struct {
	mu        sync.Mutex
	threshold int
	cooldown  backoff.Policy
	clock     Clock
	states    map[string]*ProviderHealth
}

// NewHealthTracker creates a tracker. Zero config values take defaults.
func NewHealthTracker(cfg HealthConfig) *HealthTracker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.Cooldown.Initial <= 0 {
		cfg.Cooldown = backoff.CooldownPolicy()
	}
	// Cooldowns must be deterministic.
	cfg.Cooldown.Jitter = 0
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	return &HealthTracker{
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		clock:     cfg.Clock,
		states:    make(map[string]*ProviderHealth),
	}
}

// Now returns the tracker clock's current time.
func (h *HealthTracker) Now() time.Time {
	return h.clock.Now()
}

// Register makes a provider visible in snapshots before its first request.
func (h *HealthTracker) Register(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stateLocked(name)
}

func (h *HealthTracker) stateLocked(name string) *ProviderHealth {
	state, ok := h.states[name]
	if !ok {
		state = &ProviderHealth{Name: name}
		h.states[name] = state
	}
	return state
}

// CoolingDown reports whether the provider is in cooldown at now and until
// when. Expiry is evaluated lazily against the clock.
func (h *HealthTracker) CoolingDown(name string, now time.Time) (bool, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.states[name]
	if !ok {
		return false, time.Time{}
	}
	return now.Before(state.CoolingDownUntil), state.CoolingDownUntil
}

// RecordSuccess resets the consecutive failure count.
func (h *HealthTracker) RecordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.stateLocked(name)
	state.ConsecutiveFailures = 0
	state.CoolingDownUntil = time.Time{}
	state.TotalSuccesses++
	state.LastSuccess = h.clock.Now()
}

// RecordFailure counts a failure and, once the threshold is reached, starts a
// cooldown. It returns the cooldown deadline when one was started.
//
// A provider whose cooldown lapsed keeps its failure count, so its next
// failure starts a longer cooldown straight away.
func (h *HealthTracker) RecordFailure(name string, err error, kind string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state := h.stateLocked(name)
	state.ConsecutiveFailures++
	state.TotalFailures++
	state.LastErrorKind = kind
	if err != nil {
		state.LastError = err.Error()
	}
	if state.ConsecutiveFailures < h.threshold {
		return time.Time{}, false
	}
	attempt := state.ConsecutiveFailures - h.threshold + 1
	state.CoolingDownUntil = h.clock.Now().Add(h.cooldown.Compute(attempt))
	return state.CoolingDownUntil, true
}

// Reset clears a provider's failure state.
func (h *HealthTracker) Reset(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if state, ok := h.states[name]; ok {
		state.ConsecutiveFailures = 0
		state.CoolingDownUntil = time.Time{}
	}
}

// Get returns a copy of one provider's health.
func (h *HealthTracker) Get(name string) (ProviderHealth, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.states[name]
	if !ok {
		return ProviderHealth{}, false
	}
	out := *state
	out.Available = !h.clock.Now().Before(state.CoolingDownUntil)
	return out, true
}

// Snapshot returns copies of every provider's health sorted by name.
func (h *HealthTracker) Snapshot() []ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.clock.Now()
	out := make([]ProviderHealth, 0, len(h.states))
	for _, state := range h.states {
		cp := *state
		cp.Available = !now.Before(state.CoolingDownUntil)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
