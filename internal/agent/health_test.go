package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/clawcore/internal/backoff"
)

func newTestHealth(threshold int) (*HealthTracker, *fakeClock) {
	clock := newFakeClock()
	return NewHealthTracker(HealthConfig{
		FailureThreshold: threshold,
		Cooldown:         backoff.Policy{Initial: time.Minute, Max: 10 * time.Minute, Factor: 2},
		Clock:            clock,
	}), clock
}

func TestHealthTracker_CooldownDoublesAndCaps(t *testing.T) {
	health, clock := newTestHealth(1)
	boom := errors.New("boom")

	wants := []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 10 * time.Minute, 10 * time.Minute}
	for i, want := range wants {
		until, started := health.RecordFailure("p", boom, "server_error")
		if !started {
			t.Fatalf("failure %d: expected cooldown to start", i+1)
		}
		if got := until.Sub(clock.Now()); got != want {
			t.Fatalf("failure %d: cooldown = %s, want %s", i+1, got, want)
		}
		clock.Advance(want)
	}
}

func TestHealthTracker_CooldownExpiresLazily(t *testing.T) {
	health, clock := newTestHealth(1)
	health.RecordFailure("p", errors.New("boom"), "timeout")

	if cooling, _ := health.CoolingDown("p", clock.Now()); !cooling {
		t.Fatal("expected provider to be cooling down")
	}
	h, _ := health.Get("p")
	if h.Available || h.LastError != "boom" || h.LastErrorKind != "timeout" {
		t.Fatalf("unexpected health %+v", h)
	}

	clock.Advance(time.Minute)
	if cooling, _ := health.CoolingDown("p", clock.Now()); cooling {
		t.Fatal("cooldown should have expired")
	}
	if h, _ := health.Get("p"); !h.Available {
		t.Fatal("provider should be available after cooldown")
	}
}

func TestHealthTracker_ThresholdAndSuccess(t *testing.T) {
	health, _ := newTestHealth(3)
	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if _, started := health.RecordFailure("p", boom, "rate_limit"); started {
			t.Fatalf("failure %d should not start a cooldown", i+1)
		}
	}
	if _, started := health.RecordFailure("p", boom, "rate_limit"); !started {
		t.Fatal("third failure should start a cooldown")
	}

	health.RecordSuccess("p")
	h, _ := health.Get("p")
	if h.ConsecutiveFailures != 0 || !h.Available || h.TotalFailures != 3 || h.TotalSuccesses != 1 {
		t.Fatalf("unexpected health after success %+v", h)
	}
}

func TestHealthTracker_SnapshotSortedAndRegistered(t *testing.T) {
	health, _ := newTestHealth(1)
	health.Register("zeta")
	health.Register("alpha")
	health.RecordFailure("mid", errors.New("x"), "auth")

	snap := health.Snapshot()
	if len(snap) != 3 || snap[0].Name != "alpha" || snap[1].Name != "mid" || snap[2].Name != "zeta" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap[0].Available || snap[1].Available {
		t.Fatalf("unexpected availability %+v", snap)
	}

	health.Reset("mid")
	if h, _ := health.Get("mid"); !h.Available {
		t.Fatal("reset provider should be available")
	}
	if _, ok := health.Get("unknown"); ok {
		t.Fatal("unknown provider should not be reported")
	}
}
