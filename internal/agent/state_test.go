package agent

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStateTracker(t *testing.T) {
	log := &transitionLog{}
	states := NewStateTracker(log.hook)

	if got := states.Get("s1"); got != StateIdle {
		t.Fatalf("unknown session state = %s, want idle", got)
	}

	states.Set("s2", StateAwaitingModel)
	states.Set("s1", StateAwaitingModel)
	states.Set("s1", StateAwaitingModel)
	states.Set("s1", StateExecutingTool)

	if diff := cmp.Diff([]string{"s1", "s2"}, states.ActiveSessions()); diff != "" {
		t.Fatalf("active sessions mismatch (-want +got):\n%s", diff)
	}
	states.Set("s1", StateIdle)
	if states.Active() != 1 || states.Get("s1") != StateIdle {
		t.Fatalf("s1 should be idle, active=%d", states.Active())
	}

	want := []string{
		"idle>awaiting_model",
		"idle>awaiting_model",
		"awaiting_model>executing_tool",
		"executing_tool>idle",
	}
	if diff := cmp.Diff(want, log.Steps()); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
}
