package agent

import (
	"sort"
	"sync"
)

// TurnState is the position of a session in the turn state machine.
type TurnState string

const (
	StateIdle          TurnState = "idle"
	StateAwaitingModel TurnState = "awaiting_model"
	StateExecutingTool TurnState = "executing_tool"
	StateResponding    TurnState = "responding"
)

// TransitionFunc observes state changes. It is called with the tracker lock
// released.
type TransitionFunc func(sessionID string, from, to TurnState)

// StateTracker records the current TurnState of every session. Sessions not
// present are Idle.
type StateTracker struct {
	mu     sync.RWMutex
	states map[string]TurnState
	hook   TransitionFunc
}

// NewStateTracker creates a tracker. hook may be nil.
func NewStateTracker(hook TransitionFunc) *StateTracker {
	return &StateTracker{states: map[string]TurnState{}, hook: hook}
}

// Set moves a session to state.
func (s *StateTracker) Set(sessionID string, state TurnState) {
	s.mu.Lock()
	from, ok := s.states[sessionID]
	if !ok {
		from = StateIdle
	}
	if state == StateIdle {
		delete(s.states, sessionID)
	} else {
		s.states[sessionID] = state
	}
	hook := s.hook
	s.mu.Unlock()

	if hook != nil && from != state {
		hook(sessionID, from, state)
	}
}

// Get returns the state of a session.
func (s *StateTracker) Get(sessionID string) TurnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.states[sessionID]; ok {
		return state
	}
	return StateIdle
}

// Active returns the number of sessions with a turn in flight.
func (s *StateTracker) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// ActiveSessions lists sessions with a turn in flight, sorted.
func (s *StateTracker) ActiveSessions() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.states))
	for id := range s.states {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
