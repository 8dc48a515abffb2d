package channels

import (
	"sync"
	"time"
)

// StatusTracker is embedded by adapters to report connection state.
type StatusTracker struct {
	mu     sync.RWMutex
	status Status
}

// SetStatus records whether the adapter is connected and the last error.
func (t *StatusTracker) SetStatus(connected bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Connected = connected
	t.status.Error = errMsg
}

// Ping records traffic from the platform.
func (t *StatusTracker) Ping() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastPing = time.Now().Unix()
}

// Status returns the current status.
func (t *StatusTracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
