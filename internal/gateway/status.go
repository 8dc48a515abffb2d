package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/internal/bus"
	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/internal/heartbeat"
)

// Status is the admin view of a running gateway.
type Status struct {
	Version        string                     `json:"version,omitempty"`
	Uptime         string                     `json:"uptime"`
	Agents         []AgentStatus              `json:"agents"`
	Providers      []agent.ProviderHealth     `json:"providers"`
	ActiveSessions int                        `json:"active_sessions"`
	Bus            []bus.TopicStats           `json:"bus"`
	Channels       map[string]channels.Status `json:"channels,omitempty"`
	Heartbeat      *heartbeat.Snapshot        `json:"heartbeat,omitempty"`
	CronJobs       int                        `json:"cron_jobs"`
}

// AgentStatus describes one configured agent.
type AgentStatus struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Workspace      string   `json:"workspace"`
	ActiveSessions []string `json:"active_sessions,omitempty"`
}

// Status reports provider health, busy sessions, bus depth and channel
// connectivity.
func (s *Server) Status() Status {
	st := Status{
		Version:   s.config.Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Providers: []agent.ProviderHealth{},
		Bus:       s.deps.Bus.Stats(),
	}
	if s.deps.Health != nil {
		st.Providers = s.deps.Health.Snapshot()
	}

	// Runtimes usually share one tracker; count each tracker once.
	seen := map[*agent.StateTracker]bool{}
	for _, id := range s.agentIDs() {
		rt := s.runtimes[id]
		cfg := rt.Config()
		tracker := rt.States()
		st.Agents = append(st.Agents, AgentStatus{
			ID:             cfg.AgentID,
			Name:           cfg.AgentName,
			Workspace:      cfg.Workspace,
			ActiveSessions: sessionsOf(tracker.ActiveSessions(), cfg.AgentID),
		})
		if !seen[tracker] {
			seen[tracker] = true
			st.ActiveSessions += tracker.Active()
		}
	}

	if s.deps.Channels != nil {
		st.Channels = s.deps.Channels.Status()
	}
	if s.deps.Heartbeat != nil {
		snap := s.deps.Heartbeat.Snapshot()
		st.Heartbeat = &snap
	}
	if s.deps.Cron != nil {
		st.CronJobs = len(s.deps.Cron.List(false))
	}
	return st
}

// sessionsOf filters session keys to those owned by agentID. Keys start
// with "agent:<id>:".
func sessionsOf(keys []string, agentID string) []string {
	prefix := "agent:" + agentID + ":"
	var out []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out
}

// Handler returns the admin HTTP surface: /status, /healthz, /metrics and,
// when web chat is enabled, /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, s.Status())
	})
	if s.deps.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))
	}
	if s.deps.WebChat != nil {
		mux.Handle("/ws", s.deps.WebChat)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
