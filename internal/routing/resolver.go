// Package routing decides which agent handles an inbound message.
package routing

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/clawcore/internal/agent"
	"github.com/haasonsaas/clawcore/internal/sessions"
	"github.com/haasonsaas/clawcore/pkg/models"
)

const (
	// MatchedByDefault is reported when no route matched.
	MatchedByDefault = "default"
	// MatchedByAgent is reported when the message named a known agent.
	MatchedByAgent = "agent"
)

// Route binds messages to an agent. Empty match fields are wildcards.
type Route struct {
	Channel  string `yaml:"channel" json:"channel,omitempty"`
	ChatID   string `yaml:"chat_id" json:"chat_id,omitempty"`
	SenderID string `yaml:"sender_id" json:"sender_id,omitempty"`
	Agent    string `yaml:"agent" json:"agent"`

	// PerSender gives every sender in a matched chat its own session.
	PerSender bool `yaml:"per_sender" json:"per_sender,omitempty"`
}

// Resolution is the outcome of routing one message.
type Resolution struct {
	AgentID    string
	SessionKey string
	// MatchedBy is "agent", "route[i]" or "default".
	MatchedBy string
}

// Resolver maps messages to agents. It is immutable after construction and
// safe for concurrent use.
type Resolver struct {
	routes       []Route
	defaultAgent string
	known        map[string]struct{}
}

// NewResolver validates routes against the known agents.
func NewResolver(routes []Route, defaultAgent string, knownAgents []string) (*Resolver, error) {
	known := make(map[string]struct{}, len(knownAgents))
	for _, id := range knownAgents {
		if n := normalizeID(id); n != "" {
			known[n] = struct{}{}
		}
	}

	def := normalizeID(defaultAgent)
	if def == "" {
		return nil, agent.NewConfigurationError("routing", "a default agent is required", nil)
	}
	if _, ok := known[def]; !ok {
		return nil, agent.NewConfigurationError("routing", fmt.Sprintf("default agent %q is not defined", defaultAgent), nil)
	}

	normalized := make([]Route, len(routes))
	for i, route := range routes {
		route.Channel = normalizeID(route.Channel)
		route.ChatID = normalizeID(route.ChatID)
		route.SenderID = normalizeID(route.SenderID)
		route.Agent = normalizeID(route.Agent)
		if route.Agent == "" {
			return nil, agent.NewConfigurationError("routing", fmt.Sprintf("routes[%d]: agent is required", i), nil)
		}
		if _, ok := known[route.Agent]; !ok {
			return nil, agent.NewConfigurationError("routing", fmt.Sprintf("routes[%d]: unknown agent %q", i, route.Agent), nil)
		}
		normalized[i] = route
	}

	return &Resolver{routes: normalized, defaultAgent: def, known: known}, nil
}

// DefaultAgent returns the fallback agent id.
func (r *Resolver) DefaultAgent() string { return r.defaultAgent }

// Routes returns a copy of the normalized routes.
func (r *Resolver) Routes() []Route {
	return append([]Route(nil), r.routes...)
}

// Resolve picks the agent for msg. A message addressed to a known agent
// goes to it in a session scoped by sender; otherwise the first matching
// route wins.
func (r *Resolver) Resolve(msg *models.InboundMessage) Resolution {
	channel := normalizeID(string(msg.Channel))
	chatID := normalizeID(msg.ChatID)
	senderID := normalizeID(msg.SenderID)

	if target := normalizeID(msg.AgentID); target != "" {
		if _, ok := r.known[target]; ok {
			return Resolution{
				AgentID:    target,
				SessionKey: sessions.SessionKey(target, models.ChannelType(channel), chatID, senderID),
				MatchedBy:  MatchedByAgent,
			}
		}
	}

	for i, route := range r.routes {
		if !matches(route.Channel, channel) || !matches(route.ChatID, chatID) || !matches(route.SenderID, senderID) {
			continue
		}
		sender := ""
		if route.PerSender {
			sender = senderID
		}
		return Resolution{
			AgentID:    route.Agent,
			SessionKey: sessions.SessionKey(route.Agent, models.ChannelType(channel), chatID, sender),
			MatchedBy:  fmt.Sprintf("route[%d]", i),
		}
	}

	return Resolution{
		AgentID:    r.defaultAgent,
		SessionKey: sessions.SessionKey(r.defaultAgent, models.ChannelType(channel), chatID, ""),
		MatchedBy:  MatchedByDefault,
	}
}

func matches(pattern, value string) bool {
	return pattern == "" || pattern == "*" || pattern == value
}

func normalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
