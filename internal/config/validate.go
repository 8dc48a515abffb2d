package config

import (
	"fmt"
	"strings"
	"time"
)

// ProviderKinds lists the provider kinds this build can construct.
var ProviderKinds = []string{"anthropic", "deepseek", "gemini", "groq", "ollama", "openai", "openrouter"}

// SessionBackends lists the supported session stores.
var SessionBackends = []string{"memory", "file", "sqlite", "postgres"}

// MinHeartbeatInterval is the shortest heartbeat period accepted.
const MinHeartbeatInterval = 5 * time.Minute

var knownChannels = []string{"telegram", "discord", "slack", "webchat", "cli", "system"}

// ValidationError collects every problem found in a config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

// Validate checks cross-field consistency. Call after ApplyDefaults.
func (c *Config) Validate() error {
	v := &ValidationError{}

	providers := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			v.add("%s.name is required", field)
			continue
		}
		key := strings.ToLower(p.Name)
		if providers[key] {
			v.add("%s.name %q is duplicated", field, p.Name)
		}
		providers[key] = true
		if !contains(ProviderKinds, p.Kind) {
			v.add("%s.kind %q is unknown (known: %s)", field, p.Kind, strings.Join(ProviderKinds, ", "))
		}
	}

	agents := make(map[string]bool, len(c.Agents.List))
	defaults := 0
	if len(c.Agents.List) == 0 {
		v.add("agents.list must define at least one agent")
	}
	for i, a := range c.Agents.List {
		field := fmt.Sprintf("agents.list[%d]", i)
		if a.ID == "" {
			v.add("%s.id is required", field)
			continue
		}
		if agents[a.ID] {
			v.add("%s.id %q is duplicated", field, a.ID)
		}
		agents[a.ID] = true
		if a.Default {
			defaults++
		}
		if len(a.Providers) == 0 {
			v.add("%s.providers is empty and no providers are declared", field)
		}
		for _, name := range a.Providers {
			if !providers[strings.ToLower(name)] {
				v.add("%s.providers references unknown provider %q", field, name)
			}
		}
		if a.MaxToolIterations < 0 {
			v.add("%s.max_tool_iterations must not be negative", field)
		}
	}
	for i, a := range c.Agents.List {
		if a.Subagents == nil {
			continue
		}
		for _, target := range a.Subagents.AllowAgents {
			if !agents[strings.ToLower(strings.TrimSpace(target))] {
				v.add("agents.list[%d].subagents.allow_agents references unknown agent %q", i, target)
			}
		}
	}
	if len(c.Agents.List) > 1 && defaults != 1 {
		v.add("agents.list must mark exactly one agent as default (found %d)", defaults)
	}

	for i, r := range c.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if !agents[strings.ToLower(strings.TrimSpace(r.Agent))] {
			v.add("%s.agent %q is not defined", field, r.Agent)
		}
		if r.Channel != "" && !contains(knownChannels, strings.ToLower(r.Channel)) {
			v.add("%s.channel %q is unknown", field, r.Channel)
		}
	}

	f := c.Failover
	if f.FailureThreshold < 0 {
		v.add("failover.failure_threshold must not be negative")
	}
	if f.CooldownFactor != 0 && f.CooldownFactor < 1 {
		v.add("failover.cooldown_factor must be at least 1")
	}
	if f.CooldownMax > 0 && f.CooldownInitial > f.CooldownMax {
		v.add("failover.cooldown_initial exceeds failover.cooldown_max")
	}
	if f.CooldownInitial < 0 || f.CooldownMax < 0 || f.PerProviderTimeout < 0 {
		v.add("failover durations must not be negative")
	}

	if c.Tools.Timeout < 0 || c.Tools.Exec.Timeout < 0 {
		v.add("tools timeouts must not be negative")
	}

	backend := strings.ToLower(c.Sessions.Backend)
	if !contains(SessionBackends, backend) {
		v.add("sessions.backend %q is unknown (known: %s)", c.Sessions.Backend, strings.Join(SessionBackends, ", "))
	}
	if backend == "postgres" && c.Sessions.DSN == "" {
		v.add("sessions.dsn is required for the postgres backend")
	}

	if c.Bus.BufferSize < 0 {
		v.add("bus.buffer_size must not be negative")
	}

	ch := c.Channels
	if ch.Telegram.Enabled && ch.Telegram.Token == "" {
		v.add("channels.telegram.token is required when enabled")
	}
	if ch.Discord.Enabled && ch.Discord.Token == "" {
		v.add("channels.discord.token is required when enabled")
	}
	if ch.Slack.Enabled && (ch.Slack.BotToken == "" || ch.Slack.AppToken == "") {
		v.add("channels.slack.bot_token and app_token are required when enabled")
	}

	if c.Heartbeat.Enabled && c.Heartbeat.Interval != 0 && c.Heartbeat.Interval < MinHeartbeatInterval {
		v.add("heartbeat.interval must be at least %s", MinHeartbeatInterval)
	}

	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		v.add("server.http_port %d is out of range", c.Server.HTTPPort)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		v.add("logging.level %q is unknown", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		v.add("logging.format %q must be json or text", c.Logging.Format)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		v.add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(v.Issues) > 0 {
		return v
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
