// Package config loads and validates the clawcore configuration file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default locations and values.
const (
	DefaultDirName      = ".clawcore"
	DefaultWorkspace    = "~/.clawcore/workspace"
	DefaultMaxTokens    = 8192
	DefaultTemperature  = 0.7
	DefaultMaxToolIters = 20
	DefaultHTTPPort     = 18790
)

// Config is the root configuration.
type Config struct {
	Version   int              `yaml:"version"`
	Agents    AgentsConfig     `yaml:"agents"`
	Providers []ProviderConfig `yaml:"providers"`
	Failover  FailoverConfig   `yaml:"failover"`
	Routes    []RouteConfig    `yaml:"routes"`
	Tools     ToolsConfig      `yaml:"tools"`
	Sessions  SessionsConfig   `yaml:"sessions"`
	Bus       BusConfig        `yaml:"bus"`
	Channels  ChannelsConfig   `yaml:"channels"`
	Heartbeat HeartbeatConfig  `yaml:"heartbeat"`
	Cron      CronConfig       `yaml:"cron"`
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Tracing   TracingConfig    `yaml:"tracing"`
}

// AgentsConfig holds shared defaults and the agent list.
type AgentsConfig struct {
	Defaults AgentDefaults `yaml:"defaults"`
	List     []AgentConfig `yaml:"list"`
}

// AgentDefaults apply to every agent that does not override them.
type AgentDefaults struct {
	Workspace           string  `yaml:"workspace"`
	RestrictToWorkspace *bool   `yaml:"restrict_to_workspace"`
	MaxToolIterations   int     `yaml:"max_tool_iterations"`
	MaxTokens           int     `yaml:"max_tokens"`
	Temperature         float64 `yaml:"temperature"`
	ContextTokens       int     `yaml:"context_tokens"`
}

// AgentConfig describes one agent.
type AgentConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`
	Default   bool   `yaml:"default"`

	// Providers lists provider names in fallback order.
	Providers []string `yaml:"providers"`

	// Model overrides the model of every provider in the chain.
	Model string `yaml:"model"`

	Tools             AgentToolsConfig `yaml:"tools"`
	MaxToolIterations int              `yaml:"max_tool_iterations"`
	MaxTokens         int              `yaml:"max_tokens"`
	Temperature       float64          `yaml:"temperature"`
	ContextTokens     int              `yaml:"context_tokens"`

	// Subagents lets this agent hand tasks to other agents. Nil forbids it.
	Subagents *SubagentsConfig `yaml:"subagents"`
}

// SubagentsConfig limits which agents the spawn tool may target.
type SubagentsConfig struct {
	// AllowAgents lists permitted targets. Empty allows every agent.
	AllowAgents []string `yaml:"allow_agents"`
}

// AgentToolsConfig selects tools for one agent.
type AgentToolsConfig struct {
	Enabled  []string `yaml:"enabled"`
	Disabled []string `yaml:"disabled"`
}

// ProviderConfig declares one LLM backend.
type ProviderConfig struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Model string `yaml:"model"`

	// APIKey is a literal, env:NAME or keyring:<user> reference.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// FailoverConfig tunes the provider fallback chain.
type FailoverConfig struct {
	FailureThreshold       int           `yaml:"failure_threshold"`
	CooldownInitial        time.Duration `yaml:"cooldown_initial"`
	CooldownMax            time.Duration `yaml:"cooldown_max"`
	CooldownFactor         float64       `yaml:"cooldown_factor"`
	PerProviderTimeout     time.Duration `yaml:"per_provider_timeout"`
	FailoverOnNonRetryable bool          `yaml:"failover_on_non_retryable"`
}

// RouteConfig binds messages to an agent. Empty match fields are wildcards.
type RouteConfig struct {
	Channel   string `yaml:"channel"`
	ChatID    string `yaml:"chat_id"`
	SenderID  string `yaml:"sender_id"`
	Agent     string `yaml:"agent"`
	PerSender bool   `yaml:"per_sender"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	Exec     ExecToolConfig `yaml:"exec"`
	Web      WebToolsConfig `yaml:"web"`
	Timeout  time.Duration  `yaml:"timeout"`
	Disabled []string       `yaml:"disabled"`
}

// ExecToolConfig configures the shell tool and its deny list.
type ExecToolConfig struct {
	EnableDenyPatterns *bool         `yaml:"enable_deny_patterns"`
	CustomDenyPatterns []string      `yaml:"custom_deny_patterns"`
	Timeout            time.Duration `yaml:"timeout"`
}

// DenyPatternsEnabled reports whether the command deny list is active.
func (c ExecToolConfig) DenyPatternsEnabled() bool {
	return c.EnableDenyPatterns == nil || *c.EnableDenyPatterns
}

// WebToolsConfig configures web search backends.
type WebToolsConfig struct {
	Brave      APIKeyConfig     `yaml:"brave"`
	Tavily     APIKeyConfig     `yaml:"tavily"`
	DuckDuckGo DuckDuckGoConfig `yaml:"duckduckgo"`
}

// APIKeyConfig holds one credential reference.
type APIKeyConfig struct {
	APIKey string `yaml:"api_key"`
}

// DuckDuckGoConfig toggles the keyless search fallback.
type DuckDuckGoConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled defaults to true.
func (c DuckDuckGoConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SessionsConfig selects the session store backend.
type SessionsConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// BusConfig sizes the message bus.
type BusConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// ChannelsConfig enables chat platforms.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
	WebChat  WebChatConfig  `yaml:"webchat"`
}

// TelegramConfig configures the Telegram bot.
type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Token     string   `yaml:"token"`
	AllowFrom []string `yaml:"allow_from"`
}

// DiscordConfig configures the Discord bot.
type DiscordConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Token     string   `yaml:"token"`
	AllowFrom []string `yaml:"allow_from"`
}

// SlackConfig configures the Slack Socket Mode app.
type SlackConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BotToken  string   `yaml:"bot_token"`
	AppToken  string   `yaml:"app_token"`
	AllowFrom []string `yaml:"allow_from"`
}

// WebChatConfig configures the local websocket chat served at /ws.
type WebChatConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Token          string   `yaml:"token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowFrom      []string `yaml:"allow_from"`
}

// HeartbeatConfig configures periodic HEARTBEAT.md runs.
type HeartbeatConfig struct {
	Enabled     bool               `yaml:"enabled"`
	Interval    time.Duration      `yaml:"interval"`
	ActiveHours *ActiveHoursConfig `yaml:"active_hours"`
}

// ActiveHoursConfig limits heartbeats to a daily window.
type ActiveHoursConfig struct {
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Timezone string `yaml:"timezone"`
	Days     []int  `yaml:"days"`
}

// CronConfig configures scheduled jobs.
type CronConfig struct {
	Enabled bool `yaml:"enabled"`
	// Store is the directory holding jobs.json.
	Store string `yaml:"store"`
}

// ServerConfig configures the HTTP status server.
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OTLP export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// DefaultDir returns ~/.clawcore.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}

// DefaultPath returns the first existing default config file, or
// ~/.clawcore/config.yaml when none exists.
func DefaultPath() string {
	dir := DefaultDir()
	for _, name := range []string{"config.yaml", "config.yml", "config.json", "config.json5"} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return filepath.Join(dir, "config.yaml")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ApplyDefaults fills unset values.
func ApplyDefaults(cfg *Config) {
	d := &cfg.Agents.Defaults
	if d.Workspace == "" {
		d.Workspace = DefaultWorkspace
	}
	d.Workspace = ExpandHome(d.Workspace)
	if d.RestrictToWorkspace == nil {
		restrict := true
		d.RestrictToWorkspace = &restrict
	}
	if d.MaxToolIterations == 0 {
		d.MaxToolIterations = DefaultMaxToolIters
	}
	if d.MaxTokens == 0 {
		d.MaxTokens = DefaultMaxTokens
	}
	if d.Temperature == 0 {
		d.Temperature = DefaultTemperature
	}

	if len(cfg.Agents.List) == 1 {
		cfg.Agents.List[0].Default = true
	}
	for i := range cfg.Agents.List {
		a := &cfg.Agents.List[i]
		a.ID = strings.ToLower(strings.TrimSpace(a.ID))
		if a.Name == "" {
			a.Name = a.ID
		}
		if a.Workspace == "" {
			if a.Default {
				a.Workspace = d.Workspace
			} else {
				a.Workspace = filepath.Join(d.Workspace, a.ID)
			}
		}
		a.Workspace = ExpandHome(a.Workspace)
		if len(a.Providers) == 0 {
			for _, p := range cfg.Providers {
				a.Providers = append(a.Providers, p.Name)
			}
		}
		if a.MaxToolIterations == 0 {
			a.MaxToolIterations = d.MaxToolIterations
		}
		if a.MaxTokens == 0 {
			a.MaxTokens = d.MaxTokens
		}
		if a.Temperature == 0 {
			a.Temperature = d.Temperature
		}
		if a.ContextTokens == 0 {
			a.ContextTokens = d.ContextTokens
		}
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.Name == "" {
			p.Name = p.Kind
		}
	}

	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "file"
	}
	if cfg.Sessions.Path == "" && cfg.Sessions.Backend != "memory" && cfg.Sessions.Backend != "postgres" {
		if cfg.Sessions.Backend == "sqlite" {
			cfg.Sessions.Path = filepath.Join(DefaultDir(), "sessions.db")
		} else {
			cfg.Sessions.Path = filepath.Join(DefaultDir(), "sessions")
		}
	}
	cfg.Sessions.Path = ExpandHome(cfg.Sessions.Path)

	if cfg.Cron.Store == "" {
		cfg.Cron.Store = filepath.Join(DefaultDir(), "cron")
	}
	cfg.Cron.Store = ExpandHome(cfg.Cron.Store)

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = DefaultHTTPPort
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// DefaultAgent returns the agent marked default. Call after Validate.
func (c *Config) DefaultAgent() AgentConfig {
	for _, a := range c.Agents.List {
		if a.Default {
			return a
		}
	}
	if len(c.Agents.List) > 0 {
		return c.Agents.List[0]
	}
	return AgentConfig{}
}

// Agent returns the agent with the given id.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, a := range c.Agents.List {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// CanSpawnSubagent reports whether parent may hand a task to target. An
// agent may always spawn work for itself.
func (c *Config) CanSpawnSubagent(parent, target string) bool {
	p, ok := c.Agent(parent)
	if !ok {
		return false
	}
	t, ok := c.Agent(target)
	if !ok {
		return false
	}
	if p.ID == t.ID {
		return true
	}
	if p.Subagents == nil {
		return false
	}
	if len(p.Subagents.AllowAgents) == 0 {
		return true
	}
	for _, allowed := range p.Subagents.AllowAgents {
		if strings.EqualFold(strings.TrimSpace(allowed), t.ID) {
			return true
		}
	}
	return false
}

// Provider returns the provider declared under name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// RestrictToWorkspace reports the effective sandbox setting.
func (c *Config) RestrictToWorkspace() bool {
	r := c.Agents.Defaults.RestrictToWorkspace
	return r == nil || *r
}
