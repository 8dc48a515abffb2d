package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zalando/go-keyring"
)

const minimalConfig = `
providers:
  - name: primary
    kind: anthropic
    api_key: env:CLAWCORE_TEST_KEY
agents:
  list:
    - id: Main
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	return writeFile(t, t.TempDir(), "config.yaml", contents)
}

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	main := cfg.DefaultAgent()
	if main.ID != "main" || !main.Default {
		t.Fatalf("default agent = %+v", main)
	}
	if diff := cmp.Diff([]string{"primary"}, main.Providers); diff != "" {
		t.Fatalf("providers mismatch (-want +got):\n%s", diff)
	}
	if main.MaxToolIterations != DefaultMaxToolIters || main.MaxTokens != DefaultMaxTokens || main.Temperature != DefaultTemperature {
		t.Fatalf("agent defaults not applied: %+v", main)
	}
	if strings.HasPrefix(main.Workspace, "~") {
		t.Fatalf("workspace not expanded: %q", main.Workspace)
	}
	if !cfg.RestrictToWorkspace() {
		t.Fatal("workspace restriction should default to on")
	}
	if cfg.Sessions.Backend != "file" || cfg.Server.HTTPPort != DefaultHTTPPort || cfg.Logging.Format != "json" {
		t.Fatalf("section defaults not applied: sessions=%+v server=%+v logging=%+v", cfg.Sessions, cfg.Server, cfg.Logging)
	}
	if !cfg.Tools.Exec.DenyPatternsEnabled() || !cfg.Tools.Web.DuckDuckGo.IsEnabled() {
		t.Fatal("tool safety defaults should be on")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
server:
  host: 0.0.0.0
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
failover:
  cooldown_initial: 30s
  cooldown_max: 10m
heartbeat:
  enabled: true
  interval: 45m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Failover.CooldownInitial != 30*time.Second || cfg.Failover.CooldownMax != 10*time.Minute {
		t.Fatalf("failover = %+v", cfg.Failover)
	}
	if cfg.Heartbeat.Interval != 45*time.Minute {
		t.Fatalf("heartbeat interval = %v", cfg.Heartbeat.Interval)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CLAWCORE_TEST_MODEL", "claude-test")
	path := writeConfig(t, strings.Replace(minimalConfig, "kind: anthropic", "kind: anthropic\n    model: ${CLAWCORE_TEST_MODEL}", 1))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers[0].Model != "claude-test" {
		t.Fatalf("model = %q", cfg.Providers[0].Model)
	}
	if cfg.Providers[0].APIKey != "env:CLAWCORE_TEST_KEY" {
		t.Fatalf("credential reference should be kept verbatim, got %q", cfg.Providers[0].APIKey)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "CLAWCORE_DOTENV_PORT=19999\n")
	t.Cleanup(func() { os.Unsetenv("CLAWCORE_DOTENV_PORT") })
	path := writeFile(t, dir, "config.yaml", minimalConfig+`
server:
  http_port: ${CLAWCORE_DOTENV_PORT}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 19999 {
		t.Fatalf("http_port = %d, want 19999 from .env", cfg.Server.HTTPPort)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "providers.yaml", `
providers:
  - name: primary
    kind: openai
logging:
  level: debug
  format: text
`)
	path := writeFile(t, dir, "config.yaml", `
$include: providers.yaml
agents:
  list:
    - id: main
logging:
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Kind != "openai" {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "text" {
		t.Fatalf("logging = %+v, want including file overridden field by field", cfg.Logging)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	_, err := LoadRaw(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("LoadRaw() error = %v, want cycle error", err)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json5", `{
  // comments and trailing commas are allowed
  providers: [{name: "primary", kind: "gemini"}],
  agents: {list: [{id: "main"}]},
  sessions: {backend: "memory"},
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers[0].Kind != "gemini" || cfg.Sessions.Backend != "memory" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		base    string
		wantErr string
	}{
		{
			name:    "unknown provider kind",
			base:    "providers:\n  - name: p\n    kind: nope\nagents:\n  list:\n    - id: main\n",
			wantErr: `providers[0].kind "nope"`,
		},
		{
			name:    "no agents",
			base:    "providers:\n  - name: p\n    kind: openai\n",
			wantErr: "at least one agent",
		},
		{
			name:    "two agents without default",
			base:    "providers:\n  - name: p\n    kind: openai\nagents:\n  list:\n    - id: a\n    - id: b\n",
			wantErr: "exactly one agent as default",
		},
		{
			name:    "agent references unknown provider",
			base:    "providers:\n  - name: p\n    kind: openai\nagents:\n  list:\n    - id: a\n      providers: [q]\n",
			wantErr: `unknown provider "q"`,
		},
		{
			name:    "route to unknown agent",
			base:    minimalConfig,
			extra:   "routes:\n  - channel: telegram\n    agent: ghost\n",
			wantErr: `routes[0].agent "ghost"`,
		},
		{
			name:    "subagent allowlist names unknown agent",
			base:    "providers:\n  - name: p\n    kind: openai\nagents:\n  list:\n    - id: a\n      subagents:\n        allow_agents: [ghost]\n",
			wantErr: `allow_agents references unknown agent "ghost"`,
		},
		{
			name:    "postgres without dsn",
			base:    minimalConfig,
			extra:   "sessions:\n  backend: postgres\n",
			wantErr: "sessions.dsn",
		},
		{
			name:    "unknown session backend",
			base:    minimalConfig,
			extra:   "sessions:\n  backend: redis\n",
			wantErr: `sessions.backend "redis"`,
		},
		{
			name:    "heartbeat too frequent",
			base:    minimalConfig,
			extra:   "heartbeat:\n  enabled: true\n  interval: 1m\n",
			wantErr: "heartbeat.interval",
		},
		{
			name:    "enabled channel without token",
			base:    minimalConfig,
			extra:   "channels:\n  telegram:\n    enabled: true\n",
			wantErr: "channels.telegram.token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.base+tt.extra))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Load() error = %v, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestCanSpawnSubagent(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
providers:
  - name: p
    kind: openai
agents:
  list:
    - id: main
      default: true
      subagents:
        allow_agents: [Research]
    - id: research
      subagents: {}
    - id: ops
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tests := []struct {
		parent, target string
		want           bool
	}{
		{"main", "research", true},
		{"main", "ops", false},
		{"main", "main", true},
		{"research", "main", true},
		{"research", "ops", true},
		{"ops", "main", false},
		{"ops", "ops", true},
		{"main", "ghost", false},
		{"ghost", "main", false},
	}
	for _, tt := range tests {
		if got := cfg.CanSpawnSubagent(tt.parent, tt.target); got != tt.want {
			t.Errorf("CanSpawnSubagent(%q, %q) = %v, want %v", tt.parent, tt.target, got, tt.want)
		}
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	_, err := Load(writeConfig(t, "version: 99\n"+minimalConfig))
	var ve *VersionError
	if !errors.As(err, &ve) {
		t.Fatalf("Load() error = %v, want *VersionError", err)
	}
}

func TestResolveSecret(t *testing.T) {
	keyring.MockInit()
	t.Setenv("CLAWCORE_SECRET_TEST", "from-env")
	ref, err := StoreSecret("anthropic", "from-keyring")
	if err != nil {
		t.Fatalf("StoreSecret() error = %v", err)
	}
	if ref != "keyring:anthropic" {
		t.Fatalf("StoreSecret() ref = %q", ref)
	}

	tests := []struct {
		ref     string
		want    string
		missing bool
	}{
		{ref: "", want: ""},
		{ref: "sk-literal", want: "sk-literal"},
		{ref: "env:CLAWCORE_SECRET_TEST", want: "from-env"},
		{ref: "env:CLAWCORE_SECRET_UNSET", missing: true},
		{ref: "keyring:anthropic", want: "from-keyring"},
		{ref: "keyring:unknown", missing: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ResolveSecret(tt.ref)
			if tt.missing {
				if !errors.Is(err, ErrSecretNotFound) {
					t.Fatalf("ResolveSecret(%q) error = %v, want ErrSecretNotFound", tt.ref, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveSecret(%q) error = %v", tt.ref, err)
			}
			if got != tt.want {
				t.Fatalf("ResolveSecret(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	for _, field := range []string{"agents", "providers", "max_tool_iterations", "allow_from"} {
		if !strings.Contains(string(data), `"`+field+`"`) {
			t.Fatalf("schema missing %q", field)
		}
	}
}
