package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/clawcore/internal/agent"
	agentctx "github.com/haasonsaas/clawcore/internal/agent/context"
	"github.com/haasonsaas/clawcore/internal/agent/providers"
	"github.com/haasonsaas/clawcore/internal/bus"
	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/internal/channels/discord"
	"github.com/haasonsaas/clawcore/internal/channels/slack"
	"github.com/haasonsaas/clawcore/internal/channels/telegram"
	"github.com/haasonsaas/clawcore/internal/channels/webchat"
	"github.com/haasonsaas/clawcore/internal/config"
	"github.com/haasonsaas/clawcore/internal/cron"
	"github.com/haasonsaas/clawcore/internal/heartbeat"
	"github.com/haasonsaas/clawcore/internal/memory"
	"github.com/haasonsaas/clawcore/internal/observability"
	"github.com/haasonsaas/clawcore/internal/routing"
	"github.com/haasonsaas/clawcore/internal/sessions"
	crontool "github.com/haasonsaas/clawcore/internal/tools/cron"
	"github.com/haasonsaas/clawcore/internal/tools/exec"
	"github.com/haasonsaas/clawcore/internal/tools/files"
	memtools "github.com/haasonsaas/clawcore/internal/tools/memory"
	"github.com/haasonsaas/clawcore/internal/tools/message"
	"github.com/haasonsaas/clawcore/internal/tools/security"
	"github.com/haasonsaas/clawcore/internal/tools/subagent"
	"github.com/haasonsaas/clawcore/internal/tools/web"
)

// defaultExecTimeout mirrors the exec tool default so the executor does not
// cut long commands short.
const defaultExecTimeout = 120 * time.Second

// BuildOptions tune Build.
type BuildOptions struct {
	Logger  *slog.Logger
	Version string

	// Registry receives all metrics. A fresh registry is created when nil.
	Registry *prometheus.Registry

	// ProviderRegistry overrides the built-in provider kinds. Tests use it
	// to plug in scripted providers.
	ProviderRegistry *agent.ProviderRegistry

	// DisableChannels skips every chat adapter. The interactive chat
	// command runs the agents without connecting to any platform.
	DisableChannels bool

	// DisableHTTP skips the admin listener.
	DisableHTTP bool

	// Adapters are registered in addition to the configured channels,
	// with no sender allow list.
	Adapters []channels.Adapter
}

// Build assembles a Server from configuration. The caller owns the returned
// server and must Close it.
func Build(ctx context.Context, cfg *config.Config, opts BuildOptions) (srv *Server, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	metrics := observability.NewMetrics(reg)

	mb := bus.NewMessageBus(bus.Options{
		BufferSize: cfg.Bus.BufferSize,
		Logger:     logger.With("component", "bus"),
	})
	defer func() {
		if err != nil {
			mb.Close()
		}
	}()

	built, err := buildProviders(ctx, cfg, opts.ProviderRegistry)
	if err != nil {
		return nil, err
	}

	failover := agent.FailoverConfig{
		FailureThreshold:       cfg.Failover.FailureThreshold,
		CooldownInitial:        cfg.Failover.CooldownInitial,
		CooldownFactor:         cfg.Failover.CooldownFactor,
		CooldownMax:            cfg.Failover.CooldownMax,
		PerProviderTimeout:     cfg.Failover.PerProviderTimeout,
		FailoverOnNonRetryable: cfg.Failover.FailoverOnNonRetryable,
	}
	health := agent.NewHealthTracker(failover.HealthConfig(agent.SystemClock))

	workspaces := make(map[string]string, len(cfg.Agents.List))
	for _, a := range cfg.Agents.List {
		if err := os.MkdirAll(a.Workspace, 0o755); err != nil {
			return nil, agent.NewConfigurationError("gateway.build", "create workspace for agent "+a.ID, err)
		}
		workspaces[a.ID] = a.Workspace
	}
	mem := memory.NewStore(workspaces, memory.WithLogger(logger.With("component", "memory")))

	var cronSvc *cron.Service
	if cfg.Cron.Enabled {
		cronSvc, err = cron.NewService(cfg.Cron.Store, mb.Inbound, mb.Outbound, cron.WithLogger(logger.With("component", "cron")))
		if err != nil {
			return nil, fmt.Errorf("start cron: %w", err)
		}
	}

	executor, err := buildTools(cfg, mb, mem, cronSvc, metrics, logger)
	if err != nil {
		return nil, err
	}

	store, err := sessions.Open(ctx, sessions.Config{
		Backend: cfg.Sessions.Backend,
		Path:    cfg.Sessions.Path,
		DSN:     cfg.Sessions.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	locker := sessions.NewLocalLocker(0)

	bootstrap := agentctx.NewBootstrapCache(logger.With("component", "bootstrap"))
	builder := agentctx.NewBuilder(
		agentctx.WithBootstrapCache(bootstrap),
		agentctx.WithMemory(mem),
		agentctx.WithLogger(logger),
	)
	states := agent.NewStateTracker(nil)

	runtimes := make([]*agent.Runtime, 0, len(cfg.Agents.List))
	known := make([]string, 0, len(cfg.Agents.List))
	for _, a := range cfg.Agents.List {
		chainProviders := make([]agent.LLMProvider, 0, len(a.Providers))
		for _, name := range a.Providers {
			p, ok := built[strings.ToLower(name)]
			if !ok {
				return nil, agent.NewConfigurationError("gateway.build", fmt.Sprintf("agent %s: unknown provider %q", a.ID, name), nil)
			}
			chainProviders = append(chainProviders, p)
		}
		chain, err := agent.NewFallbackChain(chainProviders, health, failover,
			agent.WithChainMetrics(metrics),
			agent.WithChainLogger(logger.With("component", "failover", "agent_id", a.ID)),
		)
		if err != nil {
			return nil, err
		}
		rt, err := agent.NewRuntime(agent.RuntimeConfig{
			AgentID:           a.ID,
			AgentName:         a.Name,
			Workspace:         a.Workspace,
			Model:             a.Model,
			MaxTokens:         a.MaxTokens,
			Temperature:       a.Temperature,
			ContextTokens:     a.ContextTokens,
			MaxToolIterations: a.MaxToolIterations,
			Tools:             agent.ToolPolicy{Allow: a.Tools.Enabled, Deny: a.Tools.Disabled},
		}, chain, executor, store, locker,
			agent.WithPromptBuilder(builder),
			agent.WithPublisher(mb.Outbound),
			agent.WithRuntimeMetrics(metrics),
			agent.WithRuntimeLogger(logger.With("component", "agent")),
			agent.WithStateTracker(states),
		)
		if err != nil {
			return nil, err
		}
		runtimes = append(runtimes, rt)
		known = append(known, a.ID)
	}

	routes := make([]routing.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes = append(routes, routing.Route{
			Channel:   r.Channel,
			ChatID:    r.ChatID,
			SenderID:  r.SenderID,
			Agent:     r.Agent,
			PerSender: r.PerSender,
		})
	}
	resolver, err := routing.NewResolver(routes, cfg.DefaultAgent().ID, known)
	if err != nil {
		return nil, err
	}

	var hb *heartbeat.Service
	if cfg.Heartbeat.Enabled {
		hbCfg := heartbeat.Config{
			Workspace: cfg.DefaultAgent().Workspace,
			Interval:  cfg.Heartbeat.Interval,
		}
		if ah := cfg.Heartbeat.ActiveHours; ah != nil {
			hbCfg.ActiveHours = &heartbeat.ActiveHours{Start: ah.Start, End: ah.End, Timezone: ah.Timezone, Days: ah.Days}
		}
		hb, err = heartbeat.NewService(hbCfg, mb.Inbound, heartbeat.WithLogger(logger.With("component", "heartbeat")))
		if err != nil {
			return nil, fmt.Errorf("start heartbeat: %w", err)
		}
	}

	managerOpts := []channels.ManagerOption{
		channels.WithManagerLogger(logger.With("component", "channels")),
		channels.WithManagerMetrics(metrics),
	}
	if hb != nil {
		managerOpts = append(managerOpts, channels.WithObserver(hb.Observe))
	}
	manager := channels.NewManager(mb.Inbound, mb.Outbound, managerOpts...)
	var chat *webchat.Adapter
	if !opts.DisableChannels {
		chat, err = registerChannels(manager, cfg.Channels, logger)
		if err != nil {
			return nil, err
		}
	}
	for _, adapter := range opts.Adapters {
		if err := manager.Register(adapter, nil); err != nil {
			return nil, err
		}
	}

	addr := ""
	if !opts.DisableHTTP {
		addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort))
	}
	return New(Deps{
		Bus:       mb,
		Resolver:  resolver,
		Store:     store,
		Runtimes:  runtimes,
		Health:    health,
		Channels:  manager,
		WebChat:   chat,
		Cron:      cronSvc,
		Heartbeat: hb,
		Bootstrap: bootstrap,
		Registry:  reg,
	}, Config{
		Addr:    addr,
		Version: opts.Version,
		Logger:  logger,
	})
}

func buildProviders(ctx context.Context, cfg *config.Config, registry *agent.ProviderRegistry) (map[string]agent.LLMProvider, error) {
	if registry == nil {
		registry = providers.NewRegistry()
	}
	built := make(map[string]agent.LLMProvider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		apiKey := ""
		if strings.TrimSpace(p.APIKey) != "" {
			key, err := config.ResolveSecret(p.APIKey)
			if err != nil {
				return nil, agent.NewConfigurationError("gateway.build", "provider "+p.Name+": api key", err)
			}
			apiKey = key
		}
		provider, err := registry.Build(agent.ProviderSpec{
			Name:          p.Name,
			Kind:          p.Kind,
			Model:         p.Model,
			CredentialRef: p.APIKey,
			BaseURL:       p.BaseURL,
		}, apiKey)
		if err != nil {
			return nil, err
		}
		built[strings.ToLower(p.Name)] = provider
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return built, nil
}

func buildTools(cfg *config.Config, mb *bus.MessageBus, mem *memory.Store, cronSvc *cron.Service, metrics *observability.Metrics, logger *slog.Logger) (*agent.ToolExecutor, error) {
	workspace := cfg.DefaultAgent().Workspace
	restrict := cfg.RestrictToWorkspace()

	policy, err := security.NewCommandPolicy(security.PolicyConfig{
		Disabled:       !cfg.Tools.Exec.DenyPatternsEnabled(),
		CustomPatterns: cfg.Tools.Exec.CustomDenyPatterns,
	})
	if err != nil {
		return nil, agent.NewConfigurationError("gateway.build", "exec deny patterns", err)
	}
	execTimeout := cfg.Tools.Exec.Timeout
	if execTimeout <= 0 {
		execTimeout = defaultExecTimeout
	}

	search := web.SearchConfig{DuckDuckGoEnabled: cfg.Tools.Web.DuckDuckGo.IsEnabled()}
	if search.BraveAPIKey, err = optionalSecret(cfg.Tools.Web.Brave.APIKey); err != nil {
		return nil, agent.NewConfigurationError("gateway.build", "brave api key", err)
	}
	if search.TavilyAPIKey, err = optionalSecret(cfg.Tools.Web.Tavily.APIKey); err != nil {
		return nil, agent.NewConfigurationError("gateway.build", "tavily api key", err)
	}

	tools := files.Tools(files.Config{Workspace: workspace, RestrictToWorkspace: restrict})
	tools = append(tools,
		exec.NewTool(exec.Config{
			Workspace:           workspace,
			RestrictToWorkspace: restrict,
			Timeout:             execTimeout,
			Policy:              policy,
			Logger:              logger.With("component", "tools.exec"),
		}),
		web.NewFetchTool(web.FetchConfig{}),
		web.NewSearchTool(search),
		memtools.NewReadTool(mem),
		memtools.NewWriteTool(mem),
		message.NewTool(mb.Outbound),
		subagent.NewSpawnTool(mb.Inbound, cfg.CanSpawnSubagent),
	)
	if cronSvc != nil {
		tools = append(tools, crontool.NewTool(cronSvc))
	}

	disabled := make(map[string]bool, len(cfg.Tools.Disabled))
	for _, name := range cfg.Tools.Disabled {
		disabled[strings.ToLower(strings.TrimSpace(name))] = true
	}
	registry := agent.NewToolRegistry()
	for _, tool := range tools {
		if disabled[tool.Name()] {
			continue
		}
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	registry.Seal()

	return agent.NewToolExecutor(registry, agent.ToolExecConfig{
		Timeout:   cfg.Tools.Timeout,
		Overrides: map[string]time.Duration{"exec": execTimeout},
	},
		agent.WithToolMetrics(metrics),
		agent.WithToolLogger(logger.With("component", "tools")),
	), nil
}

// registerChannels creates an adapter for every enabled channel. The web
// chat adapter is returned so the HTTP server can mount it.
func registerChannels(manager *channels.Manager, cfg config.ChannelsConfig, logger *slog.Logger) (*webchat.Adapter, error) {
	var errs []error
	register := func(adapter channels.Adapter, allowFrom []string) {
		if err := manager.Register(adapter, allowFrom); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Telegram.Enabled {
		token, err := config.ResolveSecret(cfg.Telegram.Token)
		if err != nil {
			return nil, agent.NewConfigurationError("gateway.build", "telegram token", err)
		}
		adapter, err := telegram.NewAdapter(telegram.Config{Token: token, Logger: logger})
		if err != nil {
			return nil, err
		}
		register(adapter, cfg.Telegram.AllowFrom)
	}
	if cfg.Discord.Enabled {
		token, err := config.ResolveSecret(cfg.Discord.Token)
		if err != nil {
			return nil, agent.NewConfigurationError("gateway.build", "discord token", err)
		}
		adapter, err := discord.NewAdapter(discord.Config{Token: token, Logger: logger})
		if err != nil {
			return nil, err
		}
		register(adapter, cfg.Discord.AllowFrom)
	}
	if cfg.Slack.Enabled {
		botToken, err := config.ResolveSecret(cfg.Slack.BotToken)
		if err != nil {
			return nil, agent.NewConfigurationError("gateway.build", "slack bot token", err)
		}
		appToken, err := config.ResolveSecret(cfg.Slack.AppToken)
		if err != nil {
			return nil, agent.NewConfigurationError("gateway.build", "slack app token", err)
		}
		adapter, err := slack.NewAdapter(slack.Config{BotToken: botToken, AppToken: appToken, Logger: logger})
		if err != nil {
			return nil, err
		}
		register(adapter, cfg.Slack.AllowFrom)
	}

	var chat *webchat.Adapter
	if cfg.WebChat.Enabled {
		token, err := optionalSecret(cfg.WebChat.Token)
		if err != nil {
			return nil, agent.NewConfigurationError("gateway.build", "webchat token", err)
		}
		chat = webchat.NewAdapter(webchat.Config{
			AuthToken:      token,
			AllowedOrigins: cfg.WebChat.AllowedOrigins,
			Logger:         logger,
		})
		register(chat, cfg.WebChat.AllowFrom)
	}
	return chat, errors.Join(errs...)
}

func optionalSecret(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", nil
	}
	return config.ResolveSecret(ref)
}
