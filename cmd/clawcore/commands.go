package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/clawcore/internal/config"
)

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawcore",
		Short: "clawcore - multi-channel AI agent gateway",
		Long: `clawcore connects chat platforms to LLM agents with tool execution.

Supported channels: Telegram, Discord, Slack, web chat, terminal
Supported providers: Anthropic, Gemini, OpenAI and OpenAI-compatible APIs`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildStatusCmd(),
		buildConfigCmd(),
		buildCronCmd(),
		buildSecretCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func addConfigFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "config", "c", "", "Path to the configuration file (default: "+config.DefaultPath()+")")
}

func resolveConfigPath(path string) string {
	if path == "" {
		return config.DefaultPath()
	}
	return config.ExpandHome(path)
}

// =============================================================================
// Serve / Chat
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway with every configured channel",
		Long: `Start the gateway.

The server loads the configuration, connects every enabled channel, starts
the cron and heartbeat services and serves /status, /healthz, /metrics and
the web chat socket on the admin address. SIGINT and SIGTERM shut it down
gracefully.`,
		Example: `  clawcore serve
  clawcore serve --config /etc/clawcore/config.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		chatID     string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with your agents in the terminal",
		Long: `Run the agents locally and talk to them from the terminal.

Chat platforms and the admin listener stay off; cron jobs and the heartbeat
still run while the session is open. Type "exit" or press Ctrl-D to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd, resolveConfigPath(configPath), chatID, debug)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&chatID, "chat-id", "local", "Chat id used for the terminal session")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Admin
// =============================================================================

func buildStatusCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show provider health, sessions and channels of a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, resolveConfigPath(configPath), addr, asJSON)
		},
	}
	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&addr, "addr", "", "Admin address (default: server.host:server.http_port from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON status")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	addConfigFlag(validate, &configPath)

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	cmd.AddCommand(validate, schema)
	return cmd
}

func buildCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect scheduled jobs",
	}
	var (
		configPath string
		all        bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCronList(cmd, resolveConfigPath(configPath), all)
		},
	}
	addConfigFlag(list, &configPath)
	list.Flags().BoolVarP(&all, "all", "a", false, "Include disabled jobs")
	cmd.AddCommand(list)
	return cmd
}

func buildSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
	}
	set := &cobra.Command{
		Use:   "set NAME",
		Short: "Store a secret and print its keyring reference",
		Example: `  clawcore secret set anthropic
  # then in config.yaml: api_key: keyring:anthropic`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretSet(cmd, args[0])
		},
	}
	cmd.AddCommand(set)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clawcore %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
