package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/clawcore/internal/channels"
	"github.com/haasonsaas/clawcore/internal/channels/cli"
	"github.com/haasonsaas/clawcore/internal/config"
	"github.com/haasonsaas/clawcore/internal/gateway"
	"github.com/haasonsaas/clawcore/internal/observability"
)

// setupLogging installs the configured logger as the default. Debug mode
// overrides the configured level.
func setupLogging(cfg *config.Config, w io.Writer, debug bool, fallbackLevel string) *slog.Logger {
	level := cfg.Logging.Level
	if fallbackLevel != "" {
		level = fallbackLevel
	}
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: w,
	})
	slog.SetDefault(logger)
	return logger
}

func setupTracing(ctx context.Context, cfg *config.Config) func() {
	shutdown, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "clawcore",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("tracer shutdown", "error", err)
		}
	}
}

// runServe implements the serve command.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogging(cfg, os.Stderr, debug, "")
	logger.Info("starting clawcore gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
		"agents", len(cfg.Agents.List),
		"providers", len(cfg.Providers),
	)

	lock, err := gateway.AcquireLock(gateway.LockOptions{
		StateDir:   config.DefaultDir(),
		ConfigPath: absPath(configPath),
	})
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopTracing := setupTracing(ctx, cfg)
	defer stopTracing()

	server, err := gateway.Build(ctx, cfg, gateway.BuildOptions{Logger: logger, Version: version})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.Warn("gateway close", "error", err)
		}
	}()

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("gateway stopped: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// runChat runs the agents with a terminal channel only.
func runChat(ctx context.Context, cmd *cobra.Command, configPath, chatID string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogging(cfg, cmd.ErrOrStderr(), debug, "warn")

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer cancel()

	terminal := cli.NewAdapter(cli.Config{
		ChatID:      chatID,
		SenderID:    currentUser(),
		HistoryFile: filepath.Join(config.DefaultDir(), "chat_history"),
		Logger:      logger,
	})
	server, err := gateway.Build(ctx, cfg, gateway.BuildOptions{
		Logger:          logger,
		Version:         version,
		DisableChannels: true,
		DisableHTTP:     true,
		Adapters:        []channels.Adapter{terminal},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize agents: %w", err)
	}
	defer server.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "clawcore %s, agent %q. Type \"exit\" to leave.\n", version, cfg.DefaultAgent().ID)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-terminal.Done():
			stop()
		case <-runCtx.Done():
		}
	}()
	if err := server.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func currentUser() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "user"
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
