// Package main is the clawcore command line: the gateway server, an
// interactive terminal chat and admin helpers.
//
// # Basic Usage
//
// Start the gateway:
//
//	clawcore serve --config ~/.clawcore/config.yaml
//
// Chat with the default agent in the terminal:
//
//	clawcore chat
//
// Inspect a running gateway:
//
//	clawcore status
//
// Provider keys and bot tokens in the config may be literals, env:NAME
// references or keyring:NAME references created with "clawcore secret set".
package main

import (
	"log/slog"
	"os"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
