package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/clawcore/internal/config"
	"github.com/haasonsaas/clawcore/internal/cron"
	"github.com/haasonsaas/clawcore/internal/gateway"
)

// =============================================================================
// Status
// =============================================================================

func runStatus(cmd *cobra.Command, configPath, addr string, asJSON bool) error {
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	body, err := fetchStatus(ctx, "http://"+addr+"/status")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		_, err := out.Write(body)
		return err
	}
	var st gateway.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	printStatus(out, st)
	return nil
}

func fetchStatus(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", resp.Status)
	}
	return body, nil
}

func printStatus(w io.Writer, st gateway.Status) {
	fmt.Fprintf(w, "Version:         %s\n", st.Version)
	fmt.Fprintf(w, "Uptime:          %s\n", st.Uptime)
	fmt.Fprintf(w, "Active sessions: %d\n", st.ActiveSessions)
	fmt.Fprintf(w, "Cron jobs:       %d\n", st.CronJobs)

	fmt.Fprintln(w, "\nAgents:")
	for _, a := range st.Agents {
		fmt.Fprintf(w, "  %-12s %-16s busy=%d  %s\n", a.ID, a.Name, len(a.ActiveSessions), a.Workspace)
	}

	fmt.Fprintln(w, "\nProviders:")
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tSTATE\tFAILURES\tOK\tLAST ERROR")
	for _, p := range st.Providers {
		state := "available"
		if !p.Available {
			state = "cooling down until " + p.CoolingDownUntil.Local().Format(time.Kitchen)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%s\n", p.Name, state, p.TotalFailures, p.TotalSuccesses, p.LastErrorKind)
	}
	_ = tw.Flush()

	if len(st.Channels) > 0 {
		fmt.Fprintln(w, "\nChannels:")
		names := make([]string, 0, len(st.Channels))
		for name := range st.Channels {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ch := st.Channels[name]
			state := "connected"
			if !ch.Connected {
				state = "disconnected"
			}
			if ch.Error != "" {
				state += " (" + ch.Error + ")"
			}
			fmt.Fprintf(w, "  %-10s %s\n", name, state)
		}
	}

	fmt.Fprintln(w, "\nBus:")
	for _, topic := range st.Bus {
		fmt.Fprintf(w, "  %-10s published=%d rejected=%d\n", topic.Name, topic.Published, topic.Rejected)
	}

	if hb := st.Heartbeat; hb != nil {
		target := "none yet"
		if hb.ChatID != "" {
			target = string(hb.Channel) + "/" + hb.ChatID
		}
		fmt.Fprintf(w, "\nHeartbeat: every %s, target %s\n", hb.Interval, target)
	}
}

// =============================================================================
// Config
// =============================================================================

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s is valid\n", configPath)
	fmt.Fprintf(out, "  agents:    %d (default %s)\n", len(cfg.Agents.List), cfg.DefaultAgent().ID)
	fmt.Fprintf(out, "  providers: %d\n", len(cfg.Providers))
	fmt.Fprintf(out, "  routes:    %d\n", len(cfg.Routes))
	fmt.Fprintf(out, "  sessions:  %s\n", cfg.Sessions.Backend)

	var enabled []string
	if cfg.Channels.Telegram.Enabled {
		enabled = append(enabled, "telegram")
	}
	if cfg.Channels.Discord.Enabled {
		enabled = append(enabled, "discord")
	}
	if cfg.Channels.Slack.Enabled {
		enabled = append(enabled, "slack")
	}
	if cfg.Channels.WebChat.Enabled {
		enabled = append(enabled, "webchat")
	}
	if len(enabled) == 0 {
		enabled = append(enabled, "none")
	}
	fmt.Fprintf(out, "  channels:  %s\n", strings.Join(enabled, ", "))
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

// =============================================================================
// Cron
// =============================================================================

func runCronList(cmd *cobra.Command, configPath string, all bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	jobs, err := cron.LoadJobs(cfg.Cron.Store)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tNEXT RUN\tLAST STATUS\tTARGET")
	shown := 0
	for _, job := range jobs {
		if !job.Enabled && !all {
			continue
		}
		next := "-"
		if job.State.NextRun != nil {
			next = job.State.NextRun.Local().Format(time.RFC3339)
		}
		status := string(job.State.LastStatus)
		if status == "" {
			status = "-"
		}
		if !job.Enabled {
			status += " (disabled)"
		}
		target := job.Payload.Channel + "/" + job.Payload.To
		if job.Payload.Channel == "" {
			target = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", job.ID, job.Name, job.Schedule.String(), next, status, target)
		shown++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if shown == 0 {
		fmt.Fprintln(out, "no scheduled jobs")
	}
	return nil
}

// =============================================================================
// Secrets
// =============================================================================

func runSecretSet(cmd *cobra.Command, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("secret name is required")
	}
	value, err := readSecret(cmd, name)
	if err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("empty secret")
	}
	ref, err := config.StoreSecret(name, value)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored; reference it in config as %s\n", ref)
	return nil
}

// readSecret prompts without echo on a terminal and reads one line otherwise.
func readSecret(cmd *cobra.Command, name string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Value for %s: ", name)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
