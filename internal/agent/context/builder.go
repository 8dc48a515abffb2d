package context

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// MemoryReader supplies the long-term memory and daily notes of an agent.
type MemoryReader interface {
	ReadLongTerm(ctx context.Context, agentID string) (string, error)
	ReadDaily(ctx context.Context, agentID string, date time.Time) (string, error)
}

// Input is everything the builder needs for one model call.
type Input struct {
	AgentID   string
	AgentName string
	Workspace string
	Channel   models.ChannelType
	ChatID    string
	Summary   string
	History   []models.Turn
	Tools     []models.ToolSpec
	Budget    Budget
}

// Prompt is the assembled request content.
type Prompt struct {
	System   string
	Messages []models.Turn
	Tools    []models.ToolSpec
}

// Builder assembles prompts. Given the same input, workspace contents,
// memory and clock, Build returns byte-identical output.
type Builder struct {
	bootstrap *BootstrapCache
	memory    MemoryReader
	now       func() time.Time
	logger    *slog.Logger
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithBootstrapCache shares a bootstrap cache across builders.
func WithBootstrapCache(cache *BootstrapCache) BuilderOption {
	return func(b *Builder) { b.bootstrap = cache }
}

// WithMemory sets the memory source.
func WithMemory(memory MemoryReader) BuilderOption {
	return func(b *Builder) { b.memory = memory }
}

// WithClock overrides the clock used for the date header and daily notes.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// WithLogger sets the builder logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default().With("component", "context_builder")
	}
	if b.bootstrap == nil {
		b.bootstrap = NewBootstrapCache(b.logger)
	}
	return b
}

// Build assembles the system prompt, truncated history and tool list.
func (b *Builder) Build(ctx context.Context, in Input) (*Prompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tools := sortedTools(in.Tools)
	now := b.now()

	sections := []string{b.header(in, now)}

	if in.Workspace != "" {
		docs, err := b.bootstrap.Get(in.Workspace)
		if err != nil {
			b.logger.Warn("failed to load bootstrap documents", "workspace", in.Workspace, "error", err)
		} else {
			for _, doc := range docs.Files {
				sections = append(sections, fmt.Sprintf("## %s\n\n%s", doc.Name, doc.Content))
			}
			if len(docs.Skills) > 0 {
				var sb strings.Builder
				sb.WriteString("# Skills\n")
				for _, skill := range docs.Skills {
					fmt.Fprintf(&sb, "\n### %s\n\n%s\n", skill.Name, skill.Content)
				}
				sections = append(sections, strings.TrimRight(sb.String(), "\n"))
			}
		}
	}

	if len(tools) > 0 {
		var sb strings.Builder
		sb.WriteString("# Available Tools\n\n")
		for i, tool := range tools {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "- %s: %s", tool.Name, tool.Description)
		}
		sections = append(sections, sb.String())
	}

	if b.memory != nil {
		if longTerm, err := b.memory.ReadLongTerm(ctx, in.AgentID); err != nil {
			b.logger.Warn("failed to read long-term memory", "agent_id", in.AgentID, "error", err)
		} else if text := strings.TrimSpace(longTerm); text != "" {
			sections = append(sections, "## Long-term Memory\n\n"+text)
		}
		if daily, err := b.memory.ReadDaily(ctx, in.AgentID, now); err != nil {
			b.logger.Warn("failed to read daily notes", "agent_id", in.AgentID, "error", err)
		} else if text := strings.TrimSpace(daily); text != "" {
			sections = append(sections, "## Today's Notes\n\n"+text)
		}
	}

	if summary := strings.TrimSpace(in.Summary); summary != "" {
		sections = append(sections, "## Summary of Previous Conversation\n\n"+summary)
	}

	if in.Channel != "" || in.ChatID != "" {
		sections = append(sections, fmt.Sprintf("## Current Session\n\nChannel: %s\nChat ID: %s", in.Channel, in.ChatID))
	}

	system := strings.Join(sections, "\n\n---\n\n")

	history := append([]models.Turn(nil), in.History...)
	if in.Budget.MaxTokens > 0 {
		remaining := in.Budget.MaxTokens - EstimateTokens(system) - toolTokens(tools)
		history = Truncate(history, remaining)
	}

	return &Prompt{System: system, Messages: history, Tools: tools}, nil
}

func (b *Builder) header(in Input, now time.Time) string {
	name := in.AgentName
	if name == "" {
		name = in.AgentID
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", name)
	fmt.Fprintf(&sb, "You are %s, a helpful AI assistant with access to tools.\n\n", name)
	fmt.Fprintf(&sb, "## Current Date\n%s", now.Format("2006-01-02 (Monday)"))
	if in.Workspace != "" {
		fmt.Fprintf(&sb, "\n\n## Workspace\nYour workspace is at: %s\n", in.Workspace)
		sb.WriteString("- Long-term memory: memory/MEMORY.md\n")
		sb.WriteString("- Daily notes: memory/YYYYMM/YYYYMMDD.md\n")
		sb.WriteString("- Skills: skills/<name>/SKILL.md")
	}
	return sb.String()
}

func sortedTools(tools []models.ToolSpec) []models.ToolSpec {
	out := append([]models.ToolSpec(nil), tools...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func toolTokens(tools []models.ToolSpec) int {
	total := 0
	for _, tool := range tools {
		total += EstimateTokens(tool.Name) + EstimateTokens(tool.Description) + EstimateTokens(string(tool.Schema))
	}
	return total
}
