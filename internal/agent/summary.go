package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	agentctx "github.com/haasonsaas/clawcore/internal/agent/context"
	"github.com/haasonsaas/clawcore/pkg/models"
)

// summarizeMinTurns is how many newly dropped turns it takes to refresh the
// session summary.
const summarizeMinTurns = 4

// summaryExcerptRunes caps each turn quoted in a summary request.
const summaryExcerptRunes = 500

const summarySystemPrompt = `You maintain a running summary of a conversation between a user and an assistant.
Merge the previous summary with the new transcript excerpt into one concise summary.
Keep names, decisions and open tasks the assistant will need later.
Reply with the summary text only.`

// summarize folds turns that no longer fit the context budget into the
// session summary, which the prompt builder renders ahead of the history.
// Failures are logged; the turn itself has already been recorded.
func (r *Runtime) summarize(ctx context.Context, sessionID, previous string, history []models.Turn) {
	if r.config.ContextTokens <= 0 {
		return
	}
	dropped := droppedTurns(history, agentctx.Truncate(history, r.config.ContextTokens))
	if len(dropped) == 0 {
		return
	}

	r.summaryMu.Lock()
	covered, seen := r.summarized[sessionID]
	r.summaryMu.Unlock()
	if !seen && previous != "" {
		// A stored summary from an earlier process covers what already fell out.
		r.markSummarized(sessionID, len(dropped))
		return
	}
	if covered > len(dropped) {
		covered = 0
	}
	fresh := dropped[covered:]
	if len(fresh) < summarizeMinTurns {
		return
	}

	resp, err := r.chain.Complete(ctx, &CompletionRequest{
		Model:     r.config.Model,
		System:    summarySystemPrompt,
		Messages:  []CompletionMessage{{Role: string(models.RoleUser), Content: summaryRequest(previous, fresh)}},
		MaxTokens: r.config.MaxTokens,
	})
	if err != nil {
		r.logger.Warn("failed to summarize session history", "session_id", sessionID, "error", err)
		return
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return
	}
	if err := r.store.SetSummary(ctx, sessionID, text); err != nil {
		r.logger.Warn("failed to store session summary", "session_id", sessionID, "error", err)
		return
	}
	r.markSummarized(sessionID, len(dropped))
	r.logger.Debug("session summary updated", "session_id", sessionID, "turns", len(fresh))
}

func (r *Runtime) markSummarized(sessionID string, n int) {
	r.summaryMu.Lock()
	defer r.summaryMu.Unlock()
	if n == 0 {
		delete(r.summarized, sessionID)
		return
	}
	r.summarized[sessionID] = n
}

// droppedTurns returns the oldest non-system turns of history that are
// missing from kept. Truncate only ever drops a contiguous run of those.
func droppedTurns(history, kept []models.Turn) []models.Turn {
	n := countNonSystem(history) - countNonSystem(kept)
	if n <= 0 {
		return nil
	}
	out := make([]models.Turn, 0, n)
	for _, turn := range history {
		if len(out) == n {
			break
		}
		if turn.Role != models.RoleSystem {
			out = append(out, turn)
		}
	}
	return out
}

func countNonSystem(turns []models.Turn) int {
	n := 0
	for _, turn := range turns {
		if turn.Role != models.RoleSystem {
			n++
		}
	}
	return n
}

func summaryRequest(previous string, turns []models.Turn) string {
	var sb strings.Builder
	if previous = strings.TrimSpace(previous); previous != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(previous)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New transcript excerpt:\n")
	for _, turn := range turns {
		if text := strings.TrimSpace(turn.Content); text != "" {
			fmt.Fprintf(&sb, "%s: %s\n", turn.Role, clip(text))
		}
		for _, call := range turn.ToolCalls {
			fmt.Fprintf(&sb, "%s called %s(%s)\n", turn.Role, call.Name, clip(string(call.Input)))
		}
		for _, result := range turn.ToolResults {
			fmt.Fprintf(&sb, "tool result: %s\n", clip(result.Content))
		}
	}
	return sb.String()
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= summaryExcerptRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:summaryExcerptRunes]) + "..."
}
