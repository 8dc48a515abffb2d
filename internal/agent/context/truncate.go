// Package context assembles the prompt for each model call.
//
// This package handles:
//   - System prompt assembly from workspace documents, memory and tool specs
//   - History truncation to an estimated token budget
//   - Caching of workspace bootstrap documents with file watching
package context

import (
	"unicode/utf8"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// Budget bounds the size of a prompt in estimated tokens.
type Budget struct {
	// MaxTokens is the total context budget. Zero disables truncation.
	MaxTokens int
}

// EstimateTokens approximates the token count of text as ceil(chars/4).
func EstimateTokens(text string) int {
	chars := utf8.RuneCountInString(text)
	return (chars + 3) / 4
}

// TurnTokens estimates the token cost of one turn including tool payloads.
func TurnTokens(turn models.Turn) int {
	chars := utf8.RuneCountInString(turn.Content)
	for _, call := range turn.ToolCalls {
		chars += utf8.RuneCountInString(call.Name) + utf8.RuneCount(call.Input)
	}
	for _, result := range turn.ToolResults {
		chars += utf8.RuneCountInString(result.Content)
	}
	return (chars + 3) / 4
}

// Truncate fits history into budget tokens.
//
// The tail starting at the last user turn is always kept. Older turns are
// dropped oldest first, except system turns, which are retained. Tool-result
// turns left at the front without their call are dropped as well. The input
// is not modified and the result depends only on the arguments.
func Truncate(history []models.Turn, budget int) []models.Turn {
	if budget < 1 {
		budget = 1
	}
	total := 0
	for _, turn := range history {
		total += TurnTokens(turn)
	}
	if total <= budget {
		return append([]models.Turn(nil), history...)
	}

	tail := lastUserIndex(history)
	if tail < 0 {
		tail = len(history) - 1
	}

	used := 0
	for _, turn := range history[tail:] {
		used += TurnTokens(turn)
	}
	for _, turn := range history[:tail] {
		if turn.Role == models.RoleSystem {
			used += TurnTokens(turn)
		}
	}

	// Walk backwards from the tail; the first turn that does not fit ends
	// the kept window so drops stay contiguous from the oldest end.
	cutoff := tail
	for i := tail - 1; i >= 0; i-- {
		if history[i].Role == models.RoleSystem {
			continue
		}
		cost := TurnTokens(history[i])
		if used+cost > budget {
			break
		}
		used += cost
		cutoff = i
	}

	out := make([]models.Turn, 0, len(history)-cutoff)
	leading := true
	for i, turn := range history {
		if i < cutoff && turn.Role != models.RoleSystem {
			continue
		}
		if turn.Role == models.RoleSystem {
			out = append(out, turn)
			continue
		}
		if leading && i < tail && turn.Role == models.RoleTool {
			continue
		}
		leading = false
		out = append(out, turn)
	}
	return out
}

func lastUserIndex(history []models.Turn) int {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return i
		}
	}
	return -1
}
