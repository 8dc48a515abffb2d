package channels

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const fence = "```"

// Split breaks text into pieces of at most limit runes. It prefers
// paragraph breaks, then line breaks, sentence ends and spaces, and only
// cuts mid-word when nothing else fits. A fenced code block that has to be
// cut is closed at the end of one piece and reopened in the next.
func Split(text string, limit int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for utf8.RuneCountInString(remaining) > limit {
		budget := limit
		if strings.Contains(remaining, fence) {
			budget -= len(fence) + 1
		}
		window := remaining[:runeOffset(remaining, budget)]
		cut := breakPoint(window)

		chunk := strings.TrimRightFunc(remaining[:cut], unicode.IsSpace)
		rest := strings.TrimLeftFunc(remaining[cut:], unicode.IsSpace)
		if open, ok := unclosedFence(chunk); ok && len(open)+1 < cut {
			chunk += "\n" + fence
			rest = open + "\n" + rest
		}
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = rest
	}
	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// breakPoint returns the byte index to cut window at.
func breakPoint(window string) int {
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx + 1
	}
	best := -1
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, ending); idx > best {
			best = idx
		}
	}
	if best > 0 {
		return best + 1
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return idx
	}
	return len(window)
}

// unclosedFence reports whether chunk ends inside a code block and returns
// the line that opened it.
func unclosedFence(chunk string) (string, bool) {
	var open string
	inside := false
	for _, line := range strings.Split(chunk, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, fence) {
			continue
		}
		if inside {
			inside = false
			continue
		}
		inside = true
		open = trimmed
	}
	return open, inside
}

func runeOffset(s string, n int) int {
	if n <= 0 {
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
