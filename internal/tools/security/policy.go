// Package security guards shell commands issued by tools.
package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/clawcore/internal/agent"
)

// DefaultDenyPatterns block destructive or system-altering commands.
// Patterns are matched case-insensitively.
var DefaultDenyPatterns = []string{
	`rm\s+-rf\s+/`,
	`rm\s+-rf\s+~`,
	`rm\s+-rf\s+\*`,
	`rm\s+-rf\s+\.\.`,
	`mkfs\.`,
	`format\s+[a-zA-Z]:`,
	`dd\s+if=`,
	`>\s*/dev/sd`,
	`shutdown`,
	`reboot`,
	`init\s+[0-6]`,
	`:\(\)\s*\{.*\|.*&.*\};\s*:`,
	`curl.*\|\s*(ba)?sh`,
	`wget.*\|\s*(ba)?sh`,
	`chmod\s+-R\s+777\s+/`,
	`chown\s+-R.*\s+/`,
	`sudo\s+rm`,
	`sudo\s+dd`,
	`>\s*/etc/`,
	`mv\s+/`,
	`echo.*>\s*/etc/passwd`,
}

// PolicyConfig configures a CommandPolicy.
type PolicyConfig struct {
	// Disabled turns the deny list off. Only configuration can do this.
	Disabled bool

	// CustomPatterns are appended to DefaultDenyPatterns.
	CustomPatterns []string
}

// CommandPolicy rejects commands that match a deny pattern. It is immutable
// after construction and safe for concurrent use.
type CommandPolicy struct {
	patterns []*regexp.Regexp
}

// NewCommandPolicy compiles the deny list.
func NewCommandPolicy(cfg PolicyConfig) (*CommandPolicy, error) {
	if cfg.Disabled {
		return &CommandPolicy{}, nil
	}
	sources := append(append([]string(nil), DefaultDenyPatterns...), cfg.CustomPatterns...)
	patterns := make([]*regexp.Regexp, 0, len(sources))
	for _, src := range sources {
		if strings.TrimSpace(src) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, agent.NewConfigurationError("tools.exec", fmt.Sprintf("invalid deny pattern %q", src), err)
		}
		patterns = append(patterns, re)
	}
	return &CommandPolicy{patterns: patterns}, nil
}

// Enabled reports whether any deny pattern is active.
func (p *CommandPolicy) Enabled() bool {
	return p != nil && len(p.patterns) > 0
}

// Check returns a DeniedError if command, or any segment of it, matches a
// deny pattern.
func (p *CommandPolicy) Check(command string) error {
	if !p.Enabled() {
		return nil
	}
	for _, candidate := range Candidates(command) {
		for _, re := range p.patterns {
			if re.MatchString(candidate) {
				return agent.NewDeniedError("tools.exec", fmt.Sprintf("command blocked by safety guard: %s", re.String()[len("(?i)"):]))
			}
		}
	}
	return nil
}

// Candidates returns every string a command is checked against: the full
// command, each control-operator separated segment, the bodies of command
// substitutions, and unquoted forms of all of them.
func Candidates(command string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	add(command)
	add(Unquote(command))
	for _, segment := range Segments(command) {
		add(segment)
		add(Unquote(segment))
	}
	for _, sub := range substitutions(command) {
		for _, segment := range Segments(sub) {
			add(segment)
			add(Unquote(segment))
		}
	}
	return out
}
