package security

import "strings"

// Segments splits a shell command on the control operators ; && || | & and
// newlines. Operators inside single or double quotes do not split.
func Segments(command string) []string {
	var (
		segments      []string
		current       strings.Builder
		inSingleQuote bool
		inDoubleQuote bool
		escaped       bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	for i := 0; i < len(command); i++ {
		c := command[i]
		if escaped {
			escaped = false
			current.WriteByte(c)
			continue
		}
		switch {
		case c == '\\' && !inSingleQuote:
			escaped = true
			current.WriteByte(c)
			continue
		case c == '\'' && !inDoubleQuote:
			inSingleQuote = !inSingleQuote
		case c == '"' && !inSingleQuote:
			inDoubleQuote = !inDoubleQuote
		}
		if inSingleQuote || inDoubleQuote || c == '\'' || c == '"' {
			current.WriteByte(c)
			continue
		}

		switch c {
		case ';', '\n':
			flush()
		case '&', '|':
			// && and || are consumed as one operator.
			if i+1 < len(command) && command[i+1] == c {
				i++
			}
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return segments
}

// Unquote removes quote characters and backslash escapes, so `r"m" -rf /`
// reads as `rm -rf /`.
func Unquote(s string) string {
	var b strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '\'', '"':
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// substitutions returns the bodies of $(...) and backtick command
// substitutions, outermost first.
func substitutions(command string) []string {
	var out []string
	for i := 0; i < len(command); i++ {
		switch {
		case command[i] == '$' && i+1 < len(command) && command[i+1] == '(':
			depth := 0
			for j := i + 1; j < len(command); j++ {
				if command[j] == '(' {
					depth++
				} else if command[j] == ')' {
					depth--
					if depth == 0 {
						body := command[i+2 : j]
						out = append(out, body)
						out = append(out, substitutions(body)...)
						break
					}
				}
			}
		case command[i] == '`':
			end := strings.IndexByte(command[i+1:], '`')
			if end < 0 {
				return out
			}
			out = append(out, command[i+1:i+1+end])
			i += end + 1
		}
	}
	return out
}
