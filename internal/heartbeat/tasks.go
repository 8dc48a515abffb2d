package heartbeat

import "strings"

// FileName is the task list read from the agent workspace.
const FileName = "HEARTBEAT.md"

// Template seeds a missing HEARTBEAT.md. It holds no active tasks.
const Template = `# Heartbeat Tasks

<!-- Tasks listed here run periodically. -->
<!-- Remove the comment markers to activate a task. -->

<!-- - Check system status and report any issues -->
<!-- - Review memory for any pending reminders -->
`

// HasTasks reports whether content has a line that is not blank, a
// heading, or part of an HTML comment.
func HasTasks(content string) bool {
	inComment := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		for line != "" {
			if inComment {
				end := strings.Index(line, "-->")
				if end < 0 {
					line = ""
					break
				}
				inComment = false
				line = strings.TrimSpace(line[end+3:])
				continue
			}
			if strings.HasPrefix(line, "<!--") {
				inComment = true
				line = line[4:]
				continue
			}
			if strings.HasPrefix(line, "#") {
				line = ""
				break
			}
			return true
		}
	}
	return false
}
