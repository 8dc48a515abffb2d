package channels

import "strings"

// AllowList restricts who may talk to a channel. An empty list admits
// everyone. Entries match a sender id or username, with any leading "@"
// ignored, case-insensitively.
type AllowList struct {
	entries map[string]struct{}
}

// NewAllowList builds an allow list from config entries.
func NewAllowList(entries []string) *AllowList {
	a := &AllowList{entries: make(map[string]struct{}, len(entries))}
	for _, entry := range entries {
		if key := normalizeSender(entry); key != "" {
			a.entries[key] = struct{}{}
		}
	}
	return a
}

// Empty reports whether the list admits everyone.
func (a *AllowList) Empty() bool {
	return a == nil || len(a.entries) == 0
}

// Allows reports whether any of the sender's identities is listed.
// Adapters pass the platform id and, where known, the username.
func (a *AllowList) Allows(identities ...string) bool {
	if a.Empty() {
		return true
	}
	for _, id := range identities {
		// Compound ids of the form "id|username" match on either part.
		for _, part := range strings.Split(id, "|") {
			if _, ok := a.entries[normalizeSender(part)]; ok && part != "" {
				return true
			}
		}
	}
	return false
}

func normalizeSender(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}
