package mcp

import (
	"slices"
	"strings"
)

// capabilityHints maps a capability to words that suggest a plugin tool
// needs it. Matching is by substring on the lowered name and description.
var capabilityHints = []struct {
	capability string
	hints      []string
}{
	{"filesystem", []string{"file", "directory", "folder", "path"}},
	{"network", []string{"http", "url", "web", "fetch", "download", "api"}},
	{"shell", []string{"exec", "shell", "command", "process", "terminal"}},
	{"database", []string{"database", "sql", "table", "db_"}},
	{"vcs", []string{"git", "commit", "branch", "repository"}},
	{"messaging", []string{"email", "slack", "message", "send"}},
}

// inferCapabilities guesses what a plugin tool touches from its name and
// description. Plugins do not declare this, so the result is advisory.
func inferCapabilities(schema MCPToolSchema) []string {
	combined := strings.ToLower(schema.Name + " " + schema.Description)

	var caps []string
	for _, h := range capabilityHints {
		if containsAny(combined, h.hints...) {
			caps = append(caps, h.capability)
		}
	}
	slices.Sort(caps)
	return caps
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
