package router

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxSimpleLength is the longest input still treated as a single command.
const maxSimpleLength = 80

var (
	// Phrases that chain steps.
	multiStepPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bthen\b`),
		regexp.MustCompile(`(?i)\bafter\s+that\b`),
		regexp.MustCompile(`(?i)\bfollowed\s+by\b`),
		regexp.MustCompile(`(?i)\bafterwards?\b`),
		regexp.MustCompile(`(?i)\bonce\s+(that|it|this)\s+is\b`),
		regexp.MustCompile(`(?i)\bbefore\s+that\b`),
		regexp.MustCompile(`(?i)\bfinally\b`),
		regexp.MustCompile(`(?i)\bfirst\b.+\bnext\b`),
	}

	// Requests that need a workflow or a look at the screen.
	workflowKeywords = []string{
		"configure", "screen", "screenshot", "step by step", "workflow",
		"set up", "setup", "automate", "click", "what's on", "look at",
		"fill in", "fill out", "organize", "summarize",
	}

	// Verbs a single built-in tool can satisfy.
	actionVerbs = map[string]bool{
		"open": true, "launch": true, "start": true, "close": true, "quit": true,
		"move": true, "snap": true, "maximize": true, "search": true, "find": true,
		"show": true, "tell": true, "get": true, "check": true, "play": true,
		"pause": true, "create": true, "send": true, "delete": true, "copy": true,
		"rename": true, "turn": true, "set": true,
	}

	clauseSplit = regexp.MustCompile(`[,;.!?]+|\s+and\s+|\s+then\s+`)
	andSplit    = regexp.MustCompile(`(?i)\s+and\s+`)
)

// analyze applies the complexity heuristic and returns the first reason
// that marks input as complex.
func analyze(input string) (string, bool) {
	text := strings.TrimSpace(input)
	if utf8.RuneCountInString(text) > maxSimpleLength {
		return fmt.Sprintf("long request (over %d characters)", maxSimpleLength), true
	}

	lower := strings.ToLower(text)
	for _, p := range multiStepPatterns {
		if m := p.FindString(lower); m != "" {
			return fmt.Sprintf("multi-step request (%q)", m), true
		}
	}
	for _, kw := range workflowKeywords {
		if strings.Contains(lower, kw) {
			return fmt.Sprintf("workflow request (%q)", kw), true
		}
	}

	if parts := andSplit.Split(lower, -1); len(parts) > 1 {
		if countVerbClauses(parts) >= 2 {
			return "several actions joined by \"and\"", true
		}
	}
	if countVerbClauses(clauseSplit.Split(lower, -1)) >= 2 {
		return "several actions in one request", true
	}
	return "", false
}

// countVerbClauses counts clauses whose first word is an action verb.
func countVerbClauses(clauses []string) int {
	n := 0
	for _, clause := range clauses {
		fields := strings.Fields(clause)
		if len(fields) == 0 {
			continue
		}
		if actionVerbs[strings.Trim(fields[0], `"'()`)] {
			n++
		}
	}
	return n
}
