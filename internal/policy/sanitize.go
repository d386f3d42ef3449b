package policy

import (
	"maps"
	"slices"
	"strings"
	"unicode"

	"deskagent/internal/types"
)

// MaxStringLength is the longest string value a sanitized argument keeps,
// counted in runes.
const MaxStringLength = 1000

// pathKeyHints mark argument names whose values are filesystem locations.
var pathKeyHints = []string{"path", "file", "dir", "folder", "destination", "source", "target", "query"}

// traversalMarkers are substrings that step out of a directory.
var traversalMarkers = []string{"../", "/..", `..\`, `\..`}

// Sanitize returns a copy of args with control characters other than tab,
// newline and carriage return removed from every key and string, at any
// depth, and every string value truncated to MaxStringLength runes.
// Sanitizing twice gives the same result as sanitizing once.
func (e *Engine) Sanitize(args types.Args) types.Args {
	return sanitizeArgs(args)
}

func sanitizeArgs(args types.Args) types.Args {
	if args == nil {
		return nil
	}
	out := make(types.Args, len(args))
	for _, k := range args.Keys() {
		out[stripControl(k)] = sanitizeValue(args[k])
	}
	return out
}

func sanitizeValue(v types.Value) types.Value {
	switch v.Kind() {
	case types.KindString:
		s, _ := v.AsString()
		return types.String(truncate(stripControl(s), MaxStringLength))
	case types.KindList:
		items, _ := v.AsList()
		clean := make([]types.Value, len(items))
		for i, item := range items {
			clean[i] = sanitizeValue(item)
		}
		return types.List(clean...)
	case types.KindMap:
		m, _ := v.AsMap()
		return types.Map(sanitizeArgs(types.Args(m)))
	default:
		return v
	}
}

func stripControl(s string) string {
	clean := true
	for _, r := range s {
		if isStripped(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isStripped(r) {
			return -1
		}
		return r
	}, s)
}

func isStripped(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func isPathKey(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range pathKeyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// findTraversal returns the first string inside v that escapes its
// directory. Strings are only inspected below a path-like key, which may
// be key itself or any key nested in a map. The returned key names the
// offending value with dots between map levels.
func findTraversal(key string, v types.Value, pathy bool) (string, string, bool) {
	pathy = pathy || isPathKey(key)
	switch v.Kind() {
	case types.KindString:
		if !pathy {
			return "", "", false
		}
		s, _ := v.AsString()
		if s == ".." {
			return key, s, true
		}
		for _, marker := range traversalMarkers {
			if strings.Contains(s, marker) {
				return key, s, true
			}
		}
	case types.KindList:
		items, _ := v.AsList()
		for _, item := range items {
			if at, bad, ok := findTraversal(key, item, pathy); ok {
				return at, bad, true
			}
		}
	case types.KindMap:
		m, _ := v.AsMap()
		for _, sub := range slices.Sorted(maps.Keys(m)) {
			if at, bad, ok := findTraversal(sub, m[sub], pathy); ok {
				return key + "." + at, bad, true
			}
		}
	}
	return "", "", false
}
