package builtin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"deskagent/internal/logging"
	"deskagent/internal/tools"
	"deskagent/internal/types"
)

const (
	defaultSearchResults = 20
	maxSearchResults     = 200
	maxSearchDepth       = 8
)

// skippedDirs are never descended into.
var skippedDirs = map[string]bool{
	"node_modules": true,
	"Library":      true,
	"AppData":      true,
	"vendor":       true,
	"__pycache__":  true,
}

// SearchFilesTool returns a tool for finding files by name.
func SearchFilesTool() Tool {
	return Tool{
		Definition: types.ToolDefinition{
			ID:          "search_files",
			DisplayName: "Search Files",
			Description: "Find files whose name contains the query or matches a glob such as *.pdf",
			RiskLevel:   types.RiskSafe,
			Parameters: []types.ToolParameter{
				{Name: "query", Type: types.ParamString, Description: "Name fragment or glob pattern", Required: true},
				{Name: "directory", Type: types.ParamString, Description: "Directory to search (default: home directory)"},
				{Name: "max_results", Type: types.ParamInt, Description: "Maximum number of results (default: 20)"},
			},
			RequiredCapabilities: []string{"filesystem"},
		},
		Executor: tools.ExecutorFunc(executeSearchFiles),
	}
}

func executeSearchFiles(ctx context.Context, args types.Args) types.ToolExecutionResult {
	query, _ := args.String("query")
	query = strings.TrimSpace(query)
	if query == "" {
		return types.Failed("A search query is required")
	}

	dir, _ := args.String("directory")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return types.Failed("Cannot determine home directory: %v", err)
		}
		dir = home
	}
	dir = expandHome(dir)

	maxResults := defaultSearchResults
	if n, ok := args.Int("max_results"); ok && n > 0 {
		maxResults = int(min(n, maxSearchResults))
	}

	matches, err := searchFiles(ctx, dir, query, maxResults)
	if err != nil {
		return types.Failed("Search failed: %v", err)
	}

	logging.Tools("search_files completed: %q in %s (%d matches)", query, dir, len(matches))
	if len(matches) == 0 {
		return types.Succeeded(fmt.Sprintf("No files found matching %q in %s", query, dir))
	}
	res := types.Succeeded(fmt.Sprintf("Found %d file(s) matching %q", len(matches), query))
	res.Details = strings.Join(matches, "\n")
	return res
}

// searchFiles walks root and returns up to limit paths whose base name
// matches query. A query containing glob metacharacters is matched as a
// pattern, anything else as a case-insensitive substring. Hidden entries
// are skipped.
func searchFiles(ctx context.Context, root, query string, limit int) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	lowered := strings.ToLower(query)
	isGlob := strings.ContainsAny(query, "*?[")
	if isGlob {
		if _, err := filepath.Match(lowered, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
	}
	baseDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))

	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil // Skip unreadable entries
		}
		if path == root {
			return nil
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if skippedDirs[name] || strings.Count(path, string(filepath.Separator))-baseDepth >= maxSearchDepth {
				return filepath.SkipDir
			}
			return nil
		}

		lname := strings.ToLower(name)
		matched := strings.Contains(lname, lowered)
		if isGlob {
			matched, _ = filepath.Match(lowered, lname)
		}
		if matched {
			matches = append(matches, path)
			if len(matches) >= limit {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return matches, err
	}
	return matches, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
