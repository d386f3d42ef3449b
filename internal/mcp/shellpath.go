package mcp

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"deskagent/internal/logging"
)

// fallbackPathDirs is used when the login-shell probe fails. These are the
// usual homes of npx, uvx, node and friends.
var fallbackPathDirs = []string{
	"/opt/homebrew/bin",
	"/opt/homebrew/sbin",
	"/usr/local/bin",
	"/usr/bin",
	"/bin",
	"/usr/sbin",
	"/sbin",
	"~/.local/bin",
	"~/.cargo/bin",
	"~/.bun/bin",
	"~/.volta/bin",
	"~/go/bin",
}

const shellProbeTimeout = 5 * time.Second

var (
	userPathOnce sync.Once
	userPath     string

	// probeShellPath is swapped in tests.
	probeShellPath = loginShellPath
)

// UserShellPath returns the PATH of the user's login shell, probed once and
// cached. A process started from a desktop launcher sees only a minimal
// system PATH, which misses most plugin runtimes.
func UserShellPath() string {
	userPathOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shellProbeTimeout)
		defer cancel()

		p, err := probeShellPath(ctx)
		if err != nil || p == "" {
			logging.TransportWarn("login shell PATH probe failed, using fallback list: %v", err)
			p = fallbackPath()
		} else {
			logging.TransportDebug("resolved user PATH from login shell (%d entries)", len(filepath.SplitList(p)))
		}
		userPath = p
	})
	return userPath
}

func loginShellPath(ctx context.Context) (string, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	out, err := exec.CommandContext(ctx, shell, "-l", "-c", "echo $PATH").Output()
	if err != nil {
		return "", err
	}
	// Login scripts may print banners; PATH is the last line.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

func fallbackPath() string {
	home, _ := os.UserHomeDir()
	dirs := make([]string, 0, len(fallbackPathDirs)+1)
	for _, d := range fallbackPathDirs {
		if strings.HasPrefix(d, "~/") {
			if home == "" {
				continue
			}
			d = filepath.Join(home, d[2:])
		}
		dirs = append(dirs, d)
	}
	if cur := os.Getenv("PATH"); cur != "" {
		dirs = append(dirs, cur)
	}
	return strings.Join(dirs, string(os.PathListSeparator))
}

// resolveExecutable finds command on searchPath. Commands containing a path
// separator are used as given.
func resolveExecutable(command, searchPath string) (string, error) {
	if strings.ContainsRune(command, os.PathSeparator) {
		if _, err := os.Stat(command); err != nil {
			return "", err
		}
		return command, nil
	}
	for _, dir := range filepath.SplitList(searchPath) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, command)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0111 != 0 {
			return candidate, nil
		}
	}
	return "", exec.ErrNotFound
}

// mergeEnv overlays PATH and extra variables onto base.
func mergeEnv(base []string, path string, extra map[string]string) []string {
	skip := map[string]bool{}
	if path != "" {
		skip["PATH"] = true
	}
	for k := range extra {
		skip[k] = true
	}

	env := make([]string, 0, len(base)+len(extra)+1)
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if skip[name] {
			continue
		}
		env = append(env, kv)
	}
	if path != "" {
		env = append(env, "PATH="+path)
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
