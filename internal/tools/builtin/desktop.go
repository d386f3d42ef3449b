package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"deskagent/internal/logging"
)

// ErrUnsupported is returned by SystemDesktop for actions the current
// platform cannot perform.
var ErrUnsupported = errors.New("not supported on this platform")

// Desktop performs application and window actions. The automation layer
// that implements it lives outside this module; SystemDesktop is a
// minimal command-line based version.
type Desktop interface {
	OpenApplication(ctx context.Context, name string) error
	QuitApplication(ctx context.Context, name string, force bool) error
	MoveWindow(ctx context.Context, application string, placement Placement) error
}

// runFunc runs a program with an explicit argument vector.
type runFunc func(ctx context.Context, name string, args ...string) error

// SystemDesktop drives the desktop through platform launchers (open,
// osascript, gtk-launch, pkill, taskkill). Arguments are always passed as
// an argument vector, never through a shell.
type SystemDesktop struct {
	goos string
	run  runFunc
}

// NewSystemDesktop returns a Desktop for the running platform.
func NewSystemDesktop() *SystemDesktop {
	return &SystemDesktop{goos: runtime.GOOS, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// OpenApplication launches name.
func (d *SystemDesktop) OpenApplication(ctx context.Context, name string) error {
	logging.ToolsDebug("desktop: open %s on %s", name, d.goos)
	switch d.goos {
	case "darwin":
		return d.run(ctx, "open", "-a", name)
	case "windows":
		// explorer.exe resolves registered apps without going through cmd.exe.
		return d.run(ctx, "explorer.exe", name)
	default:
		return d.run(ctx, "gtk-launch", strings.ToLower(name))
	}
}

// QuitApplication asks name to quit, or terminates it when force is set.
func (d *SystemDesktop) QuitApplication(ctx context.Context, name string, force bool) error {
	logging.ToolsDebug("desktop: quit %s on %s (force=%v)", name, d.goos, force)
	switch d.goos {
	case "darwin":
		if force {
			return d.run(ctx, "killall", "-9", name)
		}
		return d.run(ctx, "osascript", "-e", fmt.Sprintf("quit app %s", appleScriptString(name)))
	case "windows":
		args := []string{"/IM", exeName(name)}
		if force {
			args = append(args, "/F")
		}
		return d.run(ctx, "taskkill", args...)
	default:
		if force {
			return d.run(ctx, "pkill", "-KILL", "-x", name)
		}
		return d.run(ctx, "pkill", "-x", name)
	}
}

// MoveWindow places the front window of application. Only macOS is
// supported.
func (d *SystemDesktop) MoveWindow(ctx context.Context, application string, placement Placement) error {
	if d.goos != "darwin" {
		return ErrUnsupported
	}
	x, y, w, h, err := placementGeometry(placement)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`tell application "Finder" to set b to bounds of window of desktop
set sw to item 3 of b
set sh to item 4 of b
tell application "System Events" to tell process %s
	set position of window 1 to {%s, %s}
	set size of window 1 to {%s, %s}
end tell`, appleScriptString(application), x, y, w, h)
	return d.run(ctx, "osascript", "-e", script)
}

// placementGeometry returns AppleScript expressions over the screen size
// (sw, sh) for the window origin and size.
func placementGeometry(p Placement) (x, y, w, h string, err error) {
	switch p {
	case PlaceLeft:
		return "0", "0", "sw div 2", "sh", nil
	case PlaceRight:
		return "sw div 2", "0", "sw div 2", "sh", nil
	case PlaceTop:
		return "0", "0", "sw", "sh div 2", nil
	case PlaceBottom:
		return "0", "sh div 2", "sw", "sh div 2", nil
	case PlaceCenter:
		return "sw div 6", "sh div 6", "sw * 2 div 3", "sh * 2 div 3", nil
	case PlaceMaximize:
		return "0", "0", "sw", "sh", nil
	}
	return "", "", "", "", fmt.Errorf("unknown position %q", p)
}

func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func exeName(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name
	}
	return name + ".exe"
}

var _ Desktop = (*SystemDesktop)(nil)
