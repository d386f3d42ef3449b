package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"deskagent/internal/logging"
)

const defaultKillGrace = 2 * time.Second

// StdioTransport runs a plugin as a child process and exchanges
// newline-delimited JSON over its stdin/stdout. stderr is logged, never
// parsed.
type StdioTransport struct {
	mu sync.Mutex

	command    string
	args       []string
	env        map[string]string
	searchPath string
	killGrace  time.Duration
	label      string

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	queue  [][]byte
	notify chan struct{}
	done   chan struct{}

	started bool
	closed  bool
	exited  bool
	exitErr error

	readers sync.WaitGroup
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithSearchPath overrides the PATH used to resolve the command and handed
// to the child. By default the user's login-shell PATH is used.
func WithSearchPath(path string) StdioOption {
	return func(t *StdioTransport) { t.searchPath = path }
}

// WithKillGrace sets how long Close waits after the terminate signal
// before killing the process.
func WithKillGrace(d time.Duration) StdioOption {
	return func(t *StdioTransport) { t.killGrace = d }
}

// NewStdioTransport creates a transport for command with an explicit
// argument vector. No shell is involved. env is added to the inherited
// environment.
func NewStdioTransport(command string, args []string, env map[string]string, opts ...StdioOption) *StdioTransport {
	t := &StdioTransport{
		command:   command,
		args:      append([]string(nil), args...),
		env:       env,
		killGrace: defaultKillGrace,
		label:     filepath.Base(command),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start resolves the executable and launches the process.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.command == "" {
		return newError(KindProcessLaunch, nil, "empty command for stdio transport")
	}

	searchPath := t.searchPath
	if searchPath == "" {
		searchPath = UserShellPath()
	}
	exe, err := resolveExecutable(t.command, searchPath)
	if err != nil {
		return newError(KindProcessLaunch, err, "cannot find %q", t.command)
	}

	cmd := exec.Command(exe, t.args...)
	cmd.Env = mergeEnv(os.Environ(), searchPath, t.env)
	configureProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return newError(KindProcessLaunch, err, "failed to get stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return newError(KindProcessLaunch, err, "failed to get stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return newError(KindProcessLaunch, err, "failed to get stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return newError(KindProcessLaunch, err, "failed to start %s", t.command)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true

	t.readers.Add(2)
	go t.readStdout(stdout)
	go t.readStderr(stderr)
	go t.waitExit()

	logging.Transport("started %s (pid %d)", t.label, cmd.Process.Pid)
	return nil
}

// Send writes msg followed by a newline to the child's stdin.
func (t *StdioTransport) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.IsConnected() {
		return ErrNotConnected
	}
	if bytes.ContainsRune(msg, '\n') {
		return newError(KindProtocol, nil, "message contains a raw newline")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	line := make([]byte, 0, len(msg)+1)
	line = append(line, msg...)
	line = append(line, '\n')
	if _, err := t.stdin.Write(line); err != nil {
		return newError(KindTransportClosed, err, "write to %s stdin", t.label)
	}
	return nil
}

// Receive returns the next complete line from stdout. Once the process has
// exited and the queue is drained it fails with ErrTransportClosed.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		t.mu.Lock()
		if !t.started {
			t.mu.Unlock()
			return nil, ErrNotConnected
		}
		if msg, ok := t.dequeueLocked(); ok {
			t.mu.Unlock()
			return msg, nil
		}
		t.mu.Unlock()

		select {
		case <-t.notify:
		case <-t.done:
			t.mu.Lock()
			msg, ok := t.dequeueLocked()
			exitErr := t.exitErr
			t.mu.Unlock()
			if ok {
				return msg, nil
			}
			return nil, newError(KindTransportClosed, exitErr, "%s exited", t.label)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *StdioTransport) dequeueLocked() ([]byte, bool) {
	if len(t.queue) == 0 {
		return nil, false
	}
	msg := t.queue[0]
	t.queue[0] = nil
	t.queue = t.queue[1:]
	return msg, true
}

// Close closes stdin, asks the process to terminate, and kills it if it
// is still running after the grace period.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed || !t.started {
		t.closed = true
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	exited := t.exited
	proc := t.cmd.Process
	t.mu.Unlock()

	_ = t.stdin.Close()

	if !exited {
		if err := terminateProcess(proc); err != nil {
			logging.TransportDebug("terminate %s: %v", t.label, err)
		}
		select {
		case <-t.done:
		case <-time.After(t.killGrace):
			logging.TransportWarn("%s did not exit within %v, killing", t.label, t.killGrace)
			_ = killProcess(proc)
			select {
			case <-t.done:
			case <-time.After(t.killGrace):
				logging.TransportWarn("%s still running after kill", t.label)
			}
		}
	}

	logging.Transport("stopped %s", t.label)
	return nil
}

// IsConnected returns current connection status.
func (t *StdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.closed && !t.exited
}

// readStdout splits stdout on '\n' and queues each complete line.
func (t *StdioTransport) readStdout(stdout io.Reader) {
	defer t.readers.Done()
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")
		if len(line) > 0 {
			t.enqueue(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				logging.TransportWarn("reading %s stdout: %v", t.label, err)
			}
			return
		}
	}
}

func (t *StdioTransport) enqueue(line []byte) {
	t.mu.Lock()
	t.queue = append(t.queue, line)
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// readStderr reads stderr and logs it.
func (t *StdioTransport) readStderr(stderr io.Reader) {
	defer t.readers.Done()
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logging.Transport("[%s stderr] %s", t.label, scanner.Text())
	}
}

// waitExit reaps the process once both pipes are drained and releases any
// blocked Receive.
func (t *StdioTransport) waitExit() {
	t.readers.Wait()
	err := t.cmd.Wait()

	t.mu.Lock()
	t.exited = true
	t.exitErr = err
	closed := t.closed
	t.mu.Unlock()

	if !closed {
		logging.TransportWarn("%s exited unexpectedly: %v", t.label, exitDescription(err))
	}
	close(t.done)
}

func exitDescription(err error) string {
	if err == nil {
		return "status 0"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("status %d", exitErr.ExitCode())
	}
	return err.Error()
}

var _ Transport = (*StdioTransport)(nil)
