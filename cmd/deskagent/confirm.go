package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"deskagent/internal/types"
)

// promptConfirmer asks on the terminal. Anything but y/yes is a refusal,
// and so is a cancelled turn.
type promptConfirmer struct {
	mu  sync.Mutex
	out io.Writer

	// A single reader goroutine owns in; lines is closed at end of input.
	in       *bufio.Reader
	lines    chan string
	startOne sync.Once
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out, lines: make(chan string)}
}

func (c *promptConfirmer) readLines() {
	defer close(c.lines)
	for {
		line, err := c.in.ReadString('\n')
		if line != "" || err == nil {
			c.lines <- line
		}
		if err != nil {
			return
		}
	}
}

func (c *promptConfirmer) Confirm(ctx context.Context, call types.ToolCall, reason string, risk types.RiskLevel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startOne.Do(func() { go c.readLines() })

	fmt.Fprintf(c.out, "%s\n", reason)
	if summary := call.Arguments.Summary(); summary != "" {
		fmt.Fprintf(c.out, "Run %s (%s) with %s? [y/N] ", call.ToolID, risk, summary)
	} else {
		fmt.Fprintf(c.out, "Run %s (%s)? [y/N] ", call.ToolID, risk)
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false
	case line, ok := <-c.lines:
		if !ok {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}
