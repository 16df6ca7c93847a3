// Package executor implements the process execution strategies used to
// drive the Android SDK tooling: Local (tools installed on the host) and
// Docker (tools run in an ephemeral SDK container).
package executor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
)

// Command describes a single external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string

	// Timeout bounds the invocation when non-zero.
	Timeout time.Duration

	// OnLine, if set, is called for every line of combined output as it is
	// produced. Calls are serialized.
	OnLine func(line string)

	// Redact lists argument values (passwords) masked in String.
	Redact []string
}

// String returns the shell-quoted command line with redacted values masked.
func (c Command) String() string {
	if len(c.Redact) == 0 {
		return Render(c.Name, c.Args...)
	}
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a
		for _, secret := range c.Redact {
			if secret != "" && a == secret {
				args[i] = "***"
				break
			}
		}
	}
	return Render(c.Name, args...)
}

// Result is the outcome of a completed command.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// Executor is the interface for command execution strategies.
type Executor interface {
	// Run executes cmd and blocks until it exits. A non-zero exit status is
	// reported as an *ExitError alongside the partial Result.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExitError reports a command that ran but exited with a non-zero status.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, out)
}

// Render joins a command name and its arguments into a shell-quoted line,
// suitable for logs and error messages.
func Render(name string, args ...string) string {
	return shellquote.Join(append([]string{name}, args...)...)
}

// SplitTool splits a configured tool command line such as
// "java -jar apksigner.jar" into the binary and its leading arguments.
func SplitTool(line string) (string, []string, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return "", nil, fmt.Errorf("parse tool %q: %w", line, err)
	}
	if len(words) == 0 {
		return "", nil, fmt.Errorf("empty tool command")
	}
	return words[0], words[1:], nil
}

// Tool builds a Command for a configured tool line followed by args.
func Tool(line string, args ...string) (Command, error) {
	name, lead, err := SplitTool(line)
	if err != nil {
		return Command{}, err
	}
	return Command{Name: name, Args: append(lead, args...)}, nil
}

// lineWriter splits written bytes into lines, forwarding each complete line
// to the callback and keeping a copy of everything written.
type lineWriter struct {
	mu      sync.Mutex
	out     strings.Builder
	partial []byte
	onLine  func(string)
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.out.Write(p)
	lw.partial = append(lw.partial, p...)
	for {
		i := bytes.IndexByte(lw.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(lw.partial[:i]), "\r")
		lw.partial = lw.partial[i+1:]
		if lw.onLine != nil {
			lw.onLine(line)
		}
	}
	return len(p), nil
}

// flush emits a trailing line that was not newline terminated.
func (lw *lineWriter) flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if len(lw.partial) > 0 && lw.onLine != nil {
		lw.onLine(strings.TrimRight(string(lw.partial), "\r"))
	}
	lw.partial = nil
}

func (lw *lineWriter) String() string {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.out.String()
}
