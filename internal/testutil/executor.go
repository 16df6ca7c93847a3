// Package testutil provides fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"droidium/internal/executor"
)

// FakeExecutor records every command and answers with Handler. A nil
// Handler succeeds with empty output.
type FakeExecutor struct {
	mu      sync.Mutex
	calls   []executor.Command
	times   []time.Time
	Handler func(cmd executor.Command) (string, error)
}

// Run implements executor.Executor.
func (f *FakeExecutor) Run(ctx context.Context, cmd executor.Command) (*executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.times = append(f.times, time.Now())
	handler := f.Handler
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out string
		err error
	)
	if handler != nil {
		out, err = handler(cmd)
	}

	if cmd.OnLine != nil && out != "" {
		for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
			cmd.OnLine(line)
		}
	}

	res := &executor.Result{Output: out}
	var exitErr *executor.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode
	}
	return res, err
}

// Calls returns a copy of the recorded commands.
func (f *FakeExecutor) Calls() []executor.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Command(nil), f.calls...)
}

// Times returns when each command was issued.
func (f *FakeExecutor) Times() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.times...)
}

// Lines returns every recorded command rendered as a command line.
func (f *FakeExecutor) Lines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// CallsTo returns the recorded commands whose binary is name.
func (f *FakeExecutor) CallsTo(name string) []executor.Command {
	var out []executor.Command
	for _, c := range f.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Exit builds the error a real executor returns for a non-zero exit.
func Exit(cmd executor.Command, code int, output string) error {
	return &executor.ExitError{Command: cmd.String(), ExitCode: code, Output: output}
}

// ArgValue returns the argument following flag in args, or "".
func ArgValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
