package executor_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"droidium/internal/executor"
	"droidium/internal/testutil"
)

func TestMonitorNeverObservedIssuesExactlyAttempts(t *testing.T) {
	fake := &testutil.FakeExecutor{
		Handler: func(executor.Command) (string, error) {
			return "USER PID NAME\nroot 1 init\n", nil
		},
	}
	m := &executor.Monitor{Executor: fake, Attempts: 5, Delay: 10 * time.Millisecond}

	cmd := executor.Command{Name: "adb", Args: []string{"-s", "emulator-5554", "shell", "ps"}}
	_, err := m.WaitFor(context.Background(), cmd, func(l string) bool {
		return strings.Contains(l, "io.selendroid")
	})

	var timeout *executor.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if timeout.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", timeout.Attempts)
	}
	if !strings.Contains(timeout.Error(), "adb -s emulator-5554 shell ps") {
		t.Errorf("error should name the command: %v", timeout)
	}

	calls := fake.Calls()
	if len(calls) != 5 {
		t.Fatalf("issued %d commands, want 5", len(calls))
	}

	times := fake.Times()
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < 10*time.Millisecond {
			t.Errorf("gap between attempt %d and %d = %v, want >= 10ms", i, i+1, gap)
		}
	}
}

func TestMonitorStopsWhenObserved(t *testing.T) {
	n := 0
	fake := &testutil.FakeExecutor{
		Handler: func(executor.Command) (string, error) {
			n++
			if n < 3 {
				return "0\n", nil
			}
			return "1\n", nil
		},
	}
	m := &executor.Monitor{Executor: fake, Attempts: 5, Delay: time.Millisecond}

	line, err := m.WaitFor(context.Background(), executor.Command{Name: "getprop"}, func(l string) bool {
		return strings.TrimSpace(l) == "1"
	})
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if line != "1" {
		t.Errorf("matched line = %q, want 1", line)
	}
	if got := len(fake.Calls()); got != 3 {
		t.Errorf("issued %d commands, want 3", got)
	}
}

func TestMonitorCountsFailedCommands(t *testing.T) {
	fake := &testutil.FakeExecutor{}
	fake.Handler = func(cmd executor.Command) (string, error) {
		return "device offline", testutil.Exit(cmd, 1, "device offline")
	}
	m := &executor.Monitor{Executor: fake, Attempts: 2}

	_, err := m.WaitFor(context.Background(), executor.Command{Name: "adb"}, func(string) bool { return false })

	var timeout *executor.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	var exitErr *executor.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("timeout should wrap the last exit error: %v", err)
	}
	if len(fake.Calls()) != 2 {
		t.Errorf("issued %d commands, want 2", len(fake.Calls()))
	}
}

func TestMonitorCancelled(t *testing.T) {
	fake := &testutil.FakeExecutor{}
	m := &executor.Monitor{Executor: fake, Attempts: 5, Delay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := m.WaitFor(ctx, executor.Command{Name: "adb"}, func(string) bool { return false })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fake.Calls()) != 1 {
		t.Errorf("issued %d commands, want 1", len(fake.Calls()))
	}
}

func TestNewMonitorDefaults(t *testing.T) {
	m := executor.NewMonitor(&testutil.FakeExecutor{})
	if m.Attempts != executor.DefaultMonitorAttempts || m.Delay != executor.DefaultMonitorDelay {
		t.Errorf("defaults = %d/%v", m.Attempts, m.Delay)
	}
}
