package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
)

// Default monitor settings: a device-side condition gets five checks about a
// second apart.
const (
	DefaultMonitorAttempts = 5
	DefaultMonitorDelay    = time.Second
)

// TimeoutError reports a monitored condition that was never observed.
type TimeoutError struct {
	Command  string
	Attempts int
	Last     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("condition not met after %d attempts of %s", e.Attempts, e.Command)
	if e.Last != nil {
		msg += fmt.Sprintf(" (last error: %v)", e.Last)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error {
	return e.Last
}

var errNotObserved = errors.New("token not observed")

// Monitor is a bounded-retry primitive: it issues a command, inspects its
// streamed output with a predicate and re-issues it until the predicate
// matches or the attempts are used up.
type Monitor struct {
	Executor Executor
	Attempts int
	Delay    time.Duration
}

// NewMonitor returns a monitor with the default attempts and delay.
func NewMonitor(exec Executor) *Monitor {
	return &Monitor{
		Executor: exec,
		Attempts: DefaultMonitorAttempts,
		Delay:    DefaultMonitorDelay,
	}
}

// WaitFor runs cmd until a line of its output satisfies pred and returns
// that line. A command that exits non-zero counts as a failed attempt.
func (m *Monitor) WaitFor(ctx context.Context, cmd Command, pred func(line string) bool) (string, error) {
	attempts := m.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		issued  int
		matched string
		lastErr error
	)

	action := func(uint) error {
		issued++
		found := false
		c := cmd
		c.OnLine = func(line string) {
			if !found && pred(line) {
				found = true
				matched = line
			}
			if cmd.OnLine != nil {
				cmd.OnLine(line)
			}
		}
		_, err := m.Executor.Run(ctx, c)
		if found {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		return errNotObserved
	}

	limit := strategy.Strategy(func(uint) bool {
		return issued < attempts && ctx.Err() == nil
	})
	wait := strategy.Strategy(func(uint) bool {
		if issued == 0 || m.Delay <= 0 {
			return true
		}
		t := time.NewTimer(m.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
			return true
		}
	})

	err := retry.Retry(action, limit, wait)
	if err == nil && issued > 0 {
		return matched, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("wait for %s: %w", cmd, ctxErr)
	}
	return "", &TimeoutError{Command: cmd.String(), Attempts: issued, Last: lastErr}
}
