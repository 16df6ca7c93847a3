package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"
)

// LocalExecutor runs tools directly on the host.
type LocalExecutor struct {
	logger *log.Logger
}

// NewLocalExecutor creates a local command executor.
func NewLocalExecutor(logger *log.Logger) *LocalExecutor {
	if logger == nil {
		logger = log.New(os.Stdout, "[local-exec] ", log.LstdFlags|log.Lmsgprefix)
	}
	return &LocalExecutor{logger: logger}
}

// Run executes the command on the host, streaming combined output.
func (le *LocalExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("empty command")
	}
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	le.logger.Printf("exec: %s", cmd)

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	if c.Env == nil {
		c.Env = ToolEnvironment()
	}

	// Same writer for both streams: exec serializes the writes.
	lw := &lineWriter{onLine: cmd.OnLine}
	c.Stdout = lw
	c.Stderr = lw

	start := time.Now()
	err := c.Run()
	lw.flush()

	result := &Result{
		Output:   lw.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("run %s: %w", cmd, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{
			Command:  cmd.String(),
			ExitCode: result.ExitCode,
			Output:   result.Output,
		}
	}

	result.ExitCode = -1
	return result, fmt.Errorf("run %s: %w", cmd, err)
}
