package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMaxOutputBytes caps captured stdout and stderr per stream.
const DefaultMaxOutputBytes = 65536

// killWait is how long a terminated process group gets to exit before
// Wait gives up on collecting it.
const killWait = 5 * time.Second

// ExecRequest describes one shell execution inside the workspace.
type ExecRequest struct {
	Command        string
	Dir            string
	Env            map[string]string
	Timeout        time.Duration
	MaxOutputBytes int
}

// ExecResult carries the captured outcome of an execution.
type ExecResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
}

// cappedBuffer accepts all writes but retains at most max bytes.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len() >= b.max {
		b.truncated = true
		return len(p), nil
	}
	if room := b.max - b.buf.Len(); len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
	} else {
		b.buf.Write(p)
	}
	return len(p), nil
}

// Exec runs a command line through the shell with output caps and a
// hard timeout. The child gets its own process group so cancellation
// reaches grandchildren too. On timeout the partial output is
// returned alongside ErrExecutionTimeout.
func Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	if req.Command == "" {
		return ExecResult{}, ErrEmptyCommand
	}
	maxOut := req.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = DefaultMaxOutputBytes
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", req.Command)
	cmd.Dir = req.Dir
	cmd.Env = buildEnvironment(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid targets the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killWait

	stdout := &cappedBuffer{max: maxOut}
	stderr := &cappedBuffer{max: maxOut}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := ExecResult{
		Stdout:    stdout.buf.String(),
		Stderr:    stderr.buf.String(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  duration,
	}

	if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		result.ExitCode = -1
		result.TimedOut = true
		log.Debug().
			Str("command", req.Command).
			Dur("duration", duration).
			Msg("Command killed on timeout")
		return result, fmt.Errorf("%w after %s", ErrExecutionTimeout, req.Timeout)
	}
	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			return result, fmt.Errorf("start command: %w", err)
		}
	}

	log.Debug().
		Str("command", req.Command).
		Int("exit_code", result.ExitCode).
		Bool("truncated", result.Truncated).
		Dur("duration", duration).
		Msg("Command executed")
	return result, nil
}

func buildEnvironment(env map[string]string) []string {
	out := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=/tmp",
		"LANG=C.UTF-8",
	}
	for key, value := range env {
		out = append(out, fmt.Sprintf("%s=%s", key, value))
	}
	return out
}
