package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// CommandRunner executes an external binary, forwarding every stdout and
// stderr line to onLine.
type CommandRunner interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// ExecRunner runs commands with os/exec and remembers the active process so
// Stop can terminate it.
type ExecRunner struct {
	mu      sync.Mutex
	current *exec.Cmd
}

// Run starts binary and blocks until it exits. Lines from stdout and stderr
// are delivered from separate goroutines; onLine must be safe for that.
func (r *ExecRunner) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", binary, err)
	}

	r.mu.Lock()
	r.current = cmd
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.current == cmd {
			r.current = nil
		}
		r.mu.Unlock()
	}()

	var (
		wg      sync.WaitGroup
		once    sync.Once
		scanErr error
	)
	scan := func(rd io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(rd)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", binary, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with code %d: %w", binary, exitErr.ExitCode(), err)
		}
		return fmt.Errorf("wait %s: %w", binary, err)
	}
	return nil
}

// Stop kills the active process, if any. It reports whether a process was
// signalled.
func (r *ExecRunner) Stop() bool {
	r.mu.Lock()
	cmd := r.current
	r.current = nil
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	return cmd.Process.Kill() == nil
}
