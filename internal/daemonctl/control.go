package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ripforge/internal/api"
	"ripforge/internal/config"
	"ripforge/internal/deps"
	"ripforge/internal/ipc"
)

// DaemonBinary is the daemon executable the CLI launches.
const DaemonBinary = "ripforged"

const pidFileName = "ripforge.pid"

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	Signaled         bool
	ForcedKill       bool
	PID              int
}

// ResolveDaemonExecutable finds ripforged next to the running executable,
// then on PATH.
func ResolveDaemonExecutable() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), DaemonBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(DaemonBinary)
	if err != nil {
		return "", fmt.Errorf("locate %s: %w", DaemonBinary, err)
	}
	return path, nil
}

// LaunchArgs builds the daemon command line for opts.
func LaunchArgs(opts LaunchOptions) []string {
	var args []string
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	return args
}

// Launch starts a detached daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	proc := exec.Command(executablePath, LaunchArgs(opts)...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted connects to a running daemon, launching one when the socket
// is absent, and asks it to start processing.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if !IsDaemonUnavailable(err) {
			return StartResult{}, err
		}
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	if status, err := client.Status(); err == nil && status.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	message := strings.TrimSpace(resp.Message)
	if resp.Started {
		return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
	}
	if strings.EqualFold(message, "daemon already running") {
		return StartResult{State: StartStateAlreadyRunning, Launched: launched, Message: message}, nil
	}
	if message == "" {
		message = "Start request sent"
	}
	return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
}

// WaitForShutdown waits until the daemon socket stops answering.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		alive, _, err := ProcessInfo(socketPath)
		if err == nil && !alive {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("daemon did not stop: timeout waiting for shutdown")
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if IsDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return true, 0, err
	}
	return true, status.PID, nil
}

// ReadPID reads the daemon pid file in logDir.
func ReadPID(logDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(logDir, pidFileName))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file contents %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// StopAndTerminate stops the scheduler over IPC, sends SIGTERM to the daemon
// process and falls back to SIGKILL if it is still answering after
// gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if IsDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	var result StopResult
	var logDir string
	if status, err := client.Status(); err == nil {
		result.PID = status.PID
		if status.LockFilePath != "" {
			logDir = filepath.Dir(status.LockFilePath)
		}
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return result, err
	}
	result.StopAcknowledged = resp.Stopped

	if logDir == "" && cfg != nil {
		logDir = cfg.Paths.LogDir
	}
	if result.PID == 0 && logDir != "" {
		if pid, err := ReadPID(logDir); err == nil {
			result.PID = pid
		}
	}
	if result.PID <= 0 || result.PID == os.Getpid() {
		return result, nil
	}

	if err := syscall.Kill(result.PID, syscall.SIGTERM); err == nil {
		result.Signaled = true
	}
	if err := WaitForShutdown(socketPath, gracePeriod); err == nil {
		return result, nil
	}

	if err := syscall.Kill(result.PID, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", result.PID, err)
	}
	result.ForcedKill = true
	_ = os.Remove(socketPath)
	if logDir != "" {
		_ = os.Remove(filepath.Join(logDir, pidFileName))
	}
	return result, nil
}

// BuildStatusSnapshot asks the daemon for its status. When the daemon is
// offline it reports a stopped daemon with locally checked dependencies.
func BuildStatusSnapshot(_ context.Context, socketPath string, cfg *config.Config) (api.DaemonStatus, bool, error) {
	if cfg == nil {
		return api.DaemonStatus{}, false, errors.New("configuration not available")
	}
	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil {
			return resp.DaemonStatus, true, nil
		}
	}
	return api.DaemonStatus{
		LockFilePath: cfg.LockPath(),
		DiscMonitor:  cfg.Workflow.DiscMonitor,
		Dependencies: api.FromDependencies(deps.CheckBinaries(deps.Requirements(cfg))),
	}, false, nil
}

// IsDaemonUnavailable reports whether err means nothing is listening on the
// socket.
func IsDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
