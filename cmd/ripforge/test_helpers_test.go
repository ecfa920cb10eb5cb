package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ripforge/internal/config"
	"ripforge/internal/daemon"
	"ripforge/internal/deps"
	"ripforge/internal/ipc"
	"ripforge/internal/jobs"
	"ripforge/internal/logging"
	"ripforge/internal/media"
	"ripforge/internal/services"
)

type idleTranscoder struct{}

func (idleTranscoder) ScanFile(context.Context, string, services.Reporter) (*media.Title, error) {
	return nil, nil
}
func (idleTranscoder) ScanDisc(context.Context, string, services.Reporter) ([]media.Title, error) {
	return nil, nil
}
func (idleTranscoder) Encode(context.Context, jobs.EncodeRequest, services.Reporter) (bool, error) {
	return false, nil
}
func (idleTranscoder) StopRunning() {}

type idleWatcher struct{}

func (idleWatcher) Start(context.Context) error { return nil }
func (idleWatcher) Stop()                       {}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	baseDir    string
}

// writeTestConfig writes a config rooted at base and returns its path.
func writeTestConfig(t *testing.T, base string, extra string) string {
	t.Helper()
	home := filepath.Join(base, "home")
	t.Setenv("HOME", home)
	t.Setenv("RIPFORGE_NTFY_TOPIC", "")
	path := filepath.Join(home, ".config", "ripforge", "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := fmt.Sprintf(`[paths]
source_dir = %q
output_dir = %q
log_dir = %q
api_bind = ""

[backup]
mode = "direct"
drives = ["/dev/sr0"]

[workflow]
busy_settle_seconds = 0
disc_monitor = "off"
%s`,
		filepath.Join(base, "source"),
		filepath.Join(base, "encoded"),
		filepath.Join(base, "logs"),
		extra,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()
	configPath := writeTestConfig(t, base, "")
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger, daemon.Options{
		Transcoder:   idleTranscoder{},
		NewWatcher:   func(*jobs.Queue, *jobs.Factory) (daemon.Watcher, error) { return idleWatcher{}, nil },
		Dependencies: func() []deps.Status { return nil },
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
		baseDir:    base,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}
