package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"ripforge/internal/config"
	"ripforge/internal/daemon"
	"ripforge/internal/deps"
	"ripforge/internal/history"
	"ripforge/internal/ipc"
	"ripforge/internal/jobs"
	"ripforge/internal/logging"
	"ripforge/internal/notifications"
	"ripforge/internal/services/drapto"
	"ripforge/internal/services/handbrake"
	"ripforge/internal/services/makemkv"
)

const pidFileName = "ripforge.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// NoStart keeps the scheduler idle until a client sends Start.
	NoStart bool
}

// Run starts the ripforge daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, logging.LogFileName)},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	logDependencySnapshot(logger, statuses)

	pidPath := filepath.Join(cfg.Paths.LogDir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ripper, transcoder, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.HistoryPath(),
			history.WithRetention(time.Duration(cfg.History.RetentionDays)*24*time.Hour),
			history.WithLogger(logger),
		)
		if err != nil {
			logging.ErrorWithContext(logger, "open history archive", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove "+cfg.HistoryPath()+" or disable [history]"),
			)
			return err
		}
	}

	d, err := daemon.New(cfg, logger, daemon.Options{
		Ripper:        ripper,
		Transcoder:    transcoder,
		History:       store,
		Notifications: notifications.NewService(cfg),
		Dependencies:  func() []deps.Status { return statuses },
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	// The lock is taken before the API port and socket are claimed so a
	// second instance cannot replace a live daemon's socket.
	if !opts.NoStart {
		if err := d.Start(signalCtx); err != nil {
			logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that no other instance holds "+cfg.LockPath()),
			)
			return fmt.Errorf("start daemon: %w", err)
		}
	}

	if err := d.ServeAPI(signalCtx); err != nil {
		logging.WarnWithContext(logger, "api server unavailable", "api_server_failed",
			logging.Error(err),
			logging.String("bind", cfg.Paths.APIBind),
			logging.String(logging.FieldImpact, "progress streaming and HTTP control are disabled"),
			logging.String(logging.FieldErrorHint, "change paths.api_bind or free the port"),
		)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	<-signalCtx.Done()
	logger.Info("ripforge daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// buildServices selects the ripper and transcoder for the configured backup
// mode and backend. Direct backup mode needs no ripper.
func buildServices(cfg *config.Config, logger *slog.Logger) (jobs.RipperService, jobs.TranscoderService, error) {
	var ripper jobs.RipperService
	if cfg.Backup.Mode == config.BackupModeMakeMKV {
		client, err := makemkv.New(cfg.MakeMKV, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create makemkv client: %w", err)
		}
		ripper = client
	}

	switch cfg.Transcode.Backend {
	case config.BackendDrapto:
		return ripper, drapto.NewLibrary(logger), nil
	case config.BackendHandBrake, "":
		client, err := handbrake.New(cfg.Transcode, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create handbrake client: %w", err)
		}
		return ripper, client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transcode backend %q", cfg.Transcode.Backend)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, statuses []deps.Status) {
	attrs := []any{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, st := range statuses {
		attrs = append(attrs, logging.Bool(st.Name+"_available", st.Available))
		if st.Available {
			attrs = append(attrs, logging.String(st.Name+"_binary", st.Command))
		}
	}
	logger.Info("dependency snapshot", attrs...)
	for _, st := range deps.Missing(statuses) {
		logging.WarnWithContext(logger, "required dependency missing", "dependency_missing",
			logging.String("dependency", st.Name),
			logging.String("detail", st.Detail),
			logging.String(logging.FieldImpact, "jobs that need it will fail"),
			logging.String(logging.FieldErrorHint, "install "+st.Command+" or fix its path in the config"),
		)
	}
}
