package daemon

import (
	"log/slog"
	"time"

	"ripforge/internal/config"
	"ripforge/internal/jobs"
	"ripforge/internal/logging"
	"ripforge/internal/watch"
)

// defaultWatcherBuilder wires the coordinator according to
// workflow.disc_monitor: netlink with a poll fallback, poll only, or no disc
// detection at all. A missing inotify instance disables directory watching
// but not disc detection.
func defaultWatcherBuilder(cfg *config.Config, logger *slog.Logger, notifier watch.DiscNotifier) WatcherBuilder {
	return func(q *jobs.Queue, f *jobs.Factory) (Watcher, error) {
		opts := watch.Options{
			Queue:    q,
			Factory:  f,
			Root:     cfg.Paths.SourceDir,
			Notifier: notifier,
			Logger:   logger,
		}

		dirs, err := watch.NewFSWatcher(logger)
		if err != nil {
			logging.WarnWithContext(logger, "directory watching unavailable", "fswatch_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new files in the source tree are only picked up on restart"),
				logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_instances"),
			)
		} else {
			opts.Dirs = dirs
		}

		interval := time.Duration(cfg.Workflow.DiscPollSeconds) * time.Second
		probe := watch.LsblkProbe{}
		switch cfg.Workflow.DiscMonitor {
		case config.DiscMonitorOff:
		case config.DiscMonitorPoll:
			opts.Drives = cfg.Backup.Drives
			opts.Probe = probe
			opts.Media = watch.NewPollSource(cfg.Backup.Drives, probe, interval, logger)
		default:
			opts.Drives = cfg.Backup.Drives
			opts.Probe = probe
			opts.Media = watch.NewNetlinkSource(cfg.Backup.Drives, logger)
			opts.Fallback = watch.NewPollSource(cfg.Backup.Drives, probe, interval, logger)
		}
		coord, err := watch.NewCoordinator(opts)
		if err != nil {
			if dirs != nil {
				_ = dirs.Close()
			}
			return nil, err
		}
		return coord, nil
	}
}
