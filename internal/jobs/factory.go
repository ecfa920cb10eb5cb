package jobs

import (
	"context"
	"log/slog"
	"time"

	"ripforge/internal/config"
	"ripforge/internal/logging"
	"ripforge/internal/media"
)

// Settings is the configuration jobs need at execution time.
type Settings struct {
	// BackupDir receives MakeMKV output.
	BackupDir string
	// SourceRoot is the watched tree; encoded sources inside it are removed.
	SourceRoot string
	OutputDir  string
	// Extension is the forced output container extension (".mkv"/".mp4").
	Extension   string
	BackupAll   bool
	MinDuration time.Duration
	KeepFiles   bool
	// Direct encodes disc titles straight from the drive instead of backing
	// them up first.
	Direct bool
	// BusySettle is how long a file must go unmodified before it is
	// considered fully written.
	BusySettle time.Duration
}

// SettingsFromConfig extracts job settings from a loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		BackupDir:   cfg.Paths.BackupDir,
		SourceRoot:  cfg.Paths.SourceDir,
		OutputDir:   cfg.Paths.OutputDir,
		Extension:   cfg.ContainerExtension(),
		BackupAll:   cfg.Backup.BackupAll,
		MinDuration: cfg.MinTitleDuration(),
		KeepFiles:   cfg.Backup.KeepFiles,
		Direct:      cfg.Backup.Mode == config.BackupModeDirect,
		BusySettle:  cfg.BusySettle(),
	}
}

// Factory builds jobs bound to one set of collaborators and settings.
// Jobs use the factory that built them to construct their children.
type Factory struct {
	settings   Settings
	ripper     RipperService
	transcoder TranscoderService
	busy       BusyProbe
	logger     *slog.Logger
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// WithBusyProbe replaces the default writer detection used by encode jobs.
func WithBusyProbe(probe BusyProbe) FactoryOption {
	return func(f *Factory) {
		if probe != nil {
			f.busy = probe
		}
	}
}

// NewFactory constructs a job factory.
func NewFactory(settings Settings, ripper RipperService, transcoder TranscoderService, logger *slog.Logger, opts ...FactoryOption) *Factory {
	if settings.Extension == "" {
		settings.Extension = ".mkv"
	}
	f := &Factory{
		settings:   settings,
		ripper:     ripper,
		transcoder: transcoder,
		busy:       FileBusyProbe{Settle: settings.BusySettle},
		logger:     logging.NewComponentLogger(logger, "jobs"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Settings returns the settings jobs are built with.
func (f *Factory) Settings() Settings {
	return f.settings
}

// ScanDisc builds the job that scans drive and fans out per-title work.
func (f *Factory) ScanDisc(drive string) *ScanAndBackupJob {
	return &ScanAndBackupJob{
		jobCore: newJobCore(KindScanAndBackup, "Scan Disk "+drive, drive),
		factory: f,
		drive:   drive,
	}
}

// BackupTitle builds the job that extracts one title to title.Path.
func (f *Factory) BackupTitle(title media.Title) *BackupTitleJob {
	return &BackupTitleJob{
		jobCore: newJobCore(KindBackupTitle, "Backup Movie "+title.FileName, title.Path),
		factory: f,
		title:   title,
	}
}

// EncodeFile builds the job that encodes the video file at path.
// keepSource preserves the input when it lies outside the source root.
func (f *Factory) EncodeFile(path string, keepSource bool) *EncodeJob {
	return newFileEncodeJob(f, path, keepSource)
}

// EncodeDiscTitle builds the job that encodes one title straight off drive.
func (f *Factory) EncodeDiscTitle(drive string, title media.Title, movie string, seq int) *EncodeJob {
	return newDiscEncodeJob(f, drive, title, movie, seq)
}

func (f *Factory) jobLogger(ctx context.Context, job Job) *slog.Logger {
	return logging.WithContext(ctx, f.logger).With(
		logging.String(logging.FieldJobName, job.Name()),
		logging.String(logging.FieldJobKind, string(job.Kind())),
	)
}
