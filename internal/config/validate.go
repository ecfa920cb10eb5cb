package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.SourceDir == "" {
		return errors.New("paths.source_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if samePath(c.Paths.OutputDir, c.Paths.SourceDir) || isWithin(c.Paths.SourceDir, c.Paths.OutputDir) {
		return errors.New("paths.output_dir must not be inside paths.source_dir; encoded files would be re-queued")
	}
	return nil
}

func (c *Config) validateBackup() error {
	switch c.Backup.Mode {
	case BackupModeMakeMKV, BackupModeDirect:
	default:
		return fmt.Errorf("backup.mode: unsupported value %q (want %q or %q)", c.Backup.Mode, BackupModeMakeMKV, BackupModeDirect)
	}
	if c.Backup.MinTitleSeconds < 0 {
		return errors.New("backup.min_title_seconds must be >= 0")
	}
	if c.Backup.KeepFiles && samePath(c.Paths.BackupDir, c.Paths.SourceDir) {
		return errors.New("paths.backup_dir must differ from paths.source_dir when backup.keep_files is true")
	}
	if c.Backup.Mode == BackupModeDirect && c.Transcode.Backend == BackendDrapto {
		return errors.New("backup.mode \"direct\" requires transcode.backend \"handbrake\"")
	}
	return nil
}

func (c *Config) validateTranscode() error {
	switch c.Transcode.Backend {
	case BackendHandBrake, BackendDrapto:
	default:
		return fmt.Errorf("transcode.backend: unsupported value %q", c.Transcode.Backend)
	}
	switch c.Transcode.Container {
	case ContainerMKV, ContainerMP4:
	default:
		return fmt.Errorf("transcode.container: unsupported value %q (want mkv or mp4)", c.Transcode.Container)
	}
	if c.Transcode.Backend == BackendDrapto && c.Transcode.Container != ContainerMKV {
		return errors.New("transcode.container must be mkv when transcode.backend is drapto")
	}
	if preset := c.Transcode.HandBrakePresetFile; preset != "" && c.Transcode.Backend == BackendHandBrake {
		info, err := os.Stat(preset)
		if err != nil {
			return fmt.Errorf("transcode.handbrake_preset_file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("transcode.handbrake_preset_file %q is a directory", preset)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	switch c.Workflow.DiscMonitor {
	case DiscMonitorNetlink, DiscMonitorPoll, DiscMonitorOff:
	default:
		return fmt.Errorf("workflow.disc_monitor: unsupported value %q", c.Workflow.DiscMonitor)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// isWithin reports whether path lies strictly below root.
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
