package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeBackup()
	c.normalizeTools()
	c.normalizeWorkflow()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.SourceDir, err = expandPath(strings.TrimSpace(c.Paths.SourceDir)); err != nil {
		return fmt.Errorf("paths.source_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.BackupDir) == "" {
		c.Paths.BackupDir = c.Paths.SourceDir
	}
	if c.Paths.BackupDir, err = expandPath(strings.TrimSpace(c.Paths.BackupDir)); err != nil {
		return fmt.Errorf("paths.backup_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.LogDir, socketFileName)
	}
	if c.Paths.SocketPath, err = expandPath(strings.TrimSpace(c.Paths.SocketPath)); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	origins := c.Paths.APIOrigins[:0]
	for _, origin := range c.Paths.APIOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			origins = append(origins, origin)
		}
	}
	c.Paths.APIOrigins = origins
	return nil
}

func (c *Config) normalizeBackup() {
	c.Backup.Mode = strings.ToLower(strings.TrimSpace(c.Backup.Mode))
	if c.Backup.Mode == "" {
		c.Backup.Mode = BackupModeMakeMKV
	}
	drives := make([]string, 0, len(c.Backup.Drives))
	seen := make(map[string]struct{}, len(c.Backup.Drives))
	for _, drive := range c.Backup.Drives {
		drive = strings.TrimSpace(drive)
		if drive == "" {
			continue
		}
		if _, ok := seen[drive]; ok {
			continue
		}
		seen[drive] = struct{}{}
		drives = append(drives, drive)
	}
	c.Backup.Drives = drives
}

func (c *Config) normalizeTools() {
	c.MakeMKV.Binary = strings.TrimSpace(c.MakeMKV.Binary)
	if c.MakeMKV.Binary == "" {
		c.MakeMKV.Binary = defaultMakeMKVBinary
	}
	c.Transcode.Backend = strings.ToLower(strings.TrimSpace(c.Transcode.Backend))
	if c.Transcode.Backend == "" {
		c.Transcode.Backend = BackendHandBrake
	}
	c.Transcode.Container = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Transcode.Container)), ".")
	if c.Transcode.Container == "" {
		c.Transcode.Container = ContainerMKV
	}
	c.Transcode.HandBrakeBinary = strings.TrimSpace(c.Transcode.HandBrakeBinary)
	if c.Transcode.HandBrakeBinary == "" {
		c.Transcode.HandBrakeBinary = defaultHandBrakeBinary
	}
	c.Transcode.HandBrakePreset = strings.TrimSpace(c.Transcode.HandBrakePreset)
	if preset := strings.TrimSpace(c.Transcode.HandBrakePresetFile); preset != "" {
		if expanded, err := expandPath(preset); err == nil {
			c.Transcode.HandBrakePresetFile = expanded
		}
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PollIntervalMillis <= 0 {
		c.Workflow.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Workflow.BusySettleSeconds < 0 {
		c.Workflow.BusySettleSeconds = 0
	}
	c.Workflow.DiscMonitor = strings.ToLower(strings.TrimSpace(c.Workflow.DiscMonitor))
	if c.Workflow.DiscMonitor == "" {
		c.Workflow.DiscMonitor = DiscMonitorNetlink
	}
	if c.Workflow.DiscPollSeconds <= 0 {
		c.Workflow.DiscPollSeconds = defaultDiscPollSeconds
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv(ntfyTopicEnv); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
