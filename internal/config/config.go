package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, socket, and bind address configuration.
type Paths struct {
	// SourceDir is the watched source tree. Encode cleanup never climbs above it.
	SourceDir  string `toml:"source_dir"`
	BackupDir  string `toml:"backup_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
	APIBind    string `toml:"api_bind"`
	// APIOrigins lists browser origins allowed to call the API. Empty
	// restricts the API to same-origin and non-browser clients.
	APIOrigins []string `toml:"api_origins"`
}

// Backup controls how inserted discs are decomposed into jobs.
type Backup struct {
	Mode            string   `toml:"mode"`
	BackupAll       bool     `toml:"backup_all"`
	MinTitleSeconds int      `toml:"min_title_seconds"`
	KeepFiles       bool     `toml:"keep_files"`
	Drives          []string `toml:"drives"`
}

// MakeMKV contains configuration for disc ripping.
type MakeMKV struct {
	Binary      string `toml:"binary"`
	InfoTimeout int    `toml:"info_timeout"`
	RipTimeout  int    `toml:"rip_timeout"`
}

// Transcode selects and configures the encoder backend.
type Transcode struct {
	Backend             string `toml:"backend"`
	Container           string `toml:"container"`
	HandBrakeBinary     string `toml:"handbrake_binary"`
	HandBrakePresetFile string `toml:"handbrake_preset_file"`
	HandBrakePreset     string `toml:"handbrake_preset"`
}

// Workflow contains scheduler and monitor timing.
type Workflow struct {
	PollIntervalMillis int    `toml:"poll_interval_ms"`
	BusySettleSeconds  int    `toml:"busy_settle_seconds"`
	DiscMonitor        string `toml:"disc_monitor"`
	DiscPollSeconds    int    `toml:"disc_poll_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	DiscDetected   bool   `toml:"disc_detected"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// History controls the on-disk archive of retired jobs.
type History struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// Config encapsulates all configuration values for ripforge.
//
// Configuration sections by subsystem:
//   - Paths: source tree, backup/output directories, socket and API bind
//   - Backup: disc decomposition policy and monitored drives
//   - MakeMKV: ripper binary and timeouts
//   - Transcode: encoder backend, container, HandBrake preset
//   - Workflow: scheduler polling and disc monitor mode
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
//   - History: retired job archive
type Config struct {
	Paths         Paths         `toml:"paths"`
	Backup        Backup        `toml:"backup"`
	MakeMKV       MakeMKV       `toml:"makemkv"`
	Transcode     Transcode     `toml:"transcode"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	History       History       `toml:"history"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strings.TrimSpace(strict.String()))
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("ripforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.SourceDir, c.Paths.BackupDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PollInterval is the scheduler's idle poll period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalMillis) * time.Millisecond
}

// BusySettle is how long a file must go unmodified before it is considered
// fully written.
func (c *Config) BusySettle() time.Duration {
	return time.Duration(c.Workflow.BusySettleSeconds) * time.Second
}

// MinTitleDuration is the shortest title kept when backing up every title.
func (c *Config) MinTitleDuration() time.Duration {
	return time.Duration(c.Backup.MinTitleSeconds) * time.Second
}

// ContainerExtension returns the output extension, including the dot.
func (c *Config) ContainerExtension() string {
	if c.Transcode.Container == ContainerMP4 {
		return ".mp4"
	}
	return ".mkv"
}

// HistoryPath is the SQLite archive location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.LogDir, "history.db")
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "ripforge.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
