package config

const (
	defaultConfigPath         = "~/.config/ripforge/config.toml"
	defaultSourceDir          = "~/ripforge/source"
	defaultOutputDir          = "~/ripforge/encoded"
	defaultLogDir             = "~/.local/share/ripforge/logs"
	defaultAPIBind            = "127.0.0.1:7488"
	defaultDrive              = "/dev/sr0"
	defaultMinTitleSeconds    = 600
	defaultMakeMKVBinary      = "makemkvcon"
	defaultMakeMKVInfoTimeout = 300
	defaultHandBrakeBinary    = "HandBrakeCLI"
	defaultPollIntervalMillis = 200
	defaultBusySettleSeconds  = 5
	defaultDiscPollSeconds    = 5
	defaultNtfyRequestTimeout = 10
	defaultHistoryRetention   = 90
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	socketFileName            = "ripforge.sock"
	ntfyTopicEnv              = "RIPFORGE_NTFY_TOPIC"
)

// Backup modes.
const (
	BackupModeMakeMKV = "makemkv"
	BackupModeDirect  = "direct"
)

// Transcoder backends.
const (
	BackendHandBrake = "handbrake"
	BackendDrapto    = "drapto"
)

// Output containers.
const (
	ContainerMKV = "mkv"
	ContainerMP4 = "mp4"
)

// Disc monitor modes.
const (
	DiscMonitorNetlink = "netlink"
	DiscMonitorPoll    = "poll"
	DiscMonitorOff     = "off"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SourceDir: defaultSourceDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Backup: Backup{
			Mode:            BackupModeMakeMKV,
			MinTitleSeconds: defaultMinTitleSeconds,
			Drives:          []string{defaultDrive},
		},
		MakeMKV: MakeMKV{
			Binary:      defaultMakeMKVBinary,
			InfoTimeout: defaultMakeMKVInfoTimeout,
		},
		Transcode: Transcode{
			Backend:         BackendHandBrake,
			Container:       ContainerMKV,
			HandBrakeBinary: defaultHandBrakeBinary,
		},
		Workflow: Workflow{
			PollIntervalMillis: defaultPollIntervalMillis,
			BusySettleSeconds:  defaultBusySettleSeconds,
			DiscMonitor:        DiscMonitorNetlink,
			DiscPollSeconds:    defaultDiscPollSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			DiscDetected:   true,
			JobCompleted:   true,
			JobFailed:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetention,
		},
	}
}
