package config

const (
	defaultStateDir          = "~/.local/share/candy"
	defaultLogDir            = "~/.local/share/candy/logs"
	defaultEndpoint          = "ws://127.0.0.1:9000/gate"
	defaultDialTimeout       = 5
	defaultCallTimeout       = 5
	defaultInboxSize         = 64
	defaultWatcherBuffer     = 256
	defaultJournalFile       = "journal.db"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30
	defaultConfigPath        = "~/.config/candy/config.toml"
	defaultProjectConfigName = "candy.toml"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Gate: Gate{
			Endpoint:    defaultEndpoint,
			DialTimeout: defaultDialTimeout,
			CallTimeout: defaultCallTimeout,
			InboxSize:   defaultInboxSize,
		},
		Events: Events{
			WatcherBuffer: defaultWatcherBuffer,
		},
		Journal: Journal{
			Enabled: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
