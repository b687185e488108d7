package config

const (
	defaultControlHost     = "localhost"
	defaultControlPort     = 9527
	defaultStopGraceMillis = 1000
	defaultWorkDir         = "~/.local/share/logtransfer"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultLogFileName     = "daemon.log"
	defaultLogMaxSizeMB    = 50
	defaultLogMaxBackups   = 5
	defaultLogMaxAgeDays   = 30
	defaultIdleSeconds     = 86400
	defaultEncoding        = "utf-8"
	defaultConfigFileName  = "config.toml"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Control: Control{
			Host:            defaultControlHost,
			Port:            defaultControlPort,
			StopGraceMillis: defaultStopGraceMillis,
		},
		Paths: Paths{
			WorkDir: defaultWorkDir,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
		Tracker: Tracker{
			IdleSeconds: defaultIdleSeconds,
		},
	}
}
