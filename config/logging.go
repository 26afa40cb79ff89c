package config

import "go.uber.org/zap/zapcore"

// LogEncoder defines a log encoder kind.
type LogEncoder = string

const (
	defaultLoggingLevel = zapcore.InfoLevel
	// ConsoleLogEncoder represents logging with plain text.
	ConsoleLogEncoder LogEncoder = "console"
	// JSONLogEncoder represents logging with JSON.
	JSONLogEncoder LogEncoder = "json"
)

// LoggerConfig holds the logging level for each module.
type LoggerConfig struct {
	Encoder              LogEncoder `mapstructure:"log-encoder"`
	AppLoggerLevel       string     `mapstructure:"app"`
	SyncLoggerLevel      string     `mapstructure:"sync"`
	TransportLoggerLevel string     `mapstructure:"transport"`
	StoreLoggerLevel     string     `mapstructure:"store"`
	OriginLoggerLevel    string     `mapstructure:"origin"`
}

func defaultLoggingConfig() LoggerConfig {
	return LoggerConfig{
		Encoder:              ConsoleLogEncoder,
		AppLoggerLevel:       defaultLoggingLevel.String(),
		SyncLoggerLevel:      defaultLoggingLevel.String(),
		TransportLoggerLevel: zapcore.WarnLevel.String(),
		StoreLoggerLevel:     defaultLoggingLevel.String(),
		OriginLoggerLevel:    defaultLoggingLevel.String(),
	}
}
