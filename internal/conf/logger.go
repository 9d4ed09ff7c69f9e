// Package conf provides configuration management for hearbird.
package conf

import "github.com/hearbird/hearbird/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// The logger is fetched from the global logger each time so it follows the
// centralized logger set up after settings load.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}

// LoggerConfig translates the logging settings for logger.NewCentralLogger.
// Debug mode forces the debug level.
func (s *Settings) LoggerConfig() *logger.LoggingConfig {
	level := s.Logging.Level
	if s.Debug {
		level = string(logger.LogLevelDebug)
	}

	cfg := &logger.LoggingConfig{
		DefaultLevel: level,
		Console:      &logger.ConsoleOutput{Enabled: true, Level: level},
	}
	if s.Logging.File.Enabled {
		cfg.FileOutput = &logger.FileOutput{
			Enabled: true,
			Path:    s.Logging.File.Path,
			Level:   level,
		}
	}
	return cfg
}
