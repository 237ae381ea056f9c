package app

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// ParseLogLevel parses a level name. Unknown names map to Info.
func ParseLogLevel(s string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning":
		return hclog.Warn
	case "":
		return hclog.Info
	}
	level := hclog.LevelFromString(s)
	if level == hclog.NoLevel {
		return hclog.Info
	}
	return level
}

// LoggerConfig configures the logger.
type LoggerConfig struct {
	// Level is the minimum log level to output.
	Level hclog.Level
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Name is the root logger name. Components log under sub-loggers.
	Name string
	// JSON switches to JSON formatted lines.
	JSON bool
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  hclog.Info,
		Output: os.Stderr,
		Name:   "exthost",
	}
}

// NewLogger creates a new logger with the given configuration. The level
// can be changed later with SetLevel.
func NewLogger(cfg LoggerConfig) hclog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Level == hclog.NoLevel {
		cfg.Level = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       cfg.Name,
		Level:      cfg.Level,
		Output:     cfg.Output,
		JSONFormat: cfg.JSON,
	})
}
