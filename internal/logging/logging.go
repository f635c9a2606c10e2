// Package logging builds the zap loggers used by the trainkit commands.
package logging

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoding and level of a logger.
type Config struct {
	// JSON switches to the production JSON encoder.
	JSON bool

	// Level is one of debug, info, warn or error. Empty means info.
	Level string
}

// ConfigFromEnv reads TRAINKIT_LOG_TYPE and TRAINKIT_LOG.
func ConfigFromEnv() Config {
	return Config{
		JSON:  strings.ToLower(os.Getenv("TRAINKIT_LOG_TYPE")) == "json",
		Level: os.Getenv("TRAINKIT_LOG"),
	}
}

// ParseLevel maps a level name onto a zap level.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
	case "1", "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// New returns a named logger writing to stderr. Levels are colored when
// stderr is a terminal.
func New(name string, cfg Config) (*zap.SugaredLogger, error) {
	var config zap.Config
	if cfg.JSON {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}
	config.Level.SetLevel(ParseLevel(cfg.Level))

	l, err := config.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar().Named(name), nil
}
