// Package logging builds the structured loggers shared by the simulator
// packages.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Config controls basic logger behaviour.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json or logfmt
	Prefix string `yaml:"prefix"`
}

// New constructs a logger writing to w (stderr when nil).
func New(cfg Config, w io.Writer) (*log.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level := log.InfoLevel
	if cfg.Level != "" {
		l, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
		level = l
	}

	formatter := log.TextFormatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("log format %q not supported", cfg.Format)
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          cfg.Prefix,
		ReportTimestamp: true,
		Formatter:       formatter,
	}), nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel + 1})
}
