package slogutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"dartas/internal/config"
)

// Options selects where and how a Build logger writes.
type Options struct {
	// Stderr receives console output; nil means os.Stderr
	Stderr io.Writer
	// Level overrides Logging.Level when non-nil, e.g. from -v or --quiet
	Level *slog.Level
	// FileLevel sets the file's level; nil uses the configured level
	FileLevel *slog.Level
}

// Build returns a logger for the logging section of the config. Console
// output uses Logging.Format. When Logging.File is set, records also go to
// that file in the line format, rotated at MaxSizeMB. The returned closer
// must be closed on exit; it is a no-op without a file.
func Build(cfg config.LoggingConfig, opts Options) (*slog.Logger, io.Closer, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	level := LevelFromString(cfg.Level)
	if opts.Level != nil {
		level = *opts.Level
	}

	console, err := consoleHandler(cfg.Format, stderr, level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.File == "" {
		return slog.New(console), nopCloser{}, nil
	}

	rf, err := OpenRotatingFile(cfg.File, int64(cfg.MaxSizeMB)*bytesPerMB, cfg.MaxBackups)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
	}

	fileLevel := LevelFromString(cfg.Level)
	if opts.FileLevel != nil {
		fileLevel = *opts.FileLevel
	}
	file := NewLineHandler(rf, &slog.HandlerOptions{Level: fileLevel})

	return slog.New(NewTeeHandler(console, file)), rf, nil
}

func consoleHandler(format string, w io.Writer, level slog.Level) (slog.Handler, error) {
	switch format {
	case "", "human":
		return NewLineHandler(w, &slog.HandlerOptions{Level: level}), nil
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	default:
		return nil, &config.ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", format)}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
