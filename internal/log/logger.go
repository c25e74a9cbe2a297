// Package log configures the process-wide logrus logger.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/tcpseg/internal/config"
)

const (
	defaultPattern    = "%time [%level] %msg %field\n"
	defaultTimeLayout = "2006-01-02 15:04:05.000"
)

// Init configures logrus.StandardLogger from cfg. Logs go to stderr so that
// command output on stdout stays machine readable.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	formatter, err := newFormatter(cfg)
	if err != nil {
		return err
	}

	out := NewMultiWriter().Add(os.Stderr)
	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		out.Add(w)
	}

	l := logrus.StandardLogger()
	l.SetLevel(level)
	l.SetFormatter(formatter)
	l.SetOutput(out)
	return nil
}

// parseLevel accepts the four levels the configuration allows.
func parseLevel(levelStr string) (logrus.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown level: %s", levelStr)
	}
}

func newFormatter(cfg config.LogConfig) (logrus.Formatter, error) {
	switch strings.ToLower(cfg.Format) {
	case "json":
		return &logrus.JSONFormatter{TimestampFormat: defaultTimeLayout}, nil
	case "text":
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: defaultTimeLayout, DisableColors: true}, nil
	case "pattern":
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = defaultPattern
		}
		return &formatter{pattern: pattern, time: defaultTimeLayout}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json, text or pattern)", cfg.Format)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
