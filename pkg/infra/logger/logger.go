package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const EnvLogLevel = "LOG_LEVEL"

// Options selects where guard logs go. A zero value writes JSON to stderr at
// the level named by LOG_LEVEL (info when unset).
type Options struct {
	Level string
	// File, when set, receives log lines through an AsyncFileWriter in
	// addition to Output.
	File   string
	Output io.Writer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// NewLogger builds the logger and a closer that flushes and closes the log
// file. The closer is never nil.
func NewLogger(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})

	level := opts.Level
	if level == "" {
		level = os.Getenv(EnvLogLevel)
	}
	logger.SetLevel(ParseLevel(level))

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	if opts.File == "" {
		return logger, closerFunc(func() error { return nil }), nil
	}

	logFile := filepath.Clean(opts.File)
	if err := os.MkdirAll(filepath.Dir(logFile), 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	writer, err := NewAsyncFileWriter(logFile, 32*1024)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	hook := NewWriterHook(writer)
	logger.AddHook(hook)

	return logger, hook, nil
}

// ParseLevel maps a LOG_LEVEL value to a logrus level, falling back to info.
func ParseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// Discard is the logger used when a caller does not provide one.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.InfoLevel)
	return logger
}
