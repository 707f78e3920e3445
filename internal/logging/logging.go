// Package logging configures the process-wide charmbracelet logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
)

// Options controls where log output goes.
type Options struct {
	// Debug lowers the level to debug and timestamps every line.
	Debug bool

	// File receives log output instead of stderr. Required when a
	// full-screen UI owns the terminal; empty means stderr.
	File string

	// Quiet discards output entirely when no File is set.
	Quiet bool
}

// Initialize sets up the default logger and returns a closer for any opened
// log file.
func Initialize(opts Options) (func() error, error) {
	level := log.InfoLevel
	if opts.Debug {
		level = log.DebugLevel
	}

	var out io.Writer = os.Stderr
	closer := func() error { return nil }

	switch {
	case opts.File != "":
		f, err := openLogFile(opts.File)
		if err != nil {
			return closer, err
		}
		out, closer = f, f.Close
	case opts.Quiet:
		out = io.Discard
	}

	logger := log.NewWithOptions(out, log.Options{
		ReportTimestamp: opts.Debug || opts.File != "",
		TimeFormat:      time.RFC3339,
		Level:           level,
	})
	log.SetDefault(logger)

	log.Debug("Logging initialized", "level", level, "file", opts.File)
	return closer, nil
}

// New returns a logger with the given prefix that shares the default
// logger's output and level.
func New(prefix string) *log.Logger {
	return log.Default().WithPrefix(prefix)
}

func openLogFile(path string) (*os.File, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand log path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(expanded, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
