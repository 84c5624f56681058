package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotateOptions controls the on-disk log file.
type RotateOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Prefix     string
}

// Setup points Logger at a size-rotated file. The returned closer flushes and
// closes the file; callers defer it from main.
func Setup(opts RotateOptions) (io.Closer, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("log path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.Prefix == "" {
		opts.Prefix = "deskmate "
	}
	sink := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	Logger = log.New(sink, opts.Prefix, log.LstdFlags|log.Lmicroseconds)
	return sink, nil
}
