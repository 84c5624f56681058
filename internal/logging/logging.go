// Package logging holds the process-wide logger. Setup moves it to a rotating
// file; until then it writes to stderr.
package logging

import (
	"log"
	"os"
)

var (
	// DevMode enables stream tracing and Debug entries. Set DEV_MODE=1 or
	// DESKMATE_DEBUG=1.
	DevMode = os.Getenv("DEV_MODE") == "1" || os.Getenv("DESKMATE_DEBUG") == "1"
	// Logger is shared by every package.
	Logger = log.Default()
)

func logf(tag, format string, args ...any) {
	Logger.Printf("["+tag+"] "+format, args...)
}

// DevLog traces raw vendor traffic in DevMode.
func DevLog(format string, args ...any) {
	if DevMode {
		logf("DEV", format, args...)
	}
}

// UserLog records what the user did: session switches, provider and mode changes.
func UserLog(format string, args ...any) { logf("USER", format, args...) }

// WarnLog records recovered failures, e.g. a web search that degraded to no context.
func WarnLog(format string, args ...any) { logf("WARN", format, args...) }

// ErrorLog records failures.
func ErrorLog(format string, args ...any) { logf("ERROR", format, args...) }
