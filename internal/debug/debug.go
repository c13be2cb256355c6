// Package debug provides opt-in diagnostic output and the events.log
// audit trail under .scribe/. Output is gated by SCRIBE_DEBUG so normal
// agent traffic stays quiet.
package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("SCRIBE_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMu       sync.Mutex
)

// Enabled reports whether debug output is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables debug output regardless of SCRIBE_DEBUG.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet suppresses non-essential stdout output.
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet reports whether quiet mode is enabled.
func IsQuiet() bool {
	return quietMode
}

// Logf writes diagnostic output to stderr when debug is enabled.
func Logf(format string, args ...any) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// PrintNormal prints informational output unless quiet mode is enabled.
func PrintNormal(format string, args ...any) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// LogEvent appends a pipe-delimited event to <scribeDir>/events.log.
// Format: TIMESTAMP|EVENT|PROJECT|AGENT|DETAILS. Failures are silent;
// event logging must never interrupt a write path.
func LogEvent(scribeDir, event, project, agent, details string) {
	if scribeDir == "" {
		return
	}
	if project == "" {
		project = "none"
	}
	if agent == "" {
		agent = os.Getenv("SCRIBE_AGENT_ID")
		if agent == "" {
			agent = "unknown"
		}
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s|%s\n", ts, event, project, agent, details)

	logMu.Lock()
	defer logMu.Unlock()

	logPath := filepath.Join(scribeDir, "events.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(entry)
}
