package daemon

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes leveled key=value lines to the daemon ops log. Rotation
// is lumberjack's; the daemon never manages its own log files.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	c   io.Closer
	Now func() time.Time
}

// NewLogger opens the ops log at path with size-based rotation.
func NewLogger(path string, maxSizeMB, maxBackups int) *Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	return &Logger{
		w:   lj,
		c:   lj,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// NewLoggerTo writes to an arbitrary sink; tests use a buffer.
func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{w: w, Now: func() time.Time { return time.Now().UTC() }}
}

func (l *Logger) Info(msg string, kv ...any)  { l.log("INFO", msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log("WARN", msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv...) }

func (l *Logger) log(level, msg string, kv ...any) {
	if l == nil || l.w == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", l.Now().Format(time.RFC3339), level, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, b.String())
}

// Close flushes and closes the underlying sink.
func (l *Logger) Close() error {
	if l == nil || l.c == nil {
		return nil
	}
	return l.c.Close()
}
