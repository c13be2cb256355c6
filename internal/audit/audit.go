// Package audit appends interaction events to .scribe/interactions.jsonl.
// The file is append-only JSONL so it diffs cleanly and can be shared
// across clones; today it records the digest pipeline's LLM calls.
package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/untoldecay/scribe/internal/config"
)

const (
	// FileName is the audit log file name stored under .scribe/.
	FileName = "interactions.jsonl"
	idPrefix = "int-"
)

// Entry is a generic append-only audit event. Use Kind plus the typed
// fields for common cases and Extra for everything else.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	// Common metadata
	Actor   string `json:"actor,omitempty"`
	Project string `json:"project,omitempty"`

	// LLM call
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Path resolves the interactions log inside the nearest .scribe dir.
func Path() (string, error) {
	dir := config.FindScribeDir()
	if dir == "" {
		return "", fmt.Errorf("no .scribe directory found")
	}
	return filepath.Join(dir, FileName), nil
}

// Append writes one event to the resolved interactions log.
func Append(e *Entry) (string, error) {
	p, err := Path()
	if err != nil {
		return "", err
	}
	return AppendTo(p, e)
}

// AppendTo writes one event to an explicit log path as a single JSON
// line. Existing lines are never rewritten.
func AppendTo(path string, e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil entry")
	}
	if e.Kind == "" {
		return "", fmt.Errorf("kind is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create audit directory: %w", err)
	}

	if e.ID == "" {
		id, err := newID()
		if err != nil {
			return "", err
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open interactions log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("failed to write interactions log entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush interactions log: %w", err)
	}
	return e.ID, nil
}

func newID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return idPrefix + hex.EncodeToString(b[:]), nil
}
