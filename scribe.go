// Package scribe provides a minimal public API for extending scribe
// with custom orchestration.
//
// Most extensions should query the SQLite mirror directly. This package
// exports only the types and constructors needed by Go-based extensions
// that want to use scribe's storage layer programmatically.
package scribe

import (
	"context"
	"path/filepath"

	"github.com/untoldecay/scribe/internal/config"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/storage/sqlite"
	"github.com/untoldecay/scribe/internal/types"
)

// Storage is the interface for ledger storage operations.
type Storage = storage.Storage

// NewSQLiteStorage opens (creating if needed) the SQLite mirror at dbPath.
func NewSQLiteStorage(ctx context.Context, dbPath string) (Storage, error) {
	return sqlite.New(ctx, dbPath)
}

// FindScribeDir walks up from the working directory looking for a
// .scribe directory. Returns "" when none exists.
func FindScribeDir() string {
	return config.FindScribeDir()
}

// FindDatabasePath resolves the default mirror location for the
// enclosing workspace, or "" when no workspace exists.
func FindDatabasePath() string {
	scribeDir := config.FindScribeDir()
	if scribeDir == "" {
		return ""
	}
	return paths.DatabaseFile(filepath.Dir(scribeDir))
}

// Core types from internal/types.
type (
	Project        = types.Project
	LogEntry       = types.LogEntry
	Meta           = types.Meta
	MetaPair       = types.MetaPair
	RotationRecord = types.RotationRecord
	DocumentChange = types.DocumentChange
	EntryFilters   = types.EntryFilters
)
