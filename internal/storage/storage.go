// Package storage defines the interface for the SQLite mirror. Markdown
// files are the source of truth for humans; the mirror is the source of
// truth for queries. Every method takes a context and callers wrap it
// with the storage timeout so a slow mirror never blocks an append.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/untoldecay/scribe/internal/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDBNotInitialized is returned when a storage feature is used before
// the database is opened (no_db mode).
var ErrDBNotInitialized = errors.New("database not initialized")

// Config selects and locates a storage backend.
type Config struct {
	Backend string // "sqlite"
	Path    string // database file path, or ":memory:"
}

// Storage is the mirror contract. Implementations must be safe for
// concurrent use; writes use short transactions.
type Storage interface {
	// Project registry rows.
	EnsureProject(ctx context.Context, p *types.Project) (*types.Project, error)
	GetProject(ctx context.Context, name string) (*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)
	DeleteProject(ctx context.Context, name string) error
	UpdateProjectStatus(ctx context.Context, name, status string, at time.Time) error
	TouchProjectAccess(ctx context.Context, name string, at time.Time) error
	TouchProjectEntry(ctx context.Context, name string, at time.Time) error
	UpdateProjectMeta(ctx context.Context, name string, meta map[string]any) error
	UpdateProjectDocs(ctx context.Context, name string, docs map[string]string) error

	// Metrics.
	IncrementEntryCount(ctx context.Context, projectID int64, logType string) error
	GetMetrics(ctx context.Context, projectID int64) (*types.ProjectMetrics, error)

	// Entries.
	InsertEntry(ctx context.Context, e *types.LogEntry) error
	FetchRecentEntriesPaginated(ctx context.Context, projectName string, page, pageSize int, f types.EntryFilters) ([]*types.LogEntry, error)
	CountEntries(ctx context.Context, projectName string, f types.EntryFilters) (int64, error)

	// Dev plans and phases.
	UpsertDevPlan(ctx context.Context, plan *types.DevPlan) error
	ListDevPlans(ctx context.Context, projectID int64) ([]*types.DevPlan, error)
	UpsertPhase(ctx context.Context, phase *types.Phase) error
	ListPhases(ctx context.Context, projectID int64) ([]*types.Phase, error)

	// Document changes.
	InsertDocChange(ctx context.Context, change *types.DocumentChange) error
	LastDocUpdateAt(ctx context.Context, projectID int64) (time.Time, error)
	CountDocChanges(ctx context.Context, projectID int64) (int64, error)

	// Sessions and agent recency.
	UpsertSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	TouchAgentProject(ctx context.Context, agentID, projectName string, at time.Time) error
	RecentProjectsForAgent(ctx context.Context, agentID string, limit int) ([]string, error)

	// Rotation audit.
	InsertRotation(ctx context.Context, rec *types.RotationRecord) error
	LastRotation(ctx context.Context, projectID int64, logType string) (*types.RotationRecord, error)
	ListRotations(ctx context.Context, projectID int64, logType string, limit int) ([]*types.RotationRecord, error)

	// Lifecycle.
	Ping(ctx context.Context) error
	Close() error
}
