// Package types holds the domain entities shared across the storage,
// pipeline, rotation, query, and document layers.
package types

import "time"

// Project lifecycle states.
const (
	StatusPlanning   = "planning"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s string) bool {
	switch s {
	case StatusPlanning, StatusInProgress, StatusComplete:
		return true
	}
	return false
}

// Staleness levels derived from days since last entry.
const (
	StalenessFresh   = "fresh"
	StalenessWarming = "warming"
	StalenessStale   = "stale"
	StalenessFrozen  = "frozen"
)

// Session modes.
const (
	ModeGlobal   = "global"
	ModeProject  = "project"
	ModeSentinel = "sentinel"
)

// Project is a registry row. Docs maps document keys (architecture,
// phase_plan, checklist, progress_log, doc_log, security_log, bug_log)
// to absolute paths. Version increases on every registry mutation for
// optimistic concurrency.
type Project struct {
	ID               int64             `json:"id,omitempty"`
	Name             string            `json:"name"`
	Slug             string            `json:"slug"`
	RepoRoot         string            `json:"repo_root"`
	ProgressLogPath  string            `json:"progress_log_path"`
	DocsDir          string            `json:"docs_dir,omitempty"`
	Description      string            `json:"description,omitempty"`
	Status           string            `json:"status"`
	Version          int64             `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	LastEntryAt      time.Time         `json:"last_entry_at,omitempty"`
	LastAccessAt     time.Time         `json:"last_access_at,omitempty"`
	LastStatusChange time.Time         `json:"last_status_change,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Docs             map[string]string `json:"docs,omitempty"`
	Defaults         map[string]string `json:"defaults,omitempty"`
	Meta             map[string]any    `json:"meta,omitempty"`
}

// LogEntry is one appended line. RawLine holds the exact bytes written
// (without the trailing newline) and SHA256 their hash.
type LogEntry struct {
	ID          string    `json:"id"`
	ProjectID   int64     `json:"project_id,omitempty"`
	ProjectName string    `json:"project_name"`
	TS          time.Time `json:"ts"`
	Emoji       string    `json:"emoji"`
	Agent       string    `json:"agent"`
	Message     string    `json:"message"`
	Meta        Meta      `json:"meta,omitempty"`
	RawLine     string    `json:"raw_line,omitempty"`
	SHA256      string    `json:"sha256,omitempty"`
	LogType     string    `json:"log_type"`

	// Query-only fields.
	Content        string  `json:"content,omitempty"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
}

// RotationRecord is the audit row for one executed rotation.
type RotationRecord struct {
	RotationID        string            `json:"rotation_id"`
	ProjectID         int64             `json:"project_id"`
	LogType           string            `json:"log_type"`
	SequenceNumber    int64             `json:"sequence_number"`
	PreviousHash      string            `json:"previous_hash,omitempty"`
	ArchivePath       string            `json:"archive_path"`
	ArchiveSHA256     string            `json:"archive_sha256,omitempty"`
	RotatedEntryCount int64             `json:"rotated_entry_count"`
	RotationTimestamp time.Time         `json:"rotation_timestamp"`
	DurationMS        int64             `json:"duration_ms,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// DocumentChange records one document-manager mutation.
type DocumentChange struct {
	ProjectID     int64             `json:"project_id,omitempty"`
	ProjectName   string            `json:"project_name"`
	Doc           string            `json:"doc"`
	SectionAnchor string            `json:"section_anchor,omitempty"`
	Action        string            `json:"action"`
	SHABefore     string            `json:"sha_before,omitempty"`
	SHAAfter      string            `json:"sha_after,omitempty"`
	Agent         string            `json:"agent,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	TS            time.Time         `json:"ts"`
}

// Session binds an agent/transport to a mode and optional project.
type Session struct {
	SessionID          string `json:"session_id"`
	TransportSessionID string `json:"transport_session_id,omitempty"`
	AgentID            string `json:"agent_id,omitempty"`
	RepoRoot           string `json:"repo_root,omitempty"`
	Mode               string `json:"mode"`
	ProjectName        string `json:"project_name,omitempty"`
}

// ProjectMetrics aggregates per-project entry counts.
type ProjectMetrics struct {
	ProjectID      int64            `json:"project_id"`
	TotalEntries   int64            `json:"total_entries"`
	EntriesByType  map[string]int64 `json:"entries_by_type,omitempty"`
	LastRotationAt time.Time        `json:"last_rotation_at,omitempty"`
}

// DevPlan links a project to one of its structured documents.
type DevPlan struct {
	ID        int64             `json:"id,omitempty"`
	ProjectID int64             `json:"project_id"`
	PlanType  string            `json:"plan_type"`
	FilePath  string            `json:"file_path"`
	Version   int64             `json:"version"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Phase is one step of a project's phase plan.
type Phase struct {
	ID        int64             `json:"id,omitempty"`
	ProjectID int64             `json:"project_id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Position  int               `json:"position"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EntryFilters are the pushed-down filters for mirror reads. Fields the
// mirror cannot express (message modes, meta equality, relevance) are
// applied by the query engine after the fetch.
type EntryFilters struct {
	Agents   []string
	Emojis   []string
	LogTypes []string
	Start    *time.Time
	End      *time.Time
}

// Empty reports whether no filter is set.
func (f EntryFilters) Empty() bool {
	return len(f.Agents) == 0 && len(f.Emojis) == 0 && len(f.LogTypes) == 0 &&
		f.Start == nil && f.End == nil
}
