// Package state holds the process-scoped snapshot: current project
// bindings, recency lists, per-log file stats, and rotation hash
// chains. Every mutation goes through one mutex and is persisted as
// JSON before the call returns.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/fileio"
)

const (
	schemaVersion = 1
	recentMax     = 10
)

// AgentContext is one agent's project binding. Version increments on
// every rebind so concurrent agents can detect lost updates.
type AgentContext struct {
	CurrentProject string    `json:"current_project"`
	Version        int64     `json:"version"`
	UpdatedBy      string    `json:"updated_by,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FileStats caches one log file's shape for the entry estimator.
type FileStats struct {
	SizeBytes       int64   `json:"size_bytes"`
	LineCount       int64   `json:"line_count"`
	EMABytesPerLine float64 `json:"ema_bytes_per_line"`
	MtimeNS         int64   `json:"mtime_ns"`
	Inode           uint64  `json:"inode,omitempty"`
	Source          string  `json:"source,omitempty"`
	Initialized     bool    `json:"initialized"`
}

// HashChain tracks rotation lineage for one log.
type HashChain struct {
	LastHash     string `json:"last_hash,omitempty"`
	RootHash     string `json:"root_hash,omitempty"`
	LastSequence int64  `json:"last_sequence"`
}

type snapshot struct {
	SchemaVersion  int                     `json:"schema_version"`
	CurrentProject string                  `json:"current_project,omitempty"`
	Agents         map[string]AgentContext `json:"agents,omitempty"`
	RecentProjects []string                `json:"recent_projects,omitempty"`
	RecentTools    []string                `json:"recent_tools,omitempty"`
	FileStats      map[string]FileStats    `json:"file_stats,omitempty"`
	HashChains     map[string]HashChain    `json:"hash_chains,omitempty"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// Manager is the state holder. Safe for concurrent use.
type Manager struct {
	mu   sync.Mutex
	path string
	snap snapshot
}

// Load reads the snapshot at path, or starts fresh when the file does
// not exist. A corrupt snapshot is replaced rather than fatal: the
// state is derived data and every field self-heals on use.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path}
	m.snap.SchemaVersion = schemaVersion

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return m, nil
	}
	snap.SchemaVersion = schemaVersion
	m.snap = snap
	return m, nil
}

// Path returns the snapshot location.
func (m *Manager) Path() string { return m.path }

func (m *Manager) persistLocked() error {
	m.snap.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m.snap, "", "  ")
	if err != nil {
		return err
	}
	return fileio.AtomicWrite(m.path, append(data, '\n'))
}

// statKey joins the stats/chain map key. Project names cannot contain
// newlines, so "\n" is a safe separator.
func statKey(project, logType string) string {
	return project + "\n" + logType
}

// CurrentProject resolves the binding for agent: the agent-scoped
// binding wins, then the session-wide one. The returned version is the
// agent binding's version (0 when falling back).
func (m *Manager) CurrentProject(agent string) (string, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent != "" {
		if actx, ok := m.snap.Agents[agent]; ok && actx.CurrentProject != "" {
			return actx.CurrentProject, actx.Version
		}
	}
	return m.snap.CurrentProject, 0
}

// SetCurrentProject rebinds the current project. A non-negative
// expectedVersion must match the agent binding's current version or
// the call fails with VersionConflict. Pass -1 to skip the check.
// An empty agent sets the session-wide binding.
func (m *Manager) SetCurrentProject(agent, project string, expectedVersion int64, updatedBy, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent == "" {
		m.snap.CurrentProject = project
		m.touchProjectLocked(project)
		return 0, m.persistLocked()
	}

	if m.snap.Agents == nil {
		m.snap.Agents = make(map[string]AgentContext)
	}
	actx := m.snap.Agents[agent]
	if expectedVersion >= 0 && actx.Version != expectedVersion {
		return actx.Version, fault.New(fault.CodeVersionConflict,
			"current project for %q is at version %d, expected %d",
			agent, actx.Version, expectedVersion).
			WithSuggestion("re-read the current project and retry with its version").
			WithDetail("current_version", actx.Version)
	}
	actx.CurrentProject = project
	actx.Version++
	actx.UpdatedBy = updatedBy
	actx.SessionID = sessionID
	actx.UpdatedAt = time.Now().UTC()
	m.snap.Agents[agent] = actx

	// The session-wide binding follows the latest explicit set so
	// agent-less callers land on something recent.
	m.snap.CurrentProject = project
	m.touchProjectLocked(project)
	return actx.Version, m.persistLocked()
}

// ClearCurrentProject removes the binding for agent (or the
// session-wide one when agent is empty).
func (m *Manager) ClearCurrentProject(agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent == "" {
		m.snap.CurrentProject = ""
	} else {
		delete(m.snap.Agents, agent)
	}
	return m.persistLocked()
}

func (m *Manager) touchProjectLocked(name string) {
	if name == "" {
		return
	}
	m.snap.RecentProjects = pushRecent(m.snap.RecentProjects, name)
}

// TouchProject records name at the head of the recent-projects list.
func (m *Manager) TouchProject(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchProjectLocked(name)
	return m.persistLocked()
}

// TouchTool records name at the head of the recent-tools list.
func (m *Manager) TouchTool(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		return nil
	}
	m.snap.RecentTools = pushRecent(m.snap.RecentTools, name)
	return m.persistLocked()
}

// RecentProjects returns the most-recent-first project names.
func (m *Manager) RecentProjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.snap.RecentProjects...)
}

// RecentTools returns the most-recent-first tool names.
func (m *Manager) RecentTools() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.snap.RecentTools...)
}

// Stats returns the cached file stats for one log.
func (m *Manager) Stats(project, logType string) (FileStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.snap.FileStats[statKey(project, logType)]
	return fs, ok
}

// SetStats replaces the cached file stats for one log.
func (m *Manager) SetStats(project, logType string, fs FileStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.FileStats == nil {
		m.snap.FileStats = make(map[string]FileStats)
	}
	m.snap.FileStats[statKey(project, logType)] = fs
	return m.persistLocked()
}

// InvalidateStats drops the cached stats for one log.
func (m *Manager) InvalidateStats(project, logType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snap.FileStats, statKey(project, logType))
	return m.persistLocked()
}

// Chain returns the rotation hash chain for one log.
func (m *Manager) Chain(project, logType string) (HashChain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.snap.HashChains[statKey(project, logType)]
	return c, ok
}

// SetChain replaces the rotation hash chain for one log.
func (m *Manager) SetChain(project, logType string, c HashChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.HashChains == nil {
		m.snap.HashChains = make(map[string]HashChain)
	}
	m.snap.HashChains[statKey(project, logType)] = c
	return m.persistLocked()
}

func pushRecent(list []string, name string) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, name)
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	if len(out) > recentMax {
		out = out[:recentMax]
	}
	return out
}
