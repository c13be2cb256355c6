package sqlite

// schema is idempotent: every statement is IF NOT EXISTS so reopening
// an existing mirror is a no-op. Structural changes after release go
// through migrations.go instead.
//
// Timestamps are stored as RFC3339 TEXT in UTC and parsed app-side,
// which keeps the column shape portable to other SQL backends.
const schema = `
CREATE TABLE IF NOT EXISTS scribe_projects (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    name               TEXT NOT NULL UNIQUE,
    slug               TEXT NOT NULL,
    repo_root          TEXT NOT NULL DEFAULT '',
    progress_log_path  TEXT NOT NULL DEFAULT '',
    docs_dir           TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL DEFAULT 'planning',
    version            INTEGER NOT NULL DEFAULT 1,
    created_at         TEXT NOT NULL,
    last_entry_at      TEXT NOT NULL DEFAULT '',
    last_access_at     TEXT NOT NULL DEFAULT '',
    last_status_change TEXT NOT NULL DEFAULT '',
    tags               TEXT NOT NULL DEFAULT '',
    docs               TEXT NOT NULL DEFAULT '{}',
    defaults           TEXT NOT NULL DEFAULT '{}',
    meta               TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_projects_slug ON scribe_projects(slug);
CREATE INDEX IF NOT EXISTS idx_projects_status ON scribe_projects(status);

CREATE TABLE IF NOT EXISTS scribe_metrics (
    project_id       INTEGER PRIMARY KEY REFERENCES scribe_projects(id) ON DELETE CASCADE,
    total_entries    INTEGER NOT NULL DEFAULT 0,
    entries_by_type  TEXT NOT NULL DEFAULT '{}',
    last_rotation_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS scribe_entries (
    entry_id   TEXT PRIMARY KEY,
    project_id INTEGER NOT NULL REFERENCES scribe_projects(id) ON DELETE CASCADE,
    ts         TEXT NOT NULL,
    emoji      TEXT NOT NULL,
    agent      TEXT NOT NULL,
    message    TEXT NOT NULL,
    meta       TEXT NOT NULL DEFAULT '{}',
    raw_line   TEXT NOT NULL,
    sha256     TEXT NOT NULL,
    log_type   TEXT NOT NULL DEFAULT 'progress'
);

CREATE INDEX IF NOT EXISTS idx_entries_project_ts ON scribe_entries(project_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_entries_agent ON scribe_entries(agent);
CREATE INDEX IF NOT EXISTS idx_entries_log_type ON scribe_entries(log_type);

CREATE TABLE IF NOT EXISTS dev_plans (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER NOT NULL REFERENCES scribe_projects(id) ON DELETE CASCADE,
    plan_type  TEXT NOT NULL,
    file_path  TEXT NOT NULL DEFAULT '',
    version    INTEGER NOT NULL DEFAULT 1,
    metadata   TEXT NOT NULL DEFAULT '{}',
    updated_at TEXT NOT NULL,
    UNIQUE(project_id, plan_type)
);

CREATE TABLE IF NOT EXISTS phases (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id INTEGER NOT NULL REFERENCES scribe_projects(id) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'planning',
    position   INTEGER NOT NULL DEFAULT 0,
    metadata   TEXT NOT NULL DEFAULT '{}',
    updated_at TEXT NOT NULL,
    UNIQUE(project_id, name)
);

CREATE INDEX IF NOT EXISTS idx_phases_project ON phases(project_id, position);

CREATE TABLE IF NOT EXISTS doc_changes (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id     INTEGER NOT NULL REFERENCES scribe_projects(id) ON DELETE CASCADE,
    doc            TEXT NOT NULL,
    section_anchor TEXT NOT NULL DEFAULT '',
    action         TEXT NOT NULL,
    sha_before     TEXT NOT NULL DEFAULT '',
    sha_after      TEXT NOT NULL DEFAULT '',
    agent          TEXT NOT NULL DEFAULT '',
    metadata       TEXT NOT NULL DEFAULT '{}',
    ts             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_doc_changes_project ON doc_changes(project_id, ts DESC);

CREATE TABLE IF NOT EXISTS sessions (
    session_id           TEXT PRIMARY KEY,
    transport_session_id TEXT NOT NULL DEFAULT '',
    agent_id             TEXT NOT NULL DEFAULT '',
    repo_root            TEXT NOT NULL DEFAULT '',
    mode                 TEXT NOT NULL,
    project_name         TEXT NOT NULL DEFAULT '',
    updated_at           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_transport ON sessions(transport_session_id);

CREATE TABLE IF NOT EXISTS agent_recent_projects (
    agent_id     TEXT NOT NULL,
    project_name TEXT NOT NULL,
    last_seen    TEXT NOT NULL,
    use_count    INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (agent_id, project_name)
);

CREATE TABLE IF NOT EXISTS rotations (
    rotation_id     TEXT PRIMARY KEY,
    project_id      INTEGER NOT NULL REFERENCES scribe_projects(id) ON DELETE CASCADE,
    log_type        TEXT NOT NULL,
    sequence_number INTEGER NOT NULL,
    previous_hash   TEXT NOT NULL DEFAULT '',
    archive_path    TEXT NOT NULL,
    archive_sha256  TEXT NOT NULL DEFAULT '',
    entries_rotated INTEGER NOT NULL DEFAULT 0,
    rotated_at      TEXT NOT NULL,
    duration_ms     INTEGER NOT NULL DEFAULT 0,
    metadata        TEXT NOT NULL DEFAULT '{}',
    UNIQUE(project_id, log_type, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_rotations_project ON rotations(project_id, log_type, sequence_number DESC);

CREATE TABLE IF NOT EXISTS schema_migrations (
    name       TEXT PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`
