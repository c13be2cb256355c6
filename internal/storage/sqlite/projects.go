package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/types"
)

var _ storage.Storage = (*Store)(nil)

const projectColumns = `id, name, slug, repo_root, progress_log_path, docs_dir,
	description, status, version, created_at, last_entry_at, last_access_at,
	last_status_change, tags, docs, defaults, meta`

func scanProject(row interface{ Scan(...any) error }) (*types.Project, error) {
	var p types.Project
	var createdAt, lastEntry, lastAccess, lastStatus string
	var tags, docs, defaults, meta string
	err := row.Scan(
		&p.ID, &p.Name, &p.Slug, &p.RepoRoot, &p.ProgressLogPath, &p.DocsDir,
		&p.Description, &p.Status, &p.Version, &createdAt, &lastEntry, &lastAccess,
		&lastStatus, &tags, &docs, &defaults, &meta,
	)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.LastEntryAt = parseTime(lastEntry)
	p.LastAccessAt = parseTime(lastAccess)
	p.LastStatusChange = parseTime(lastStatus)
	p.Tags = unmarshalTags(tags)
	p.Docs = unmarshalStringMap(docs)
	p.Defaults = unmarshalStringMap(defaults)
	p.Meta = unmarshalAnyMap(meta)
	return &p, nil
}

// EnsureProject inserts the project if its name is new, otherwise
// refreshes the path fields that may have moved and returns the stored
// row. The returned project always carries the database ID and the
// current version.
func (s *Store) EnsureProject(ctx context.Context, p *types.Project) (*types.Project, error) {
	if p == nil || p.Name == "" {
		return nil, errors.New("project name required")
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err := s.execShort(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO scribe_projects
				(name, slug, repo_root, progress_log_path, docs_dir, description,
				 status, version, created_at, tags, docs, defaults, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO NOTHING`,
			p.Name, p.Slug, p.RepoRoot, p.ProgressLogPath, p.DocsDir, p.Description,
			orDefault(p.Status, types.StatusPlanning), fmtTime(createdAt),
			marshalTags(p.Tags), marshalJSON(p.Docs), marshalJSON(p.Defaults),
			marshalJSON(p.Meta),
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		// Existing row: keep registry fields, refresh locations.
		_, err = tx.ExecContext(ctx, `
			UPDATE scribe_projects
			SET repo_root = CASE WHEN ? != '' THEN ? ELSE repo_root END,
			    progress_log_path = CASE WHEN ? != '' THEN ? ELSE progress_log_path END,
			    docs_dir = CASE WHEN ? != '' THEN ? ELSE docs_dir END
			WHERE name = ?`,
			p.RepoRoot, p.RepoRoot,
			p.ProgressLogPath, p.ProgressLogPath,
			p.DocsDir, p.DocsDir,
			p.Name,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure project %q: %w", p.Name, err)
	}
	return s.GetProject(ctx, p.Name)
}

// GetProject loads one registry row by exact name.
func (s *Store) GetProject(ctx context.Context, name string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM scribe_projects WHERE name = ?`, name)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %q: %w", name, err)
	}
	return p, nil
}

// ListProjects returns every registry row ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM scribe_projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes the registry row; entries, metrics, plans and
// rotations cascade.
func (s *Store) DeleteProject(ctx context.Context, name string) error {
	return s.execShort(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM scribe_projects WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// UpdateProjectStatus sets the lifecycle state and bumps the version.
func (s *Store) UpdateProjectStatus(ctx context.Context, name, status string, at time.Time) error {
	return s.mutateProject(ctx, name, `
		UPDATE scribe_projects
		SET status = ?, last_status_change = ?, version = version + 1
		WHERE name = ?`,
		status, fmtTime(at), name)
}

// TouchProjectAccess records a read without bumping the version.
func (s *Store) TouchProjectAccess(ctx context.Context, name string, at time.Time) error {
	return s.mutateProject(ctx, name, `
		UPDATE scribe_projects SET last_access_at = ? WHERE name = ?`,
		fmtTime(at), name)
}

// TouchProjectEntry records an append. Appends also count as access.
func (s *Store) TouchProjectEntry(ctx context.Context, name string, at time.Time) error {
	return s.mutateProject(ctx, name, `
		UPDATE scribe_projects SET last_entry_at = ?, last_access_at = ? WHERE name = ?`,
		fmtTime(at), fmtTime(at), name)
}

// UpdateProjectMeta replaces the free-form metadata and bumps the
// version.
func (s *Store) UpdateProjectMeta(ctx context.Context, name string, meta map[string]any) error {
	return s.mutateProject(ctx, name, `
		UPDATE scribe_projects SET meta = ?, version = version + 1 WHERE name = ?`,
		marshalJSON(meta), name)
}

// UpdateProjectDocs replaces the document-path map and bumps the
// version.
func (s *Store) UpdateProjectDocs(ctx context.Context, name string, docs map[string]string) error {
	return s.mutateProject(ctx, name, `
		UPDATE scribe_projects SET docs = ?, version = version + 1 WHERE name = ?`,
		marshalJSON(docs), name)
}

func (s *Store) mutateProject(ctx context.Context, name, query string, args ...any) error {
	return s.execShort(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// IncrementEntryCount bumps the per-project totals in scribe_metrics.
func (s *Store) IncrementEntryCount(ctx context.Context, projectID int64, logType string) error {
	return s.execShort(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scribe_metrics (project_id, total_entries, entries_by_type)
			VALUES (?, 1, json_object(?, 1))
			ON CONFLICT(project_id) DO UPDATE SET
				total_entries = total_entries + 1,
				entries_by_type = json_set(entries_by_type, '$.' || ?,
					COALESCE(json_extract(entries_by_type, '$.' || ?), 0) + 1)`,
			projectID, logType, logType, logType)
		return err
	})
}

// GetMetrics returns the aggregate counters for one project. Projects
// with no recorded entries yield zeroed metrics, not ErrNotFound.
func (s *Store) GetMetrics(ctx context.Context, projectID int64) (*types.ProjectMetrics, error) {
	var m types.ProjectMetrics
	var byType, lastRotation string
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, total_entries, entries_by_type, last_rotation_at
		FROM scribe_metrics WHERE project_id = ?`, projectID).
		Scan(&m.ProjectID, &m.TotalEntries, &byType, &lastRotation)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.ProjectMetrics{ProjectID: projectID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}
	m.EntriesByType = unmarshalCounts(byType)
	m.LastRotationAt = parseTime(lastRotation)
	return &m, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
