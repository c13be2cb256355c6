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

// UpsertSession stores or refreshes a session binding.
func (s *Store) UpsertSession(ctx context.Context, sess *types.Session) error {
	if sess == nil || sess.SessionID == "" {
		return errors.New("session id required")
	}
	return s.execShort(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions
				(session_id, transport_session_id, agent_id, repo_root, mode,
				 project_name, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				transport_session_id = excluded.transport_session_id,
				agent_id = excluded.agent_id,
				repo_root = excluded.repo_root,
				mode = excluded.mode,
				project_name = excluded.project_name,
				updated_at = excluded.updated_at`,
			sess.SessionID, sess.TransportSessionID, sess.AgentID, sess.RepoRoot,
			orDefault(sess.Mode, types.ModeGlobal), sess.ProjectName,
			fmtTime(time.Now()))
		return err
	})
}

// GetSession loads a session binding by ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var sess types.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, transport_session_id, agent_id, repo_root, mode, project_name
		FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.SessionID, &sess.TransportSessionID, &sess.AgentID,
			&sess.RepoRoot, &sess.Mode, &sess.ProjectName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &sess, nil
}

// TouchAgentProject bumps the agent's recency row for a project.
func (s *Store) TouchAgentProject(ctx context.Context, agentID, projectName string, at time.Time) error {
	if agentID == "" || projectName == "" {
		return nil
	}
	return s.execShort(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_recent_projects (agent_id, project_name, last_seen, use_count)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(agent_id, project_name) DO UPDATE SET
				last_seen = excluded.last_seen,
				use_count = agent_recent_projects.use_count + 1`,
			agentID, projectName, fmtTime(at))
		return err
	})
}

// RecentProjectsForAgent returns project names the agent touched most
// recently, newest first.
func (s *Store) RecentProjectsForAgent(ctx context.Context, agentID string, limit int) ([]string, error) {
	if limit < 1 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_name FROM agent_recent_projects
		WHERE agent_id = ? ORDER BY last_seen DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent projects: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
