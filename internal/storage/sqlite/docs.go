package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/scribe/internal/types"
)

// InsertDocChange appends one row to the document audit trail.
func (s *Store) InsertDocChange(ctx context.Context, change *types.DocumentChange) error {
	if change == nil || change.Doc == "" || change.Action == "" {
		return errors.New("doc and action required")
	}
	ts := change.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return s.execShort(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO doc_changes
				(project_id, doc, section_anchor, action, sha_before, sha_after,
				 agent, metadata, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			change.ProjectID, change.Doc, change.SectionAnchor, change.Action,
			change.SHABefore, change.SHAAfter, change.Agent,
			marshalJSON(change.Metadata), fmtTime(ts))
		return err
	})
}

// LastDocUpdateAt returns the timestamp of the most recent document
// change for a project. The zero time means no changes are recorded.
func (s *Store) LastDocUpdateAt(ctx context.Context, projectID int64) (time.Time, error) {
	var ts string
	err := s.db.QueryRowContext(ctx, `
		SELECT ts FROM doc_changes WHERE project_id = ?
		ORDER BY ts DESC LIMIT 1`, projectID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read doc changes: %w", err)
	}
	return parseTime(ts), nil
}

// CountDocChanges counts audit rows for a project.
func (s *Store) CountDocChanges(ctx context.Context, projectID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM doc_changes WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count doc changes: %w", err)
	}
	return n, nil
}
