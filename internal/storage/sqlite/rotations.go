package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/types"
)

// InsertRotation records one executed rotation and stamps the metrics
// row. The (project, log_type, sequence) uniqueness catches sequence
// regressions before they corrupt the hash chain.
func (s *Store) InsertRotation(ctx context.Context, rec *types.RotationRecord) error {
	if rec == nil || rec.RotationID == "" {
		return errors.New("rotation id required")
	}
	err := s.execShort(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rotations
				(rotation_id, project_id, log_type, sequence_number, previous_hash,
				 archive_path, archive_sha256, entries_rotated, rotated_at,
				 duration_ms, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RotationID, rec.ProjectID, rec.LogType, rec.SequenceNumber,
			rec.PreviousHash, rec.ArchivePath, rec.ArchiveSHA256,
			rec.RotatedEntryCount, fmtTime(rec.RotationTimestamp),
			rec.DurationMS, marshalJSON(rec.Metadata)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scribe_metrics (project_id, last_rotation_at)
			VALUES (?, ?)
			ON CONFLICT(project_id) DO UPDATE SET last_rotation_at = excluded.last_rotation_at`,
			rec.ProjectID, fmtTime(rec.RotationTimestamp))
		return err
	})
	if isUniqueConstraintError(err) {
		return fmt.Errorf("rotation sequence %d already recorded for log %q: %w",
			rec.SequenceNumber, rec.LogType, err)
	}
	return err
}

const rotationColumns = `rotation_id, project_id, log_type, sequence_number,
	previous_hash, archive_path, archive_sha256, entries_rotated, rotated_at,
	duration_ms, metadata`

func scanRotation(row interface{ Scan(...any) error }) (*types.RotationRecord, error) {
	var r types.RotationRecord
	var rotatedAt, metadata string
	err := row.Scan(&r.RotationID, &r.ProjectID, &r.LogType, &r.SequenceNumber,
		&r.PreviousHash, &r.ArchivePath, &r.ArchiveSHA256, &r.RotatedEntryCount,
		&rotatedAt, &r.DurationMS, &metadata)
	if err != nil {
		return nil, err
	}
	r.RotationTimestamp = parseTime(rotatedAt)
	r.Metadata = unmarshalStringMap(metadata)
	return &r, nil
}

// LastRotation returns the highest-sequence rotation for one log.
func (s *Store) LastRotation(ctx context.Context, projectID int64, logType string) (*types.RotationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+rotationColumns+` FROM rotations
		WHERE project_id = ? AND log_type = ?
		ORDER BY sequence_number DESC LIMIT 1`, projectID, logType)
	rec, err := scanRotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last rotation: %w", err)
	}
	return rec, nil
}

// ListRotations returns a log's rotation history, newest first.
func (s *Store) ListRotations(ctx context.Context, projectID int64, logType string, limit int) ([]*types.RotationRecord, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rotationColumns+` FROM rotations
		WHERE project_id = ? AND log_type = ?
		ORDER BY sequence_number DESC LIMIT ?`, projectID, logType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rotations: %w", err)
	}
	defer rows.Close()

	var out []*types.RotationRecord
	for rows.Next() {
		rec, err := scanRotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
