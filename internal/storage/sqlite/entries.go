package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/untoldecay/scribe/internal/types"
)

// InsertEntry mirrors one appended line. Duplicate IDs are ignored so
// journal replay and re-mirroring stay idempotent.
func (s *Store) InsertEntry(ctx context.Context, e *types.LogEntry) error {
	if e == nil || e.ID == "" {
		return errors.New("entry id required")
	}
	meta := "{}"
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("failed to encode entry meta: %w", err)
		}
		meta = string(b)
	}
	return s.execShort(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scribe_entries
				(entry_id, project_id, ts, emoji, agent, message, meta,
				 raw_line, sha256, log_type, session_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')
			ON CONFLICT(entry_id) DO NOTHING`,
			e.ID, e.ProjectID, fmtTime(e.TS), e.Emoji, e.Agent, e.Message,
			meta, e.RawLine, e.SHA256, e.LogType)
		return err
	})
}

// entryFilterClause renders the pushed-down filters as SQL. The query
// engine applies message and meta predicates after the fetch.
func entryFilterClause(f types.EntryFilters, args *[]any) string {
	var b strings.Builder
	appendIn := func(col string, vals []string) {
		if len(vals) == 0 {
			return
		}
		b.WriteString(" AND " + col + " IN (")
		for i, v := range vals {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			*args = append(*args, v)
		}
		b.WriteString(")")
	}
	appendIn("agent", f.Agents)
	appendIn("emoji", f.Emojis)
	appendIn("log_type", f.LogTypes)
	if f.Start != nil {
		b.WriteString(" AND ts >= ?")
		*args = append(*args, fmtTime(*f.Start))
	}
	if f.End != nil {
		b.WriteString(" AND ts <= ?")
		*args = append(*args, fmtTime(*f.End))
	}
	return b.String()
}

// FetchRecentEntriesPaginated returns one page of mirrored entries for
// a project, newest first. Pages are 1-based.
func (s *Store) FetchRecentEntriesPaginated(ctx context.Context, projectName string, page, pageSize int, f types.EntryFilters) ([]*types.LogEntry, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	args := []any{projectName}
	where := entryFilterClause(f, &args)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entry_id, e.project_id, p.name, e.ts, e.emoji, e.agent,
		       e.message, e.meta, e.raw_line, e.sha256, e.log_type
		FROM scribe_entries e
		JOIN scribe_projects p ON p.id = e.project_id
		WHERE p.name = ?`+where+`
		ORDER BY e.ts DESC, e.entry_id
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entries: %w", err)
	}
	defer rows.Close()

	var out []*types.LogEntry
	for rows.Next() {
		var e types.LogEntry
		var ts, meta string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.ProjectName, &ts, &e.Emoji,
			&e.Agent, &e.Message, &meta, &e.RawLine, &e.SHA256, &e.LogType); err != nil {
			return nil, err
		}
		e.TS = parseTime(ts)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
				e.Meta = nil
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountEntries counts mirrored entries matching the pushed-down
// filters. An empty projectName counts across every project.
func (s *Store) CountEntries(ctx context.Context, projectName string, f types.EntryFilters) (int64, error) {
	var (
		query string
		args  []any
	)
	if projectName == "" {
		query = `SELECT COUNT(*) FROM scribe_entries e WHERE 1=1`
	} else {
		query = `SELECT COUNT(*) FROM scribe_entries e
			JOIN scribe_projects p ON p.id = e.project_id
			WHERE p.name = ?`
		args = append(args, projectName)
	}
	query += entryFilterClause(f, &args)

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}
