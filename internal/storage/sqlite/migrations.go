package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration mutates an existing mirror in place. Fresh databases get
// the final shape from schema.go, so every migration must be safe to
// skip-by-failure on columns that already exist.
type Migration struct {
	Name string
	Func func(db *sql.DB) error
}

// migrationsList runs in order. Append only; never reorder or rename
// entries that have shipped.
var migrationsList = []Migration{
	{
		Name: "2025-11-add-entries-session-id",
		Func: func(db *sql.DB) error {
			return addColumnIfMissing(db, "scribe_entries", "session_id", "TEXT NOT NULL DEFAULT ''")
		},
	},
	{
		Name: "2026-01-add-projects-priority",
		Func: func(db *sql.DB) error {
			return addColumnIfMissing(db, "scribe_projects", "priority", "REAL NOT NULL DEFAULT 0")
		},
	},
}

// RunMigrations applies every migration not yet recorded in
// schema_migrations.
func RunMigrations(db *sql.DB) error {
	applied := make(map[string]bool)
	rows, err := db.Query(`SELECT name FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrationsList {
		if applied[m.Name] {
			continue
		}
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		if _, err := db.Exec(
			`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			m.Name, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, decl string) error {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}
