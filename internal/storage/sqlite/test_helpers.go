package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/untoldecay/scribe/internal/types"
)

// testEnv bundles a store and context for storage tests. Use
// newTestEnv(t) to get one with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Store *Store
	Ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{t: t, Store: newTestStore(t, ""), Ctx: context.Background()}
}

// newTestStore opens a store on a temp file. File-backed databases
// behave like production (WAL, pooled connections) where :memory: does
// not.
func newTestStore(t *testing.T, dbPath string) *Store {
	t.Helper()

	if dbPath == "" {
		dbPath = t.TempDir() + "/test.db"
	}

	store, err := New(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("Failed to close test database: %v", cerr)
		}
	})
	return store
}

// CreateProject registers a project with sensible defaults and returns
// the stored row.
func (e *testEnv) CreateProject(name string) *types.Project {
	e.t.Helper()
	p, err := e.Store.EnsureProject(e.Ctx, &types.Project{
		Name:            name,
		Slug:            name,
		RepoRoot:        "/repo",
		ProgressLogPath: "/repo/.scribe/docs/dev_plans/" + name + "/PROGRESS_LOG.md",
	})
	if err != nil {
		e.t.Fatalf("EnsureProject(%q) failed: %v", name, err)
	}
	return p
}

// AppendEntry mirrors one entry for the project and returns it.
func (e *testEnv) AppendEntry(p *types.Project, id, agent, message string, ts time.Time) *types.LogEntry {
	e.t.Helper()
	entry := &types.LogEntry{
		ID:          id,
		ProjectID:   p.ID,
		ProjectName: p.Name,
		TS:          ts,
		Emoji:       "ℹ️",
		Agent:       agent,
		Message:     message,
		RawLine:     "[ℹ️] " + message,
		SHA256:      "deadbeef",
		LogType:     "progress",
	}
	if err := e.Store.InsertEntry(e.Ctx, entry); err != nil {
		e.t.Fatalf("InsertEntry(%q) failed: %v", id, err)
	}
	return entry
}
