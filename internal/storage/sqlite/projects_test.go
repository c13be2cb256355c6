package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/types"
)

func TestEnsureProjectCreatesAndReturnsRow(t *testing.T) {
	env := newTestEnv(t)

	p := env.CreateProject("auth-service")
	if p.ID == 0 {
		t.Fatal("expected database ID to be assigned")
	}
	if p.Status != types.StatusPlanning {
		t.Errorf("new project status = %q, want %q", p.Status, types.StatusPlanning)
	}
	if p.Version != 1 {
		t.Errorf("new project version = %d, want 1", p.Version)
	}
	if p.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestEnsureProjectIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	first := env.CreateProject("auth-service")
	second, err := env.Store.EnsureProject(env.Ctx, &types.Project{
		Name: "auth-service",
		Slug: "auth-service",
	})
	if err != nil {
		t.Fatalf("second EnsureProject failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second ensure returned ID %d, want %d", second.ID, first.ID)
	}
	if second.RepoRoot != "/repo" {
		t.Errorf("repo_root overwritten by empty ensure: %q", second.RepoRoot)
	}
}

func TestEnsureProjectRefreshesPaths(t *testing.T) {
	env := newTestEnv(t)

	env.CreateProject("auth-service")
	p, err := env.Store.EnsureProject(env.Ctx, &types.Project{
		Name:     "auth-service",
		RepoRoot: "/moved",
	})
	if err != nil {
		t.Fatalf("EnsureProject failed: %v", err)
	}
	if p.RepoRoot != "/moved" {
		t.Errorf("repo_root = %q, want /moved", p.RepoRoot)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Store.GetProject(env.Ctx, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetProject(missing) = %v, want ErrNotFound", err)
	}
}

func TestUpdateProjectStatusBumpsVersion(t *testing.T) {
	env := newTestEnv(t)

	p := env.CreateProject("auth-service")
	at := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	if err := env.Store.UpdateProjectStatus(env.Ctx, p.Name, types.StatusInProgress, at); err != nil {
		t.Fatalf("UpdateProjectStatus failed: %v", err)
	}

	got, err := env.Store.GetProject(env.Ctx, p.Name)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Status != types.StatusInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}
	if got.Version != p.Version+1 {
		t.Errorf("version = %d, want %d", got.Version, p.Version+1)
	}
	if !got.LastStatusChange.Equal(at) {
		t.Errorf("last_status_change = %v, want %v", got.LastStatusChange, at)
	}
}

func TestTouchEntryAlsoTouchesAccess(t *testing.T) {
	env := newTestEnv(t)

	p := env.CreateProject("auth-service")
	at := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	if err := env.Store.TouchProjectEntry(env.Ctx, p.Name, at); err != nil {
		t.Fatalf("TouchProjectEntry failed: %v", err)
	}

	got, _ := env.Store.GetProject(env.Ctx, p.Name)
	if !got.LastEntryAt.Equal(at) || !got.LastAccessAt.Equal(at) {
		t.Errorf("touch entry: last_entry=%v last_access=%v, want both %v",
			got.LastEntryAt, got.LastAccessAt, at)
	}
	if got.Version != p.Version {
		t.Errorf("touch bumped version to %d, want unchanged %d", got.Version, p.Version)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	env := newTestEnv(t)

	p := env.CreateProject("auth-service")
	env.AppendEntry(p, "e1", "Claude", "first pass", time.Now().UTC())

	if err := env.Store.DeleteProject(env.Ctx, p.Name); err != nil {
		t.Fatalf("DeleteProject failed: %v", err)
	}
	n, err := env.Store.CountEntries(env.Ctx, "", types.EntryFilters{})
	if err != nil {
		t.Fatalf("CountEntries failed: %v", err)
	}
	if n != 0 {
		t.Errorf("entries after cascade delete = %d, want 0", n)
	}
	if err := env.Store.DeleteProject(env.Ctx, p.Name); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestMetricsIncrement(t *testing.T) {
	env := newTestEnv(t)

	p := env.CreateProject("auth-service")
	for i := 0; i < 3; i++ {
		if err := env.Store.IncrementEntryCount(env.Ctx, p.ID, "progress"); err != nil {
			t.Fatalf("IncrementEntryCount failed: %v", err)
		}
	}
	if err := env.Store.IncrementEntryCount(env.Ctx, p.ID, "bugs"); err != nil {
		t.Fatalf("IncrementEntryCount failed: %v", err)
	}

	m, err := env.Store.GetMetrics(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if m.TotalEntries != 4 {
		t.Errorf("total_entries = %d, want 4", m.TotalEntries)
	}
	if m.EntriesByType["progress"] != 3 || m.EntriesByType["bugs"] != 1 {
		t.Errorf("entries_by_type = %v, want progress:3 bugs:1", m.EntriesByType)
	}
}

func TestGetMetricsZeroForUntouchedProject(t *testing.T) {
	env := newTestEnv(t)

	p := env.CreateProject("auth-service")
	m, err := env.Store.GetMetrics(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if m.TotalEntries != 0 {
		t.Errorf("total_entries = %d, want 0", m.TotalEntries)
	}
}

func TestUpdateProjectDocsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	p := env.CreateProject("auth-service")
	docs := map[string]string{
		"architecture": "/repo/.scribe/docs/dev_plans/auth-service/ARCHITECTURE_GUIDE.md",
		"progress_log": "/repo/.scribe/docs/dev_plans/auth-service/PROGRESS_LOG.md",
	}
	if err := env.Store.UpdateProjectDocs(env.Ctx, p.Name, docs); err != nil {
		t.Fatalf("UpdateProjectDocs failed: %v", err)
	}

	got, _ := env.Store.GetProject(env.Ctx, p.Name)
	if got.Docs["architecture"] != docs["architecture"] {
		t.Errorf("docs round trip lost architecture path: %v", got.Docs)
	}
	if got.Version != p.Version+1 {
		t.Errorf("version = %d, want %d", got.Version, p.Version+1)
	}
}
