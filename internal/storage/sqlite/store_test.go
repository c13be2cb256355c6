package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/scribe/internal/types"
)

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.sqlite")

	ctx := context.Background()
	store, err := New(ctx, path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := store.EnsureProject(ctx, &types.Project{Name: "alpha", Slug: "alpha"}); err != nil {
		t.Fatalf("EnsureProject failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	p, err := reopened.GetProject(ctx, "alpha")
	if err != nil {
		t.Fatalf("GetProject after reopen failed: %v", err)
	}
	if p.Name != "alpha" {
		t.Errorf("project name = %q, want alpha", p.Name)
	}
}

func TestMigrationsAreRecordedOnce(t *testing.T) {
	env := newTestEnv(t)

	// Schema setup already ran them; a second run must be a no-op.
	if err := RunMigrations(env.Store.db); err != nil {
		t.Fatalf("second RunMigrations failed: %v", err)
	}

	var n int
	err := env.Store.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n)
	if err != nil {
		t.Fatalf("count migrations failed: %v", err)
	}
	if n != len(migrationsList) {
		t.Errorf("recorded migrations = %d, want %d", n, len(migrationsList))
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) failed: %v", err)
	}
	defer store.Close()

	p, err := store.EnsureProject(ctx, &types.Project{Name: "alpha", Slug: "alpha"})
	if err != nil {
		t.Fatalf("EnsureProject failed: %v", err)
	}
	if err := store.TouchProjectEntry(ctx, p.Name, time.Now().UTC()); err != nil {
		t.Fatalf("TouchProjectEntry failed: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	sess := &types.Session{
		SessionID:          "sess-1",
		TransportSessionID: "conn-9",
		AgentID:            "Claude",
		Mode:               types.ModeProject,
		ProjectName:        "alpha",
	}
	if err := env.Store.UpsertSession(env.Ctx, sess); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	sess.ProjectName = "beta"
	if err := env.Store.UpsertSession(env.Ctx, sess); err != nil {
		t.Fatalf("second UpsertSession failed: %v", err)
	}

	got, err := env.Store.GetSession(env.Ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.ProjectName != "beta" || got.Mode != types.ModeProject {
		t.Errorf("session = %+v, want project beta in project mode", got)
	}
}

func TestAgentRecency(t *testing.T) {
	env := newTestEnv(t)

	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	for i, name := range []string{"alpha", "beta", "alpha", "gamma"} {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := env.Store.TouchAgentProject(env.Ctx, "Claude", name, at); err != nil {
			t.Fatalf("TouchAgentProject failed: %v", err)
		}
	}

	recent, err := env.Store.RecentProjectsForAgent(env.Ctx, "Claude", 2)
	if err != nil {
		t.Fatalf("RecentProjectsForAgent failed: %v", err)
	}
	if len(recent) != 2 || recent[0] != "gamma" || recent[1] != "alpha" {
		t.Errorf("recent = %v, want [gamma alpha]", recent)
	}
}

func TestDevPlanUpsertBumpsVersion(t *testing.T) {
	env := newTestEnv(t)

	p := env.CreateProject("alpha")
	plan := &types.DevPlan{ProjectID: p.ID, PlanType: "architecture", FilePath: "/a.md"}
	if err := env.Store.UpsertDevPlan(env.Ctx, plan); err != nil {
		t.Fatalf("UpsertDevPlan failed: %v", err)
	}
	plan.FilePath = "/b.md"
	if err := env.Store.UpsertDevPlan(env.Ctx, plan); err != nil {
		t.Fatalf("second UpsertDevPlan failed: %v", err)
	}

	plans, err := env.Store.ListDevPlans(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("ListDevPlans failed: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("plans = %d, want 1", len(plans))
	}
	if plans[0].FilePath != "/b.md" || plans[0].Version != 2 {
		t.Errorf("plan = %+v, want /b.md at version 2", plans[0])
	}
}

func TestDocChangeAudit(t *testing.T) {
	env := newTestEnv(t)

	p := env.CreateProject("alpha")
	at := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	change := &types.DocumentChange{
		ProjectID:     p.ID,
		Doc:           "architecture",
		SectionAnchor: "overview",
		Action:        "replace_section",
		Agent:         "Claude",
		TS:            at,
	}
	if err := env.Store.InsertDocChange(env.Ctx, change); err != nil {
		t.Fatalf("InsertDocChange failed: %v", err)
	}

	last, err := env.Store.LastDocUpdateAt(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("LastDocUpdateAt failed: %v", err)
	}
	if !last.Equal(at) {
		t.Errorf("last doc update = %v, want %v", last, at)
	}

	n, err := env.Store.CountDocChanges(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("CountDocChanges failed: %v", err)
	}
	if n != 1 {
		t.Errorf("doc changes = %d, want 1", n)
	}
}
