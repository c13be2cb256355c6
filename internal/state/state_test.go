package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/untoldecay/scribe/internal/fault"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return m
}

func TestSetCurrentProjectVersioning(t *testing.T) {
	m := newTestManager(t)

	v1, err := m.SetCurrentProject("Claude", "alpha", -1, "Claude", "sess-1")
	if err != nil {
		t.Fatalf("first set failed: %v", err)
	}
	if v1 != 1 {
		t.Errorf("first version = %d, want 1", v1)
	}

	// Correct expected version succeeds.
	v2, err := m.SetCurrentProject("Claude", "beta", v1, "Claude", "sess-1")
	if err != nil {
		t.Fatalf("versioned set failed: %v", err)
	}
	if v2 != 2 {
		t.Errorf("second version = %d, want 2", v2)
	}

	// Stale expected version conflicts and leaves the binding alone.
	_, err = m.SetCurrentProject("Claude", "gamma", v1, "Claude", "sess-1")
	var ferr *fault.Error
	if !errors.As(err, &ferr) || ferr.Code != fault.CodeVersionConflict {
		t.Fatalf("stale set = %v, want VersionConflict", err)
	}
	if name, v := m.CurrentProject("Claude"); name != "beta" || v != 2 {
		t.Errorf("after conflict binding = %q v%d, want beta v2", name, v)
	}
}

func TestCurrentProjectFallsBackToSession(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.SetCurrentProject("", "shared", -1, "", ""); err != nil {
		t.Fatalf("session set failed: %v", err)
	}
	if name, _ := m.CurrentProject("Cursor"); name != "shared" {
		t.Errorf("unbound agent resolved %q, want shared", name)
	}
}

func TestRecentProjectsDedupAndCap(t *testing.T) {
	m := newTestManager(t)

	names := []string{"a", "b", "c", "a", "d", "e", "f", "g", "h", "i", "j", "k"}
	for _, n := range names {
		if err := m.TouchProject(n); err != nil {
			t.Fatalf("TouchProject(%q) failed: %v", n, err)
		}
	}

	recent := m.RecentProjects()
	if len(recent) != 10 {
		t.Fatalf("recent length = %d, want 10", len(recent))
	}
	if recent[0] != "k" {
		t.Errorf("head = %q, want k", recent[0])
	}
	seen := map[string]bool{}
	for _, n := range recent {
		if seen[n] {
			t.Errorf("duplicate %q in recent list", n)
		}
		seen[n] = true
	}
}

func TestSnapshotSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := m.SetCurrentProject("Claude", "alpha", -1, "Claude", ""); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := m.SetStats("alpha", "progress", FileStats{
		SizeBytes:       4096,
		LineCount:       51,
		EMABytesPerLine: 80.3,
		Initialized:     true,
	}); err != nil {
		t.Fatalf("SetStats failed: %v", err)
	}
	if err := m.SetChain("alpha", "progress", HashChain{
		LastHash:     "aa",
		RootHash:     "bb",
		LastSequence: 3,
	}); err != nil {
		t.Fatalf("SetChain failed: %v", err)
	}

	re, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if name, v := re.CurrentProject("Claude"); name != "alpha" || v != 1 {
		t.Errorf("reloaded binding = %q v%d, want alpha v1", name, v)
	}
	stats, ok := re.Stats("alpha", "progress")
	if !ok || stats.LineCount != 51 || !stats.Initialized {
		t.Errorf("reloaded stats = %+v ok=%v", stats, ok)
	}
	chain, ok := re.Chain("alpha", "progress")
	if !ok || chain.LastSequence != 3 || chain.RootHash != "bb" {
		t.Errorf("reloaded chain = %+v ok=%v", chain, ok)
	}
}

func TestCorruptSnapshotStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load on corrupt snapshot failed: %v", err)
	}
	if got := m.RecentProjects(); len(got) != 0 {
		t.Errorf("fresh state has recent projects: %v", got)
	}
}
