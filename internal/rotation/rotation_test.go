package rotation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/scribe/internal/integrity"
	"github.com/untoldecay/scribe/internal/logtypes"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage/sqlite"
	"github.com/untoldecay/scribe/internal/types"
)

func testEngine(t *testing.T) (*Engine, *types.Project, string) {
	t.Helper()
	root := t.TempDir()

	store, err := sqlite.New(context.Background(), filepath.Join(root, ".scribe", "state.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	st, err := state.Load(filepath.Join(root, ".scribe", "state.json"))
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	project, err := store.EnsureProject(context.Background(), &types.Project{
		Name: "demo", Slug: "demo", RepoRoot: root,
	})
	if err != nil {
		t.Fatalf("ensure project: %v", err)
	}

	e := New(store, st, logtypes.Default(), Options{
		RepoRoot:         root,
		DefaultThreshold: 500,
		LockTimeout:      5 * time.Second,
		StorageTimeout:   5 * time.Second,
	})
	return e, project, root
}

func writeLog(t *testing.T, root string, lines int) string {
	t.Helper()
	path := filepath.Join(paths.DevPlanDir(root, "demo"), "PROGRESS_LOG.md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, "[ℹ️] [2026-01-05 12:00:%02d UTC] [Agent: T] [Project: demo] entry %d\n", i%60, i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDryRunLeavesFileAlone(t *testing.T) {
	e, project, root := testEngine(t)
	path := writeLog(t, root, 600)
	before, _ := os.ReadFile(path)

	res, err := e.Rotate(context.Background(), Request{
		Project:  project,
		LogTypes: []string{logtypes.TypeProgress},
		DryRun:   true,
		Mode:     ModeEstimate,
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	r := res.Results[0]
	if r.Rotated || r.Error != "" {
		t.Fatalf("dry run must not rotate: %+v", r)
	}
	if r.ArchivePath == "" {
		t.Fatal("dry run should project an archive path")
	}
	if r.EstimatedEntries <= 0 {
		t.Fatalf("estimated entries = %d", r.EstimatedEntries)
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatal("dry run modified the log file")
	}
	if _, err := os.Stat(r.ArchivePath); !os.IsNotExist(err) {
		t.Fatal("dry run created the archive")
	}
}

func TestPreciseDryRunSeedsCache(t *testing.T) {
	e, project, root := testEngine(t)
	writeLog(t, root, 300)

	res, err := e.Rotate(context.Background(), Request{
		Project:  project,
		LogTypes: []string{logtypes.TypeProgress},
		DryRun:   true,
		Mode:     ModePrecise,
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	r := res.Results[0]
	if r.Approximate {
		t.Fatalf("precise mode returned approximate count: %+v", r)
	}
	if r.EstimatedEntries != 300 {
		t.Fatalf("precise count = %d, want 300", r.EstimatedEntries)
	}
	fs, ok := e.state.Stats("demo", logtypes.TypeProgress)
	if !ok || !fs.Initialized || fs.LineCount != 300 {
		t.Fatalf("cache not seeded: %+v", fs)
	}
}

func TestAutoThresholdSkipsBelow(t *testing.T) {
	e, project, root := testEngine(t)
	writeLog(t, root, 20)

	res, err := e.Rotate(context.Background(), Request{
		Project:       project,
		LogTypes:      []string{logtypes.TypeProgress},
		AutoThreshold: true,
		Confirm:       true,
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	r := res.Results[0]
	if !r.Skipped || r.SkipReason != "threshold_not_reached" {
		t.Fatalf("want threshold skip, got %+v", r)
	}
	if res.Skipped != 1 || res.Rotated != 0 {
		t.Fatalf("summary: %+v", res)
	}
}

func TestRotateSwapsFileAndChainsHash(t *testing.T) {
	e, project, root := testEngine(t)
	path := writeLog(t, root, 600)
	original, _ := os.ReadFile(path)

	res, err := e.Rotate(context.Background(), Request{
		Project:  project,
		LogTypes: []string{logtypes.TypeProgress},
		Confirm:  true,
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	r := res.Results[0]
	if !r.Rotated || r.Error != "" {
		t.Fatalf("rotation failed: %+v", r)
	}

	archived, err := os.ReadFile(r.ArchivePath)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(archived) != string(original) {
		t.Fatal("archive does not hold the original bytes")
	}
	if m, _ := regexp.MatchString(`PROGRESS_LOG\.archive_[0-9a-f]{8}\.md$`, r.ArchivePath); !m {
		t.Fatalf("archive name %q", filepath.Base(r.ArchivePath))
	}

	fresh, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fresh log: %v", err)
	}
	if !strings.Contains(string(fresh), r.RotationID) {
		t.Fatal("fresh header should name the rotation id")
	}
	if strings.Contains(string(fresh), "{{") {
		t.Fatal("unrendered placeholder in fresh header")
	}

	sha, _, _, err := integrity.HashAndCount(r.ArchivePath)
	if err != nil || sha != r.ArchiveSHA256 {
		t.Fatalf("archive sha mismatch: %s vs %s (%v)", sha, r.ArchiveSHA256, err)
	}

	chain, ok := e.state.Chain("demo", logtypes.TypeProgress)
	if !ok {
		t.Fatal("hash chain not recorded")
	}
	if chain.LastHash != sha || chain.LastSequence != 1 {
		t.Fatalf("chain = %+v", chain)
	}
	if chain.RootHash != integrity.ChainRoot("", sha) {
		t.Fatal("first rotation root must chain from the empty root")
	}

	rec, err := e.store.LastRotation(context.Background(), project.ID, logtypes.TypeProgress)
	if err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if rec.RotationID != r.RotationID || rec.SequenceNumber != 1 || rec.ArchiveSHA256 != sha {
		t.Fatalf("audit row = %+v", rec)
	}
	if rec.PreviousHash != "" {
		t.Fatalf("first rotation previous_hash = %q, want empty", rec.PreviousHash)
	}
}

func TestSecondRotationAdvancesSequence(t *testing.T) {
	e, project, root := testEngine(t)
	writeLog(t, root, 600)

	first, err := e.Rotate(context.Background(), Request{
		Project: project, LogTypes: []string{logtypes.TypeProgress}, Confirm: true,
	})
	if err != nil {
		t.Fatalf("first rotate: %v", err)
	}
	firstSHA := first.Results[0].ArchiveSHA256

	writeLog(t, root, 600)
	second, err := e.Rotate(context.Background(), Request{
		Project: project, LogTypes: []string{logtypes.TypeProgress}, Confirm: true,
	})
	if err != nil {
		t.Fatalf("second rotate: %v", err)
	}
	r := second.Results[0]
	if r.Sequence != 2 {
		t.Fatalf("sequence = %d, want 2", r.Sequence)
	}

	chain, _ := e.state.Chain("demo", logtypes.TypeProgress)
	wantRoot := integrity.ChainRoot(integrity.ChainRoot("", firstSHA), r.ArchiveSHA256)
	if chain.RootHash != wantRoot {
		t.Fatal("root hash must chain across rotations")
	}

	rec, err := e.store.LastRotation(context.Background(), project.ID, logtypes.TypeProgress)
	if err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if rec.PreviousHash != firstSHA {
		t.Fatal("second rotation must record the first archive hash as previous")
	}

	rows, err := e.store.ListRotations(context.Background(), project.ID, logtypes.TypeProgress, 10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("rotation history: %v rows, err %v", len(rows), err)
	}
}

func TestBatchRotateIsPerLog(t *testing.T) {
	e, project, root := testEngine(t)
	writeLog(t, root, 600)
	// bugs log does not exist; that is a skip, not a failure.

	res, err := e.Rotate(context.Background(), Request{
		Project:  project,
		LogTypes: []string{logtypes.TypeProgress, logtypes.TypeBugs},
		Confirm:  true,
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !res.OK || res.Rotated != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("summary: %+v", res)
	}
	for _, r := range res.Results {
		if r.LogType == logtypes.TypeBugs && r.SkipReason != "file_missing_or_empty" {
			t.Fatalf("bugs log: %+v", r)
		}
	}
}

func TestRotateOversizeReportsArchive(t *testing.T) {
	e, project, root := testEngine(t)
	path := writeLog(t, root, 600)

	warnings, err := e.RotateOversize(context.Background(), project, logtypes.TypeProgress, path)
	if err != nil {
		t.Fatalf("rotate oversize: %v", err)
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "rotated before append") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v", warnings)
	}
}

func TestPreflightBackupWritten(t *testing.T) {
	e, project, root := testEngine(t)
	writeLog(t, root, 600)

	res, err := e.Rotate(context.Background(), Request{
		Project: project, LogTypes: []string{logtypes.TypeProgress}, Confirm: true,
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	backup := res.Results[0].BackupPath
	if backup == "" {
		t.Fatal("no preflight backup recorded")
	}
	if _, err := os.Stat(backup); err != nil {
		t.Fatalf("backup missing: %v", err)
	}
}
