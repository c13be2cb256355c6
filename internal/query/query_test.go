package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage/sqlite"
	"github.com/untoldecay/scribe/internal/types"
)

var testNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func testQueryEnv(t *testing.T) (*Engine, *types.Project, string) {
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

	e := New(store, st, Options{RepoRoot: root, DefaultPageSize: 20})
	e.Now = func() time.Time { return testNow }
	return e, project, root
}

func seedEntries(t *testing.T, e *Engine, project *types.Project, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		entry := &types.LogEntry{
			ID:          fmt.Sprintf("%032d", i),
			ProjectID:   project.ID,
			ProjectName: project.Name,
			TS:          testNow.Add(-time.Duration(n-i) * time.Hour),
			Emoji:       "ℹ️",
			Agent:       "Scribe",
			Message:     fmt.Sprintf("entry number %d", i),
			LogType:     "progress",
		}
		if i%5 == 0 {
			entry.Emoji = "✅"
			entry.Message = fmt.Sprintf("milestone %d reached", i)
			entry.Meta = types.Meta{{Key: "component", Value: "parser"}}
		}
		if err := e.store.InsertEntry(context.Background(), entry); err != nil {
			t.Fatalf("insert entry %d: %v", i, err)
		}
	}
}

func TestProjectScopePagination(t *testing.T) {
	e, project, _ := testQueryEnv(t)
	seedEntries(t, e, project, 25)

	resp, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo", Page: 1, PageSize: 10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(resp.Entries) != 10 {
		t.Fatalf("page size = %d, want 10", len(resp.Entries))
	}
	p := resp.Pagination
	if p.TotalCount != 25 || !p.HasNext || p.HasPrev {
		t.Fatalf("pagination = %+v", p)
	}
	// Newest first.
	if !resp.Entries[0].TS.After(resp.Entries[1].TS) {
		t.Fatal("entries not sorted newest first")
	}

	last, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo", Page: 3, PageSize: 10,
	})
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(last.Entries) != 5 || last.Pagination.HasNext || !last.Pagination.HasPrev {
		t.Fatalf("last page: %d entries, %+v", len(last.Entries), last.Pagination)
	}
}

func TestStatusMapsToEmoji(t *testing.T) {
	e, project, _ := testQueryEnv(t)
	seedEntries(t, e, project, 25)

	resp, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo", Statuses: []string{"success"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Pagination.TotalCount != 5 {
		t.Fatalf("success entries = %d, want 5", resp.Pagination.TotalCount)
	}
	for _, entry := range resp.Entries {
		if entry.Emoji != "✅" {
			t.Fatalf("status filter leaked emoji %q", entry.Emoji)
		}
	}
}

func TestMetaFilterEquality(t *testing.T) {
	e, project, _ := testQueryEnv(t)
	seedEntries(t, e, project, 25)

	resp, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo",
		MetaFilters: map[string]string{"component": "parser"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Pagination.TotalCount != 5 {
		t.Fatalf("meta filter matched %d, want 5", resp.Pagination.TotalCount)
	}

	none, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo",
		MetaFilters: map[string]string{"component": "other"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if none.Pagination.TotalCount != 0 {
		t.Fatalf("wrong meta value matched %d entries", none.Pagination.TotalCount)
	}
}

func TestMessageModes(t *testing.T) {
	e, project, _ := testQueryEnv(t)
	seedEntries(t, e, project, 25)

	sub, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo", Message: "MILESTONE",
	})
	if err != nil {
		t.Fatalf("substring: %v", err)
	}
	if sub.Pagination.TotalCount != 5 {
		t.Fatalf("case-insensitive substring matched %d, want 5", sub.Pagination.TotalCount)
	}

	cs, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo", Message: "MILESTONE", CaseSensitive: true,
	})
	if err != nil {
		t.Fatalf("case-sensitive: %v", err)
	}
	if cs.Pagination.TotalCount != 0 {
		t.Fatalf("case-sensitive substring matched %d, want 0", cs.Pagination.TotalCount)
	}

	re, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo",
		Message: `milestone \d+ reached`, MessageMode: "regex",
	})
	if err != nil {
		t.Fatalf("regex: %v", err)
	}
	if re.Pagination.TotalCount != 5 {
		t.Fatalf("regex matched %d, want 5", re.Pagination.TotalCount)
	}

	// Regex mode matches the whole message; a fragment that merely
	// occurs inside it does not count.
	frag, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo",
		Message: `milestone \d+`, MessageMode: "regex",
	})
	if err != nil {
		t.Fatalf("regex fragment: %v", err)
	}
	if frag.Pagination.TotalCount != 0 {
		t.Fatalf("unanchored fragment matched %d, want 0", frag.Pagination.TotalCount)
	}

	exact, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo",
		Message: "milestone 5 reached", MessageMode: "exact",
	})
	if err != nil {
		t.Fatalf("exact: %v", err)
	}
	if exact.Pagination.TotalCount != 1 {
		t.Fatalf("exact matched %d, want 1", exact.Pagination.TotalCount)
	}

	if _, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo",
		Message: "(", MessageMode: "regex",
	}); !fault.Is(err, fault.CodeMessageInvalid) {
		t.Fatalf("bad regex err = %v", err)
	}
}

func TestSymbolicTimeRanges(t *testing.T) {
	e, project, _ := testQueryEnv(t)
	old := &types.LogEntry{
		ID: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", ProjectID: project.ID,
		ProjectName: "demo", TS: testNow.AddDate(0, 0, -20),
		Emoji: "ℹ️", Agent: "Scribe", Message: "old entry", LogType: "progress",
	}
	recent := &types.LogEntry{
		ID: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", ProjectID: project.ID,
		ProjectName: "demo", TS: testNow.AddDate(0, 0, -2),
		Emoji: "ℹ️", Agent: "Scribe", Message: "recent entry", LogType: "progress",
	}
	for _, entry := range []*types.LogEntry{old, recent} {
		if err := e.store.InsertEntry(context.Background(), entry); err != nil {
			t.Fatal(err)
		}
	}

	week, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo", Since: "last_7d",
	})
	if err != nil {
		t.Fatalf("last_7d: %v", err)
	}
	if week.Pagination.TotalCount != 1 || week.Entries[0].Message != "recent entry" {
		t.Fatalf("last_7d got %d entries", week.Pagination.TotalCount)
	}

	month, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo", Since: "last_30d",
	})
	if err != nil {
		t.Fatalf("last_30d: %v", err)
	}
	if month.Pagination.TotalCount != 2 {
		t.Fatalf("last_30d got %d entries, want 2", month.Pagination.TotalCount)
	}
}

func TestFileFallbackWithoutMirror(t *testing.T) {
	e, _, root := testQueryEnv(t)

	// A project whose entries never reached the mirror.
	if _, err := e.store.EnsureProject(context.Background(), &types.Project{
		Name: "filer", Slug: "filer", RepoRoot: root,
	}); err != nil {
		t.Fatal(err)
	}
	dir := paths.DevPlanDir(root, "filer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	log := "# Progress Log\n\n---\n" +
		"[ℹ️] [2026-01-10 10:00:00 UTC] [Agent: A] [Project: filer] first line\n" +
		"[✅] [2026-01-10 11:00:00 UTC] [Agent: A] [Project: filer] second line | k=v\n"
	if err := os.WriteFile(filepath.Join(dir, "PROGRESS_LOG.md"), []byte(log), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := e.Run(context.Background(), Request{Scope: ScopeProject, Project: "filer"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Pagination.TotalCount != 2 {
		t.Fatalf("file fallback found %d entries, want 2", resp.Pagination.TotalCount)
	}
	if resp.Entries[0].Message != "second line" {
		t.Fatalf("newest-first violated: %q", resp.Entries[0].Message)
	}
	if v, _ := resp.Entries[0].Meta.Get("k"); v != "v" {
		t.Fatal("meta lost in file fallback")
	}
}

func TestGlobalScope(t *testing.T) {
	e, _, root := testQueryEnv(t)
	path := paths.GlobalProgressLog(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	line := "[ℹ️] [2026-01-10 09:00:00 UTC] [Agent: A] [Project: global] repo-wide note\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := e.Run(context.Background(), Request{Scope: ScopeGlobal})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Pagination.TotalCount != 1 || resp.Entries[0].Message != "repo-wide note" {
		t.Fatalf("global scope: %+v", resp.Pagination)
	}
}

func TestResearchScopeParsesSections(t *testing.T) {
	e, _, root := testQueryEnv(t)
	dir := filepath.Join(paths.DevPlanDir(root, "demo"), "research")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := "# Research: caching\n\nintro\n\n## Question\n\nWhat to cache?\n\n## Findings\n\nCache the parse table.\n"
	if err := os.WriteFile(filepath.Join(dir, "caching.md"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := e.Run(context.Background(), Request{Scope: ScopeResearch})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var headings []string
	for _, entry := range resp.Entries {
		if v, _ := entry.Meta.Get("document_type"); v == "research" {
			headings = append(headings, entry.Message)
		}
	}
	if len(headings) != 3 {
		t.Fatalf("sections = %v, want 3", headings)
	}
	if resp.Entries[0].Agent != "DocumentParser" {
		t.Fatalf("synthetic agent = %q", resp.Entries[0].Agent)
	}
}

func TestRelevanceScoringOrdersResults(t *testing.T) {
	e, project, _ := testQueryEnv(t)
	rows := []*types.LogEntry{
		{ID: "cccccccccccccccccccccccccccccccc", Message: "parser cache rebuilt from scratch", TS: testNow.Add(-time.Hour)},
		{ID: "dddddddddddddddddddddddddddddddd", Message: "cache metrics exported", TS: testNow.Add(-2 * time.Hour)},
		{ID: "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee", Message: "unrelated cleanup", TS: testNow.Add(-3 * time.Hour)},
	}
	for _, r := range rows {
		r.ProjectID = project.ID
		r.ProjectName = "demo"
		r.Emoji = "ℹ️"
		r.Agent = "Scribe"
		r.LogType = "progress"
		if err := e.store.InsertEntry(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo",
		Message: "parser cache", RelevanceThreshold: 0.6,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Pagination.TotalCount != 2 {
		t.Fatalf("threshold kept %d, want 2", resp.Pagination.TotalCount)
	}
	if resp.Entries[0].RelevanceScore <= resp.Entries[1].RelevanceScore {
		t.Fatal("results not ordered by relevance")
	}
	if resp.Entries[0].Message != "parser cache rebuilt from scratch" {
		t.Fatalf("top hit = %q", resp.Entries[0].Message)
	}
}

func TestVerifyCodeReferences(t *testing.T) {
	e, project, root := testQueryEnv(t)
	if err := os.WriteFile(filepath.Join(root, "real.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rows := []*types.LogEntry{
		{ID: "ffffffffffffffffffffffffffffffff", Message: "documented in real.md"},
		{ID: "00000000000000000000000000000001", Message: "see missing/ghost.py for details"},
	}
	for _, r := range rows {
		r.ProjectID = project.ID
		r.ProjectName = "demo"
		r.TS = testNow.Add(-time.Hour)
		r.Emoji = "ℹ️"
		r.Agent = "Scribe"
		r.LogType = "progress"
		if err := e.store.InsertEntry(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo", VerifyCodeReferences: true,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	byMsg := map[string]*Entry{}
	for _, entry := range resp.Entries {
		byMsg[entry.Message] = entry
	}
	good := byMsg["documented in real.md"]
	if v, _ := good.Meta.Get("code_reference_verification"); v != "passed" {
		t.Fatalf("good ref verification = %q", v)
	}
	bad := byMsg["see missing/ghost.py for details"]
	if v, _ := bad.Meta.Get("code_reference_verification"); v != "failed" {
		t.Fatalf("bad ref verification = %q", v)
	}
	if bad.Emoji != "⚠️" || len(bad.BrokenRefs) != 1 {
		t.Fatalf("broken ref handling: %+v", bad)
	}
}

func TestCompactModeTruncates(t *testing.T) {
	e, project, _ := testQueryEnv(t)
	long := &types.LogEntry{
		ID: "11111111111111111111111111111111", ProjectID: project.ID,
		ProjectName: "demo", TS: testNow.Add(-time.Hour), Emoji: "ℹ️",
		Agent: "Scribe", LogType: "progress",
	}
	for i := 0; i < 30; i++ {
		long.Message += "verylongword "
	}
	if err := e.store.InsertEntry(context.Background(), long); err != nil {
		t.Fatal(err)
	}

	resp, err := e.Run(context.Background(), Request{
		Scope: ScopeProject, Project: "demo", Compact: true,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Entries != nil || len(resp.Compact) != 1 {
		t.Fatalf("compact shape: entries=%d compact=%d", len(resp.Entries), len(resp.Compact))
	}
	msg := resp.Compact[0]["m"].(string)
	if len(msg) != 100 {
		t.Fatalf("compact message length = %d, want 100", len(msg))
	}
}

func TestUnknownScopeRejected(t *testing.T) {
	e, _, _ := testQueryEnv(t)
	if _, err := e.Run(context.Background(), Request{Scope: "everything"}); !fault.Is(err, fault.CodeMessageInvalid) {
		t.Fatalf("err = %v", err)
	}
}

func TestParseTimeRangeForms(t *testing.T) {
	now := testNow
	tr, err := ParseTimeRange("", "2026-01-01", "2026-01-05", now)
	if err != nil {
		t.Fatalf("explicit bounds: %v", err)
	}
	if tr.Start.Hour() != 0 || tr.End.Hour() != 23 {
		t.Fatalf("date-only bounds: %v .. %v", tr.Start, tr.End)
	}

	if _, err := ParseTimeRange("", "2026-01-05", "2026-01-01", now); err == nil {
		t.Fatal("inverted range accepted")
	}

	tr, err = ParseTimeRange("today", "", "", now)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if tr.Start.Day() != now.Day() || !tr.Contains(now) {
		t.Fatalf("today range: %v .. %v", tr.Start, tr.End)
	}

	tr, err = ParseTimeRange("", "2 days ago", "", now)
	if err != nil {
		t.Fatalf("natural language: %v", err)
	}
	if tr.Start == nil || now.Sub(*tr.Start) < 47*time.Hour || now.Sub(*tr.Start) > 49*time.Hour {
		t.Fatalf("natural language start = %v", tr.Start)
	}
}
