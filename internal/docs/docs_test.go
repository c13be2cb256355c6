package docs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/integrity"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/storage/sqlite"
	"github.com/untoldecay/scribe/internal/types"
)

var docsTestNow = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

type docsEnv struct {
	t       *testing.T
	ctx     context.Context
	root    string
	store   *sqlite.Store
	manager *Manager
	project *types.Project
}

func newDocsEnv(t *testing.T) *docsEnv {
	t.Helper()
	root := t.TempDir()
	ctx := context.Background()

	store, err := sqlite.New(ctx, filepath.Join(root, "state.sqlite"))
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notes := filepath.Join(root, ".scribe", "docs", "dev_plans", "demo", "NOTES.md")
	project, err := store.EnsureProject(ctx, &types.Project{
		Name:     "demo",
		Slug:     "demo",
		RepoRoot: root,
		Docs:     map[string]string{"notes": notes},
	})
	if err != nil {
		t.Fatalf("EnsureProject failed: %v", err)
	}

	m := New(store, registry.New(store, nil), Options{
		RepoRoot:       root,
		LockTimeout:    2 * time.Second,
		StorageTimeout: 2 * time.Second,
	})
	m.Now = func() time.Time { return docsTestNow }

	return &docsEnv{t: t, ctx: ctx, root: root, store: store, manager: m, project: project}
}

func (e *docsEnv) writeNotes(content string) string {
	e.t.Helper()
	path := e.project.Docs["notes"]
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("write failed: %v", err)
	}
	return path
}

func (e *docsEnv) readNotes() string {
	e.t.Helper()
	data, err := os.ReadFile(e.project.Docs["notes"])
	if err != nil {
		e.t.Fatalf("read failed: %v", err)
	}
	return string(data)
}

const anchoredNotes = `<!-- ID: overview -->
## Overview

Old text.

<!-- ID: details -->
## Details

Body.
`

func TestReplaceSectionKeepsAnchorAndNeighbors(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes(anchoredNotes)

	res, err := e.manager.Execute(e.ctx, Request{
		Action:  "replace_section",
		Project: "demo",
		Doc:     "notes",
		Anchor:  "overview",
		Content: "## Overview\n\nNew text.\n",
		Agent:   "Claude",
	})
	if err != nil {
		t.Fatalf("replace_section failed: %v", err)
	}
	if !res.OK || res.SHABefore == res.SHAAfter {
		t.Fatalf("result = %+v, want OK with changed hash", res)
	}

	got := e.readNotes()
	if !strings.Contains(got, "<!-- ID: overview -->\n## Overview\n\nNew text.\n") {
		t.Errorf("section not replaced:\n%s", got)
	}
	if strings.Contains(got, "Old text.") {
		t.Error("old section content survived")
	}
	if !strings.Contains(got, "<!-- ID: details -->\n## Details\n\nBody.") {
		t.Errorf("neighboring section disturbed:\n%s", got)
	}
}

func TestReplaceSectionUnknownAnchor(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes(anchoredNotes)

	_, err := e.manager.Execute(e.ctx, Request{
		Action: "replace_section", Project: "demo", Doc: "notes",
		Anchor: "missing", Content: "x",
	})
	if fault.CodeOf(err) != fault.CodeSectionNotFound {
		t.Fatalf("error = %v, want SectionNotFound", err)
	}
	fe, _ := fault.From(err)
	if !strings.Contains(fe.Suggestion, "overview") || !strings.Contains(fe.Suggestion, "details") {
		t.Errorf("suggestion %q should list known anchors", fe.Suggestion)
	}
}

func TestDuplicateAnchorRejected(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("<!-- ID: a -->\none\n<!-- ID: a -->\ntwo\n")

	_, err := e.manager.Execute(e.ctx, Request{
		Action: "replace_section", Project: "demo", Doc: "notes",
		Anchor: "a", Content: "x",
	})
	if fault.CodeOf(err) != fault.CodeDuplicateAnchor {
		t.Fatalf("error = %v, want DuplicateAnchor", err)
	}
}

func TestFrontmatterSurvivesEdit(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("---\ntitle: Notes\nowner: demo\n---\n" + anchoredNotes)

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "replace_section", Project: "demo", Doc: "notes",
		Anchor: "overview", Content: "## Overview\n\nEdited.\n",
	})
	if err != nil {
		t.Fatalf("replace_section failed: %v", err)
	}
	if res.BodyLineOffset != 4 {
		t.Errorf("body line offset = %d, want 4", res.BodyLineOffset)
	}
	got := e.readNotes()
	if !strings.HasPrefix(got, "---\ntitle: Notes\nowner: demo\n---\n") {
		t.Errorf("frontmatter mangled:\n%s", got)
	}
	if !strings.Contains(got, "Edited.") {
		t.Error("edit did not land")
	}
}

func TestReplaceRangeOutOfBounds(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("one\ntwo\nthree\n")

	_, err := e.manager.Execute(e.ctx, Request{
		Action: "replace_range", Project: "demo", Doc: "notes",
		StartLine: 2, EndLine: 99, Content: "x",
	})
	if fault.CodeOf(err) != fault.CodeMessageInvalid {
		t.Fatalf("error = %v, want MessageInvalid", err)
	}
}

func TestReplaceTextCountGuard(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("alpha beta\nalpha gamma\n")

	// Default expected count is 1; two occurrences must be refused.
	_, err := e.manager.Execute(e.ctx, Request{
		Action: "replace_text", Project: "demo", Doc: "notes",
		Old: "alpha", Content: "omega",
	})
	if fault.CodeOf(err) != fault.CodeMessageInvalid {
		t.Fatalf("ambiguous replace = %v, want MessageInvalid", err)
	}

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "replace_text", Project: "demo", Doc: "notes",
		Old: "alpha", Content: "omega", ExpectedCount: -1,
	})
	if err != nil {
		t.Fatalf("replace all failed: %v", err)
	}
	if res.Replaced != 2 {
		t.Errorf("replaced = %d, want 2", res.Replaced)
	}
	if got := e.readNotes(); strings.Contains(got, "alpha") {
		t.Errorf("occurrences left behind:\n%s", got)
	}
}

func TestAppendSeparatesWithBlankLine(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("# Notes\n\nBody.\n")

	if _, err := e.manager.Execute(e.ctx, Request{
		Action: "append", Project: "demo", Doc: "notes", Content: "New para.",
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if got := e.readNotes(); got != "# Notes\n\nBody.\n\nNew para.\n" {
		t.Errorf("appended file = %q", got)
	}
}

func TestStructuredPatchPreImageGuard(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes(anchoredNotes)

	d, err := Parse(anchoredNotes)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	body, err := d.SectionBody("overview")
	if err != nil {
		t.Fatalf("SectionBody failed: %v", err)
	}

	_, err = e.manager.Execute(e.ctx, Request{
		Action: "apply_patch", Project: "demo", Doc: "notes",
		Edit: &StructuredEdit{Operations: []PatchOperation{{
			Action: "replace_section", Anchor: "overview",
			Content:   "## Overview\n\nPatched.\n",
			PreSHA256: "0000000000000000000000000000000000000000000000000000000000000000",
		}}},
	})
	if fault.CodeOf(err) != fault.CodePatchHashMismatch {
		t.Fatalf("stale pre-image = %v, want PatchHashMismatch", err)
	}
	if strings.Contains(e.readNotes(), "Patched.") {
		t.Fatal("failed patch reached disk")
	}

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "apply_patch", Project: "demo", Doc: "notes",
		Edit: &StructuredEdit{Operations: []PatchOperation{{
			Action: "replace_section", Anchor: "overview",
			Content:   "## Overview\n\nPatched.\n",
			PreSHA256: integrity.HashBytes([]byte(body)),
		}}},
	})
	if err != nil {
		t.Fatalf("valid patch failed: %v", err)
	}
	if !res.OK || !strings.Contains(e.readNotes(), "Patched.") {
		t.Error("valid patch did not apply")
	}
}

func TestUnifiedPatchNeedsMatchingSourceHash(t *testing.T) {
	e := newDocsEnv(t)
	content := "line one\nline two\nline three\n"
	e.writeNotes(content)

	diff := "--- a/NOTES.md\n+++ b/NOTES.md\n@@ -2,1 +2,1 @@\n-line two\n+line 2\n"

	_, err := e.manager.Execute(e.ctx, Request{
		Action: "apply_patch", Project: "demo", Doc: "notes", Diff: diff,
	})
	if fault.CodeOf(err) != fault.CodePatchHashMismatch {
		t.Fatalf("missing source hash = %v, want PatchHashMismatch", err)
	}

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "apply_patch", Project: "demo", Doc: "notes",
		Diff: diff, PatchSourceHash: integrity.HashBytes([]byte(content)),
	})
	if err != nil {
		t.Fatalf("unified patch failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if got := e.readNotes(); got != "line one\nline 2\nline three\n" {
		t.Errorf("patched file = %q", got)
	}
}

func TestApplyPatchDryRunNeverMutates(t *testing.T) {
	e := newDocsEnv(t)
	content := "line one\nline two\nline three\n"
	e.writeNotes(content)

	diff := "--- a/NOTES.md\n+++ b/NOTES.md\n@@ -2,1 +2,1 @@\n-line two\n+line 2\n"

	dry, err := e.manager.Execute(e.ctx, Request{
		Action: "apply_patch", Project: "demo", Doc: "notes",
		Diff: diff, PatchSourceHash: integrity.HashBytes([]byte(content)),
		DryRun: true,
	})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !dry.OK || !dry.DryRun {
		t.Fatalf("result = %+v", dry)
	}
	if got := e.readNotes(); got != content {
		t.Fatalf("dry run touched the file: %q", got)
	}
	if n, err := e.store.CountDocChanges(e.ctx, e.project.ID); err != nil || n != 0 {
		t.Fatalf("dry run recorded a change: n=%d err=%v", n, err)
	}

	// The projected hash matches what a real apply produces.
	wet, err := e.manager.Execute(e.ctx, Request{
		Action: "apply_patch", Project: "demo", Doc: "notes",
		Diff: diff, PatchSourceHash: integrity.HashBytes([]byte(content)),
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if wet.SHAAfter != dry.SHAAfter {
		t.Errorf("projected sha %q != applied sha %q", dry.SHAAfter, wet.SHAAfter)
	}
	if got := e.readNotes(); got != "line one\nline 2\nline three\n" {
		t.Errorf("patched file = %q", got)
	}
}

func TestStatusUpdateTogglesChecklistItem(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("# Plan\n\n- [ ] write tests\n- [x] draft design\n")

	if _, err := e.manager.Execute(e.ctx, Request{
		Action: "status_update", Project: "demo", Doc: "notes",
		Item: "Write Tests", Checked: true,
	}); err != nil {
		t.Fatalf("status_update failed: %v", err)
	}

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "list_checklist_items", Project: "demo", Doc: "notes",
	})
	if err != nil {
		t.Fatalf("list_checklist_items failed: %v", err)
	}
	if len(res.Checklist) != 2 {
		t.Fatalf("checklist items = %d, want 2", len(res.Checklist))
	}
	if !res.Checklist[0].Checked || res.Checklist[0].Text != "write tests" {
		t.Errorf("item 0 = %+v, want checked 'write tests'", res.Checklist[0])
	}
}

func TestGenerateTOC(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("# Title\n\n## First Part\n\ntext\n\n### Sub Item\n\n## Second Part\n")

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "generate_toc", Project: "demo", Doc: "notes",
	})
	if err != nil {
		t.Fatalf("generate_toc failed: %v", err)
	}
	want := "- [First Part](#first-part)\n  - [Sub Item](#sub-item)\n- [Second Part](#second-part)\n"
	if res.TOC != want {
		t.Errorf("toc = %q, want %q", res.TOC, want)
	}
}

func TestNormalizeHeadersReportsChanges(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("#  Sloppy Title  ##\n\n## Fine Heading\n")

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "normalize_headers", Project: "demo", Doc: "notes",
	})
	if err != nil {
		t.Fatalf("normalize_headers failed: %v", err)
	}
	if res.Replaced != 1 {
		t.Errorf("changed = %d, want 1", res.Replaced)
	}
	if got := e.readNotes(); !strings.HasPrefix(got, "# Sloppy Title\n") {
		t.Errorf("heading not normalized: %q", got)
	}
}

func TestListSectionsWarnsOnDuplicates(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("<!-- ID: a -->\n## One\n<!-- ID: a -->\n## Two\n")

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "list_sections", Project: "demo", Doc: "notes",
	})
	if err != nil {
		t.Fatalf("list_sections failed: %v", err)
	}
	if len(res.Sections) != 2 {
		t.Errorf("sections = %d, want 2", len(res.Sections))
	}
	if len(res.Duplicates["a"]) != 2 || len(res.Warnings) == 0 {
		t.Errorf("duplicates not surfaced: %+v warnings %v", res.Duplicates, res.Warnings)
	}
}

func TestCreateDocRegistersUnderDevPlanDir(t *testing.T) {
	e := newDocsEnv(t)

	rel := filepath.Join(".scribe", "docs", "dev_plans", "demo", "DECISIONS.md")
	res, err := e.manager.Execute(e.ctx, Request{
		Action: "create_doc", Project: "demo", Path: rel,
		Content: "# Decisions\n",
	})
	if err != nil {
		t.Fatalf("create_doc failed: %v", err)
	}
	if res.Doc != "decisions" {
		t.Errorf("registered key = %q, want decisions", res.Doc)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Fatalf("created file missing: %v", err)
	}

	p, err := e.store.GetProject(e.ctx, "demo")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if p.Docs["decisions"] != res.Path {
		t.Errorf("docs map = %v, want decisions -> %s", p.Docs, res.Path)
	}
	if p.Docs["notes"] == "" {
		t.Error("registration dropped the existing docs entry")
	}

	// The registered doc is now editable by key.
	if _, err := e.manager.Execute(e.ctx, Request{
		Action: "append", Project: "demo", Doc: "decisions", Content: "First decision.",
	}); err != nil {
		t.Errorf("append to registered doc failed: %v", err)
	}
}

func TestCreateDocRefusesExistingAndEscapes(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("# Notes\n")

	_, err := e.manager.Execute(e.ctx, Request{
		Action: "create_doc", Project: "demo",
		Path: filepath.Join(".scribe", "docs", "dev_plans", "demo", "NOTES.md"),
	})
	if err == nil {
		t.Fatal("expected error for existing file")
	}

	_, err = e.manager.Execute(e.ctx, Request{
		Action: "create_doc", Project: "demo", Path: "../outside.md",
	})
	if fault.CodeOf(err) != fault.CodePathEscape {
		t.Fatalf("escape = %v, want PathEscape", err)
	}
}

func TestCreateDocRegisterExistingAdoptsUntouched(t *testing.T) {
	e := newDocsEnv(t)

	rel := filepath.Join("docs", "HANDBOOK.md")
	path := filepath.Join(e.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "# Handbook\n\nPre-existing prose.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "create_doc", Project: "demo", Path: rel,
		Content:          "# Would Clobber\n",
		RegisterExisting: true,
	})
	if err != nil {
		t.Fatalf("create_doc failed: %v", err)
	}
	if !res.OK || res.Doc != "handbook" {
		t.Fatalf("result = %+v", res)
	}
	if res.SHAAfter != integrity.HashBytes([]byte(content)) {
		t.Error("reported hash is not the existing content's")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != content {
		t.Fatalf("existing file modified: %q", data)
	}

	p, err := e.store.GetProject(e.ctx, "demo")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if p.Docs["handbook"] == "" {
		t.Errorf("docs map = %v, want a handbook entry", p.Docs)
	}
}

func TestCreateResearchDocBuildsIndex(t *testing.T) {
	e := newDocsEnv(t)

	for _, title := range []string{"Cache Invalidation", "Token Refresh"} {
		res, err := e.manager.Execute(e.ctx, Request{
			Action: "create_research_doc", Project: "demo",
			Title: title, Agent: "Claude",
		})
		if err != nil {
			t.Fatalf("create_research_doc(%q) failed: %v", title, err)
		}
		data, err := os.ReadFile(res.Path)
		if err != nil {
			t.Fatalf("research doc missing: %v", err)
		}
		if !strings.Contains(string(data), "# Research: "+title) {
			t.Errorf("doc body missing title:\n%s", data)
		}
	}

	index := filepath.Join(e.root, ".scribe", "docs", "dev_plans", "demo", "research", "INDEX.md")
	data, err := os.ReadFile(index)
	if err != nil {
		t.Fatalf("INDEX.md missing: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, "# Research Index") {
		t.Errorf("index title missing:\n%s", got)
	}
	for _, link := range []string{"(cache-invalidation.md)", "(token-refresh.md)"} {
		if !strings.Contains(got, link) {
			t.Errorf("index missing %s:\n%s", link, got)
		}
	}
	if strings.Contains(got, "INDEX.md") && strings.Contains(got, "(INDEX.md)") {
		t.Error("index lists itself")
	}
}

func TestCreateBugReportLayout(t *testing.T) {
	e := newDocsEnv(t)

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "create_bug_report", Project: "demo",
		Title: "Race In Flush", Category: "storage", Agent: "Claude",
		Metadata: map[string]string{"severity": "high"},
	})
	if err != nil {
		t.Fatalf("create_bug_report failed: %v", err)
	}
	want := filepath.Join(e.root, ".scribe", "docs", "dev_plans", "demo",
		"bugs", "storage", "2026-01-05_race-in-flush", "report.md")
	if res.Path != want {
		t.Errorf("path = %s, want %s", res.Path, want)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("report missing: %v", err)
	}
	if !strings.Contains(string(data), "Severity: high") {
		t.Errorf("metadata not rendered:\n%s", data)
	}
}

func TestValidateCrosslinks(t *testing.T) {
	e := newDocsEnv(t)
	dir := filepath.Dir(e.project.Docs["notes"])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "REAL.md"), []byte("# Real\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	e.writeNotes("See [real](REAL.md) and [gone](MISSING.md) and [web](https://example.com).\n")

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "validate_crosslinks", Project: "demo",
	})
	if err != nil {
		t.Fatalf("validate_crosslinks failed: %v", err)
	}
	broken := res.BrokenLinks["notes"]
	if len(broken) != 1 || broken[0] != "MISSING.md" {
		t.Errorf("broken links = %v, want [MISSING.md]", broken)
	}
}

func TestSearchFindsLines(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes("# Notes\n\nThe cache layer needs work.\nUnrelated line.\n")

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "search", Project: "demo", Query: "CACHE",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	m := res.Matches[0]
	if m.Doc != "notes" || m.Line != 3 || !strings.Contains(m.Text, "cache layer") {
		t.Errorf("match = %+v", m)
	}
}

func TestBatchCollectsPerItemFailures(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes(anchoredNotes)

	res, err := e.manager.Execute(e.ctx, Request{
		Action: "batch", Project: "demo", Agent: "Claude",
		Items: []Request{
			{Action: "append", Doc: "notes", Content: "Appended."},
			{Action: "replace_section", Doc: "notes", Anchor: "missing", Content: "x"},
		},
	})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if res.OK {
		t.Error("batch with a failing item should not be OK")
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
	if !res.Results[0].OK || res.Results[0].Error != "" {
		t.Errorf("first item = %+v, want success", res.Results[0])
	}
	if res.Results[1].Error == "" {
		t.Errorf("second item = %+v, want recorded error", res.Results[1])
	}
	if !strings.Contains(e.readNotes(), "Appended.") {
		t.Error("successful item did not land")
	}
}

func TestDocChangeRecorded(t *testing.T) {
	e := newDocsEnv(t)
	e.writeNotes(anchoredNotes)

	if _, err := e.manager.Execute(e.ctx, Request{
		Action: "replace_section", Project: "demo", Doc: "notes",
		Anchor: "overview", Content: "## Overview\n\nTracked.\n", Agent: "Claude",
	}); err != nil {
		t.Fatalf("replace_section failed: %v", err)
	}

	p, err := e.store.GetProject(e.ctx, "demo")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	docsMeta, ok := p.Meta["docs"].(map[string]any)
	if !ok {
		t.Fatalf("meta docs block = %#v", p.Meta["docs"])
	}
	if docsMeta["update_count"] == nil {
		t.Error("update_count not persisted")
	}
}

func TestUnknownActionRejected(t *testing.T) {
	e := newDocsEnv(t)

	_, err := e.manager.Execute(e.ctx, Request{Action: "frobnicate", Project: "demo", Doc: "notes"})
	if fault.CodeOf(err) != fault.CodeUnknownOperation {
		t.Fatalf("error = %v, want UnknownOperation", err)
	}
}

func TestDocNotRegistered(t *testing.T) {
	e := newDocsEnv(t)

	_, err := e.manager.Execute(e.ctx, Request{Action: "append", Project: "demo", Doc: "ghost", Content: "x"})
	if fault.CodeOf(err) != fault.CodeDocNotRegistered {
		t.Fatalf("error = %v, want DocNotRegistered", err)
	}
}
