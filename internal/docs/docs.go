// Package docs is the document manager: anchored section edits, range
// and text replacement, hash-guarded patches, checklist updates,
// scaffolded special documents with self-healing indexes, crosslink
// validation, and full-text search across a project's registered docs.
// Every byte-changing action runs under the target's lock, writes
// atomically, and records a DocumentChange.
package docs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/fileio"
	"github.com/untoldecay/scribe/internal/integrity"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/templates"
	"github.com/untoldecay/scribe/internal/types"
	"github.com/untoldecay/scribe/internal/utils"
)

// Options configures the manager.
type Options struct {
	RepoRoot       string
	LockTimeout    time.Duration
	StorageTimeout time.Duration
}

// Manager executes document actions.
type Manager struct {
	store storage.Storage
	reg   *registry.Registry
	opts  Options

	Now func() time.Time
}

// New builds a document manager. store and reg may be nil; change
// recording then degrades to a warning.
func New(store storage.Storage, reg *registry.Registry, opts Options) *Manager {
	return &Manager{
		store: store,
		reg:   reg,
		opts:  opts,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Request is one document action.
type Request struct {
	Action  string `json:"action"`
	Project string `json:"project"`
	Doc     string `json:"doc,omitempty"` // doc key or repo-relative path
	Agent   string `json:"agent,omitempty"`

	Anchor        string `json:"anchor,omitempty"`
	StartLine     int    `json:"start_line,omitempty"`
	EndLine       int    `json:"end_line,omitempty"`
	Content       string `json:"content,omitempty"`
	Old           string `json:"old,omitempty"`
	ExpectedCount int    `json:"expected_count,omitempty"`

	Edit            *StructuredEdit `json:"edit,omitempty"`
	Diff            string          `json:"diff,omitempty"`
	PatchSourceHash string          `json:"patch_source_hash,omitempty"`
	DryRun          bool            `json:"dry_run,omitempty"`

	Item    string `json:"item,omitempty"` // status_update checklist text
	Checked bool   `json:"checked,omitempty"`

	Path             string `json:"path,omitempty"` // create_doc destination
	Register         *bool  `json:"register,omitempty"`
	RegisterExisting bool   `json:"register_existing,omitempty"`

	Title    string            `json:"title,omitempty"`
	Category string            `json:"category,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	Query string    `json:"query,omitempty"`
	Items []Request `json:"items,omitempty"` // batch
}

// SearchMatch is one search hit.
type SearchMatch struct {
	Doc  string `json:"doc"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Result reports one action.
type Result struct {
	OK             bool                `json:"ok"`
	Action         string              `json:"action"`
	Doc            string              `json:"doc,omitempty"`
	Path           string              `json:"path,omitempty"`
	SHABefore      string              `json:"sha_before,omitempty"`
	SHAAfter       string              `json:"sha_after,omitempty"`
	DryRun         bool                `json:"dry_run,omitempty"`
	BodyLineOffset int                 `json:"body_line_offset,omitempty"`
	Replaced       int                 `json:"replaced,omitempty"`
	Sections       []Section           `json:"sections,omitempty"`
	Duplicates     map[string][]int    `json:"duplicate_anchors,omitempty"`
	Checklist      []ChecklistItem     `json:"checklist,omitempty"`
	TOC            string              `json:"toc,omitempty"`
	BrokenLinks    map[string][]string `json:"broken_links,omitempty"`
	Matches        []SearchMatch       `json:"matches,omitempty"`
	Results        []*Result           `json:"results,omitempty"`
	Error          string              `json:"error,omitempty"`
	Warnings       []string            `json:"warnings,omitempty"`
}

// Execute dispatches one request.
func (m *Manager) Execute(ctx context.Context, req Request) (*Result, error) {
	switch req.Action {
	case "replace_section":
		return m.mutate(ctx, req, func(d *Document) error {
			return d.ReplaceSection(req.Anchor, req.Content)
		})
	case "replace_range":
		return m.mutate(ctx, req, func(d *Document) error {
			return d.ReplaceRange(req.StartLine, req.EndLine, req.Content)
		})
	case "replace_text":
		count := req.ExpectedCount
		if count == 0 {
			count = 1
		}
		var replaced int
		res, err := m.mutate(ctx, req, func(d *Document) error {
			n, err := d.ReplaceText(req.Old, req.Content, count)
			replaced = n
			return err
		})
		if res != nil {
			res.Replaced = replaced
		}
		return res, err
	case "append":
		return m.mutate(ctx, req, func(d *Document) error {
			d.Append(req.Content)
			return nil
		})
	case "apply_patch":
		return m.applyPatch(ctx, req)
	case "status_update":
		return m.mutate(ctx, req, func(d *Document) error {
			return d.SetChecklistItem(req.Item, req.Checked)
		})
	case "normalize_headers":
		var changed int
		res, err := m.mutate(ctx, req, func(d *Document) error {
			changed = d.NormalizeHeaders()
			return nil
		})
		if res != nil {
			res.Replaced = changed
		}
		return res, err
	case "generate_toc":
		return m.readOnly(ctx, req, func(d *Document, res *Result) {
			res.TOC = d.TOC()
		})
	case "list_sections":
		return m.readOnly(ctx, req, func(d *Document, res *Result) {
			res.Sections = d.Sections()
			if dups := d.DuplicateAnchors(); len(dups) > 0 {
				res.Duplicates = dups
				for anchor, lines := range dups {
					res.Warnings = append(res.Warnings,
						fmt.Sprintf("anchor %q duplicated at body lines %v", anchor, lines))
				}
			}
		})
	case "list_checklist_items":
		return m.readOnly(ctx, req, func(d *Document, res *Result) {
			res.Checklist = d.ChecklistItems()
		})
	case "create_doc":
		return m.createDoc(ctx, req)
	case "create_research_doc", "create_bug_report", "create_review_report", "create_agent_report_card":
		return m.createSpecial(ctx, req)
	case "validate_crosslinks":
		return m.validateCrosslinks(ctx, req)
	case "search":
		return m.search(ctx, req)
	case "batch":
		return m.batch(ctx, req)
	}
	return nil, fault.New(fault.CodeUnknownOperation, "unknown document action %q", req.Action).
		WithSuggestion("see manage_docs for the action list")
}

// resolveDoc maps a request to (project, docKey, absolute path). Doc
// may be a registered key (architecture, progress_log, ...) or a
// repo-relative path that stays inside the repo root.
func (m *Manager) resolveDoc(ctx context.Context, req Request) (*types.Project, string, string, error) {
	project, err := m.getProject(ctx, req.Project)
	if err != nil {
		return nil, "", "", err
	}

	doc := strings.TrimSpace(req.Doc)
	if doc == "" {
		return nil, "", "", fault.New(fault.CodeDocNotRegistered, "no document named in request").
			WithSuggestion("pass doc as a registered key or a repo-relative path")
	}
	if project != nil && project.Docs != nil {
		if path, ok := project.Docs[doc]; ok && path != "" {
			return project, doc, path, nil
		}
	}
	if strings.ContainsAny(doc, "/.") {
		path, err := fileio.ResolveUnderRoot(m.opts.RepoRoot, doc)
		if err != nil {
			return nil, "", "", err
		}
		return project, filepath.Base(path), path, nil
	}

	var known []string
	if project != nil {
		for k := range project.Docs {
			known = append(known, k)
		}
		sort.Strings(known)
	}
	return nil, "", "", fault.New(fault.CodeDocNotRegistered, "document %q is not registered", doc).
		WithSuggestion("registered docs: %s", strings.Join(known, ", ")).
		WithDetail("registered", known)
}

func (m *Manager) getProject(ctx context.Context, name string) (*types.Project, error) {
	if m.store == nil || name == "" {
		return nil, nil
	}
	p, err := m.store.GetProject(ctx, name)
	if err != nil {
		return nil, fault.Wrap(fault.CodeProjectResolution, err, "project %q is not registered", name)
	}
	return p, nil
}

// mutate is the shared write path: lock, read, edit, backup, atomic
// overwrite, record.
func (m *Manager) mutate(ctx context.Context, req Request, fn func(*Document) error) (*Result, error) {
	project, docKey, path, err := m.resolveDoc(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &Result{Action: req.Action, Doc: docKey, Path: path}

	err = fileio.WithLock(path, m.opts.LockTimeout, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fault.Wrap(fault.CodeDocNotRegistered, err, "cannot read %s", path)
		}
		res.SHABefore = integrity.HashBytes(data)

		d, err := Parse(string(data))
		if err != nil {
			return err
		}
		res.BodyLineOffset = d.BodyLineOffset
		if err := fn(d); err != nil {
			return err
		}

		rendered := d.Render()
		if !strings.HasSuffix(rendered, "\n") {
			rendered += "\n"
		}
		res.SHAAfter = integrity.HashBytes([]byte(rendered))
		if req.DryRun {
			// Full validation ran; report the projected hash and leave
			// the file untouched.
			res.DryRun = true
			return nil
		}
		if _, err := fileio.PreflightBackup(path); err != nil {
			return err
		}
		return fileio.AtomicWrite(path, []byte(rendered))
	})
	if err != nil {
		return nil, err
	}
	res.OK = true
	if !res.DryRun {
		m.record(ctx, project, req, res)
	}
	return res, nil
}

func (m *Manager) readOnly(ctx context.Context, req Request, fn func(*Document, *Result)) (*Result, error) {
	_, docKey, path, err := m.resolveDoc(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.CodeDocNotRegistered, err, "cannot read %s", path)
	}
	d, err := Parse(string(data))
	if err != nil {
		return nil, err
	}
	res := &Result{OK: true, Action: req.Action, Doc: docKey, Path: path, BodyLineOffset: d.BodyLineOffset}
	fn(d, res)
	return res, nil
}

func (m *Manager) applyPatch(ctx context.Context, req Request) (*Result, error) {
	if req.Edit != nil {
		return m.mutate(ctx, req, func(d *Document) error {
			return applyStructured(d, *req.Edit)
		})
	}
	if strings.TrimSpace(req.Diff) == "" {
		return nil, fault.New(fault.CodeMessageInvalid, "apply_patch needs edit operations or a unified diff")
	}

	project, docKey, path, err := m.resolveDoc(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &Result{Action: req.Action, Doc: docKey, Path: path}

	err = fileio.WithLock(path, m.opts.LockTimeout, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fault.Wrap(fault.CodeDocNotRegistered, err, "cannot read %s", path)
		}
		res.SHABefore = integrity.HashBytes(data)

		patched, err := applyUnified(string(data), req.Diff, req.PatchSourceHash)
		if err != nil {
			return err
		}
		res.SHAAfter = integrity.HashBytes([]byte(patched))
		if req.DryRun {
			res.DryRun = true
			return nil
		}
		if _, err := fileio.PreflightBackup(path); err != nil {
			return err
		}
		return fileio.AtomicWrite(path, []byte(patched))
	})
	if err != nil {
		return nil, err
	}
	res.OK = true
	if !res.DryRun {
		m.record(ctx, project, req, res)
	}
	return res, nil
}

// createDoc writes a new document under the repo root. Paths that land
// inside the project's docs dir register into project.docs unless the
// caller opts out.
func (m *Manager) createDoc(ctx context.Context, req Request) (*Result, error) {
	project, err := m.getProject(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, fault.New(fault.CodeMessageInvalid, "create_doc needs a path")
	}
	path, err := fileio.ResolveUnderRoot(m.opts.RepoRoot, req.Path)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && !req.RegisterExisting {
		return nil, fault.New(fault.CodeMessageInvalid, "document %s already exists", req.Path).
			WithSuggestion("use append or replace_section to edit it, or pass register_existing")
	}

	var content string
	if exists {
		// register_existing adopts the file byte-for-byte; only the
		// registration below changes anything.
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fault.Wrap(fault.CodeDocNotRegistered, err, "cannot read %s", path)
		}
		content = string(data)
	} else {
		content = req.Content
		if content == "" {
			content = "# " + strings.TrimSuffix(filepath.Base(path), ".md") + "\n"
		}
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if err := fileio.AtomicWrite(path, []byte(content)); err != nil {
			return nil, err
		}
	}

	res := &Result{
		OK: true, Action: req.Action,
		Doc: filepath.Base(path), Path: path,
		SHAAfter: integrity.HashBytes([]byte(content)),
	}

	register := req.Register == nil || *req.Register
	if register && project != nil && m.store != nil &&
		(req.RegisterExisting || underDocsDir(project, m.opts.RepoRoot, path)) {
		key := utils.Slugify(strings.TrimSuffix(filepath.Base(path), ".md"))
		docs := make(map[string]string, len(project.Docs)+1)
		for k, v := range project.Docs {
			docs[k] = v
		}
		docs[key] = path
		sctx, cancel := m.storageCtx(ctx)
		err := m.store.UpdateProjectDocs(sctx, project.Name, docs)
		cancel()
		if err != nil {
			res.Warnings = append(res.Warnings, "doc registration failed: "+err.Error())
		} else {
			res.Doc = key
		}
	}
	if !exists {
		m.record(ctx, project, req, res)
	}
	return res, nil
}

func underDocsDir(p *types.Project, repoRoot, path string) bool {
	dirs := []string{paths.DevPlanDir(repoRoot, p.Slug)}
	if p.DocsDir != "" {
		dirs = append(dirs, p.DocsDir)
	}
	for _, dir := range dirs {
		if abs, err := filepath.Abs(dir); err == nil {
			if strings.HasPrefix(path, abs+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}

// record persists the DocumentChange. Never fatal: the file write is
// the operation; bookkeeping failures surface as warnings.
func (m *Manager) record(ctx context.Context, project *types.Project, req Request, res *Result) {
	if m.reg == nil || project == nil {
		return
	}
	sctx, cancel := m.storageCtx(ctx)
	defer cancel()
	err := m.reg.RecordDocUpdate(sctx, project.Name, &types.DocumentChange{
		ProjectName:   project.Name,
		Doc:           res.Doc,
		SectionAnchor: req.Anchor,
		Action:        req.Action,
		SHABefore:     res.SHABefore,
		SHAAfter:      res.SHAAfter,
		Agent:         req.Agent,
		TS:            m.Now(),
	})
	if err != nil {
		res.Warnings = append(res.Warnings, "document change not recorded: "+err.Error())
	}
}

func (m *Manager) batch(ctx context.Context, req Request) (*Result, error) {
	if len(req.Items) == 0 {
		return nil, fault.New(fault.CodeMessageInvalid, "batch has no items")
	}
	out := &Result{OK: true, Action: "batch"}
	for _, item := range req.Items {
		if item.Project == "" {
			item.Project = req.Project
		}
		if item.Agent == "" {
			item.Agent = req.Agent
		}
		r, err := m.Execute(ctx, item)
		if err != nil {
			out.Results = append(out.Results, &Result{Action: item.Action, Doc: item.Doc, Error: err.Error()})
			out.OK = false
			continue
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

// linkRe captures Markdown link targets, skipping images and external
// URLs at the match site.
var linkRe = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)\)`)

// validateCrosslinks checks every intra-repo link target in the
// project's registered documents.
func (m *Manager) validateCrosslinks(ctx context.Context, req Request) (*Result, error) {
	project, err := m.getProject(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	if project == nil || len(project.Docs) == 0 {
		return nil, fault.New(fault.CodeDocNotRegistered, "project has no registered documents")
	}

	res := &Result{OK: true, Action: req.Action, BrokenLinks: map[string][]string{}}
	for key, path := range project.Docs {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, match := range linkRe.FindAllStringSubmatch(string(data), -1) {
			target := match[1]
			if strings.Contains(target, "://") || strings.HasPrefix(target, "#") ||
				strings.HasPrefix(target, "mailto:") {
				continue
			}
			if i := strings.IndexByte(target, '#'); i >= 0 {
				target = target[:i]
			}
			resolved := target
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(filepath.Dir(path), target)
			}
			if _, err := os.Stat(resolved); err != nil {
				res.BrokenLinks[key] = append(res.BrokenLinks[key], target)
			}
		}
	}
	return res, nil
}

// search scans the project's registered documents for a substring,
// case-insensitive.
func (m *Manager) search(ctx context.Context, req Request) (*Result, error) {
	project, err := m.getProject(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fault.New(fault.CodeMessageInvalid, "search needs a query")
	}
	if project == nil || len(project.Docs) == 0 {
		return nil, fault.New(fault.CodeDocNotRegistered, "project has no registered documents")
	}

	needle := strings.ToLower(req.Query)
	res := &Result{OK: true, Action: req.Action}
	keys := make([]string, 0, len(project.Docs))
	for k := range project.Docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		data, err := os.ReadFile(project.Docs[key])
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				res.Matches = append(res.Matches, SearchMatch{
					Doc:  key,
					Line: i + 1,
					Text: truncate(strings.TrimSpace(line), 200),
				})
			}
		}
	}
	return res, nil
}

func (m *Manager) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.StorageTimeout)
}

// templateForAction maps the special-document actions to their fixed
// templates.
var templateForAction = map[string]string{
	"create_research_doc":      "research_doc",
	"create_bug_report":        "bug_report",
	"create_review_report":     "review_report",
	"create_agent_report_card": "agent_report_card",
}

// createSpecial renders a special document into its canonical location
// and refreshes the directory index.
func (m *Manager) createSpecial(ctx context.Context, req Request) (*Result, error) {
	project, err := m.getProject(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, fault.New(fault.CodeProjectResolution, "special documents need a project")
	}
	if strings.TrimSpace(req.Title) == "" && req.Action != "create_agent_report_card" {
		return nil, fault.New(fault.CodeMessageInvalid, "%s needs a title", req.Action)
	}

	dir := paths.DevPlanDir(m.opts.RepoRoot, project.Slug)
	date := m.Now().Format("2006-01-02")

	var path, indexDir, indexTitle string
	switch req.Action {
	case "create_research_doc":
		path = paths.ResearchDocPath(dir, req.Title)
		indexDir, indexTitle = paths.ResearchDir(dir), "Research Index"
	case "create_bug_report":
		path = paths.BugReportPath(dir, req.Category, date, req.Title)
		indexDir, indexTitle = paths.BugsDir(dir), "Bug Reports"
	case "create_review_report":
		path = paths.ReviewReportPath(dir, date, req.Title)
		indexDir, indexTitle = paths.ReviewsDir(dir), "Review Reports"
	case "create_agent_report_card":
		agent := req.Agent
		if agent == "" {
			return nil, fault.New(fault.CodeMessageInvalid, "create_agent_report_card needs an agent")
		}
		path = paths.AgentReportCardPath(dir, agent)
		indexDir, indexTitle = paths.AgentsDir(dir), "Agent Report Cards"
	}

	meta := map[string]string{
		"title":        req.Title,
		"date":         date,
		"agent":        req.Agent,
		"project_name": project.Name,
		"category":     req.Category,
	}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	content := templates.RenderByName(templateForAction[req.Action], meta)
	// Unfilled placeholders stay visible on purpose; the document is a
	// scaffold the author completes.

	if err := fileio.AtomicWrite(path, []byte(content)); err != nil {
		return nil, err
	}
	res := &Result{
		OK: true, Action: req.Action,
		Doc: filepath.Base(path), Path: path,
		SHAAfter: integrity.HashBytes([]byte(content)),
	}
	if err := m.updateIndex(indexDir, indexTitle); err != nil {
		res.Warnings = append(res.Warnings,
			fault.Wrap(fault.CodeIndexUpdateFailure, err, "index not refreshed").Error())
	}
	m.record(ctx, project, req, res)
	return res, nil
}

// updateIndex regenerates INDEX.md from the directory listing, most
// recently modified first. The index is derived data: any corruption
// is healed by rebuilding, with the old file kept as a backup.
func (m *Manager) updateIndex(dir, title string) error {
	indexPath := filepath.Join(dir, "INDEX.md")

	type row struct {
		rel string
		mod time.Time
	}
	var rows []row
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".md") || path == indexPath {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		rows = append(rows, row{rel: rel, mod: info.ModTime()})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].mod.After(rows[j].mod) })

	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "| [%s](%s) | %s |\n", strings.TrimSuffix(filepath.Base(r.rel), ".md"),
			r.rel, r.mod.UTC().Format("2006-01-02 15:04"))
	}
	content := templates.RenderByName("index", map[string]string{
		"index_title": title,
		"updated_at":  m.Now().Format("2006-01-02 15:04:05") + " UTC",
		"rows":        b.String(),
	})

	if data, err := os.ReadFile(indexPath); err == nil && !utf8Valid(data) {
		_, _ = fileio.PreflightBackup(indexPath)
	}
	return fileio.AtomicWrite(indexPath, []byte(content))
}

func utf8Valid(data []byte) bool {
	return strings.ToValidUTF8(string(data), "") == string(data)
}
