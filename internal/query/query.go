// Package query reads the ledger back: SQLite-first fetch with a
// reverse file scan fallback, document sections as synthetic entries,
// composable filters, relevance scoring, and global pagination.
package query

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
	"github.com/untoldecay/scribe/internal/logtypes"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/pipeline"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/types"
)

// fetchCap bounds how many entries one project contributes before
// filtering; queries are recency-oriented, not full exports.
const fetchCap = 1000

// Scope names.
const (
	ScopeProject     = "project"
	ScopeAllProjects = "all_projects"
	ScopeGlobal      = "global"
	ScopeResearch    = "research"
	ScopeBugs        = "bugs"
	ScopeAll         = "all"
)

// Options configures the engine.
type Options struct {
	RepoRoot        string
	DefaultPageSize int
}

// Engine resolves scopes and runs queries. Store may be nil; every
// fetch then goes through the file fallback.
type Engine struct {
	store storage.Storage
	state *state.Manager
	opts  Options

	Now func() time.Time
}

// New builds a query engine.
func New(store storage.Storage, st *state.Manager, opts Options) *Engine {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	return &Engine{
		store: store,
		state: st,
		opts:  opts,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Request is one query after transport decoding.
type Request struct {
	Scope         string   `json:"scope,omitempty"`
	Project       string   `json:"project,omitempty"`
	AgentID       string   `json:"agent_id,omitempty"`
	DocumentTypes []string `json:"document_types,omitempty"`

	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Since string `json:"since,omitempty"`

	Message       string `json:"message,omitempty"`
	MessageMode   string `json:"message_mode,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`

	Emojis      []string          `json:"emoji,omitempty"`
	Statuses    []string          `json:"status,omitempty"`
	Agents      []string          `json:"agents,omitempty"`
	MetaFilters map[string]string `json:"meta_filters,omitempty"`

	Page     int `json:"page,omitempty"`
	PageSize int `json:"page_size,omitempty"`

	Compact         bool     `json:"compact,omitempty"`
	Fields          []string `json:"fields,omitempty"`
	IncludeMetadata bool     `json:"include_metadata,omitempty"`

	RelevanceThreshold   float64 `json:"relevance_threshold,omitempty"`
	VerifyCodeReferences bool    `json:"verify_code_references,omitempty"`
}

// Entry is a result row: a log entry (or synthetic document section)
// plus query-computed fields.
type Entry struct {
	types.LogEntry
	Content        string  `json:"content,omitempty"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
	BrokenRefs     []string `json:"broken_refs,omitempty"`
}

// Pagination is the standard page envelope.
type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalCount int  `json:"total_count"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// Response is one query result.
type Response struct {
	OK               bool             `json:"ok"`
	Entries          []*Entry         `json:"entries"`
	Compact          []map[string]any `json:"compact_entries,omitempty"`
	Pagination       Pagination       `json:"pagination"`
	SearchScope      string           `json:"search_scope"`
	ProjectsSearched []string         `json:"projects_searched"`
	TotalAvailable   int              `json:"total_available"`
	Filtered         bool             `json:"filtered"`
	Warnings         []string         `json:"warnings,omitempty"`
}

// Run executes a query end to end.
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	now := e.Now()

	tr, err := ParseTimeRange(req.Since, req.Start, req.End, now)
	if err != nil {
		return nil, err
	}
	// With a relevance threshold the message is a scored search query,
	// not a hard predicate; scoring decides what survives.
	filterReq := req
	if req.RelevanceThreshold > 0 {
		filterReq.Message = ""
	}
	match, err := newMatcher(filterReq, tr)
	if err != nil {
		return nil, err
	}

	scope := req.Scope
	if scope == "" {
		scope = ScopeProject
	}
	targets, err := e.resolveScope(ctx, scope, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{OK: true, SearchScope: scope}
	var pool []*Entry
	for _, t := range targets {
		resp.ProjectsSearched = append(resp.ProjectsSearched, t.name)
		fetched, warns := e.fetch(ctx, t, tr, req, now)
		resp.Warnings = append(resp.Warnings, warns...)
		for _, entry := range fetched {
			if match.ok(entry) {
				pool = append(pool, entry)
			}
		}
	}
	resp.TotalAvailable = len(pool)

	if req.Message != "" || req.RelevanceThreshold > 0 {
		pool = scoreAndFilter(pool, req.Message, req.RelevanceThreshold, now)
		resp.Filtered = true
	}
	if req.VerifyCodeReferences {
		verifyCodeRefs(pool, e.opts.RepoRoot)
	}

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].RelevanceScore != pool[j].RelevanceScore {
			return pool[i].RelevanceScore > pool[j].RelevanceScore
		}
		return pool[i].TS.After(pool[j].TS)
	})

	page, pageSize := req.Page, req.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = e.opts.DefaultPageSize
	}
	total := len(pool)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	resp.Entries = pool[start:end]
	resp.Pagination = Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		HasNext:    end < total,
		HasPrev:    page > 1,
	}
	if !resp.Filtered {
		resp.Filtered = !match.empty
	}
	if req.Compact {
		resp.Compact = compactEntries(resp.Entries, req.IncludeMetadata)
		resp.Entries = nil
	}
	return resp, nil
}

// target is one source the query reads: a project's logs, the global
// ledger, or a project's documents of given types.
type target struct {
	name     string
	project  *types.Project
	global   bool
	docTypes []string
}

func (e *Engine) resolveScope(ctx context.Context, scope string, req Request) ([]target, error) {
	switch scope {
	case ScopeProject:
		name := strings.TrimSpace(req.Project)
		if name == "" && e.state != nil {
			name, _ = e.state.CurrentProject(req.AgentID)
		}
		if name == "" {
			return nil, fault.New(fault.CodeProjectResolution, "no project to query").
				WithSuggestion("pass project explicitly or run set_project first")
		}
		if name == pipeline.GlobalProject {
			return []target{{name: pipeline.GlobalProject, global: true}}, nil
		}
		p, err := e.getProject(ctx, name)
		if err != nil {
			return nil, err
		}
		return []target{{name: name, project: p, docTypes: req.DocumentTypes}}, nil

	case ScopeGlobal:
		return []target{{name: pipeline.GlobalProject, global: true}}, nil

	case ScopeAllProjects:
		projects, err := e.listProjects(ctx)
		if err != nil {
			return nil, err
		}
		var out []target
		for _, p := range projects {
			out = append(out, target{name: p.Name, project: p, docTypes: req.DocumentTypes})
		}
		return out, nil

	case ScopeResearch, ScopeBugs, ScopeAll:
		docTypes := req.DocumentTypes
		if len(docTypes) == 0 {
			switch scope {
			case ScopeResearch:
				docTypes = []string{"research"}
			case ScopeBugs:
				docTypes = []string{"bugs"}
			default:
				docTypes = []string{"research", "architecture", "bugs"}
			}
		}
		projects, err := e.listProjects(ctx)
		if err != nil {
			return nil, err
		}
		out := []target{{name: pipeline.GlobalProject, global: true}}
		for _, p := range projects {
			out = append(out, target{name: p.Name, project: p, docTypes: docTypes})
		}
		return out, nil
	}
	return nil, fault.New(fault.CodeMessageInvalid, "unknown scope %q", scope).
		WithSuggestion("valid scopes: project, all_projects, global, research, bugs, all")
}

func (e *Engine) getProject(ctx context.Context, name string) (*types.Project, error) {
	if e.store == nil {
		return &types.Project{Name: name, Slug: name}, nil
	}
	p, err := e.store.GetProject(ctx, name)
	if err != nil {
		return nil, fault.Wrap(fault.CodeProjectResolution, err, "project %q is not registered", name)
	}
	return p, nil
}

// listProjects enumerates registered projects, skipping the throwaway
// slugs integration runs leave behind.
func (e *Engine) listProjects(ctx context.Context) ([]*types.Project, error) {
	if e.store == nil {
		return nil, nil
	}
	projects, err := e.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := projects[:0]
	for _, p := range projects {
		if strings.HasPrefix(p.Slug, "tmp-") || strings.HasPrefix(p.Slug, "test-") {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// fetch pulls one target's entries: mirror first, reverse file scan
// when the mirror is absent or empty, then document sections.
func (e *Engine) fetch(ctx context.Context, t target, tr TimeRange, req Request, now time.Time) ([]*Entry, []string) {
	var warnings []string
	var out []*Entry

	if t.global {
		out = e.fetchFile(paths.GlobalProgressLog(e.opts.RepoRoot), pipeline.GlobalProject, tr)
		return out, nil
	}

	filters := types.EntryFilters{
		Agents: req.Agents,
		Emojis: statusesToEmoji(req.Statuses, req.Emojis),
		Start:  tr.Start,
		End:    tr.End,
	}
	if e.store != nil {
		rows, err := e.store.FetchRecentEntriesPaginated(ctx, t.name, 1, fetchCap, filters)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("mirror fetch for %s failed, reading files: %v", t.name, err))
		}
		for _, row := range rows {
			out = append(out, &Entry{LogEntry: *row})
		}
	}
	if len(out) == 0 {
		dir := paths.DevPlanDir(e.opts.RepoRoot, slugOf(t.project))
		for _, file := range logFiles(t.project, dir) {
			out = append(out, e.fetchFile(file, t.name, tr)...)
		}
	}

	for _, docType := range t.docTypes {
		if docType == "progress" || docType == "global" {
			continue
		}
		dir := paths.DevPlanDir(e.opts.RepoRoot, slugOf(t.project))
		for _, file := range collectDocFiles(dir, docType) {
			out = append(out, docEntries(file, docType, t.name, now)...)
		}
	}
	return out, warnings
}

// fetchFile reverse-scans one log file, newest first, stopping at the
// cap. Time bounds prune during the scan: once lines age past the
// start bound the rest of the file cannot match.
func (e *Engine) fetchFile(path, projectName string, tr TimeRange) []*Entry {
	var out []*Entry
	_ = pipeline.ReverseLines(path, func(line string) bool {
		parsed, ok := pipeline.ParseLine(line)
		if !ok {
			return true
		}
		if tr.Start != nil && parsed.TS.Before(*tr.Start) {
			return false
		}
		if tr.End != nil && parsed.TS.After(*tr.End) {
			return true
		}
		if parsed.ProjectName == "" {
			parsed.ProjectName = projectName
		}
		out = append(out, &Entry{LogEntry: *parsed})
		return len(out) < fetchCap
	})
	return out
}

// logFiles lists the log files a project's entries can live in,
// honoring per-project doc overrides.
func logFiles(p *types.Project, dir string) []string {
	keys := []string{"progress_log", "doc_log", "security_log", "bug_log"}
	var out []string
	seen := map[string]bool{}
	for _, key := range keys {
		path := ""
		if p != nil && p.Docs != nil {
			path = p.Docs[key]
		}
		if path == "" {
			path = filepath.Join(dir, logtypes.DocFiles[key])
		}
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	return out
}

func slugOf(p *types.Project) string {
	if p == nil {
		return ""
	}
	return p.Slug
}

// matcher is the compiled filter set applied to every candidate entry.
type matcher struct {
	tr       TimeRange
	message  string
	mode     string
	caseSens bool
	re       *regexp.Regexp
	emojis   map[string]bool
	agents   map[string]bool
	meta     map[string]string
	empty    bool
}

func newMatcher(req Request, tr TimeRange) (*matcher, error) {
	m := &matcher{
		tr:       tr,
		message:  req.Message,
		mode:     req.MessageMode,
		caseSens: req.CaseSensitive,
		meta:     req.MetaFilters,
	}
	if m.mode == "" {
		m.mode = "substring"
	}
	if m.mode == "regex" && req.Message != "" {
		// Regex mode is a full-match policy over the message; substring
		// semantics stay with the default mode.
		pattern := `\A(?:` + req.Message + `)\z`
		if !req.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fault.Wrap(fault.CodeMessageInvalid, err, "invalid message regex").
				WithSuggestion("use Go regexp syntax, or message_mode=substring")
		}
		m.re = re
	}
	if emojis := statusesToEmoji(req.Statuses, req.Emojis); len(emojis) > 0 {
		m.emojis = make(map[string]bool, len(emojis))
		for _, e := range emojis {
			m.emojis[e] = true
		}
	}
	if len(req.Agents) > 0 {
		m.agents = make(map[string]bool, len(req.Agents))
		for _, a := range req.Agents {
			m.agents[a] = true
		}
	}
	m.empty = m.message == "" && m.emojis == nil && m.agents == nil &&
		len(m.meta) == 0 && tr.Start == nil && tr.End == nil
	return m, nil
}

func (m *matcher) ok(e *Entry) bool {
	if !m.tr.Contains(e.TS) {
		return false
	}
	if m.emojis != nil && !m.emojis[e.Emoji] {
		return false
	}
	if m.agents != nil && !m.agents[e.Agent] {
		return false
	}
	for k, v := range m.meta {
		got, ok := e.Meta.Get(k)
		if !ok || got != v {
			return false
		}
	}
	if m.message == "" {
		return true
	}
	text := e.Message
	if e.Content != "" {
		text += "\n" + e.Content
	}
	switch m.mode {
	case "exact":
		if m.caseSens {
			return e.Message == m.message
		}
		return strings.EqualFold(e.Message, m.message)
	case "regex":
		return m.re.MatchString(e.Message)
	default: // substring
		if m.caseSens {
			return strings.Contains(text, m.message)
		}
		return strings.Contains(strings.ToLower(text), strings.ToLower(m.message))
	}
}

// statusesToEmoji maps status filters through the closed table and
// merges explicit emoji filters. Unknown statuses are dropped rather
// than matching nothing by accident.
func statusesToEmoji(statuses, emojis []string) []string {
	out := append([]string(nil), emojis...)
	for _, s := range statuses {
		if e, ok := logtypes.StatusEmoji[strings.ToLower(strings.TrimSpace(s))]; ok {
			out = append(out, e)
		}
	}
	return out
}

// scoreAndFilter computes relevance: term hit ratio plus a doubled
// phrase bonus, with recency bumps. Entries under the threshold drop.
func scoreAndFilter(pool []*Entry, message string, threshold float64, now time.Time) []*Entry {
	terms := strings.Fields(strings.ToLower(message))
	phrase := strings.ToLower(strings.TrimSpace(message))

	kept := pool[:0]
	for _, e := range pool {
		text := strings.ToLower(e.Message)
		if e.Content != "" {
			text += "\n" + strings.ToLower(e.Content)
		}
		var score float64
		if len(terms) > 0 {
			hits := 0
			for _, term := range terms {
				if strings.Contains(text, term) {
					hits++
				}
			}
			score = float64(hits) / float64(len(terms))
			if phrase != "" && strings.Contains(text, phrase) {
				score += 2
			}
		}
		age := now.Sub(e.TS)
		if age <= 7*24*time.Hour {
			score += 0.5
		} else if age <= 30*24*time.Hour {
			score += 0.25
		}
		if score < threshold {
			continue
		}
		e.RelevanceScore = score
		kept = append(kept, e)
	}
	return kept
}

// codeRefRe finds file-path-looking tokens inside entry text.
var codeRefRe = regexp.MustCompile(`[\w./-]+\.(py|ts|js|md|json|yaml|yml|sql|sh|bash|zsh)`)

// verifyCodeRefs checks that referenced files exist under the repo
// root. Broken references demote the entry emoji to a warning and are
// listed in meta, but never remove the entry.
func verifyCodeRefs(pool []*Entry, repoRoot string) {
	for _, e := range pool {
		text := e.Message
		if e.Content != "" {
			text += "\n" + e.Content
		}
		refs := codeRefRe.FindAllString(text, -1)
		if len(refs) == 0 {
			continue
		}
		var broken []string
		for _, ref := range refs {
			if !fileExists(repoRoot, ref) {
				broken = append(broken, ref)
			}
		}
		status := "passed"
		if len(broken) > 0 {
			status = "failed"
			e.Emoji = "⚠️"
			e.BrokenRefs = broken
		}
		e.Meta = append(e.Meta, types.MetaPair{Key: "code_reference_verification", Value: status})
	}
}

func fileExists(repoRoot, ref string) bool {
	candidates := []string{ref}
	if !filepath.IsAbs(ref) {
		candidates = append(candidates, filepath.Join(repoRoot, ref))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return true
		}
	}
	return false
}

// compactEntries shortens field names and truncates long messages for
// token-constrained callers.
func compactEntries(entries []*Entry, includeMeta bool) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		msg := e.Message
		if len(msg) > 100 {
			msg = msg[:97] + "..."
		}
		row := map[string]any{
			"id": e.ID,
			"ts": e.TS.Format("2006-01-02 15:04"),
			"e":  e.Emoji,
			"a":  e.Agent,
			"p":  e.ProjectName,
			"m":  msg,
		}
		if e.RelevanceScore > 0 {
			row["r"] = e.RelevanceScore
		}
		if includeMeta && len(e.Meta) > 0 {
			row["meta"] = e.Meta
		}
		out = append(out, row)
	}
	return out
}
