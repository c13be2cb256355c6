// Package pipeline implements the append path: normalization, project
// resolution, rate limiting, deterministic IDs, bit-exact line
// composition, crash-safe file append, SQLite mirroring, and the
// bug/security tee fan-out.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/fileio"
	"github.com/untoldecay/scribe/internal/integrity"
	"github.com/untoldecay/scribe/internal/logtypes"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/types"
	"github.com/untoldecay/scribe/internal/utils"
)

// GlobalProject routes entries into docs/GLOBAL_PROGRESS_LOG.md, the
// cross-project ledger that works before any project exists.
const GlobalProject = "global"

// SizeRotator is the rotation engine's hook into the append path. The
// pipeline calls it synchronously when a log file crosses the size
// threshold, before the append lands.
type SizeRotator interface {
	RotateOversize(ctx context.Context, project *types.Project, logType, path string) ([]string, error)
}

// Options carries the configuration slice the pipeline needs.
type Options struct {
	RepoRoot        string
	RepoSlug        string
	RateLimitCount  int
	RateLimitWindow time.Duration
	LogMaxBytes     int64
	LockTimeout     time.Duration
	StorageTimeout  time.Duration
	BulkChunkSize   int
	DefaultAgent    string
}

// Pipeline is the append engine. Store may be nil (no_db mode); every
// mirror interaction degrades to a warning.
type Pipeline struct {
	store   storage.Storage
	state   *state.Manager
	reg     *registry.Registry
	catalog logtypes.Catalog
	limiter *RateLimiter
	rotator SizeRotator
	opts    Options

	// replayed marks log files whose journal has been scanned by this
	// process, so crash recovery runs at most once per file.
	replayed sync.Map

	Now func() time.Time
}

// New wires the append pipeline. rotator may be nil to disable
// size-triggered rotation.
func New(store storage.Storage, st *state.Manager, reg *registry.Registry, catalog logtypes.Catalog, rotator SizeRotator, opts Options) *Pipeline {
	if opts.BulkChunkSize <= 0 {
		opts.BulkChunkSize = 50
	}
	if opts.RepoSlug == "" {
		opts.RepoSlug = utils.Slugify(opts.RepoRoot)
	}
	return &Pipeline{
		store:   store,
		state:   st,
		reg:     reg,
		catalog: catalog,
		limiter: NewRateLimiter(opts.RateLimitCount, opts.RateLimitWindow),
		rotator: rotator,
		opts:    opts,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// AppendInput is one append request after transport decoding. Meta
// arrives raw because callers send objects, pair arrays, or strings.
type AppendInput struct {
	Project      string          `json:"project,omitempty"`
	Message      string          `json:"message"`
	Status       string          `json:"status,omitempty"`
	Emoji        string          `json:"emoji,omitempty"`
	Agent        string          `json:"agent,omitempty"`
	AgentID      string          `json:"agent_id,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	Meta         json.RawMessage `json:"meta,omitempty"`
	TimestampUTC string          `json:"timestamp_utc,omitempty"`
	LogType      string          `json:"log_type,omitempty"`
}

// AppendResult reports one append: the primary path, every tee path,
// and the non-fatal warnings and reminders gathered along the way.
type AppendResult struct {
	OK             bool            `json:"ok"`
	ID             string          `json:"id,omitempty"`
	Path           string          `json:"path,omitempty"`
	Paths          []string        `json:"paths,omitempty"`
	Entry          *types.LogEntry `json:"-"`
	Meta           types.Meta      `json:"meta,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Reminders      []string        `json:"reminders,omitempty"`
	RecentProjects []string        `json:"recent_projects,omitempty"`
	Promoted       bool            `json:"promoted,omitempty"`
}

// Append runs the full single-entry pipeline.
func (p *Pipeline) Append(ctx context.Context, in AppendInput) (*AppendResult, error) {
	res := &AppendResult{}

	status, err := NormalizeStatus(in.Status)
	if err != nil {
		return nil, err
	}
	meta, err := CoerceMeta(in.Meta)
	if err != nil {
		return nil, err
	}
	meta, renamed, err := SanitizeMeta(meta)
	if err != nil {
		return nil, err
	}
	for _, r := range renamed {
		res.Warnings = append(res.Warnings, "meta_error: sanitized key "+r)
	}
	ts, err := NormalizeTimestamp(in.TimestampUTC, p.Now)
	if err != nil {
		return nil, err
	}
	if err := ValidateMessage(in.Message, false); err != nil {
		return nil, err
	}

	logType := strings.TrimSpace(in.LogType)
	if logType == "" {
		logType = logtypes.TypeProgress
	}
	spec, ok := p.catalog[logType]
	if !ok {
		return nil, fault.New(fault.CodeMessageInvalid, "unknown log type %q", logType).
			WithSuggestion("known types: %s", strings.Join(p.catalog.Names(), ", "))
	}

	project, err := p.resolveProject(ctx, in.Project, in.AgentID, in.SessionID)
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Allow(projectName(project)); err != nil {
		return nil, err
	}

	agent := p.resolveAgent(in.Agent, project)
	emoji := p.resolveEmoji(in.Emoji, status, project, spec)

	if err := CheckMetadataRequirements(spec, meta); err != nil {
		return nil, err
	}

	entry := &types.LogEntry{
		ProjectName: projectName(project),
		TS:          ts,
		Emoji:       emoji,
		Agent:       agent,
		Message:     in.Message,
		Meta:        meta,
		LogType:     logType,
	}
	projectSlug := GlobalProject
	if project != nil {
		projectSlug = project.Slug
		entry.ProjectID = project.ID
	}
	entry.ID = EntryID(p.opts.RepoSlug, projectSlug, ts, agent, in.Message, meta)
	entry.RawLine = ComposeLine(entry)
	entry.SHA256 = integrity.HashBytes([]byte(entry.RawLine))

	path := p.logPath(project, spec)
	res.Warnings = append(res.Warnings, p.recoverJournal(path)...)
	res.Warnings = append(res.Warnings, p.rotateIfOversize(ctx, project, logType, path)...)

	if err := fileio.AppendWithJournal(path, entry.ID, ts, entry.RawLine, p.opts.LockTimeout); err != nil {
		return nil, err
	}
	p.refreshStats(projectName(project), logType, path)

	res.OK = true
	res.ID = entry.ID
	res.Path = path
	res.Paths = []string{path}
	res.Entry = entry
	res.Meta = meta

	if warn := p.mirrorEntry(ctx, entry); warn != "" {
		res.Warnings = append(res.Warnings, warn)
	}

	p.fanOut(project, entry, status, res)

	if project != nil {
		promoted, err := p.touchEntry(ctx, project.Name, logType, ts)
		if err != nil {
			res.Warnings = append(res.Warnings, "registry touch failed: "+err.Error())
		}
		res.Promoted = promoted
		if promoted {
			res.Reminders = append(res.Reminders,
				fmt.Sprintf("project %q moved from planning to in_progress", project.Name))
		}
		p.touchAgentContext(ctx, project, in.AgentID, in.SessionID, ts)
	}
	if p.state != nil {
		res.RecentProjects = p.state.RecentProjects()
	}
	return res, nil
}

// resolveProject walks the resolution chain: explicit name, the
// agent-scoped binding, the session binding, the agent's recency mirror,
// then the most recent project. The literal "global" short-circuits to
// the global ledger.
func (p *Pipeline) resolveProject(ctx context.Context, explicit, agentID, sessionID string) (*types.Project, error) {
	name := strings.TrimSpace(explicit)
	if name == "" && p.state != nil {
		name, _ = p.state.CurrentProject(agentID)
	}
	if name == "" && sessionID != "" && p.store != nil {
		sctx, cancel := p.storageCtx(ctx)
		if sess, err := p.store.GetSession(sctx, sessionID); err == nil {
			name = sess.ProjectName
		}
		cancel()
	}
	if name == "" && agentID != "" && p.store != nil {
		sctx, cancel := p.storageCtx(ctx)
		if recent, err := p.store.RecentProjectsForAgent(sctx, agentID, 1); err == nil && len(recent) > 0 {
			name = recent[0]
		}
		cancel()
	}
	if name == "" && p.state != nil {
		if recent := p.state.RecentProjects(); len(recent) > 0 {
			name = recent[0]
		}
	}
	if name == GlobalProject {
		return nil, nil
	}
	if name == "" {
		return nil, p.resolutionError("no active project")
	}
	if p.store == nil {
		// Mirror-less mode still needs a slug for paths and IDs.
		return &types.Project{Name: name, Slug: utils.Slugify(name), Status: types.StatusPlanning}, nil
	}
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	project, err := p.store.GetProject(sctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, p.resolutionError(fmt.Sprintf("project %q is not registered", name))
	}
	if err != nil {
		return nil, p.resolutionError(fmt.Sprintf("project lookup failed: %v", err))
	}
	return project, nil
}

func (p *Pipeline) resolutionError(msg string) error {
	err := fault.New(fault.CodeProjectResolution, "%s", msg).
		WithSuggestion("run set_project first, or pass project explicitly")
	if p.state != nil {
		if recent := p.state.RecentProjects(); len(recent) > 0 {
			err = err.WithDetail("recent_projects", recent)
		}
	}
	return err
}

func projectName(p *types.Project) string {
	if p == nil {
		return GlobalProject
	}
	return p.Name
}

// resolveAgent: explicit value, project default, configured identity,
// hardcoded fallback.
func (p *Pipeline) resolveAgent(explicit string, project *types.Project) string {
	if a := strings.TrimSpace(explicit); a != "" {
		return a
	}
	if project != nil {
		if a := project.Defaults["agent"]; a != "" {
			return a
		}
	}
	if p.opts.DefaultAgent != "" {
		return p.opts.DefaultAgent
	}
	return "Scribe"
}

// resolveEmoji: explicit, status table, project default, log-type
// default, hardcoded fallback.
func (p *Pipeline) resolveEmoji(explicit, status string, project *types.Project, spec logtypes.Spec) string {
	if e := strings.TrimSpace(explicit); e != "" {
		return e
	}
	if e, ok := logtypes.StatusEmoji[status]; ok && status != "" {
		return e
	}
	if project != nil {
		if e := project.Defaults["emoji"]; e != "" {
			return e
		}
	}
	if spec.Emoji != "" {
		return spec.Emoji
	}
	return "ℹ️"
}

func (p *Pipeline) logPath(project *types.Project, spec logtypes.Spec) string {
	if project == nil {
		return paths.GlobalProgressLog(p.opts.RepoRoot)
	}
	dir := paths.DevPlanDir(p.opts.RepoRoot, project.Slug)
	if project.Docs != nil {
		if path, ok := project.Docs[docKeyForTemplate(spec)]; ok && path != "" {
			return path
		}
	}
	return spec.FilePath(dir)
}

// docKeyForTemplate maps a log-type template to its project.docs key.
func docKeyForTemplate(spec logtypes.Spec) string {
	switch spec.TemplateName {
	case "progress_log":
		return "progress_log"
	case "doc_log":
		return "doc_log"
	case "security_log":
		return "security_log"
	case "bug_log":
		return "bug_log"
	}
	return ""
}

func (p *Pipeline) rotateIfOversize(ctx context.Context, project *types.Project, logType, path string) []string {
	if p.rotator == nil || p.opts.LogMaxBytes <= 0 || project == nil {
		return nil
	}
	snap, err := fileio.StatFile(path)
	if err != nil || !snap.Exists || snap.Size < p.opts.LogMaxBytes {
		return nil
	}
	warnings, err := p.rotator.RotateOversize(ctx, project, logType, path)
	if err != nil {
		return append(warnings, "size-triggered rotation failed: "+err.Error())
	}
	return warnings
}

// refreshStats keeps the estimator cache warm: when the previous cache
// matched the file before this append, one line is added cheaply;
// otherwise the cache is re-seeded from a stat and marked approximate.
func (p *Pipeline) refreshStats(project, logType, path string) {
	if p.state == nil {
		return
	}
	snap, err := fileio.StatFile(path)
	if err != nil || !snap.Exists {
		return
	}
	prev, ok := p.state.Stats(project, logType)
	fs := state.FileStats{
		SizeBytes:       snap.Size,
		MtimeNS:         snap.MtimeNS,
		Inode:           snap.Inode,
		EMABytesPerLine: integrity.DefaultEMA,
		Source:          "append",
	}
	if ok {
		fs.EMABytesPerLine = prev.EMABytesPerLine
		if prev.Initialized {
			fs.LineCount = prev.LineCount + 1
			fs.Initialized = true
		}
	}
	_ = p.state.SetStats(project, logType, fs)
}

func (p *Pipeline) mirrorEntry(ctx context.Context, entry *types.LogEntry) string {
	if p.store == nil || entry.ProjectID == 0 {
		return ""
	}
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	if err := p.store.InsertEntry(sctx, entry); err != nil {
		return fault.Wrap(fault.CodeMirrorFailure, err, "mirror insert failed; the log file is authoritative").Error()
	}
	return ""
}

// fanOut writes the tee copies: bug entries into the bug log, security
// events into the security log, and auxiliary entries back into the
// progress log so one canonical timeline exists. Tee failures never
// fail the primary write.
func (p *Pipeline) fanOut(project *types.Project, entry *types.LogEntry, status string, res *AppendResult) {
	if project == nil {
		return
	}
	targets := make([]string, 0, 2)
	if entry.LogType != logtypes.TypeBugs && IsBugEvent(status, entry.Emoji) {
		targets = append(targets, logtypes.TypeBugs)
	}
	if entry.LogType != logtypes.TypeSecurity && IsSecurityEvent(entry.Meta, entry.Emoji) {
		targets = append(targets, logtypes.TypeSecurity)
	}
	if entry.LogType == logtypes.TypeBugs || entry.LogType == logtypes.TypeSecurity {
		targets = append(targets, logtypes.TypeProgress)
	}

	for _, target := range targets {
		spec, ok := p.catalog[target]
		if !ok {
			continue
		}
		if err := CheckMetadataRequirements(spec, entry.Meta); err != nil {
			if fe, isFault := fault.From(err); isFault {
				res.Reminders = append(res.Reminders, fmt.Sprintf(
					"%s log expects metadata keys %v; example: --meta severity=high",
					target, fe.Detail["missing_keys"]))
			}
		}
		path := p.logPath(project, spec)
		res.Warnings = append(res.Warnings, p.recoverJournal(path)...)
		if err := fileio.AppendWithJournal(path, entry.ID, entry.TS, entry.RawLine, p.opts.LockTimeout); err != nil {
			res.Warnings = append(res.Warnings,
				fault.Wrap(fault.CodeTeeFailure, err, "tee to %s failed", target).Error())
			continue
		}
		p.refreshStats(project.Name, target, path)
		res.Paths = append(res.Paths, path)
	}
}

// recoverJournal replays uncommitted journal records a crashed writer
// left behind, the first time this process touches a log file. The
// startup sweep covers files no append ever reaches.
func (p *Pipeline) recoverJournal(path string) []string {
	if _, seen := p.replayed.LoadOrStore(path, struct{}{}); seen {
		return nil
	}
	res, err := fileio.ReplayJournal(path, p.opts.LockTimeout)
	var warnings []string
	if err != nil {
		warnings = append(warnings, "journal replay: "+err.Error())
	}
	if res.Replayed > 0 {
		warnings = append(warnings, fmt.Sprintf("recovered %d journaled line(s) for %s", res.Replayed, path))
	}
	return warnings
}

// touchAgentContext keeps the mirror's agent recency and session rows
// current so cross-process resolution works. Best-effort: the entry is
// already on disk.
func (p *Pipeline) touchAgentContext(ctx context.Context, project *types.Project, agentID, sessionID string, ts time.Time) {
	if p.store == nil || project == nil {
		return
	}
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	if agentID != "" {
		_ = p.store.TouchAgentProject(sctx, agentID, project.Name, ts)
	}
	if sessionID != "" {
		_ = p.store.UpsertSession(sctx, &types.Session{
			SessionID:   sessionID,
			AgentID:     agentID,
			RepoRoot:    p.opts.RepoRoot,
			Mode:        types.ModeProject,
			ProjectName: project.Name,
		})
	}
}

func (p *Pipeline) touchEntry(ctx context.Context, name, logType string, ts time.Time) (bool, error) {
	if p.reg == nil {
		return false, nil
	}
	sctx, cancel := p.storageCtx(ctx)
	defer cancel()
	return p.reg.TouchEntry(sctx, name, logType, ts)
}

func (p *Pipeline) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.opts.StorageTimeout)
}

// BulkInput is a batch append. Items may arrive as decoded structs, as
// a JSON-encoded string, or as a multiline message with auto_split.
type BulkInput struct {
	Base           AppendInput   `json:"base"`
	Items          []AppendInput `json:"items_list,omitempty"`
	ItemsJSON      string        `json:"items,omitempty"`
	AutoSplit      bool          `json:"auto_split,omitempty"`
	SplitDelimiter string        `json:"split_delimiter,omitempty"`
	StaggerSeconds int           `json:"stagger_seconds,omitempty"`
}

// FailedItem reports one bulk item that did not land.
type FailedItem struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// BulkResult summarizes a batch append.
type BulkResult struct {
	OK           bool         `json:"ok"`
	WrittenLines []string     `json:"written_lines"`
	FailedItems  []FailedItem `json:"failed_items,omitempty"`
	Paths        []string     `json:"paths,omitempty"`
	Warnings     []string     `json:"warnings,omitempty"`
	Reminders    []string     `json:"reminders,omitempty"`
}

// AppendBulk expands, staggers, and chunks a batch, running chunks on a
// small worker pool. Writes inside a chunk stay in submission order;
// cross-file ordering comes from the per-file lock. Item failures are
// collected, never fatal to the batch.
func (p *Pipeline) AppendBulk(ctx context.Context, in BulkInput) (*BulkResult, error) {
	items, err := p.expandBulk(in)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fault.New(fault.CodeMessageInvalid, "bulk append has no items").
			WithSuggestion("pass items_list, items JSON, or auto_split with a multiline message")
	}

	base, err := NormalizeTimestamp(in.Base.TimestampUTC, p.Now)
	if err != nil {
		return nil, err
	}
	stagger := time.Duration(in.StaggerSeconds) * time.Second
	if stagger < 0 {
		stagger = 0
	}
	for i := range items {
		if items[i].TimestampUTC == "" {
			items[i].TimestampUTC = utils.FormatUTC(base.Add(time.Duration(i) * stagger))
		}
	}

	type itemResult struct {
		res *AppendResult
		err error
	}
	results := make([]itemResult, len(items))

	var wg sync.WaitGroup
	chunks := make(chan [2]int)
	workers := 4
	if n := (len(items) + p.opts.BulkChunkSize - 1) / p.opts.BulkChunkSize; n < workers {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for span := range chunks {
				for i := span[0]; i < span[1]; i++ {
					r, err := p.Append(ctx, items[i])
					results[i] = itemResult{res: r, err: err}
				}
			}
		}()
	}
	for start := 0; start < len(items); start += p.opts.BulkChunkSize {
		end := start + p.opts.BulkChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks <- [2]int{start, end}
	}
	close(chunks)
	wg.Wait()

	out := &BulkResult{OK: true}
	seenPaths := map[string]bool{}
	for i, r := range results {
		if r.err != nil {
			item := FailedItem{Index: i, Message: items[i].Message, Error: r.err.Error()}
			item.Code = string(fault.CodeOf(r.err))
			out.FailedItems = append(out.FailedItems, item)
			continue
		}
		out.WrittenLines = append(out.WrittenLines, r.res.ID)
		out.Warnings = append(out.Warnings, r.res.Warnings...)
		out.Reminders = append(out.Reminders, r.res.Reminders...)
		for _, path := range r.res.Paths {
			if !seenPaths[path] {
				seenPaths[path] = true
				out.Paths = append(out.Paths, path)
			}
		}
	}
	return out, nil
}

// expandBulk resolves the three bulk shapes into a flat item list with
// base fields inherited.
func (p *Pipeline) expandBulk(in BulkInput) ([]AppendInput, error) {
	var items []AppendInput
	switch {
	case len(in.Items) > 0:
		items = in.Items
	case strings.TrimSpace(in.ItemsJSON) != "":
		if err := json.Unmarshal([]byte(in.ItemsJSON), &items); err != nil {
			return nil, fault.Wrap(fault.CodeMessageInvalid, err, "items is not a JSON array of entries").
				WithSuggestion(`items must look like [{"message": "..."}, ...]`)
		}
	case in.AutoSplit:
		delim := in.SplitDelimiter
		if delim == "" {
			delim = "\n"
		}
		for _, part := range strings.Split(in.Base.Message, delim) {
			if strings.TrimSpace(part) == "" {
				continue
			}
			item := in.Base
			item.Message = strings.TrimSpace(part)
			item.TimestampUTC = ""
			items = append(items, item)
		}
	}

	for i := range items {
		if items[i].Project == "" {
			items[i].Project = in.Base.Project
		}
		if items[i].Status == "" {
			items[i].Status = in.Base.Status
		}
		if items[i].Emoji == "" {
			items[i].Emoji = in.Base.Emoji
		}
		if items[i].Agent == "" {
			items[i].Agent = in.Base.Agent
		}
		if items[i].AgentID == "" {
			items[i].AgentID = in.Base.AgentID
		}
		if len(items[i].Meta) == 0 {
			items[i].Meta = in.Base.Meta
		}
		if items[i].LogType == "" {
			items[i].LogType = in.Base.LogType
		}
	}
	return items, nil
}
