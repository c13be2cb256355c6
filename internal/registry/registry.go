// Package registry is the derived view over the project tables: it
// joins registry rows with metrics and doc-change history and computes
// lifecycle, staleness, activity, and drift fields on every read.
// Writes are limited to ensure, touch, status, and doc-update
// operations.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/logtypes"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/types"
)

const driftAfter = 7 * 24 * time.Hour

// Registry computes project views. Now is injectable for tests.
type Registry struct {
	store storage.Storage
	state *state.Manager
	Now   func() time.Time
}

func New(store storage.Storage, st *state.Manager) *Registry {
	return &Registry{store: store, state: st, Now: func() time.Time { return time.Now().UTC() }}
}

// Activity is the computed recency block of a project view.
type Activity struct {
	ProjectAgeDays      float64 `json:"project_age_days"`
	DaysSinceLastEntry  float64 `json:"days_since_last_entry"`
	DaysSinceLastAccess float64 `json:"days_since_last_access"`
	EntryRate           float64 `json:"entry_rate"`
	StalenessLevel      string  `json:"staleness_level"`
	ActivityScore       float64 `json:"activity_score"`
}

// DocsMeta is the persisted document-tracking block inside project
// meta. Hashes are hex SHA-256 of full document contents.
type DocsMeta struct {
	BaselineHashes map[string]string `json:"baseline_hashes,omitempty"`
	CurrentHashes  map[string]string `json:"current_hashes,omitempty"`
	UpdateCount    int64             `json:"update_count,omitempty"`
	LastUpdateAt   time.Time         `json:"last_update_at,omitempty"`
	DriftScore     float64           `json:"drift_score,omitempty"`
}

// View is one project with its computed fields.
type View struct {
	*types.Project
	TotalEntries  int64            `json:"total_entries"`
	EntriesByType map[string]int64 `json:"entries_by_type,omitempty"`
	Activity      Activity         `json:"activity"`
	DocsFlags     map[string]bool  `json:"docs_flags"`
	DocDrift      bool             `json:"doc_drift"`
}

// EnsureProject registers (or refreshes) a project and records it as
// recently used.
func (r *Registry) EnsureProject(ctx context.Context, p *types.Project) (*types.Project, error) {
	stored, err := r.store.EnsureProject(ctx, p)
	if err != nil {
		return nil, err
	}
	if r.state != nil {
		_ = r.state.TouchProject(stored.Name)
	}
	return stored, nil
}

// Get returns the computed view for one project.
func (r *Registry) Get(ctx context.Context, name string) (*View, error) {
	p, err := r.store.GetProject(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.buildView(ctx, p)
}

// List returns computed views for every registered project.
func (r *Registry) List(ctx context.Context) ([]*View, error) {
	projects, err := r.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*View, 0, len(projects))
	for _, p := range projects {
		v, err := r.buildView(ctx, p)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// TouchAccess marks the project as read.
func (r *Registry) TouchAccess(ctx context.Context, name string) error {
	if err := r.store.TouchProjectAccess(ctx, name, r.Now()); err != nil {
		return err
	}
	if r.state != nil {
		_ = r.state.TouchProject(name)
	}
	return nil
}

// TouchEntry records an append and applies the lifecycle promotion
// rule: a planning project moves to in_progress on its first progress
// entry once all three core docs exist. Returns true when the project
// was promoted by this touch.
func (r *Registry) TouchEntry(ctx context.Context, name, logType string, at time.Time) (bool, error) {
	p, err := r.store.GetProject(ctx, name)
	if err != nil {
		return false, err
	}
	if err := r.store.TouchProjectEntry(ctx, name, at); err != nil {
		return false, err
	}
	if err := r.store.IncrementEntryCount(ctx, p.ID, logType); err != nil {
		return false, err
	}
	if r.state != nil {
		_ = r.state.TouchProject(name)
	}

	if p.Status != types.StatusPlanning || logType != logtypes.TypeProgress {
		return false, nil
	}
	if !coreDocsExist(p.Docs) {
		return false, nil
	}
	if err := r.store.UpdateProjectStatus(ctx, name, types.StatusInProgress, at); err != nil {
		return false, err
	}
	return true, nil
}

// SetStatus validates and applies an explicit lifecycle change.
func (r *Registry) SetStatus(ctx context.Context, name, status string) error {
	if !types.ValidStatus(status) {
		return fault.New(fault.CodeMessageInvalid, "unknown project status %q", status).
			WithSuggestion("use one of planning, in_progress, complete")
	}
	return r.store.UpdateProjectStatus(ctx, name, status, r.Now())
}

// RecordDocUpdate persists one document mutation: the audit row, the
// per-doc hash bookkeeping inside project meta, and the plan link.
func (r *Registry) RecordDocUpdate(ctx context.Context, name string, change *types.DocumentChange) error {
	p, err := r.store.GetProject(ctx, name)
	if err != nil {
		return err
	}
	change.ProjectID = p.ID
	if change.TS.IsZero() {
		change.TS = r.Now()
	}
	if err := r.store.InsertDocChange(ctx, change); err != nil {
		return err
	}

	dm := docsMetaFrom(p.Meta)
	if dm.CurrentHashes == nil {
		dm.CurrentHashes = make(map[string]string)
	}
	if dm.BaselineHashes == nil {
		dm.BaselineHashes = make(map[string]string)
	}
	if _, ok := dm.BaselineHashes[change.Doc]; !ok && change.SHABefore != "" {
		dm.BaselineHashes[change.Doc] = change.SHABefore
	}
	if change.SHAAfter != "" {
		dm.CurrentHashes[change.Doc] = change.SHAAfter
	}
	dm.UpdateCount++
	dm.LastUpdateAt = change.TS

	meta := p.Meta
	if meta == nil {
		meta = make(map[string]any)
	}
	meta["docs"] = dm
	return r.store.UpdateProjectMeta(ctx, name, meta)
}

// SetBaseline records a document's creation hash without counting it
// as an update.
func (r *Registry) SetBaseline(ctx context.Context, name, doc, sha string) error {
	p, err := r.store.GetProject(ctx, name)
	if err != nil {
		return err
	}
	dm := docsMetaFrom(p.Meta)
	if dm.BaselineHashes == nil {
		dm.BaselineHashes = make(map[string]string)
	}
	if dm.CurrentHashes == nil {
		dm.CurrentHashes = make(map[string]string)
	}
	dm.BaselineHashes[doc] = sha
	dm.CurrentHashes[doc] = sha
	meta := p.Meta
	if meta == nil {
		meta = make(map[string]any)
	}
	meta["docs"] = dm
	return r.store.UpdateProjectMeta(ctx, name, meta)
}

func (r *Registry) buildView(ctx context.Context, p *types.Project) (*View, error) {
	now := r.Now()

	metrics, err := r.store.GetMetrics(ctx, p.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if metrics == nil {
		metrics = &types.ProjectMetrics{ProjectID: p.ID}
	}
	lastDocUpdate, err := r.store.LastDocUpdateAt(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	dm := docsMetaFrom(p.Meta)
	flags := docFlags(p.Docs, dm)

	ageDays := daysBetween(p.CreatedAt, now)
	entryDays := ageDays
	if !p.LastEntryAt.IsZero() {
		entryDays = daysBetween(p.LastEntryAt, now)
	}
	accessDays := ageDays
	if !p.LastAccessAt.IsZero() {
		accessDays = daysBetween(p.LastAccessAt, now)
	}

	entryRate := float64(metrics.TotalEntries) / math.Max(ageDays, 1)
	docsReady := 0.0
	if flags["docs_ready_for_work"] {
		docsReady = 1
	}
	score := -entryDays - 0.5*accessDays + 1.5*entryRate + 2*docsReady + 0.5*priorityScore(p.Meta)

	drift := docDrift(p, flags, metrics, dm, lastDocUpdate)
	flags["doc_drift_suspected"] = drift

	return &View{
		Project:       p,
		TotalEntries:  metrics.TotalEntries,
		EntriesByType: metrics.EntriesByType,
		Activity: Activity{
			ProjectAgeDays:      round2(ageDays),
			DaysSinceLastEntry:  round2(entryDays),
			DaysSinceLastAccess: round2(accessDays),
			EntryRate:           round2(entryRate),
			StalenessLevel:      staleness(entryDays),
			ActivityScore:       round2(score),
		},
		DocsFlags: flags,
		DocDrift:  drift,
	}, nil
}

// staleness buckets days-without-activity into the four levels.
func staleness(days float64) string {
	switch {
	case days <= 2:
		return types.StalenessFresh
	case days <= 7:
		return types.StalenessWarming
	case days <= 30:
		return types.StalenessStale
	default:
		return types.StalenessFrozen
	}
}

// docFlags computes the per-doc and aggregate flags. Touched means the
// registered file exists; modified means its hash moved off baseline.
func docFlags(docs map[string]string, dm DocsMeta) map[string]bool {
	flags := make(map[string]bool)
	started := false
	readyCount := 0
	for _, doc := range logtypes.CoreDocs {
		touched := false
		if path, ok := docs[doc]; ok && path != "" {
			if _, err := os.Stat(path); err == nil {
				touched = true
			}
		}
		flags[doc+"_touched"] = touched
		if touched {
			started = true
			readyCount++
		}
		baseline, current := dm.BaselineHashes[doc], dm.CurrentHashes[doc]
		flags[doc+"_modified"] = baseline != "" && current != "" && baseline != current
	}
	flags["docs_started"] = started
	flags["docs_ready_for_work"] = readyCount == len(logtypes.CoreDocs)
	return flags
}

func docDrift(p *types.Project, flags map[string]bool, metrics *types.ProjectMetrics, dm DocsMeta, lastDocUpdate time.Time) bool {
	if p.Status != types.StatusInProgress && p.Status != types.StatusComplete {
		return false
	}
	if !flags["docs_ready_for_work"] {
		return true
	}
	progressEntries := metrics.EntriesByType[logtypes.TypeProgress]
	if progressEntries > 0 && dm.UpdateCount == 0 && lastDocUpdate.IsZero() {
		return true
	}
	docsAt := lastDocUpdate
	if dm.LastUpdateAt.After(docsAt) {
		docsAt = dm.LastUpdateAt
	}
	if !p.LastEntryAt.IsZero() && !docsAt.IsZero() && p.LastEntryAt.Sub(docsAt) >= driftAfter {
		return true
	}
	return false
}

func coreDocsExist(docs map[string]string) bool {
	for _, doc := range logtypes.CoreDocs {
		path, ok := docs[doc]
		if !ok || path == "" {
			return false
		}
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// docsMetaFrom decodes the docs block out of free-form project meta.
// The block round-trips through JSON so it tolerates both typed and
// map-shaped values.
func docsMetaFrom(meta map[string]any) DocsMeta {
	var dm DocsMeta
	raw, ok := meta["docs"]
	if !ok {
		return dm
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return dm
	}
	_ = json.Unmarshal(b, &dm)
	return dm
}

func priorityScore(meta map[string]any) float64 {
	raw, ok := meta["priority"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func daysBetween(from, to time.Time) float64 {
	if from.IsZero() {
		return 0
	}
	d := to.Sub(from).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
