// Package rotation archives oversized log files and starts fresh ones.
// Classification runs on cached stats and the bytes-per-line estimator
// so a rotate --dry-run never reads the whole file; execution swaps the
// file under its lock, keeps a hash chain over the archives, and records
// an audit row.
package rotation

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/fileio"
	"github.com/untoldecay/scribe/internal/integrity"
	"github.com/untoldecay/scribe/internal/logtypes"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/state"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/templates"
	"github.com/untoldecay/scribe/internal/types"
)

// Mode selects how hard a dry run works for its count.
type Mode string

const (
	ModeEstimate Mode = "estimate"
	ModePrecise  Mode = "precise"
)

// Options configures the engine.
type Options struct {
	RepoRoot         string
	ArchiveSuffix    string
	DefaultThreshold int
	LockTimeout      time.Duration
	StorageTimeout   time.Duration
}

// Engine rotates log files. Store may be nil; the audit row then goes
// unrecorded and the response says so.
type Engine struct {
	store   storage.Storage
	state   *state.Manager
	catalog logtypes.Catalog
	opts    Options

	Now func() time.Time
}

// New builds a rotation engine.
func New(store storage.Storage, st *state.Manager, catalog logtypes.Catalog, opts Options) *Engine {
	if opts.ArchiveSuffix == "" {
		opts.ArchiveSuffix = "archive"
	}
	if opts.DefaultThreshold <= 0 {
		opts.DefaultThreshold = 500
	}
	return &Engine{
		store:   store,
		state:   st,
		catalog: catalog,
		opts:    opts,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Request selects which logs to rotate and how.
type Request struct {
	Project       *types.Project
	LogTypes      []string
	All           bool
	DryRun        bool
	Mode          Mode
	AutoThreshold bool
	Threshold     int64
	Confirm       bool
}

// LogResult reports one log's outcome. Failures are per-log; a batch
// never aborts on the first bad file.
type LogResult struct {
	LogType          string   `json:"log_type"`
	Path             string   `json:"path"`
	Rotated          bool     `json:"rotated"`
	DryRun           bool     `json:"dry_run,omitempty"`
	Skipped          bool     `json:"skipped,omitempty"`
	SkipReason       string   `json:"skip_reason,omitempty"`
	RotationID       string   `json:"rotation_id,omitempty"`
	Sequence         int64    `json:"sequence,omitempty"`
	ArchivePath      string   `json:"archive_path,omitempty"`
	ArchiveSHA256    string   `json:"archive_sha256,omitempty"`
	EntriesRotated   int64    `json:"entries_rotated,omitempty"`
	EstimatedEntries int64    `json:"estimated_entries"`
	EstimateMethod   string   `json:"estimate_method,omitempty"`
	Approximate      bool     `json:"approximate,omitempty"`
	Threshold        int64    `json:"threshold"`
	Classification   string   `json:"classification,omitempty"`
	BackupPath       string   `json:"backup_path,omitempty"`
	Verified         bool     `json:"integrity_verified,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Result summarizes a rotate call across every selected log.
type Result struct {
	OK      bool        `json:"ok"`
	Rotated int         `json:"rotated"`
	Skipped int         `json:"skipped"`
	Failed  int         `json:"failed"`
	Results []LogResult `json:"results"`
}

// Rotate runs the request against every selected log type.
func (e *Engine) Rotate(ctx context.Context, req Request) (*Result, error) {
	if req.Project == nil {
		return nil, fault.New(fault.CodeProjectResolution, "rotation requires a project").
			WithSuggestion("pass project explicitly or run set_project first")
	}
	names := req.LogTypes
	if req.All || len(names) == 0 {
		names = e.catalog.Names()
	}

	out := &Result{OK: true}
	for _, name := range names {
		r := e.rotateOne(ctx, req, name)
		switch {
		case r.Error != "":
			out.Failed++
		case r.Rotated:
			out.Rotated++
		default:
			out.Skipped++
		}
		out.Results = append(out.Results, r)
	}
	if out.Failed > 0 && out.Rotated == 0 {
		out.OK = false
	}
	return out, nil
}

// RotateOversize is the append pipeline's synchronous size trigger: the
// file already crossed the byte threshold, so entry-count classification
// is skipped and the rotation executes directly.
func (e *Engine) RotateOversize(ctx context.Context, project *types.Project, logType, path string) ([]string, error) {
	r := e.rotateOne(ctx, Request{Project: project, LogTypes: []string{logType}, Confirm: true}, logType)
	if r.Error != "" {
		return r.Warnings, fmt.Errorf("%s", r.Error)
	}
	warnings := r.Warnings
	if r.Rotated {
		warnings = append(warnings,
			fmt.Sprintf("%s log rotated before append: archive %s", logType, filepath.Base(r.ArchivePath)))
	}
	return warnings, nil
}

func (e *Engine) rotateOne(ctx context.Context, req Request, logType string) LogResult {
	res := LogResult{LogType: logType, DryRun: !req.Confirm}

	spec, ok := e.catalog[logType]
	if !ok {
		res.Error = fmt.Sprintf("unknown log type %q", logType)
		return res
	}
	res.Path = e.logPath(req.Project, logType, spec)
	res.Threshold = e.threshold(req, spec)

	snap, err := fileio.StatFile(res.Path)
	if err != nil {
		res.Error = fmt.Sprintf("stat %s: %v", res.Path, err)
		return res
	}
	if !snap.Exists || snap.Size == 0 {
		res.Skipped = true
		res.SkipReason = "file_missing_or_empty"
		res.Classification = string(integrity.ClassBelow)
		return res
	}

	est, warnings := e.classify(req, logType, res.Path, snap, res.Threshold)
	res.Warnings = append(res.Warnings, warnings...)
	res.EstimatedEntries = est.Count
	res.EstimateMethod = string(est.Method)
	res.Approximate = est.Approximate
	class := integrity.Classify(est.Count, res.Threshold, est.Approximate)
	res.Classification = string(class)

	if req.AutoThreshold && class != integrity.ClassAbove {
		res.Skipped = true
		res.SkipReason = "threshold_not_reached"
		return res
	}

	rotationID := uuid.NewString()
	archive := e.archivePath(res.Path, rotationID)
	if !req.Confirm {
		res.RotationID = rotationID
		res.ArchivePath = archive
		return res
	}

	e.execute(ctx, req.Project, logType, spec, rotationID, archive, est, &res)
	return res
}

// classify produces the entry-count estimate, escalating from the cache
// through the EMA and tail sample to a precise count when the request
// demands one or hysteresis cannot decide.
func (e *Engine) classify(req Request, logType, path string, snap fileio.Snapshot, threshold int64) (integrity.Estimate, []string) {
	var warnings []string

	var cached integrity.CachedStats
	if e.state != nil {
		if fs, ok := e.state.Stats(req.Project.Name, logType); ok {
			cached = integrity.CachedStats{
				Size:        fs.SizeBytes,
				MtimeNS:     fs.MtimeNS,
				LineCount:   fs.LineCount,
				EMA:         fs.EMABytesPerLine,
				Initialized: fs.Initialized,
			}
		}
	}

	est := integrity.EstimateEntries(snap, cached)
	if integrity.Classify(est.Count, threshold, est.Approximate) == integrity.ClassUndecided {
		refined, err := integrity.TailRefine(path, snap)
		if err != nil {
			warnings = append(warnings, "tail sample failed: "+err.Error())
		} else {
			est = refined
		}
	}

	needPrecise := req.Mode == ModePrecise ||
		(req.Confirm && integrity.Classify(est.Count, threshold, est.Approximate) == integrity.ClassUndecided)
	if needPrecise && est.Approximate {
		_, lines, size, err := integrity.HashAndCount(path)
		if err != nil {
			warnings = append(warnings, "precise count failed: "+err.Error())
			return est, warnings
		}
		bpl := float64(size) / float64(lines)
		est = integrity.Estimate{
			Count:        lines,
			Approximate:  false,
			Method:       integrity.MethodPrecise,
			BytesPerLine: integrity.ClampEMA(bpl),
		}
		if e.state != nil {
			ema := cached.EMA
			if ema <= 0 {
				ema = integrity.DefaultEMA
			}
			_ = e.state.SetStats(req.Project.Name, logType, state.FileStats{
				SizeBytes:       snap.Size,
				MtimeNS:         snap.MtimeNS,
				Inode:           snap.Inode,
				LineCount:       lines,
				EMABytesPerLine: integrity.UpdateEMA(ema, bpl, integrity.AlphaPrecise),
				Source:          "precise_count",
				Initialized:     true,
			})
		}
	}
	return est, warnings
}

// execute performs the swap: backup, header to <file>.new, rename the
// live file to the archive, rename the header into place. Any failure
// after the first rename rolls the archive back.
func (e *Engine) execute(ctx context.Context, project *types.Project, logType string, spec logtypes.Spec, rotationID, archive string, est integrity.Estimate, res *LogResult) {
	started := e.Now()
	path := res.Path

	var chain state.HashChain
	if e.state != nil {
		chain, _ = e.state.Chain(project.Name, logType)
	}
	sequence := chain.LastSequence + 1
	if sequence == 1 && e.store != nil {
		// A fresh state file after re-init; the audit trail knows better.
		sctx, cancel := e.storageCtx(ctx)
		if last, err := e.store.LastRotation(sctx, project.ID, logType); err == nil && last != nil {
			sequence = last.SequenceNumber + 1
		}
		cancel()
	}

	backup, err := fileio.PreflightBackup(path)
	if err != nil {
		res.Error = err.Error()
		return
	}
	res.BackupPath = backup

	header := e.renderHeader(project, logType, spec, rotationID, sequence, archive)

	err = fileio.WithLock(path, e.opts.LockTimeout, func() error {
		newPath := path + ".new"
		if err := fileio.AtomicWrite(newPath, []byte(header)); err != nil {
			return err
		}
		if err := fileio.RenameWithRetry(path, archive); err != nil {
			return err
		}
		if err := fileio.RenameWithRetry(newPath, path); err != nil {
			if rbErr := fileio.RenameWithRetry(archive, path); rbErr != nil {
				return fault.Wrap(fault.CodeAtomicWriteFailure, err,
					"rotation failed and rollback failed too (%v); archive preserved at %s", rbErr, archive)
			}
			return fault.Wrap(fault.CodeAtomicWriteFailure, err, "rotation rolled back")
		}
		return nil
	})
	if err != nil {
		res.Error = err.Error()
		return
	}

	archiveSHA, archiveLines, _, hashErr := integrity.HashAndCount(archive)
	if hashErr != nil {
		res.Warnings = append(res.Warnings,
			fault.Wrap(fault.CodeRotationIntegrity, hashErr, "archive hash unavailable").Error())
	}
	res.Rotated = true
	res.DryRun = false
	res.RotationID = rotationID
	res.Sequence = sequence
	res.ArchivePath = archive
	res.ArchiveSHA256 = archiveSHA
	res.Verified = archiveSHA != ""
	res.EntriesRotated = est.Count
	if !est.Approximate && archiveLines > 0 {
		res.EntriesRotated = archiveLines
	}

	fileio.RecordRotation(path, fileio.JournalRecord{
		From:           path,
		To:             archive,
		RotationID:     rotationID,
		Timestamp:      started.Format(time.RFC3339),
		Sequence:       sequence,
		EntriesRotated: int(res.EntriesRotated),
		LogType:        logType,
	})

	if e.store != nil {
		sctx, cancel := e.storageCtx(ctx)
		insertErr := e.store.InsertRotation(sctx, &types.RotationRecord{
			RotationID:        rotationID,
			ProjectID:         project.ID,
			LogType:           logType,
			SequenceNumber:    sequence,
			PreviousHash:      chain.LastHash,
			ArchivePath:       archive,
			ArchiveSHA256:     archiveSHA,
			RotatedEntryCount: res.EntriesRotated,
			RotationTimestamp: started,
			DurationMS:        e.Now().Sub(started).Milliseconds(),
		})
		cancel()
		if insertErr != nil {
			res.Warnings = append(res.Warnings,
				fault.Wrap(fault.CodeMirrorFailure, insertErr, "rotation audit row not recorded").Error())
		}
	}

	if e.state != nil {
		_ = e.state.SetChain(project.Name, logType, state.HashChain{
			LastHash:     archiveSHA,
			RootHash:     integrity.ChainRoot(chain.RootHash, archiveSHA),
			LastSequence: sequence,
		})
		e.resetStats(project.Name, logType, path, header, est)
	}
}

// resetStats re-seeds the estimator for the fresh file: the line count
// is the header's, and the EMA blends in the rotated file's observed
// bytes-per-line.
func (e *Engine) resetStats(projectName, logType, path, header string, est integrity.Estimate) {
	snap, err := fileio.StatFile(path)
	if err != nil || !snap.Exists {
		_ = e.state.InvalidateStats(projectName, logType)
		return
	}
	ema := integrity.DefaultEMA
	if prev, ok := e.state.Stats(projectName, logType); ok && prev.EMABytesPerLine > 0 {
		ema = prev.EMABytesPerLine
	}
	alpha := integrity.AlphaEstimate
	if !est.Approximate {
		alpha = integrity.AlphaPrecise
	}
	if est.BytesPerLine > 0 {
		ema = integrity.UpdateEMA(ema, est.BytesPerLine, alpha)
	}
	_ = e.state.SetStats(projectName, logType, state.FileStats{
		SizeBytes:       snap.Size,
		MtimeNS:         snap.MtimeNS,
		Inode:           snap.Inode,
		LineCount:       int64(strings.Count(header, "\n")),
		EMABytesPerLine: ema,
		Source:          "rotation",
		Initialized:     true,
	})
}

func (e *Engine) renderHeader(project *types.Project, logType string, spec logtypes.Spec, rotationID string, sequence int64, archive string) string {
	title := strings.ReplaceAll(strings.ToUpper(logType), "_", " ") + " LOG"
	if logType == logtypes.TypeProgress {
		title = "Progress Log"
	}
	header := templates.RenderByName("rotation_header", map[string]string{
		"log_title":    title,
		"project_name": project.Name,
		"rotated_at":   e.Now().Format("2006-01-02 15:04:05") + " UTC",
		"rotation_id":  rotationID,
		"sequence":     fmt.Sprintf("%d", sequence),
		"archive_path": filepath.Base(archive),
	})
	if strings.Contains(header, "{{") {
		// A placeholder survived rendering; fall back to the minimal
		// header rather than shipping template syntax into the log.
		header = templates.MinimalHeader(title, project.Name)
	}
	return header
}

// archivePath derives `<name>.<suffix>_<short>.md` next to the source.
func (e *Engine) archivePath(path, rotationID string) string {
	short := strings.ReplaceAll(rotationID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	base := strings.TrimSuffix(filepath.Base(path), ".md")
	return filepath.Join(filepath.Dir(path),
		fmt.Sprintf("%s.%s_%s.md", base, e.opts.ArchiveSuffix, short))
}

func (e *Engine) threshold(req Request, spec logtypes.Spec) int64 {
	if req.Threshold > 0 {
		return req.Threshold
	}
	if spec.RotationThresholdEntries > 0 {
		return int64(spec.RotationThresholdEntries)
	}
	return int64(e.opts.DefaultThreshold)
}

func (e *Engine) logPath(project *types.Project, logType string, spec logtypes.Spec) string {
	if project.Docs != nil {
		if key := docKey(spec.TemplateName); key != "" {
			if path, ok := project.Docs[key]; ok && path != "" {
				return path
			}
		}
	}
	return spec.FilePath(paths.DevPlanDir(e.opts.RepoRoot, project.Slug))
}

func docKey(templateName string) string {
	switch templateName {
	case "progress_log", "doc_log", "security_log", "bug_log":
		return templateName
	}
	return ""
}

func (e *Engine) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.StorageTimeout)
}
