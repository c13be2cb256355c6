package fileio

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
)

// JournalRecord is one line of a <file>.journal. Append records carry
// the exact content that will land in the target; commit records point
// back at the append they seal. Rotation records are audit-only.
type JournalRecord struct {
	Op        string `json:"op"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Content   string `json:"content,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	RefID     string `json:"ref_id,omitempty"`

	From           string `json:"from,omitempty"`
	To             string `json:"to,omitempty"`
	RotationID     string `json:"rotation_id,omitempty"`
	Sequence       int64  `json:"sequence,omitempty"`
	EntriesRotated int    `json:"entries_rotated,omitempty"`
	LogType        string `json:"log_type,omitempty"`
}

const (
	opAppend = "append"
	opCommit = "commit"
	opRotate = "rotate"
)

// JournalPath returns the sibling journal for a target file.
func JournalPath(target string) string {
	return target + ".journal"
}

// AppendWithJournal performs one crash-safe append: under the target's
// lock it journals the intent (fsync), applies the append (fsync), then
// journals the commit. After a crash, ReplayJournal finishes or skips
// the work exactly once.
func AppendWithJournal(target, id string, ts time.Time, line string, lockTimeout time.Duration) error {
	content := line
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return WithLock(target, lockTimeout, func() error {
		rec := JournalRecord{
			Op:        opAppend,
			ID:        id,
			Timestamp: ts.UTC().Format(time.RFC3339),
			Content:   content,
			FilePath:  target,
		}
		if err := writeJournalRecord(target, rec); err != nil {
			return err
		}
		if err := AppendBytes(target, []byte(content)); err != nil {
			return err
		}
		return writeJournalRecord(target, JournalRecord{Op: opCommit, RefID: id})
	})
}

// RecordRotation journals a rotation event. Best-effort: rotation audit
// lives in SQLite; the journal line only aids manual forensics.
func RecordRotation(target string, rec JournalRecord) {
	rec.Op = opRotate
	_ = writeJournalRecord(target, rec)
}

func writeJournalRecord(target string, rec JournalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fault.Wrap(fault.CodeAtomicWriteFailure, err, "marshal journal record for %s", target)
	}
	return AppendBytes(JournalPath(target), append(data, '\n'))
}

// ReplayResult summarizes a journal replay.
type ReplayResult struct {
	Replayed int
	Skipped  int
	Errors   []string
}

// ReplayJournal scans <target>.journal for append records lacking a
// commit and applies them exactly once: an uncommitted append whose
// content already sits in the target (the deterministic entry ID is
// embedded in the line) is committed without re-appending. On success
// the journal is truncated. Per-entry failures are collected, not fatal.
func ReplayJournal(target string, lockTimeout time.Duration) (ReplayResult, error) {
	var res ReplayResult

	journal := JournalPath(target)
	if _, err := os.Stat(journal); os.IsNotExist(err) {
		return res, nil
	}

	err := WithLock(target, lockTimeout, func() error {
		f, err := os.Open(journal)
		if err != nil {
			return fault.Wrap(fault.CodeJournalReplay, err, "open journal %s", journal)
		}

		var pending []JournalRecord
		committed := map[string]bool{}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var rec JournalRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				res.Errors = append(res.Errors, "unparseable journal line: "+line)
				continue
			}
			switch rec.Op {
			case opAppend:
				pending = append(pending, rec)
			case opCommit:
				committed[rec.RefID] = true
			}
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return fault.Wrap(fault.CodeJournalReplay, scanErr, "scan journal %s", journal)
		}

		var existing string
		if data, err := os.ReadFile(target); err == nil {
			existing = string(data)
		}

		for _, rec := range pending {
			if committed[rec.ID] {
				continue
			}
			if rec.Content != "" && strings.Contains(existing, rec.Content) {
				res.Skipped++
			} else {
				if err := AppendBytes(target, []byte(rec.Content)); err != nil {
					res.Errors = append(res.Errors, err.Error())
					continue
				}
				existing += rec.Content
				res.Replayed++
			}
			if err := writeJournalRecord(target, JournalRecord{Op: opCommit, RefID: rec.ID}); err != nil {
				res.Errors = append(res.Errors, err.Error())
			}
		}

		// Everything is committed; start the journal fresh.
		return AtomicWrite(journal, nil)
	})
	if err != nil {
		return res, err
	}
	if len(res.Errors) > 0 {
		return res, fault.New(fault.CodeJournalReplay, "journal replay for %s hit %d error(s)", target, len(res.Errors))
	}
	return res, nil
}

// SweepJournals walks dirs for leftover journal files and replays each
// target, finishing work a crashed writer left behind. Missing dirs and
// already-empty journals are skipped. Returns human-readable warnings;
// a sweep problem never blocks startup.
func SweepJournals(dirs []string, lockTimeout time.Duration) []string {
	var warnings []string
	for _, dir := range dirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ".journal") {
				return nil
			}
			if info, err := d.Info(); err != nil || info.Size() == 0 {
				return nil
			}
			target := strings.TrimSuffix(path, ".journal")
			res, err := ReplayJournal(target, lockTimeout)
			if err != nil {
				warnings = append(warnings, "journal replay for "+target+": "+err.Error())
			}
			if res.Replayed > 0 {
				warnings = append(warnings, fmt.Sprintf("recovered %d journaled line(s) for %s", res.Replayed, target))
			}
			return nil
		})
	}
	return warnings
}
