package fileio

import (
	"os"
	"path/filepath"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
)

const (
	filePerm = os.FileMode(0o644)
	dirPerm  = os.FileMode(0o755)

	renameAttempts = 5
	renameBackoff  = 20 * time.Millisecond
)

// AtomicWrite replaces the contents of path with data: write to a
// same-directory temp file, fsync it, rename over the target (retried),
// then fsync the parent directory. Appends never go through here; they
// use the journal path.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fault.Wrap(fault.CodeAtomicWriteFailure, err, "cannot create directory %s", dir)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fault.Wrap(fault.CodeAtomicWriteFailure, err, "cannot create temp file for %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fault.Wrap(fault.CodeAtomicWriteFailure, err, "short write to temp file for %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fault.Wrap(fault.CodeAtomicWriteFailure, err, "fsync temp file for %s", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fault.Wrap(fault.CodeAtomicWriteFailure, err, "close temp file for %s", path)
	}

	var renameErr error
	for attempt := 0; attempt < renameAttempts; attempt++ {
		if renameErr = os.Rename(tmp, path); renameErr == nil {
			break
		}
		time.Sleep(renameBackoff * time.Duration(attempt+1))
	}
	if renameErr != nil {
		os.Remove(tmp)
		return fault.Wrap(fault.CodeAtomicWriteFailure, renameErr, "rename into %s", path)
	}

	SyncDir(dir)
	return nil
}

// AppendBytes appends data to path with fsync. Callers must hold the
// target's lock.
func AppendBytes(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fault.Wrap(fault.CodeAtomicWriteFailure, err, "open %s for append", path)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fault.Wrap(fault.CodeAtomicWriteFailure, err, "append to %s", path)
	}
	if err := f.Sync(); err != nil {
		return fault.Wrap(fault.CodeAtomicWriteFailure, err, "fsync %s", path)
	}
	return nil
}

// RenameWithRetry renames old to new with the same retry policy as
// AtomicWrite and fsyncs the shared parent directory.
func RenameWithRetry(oldPath, newPath string) error {
	var err error
	for attempt := 0; attempt < renameAttempts; attempt++ {
		if err = os.Rename(oldPath, newPath); err == nil {
			SyncDir(filepath.Dir(newPath))
			return nil
		}
		time.Sleep(renameBackoff * time.Duration(attempt+1))
	}
	return fault.Wrap(fault.CodeAtomicWriteFailure, err, "rename %s -> %s", oldPath, newPath)
}

// SyncDir fsyncs a directory so a preceding rename is durable. Failures
// are ignored: some filesystems reject directory fsync and the rename
// itself already succeeded.
func SyncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
