package fileio

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
)

// PreflightBackup copies path to a timestamped sibling
// <path>.preflight-YYYYMMDD_HHMMSS_mmm.bak before a destructive rewrite.
// Returns the backup path, or "" when the target does not exist yet.
func PreflightBackup(path string) (string, error) {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fault.Wrap(fault.CodeBackupFailure, err, "open %s for backup", path)
	}
	defer src.Close()

	now := time.Now().UTC()
	stamp := fmt.Sprintf("%s_%03d", now.Format("20060102_150405"), now.Nanosecond()/1e6)
	backupPath := fmt.Sprintf("%s.preflight-%s.bak", path, stamp)

	dst, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return "", fault.Wrap(fault.CodeBackupFailure, err, "create backup %s", backupPath)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(backupPath)
		return "", fault.Wrap(fault.CodeBackupFailure, err, "copy into backup %s", backupPath)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(backupPath)
		return "", fault.Wrap(fault.CodeBackupFailure, err, "fsync backup %s", backupPath)
	}
	if err := dst.Close(); err != nil {
		return "", fault.Wrap(fault.CodeBackupFailure, err, "close backup %s", backupPath)
	}
	return backupPath, nil
}
