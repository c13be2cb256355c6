//go:build unix

package fileio

import (
	"os"

	"golang.org/x/sys/unix"
)

// Snapshot captures the identity of a file for estimation caching.
type Snapshot struct {
	Size    int64
	MtimeNS int64
	Inode   uint64
	Exists  bool
}

// StatFile snapshots (size, mtime, inode). A missing file yields a zero
// snapshot with Exists=false rather than an error.
func StatFile(path string) (Snapshot, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if os.IsNotExist(err) || err == unix.ENOENT {
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}
	return Snapshot{
		Size:    st.Size,
		MtimeNS: st.Mtim.Sec*1e9 + st.Mtim.Nsec,
		Inode:   st.Ino,
		Exists:  true,
	}, nil
}
