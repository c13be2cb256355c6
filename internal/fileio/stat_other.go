//go:build !unix

package fileio

import "os"

// Snapshot captures the identity of a file for estimation caching.
type Snapshot struct {
	Size    int64
	MtimeNS int64
	Inode   uint64
	Exists  bool
}

// StatFile snapshots (size, mtime). Inode identity is unavailable here;
// the estimator falls back to size+mtime alone.
func StatFile(path string) (Snapshot, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Size:    fi.Size(),
		MtimeNS: fi.ModTime().UnixNano(),
		Exists:  true,
	}, nil
}
