// Package integrity provides content hashing, line counting, and the
// bytes-per-line estimator the rotation engine classifies with.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// hashChunkSize keeps hashing and newline counting in one 4 KiB pass.
const hashChunkSize = 4096

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashAndCount streams a file once, producing its hex SHA-256, line
// count, and size. A trailing line without '\n' counts as one line.
func HashAndCount(path string) (sha string, lines int64, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	lastByte := byte('\n')
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			h.Write(chunk)
			size += int64(n)
			for _, b := range chunk {
				if b == '\n' {
					lines++
				}
			}
			lastByte = chunk[n-1]
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", 0, 0, fmt.Errorf("read %s: %w", path, readErr)
		}
	}

	if size > 0 && lastByte != '\n' {
		lines++
	}
	return hex.EncodeToString(h.Sum(nil)), lines, size, nil
}

// HashFile returns only the hex SHA-256 of a file.
func HashFile(path string) (string, error) {
	sha, _, _, err := HashAndCount(path)
	return sha, err
}

// ChainRoot advances a rotation hash chain: SHA-256(prevRoot || archiveSHA).
// On the very first rotation prevRoot is the empty string.
func ChainRoot(prevRoot, archiveSHA string) string {
	return HashBytes([]byte(prevRoot + archiveSHA))
}
