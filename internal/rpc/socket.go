package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/untoldecay/scribe/internal/paths"
)

// MaxUnixSocketPath is the portable sun_path budget. Linux allows 108
// bytes and macOS 104, both including the trailing NUL; 103 is safe on
// both.
const MaxUnixSocketPath = 103

// SocketPath returns the socket for a repo: .scribe/scribe.sock when it
// fits the sun_path limit, otherwise a short stable path under /tmp
// keyed by a hash of the repo root.
func SocketPath(repoRoot string) string {
	natural := paths.SocketFile(repoRoot)
	if len(natural) <= MaxUnixSocketPath {
		return natural
	}
	return fallbackSocketPath(repoRoot)
}

func fallbackSocketPath(repoRoot string) string {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		abs = repoRoot
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(os.TempDir(), fmt.Sprintf("scribe-%s", hex.EncodeToString(sum[:4])), "scribe.sock")
}

// EnsureSocketDir creates the parent directory for a fallback socket.
// Natural sockets live under .scribe/ which already exists.
func EnsureSocketDir(socketPath string) error {
	dir := filepath.Dir(socketPath)
	if !isFallbackDir(dir) {
		return nil
	}
	return os.MkdirAll(dir, 0o700)
}

// CleanupSocketDir removes a fallback socket directory. It refuses to
// touch anything outside the /tmp/scribe-* namespace.
func CleanupSocketDir(socketPath string) {
	dir := filepath.Dir(socketPath)
	if isFallbackDir(dir) {
		_ = os.RemoveAll(dir)
	}
}

func isFallbackDir(dir string) bool {
	return filepath.Dir(dir) == filepath.Clean(os.TempDir()) &&
		strings.HasPrefix(filepath.Base(dir), "scribe-")
}
