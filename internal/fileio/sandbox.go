// Package fileio provides the file primitives every write path goes
// through: sandboxed path resolution, sibling-file advisory locking,
// atomic overwrite, the crash-safe append journal, and preflight
// backups. No other package opens log or document files directly.
package fileio

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/untoldecay/scribe/internal/fault"
)

// ResolveUnderRoot resolves p against root and guarantees the result
// stays inside root after symlink evaluation. Relative paths are joined
// to root; absolute paths are accepted only when they land under root.
func ResolveUnderRoot(root, p string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fault.Wrap(fault.CodePathEscape, err, "cannot resolve root %q", root)
	}
	rootReal, err := evalExisting(rootAbs)
	if err != nil {
		return "", fault.Wrap(fault.CodePathEscape, err, "cannot resolve root %q", root)
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target = filepath.Clean(target)

	real, err := evalExisting(target)
	if err != nil {
		return "", fault.Wrap(fault.CodePathEscape, err, "cannot resolve path %q", p)
	}

	if real != rootReal && !strings.HasPrefix(real, rootReal+string(filepath.Separator)) {
		return "", fault.New(fault.CodePathEscape, "path %q escapes project root %q", p, root).
			WithSuggestion("use a path inside the project root")
	}
	return real, nil
}

// evalExisting evaluates symlinks over the deepest existing ancestor of
// path and rejoins the non-existing remainder, so targets that are about
// to be created still get checked.
func evalExisting(path string) (string, error) {
	var tail []string
	dir := path
	for {
		if _, err := os.Lstat(dir); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		tail = append([]string{filepath.Base(dir)}, tail...)
		dir = parent
	}
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	if len(tail) == 0 {
		return real, nil
	}
	return filepath.Join(append([]string{real}, tail...)...), nil
}
