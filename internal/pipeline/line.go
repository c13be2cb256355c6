package pipeline

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/untoldecay/scribe/internal/types"
	"github.com/untoldecay/scribe/internal/utils"
)

// ComposeLine renders the exact bytes appended to a log file (without
// the trailing newline). The format is bit-exact:
//
//	[{emoji}] [{ts}] [Agent: {agent}] [Project: {project}] [ID: {id}] {message} | k1=v1; k2=v2
//
// The ID segment appears whenever the entry carries one; the metadata
// suffix is omitted when meta is empty.
func ComposeLine(e *types.LogEntry) string {
	var b strings.Builder
	b.WriteString("[" + e.Emoji + "] ")
	b.WriteString("[" + utils.FormatUTC(e.TS) + "] ")
	b.WriteString("[Agent: " + e.Agent + "] ")
	b.WriteString("[Project: " + e.ProjectName + "]")
	if e.ID != "" {
		b.WriteString(" [ID: " + e.ID + "]")
	}
	b.WriteString(" " + e.Message)
	if len(e.Meta) > 0 {
		b.WriteString(" | " + e.Meta.Canonical())
	}
	return b.String()
}

// lineRe matches the bracketed prefix of a composed line. The message
// and metadata tail are split afterwards.
var lineRe = regexp.MustCompile(
	`^\[([^\]]*)\] \[([^\]]+)\] \[Agent: ([^\]]*)\] \[Project: ([^\]]*)\](?: \[ID: ([0-9a-f]{32})\])? (.*)$`)

// metaSegRe validates one "key=value" metadata segment.
var metaSegRe = regexp.MustCompile(`^[A-Za-z0-9_.:-]+=`)

// ParseLine is the canonical line parser used by the file-fallback
// query path and by round-trip tests. Lines that are not entries
// (headers, blank lines, markdown) return ok=false.
func ParseLine(line string) (*types.LogEntry, bool) {
	m := lineRe.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return nil, false
	}
	ts, err := utils.ParseTimestamp(m[2])
	if err != nil {
		return nil, false
	}

	e := &types.LogEntry{
		Emoji:       m[1],
		TS:          ts,
		Agent:       m[3],
		ProjectName: m[4],
		ID:          m[5],
	}
	e.Message, e.Meta = splitMessageMeta(m[6])
	return e, true
}

// splitMessageMeta separates the message from the metadata suffix. The
// suffix starts at the last " | " whose remainder parses entirely as
// "k=v; k=v" segments; messages containing pipes stay intact because a
// non-metadata tail fails that check.
func splitMessageMeta(rest string) (string, types.Meta) {
	idx := strings.LastIndex(rest, " | ")
	for idx >= 0 {
		if meta, ok := parseMetaSuffix(rest[idx+3:]); ok {
			return rest[:idx], meta
		}
		idx = strings.LastIndex(rest[:idx], " | ")
	}
	return rest, nil
}

func parseMetaSuffix(s string) (types.Meta, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	var meta types.Meta
	for _, seg := range strings.Split(s, "; ") {
		if !metaSegRe.MatchString(seg) {
			return nil, false
		}
		k, v, _ := strings.Cut(seg, "=")
		meta = append(meta, types.MetaPair{Key: k, Value: v})
	}
	return meta, true
}

// ReverseLines iterates a file's lines newest-first without loading the
// whole file: it reads fixed-size blocks backwards from the end and
// yields complete lines. fn returning false stops the scan.
func ReverseLines(path string, fn func(line string) bool) error {
	const blockSize = 64 * 1024

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	size, err := f.Seek(0, 2)
	if err != nil {
		return fmt.Errorf("seek end of %s: %w", path, err)
	}

	var carry []byte
	for off := size; off > 0; {
		n := int64(blockSize)
		if off < n {
			n = off
		}
		off -= n
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, off); err != nil {
			return fmt.Errorf("read %s at %d: %w", path, off, err)
		}
		chunk := append(buf, carry...)
		lines := strings.Split(string(chunk), "\n")
		// lines[0] may be a partial line continued in the previous block.
		carry = []byte(lines[0])
		for i := len(lines) - 1; i >= 1; i-- {
			if lines[i] == "" {
				continue
			}
			if !fn(lines[i]) {
				return nil
			}
		}
	}
	if len(carry) > 0 {
		fn(string(carry))
	}
	return nil
}

// FormatTS renders a time in the line layout; exported for callers
// composing synthetic entries.
func FormatTS(t time.Time) string { return utils.FormatUTC(t) }
