package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/untoldecay/scribe/internal/fileio"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	return path
}

func TestHashAndCount(t *testing.T) {
	content := "line one\nline two\nline three\n"
	path := writeTemp(t, content)

	sha, lines, size, err := HashAndCount(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	want := sha256.Sum256([]byte(content))
	if sha != hex.EncodeToString(want[:]) {
		t.Fatalf("sha mismatch")
	}
	if lines != 3 {
		t.Fatalf("lines = %d, want 3", lines)
	}
	if size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", size, len(content))
	}
}

func TestHashAndCountTrailingPartialLine(t *testing.T) {
	path := writeTemp(t, "complete\npartial without newline")

	_, lines, _, err := HashAndCount(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if lines != 2 {
		t.Fatalf("lines = %d, want 2 (trailing partial counts)", lines)
	}
}

func TestUpdateEMAClamps(t *testing.T) {
	if got := UpdateEMA(80, 4, AlphaPrecise); got < 16 {
		t.Fatalf("ema %v below clamp floor", got)
	}
	if got := UpdateEMA(500, 10000, AlphaPrecise); got > 512 {
		t.Fatalf("ema %v above clamp ceiling", got)
	}
	got := UpdateEMA(100, 200, AlphaPrecise)
	if got != 120 {
		t.Fatalf("ema = %v, want 120", got)
	}
}

func TestEstimateEntriesCacheHit(t *testing.T) {
	snap := fileio.Snapshot{Size: 5000, MtimeNS: 42, Exists: true}
	cached := CachedStats{Size: 5000, MtimeNS: 42, LineCount: 77, EMA: 80, Initialized: true}

	est := EstimateEntries(snap, cached)
	if est.Method != MethodCache || est.Approximate {
		t.Fatalf("expected exact cache hit, got %+v", est)
	}
	if est.Count != 77 {
		t.Fatalf("count = %d, want cached 77", est.Count)
	}
}

func TestEstimateEntriesEMA(t *testing.T) {
	snap := fileio.Snapshot{Size: 5000, MtimeNS: 43, Exists: true}
	cached := CachedStats{Size: 5000, MtimeNS: 42, LineCount: 77, EMA: 80, Initialized: true}

	est := EstimateEntries(snap, cached)
	if est.Method != MethodEMA || !est.Approximate {
		t.Fatalf("expected ema estimate, got %+v", est)
	}
	if est.Count != 63 {
		t.Fatalf("count = %d, want 63 (round(5000/80))", est.Count)
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		value, threshold int64
		approximate      bool
		want             Classification
	}{
		{63, 50, true, ClassAbove},
		{63, 500, true, ClassBelow},
		{63, 60, true, ClassUndecided},
		{500, 1000, true, ClassBelow},
		{63, 60, false, ClassAbove},
		{59, 60, false, ClassBelow},
		{0, 500, true, ClassBelow},
	}
	for _, c := range cases {
		got := Classify(c.value, c.threshold, c.approximate)
		if got != c.want {
			t.Errorf("Classify(%d, %d, approx=%v) = %s, want %s",
				c.value, c.threshold, c.approximate, got, c.want)
		}
	}
}

func TestTailRefine(t *testing.T) {
	line := strings.Repeat("x", 99) + "\n"
	content := strings.Repeat(line, 40)
	path := writeTemp(t, content)

	snap, err := fileio.StatFile(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	est, err := TailRefine(path, snap)
	if err != nil {
		t.Fatalf("tail refine: %v", err)
	}
	if est.Method != MethodTailSample {
		t.Fatalf("method = %s", est.Method)
	}
	if est.Count != 40 {
		t.Fatalf("count = %d, want 40", est.Count)
	}
	if est.BytesPerLine != 100 {
		t.Fatalf("bytes per line = %v, want 100", est.BytesPerLine)
	}
}

func TestChainRoot(t *testing.T) {
	first := ChainRoot("", "aabb")
	if first != HashBytes([]byte("aabb")) {
		t.Fatalf("first rotation must treat empty string as prior root")
	}
	second := ChainRoot(first, "ccdd")
	if second == first || second == "" {
		t.Fatalf("chain did not advance")
	}
	if second != HashBytes([]byte(first+"ccdd")) {
		t.Fatalf("chain root mismatch")
	}
}
