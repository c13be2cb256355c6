package integrity

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/untoldecay/scribe/internal/fileio"
)

// EMA tuning. Precise counts blend at full alpha; estimates at half.
const (
	AlphaPrecise  = 0.2
	AlphaEstimate = 0.1

	emaMin = 16.0
	emaMax = 512.0

	// DefaultEMA seeds brand-new log files.
	DefaultEMA = 80.0

	tailSampleMax = 1 << 20 // 1 MiB
)

// UpdateEMA blends an observed bytes-per-line value into the running
// average and clamps the result to [16, 512].
func UpdateEMA(ema, observed, alpha float64) float64 {
	if ema <= 0 {
		ema = observed
	}
	next := (1-alpha)*ema + alpha*observed
	return ClampEMA(next)
}

// ClampEMA bounds a bytes-per-line value to [16, 512].
func ClampEMA(v float64) float64 {
	if v < emaMin {
		return emaMin
	}
	if v > emaMax {
		return emaMax
	}
	return v
}

// Method records how an entry-count estimate was produced.
type Method string

const (
	MethodCache      Method = "cache"
	MethodEMA        Method = "ema"
	MethodTailSample Method = "tail_sample"
	MethodPrecise    Method = "precise"
)

// Estimate is an entry-count guess with its provenance.
type Estimate struct {
	Count        int64
	Approximate  bool
	Method       Method
	BytesPerLine float64
}

// CachedStats is the state manager's last known view of a log file.
type CachedStats struct {
	Size        int64
	MtimeNS     int64
	LineCount   int64
	EMA         float64
	Initialized bool
}

// EstimateEntries guesses a file's entry count without reading it:
// exact cache hit first, then size/EMA. Callers escalate to TailRefine
// or HashAndCount when the classification is undecided.
func EstimateEntries(snap fileio.Snapshot, cached CachedStats) Estimate {
	if !snap.Exists || snap.Size == 0 {
		return Estimate{Count: 0, Approximate: false, Method: MethodCache, BytesPerLine: cached.EMA}
	}
	if cached.Initialized && cached.Size == snap.Size && cached.MtimeNS == snap.MtimeNS {
		return Estimate{
			Count:        cached.LineCount,
			Approximate:  false,
			Method:       MethodCache,
			BytesPerLine: cached.EMA,
		}
	}

	ema := cached.EMA
	if ema <= 0 {
		ema = DefaultEMA
	}
	count := int64(math.Round(float64(snap.Size) / ema))
	if count < 1 {
		count = 1
	}
	return Estimate{Count: count, Approximate: true, Method: MethodEMA, BytesPerLine: ema}
}

// TailRefine reads the trailing min(size, 1 MiB) of the file, counts
// newlines, derives a refined bytes-per-line, and recomputes the count.
func TailRefine(path string, snap fileio.Snapshot) (Estimate, error) {
	if !snap.Exists || snap.Size == 0 {
		return Estimate{Method: MethodTailSample}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Estimate{}, fmt.Errorf("open %s for tail sample: %w", path, err)
	}
	defer f.Close()

	sampleLen := snap.Size
	if sampleLen > tailSampleMax {
		sampleLen = tailSampleMax
	}
	if _, err := f.Seek(snap.Size-sampleLen, io.SeekStart); err != nil {
		return Estimate{}, fmt.Errorf("seek tail of %s: %w", path, err)
	}

	buf := make([]byte, sampleLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		return Estimate{}, fmt.Errorf("read tail of %s: %w", path, err)
	}

	var lines int64
	for _, b := range buf {
		if b == '\n' {
			lines++
		}
	}
	if lines == 0 {
		lines = 1
	}

	bpl := ClampEMA(float64(sampleLen) / float64(lines))
	count := int64(math.Round(float64(snap.Size) / bpl))
	if count < 1 {
		count = 1
	}
	return Estimate{Count: count, Approximate: true, Method: MethodTailSample, BytesPerLine: bpl}, nil
}

// Classification buckets an entry count against a rotation threshold.
type Classification string

const (
	ClassBelow     Classification = "below"
	ClassAbove     Classification = "above"
	ClassUndecided Classification = "undecided"
)

// Band is the hysteresis margin on the below side of a threshold.
func Band(threshold int64) int64 {
	b := threshold / 10
	if b < 250 {
		b = 250
	}
	return b
}

// Classify buckets value against threshold. Precise counts compare
// exactly. Approximate counts get hysteresis: clearly under the band is
// below, 10% past the threshold is above, anything between is undecided
// and the caller escalates to a tail sample or a precise count.
func Classify(value, threshold int64, approximate bool) Classification {
	if threshold <= 0 {
		return ClassBelow
	}
	if !approximate {
		if value >= threshold {
			return ClassAbove
		}
		return ClassBelow
	}
	if value <= threshold-Band(threshold) {
		return ClassBelow
	}
	if value >= threshold+threshold/10 {
		return ClassAbove
	}
	return ClassUndecided
}
