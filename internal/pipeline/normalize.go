package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/logtypes"
	"github.com/untoldecay/scribe/internal/types"
	"github.com/untoldecay/scribe/internal/utils"
)

// metaKeyRe is the allowed metadata key charset.
var metaKeyRe = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// metaKeyStrip removes every character outside the charset after the
// space and pipe substitutions have run.
var metaKeyStrip = regexp.MustCompile(`[^A-Za-z0-9_.:-]`)

// NormalizeStatus canonicalizes a status value: trim and lowercase
// only. Anything that still misses the closed table is an error with a
// nearest-match suggestion; silent substitution of user content is a
// defect, not a feature.
func NormalizeStatus(status string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return "", nil
	}
	if _, ok := logtypes.StatusEmoji[s]; ok {
		return s, nil
	}
	err := fault.New(fault.CodeMessageInvalid, "unknown status %q", status).
		WithDetail("field", "status")
	if near := nearestStatus(s); near != "" {
		err = err.WithSuggestion("did you mean %q? valid statuses: info, success, warn, error, bug, plan", near)
	} else {
		err = err.WithSuggestion("valid statuses: info, success, warn, error, bug, plan")
	}
	return "", err
}

// nearestStatus proposes the closest known status for the error
// suggestion. It never substitutes; the caller still fails.
func nearestStatus(s string) string {
	best, bestDist := "", 3
	for known := range logtypes.StatusEmoji {
		if d := utils.ComputeDistance(s, known); d < bestDist {
			best, bestDist = known, d
		}
	}
	return best
}

// SanitizeMetaKey maps a raw key into the allowed charset: spaces
// become underscores, pipes are stripped, and any remaining invalid
// character is dropped. A key that sanitizes to nothing is an error.
func SanitizeMetaKey(key string) (string, error) {
	k := strings.TrimSpace(key)
	k = strings.ReplaceAll(k, " ", "_")
	k = strings.ReplaceAll(k, "|", "")
	k = metaKeyStrip.ReplaceAllString(k, "")
	if k == "" {
		return "", fault.New(fault.CodeMetadataInvalid, "metadata key %q has no valid characters", key).
			WithSuggestion("keys must match [A-Za-z0-9_.:-]+")
	}
	return k, nil
}

// SanitizeMeta applies key sanitization across a whole mapping,
// preserving insertion order. Renamed keys are reported so the caller
// can surface a meta_error warning in-band.
func SanitizeMeta(meta types.Meta) (types.Meta, []string, error) {
	if len(meta) == 0 {
		return nil, nil, nil
	}
	out := make(types.Meta, 0, len(meta))
	var renamed []string
	for _, p := range meta {
		if metaKeyRe.MatchString(p.Key) {
			out = append(out, p)
			continue
		}
		k, err := SanitizeMetaKey(p.Key)
		if err != nil {
			return nil, renamed, err
		}
		renamed = append(renamed, p.Key+" -> "+k)
		out = append(out, types.MetaPair{Key: k, Value: p.Value})
	}
	return out, renamed, nil
}

// CoerceMeta accepts the shapes the tool surface sees for meta: a JSON
// object, an array of pairs, a JSON-encoded string of either, a
// "k=v; k2=v2" text, or a bare note. The result is ordered metadata.
func CoerceMeta(raw json.RawMessage) (types.Meta, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var meta types.Meta
	if err := json.Unmarshal(raw, &meta); err == nil {
		return meta, nil
	}

	// A JSON string: its content may itself be JSON or "k=v" text.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return CoerceMetaText(s)
	}

	return nil, fault.New(fault.CodeMetadataInvalid, "meta must be an object, an array of pairs, or a string").
		WithSuggestion(`pass meta as {"key": "value"} pairs`)
}

// CoerceMetaText parses the string forms of meta.
func CoerceMetaText(s string) (types.Meta, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var meta types.Meta
		if err := json.Unmarshal([]byte(s), &meta); err != nil {
			return nil, fault.Wrap(fault.CodeMetadataInvalid, err, "meta string is not valid JSON")
		}
		return meta, nil
	}
	if strings.Contains(s, "=") {
		var meta types.Meta
		for _, seg := range strings.Split(s, ";") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}
			k, v, ok := strings.Cut(seg, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return nil, fault.New(fault.CodeMetadataInvalid, "malformed meta segment %q", seg).
					WithSuggestion(`use "key=value; key2=value2"`)
			}
			meta = append(meta, types.MetaPair{Key: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
		}
		return meta, nil
	}
	// A bare note becomes a single pair so the text is not lost.
	return types.Meta{{Key: "note", Value: s}}, nil
}

// NormalizeTimestamp parses an explicit timestamp or falls back to now,
// always UTC at second resolution.
func NormalizeTimestamp(raw string, now func() time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return now().UTC().Truncate(time.Second), nil
	}
	t, err := utils.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fault.Wrap(fault.CodeMessageInvalid, err, "unrecognized timestamp %q", raw).
			WithSuggestion(`use ISO-8601 or "YYYY-MM-DD HH:MM:SS UTC"`).
			WithDetail("field", "timestamp_utc")
	}
	return t, nil
}

// ValidateMessage rejects empty, oversized, and multiline messages.
// Multiline content is only legal in bulk mode with auto_split.
func ValidateMessage(message string, allowNewlines bool) error {
	if strings.TrimSpace(message) == "" {
		return fault.New(fault.CodeMessageInvalid, "message is empty").
			WithDetail("field", "message")
	}
	if len(message) > maxMessageBytes {
		return fault.New(fault.CodeMessageInvalid, "message is %d bytes; the limit is %d", len(message), maxMessageBytes).
			WithSuggestion("split long content into multiple entries or a document").
			WithDetail("field", "message")
	}
	if !allowNewlines && strings.ContainsAny(message, "\n\r") {
		return fault.New(fault.CodeMessageInvalid, "message contains newlines").
			WithSuggestion("use bulk mode with auto_split=true to write one entry per line").
			WithDetail("field", "message")
	}
	return nil
}

const maxMessageBytes = 8192

// CheckMetadataRequirements verifies the log type's required keys are
// present. The missing list rides on the error detail.
func CheckMetadataRequirements(spec logtypes.Spec, meta types.Meta) error {
	var missing []string
	for _, key := range spec.MetadataRequirements {
		if !meta.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fault.New(fault.CodeMetadataMissing, "missing required metadata: %s", strings.Join(missing, ", ")).
		WithSuggestion("add --meta %s=...", missing[0]).
		WithDetail("missing_keys", missing)
}

// securityEventValues classify meta.security_event as a tee trigger.
var securityEventValues = map[string]bool{"1": true, "true": true, "yes": true}

// IsSecurityEvent reports whether the entry should tee into the
// security log.
func IsSecurityEvent(meta types.Meta, emoji string) bool {
	if logtypes.SecurityEmojis[emoji] {
		return true
	}
	v, ok := meta.Get("security_event")
	return ok && securityEventValues[strings.ToLower(strings.TrimSpace(v))]
}

// IsBugEvent reports whether the entry should tee into the bug log.
func IsBugEvent(status, emoji string) bool {
	return status == "bug" || logtypes.BugEmojis[emoji]
}
