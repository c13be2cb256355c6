package docs

import (
	"strconv"
	"strings"

	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/integrity"
)

// PatchOperation is one structured edit. PreSHA256, when set, must
// match the SHA-256 of the region's pre-image (the section body for
// anchor operations, the whole body otherwise).
type PatchOperation struct {
	Action    string `json:"action"` // replace_section | replace_range | replace_text | append
	Anchor    string `json:"anchor,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Old       string `json:"old,omitempty"`
	Content   string `json:"content"`
	PreSHA256 string `json:"pre_sha256,omitempty"`
}

// StructuredEdit is the apply_patch structured payload.
type StructuredEdit struct {
	Operations []PatchOperation `json:"operations"`
}

// applyStructured runs every operation in order against the document.
// The first failing precondition aborts; the caller discards the
// mutated document, so partial application never reaches disk.
func applyStructured(d *Document, edit StructuredEdit) error {
	if len(edit.Operations) == 0 {
		return fault.New(fault.CodeMessageInvalid, "structured patch has no operations")
	}
	for i, op := range edit.Operations {
		if err := checkPreImage(d, op); err != nil {
			return err
		}
		var err error
		switch op.Action {
		case "replace_section":
			err = d.ReplaceSection(op.Anchor, op.Content)
		case "replace_range":
			err = d.ReplaceRange(op.StartLine, op.EndLine, op.Content)
		case "replace_text":
			_, err = d.ReplaceText(op.Old, op.Content, -1)
		case "append":
			d.Append(op.Content)
		default:
			err = fault.New(fault.CodeMessageInvalid, "unknown patch action %q", op.Action).
				WithSuggestion("valid actions: replace_section, replace_range, replace_text, append")
		}
		if err != nil {
			if fe, ok := fault.From(err); ok {
				return fe.WithDetail("operation_index", i)
			}
			return err
		}
	}
	return nil
}

func checkPreImage(d *Document, op PatchOperation) error {
	if op.PreSHA256 == "" {
		return nil
	}
	region := d.Body()
	if op.Anchor != "" {
		body, err := d.SectionBody(op.Anchor)
		if err != nil {
			return err
		}
		region = body
	}
	if got := integrity.HashBytes([]byte(region)); got != op.PreSHA256 {
		return fault.New(fault.CodePatchHashMismatch,
			"pre-image hash mismatch: document changed since the patch was prepared").
			WithSuggestion("re-read the document and regenerate the patch").
			WithDetail("expected", op.PreSHA256).
			WithDetail("actual", got)
	}
	return nil
}

// hunk is one parsed unified-diff hunk.
type hunk struct {
	oldStart int
	lines    []string // with leading ' ', '-', '+'
}

// applyUnified applies a unified diff to content. sourceHash must be
// the SHA-256 of content; this is the whole-file precondition that
// makes concurrent edits visible instead of silently merged.
func applyUnified(content, diff, sourceHash string) (string, error) {
	if sourceHash == "" {
		return "", fault.New(fault.CodePatchHashMismatch, "unified patch requires patch_source_hash").
			WithSuggestion("pass the SHA-256 of the file you diffed against")
	}
	if got := integrity.HashBytes([]byte(content)); got != sourceHash {
		return "", fault.New(fault.CodePatchHashMismatch,
			"document changed since the diff was prepared").
			WithSuggestion("re-read the document and regenerate the diff").
			WithDetail("expected", sourceHash).
			WithDetail("actual", got)
	}

	hunks, err := parseUnified(diff)
	if err != nil {
		return "", err
	}

	src := strings.Split(content, "\n")
	var out []string
	cursor := 0 // index into src of the next uncopied line

	for _, h := range hunks {
		// Hunk starts are 1-based; a zero start means an empty file.
		start := h.oldStart - 1
		if start < 0 {
			start = 0
		}
		if start < cursor || start > len(src) {
			return "", fault.New(fault.CodePatchHashMismatch, "hunk at line %d does not fit the document", h.oldStart)
		}
		out = append(out, src[cursor:start]...)
		cursor = start

		for _, line := range h.lines {
			if line == "" {
				line = " "
			}
			op, text := line[0], line[1:]
			switch op {
			case ' ':
				if cursor >= len(src) || src[cursor] != text {
					return "", contextMismatch(cursor+1, text)
				}
				out = append(out, text)
				cursor++
			case '-':
				if cursor >= len(src) || src[cursor] != text {
					return "", contextMismatch(cursor+1, text)
				}
				cursor++
			case '+':
				out = append(out, text)
			case '\\':
				// "\ No newline at end of file" - ignored.
			default:
				return "", fault.New(fault.CodeMessageInvalid, "malformed diff line %q", truncate(line, 60))
			}
		}
	}
	out = append(out, src[cursor:]...)
	return strings.Join(out, "\n"), nil
}

func contextMismatch(line int, text string) error {
	return fault.New(fault.CodePatchHashMismatch,
		"diff context does not match document at line %d (%q)", line, truncate(text, 40)).
		WithSuggestion("regenerate the diff against the current document")
}

func parseUnified(diff string) ([]hunk, error) {
	var hunks []hunk
	var current *hunk
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ "):
		case strings.HasPrefix(line, "@@"):
			start, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			hunks = append(hunks, hunk{oldStart: start})
			current = &hunks[len(hunks)-1]
		case current != nil:
			if line == "" && len(current.lines) > 0 {
				// Trailing blank from the final newline.
				continue
			}
			current.lines = append(current.lines, line)
		}
	}
	if len(hunks) == 0 {
		return nil, fault.New(fault.CodeMessageInvalid, "diff contains no hunks").
			WithSuggestion("expected unified diff format with @@ -l,n +l,n @@ headers")
	}
	return hunks, nil
}

func parseHunkHeader(line string) (int, error) {
	// @@ -12,5 +12,6 @@ optional section
	fields := strings.Fields(line)
	if len(fields) < 3 || !strings.HasPrefix(fields[1], "-") {
		return 0, fault.New(fault.CodeMessageInvalid, "malformed hunk header %q", line)
	}
	spec := strings.TrimPrefix(fields[1], "-")
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	start, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fault.New(fault.CodeMessageInvalid, "malformed hunk header %q", line)
	}
	return start, nil
}
