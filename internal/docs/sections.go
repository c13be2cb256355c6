package docs

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/untoldecay/scribe/internal/fault"
)

// anchorRe matches a section anchor comment: <!-- ID: overview -->
var anchorRe = regexp.MustCompile(`^<!--\s*ID:\s*([A-Za-z0-9_.-]+)\s*-->\s*$`)

// Document is a parsed Markdown file: optional YAML frontmatter plus a
// body addressed by anchor comments. Body line numbers are 1-based and
// exclude the frontmatter; BodyLineOffset translates them back to file
// coordinates.
type Document struct {
	Frontmatter    map[string]any
	frontmatterRaw string
	BodyLineOffset int
	lines          []string
}

// Section is one anchored region of a document body.
type Section struct {
	Anchor    string `json:"anchor"`
	Heading   string `json:"heading,omitempty"`
	StartLine int    `json:"start_line"` // the anchor line, 1-based in the body
	EndLine   int    `json:"end_line"`   // inclusive, last line before the next anchor
}

// Parse splits content into frontmatter and body. A frontmatter block
// is a leading "---" fence pair; anything else is all body.
func Parse(content string) (*Document, error) {
	d := &Document{}
	lines := strings.Split(content, "\n")

	if len(lines) > 0 && strings.TrimRight(lines[0], " \t") == "---" {
		for i := 1; i < len(lines); i++ {
			if strings.TrimRight(lines[i], " \t") == "---" {
				d.frontmatterRaw = strings.Join(lines[:i+1], "\n")
				d.BodyLineOffset = i + 1
				if err := yaml.Unmarshal([]byte(strings.Join(lines[1:i], "\n")), &d.Frontmatter); err != nil {
					return nil, fault.Wrap(fault.CodeMetadataInvalid, err, "malformed YAML frontmatter")
				}
				lines = lines[i+1:]
				break
			}
		}
	}
	d.lines = lines
	return d, nil
}

// Body returns the body text.
func (d *Document) Body() string { return strings.Join(d.lines, "\n") }

// Render reassembles the full file.
func (d *Document) Render() string {
	if d.frontmatterRaw == "" {
		return d.Body()
	}
	return d.frontmatterRaw + "\n" + d.Body()
}

// Sections lists the anchored regions in body order. Duplicate anchors
// are legal to list; mutation actions reject them.
func (d *Document) Sections() []Section {
	var out []Section
	for i, line := range d.lines {
		m := anchorRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if len(out) > 0 {
			out[len(out)-1].EndLine = i // line before this anchor, 1-based
		}
		out = append(out, Section{Anchor: m[1], StartLine: i + 1})
	}
	if len(out) > 0 {
		out[len(out)-1].EndLine = len(d.lines)
	}
	for s := range out {
		for i := out[s].StartLine; i <= out[s].EndLine && i <= len(d.lines); i++ {
			line := strings.TrimSpace(d.lines[i-1])
			if strings.HasPrefix(line, "#") {
				out[s].Heading = strings.TrimSpace(strings.TrimLeft(line, "# "))
				break
			}
		}
	}
	return out
}

// DuplicateAnchors returns anchors that appear more than once, with the
// body line numbers of every occurrence.
func (d *Document) DuplicateAnchors() map[string][]int {
	seen := map[string][]int{}
	for i, line := range d.lines {
		if m := anchorRe.FindStringSubmatch(line); m != nil {
			seen[m[1]] = append(seen[m[1]], i+1)
		}
	}
	for anchor, lines := range seen {
		if len(lines) < 2 {
			delete(seen, anchor)
		}
	}
	return seen
}

// findSection locates a unique anchor. Missing anchors are
// SectionNotFound with the known anchors as a hint; duplicates are
// DuplicateAnchor with their line numbers.
func (d *Document) findSection(anchor string) (Section, error) {
	if dups := d.DuplicateAnchors(); len(dups[anchor]) > 1 {
		return Section{}, fault.New(fault.CodeDuplicateAnchor,
			"anchor %q appears %d times (body lines %v)", anchor, len(dups[anchor]), dups[anchor]).
			WithSuggestion("make anchors unique before editing by anchor")
	}
	for _, s := range d.Sections() {
		if s.Anchor == anchor {
			return s, nil
		}
	}
	var known []string
	for _, s := range d.Sections() {
		known = append(known, s.Anchor)
	}
	return Section{}, fault.New(fault.CodeSectionNotFound, "no section anchored %q", anchor).
		WithSuggestion("known anchors: %s", strings.Join(known, ", ")).
		WithDetail("known_anchors", known)
}

// ReplaceSection swaps the content between the anchor line and the next
// anchor (or EOF). The anchor line itself stays.
func (d *Document) ReplaceSection(anchor, content string) error {
	s, err := d.findSection(anchor)
	if err != nil {
		return err
	}
	replacement := strings.Split(strings.TrimRight(content, "\n"), "\n")
	var out []string
	out = append(out, d.lines[:s.StartLine]...) // up to and including the anchor line
	out = append(out, replacement...)
	out = append(out, d.lines[s.EndLine:]...)
	d.lines = out
	return nil
}

// SectionBody returns the text between the anchor line and the section
// end.
func (d *Document) SectionBody(anchor string) (string, error) {
	s, err := d.findSection(anchor)
	if err != nil {
		return "", err
	}
	return strings.Join(d.lines[s.StartLine:s.EndLine], "\n"), nil
}

// ReplaceRange swaps 1-based inclusive body lines start..end.
func (d *Document) ReplaceRange(start, end int, content string) error {
	if start < 1 || end < start || end > len(d.lines) {
		return fault.New(fault.CodeMessageInvalid,
			"line range %d..%d is outside the body (1..%d)", start, end, len(d.lines)).
			WithDetail("body_line_offset", d.BodyLineOffset)
	}
	replacement := strings.Split(strings.TrimRight(content, "\n"), "\n")
	var out []string
	out = append(out, d.lines[:start-1]...)
	out = append(out, replacement...)
	out = append(out, d.lines[end:]...)
	d.lines = out
	return nil
}

// Append adds content at the end of the body, separated by one blank
// line when the body does not already end with one.
func (d *Document) Append(content string) {
	body := strings.TrimRight(d.Body(), "\n")
	if body == "" {
		d.lines = strings.Split(strings.TrimRight(content, "\n"), "\n")
		return
	}
	d.lines = strings.Split(body+"\n\n"+strings.TrimRight(content, "\n"), "\n")
}

// ReplaceText substitutes old with new. count < 0 replaces every
// occurrence; otherwise exactly count occurrences must exist.
func (d *Document) ReplaceText(old, new string, count int) (int, error) {
	if old == "" {
		return 0, fault.New(fault.CodeMessageInvalid, "replace_text needs a non-empty search string")
	}
	body := d.Body()
	n := strings.Count(body, old)
	if n == 0 {
		return 0, fault.New(fault.CodeSectionNotFound, "text %q not found", truncate(old, 60))
	}
	if count > 0 && n != count {
		return 0, fault.New(fault.CodeMessageInvalid,
			"text occurs %d times, expected %d", n, count).
			WithSuggestion("pass expected_count=-1 to replace all occurrences")
	}
	d.lines = strings.Split(strings.ReplaceAll(body, old, new), "\n")
	return n, nil
}

// headerRe matches an ATX heading and captures its marker and text.
var headerRe = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)

// NormalizeHeaders rewrites headings into canonical ATX form: one space
// after the marker, no trailing markers, single blank line after.
func (d *Document) NormalizeHeaders() int {
	changed := 0
	for i, line := range d.lines {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		canonical := m[1] + " " + m[2]
		if canonical != line {
			d.lines[i] = canonical
			changed++
		}
	}
	return changed
}

// TOC renders a table of contents from the headings, one bullet per
// heading, indented by level.
func (d *Document) TOC() string {
	var b strings.Builder
	for _, line := range d.lines {
		m := headerRe.FindStringSubmatch(line)
		if m == nil || len(m[1]) == 1 {
			continue
		}
		indent := strings.Repeat("  ", len(m[1])-2)
		fmt.Fprintf(&b, "%s- [%s](#%s)\n", indent, m[2], headingSlug(m[2]))
	}
	return b.String()
}

func headingSlug(heading string) string {
	s := strings.ToLower(heading)
	s = regexp.MustCompile(`[^a-z0-9\s-]`).ReplaceAllString(s, "")
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "-")
}

// checklistRe matches a Markdown task item.
var checklistRe = regexp.MustCompile(`^(\s*)[-*]\s+\[([ xX])\]\s+(.*)$`)

// ChecklistItem is one task-list entry.
type ChecklistItem struct {
	Line    int    `json:"line"`
	Checked bool   `json:"checked"`
	Text    string `json:"text"`
}

// ChecklistItems lists every task item with its body line number.
func (d *Document) ChecklistItems() []ChecklistItem {
	var out []ChecklistItem
	for i, line := range d.lines {
		if m := checklistRe.FindStringSubmatch(line); m != nil {
			out = append(out, ChecklistItem{
				Line:    i + 1,
				Checked: m[2] != " ",
				Text:    strings.TrimSpace(m[3]),
			})
		}
	}
	return out
}

// SetChecklistItem checks or unchecks the item whose text matches.
func (d *Document) SetChecklistItem(text string, checked bool) error {
	for i, line := range d.lines {
		m := checklistRe.FindStringSubmatch(line)
		if m == nil || !strings.EqualFold(strings.TrimSpace(m[3]), strings.TrimSpace(text)) {
			continue
		}
		box := " "
		if checked {
			box = "x"
		}
		d.lines[i] = fmt.Sprintf("%s- [%s] %s", m[1], box, m[3])
		return nil
	}
	return fault.New(fault.CodeSectionNotFound, "no checklist item matching %q", truncate(text, 60))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
