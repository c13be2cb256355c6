package query

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/untoldecay/scribe/internal/types"
)

// docSection is one Markdown heading plus its body, surfaced as a
// synthetic entry so research and architecture notes show up next to
// log lines in query results.
type docSection struct {
	Heading string
	Body    string
}

// splitSections breaks a Markdown document at its headings. Text before
// the first heading is attached to a synthetic "(preamble)" section
// only when it is non-empty.
func splitSections(content string) []docSection {
	var sections []docSection
	var current *docSection
	var preamble strings.Builder

	for _, line := range strings.Split(content, "\n") {
		if rest := strings.TrimLeft(line, "#"); len(rest) < len(line) && strings.HasPrefix(rest, " ") {
			heading := strings.TrimSpace(rest)
			sections = append(sections, docSection{Heading: heading})
			current = &sections[len(sections)-1]
			continue
		}
		if current != nil {
			current.Body += line + "\n"
		} else {
			preamble.WriteString(line + "\n")
		}
	}
	if p := strings.TrimSpace(preamble.String()); p != "" {
		sections = append([]docSection{{Heading: "(preamble)", Body: p}}, sections...)
	}
	for i := range sections {
		sections[i].Body = strings.TrimSpace(sections[i].Body)
	}
	return sections
}

// docEntries parses one document into synthetic entries.
func docEntries(path, docType, projectName string, now time.Time) []*Entry {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []*Entry
	for _, sec := range splitSections(string(data)) {
		e := &Entry{
			LogEntry: types.LogEntry{
				TS:          now,
				Emoji:       "📄",
				Agent:       "DocumentParser",
				ProjectName: projectName,
				Message:     sec.Heading,
				Meta: types.Meta{
					{Key: "document_type", Value: docType},
					{Key: "source_file", Value: path},
				},
			},
			Content: sec.Body,
		}
		out = append(out, e)
	}
	return out
}

// collectDocFiles lists the documents of one type inside a project's
// dev-plan directory. Research and bug documents live in their
// dedicated subdirectories; architecture is the single guide file.
func collectDocFiles(projectDir, docType string) []string {
	switch docType {
	case "architecture":
		path := filepath.Join(projectDir, "ARCHITECTURE_GUIDE.md")
		if _, err := os.Stat(path); err == nil {
			return []string{path}
		}
		return nil
	case "research":
		return markdownFiles(filepath.Join(projectDir, "research"))
	case "bugs":
		return markdownFiles(filepath.Join(projectDir, "bugs"))
	}
	return nil
}

// markdownFiles walks dir for .md files, skipping INDEX.md. Sorted for
// stable output.
func markdownFiles(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".md") || name == "INDEX.md" {
			return nil
		}
		out = append(out, path)
		return nil
	})
	sort.Strings(out)
	return out
}
