// Package logtypes defines the catalog of typed logs a project carries:
// which file each type writes to, what metadata it requires, when it
// rotates, and how entry statuses map to emoji. Built-in types cover
// progress, doc_updates, security, and bugs; a .scribe/log_types.toml
// file can overlay thresholds or add custom types.
package logtypes

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Spec describes one log type.
type Spec struct {
	PathTemplate             string   `toml:"path_template"`
	MetadataRequirements     []string `toml:"metadata_requirements"`
	RotationThresholdEntries int      `toml:"rotation_threshold_entries"`
	TemplateName             string   `toml:"template_name"`
	Emoji                    string   `toml:"emoji"`
}

// Catalog maps log type names to their specs.
type Catalog map[string]Spec

// Canonical log type names.
const (
	TypeProgress   = "progress"
	TypeDocUpdates = "doc_updates"
	TypeSecurity   = "security"
	TypeBugs       = "bugs"
)

// StatusEmoji is the closed status table. Unknown statuses are rejected
// after case/whitespace canonicalization; there is no fuzzy recovery.
var StatusEmoji = map[string]string{
	"info":    "ℹ️",
	"success": "✅",
	"warn":    "⚠️",
	"error":   "❌",
	"bug":     "🐞",
	"plan":    "🧭",
}

// BugEmojis classify an entry as a bug for tee fan-out.
var BugEmojis = map[string]bool{
	"🐞": true,
	"🐛": true,
}

// SecurityEmojis classify an entry as security-relevant for tee fan-out.
var SecurityEmojis = map[string]bool{
	"🔒": true,
	"🛡️": true,
}

// DocFiles maps document keys to their canonical file names inside a
// project's dev-plan directory.
var DocFiles = map[string]string{
	"architecture": "ARCHITECTURE_GUIDE.md",
	"phase_plan":   "PHASE_PLAN.md",
	"checklist":    "CHECKLIST.md",
	"progress_log": "PROGRESS_LOG.md",
	"doc_log":      "DOC_LOG.md",
	"security_log": "SECURITY_LOG.md",
	"bug_log":      "BUG_LOG.md",
}

// CoreDocs are the three documents whose presence gates lifecycle
// promotion from planning to in_progress.
var CoreDocs = []string{"architecture", "phase_plan", "checklist"}

// Default returns the built-in catalog.
func Default() Catalog {
	return Catalog{
		TypeProgress: {
			PathTemplate:             "{project_dir}/PROGRESS_LOG.md",
			RotationThresholdEntries: 500,
			TemplateName:             "progress_log",
			Emoji:                    "ℹ️",
		},
		TypeDocUpdates: {
			PathTemplate:             "{project_dir}/DOC_LOG.md",
			RotationThresholdEntries: 500,
			TemplateName:             "doc_log",
			Emoji:                    "📝",
		},
		TypeSecurity: {
			PathTemplate:             "{project_dir}/SECURITY_LOG.md",
			MetadataRequirements:     []string{"severity", "component"},
			RotationThresholdEntries: 500,
			TemplateName:             "security_log",
			Emoji:                    "🔒",
		},
		TypeBugs: {
			PathTemplate:             "{project_dir}/BUG_LOG.md",
			MetadataRequirements:     []string{"severity", "component", "status"},
			RotationThresholdEntries: 500,
			TemplateName:             "bug_log",
			Emoji:                    "🐞",
		},
	}
}

// Load returns the built-in catalog overlaid with definitions from the
// TOML file at path. A missing file yields the defaults; a malformed
// file is an error so a typo never silently drops metadata requirements.
func Load(path string) (Catalog, error) {
	catalog := Default()
	if path == "" {
		return catalog, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return catalog, nil
	}

	overlay := Catalog{}
	if _, err := toml.DecodeFile(path, &overlay); err != nil {
		return nil, fmt.Errorf("parsing log type catalog %s: %w", path, err)
	}
	for name, spec := range overlay {
		base, ok := catalog[name]
		if !ok {
			catalog[name] = spec
			continue
		}
		if spec.PathTemplate != "" {
			base.PathTemplate = spec.PathTemplate
		}
		if spec.MetadataRequirements != nil {
			base.MetadataRequirements = spec.MetadataRequirements
		}
		if spec.RotationThresholdEntries > 0 {
			base.RotationThresholdEntries = spec.RotationThresholdEntries
		}
		if spec.TemplateName != "" {
			base.TemplateName = spec.TemplateName
		}
		if spec.Emoji != "" {
			base.Emoji = spec.Emoji
		}
		catalog[name] = base
	}
	return catalog, nil
}

// FilePath renders a spec's path template against a project directory.
func (s Spec) FilePath(projectDir string) string {
	return strings.ReplaceAll(s.PathTemplate, "{project_dir}", projectDir)
}

// Threshold returns the rotation threshold, falling back to def when the
// spec carries none.
func (s Spec) Threshold(def int) int {
	if s.RotationThresholdEntries > 0 {
		return s.RotationThresholdEntries
	}
	if def > 0 {
		return def
	}
	return 500
}

// Known reports whether the catalog defines the given type.
func (c Catalog) Known(name string) bool {
	_, ok := c[name]
	return ok
}

// Names returns the catalog's type names in stable order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for _, n := range []string{TypeProgress, TypeDocUpdates, TypeSecurity, TypeBugs} {
		if _, ok := c[n]; ok {
			names = append(names, n)
		}
	}
	for n := range c {
		switch n {
		case TypeProgress, TypeDocUpdates, TypeSecurity, TypeBugs:
		default:
			names = append(names, n)
		}
	}
	return names
}
