// Package paths centralizes the on-disk layout: where a project's
// dev-plan documents live, where special documents land, and where the
// repo-wide files (.scribe state, global progress log) sit.
package paths

import (
	"os"
	"path/filepath"

	"github.com/untoldecay/scribe/internal/logtypes"
	"github.com/untoldecay/scribe/internal/utils"
)

// ScribeDirName is the repo-local directory scribe owns.
const ScribeDirName = ".scribe"

// ScribeDir returns <repoRoot>/.scribe.
func ScribeDir(repoRoot string) string {
	return filepath.Join(repoRoot, ScribeDirName)
}

// StateFile is the state manager's JSON snapshot.
func StateFile(repoRoot string) string {
	return filepath.Join(ScribeDir(repoRoot), "state.json")
}

// DatabaseFile is the default SQLite mirror location.
func DatabaseFile(repoRoot string) string {
	return filepath.Join(ScribeDir(repoRoot), "state.sqlite")
}

// LogTypesFile is the optional log-type catalog overlay.
func LogTypesFile(repoRoot string) string {
	return filepath.Join(ScribeDir(repoRoot), "log_types.toml")
}

// SocketFile is the daemon's Unix socket.
func SocketFile(repoRoot string) string {
	return filepath.Join(ScribeDir(repoRoot), "scribe.sock")
}

// DaemonLogFile is the daemon's own rotating operations log.
func DaemonLogFile(repoRoot string) string {
	return filepath.Join(ScribeDir(repoRoot), "daemon.log")
}

// GlobalProgressLog is the cross-project ledger, usable before any
// project exists.
func GlobalProgressLog(repoRoot string) string {
	return filepath.Join(repoRoot, "docs", "GLOBAL_PROGRESS_LOG.md")
}

// DevPlanDir resolves the dev-plan directory for a project slug. New
// projects land under .scribe/docs/dev_plans/; the legacy
// docs/dev_plans/ location is honored when it already holds the slug.
func DevPlanDir(repoRoot, slug string) string {
	preferred := filepath.Join(ScribeDir(repoRoot), "docs", "dev_plans", slug)
	legacy := filepath.Join(repoRoot, "docs", "dev_plans", slug)
	if _, err := os.Stat(preferred); err == nil {
		return preferred
	}
	if _, err := os.Stat(legacy); err == nil {
		return legacy
	}
	return preferred
}

// DocPaths maps every document key to its absolute path inside the
// project's dev-plan directory.
func DocPaths(projectDir string) map[string]string {
	docs := make(map[string]string, len(logtypes.DocFiles))
	for key, file := range logtypes.DocFiles {
		docs[key] = filepath.Join(projectDir, file)
	}
	return docs
}

// Special-document directories, each carrying a sibling INDEX.md.
func ResearchDir(projectDir string) string { return filepath.Join(projectDir, "research") }
func BugsDir(projectDir string) string     { return filepath.Join(projectDir, "bugs") }
func ReviewsDir(projectDir string) string  { return filepath.Join(projectDir, "reviews") }
func AgentsDir(projectDir string) string   { return filepath.Join(projectDir, "agents") }

// ResearchDocPath is <projectDir>/research/<slug>.md.
func ResearchDocPath(projectDir, title string) string {
	return filepath.Join(ResearchDir(projectDir), utils.Slugify(title)+".md")
}

// BugReportPath is <projectDir>/bugs/<category>/<date>_<slug>/report.md.
func BugReportPath(projectDir, category, date, title string) string {
	if category == "" {
		category = "general"
	}
	return filepath.Join(BugsDir(projectDir), utils.Slugify(category),
		date+"_"+utils.Slugify(title), "report.md")
}

// ReviewReportPath is <projectDir>/reviews/<date>_<slug>.md.
func ReviewReportPath(projectDir, date, title string) string {
	return filepath.Join(ReviewsDir(projectDir), date+"_"+utils.Slugify(title)+".md")
}

// AgentReportCardPath is <projectDir>/agents/<slug>.md.
func AgentReportCardPath(projectDir, agent string) string {
	return filepath.Join(AgentsDir(projectDir), utils.Slugify(agent)+".md")
}
