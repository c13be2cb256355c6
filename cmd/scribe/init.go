package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/config"
	"github.com/untoldecay/scribe/internal/fileio"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/storage/sqlite"
	"github.com/untoldecay/scribe/internal/templates"
	"github.com/untoldecay/scribe/internal/ui"
	"github.com/untoldecay/scribe/internal/utils"
)

var (
	initName        string
	initDescription string
	initYes         bool
)

const configSeed = `# scribe configuration
# Every key also has a SCRIBE_* environment override.
#
# log_rate_limit_count: 10
# log_rate_limit_window: 60
# rotation_default_threshold: 500
# query_default_page_size: 20
# daemon:
#   idle_timeout: 30m
`

// logTitles feeds the {{log_title}} template placeholder per ledger.
var logTitles = map[string]string{
	"progress_log": "Progress Log",
	"doc_log":      "Doc Log",
	"security_log": "Security Log",
	"bug_log":      "Bug Log",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a scribe workspace in this repository",
	Long: `Create the .scribe/ workspace: the SQLite mirror, the global
progress log, and (optionally) a first project with its core documents
rendered from templates.

Interactive in a terminal; use --name/--yes for scripts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := os.Getwd()
		if err != nil {
			return err
		}
		scribeDir := paths.ScribeDir(root)

		name, description := initName, initDescription
		if name == "" && !initYes && !jsonOutput && ui.IsTerminal() {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("First project name").
					Description("Leave blank to initialize without a project.").
					Value(&name),
				huh.NewInput().
					Title("Description").
					Value(&description),
			))
			if err := form.Run(); err != nil {
				return err
			}
		}

		if err := os.MkdirAll(scribeDir, 0o755); err != nil {
			return err
		}

		configPath := filepath.Join(scribeDir, "config.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := fileio.AtomicWrite(configPath, []byte(configSeed)); err != nil {
				return err
			}
		}

		gpl := paths.GlobalProgressLog(root)
		if _, err := os.Stat(gpl); os.IsNotExist(err) {
			if err := fileio.AtomicWrite(gpl, []byte(templates.RenderByName("global_progress_log", nil))); err != nil {
				return err
			}
		}

		dbPath := paths.DatabaseFile(root)
		if !config.GetBool("no_db") {
			store, err := sqlite.New(rootCtx, dbPath)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: SQLite mirror not created: %v\n", err)
			} else {
				store.Close()
			}
		}

		result := ui.InitResult{
			ScribeDir: scribeDir,
			DBPath:    dbPath,
			Project:   name,
			Quickstart: []string{
				`scribe log "started working" --status info`,
				"scribe query --range today",
				"scribe daemon start",
			},
		}

		if name != "" {
			created, docsMap, err := scaffoldProjectDocs(root, name)
			if err != nil {
				return err
			}
			result.DocsCreated = created

			var view registry.View
			if _, err := callOp(rpc.OpSetProject, rpc.SetProjectArgs{
				Name:        name,
				Description: description,
				Docs:        docsMap,
			}, &view); err != nil {
				return err
			}
			var cur rpc.CurrentProjectResult
			if _, err := callOp(rpc.OpSetCurrentProject, rpc.SetCurrentProjectArgs{
				Project:         name,
				ExpectedVersion: -1,
			}, &cur); err != nil {
				return err
			}
		}

		if jsonOutput {
			return outputJSON(cmd, map[string]any{
				"ok":           true,
				"scribe_dir":   result.ScribeDir,
				"db_path":      result.DBPath,
				"project":      result.Project,
				"docs_created": result.DocsCreated,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderInitReport(result, ui.GetWidth()-2))
		return nil
	},
}

// scaffoldProjectDocs renders the project's dev-plan documents from
// templates, skipping files that already exist. It returns the created
// files (repo-relative) and the full doc key → path registration map.
func scaffoldProjectDocs(root, name string) ([]string, map[string]string, error) {
	slug := utils.Slugify(name)
	projectDir := paths.DevPlanDir(root, slug)
	docPaths := paths.DocPaths(projectDir)

	now := time.Now().UTC()
	meta := map[string]string{
		"project_name": name,
		"date":         now.Format("2006-01-02"),
		"created_at":   now.Format("2006-01-02 15:04:05") + " UTC",
	}

	var created []string
	docsMap := make(map[string]string, len(docPaths))

	keys := make([]string, 0, len(docPaths))
	for key := range docPaths {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := docPaths[key]
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		docsMap[key] = rel

		if _, err := os.Stat(path); err == nil {
			continue
		}
		templateName := key
		if key == "architecture" {
			templateName = "architecture_guide"
		}
		meta["log_title"] = logTitles[key]
		if err := fileio.AtomicWrite(path, []byte(templates.RenderByName(templateName, meta))); err != nil {
			return nil, nil, err
		}
		created = append(created, rel)
	}
	return created, docsMap, nil
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "first project to register")
	initCmd.Flags().StringVarP(&initDescription, "description", "d", "", "project description")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "non-interactive; accept defaults")
	rootCmd.AddCommand(initCmd)
}
