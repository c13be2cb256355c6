package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/ui"
	"github.com/untoldecay/scribe/internal/utils"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage the project registry",
}

var (
	projectSetDescription string
	projectSetStatus      string
	projectSetTags        []string
	projectSetDocs        []string
	projectSetDefaults    []string
)

var projectSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Register a project or refresh its registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setArgs := rpc.SetProjectArgs{
			Name:        args[0],
			Description: projectSetDescription,
			Status:      projectSetStatus,
			Tags:        projectSetTags,
		}
		if len(projectSetDocs) > 0 {
			docs, err := parseMetaPairs(projectSetDocs)
			if err != nil {
				return err
			}
			setArgs.Docs = docs
		}
		if len(projectSetDefaults) > 0 {
			defaults, err := parseMetaPairs(projectSetDefaults)
			if err != nil {
				return err
			}
			setArgs.Defaults = defaults
		}

		var view registry.View
		warnings, err := callOp(rpc.OpSetProject, setArgs, &view)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, view)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Project %q registered (status %s)\n", view.Name, view.Status)
		printWarnings(cmd, warnings)
		return nil
	},
}

var projectGetCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Show one project's registration and activity",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		getArgs := rpc.ProjectNameArgs{}
		if len(args) == 1 {
			getArgs.Name = args[0]
		}
		var view registry.View
		warnings, err := callOp(rpc.OpGetProject, getArgs, &view)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, view)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderCard("Project "+view.Name, projectPairs(&view), ui.GetWidth()-2))
		printWarnings(cmd, warnings)
		return nil
	},
}

func projectPairs(v *registry.View) [][2]string {
	pairs := [][2]string{
		{"Status", v.Status},
		{"Slug", v.Slug},
		{"Description", v.Description},
		{"Entries", strconv.FormatInt(v.TotalEntries, 10)},
		{"Activity", v.Activity.StalenessLevel},
	}
	if !v.LastEntryAt.IsZero() {
		pairs = append(pairs, [2]string{"Last entry", utils.FormatUTC(v.LastEntryAt)})
	}
	if len(v.Tags) > 0 {
		pairs = append(pairs, [2]string{"Tags", fmt.Sprint(v.Tags)})
	}
	for key, path := range v.Docs {
		flag := ""
		if v.DocsFlags[key] {
			flag = " (drift)"
		}
		pairs = append(pairs, [2]string{"Doc " + key, path + flag})
	}
	return pairs
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res struct {
			Projects []*registry.View `json:"projects"`
			Count    int              `json:"count"`
		}
		warnings, err := callOp(rpc.OpListProjects, nil, &res)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, res)
		}
		rows := make([][]string, 0, len(res.Projects))
		for _, v := range res.Projects {
			last := ""
			if !v.LastEntryAt.IsZero() {
				last = utils.FormatUTC(v.LastEntryAt)
			}
			rows = append(rows, []string{
				v.Name, v.Status, strconv.FormatInt(v.TotalEntries, 10), v.Activity.StalenessLevel, last,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderProjectsTable(rows, ui.GetWidth()-2))
		printWarnings(cmd, warnings)
		return nil
	},
}

var projectDeleteForce bool

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a project from the registry",
	Long: `Remove a project's registry row and mirrored entries. The markdown
ledgers on disk are never touched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !projectDeleteForce {
			if !ui.PromptYesNo(fmt.Sprintf("Delete project %q from the registry?", args[0]), false) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}
		var res rpc.DeleteProjectResult
		warnings, err := callOp(rpc.OpDeleteProject, rpc.ProjectNameArgs{Name: args[0]}, &res)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Project %q deleted\n", res.Name)
		printWarnings(cmd, warnings)
		return nil
	},
}

var projectStatusCmd = &cobra.Command{
	Use:   "status <name> <status>",
	Short: "Move a project through its lifecycle",
	Long: `Set a project's lifecycle status: planning, in_progress, review,
done, or archived. Promotion from planning requires the three core
documents (architecture, phase plan, checklist).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var view registry.View
		warnings, err := callOp(rpc.OpSetProjectStatus,
			rpc.SetProjectStatusArgs{Name: args[0], Status: args[1]}, &view)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, view)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Project %q is now %s\n", view.Name, view.Status)
		printWarnings(cmd, warnings)
		return nil
	},
}

var (
	projectUseExpected int64
	projectUseSession  string
)

var projectUseCmd = &cobra.Command{
	Use:   "use [project]",
	Short: "Bind this agent to a project, or show the current binding",
	Long: `Bind the calling agent to a project so later commands resolve it
implicitly. With --expected-version, the bind fails if another agent
moved the binding first.

Without arguments, prints the current binding.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			var cur rpc.CurrentProjectResult
			warnings, err := callOp(rpc.OpGetCurrentProject, struct{}{}, &cur)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd, cur)
			}
			if cur.Project == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No current project. Run: scribe project use <name>")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Current project: %s (version %d)\n", cur.Project, cur.Version)
			}
			printWarnings(cmd, warnings)
			return nil
		}

		var res rpc.CurrentProjectResult
		warnings, err := callOp(rpc.OpSetCurrentProject, rpc.SetCurrentProjectArgs{
			Project:         args[0],
			ExpectedVersion: projectUseExpected,
			SessionID:       projectUseSession,
		}, &res)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Now using %s (version %d)\n", res.Project, res.Version)
		printWarnings(cmd, warnings)
		return nil
	},
}

func init() {
	projectSetCmd.Flags().StringVarP(&projectSetDescription, "description", "d", "", "one-line project description")
	projectSetCmd.Flags().StringVar(&projectSetStatus, "status", "", "initial lifecycle status")
	projectSetCmd.Flags().StringSliceVar(&projectSetTags, "tag", nil, "project tag (repeatable)")
	projectSetCmd.Flags().StringArrayVar(&projectSetDocs, "doc", nil, "registered document key=path (repeatable)")
	projectSetCmd.Flags().StringArrayVar(&projectSetDefaults, "default", nil, "append default key=value (repeatable)")

	projectDeleteCmd.Flags().BoolVarP(&projectDeleteForce, "force", "f", false, "skip the confirmation prompt")

	projectUseCmd.Flags().Int64Var(&projectUseExpected, "expected-version", -1, "fail unless the binding is at this version")
	projectUseCmd.Flags().StringVar(&projectUseSession, "session", "", "session id recorded with the binding")

	projectCmd.AddCommand(projectSetCmd, projectGetCmd, projectListCmd,
		projectDeleteCmd, projectStatusCmd, projectUseCmd)
	rootCmd.AddCommand(projectCmd)
}
