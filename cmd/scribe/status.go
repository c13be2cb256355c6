package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/config"
	"github.com/untoldecay/scribe/internal/paths"
	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace and daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := config.RepoRoot()
		body := map[string]any{
			"repo_root":  root,
			"scribe_dir": config.FindScribeDir(),
			"db_path":    paths.DatabaseFile(root),
		}

		var cur rpc.CurrentProjectResult
		if _, err := callOp(rpc.OpGetCurrentProject, struct{}{}, &cur); err == nil {
			body["current_project"] = cur.Project
		}

		var daemonStatus *rpc.StatusResult
		if client := daemonClient(); client != nil {
			if st, err := client.Status(); err == nil {
				daemonStatus = st
				body["daemon"] = st
			}
		}

		if jsonOutput {
			body["ok"] = true
			return outputJSON(cmd, body)
		}

		pairs := [][2]string{
			{"Repo", root},
			{"Workspace", config.FindScribeDir()},
			{"Database", paths.DatabaseFile(root)},
			{"Project", cur.Project},
		}
		if daemonStatus != nil {
			pairs = append(pairs,
				[2]string{"Daemon", fmt.Sprintf("running (pid %d, v%s)", daemonStatus.PID, daemonStatus.Version)},
				[2]string{"Requests", strconv.FormatInt(daemonStatus.TotalRequests, 10)},
			)
		} else {
			pairs = append(pairs, [2]string{"Daemon", "not running (direct mode)"})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderCard("scribe", pairs, ui.GetWidth()-2))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
