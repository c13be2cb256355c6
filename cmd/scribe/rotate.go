package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/rotation"
	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/ui"
)

var (
	rotateProject   string
	rotateTypes     []string
	rotateAll       bool
	rotateDryRun    string
	rotateAutoThr   bool
	rotateThreshold int64
	rotateConfirm   bool
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate oversized project logs into hash-chained archives",
	Long: `Rotate selected logs of a project. Each rotation archives the log
under archives/, links it to the previous archive by content hash, and
reseeds the live file from its template.

A dry run reports what would rotate: --dry-run uses the cheap sampled
estimate, --dry-run=precise counts every line.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := rpc.RotateArgs{
			Project:       rotateProject,
			LogTypes:      rotateTypes,
			All:           rotateAll,
			AutoThreshold: rotateAutoThr,
			Threshold:     rotateThreshold,
			Confirm:       rotateConfirm,
		}
		if cmd.Flags().Changed("dry-run") {
			req.DryRun = true
			req.Mode = rotateDryRun
		}
		if !req.DryRun && !req.Confirm && !req.AutoThreshold {
			// Rotation rewrites live logs; an explicit go-ahead keeps
			// accidental invocations harmless.
			if !ui.PromptYesNo("Rotate now? Archived entries leave the live log", false) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			req.Confirm = true
		}

		var res rotation.Result
		warnings, err := callOp(rpc.OpRotateLog, req, &res)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, res)
		}

		out := cmd.OutOrStdout()
		for _, r := range res.Results {
			switch {
			case r.Error != "":
				fmt.Fprintf(out, "%-14s failed: %s\n", r.LogType, r.Error)
			case r.DryRun:
				fmt.Fprintf(out, "%-14s ~%d entries (threshold %d) → %s\n",
					r.LogType, r.EstimatedEntries, r.Threshold, r.Classification)
			case r.Rotated:
				fmt.Fprintf(out, "%-14s rotated %d entries → %s\n",
					r.LogType, r.EntriesRotated, r.ArchivePath)
			default:
				fmt.Fprintf(out, "%-14s skipped: %s\n", r.LogType, r.SkipReason)
			}
		}
		fmt.Fprintf(out, "Rotated %d, skipped %d, failed %d\n", res.Rotated, res.Skipped, res.Failed)
		printWarnings(cmd, warnings)
		return nil
	},
}

func init() {
	rotateCmd.Flags().StringVarP(&rotateProject, "project", "p", "", "project whose logs to rotate")
	rotateCmd.Flags().StringArrayVarP(&rotateTypes, "type", "t", nil, "log type to rotate (repeatable)")
	rotateCmd.Flags().BoolVar(&rotateAll, "all", false, "rotate every known log type")
	rotateCmd.Flags().StringVar(&rotateDryRun, "dry-run", "", "report without rotating: estimate or precise")
	rotateCmd.Flags().Lookup("dry-run").NoOptDefVal = "estimate"
	rotateCmd.Flags().BoolVar(&rotateAutoThr, "auto-threshold", false, "rotate only logs past their threshold")
	rotateCmd.Flags().Int64Var(&rotateThreshold, "threshold", 0, "entry-count threshold override")
	rotateCmd.Flags().BoolVar(&rotateConfirm, "confirm", false, "skip the confirmation prompt")
	rootCmd.AddCommand(rotateCmd)
}
