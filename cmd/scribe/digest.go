package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/ui"
)

var (
	digestProject string
	digestDays    int
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "AI summary of a project's recent activity",
	Long: `Summarize the last N days of a project's ledger into highlights,
risks, and next steps using Claude. Requires ANTHROPIC_API_KEY (read by
the daemon when one is running, otherwise by this process).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res rpc.DigestResult
		warnings, err := callOp(rpc.OpDigest, rpc.DigestArgs{
			Project: digestProject,
			Days:    digestDays,
		}, &res)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, res)
		}
		rendered, err := ui.RenderMarkdown(res.Digest, ui.GetWidth())
		if err != nil {
			rendered = res.Digest
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Digest for %s (last %d days)\n\n%s\n", res.Project, res.Days, rendered)
		printWarnings(cmd, warnings)
		return nil
	},
}

func init() {
	digestCmd.Flags().StringVarP(&digestProject, "project", "p", "", "project to summarize (defaults to the current binding)")
	digestCmd.Flags().IntVar(&digestDays, "days", 7, "summarization window in days")
	rootCmd.AddCommand(digestCmd)
}
