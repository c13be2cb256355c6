package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/pipeline"
	"github.com/untoldecay/scribe/internal/rpc"
	"github.com/untoldecay/scribe/internal/ui"
)

var (
	logStatus    string
	logEmoji     string
	logType      string
	logProject   string
	logTS        string
	logSession   string
	logMeta      []string
	logItemsJSON string
	logItems     []string
	logAutoSplit bool
	logDelimiter string
	logStagger   int
)

var logCmd = &cobra.Command{
	Use:   "log [message]",
	Short: "Append an entry to a project ledger",
	Long: `Append one entry to the current (or named) project's ledger.

Bulk forms:
  scribe log --item "first" --item "second"
  scribe log --items-json '[{"message":"first"},{"message":"second"}]'
  scribe log "one. two. three" --auto-split --stagger 2`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := rpc.AppendEntryArgs{
			AppendInput: pipeline.AppendInput{
				Project:      logProject,
				Status:       logStatus,
				Emoji:        logEmoji,
				LogType:      logType,
				TimestampUTC: logTS,
				SessionID:    logSession,
			},
			ItemsJSON:      logItemsJSON,
			AutoSplit:      logAutoSplit,
			SplitDelimiter: logDelimiter,
			StaggerSeconds: logStagger,
		}
		if len(args) == 1 {
			input.Message = args[0]
		}
		for _, item := range logItems {
			input.Items = append(input.Items, pipeline.AppendInput{Message: item})
		}
		if len(logMeta) > 0 {
			meta, err := parseMetaPairs(logMeta)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			input.Meta = raw
		}

		bulk := len(input.Items) > 0 || input.ItemsJSON != "" || input.AutoSplit
		if !bulk && input.Message == "" {
			return fmt.Errorf("a message is required (or use --item / --items-json)")
		}

		if bulk {
			var res pipeline.BulkResult
			warnings, err := callOp(rpc.OpAppendEntry, input, &res)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged %d entries", len(res.WrittenLines))
			if len(res.FailedItems) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d failed)", len(res.FailedItems))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			for _, f := range res.FailedItems {
				fmt.Fprintf(cmd.ErrOrStderr(), "  item %d: %s\n", f.Index, f.Error)
			}
			printWarnings(cmd, warnings)
			printReminders(cmd, res.Reminders)
			return nil
		}

		var res pipeline.AppendResult
		warnings, err := callOp(rpc.OpAppendEntry, input, &res)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, res)
		}
		mark := "Logged"
		if ui.ShouldUseEmoji() {
			mark = "✓ Logged"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s to %s\n", mark, res.Path)
		printWarnings(cmd, warnings)
		printReminders(cmd, res.Reminders)
		return nil
	},
}

func printReminders(cmd *cobra.Command, reminders []string) {
	if jsonOutput {
		return
	}
	for _, r := range reminders {
		fmt.Fprintln(cmd.ErrOrStderr(), "Reminder:", r)
	}
}

// parseMetaPairs turns repeated key=value flags into a metadata map.
func parseMetaPairs(pairs []string) (map[string]string, error) {
	meta := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q: want key=value", p)
		}
		meta[key] = value
	}
	return meta, nil
}

func init() {
	logCmd.Flags().StringVar(&logStatus, "status", "", "entry status keyword (done, wip, blocked, ...)")
	logCmd.Flags().StringVar(&logEmoji, "emoji", "", "explicit emoji marker")
	logCmd.Flags().StringVarP(&logType, "type", "t", "", "log type (progress_log, doc_log, security_log, bug_log)")
	logCmd.Flags().StringVarP(&logProject, "project", "p", "", "target project (defaults to the current binding)")
	logCmd.Flags().StringVar(&logTS, "ts", "", "explicit UTC timestamp (RFC3339)")
	logCmd.Flags().StringVar(&logSession, "session", "", "session id for multi-agent recency")
	logCmd.Flags().StringArrayVarP(&logMeta, "meta", "m", nil, "metadata key=value (repeatable)")
	logCmd.Flags().StringVar(&logItemsJSON, "items-json", "", "bulk items as a JSON array")
	logCmd.Flags().StringArrayVar(&logItems, "item", nil, "bulk item message (repeatable)")
	logCmd.Flags().BoolVar(&logAutoSplit, "auto-split", false, "split the message into one entry per sentence")
	logCmd.Flags().StringVar(&logDelimiter, "split-delimiter", "", "delimiter for --auto-split (default sentence bounds)")
	logCmd.Flags().IntVar(&logStagger, "stagger", 0, "seconds between bulk item timestamps")
	rootCmd.AddCommand(logCmd)
}
