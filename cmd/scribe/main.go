// Command scribe is the multi-project engineering activity ledger.
//
// Every command goes through one of two transports with identical
// semantics: a running daemon over its Unix socket, or an in-process
// dispatch when no daemon answers (direct mode).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/config"
	"github.com/untoldecay/scribe/internal/debug"
	"github.com/untoldecay/scribe/internal/fault"
	"github.com/untoldecay/scribe/internal/ui"
)

var (
	jsonOutput bool
	agentFlag  string
	noDaemon   bool
	verbose    bool
	dbOverride string
)

var rootCtx = context.Background()

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Append-only activity ledger for multi-agent engineering work",
	Long: `Scribe keeps per-project markdown ledgers (progress, doc updates,
security, bugs) with a SQLite mirror for fast queries.

Commands talk to a background daemon when one is running and fall back
to direct file access when not; behavior is identical either way.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		debug.SetVerbose(verbose)
		if cmd.Flags().Changed("json") {
			config.Set("json", jsonOutput)
		}
		if agentFlag != "" {
			config.Set("agent", agentFlag)
		}
		if noDaemon {
			config.Set("no_daemon", true)
		}
		if dbOverride != "" {
			config.Set("db", dbOverride)
		}
		jsonOutput = config.GetBool("json")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&agentFlag, "agent", "", "agent identity for this invocation")
	rootCmd.PersistentFlags().BoolVar(&noDaemon, "no-daemon", false, "skip the daemon and run in-process")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "SQLite mirror path override")
}

// outputJSON writes v as indented JSON to the command's stdout.
func outputJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// printWarnings surfaces non-fatal warnings after a command's output.
func printWarnings(cmd *cobra.Command, warnings []string) {
	if jsonOutput || len(warnings) == 0 {
		return
	}
	fmt.Fprint(cmd.ErrOrStderr(), ui.RenderWarnings(warnings))
}

func main() {
	defer closeRuntime()
	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}

// fail reports a command failure and exits non-zero. Typed faults keep
// their code and suggestion in both output modes.
func fail(err error) {
	closeRuntime()
	if jsonOutput {
		body := map[string]any{"ok": false, "error": map[string]any{"message": err.Error()}}
		if fe, ok := fault.From(err); ok {
			e := map[string]any{"code": string(fe.Code), "message": fe.Message}
			if fe.Suggestion != "" {
				e["suggestion"] = fe.Suggestion
			}
			if len(fe.Detail) > 0 {
				e["detail"] = fe.Detail
			}
			body["error"] = e
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(body)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if fe, ok := fault.From(err); ok && fe.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", fe.Suggestion)
	}
	os.Exit(1)
}
