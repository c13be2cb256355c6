package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/config"
	"github.com/untoldecay/scribe/internal/rpc"
)

// Build metadata, stamped by the release script via -ldflags.
var (
	Build  = ""
	Commit = ""
	Branch = ""
)

var versionCheckDaemon bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		commit := Commit
		if commit == "" {
			commit = vcsRevision()
		}

		body := map[string]any{"version": rpc.Version}
		if Build != "" {
			body["build"] = Build
		}
		if commit != "" {
			body["commit"] = commit
		}
		if Branch != "" {
			body["branch"] = Branch
		}

		var daemonVersion string
		if versionCheckDaemon {
			if client, _ := rpc.TryConnect(config.RepoRoot()); client != nil {
				if status, err := client.Status(); err == nil {
					daemonVersion = status.Version
					body["daemon_version"] = status.Version
					body["daemon_match"] = status.Version == rpc.Version
				}
			}
		}

		if jsonOutput {
			return outputJSON(cmd, body)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "scribe %s", rpc.Version)
		if commit != "" {
			fmt.Fprintf(out, " (%s)", shortHash(commit))
		}
		fmt.Fprintln(out)
		if versionCheckDaemon {
			switch {
			case daemonVersion == "":
				fmt.Fprintln(out, "daemon: not running")
			case daemonVersion == rpc.Version:
				fmt.Fprintf(out, "daemon: %s (match)\n", daemonVersion)
			default:
				fmt.Fprintf(out, "daemon: %s (MISMATCH; restart with: scribe daemon stop && scribe daemon start)\n", daemonVersion)
			}
		}
		return nil
	},
}

// vcsRevision pulls the commit hash embedded by the Go toolchain when
// no explicit -ldflags stamp exists.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheckDaemon, "daemon", false, "also report the running daemon's version")
	rootCmd.AddCommand(versionCmd)
}
