package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/config"
	"github.com/untoldecay/scribe/internal/daemon"
	"github.com/untoldecay/scribe/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background daemon",
	Long: `The daemon holds the SQLite mirror open and serves every CLI
invocation over a Unix socket, avoiding per-command startup cost. It
exits on its own after sitting idle.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a detached daemon for this repo",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := daemon.Start(config.RepoRoot())
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, map[string]any{"ok": true, "pid": pid})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (pid %d)\n", pid)
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemon.Stop(config.RepoRoot()); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, map[string]any{"ok": true})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report daemon liveness and counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := daemon.Status(config.RepoRoot())
		if jsonOutput {
			return outputJSON(cmd, info)
		}
		pairs := [][2]string{
			{"Running", strconv.FormatBool(info.Running)},
			{"PID", zeroBlank(info.PID)},
			{"Version", info.Version},
			{"Socket", info.SocketPath},
			{"Ops log", info.LogPath},
			{"Uptime", strconv.FormatInt(info.UptimeSeconds, 10) + "s"},
			{"Connections", strconv.Itoa(int(info.ActiveConns))},
			{"Requests", strconv.FormatInt(info.TotalRequests, 10)},
			{"Errors", strconv.FormatInt(info.TotalErrors, 10)},
		}
		if info.Error != "" {
			pairs = append(pairs, [2]string{"Problem", info.Error})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderCard("Daemon", pairs, ui.GetWidth()-2))
		return nil
	},
}

func zeroBlank(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := config.RepoRoot()
		services, cleanup, err := buildServices(root)
		if err != nil {
			return err
		}
		defer cleanup()

		d := daemon.New(services, daemon.Options{
			RepoRoot:      root,
			IdleTimeout:   config.GetDuration("daemon.idle_timeout"),
			LogMaxSizeMB:  config.GetInt("daemon.log_max_size_mb"),
			LogMaxBackups: config.GetInt("daemon.log_max_backups"),
			WatchDocs:     true,
		})
		return d.Run(rootCtx)
	},
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}
