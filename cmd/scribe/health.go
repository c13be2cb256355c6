package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/scribe/internal/rpc"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon and storage health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if client := daemonClient(); client != nil {
			health, err := client.Health()
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd, health)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon %s (v%s, db %.1fms, %d/%d conns, %.1f MB)\n",
				health.Status, health.Version, health.DBResponseTimeMS,
				health.ActiveConns, health.MaxConns, health.MemoryAllocMB)
			return nil
		}

		// No daemon: check the mirror directly.
		r, err := openRuntime()
		if err != nil {
			return err
		}
		status := "healthy"
		var dbMS float64
		var dbErr string
		if r.store == nil {
			status = "degraded"
			dbErr = "SQLite mirror disabled or unavailable; file-only mode"
		} else {
			start := time.Now()
			if err := r.store.Ping(rootCtx); err != nil {
				status = "unhealthy"
				dbErr = err.Error()
			}
			dbMS = float64(time.Since(start).Microseconds()) / 1000.0
		}

		if jsonOutput {
			return outputJSON(cmd, map[string]any{
				"ok":                  status != "unhealthy",
				"status":              status,
				"mode":                "direct",
				"version":             rpc.Version,
				"db_response_time_ms": dbMS,
				"error":               dbErr,
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Direct mode %s (v%s, db %.1fms)\n", status, rpc.Version, dbMS)
		if dbErr != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), dbErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
