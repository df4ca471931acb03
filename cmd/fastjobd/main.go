// Command fastjobd runs the FastJob scheduler control plane: one process
// owning a shard of registered apps, dispatching due job instances to
// workers over gRPC, and reconciling their reported status (spec.md §1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eliasyaoyc/fastjob/cmd/fastjobd/commands"
)

var rootCmd = &cobra.Command{
	Use:   "fastjobd",
	Short: "FastJob distributed job scheduler control plane",
	Long: `fastjobd is the control-plane server for FastJob: a distributed job
scheduler that owns a shard of registered applications, schedules their
CRON/fixed-rate/fixed-delay jobs, dispatches instances to workers, and
reconciles reported status.

Available commands:
  serve   - Run the control-plane server
  status  - Show a snapshot of the configured store's job/instance counts
  jobs    - Manage job definitions (load from a TOML file)
  version - Show build information`,
}

func init() {
	rootCmd.PersistentFlags().String("config-path", "", "path to a fastjob.toml config file (overrides search path)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug|info|warn|error (overrides config)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(*commands.UsageError); ok {
			os.Exit(64)
		}
		os.Exit(1)
	}
}
