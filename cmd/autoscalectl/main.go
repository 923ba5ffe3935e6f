// Command autoscalectl is the control plane's single binary: it serves the
// HTTP API and schedule-event drain loop (serve), runs the drain loop alone
// for a dedicated scheduler replica (scheduler), and applies or inspects the
// store's goose migrations (migrate).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "autoscalectl",
		Short:         "Autoscaling control plane",
		Long:          "autoscalectl runs and administers the autoscaling control plane: the HTTP API, the schedule-event drain loop, and the underlying store's migrations.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (env vars and defaults apply regardless)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newSchedulerCommand(&configPath))
	root.AddCommand(newMigrateCommand(&configPath))

	return root
}
