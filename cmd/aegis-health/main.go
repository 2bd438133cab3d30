package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./data/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aegis-health",
		Short: "Turn asset telemetry into damage, remaining useful life and confidence",
		Long: `aegis-health ingests telemetry readings per asset, runs them through the
shift, environmental, damage and RUL stages, and commits the resulting
reliability state with an audit trail.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newStatsCmd(),
		newStateCmd(),
		newIngestCmd(),
	)
	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
