package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ghalamif/AegisHealth/pkg/aegishealth"
)

func newRunCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the runtime using the provided config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(cmd)
			flow, err := aegishealth.Conf(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt, err := flow.StreamOUT()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if watch {
				go func() {
					if err := rt.WatchConfig(ctx, path); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "config watch stopped: %v\n", err)
					}
				}()
			}
			return rt.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload reliability parameters when the config file changes")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting the runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(cmd)
			if _, err := aegishealth.LoadConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s looks good\n", path)
			return nil
		},
	}
}
