package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncd/filesync/internal/config"
	"github.com/syncd/filesync/internal/logging"
	filesync "github.com/syncd/filesync/internal/sync"
)

func newSyncCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync <profile>",
		Short: "Run one reconciliation pass for a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := flags.settings()
			cfg, err := config.ParseConfig(settings.ProfilePath(args[0]))
			if err != nil {
				return err
			}

			ctx := logging.WithLogger(cmd.Context(), flags.logger())
			coordinator := filesync.New(settings)
			if err := coordinator.Run(ctx, cfg, filesync.Options{DryRun: dryRun}); err != nil {
				return fmt.Errorf("sync %q: %w", cfg.Profile.Name, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan and report without applying any operation")
	return cmd
}
