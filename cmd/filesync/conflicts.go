package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/syncd/filesync/client/conflicts"
)

func newConflictsCmd(flags *globalFlags) *cobra.Command {
	var unresolvedOnly, resolvedOnly, asJSON bool

	cmd := &cobra.Command{
		Use:   "conflicts <profile>",
		Short: "Show the conflict history recorded for a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := flags.settings()
			report := conflicts.NewReport(args[0]).
				WithUnresolvedOnly(unresolvedOnly).
				WithResolvedOnly(resolvedOnly)
			if err := report.Load(settings.StateDir); err != nil {
				return err
			}
			if asJSON {
				return report.WriteJSON(os.Stdout)
			}
			return report.WriteText(os.Stdout)
		},
	}
	cmd.Flags().BoolVar(&unresolvedOnly, "unresolved", false, "show only conflicts without a recorded resolution")
	cmd.Flags().BoolVar(&resolvedOnly, "resolved", false, "show only conflicts that already carry a resolution")
	cmd.Flags().BoolVar(&asJSON, "json", false, "render the report as JSON instead of a text table")
	return cmd
}
