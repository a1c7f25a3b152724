package cmd

import (
	"github.com/spf13/cobra"

	"github.com/giants/redistrict/internal/redistrictctl"
)

func resultsCmd(app *redistrictctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "results <jobId>",
		Short: "Show the average and extreme plans, county counts and box whiskers of a completed job.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Results(cmd.Context(), args[0])
		},
	}
}

func geographyCmd(app *redistrictctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "geography <stateId>",
		Short: "Print the district geography of a stored plan.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Geography(cmd.Context(), args[0])
		},
	}
}
