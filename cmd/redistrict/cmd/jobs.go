package cmd

import (
	"github.com/spf13/cobra"

	"github.com/giants/redistrict/internal/redistrictctl"
)

func submitCmd(app *redistrictctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a districting job.",
		Long: `Submit a districting job.

Jobs asking for no more maps than the configured cluster threshold run on this machine before the
command returns. Larger jobs are submitted to the cluster and picked up by the reconciliation service.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			params := redistrictctl.SubmitParams{}
			var err error
			if params.State, err = cmd.Flags().GetString("state"); err != nil {
				return err
			}
			if params.Compactness, err = cmd.Flags().GetInt("compactness"); err != nil {
				return err
			}
			if params.PopulationDifferenceLimit, err = cmd.Flags().GetFloat64("population-difference"); err != nil {
				return err
			}
			if params.Ethnicities, err = cmd.Flags().GetStringSlice("ethnicities"); err != nil {
				return err
			}
			if params.MapCount, err = cmd.Flags().GetInt("maps"); err != nil {
				return err
			}
			return app.Submit(cmd.Context(), params)
		},
	}
	cmd.Flags().String("state", "", "Two letter abbreviation of the US state to district")
	cmd.Flags().Int("compactness", 1, "Compactness level requested from the generator")
	cmd.Flags().Float64("population-difference", 0.05, "Largest allowed population difference between districts, as a fraction")
	cmd.Flags().StringSlice("ethnicities", []string{}, "Comma separated list of ethnicities to report on, for example: BLACK,HISPANIC")
	cmd.Flags().Int("maps", 0, "Number of plans to generate")
	_ = cmd.MarkFlagRequired("state")
	_ = cmd.MarkFlagRequired("ethnicities")
	_ = cmd.MarkFlagRequired("maps")
	return cmd
}

func cancelCmd(app *redistrictctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <jobId>",
		Short: "Request cancellation of a job.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Cancel(cmd.Context(), args[0])
		},
	}
}

func deleteCmd(app *redistrictctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <jobId>",
		Short: "Delete a job and its results, cancelling it first if it is still running.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Delete(cmd.Context(), args[0])
		},
	}
}

func listCmd(app *redistrictctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all jobs, newest first.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.List(cmd.Context())
		},
	}
}

func getCmd(app *redistrictctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "get <jobId>",
		Short: "Show a job.",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Get(cmd.Context(), args[0])
		},
	}
}

func reconcileCmd(app *redistrictctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation cycle and print the jobs that changed status.",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, app)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Reconcile(cmd.Context())
		},
	}
}
