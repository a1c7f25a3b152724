package cmd

import (
	"github.com/spf13/cobra"

	"github.com/giants/redistrict/internal/common/logging"
	"github.com/giants/redistrict/internal/redistrict"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reconciliation service until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := logging.ConfigureApplicationLogging(config.Logging); err != nil {
				return err
			}
			return redistrict.StartUp(cmd.Context(), config)
		},
	}
	cmd.Flags().Uint16("metricsPort", 9000, "Port serving prometheus metrics")
	cmd.Flags().Uint16("healthPort", 8080, "Port serving the health check")
	return cmd
}
