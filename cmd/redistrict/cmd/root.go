package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/utils/clock"

	"github.com/giants/redistrict/internal/common"
	commonconfig "github.com/giants/redistrict/internal/common/config"
	"github.com/giants/redistrict/internal/redistrict"
	"github.com/giants/redistrict/internal/redistrict/configuration"
	"github.com/giants/redistrict/internal/redistrictctl"
)

const (
	CustomConfigLocation = "config"
	defaultConfigPath    = "./config/redistrict"
)

// Flags that override configuration keys of the same name.
var configFlags = []string{"fakeCluster", "metricsPort", "healthPort"}

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redistrict",
		Short: "redistrict generates and reconciles districting plan jobs.",
		Long: `redistrict generates and reconciles districting plan jobs.

Small jobs run on this machine; large jobs are submitted to the cluster. The run command starts the
long-running service that tracks cluster jobs and ingests their results. Every other command works
directly against the configured store and exits.

Configuration is read from ./config/redistrict/config.yaml, then from each file passed with --config,
then from REDISTRICT_ prefixed environment variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	cmd.PersistentFlags().Bool("fakeCluster", false, "Send large jobs to an in-process cluster instead of Slurm")

	cmd.AddCommand(
		runCmd(),
		submitCmd(redistrictctl.New()),
		cancelCmd(redistrictctl.New()),
		deleteCmd(redistrictctl.New()),
		listCmd(redistrictctl.New()),
		getCmd(redistrictctl.New()),
		resultsCmd(redistrictctl.New()),
		geographyCmd(redistrictctl.New()),
		reconcileCmd(redistrictctl.New()),
	)
	return cmd
}

// loadConfig reads, rectifies and validates the configuration. Flags set on the command line take precedence
// over files and the environment.
func loadConfig(cmd *cobra.Command) (*configuration.RedistrictConfiguration, error) {
	paths, err := cmd.Flags().GetStringSlice(CustomConfigLocation)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	overrides := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	for _, name := range configFlags {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			overrides.AddFlag(flag)
		}
	}
	var config configuration.RedistrictConfiguration
	if _, err := common.LoadConfig(&config, defaultConfigPath, paths, overrides); err != nil {
		return nil, err
	}
	configuration.RectifyConfig(&config)
	if err := config.Validate(); err != nil {
		commonconfig.LogValidationErrors(err)
		return nil, errors.WithMessage(err, "invalid configuration")
	}
	return &config, nil
}

// initParams points the app at the configured store.
func initParams(cmd *cobra.Command, app *redistrictctl.App) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app.Params.Connect = func(ctx context.Context) (redistrictctl.Client, func(), error) {
		components, err := redistrict.NewComponents(ctx, config, clock.RealClock{})
		if err != nil {
			return nil, nil, err
		}
		return components.Service, components.Close, nil
	}
	return nil
}
