package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearbird/hearbird/cmd/analyze"
	"github.com/hearbird/hearbird/cmd/config"
	"github.com/hearbird/hearbird/cmd/serve"
	"github.com/hearbird/hearbird/cmd/version"
	"github.com/hearbird/hearbird/internal/buildinfo"
	"github.com/hearbird/hearbird/internal/conf"
	"github.com/hearbird/hearbird/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) (*cobra.Command, error) {
	ctx, err := conf.NewContext(build)
	if err != nil {
		return nil, fmt.Errorf("error initializing configuration: %w", err)
	}

	var configFile string
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "hearbird",
		Short:         "BirdNET upload analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, ctx, &configFile); err != nil {
		return nil, err
	}

	versionCmd := version.Command(ctx)
	rootCmd.AddCommand(
		serve.Command(ctx),
		analyze.Command(ctx),
		config.Command(ctx),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip setup for the version command
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		settings, err := conf.Load(ctx.Viper, configFile)
		if err != nil {
			return err
		}
		ctx.Settings = settings

		central, err = logger.NewCentralLogger(settings.LoggerConfig())
		if err != nil {
			return fmt.Errorf("error initializing logger: %w", err)
		}
		logger.SetGlobal(central)
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *conf.Context, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: search ./, ~/.config/hearbird, /etc/hearbird)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := ctx.Viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
