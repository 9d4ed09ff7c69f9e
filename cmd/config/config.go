// Package config implements the command printing the effective configuration.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearbird/hearbird/internal/conf"
)

// Command creates the config command.
func Command(ctx *conf.Context) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: "Print the configuration after merging defaults, config file, environment and flags. Secrets are masked.\n" +
			"With --output the configuration is written to a file instead, without secret values.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				if err := conf.SaveYAMLConfig(output, ctx.Settings.WithoutSecrets()); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", output)
				return err
			}

			data, err := ctx.Settings.Redacted().ToYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the configuration to this file")
	return cmd
}
