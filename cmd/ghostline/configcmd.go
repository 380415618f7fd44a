package main

import (
	"github.com/spf13/cobra"

	"github.com/jg-phare/ghostline/pkg/config"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	var validate bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Config prints the configuration after applying the config file and
GHOSTLINE_* environment variables. The token itself is never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(g.configPath)
			if err != nil {
				return exitError(ExitError, "ghostline: %v", err)
			}
			if validate {
				if err := config.Validate(&cfg); err != nil {
					return exitError(ExitError, "ghostline: %v", err)
				}
			}
			return config.Write(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "fail if the configuration is invalid")
	return cmd
}
