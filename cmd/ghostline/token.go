package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jg-phare/ghostline/pkg/auth"
	"github.com/jg-phare/ghostline/pkg/config"
)

func newTokenCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored API token",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [TOKEN]",
		Short: "Store a token in the token file (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := tokenConfig(g)
			if err != nil {
				return err
			}
			token := ""
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return exitError(ExitError, "ghostline: reading token from stdin: %v", err)
				}
				token = line
			}

			src := auth.NewFileSource(cfg.TokenFile, nil)
			if err := src.Store(cmd.Context(), token); err != nil {
				if errors.Is(err, auth.ErrNoToken) {
					return exitError(ExitError, "ghostline: token is empty")
				}
				return exitError(ExitError, "ghostline: %v", err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "token stored in %s\n", src.Path())
			return nil
		},
	})

	var reveal bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored token, masked unless --reveal is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := tokenConfig(g)
			if err != nil {
				return err
			}
			src := auth.NewFileSource(cfg.TokenFile, nil)
			token, err := src.Token(cmd.Context())
			if err != nil {
				if errors.Is(err, auth.ErrNoToken) {
					return exitError(ExitError, "ghostline: no token in %s", src.Path())
				}
				return exitError(ExitError, "ghostline: %v", err)
			}
			if !reveal {
				token = maskToken(token)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", src.Path(), token)
			return nil
		},
	}
	show.Flags().BoolVar(&reveal, "reveal", false, "print the full token")
	cmd.AddCommand(show)
	return cmd
}

// tokenConfig reads the config for token commands, which do not need an
// endpoint.
func tokenConfig(g *globalFlags) (config.Config, error) {
	cfg, err := config.Read(g.configPath)
	if err != nil {
		return config.Config{}, exitError(ExitError, "ghostline: %v", err)
	}
	return cfg, nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
