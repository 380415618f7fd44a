package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jg-phare/ghostline/pkg/auth"
	"github.com/jg-phare/ghostline/pkg/config"
	"github.com/jg-phare/ghostline/pkg/fetch"
	"github.com/jg-phare/ghostline/pkg/transport"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	verbose    bool
	quiet      bool
	noColor    bool
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "ghostline",
		Short: "Stream code completions from a completion endpoint",
		Long: `Ghostline sends a completion request for a position in a file, decodes the
streamed candidates as they arrive, and prints them. It remembers rate-limit
and quota refusals so repeated requests fail fast.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(cmd.ErrOrStderr(), g.verbose, g.quiet)
			if g.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "only log warnings and errors")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultPath(), "config file path")

	root.AddCommand(newCompleteCmd(g))
	root.AddCommand(newTokenCmd(g))
	root.AddCommand(newConfigCmd(g))
	root.AddCommand(newReplayCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ghostline", Version)
		},
	})
	return root
}

// setupLogging installs the default slog handler.
//
//   - quiet mode:   only WARN and ERROR messages
//   - normal mode:  INFO and above
//   - verbose mode: DEBUG and above
func setupLogging(w io.Writer, verbose, quiet bool) {
	var level slog.Level
	switch {
	case quiet:
		level = slog.LevelWarn
	case verbose:
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func loadConfig(g *globalFlags, overrides ...config.Override) (config.Config, error) {
	cfg, err := config.Load(g.configPath, overrides...)
	if err != nil {
		return config.Config{}, exitError(ExitError, "ghostline: %v", err)
	}
	return cfg, nil
}

// tokenSource prefers an explicit token over the token file.
func tokenSource(cfg config.Config) auth.Source {
	if cfg.Token != "" {
		return auth.StaticSource(cfg.Token)
	}
	return auth.NewFileSource(cfg.TokenFile, slog.Default())
}

func newFetchClient(cfg config.Config, tokens auth.Source, post ...fetch.PostProcessor) (*fetch.Client, error) {
	tc, err := transport.New(transport.Config{
		Timeout:           cfg.Timeout,
		ProxyURL:          cfg.ProxyURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Retry:             cfg.RetryConfig(),
		UserAgent:         "ghostline/" + Version,
		Logger:            slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	return fetch.NewClient(fetch.Config{
		Endpoint:          cfg.Endpoint,
		Model:             cfg.Model,
		Transport:         tc,
		Tokens:            tokens,
		DropFinishReasons: cfg.DropFinishReasons,
		RateLimitCooldown: cfg.RateLimitCooldown,
		ProviderHeader:    cfg.ProviderHeader,
		Headers:           cfg.Headers,
		PostProcess:       post,
		Logger:            slog.Default(),
	})
}
