package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jg-phare/ghostline/pkg/auth"
	"github.com/jg-phare/ghostline/pkg/config"
	"github.com/jg-phare/ghostline/pkg/fetch"
	"github.com/jg-phare/ghostline/pkg/llm"
	"github.com/jg-phare/ghostline/pkg/types"
)

type completeFlags struct {
	file       string
	line       int
	col        int
	n          int
	lines      int
	endpoint   string
	model      string
	repository string
	keepBlank  bool
	watchToken bool
}

func newCompleteCmd(g *globalFlags) *cobra.Command {
	f := &completeFlags{}
	cmd := &cobra.Command{
		Use:   "complete --file FILE --line N --col N",
		Short: "Request completions at a position in a file",
		Long: `Complete splits FILE at the given 1-based line and byte column into a
prefix and suffix, requests completions and prints each candidate as soon as
it finishes streaming. With --lines, a candidate is cut after that many
complete lines without waiting for the server to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runComplete(cmd, g, f)
		},
	}
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "file to complete in")
	cmd.Flags().IntVarP(&f.line, "line", "l", 0, "1-based cursor line")
	cmd.Flags().IntVarP(&f.col, "col", "c", 1, "1-based cursor byte column")
	cmd.Flags().IntVarP(&f.n, "n", "n", 0, "number of candidates (default from config)")
	cmd.Flags().IntVar(&f.lines, "lines", 0, "finish candidates after this many lines (0 waits for the server)")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "override the completion endpoint")
	cmd.Flags().StringVar(&f.model, "model", "", "override the model")
	cmd.Flags().StringVar(&f.repository, "repository", "", "repository name sent with the request")
	cmd.Flags().BoolVar(&f.keepBlank, "keep-blank", false, "print candidates that are only whitespace")
	cmd.Flags().BoolVar(&f.watchToken, "watch-token", false, "watch the token file and re-enable completions when it changes")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("line")
	return cmd
}

func runComplete(cmd *cobra.Command, g *globalFlags, f *completeFlags) error {
	cfg, err := loadConfig(g, func(c *config.Config) {
		if f.endpoint != "" {
			c.Endpoint = f.endpoint
		}
		if f.model != "" {
			c.Model = f.model
		}
		if f.n > 0 {
			c.Sampling.N = f.n
		}
	})
	if err != nil {
		return err
	}

	content, err := os.ReadFile(f.file)
	if err != nil {
		return exitError(ExitError, "ghostline: %v", err)
	}
	off, err := cursorOffset(content, f.line, f.col)
	if err != nil {
		return exitError(ExitError, "ghostline: %s: %v", f.file, err)
	}

	opts := []types.RequestOption{types.WithSampling(cfg.TypesSampling())}
	if f.repository != "" {
		opts = append(opts, types.WithRepository(f.repository))
	}
	req := types.NewCompletionRequest(string(content[:off]), string(content[off:]), cfg.LanguageFor(f.file), opts...)

	post := []fetch.PostProcessor{fetch.TrimTrailingWhitespace}
	if !f.keepBlank {
		post = append(post, fetch.DropEmpty)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	tokens := tokenSource(cfg)
	client, err := newFetchClient(cfg, tokens, post...)
	if err != nil {
		return exitError(ExitError, "ghostline: %v", err)
	}
	defer client.Close()

	if fs, ok := tokens.(*auth.FileSource); ok && f.watchToken {
		go func() {
			if err := fs.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("token watcher stopped", "error", err)
			}
		}()
	}

	var oracle llm.Oracle
	if f.lines > 0 {
		oracle = llm.LineOracle(f.lines)
	}

	slog.Debug("requesting completions", "request_id", req.ID, "language", req.Language, "n", req.Candidates())
	out, err := client.Fetch(ctx, req, oracle)
	if err != nil {
		return exitError(ExitError, "ghostline: %v", err)
	}
	return report(cmd.OutOrStdout(), cmd.ErrOrStderr(), out)
}

// report prints an outcome and maps it to an exit code.
func report(stdout, stderr io.Writer, out fetch.Outcome) error {
	switch o := out.(type) {
	case *fetch.Success:
		return printCandidates(stdout, o)
	case *fetch.Failed:
		if o.ProxySuspected {
			color.New(color.FgYellow).Fprintln(stderr, "hint: the response did not come from the completion service; check proxy settings")
		}
		return exitError(ExitFailed, "ghostline: %s", o.Reason)
	case *fetch.Canceled:
		return exitError(ExitCanceled, "ghostline: canceled: %s", o.Reason)
	default:
		return exitError(ExitError, "ghostline: unexpected outcome %v", out)
	}
}

func printCandidates(w io.Writer, s *fetch.Success) error {
	cyan := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	count := 0
	for cand, err := range s.Candidates.All() {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return exitError(ExitCanceled, "ghostline: canceled: %s", fetch.ReasonAfterFetch)
			}
			return exitError(ExitError, "ghostline: %v", err)
		}
		count++
		fc := cand.Completion
		cyan.Fprintf(w, "[%d]", fc.Index)
		dim.Fprintf(w, " %s\n", fc.FinishReason)
		fmt.Fprintln(w, cand.Text)
	}

	stats := s.Candidates.Stats()
	attrs := []any{
		"request_id", s.RequestID.ID(),
		"model", s.Candidates.Model(),
		"candidates", count,
		"bytes", stats.Bytes,
		"events", stats.Events,
		"malformed", stats.Malformed,
	}
	if d, ok := s.ProcessingTime(); ok {
		attrs = append(attrs, "processing", d)
	}
	slog.Debug("completion finished", attrs...)

	if count == 0 {
		dim.Fprintln(w, "no completions")
	}
	return nil
}

// cursorOffset converts a 1-based line and byte column into a byte offset.
// A column past the end of the line is clamped to the line end.
func cursorOffset(content []byte, line, col int) (int, error) {
	if line < 1 || col < 1 {
		return 0, fmt.Errorf("line and column are 1-based, got %d:%d", line, col)
	}
	start := 0
	for i := 1; i < line; i++ {
		j := bytes.IndexByte(content[start:], '\n')
		if j < 0 {
			return 0, fmt.Errorf("line %d out of range", line)
		}
		start += j + 1
	}
	end := len(content)
	if j := bytes.IndexByte(content[start:], '\n'); j >= 0 {
		end = start + j
	}
	return min(start+col-1, end), nil
}
