package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/jg-phare/ghostline/pkg/transport"
)

func newReplayCmd() *cobra.Command {
	var (
		addr   string
		delay  time.Duration
		status int
	)
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Serve a recorded event stream as a completion endpoint",
		Long: `Replay serves FILE line by line to every POST request, flushing after
each line. It is meant for exercising clients against recorded or hand-written
streams, including partial and malformed ones. With --status other than 200 the
file is sent as the error body instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return exitError(ExitError, "ghostline: %v", err)
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return exitError(ExitError, "ghostline: %v", err)
			}
			srv := &http.Server{Handler: replayHandler(data, delay, status)}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				srv.Shutdown(shutdown)
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "replaying %s on http://%s\n", args[0], ln.Addr())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return exitError(ExitError, "ghostline: %v", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between lines")
	cmd.Flags().IntVar(&status, "status", http.StatusOK, "response status")
	return cmd
}

// replayHandler writes data to each request, one flushed line at a time.
// The request id header is echoed back.
func replayHandler(data []byte, delay time.Duration, status int) http.Handler {
	lines := bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if id := r.Header.Get("X-Request-Id"); id != "" {
			w.Header().Set("X-Request-Id", id)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write(data)
			return
		}

		ew, err := transport.NewEventWriter(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for i, line := range lines {
			if i > 0 && delay > 0 {
				select {
				case <-time.After(delay):
				case <-r.Context().Done():
					slog.Debug("replay client went away", "line", i)
					return
				}
			}
			if err := ew.WriteRaw(line); err != nil {
				slog.Debug("replay write failed", "line", i, "error", err)
				return
			}
		}
	})
}
