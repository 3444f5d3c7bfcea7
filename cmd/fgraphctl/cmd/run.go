package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gpac-go/fgraph/pkg/admin"
	"github.com/gpac-go/fgraph/pkg/filters/demo"
	"github.com/gpac-go/fgraph/pkg/fsession"
	"github.com/gpac-go/fgraph/pkg/scheduler"
)

func newRunCmd() *cobra.Command {
	var (
		count     int
		nbThreads int
		mode      string
		timeout   time.Duration
		adminAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "load a demo counter source connected to a stdout sink and run it to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMode(mode)
			if err != nil {
				return err
			}

			s := fsession.New(nbThreads, m, nil, fsession.Option{}, log.WithField("component", "fgraphctl"))
			if err := s.Registry.Register(demo.SinkRegistration(os.Stdout)); err != nil {
				return err
			}
			if err := s.Registry.Register(demo.SourceRegistration(count)); err != nil {
				return err
			}

			if adminAddr != "" {
				adminServer := admin.NewServer(adminAddr, s.MetricsRegistry(), false)
				mux := http.NewServeMux()
				mux.Handle("/", adminServer.Handler)
				mux.Handle("/tap", s.EventTapHandler())
				adminServer.Handler = mux
				go func() {
					if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.WithError(err).Warn("admin server stopped")
					}
				}()
				defer adminServer.Close()
			}

			if _, err := s.LoadFilter("counter", nil); err != nil {
				return fmt.Errorf("load counter: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := s.Run(ctx); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if err := s.GetLastConnectError(); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			return s.GetLastProcessError()
		},
	}

	cmd.Flags().IntVar(&count, "count", 5, "number of packets the demo source emits")
	cmd.Flags().IntVar(&nbThreads, "threads", 0, "scheduler worker count (0 runs inline under direct mode)")
	cmd.Flags().StringVar(&mode, "mode", "direct", "scheduler mode: direct, lockfree, lock, lockfreex, lockforce")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "maximum time to let the session run")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "", "serve /metrics and /tap on this address (disabled when empty)")
	return cmd
}

func parseMode(s string) (scheduler.Mode, error) {
	switch s {
	case "direct":
		return scheduler.Direct, nil
	case "lockfree":
		return scheduler.LockFree, nil
	case "lock":
		return scheduler.Lock, nil
	case "lockfreex":
		return scheduler.LockFreeX, nil
	case "lockforce":
		return scheduler.LockForce, nil
	default:
		return 0, fmt.Errorf("unknown scheduler mode %q", s)
	}
}
