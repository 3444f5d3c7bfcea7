// Command fgraphd runs one long-lived filter session behind an admin
// server, the Go analogue of the teacher's controller daemons
// (controller/cmd/destination/main.go): a flag.FlagSet parsed by
// internal/fsflags, an admin server serving /metrics and /tap, and a
// session run to completion or until a termination signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/gpac-go/fgraph/internal/fsflags"
	"github.com/gpac-go/fgraph/pkg/admin"
	"github.com/gpac-go/fgraph/pkg/filters/demo"
	"github.com/gpac-go/fgraph/pkg/fsession"
	"github.com/gpac-go/fgraph/pkg/scheduler"
)

func main() {
	cmd := flag.NewFlagSet("fgraphd", flag.ExitOnError)

	adminAddr := cmd.String("admin-addr", ":9996", "address to serve /metrics and /tap on")
	count := cmd.Int("count", 0, "number of packets the demo source emits before EOS (0 runs forever)")
	nbThreads := cmd.Int("threads", 4, "scheduler worker count")

	fsflags.ConfigureAndParse(cmd, os.Args[1:])

	s := fsession.New(*nbThreads, scheduler.Lock, nil, fsession.Option{}, log.WithField("component", "fgraphd"))
	if err := s.Registry.Register(demo.SinkRegistration(os.Stdout)); err != nil {
		log.Fatalf("registering sink: %s", err)
	}
	if err := s.Registry.Register(demo.SourceRegistration(*count)); err != nil {
		log.Fatalf("registering source: %s", err)
	}

	adminServer := admin.NewServer(*adminAddr, s.MetricsRegistry(), false)
	mux := http.NewServeMux()
	mux.Handle("/", adminServer.Handler)
	mux.Handle("/tap", s.EventTapHandler())
	adminServer.Handler = mux

	go func() {
		log.Infof("starting admin server on %s", *adminAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server error (%s): %s", *adminAddr, err)
		}
	}()

	if _, err := s.LoadFilter("counter", nil); err != nil {
		log.Fatalf("loading counter filter: %s", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-stop
		s.Stop()
		cancel()
	}()

	if err := s.Run(ctx); err != nil {
		log.Errorf("session run ended with error: %s", err)
	}
	s.Shutdown()
	if err := adminServer.Close(); err != nil {
		log.Warnf("admin server close: %s", err)
	}
}
