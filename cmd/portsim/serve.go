package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/capatazlib/go-capataz/cap"

	"github.com/capatazlib/go-portwatch/fake"
	"github.com/capatazlib/go-portwatch/metrics"
	"github.com/capatazlib/go-portwatch/server"
)

// serve runs the following supervision tree:
//
//	portsim
//	|
//	` provider (dispatch loop of the simulated registry)
//	|
//	` http
//	  |
//	  ` server (goroutine that runs http.ListenAndServe)
//	  |
//	  ` server-shutdown (goroutine that calls http.Shutdown on termination)
func serve(c *cli.Context) error {
	log, err := newLogger(c)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m, err := metrics.New(reg)
	if err != nil {
		return errorf("could not register metrics: %s", err)
	}

	provider := fake.New(
		fake.WithLogger(log.WithField("component", "provider")),
		fake.WithMetrics(m),
	)
	srv := server.NewServer(log.WithField("component", "http"), provider, server.WithGatherer(reg))

	httpNode, err := srv.NewHTTPNode(&http.Server{
		Addr:              c.String("addr"),
		ReadHeaderTimeout: 5 * time.Second,
	})
	if err != nil {
		return errorf("could not build http server: %s", err)
	}

	app := cap.NewSupervisorSpec(
		"portsim",
		cap.WithNodes(
			cap.NewWorker("provider", provider.Run),
			httpNode,
		),
		cap.WithNotifier(newLogEventNotifier(log)),
		cap.WithRestartTolerance(5, 10*time.Second),
	)

	sup, err := app.Start(context.Background())
	if err != nil {
		return errorf("could not start portsim:\n%s", cap.ExplainError(err))
	}
	log.WithField("addr", c.String("addr")).Info("portsim serving")

	crashCh := make(chan error, 1)
	go func() {
		crashCh <- sup.Wait()
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-done:
		log.WithField("signal", sig.String()).Info("stopping portsim")
		if err := sup.Terminate(); err != nil {
			return errorf("portsim did not stop cleanly:\n%s", cap.ExplainError(err))
		}
		return nil
	case err := <-crashCh:
		if err != nil {
			return errorf("portsim crashed:\n%s", cap.ExplainError(err))
		}
		return nil
	}
}
