package main

import (
	"context"
	"os"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/capatazlib/go-portwatch/fake"
	"github.com/capatazlib/go-portwatch/scenario"
)

func runScenario(c *cli.Context) error {
	log, err := newLogger(c)
	if err != nil {
		return err
	}

	sc, err := scenario.LoadFile(c.String("file"))
	if err != nil {
		return errorf("%s", err)
	}

	ctx, cancel := context.WithCancel(c.Context)

	provider := fake.New(fake.WithLogger(log.WithField("component", "provider")))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = provider.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	report, err := scenario.Run(ctx, sc, provider, scenario.WithLogger(log))
	if report != nil {
		_, _ = report.WriteTo(os.Stdout)
	}
	if err != nil {
		// step failures are already logged by the runner
		return errorf("scenario %q failed: %s", sc.Name, err)
	}
	return nil
}
