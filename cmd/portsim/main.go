package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

var hostname string
var contentType = "application/json"

func main() {
	app := cli.NewApp()
	app.Name = "portsim"
	app.Usage = "simulated serial port registry with connect/disconnect events"
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "run the simulated registry behind an HTTP API",
			Action: serve,
			Flags: append(logFlags(),
				&cli.StringFlag{
					Name:    "addr",
					Value:   "0.0.0.0:4785",
					Usage:   "address the HTTP API listens to",
					EnvVars: []string{"PORTSIM_ADDR"},
				},
			),
		},
		{
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "list the ports of the registry",
			Action:  list,
		},
		{
			Name:   "add",
			Usage:  "add a port to the registry",
			Action: add,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "disconnected",
					Usage: "create the port in the disconnected state",
				},
			},
		},
		{
			Name:   "connect",
			Usage:  "connect a port",
			Action: setState(true),
			Flags:  []cli.Flag{tokenFlag()},
		},
		{
			Name:   "disconnect",
			Usage:  "disconnect a port",
			Action: setState(false),
			Flags:  []cli.Flag{tokenFlag()},
		},
		{
			Name:   "watch",
			Usage:  "wait for connect/disconnect events",
			Action: watch,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "kinds",
					Value: "connect,disconnect",
					Usage: "comma separated event kinds to wait for",
				},
				&cli.IntFlag{
					Name:  "count",
					Value: 1,
					Usage: "number of events to wait for (0 waits forever)",
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Value: 30 * time.Second,
					Usage: "maximum time to wait for each event",
				},
			},
		},
		{
			Name:   "run",
			Usage:  "run a scenario file against an in-process registry",
			Action: runScenario,
			Flags: append(logFlags(),
				&cli.StringFlag{
					Name:     "file",
					Aliases:  []string{"f"},
					Required: true,
					Usage:    "path of the YAML scenario",
				},
			),
		},
	}
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "host",
			Value:       "http://localhost:4785",
			Usage:       "portsim server to connect to",
			Destination: &hostname,
			EnvVars:     []string{"PORTSIM_URL"},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tokenFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "token",
		Required: true,
		Usage:    "token of the port",
	}
}

func errorf(m string, args ...interface{}) error {
	return cli.Exit(fmt.Sprintf(m, args...), 1)
}
