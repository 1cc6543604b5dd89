package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/capatazlib/go-capataz/cap"
)

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "one of panic, fatal, error, warn, info, debug, trace",
			EnvVars: []string{"PORTSIM_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "one of text, json",
			EnvVars: []string{"PORTSIM_LOG_FORMAT"},
		},
	}
}

func newLogger(c *cli.Context) (*logrus.Logger, error) {
	log := logrus.New()
	log.Out = os.Stderr

	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, errorf("invalid log level: %s", err)
	}
	log.Level = level

	switch c.String("log-format") {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, errorf("invalid log format: %q", c.String("log-format"))
	}
	return log, nil
}

// newLogEventNotifier reports every supervision event of the serve tree
func newLogEventNotifier(log logrus.FieldLogger) cap.EventNotifier {
	return func(ev cap.Event) {
		ll := log.WithFields(logrus.Fields{
			"process_runtime_name": ev.GetProcessRuntimeName(),
			"created_at":           ev.GetCreated(),
		})
		if ev.Err() != nil {
			ll.WithError(ev.Err()).Error(ev.GetTag().String())
			return
		}
		ll.Debug(ev.GetTag().String())
	}
}
