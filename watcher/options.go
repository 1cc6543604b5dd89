package watcher

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// watcherSettings contains settings of an EventWatcher instance
type watcherSettings struct {
	ll          logrus.FieldLogger
	waitTimeout time.Duration
}

// Opt allows clients to tweak the behavior of an EventWatcher instance
type Opt func(*watcherSettings)

// WithLogger sets the logger used to report queued and delivered events
func WithLogger(ll logrus.FieldLogger) Opt {
	return func(s *watcherSettings) {
		s.ll = ll
	}
}

// WithWaitTimeout sets a default budget for every WaitFor call. A zero value
// (the default) means a WaitFor call waits until its context is done.
func WithWaitTimeout(d time.Duration) Opt {
	return func(s *watcherSettings) {
		s.waitTimeout = d
	}
}

func defaultSettings() watcherSettings {
	ll := logrus.New()
	ll.Out = io.Discard
	return watcherSettings{ll: ll}
}
