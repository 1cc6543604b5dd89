package fake

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/capatazlib/go-portwatch/metrics"
	"github.com/capatazlib/go-portwatch/port"
)

// providerSettings contains settings and collaborators of a Provider instance
type providerSettings struct {
	ll       logrus.FieldLogger
	metrics  *metrics.Metrics
	clock    func() time.Time
	newToken func() port.Token
}

// Opt allows clients to tweak the behavior of a Provider instance
type Opt func(*providerSettings)

// WithLogger sets the logger used to report registry changes and event
// dispatching (defaults to a discarding logger).
func WithLogger(ll logrus.FieldLogger) Opt {
	return func(s *providerSettings) {
		s.ll = ll
	}
}

// WithMetrics sets the Prometheus instruments updated by the provider
func WithMetrics(m *metrics.Metrics) Opt {
	return func(s *providerSettings) {
		s.metrics = m
	}
}

// WithClock sets the function used to timestamp events (defaults to
// time.Now).
func WithClock(clock func() time.Time) Opt {
	return func(s *providerSettings) {
		s.clock = clock
	}
}

// WithTokenGenerator sets the function used to mint port tokens (defaults to
// random UUIDs). Generated tokens must be unique.
func WithTokenGenerator(gen func() port.Token) Opt {
	return func(s *providerSettings) {
		s.newToken = gen
	}
}

func discardLogger() logrus.FieldLogger {
	ll := logrus.New()
	ll.Out = io.Discard
	return ll
}

func defaultSettings() providerSettings {
	return providerSettings{
		ll:    discardLogger(),
		clock: time.Now,
		newToken: func() port.Token {
			return port.Token(uuid.NewString())
		},
	}
}
