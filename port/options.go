package port

// AddSettings holds the values used by a provider to create a new port
type AddSettings struct {
	Connected bool
}

// AddOpt allows clients to tweak how AddPort creates a port
type AddOpt func(*AddSettings)

// Disconnected creates the port in the disconnected state; no event is
// emitted at creation time.
func Disconnected() AddOpt {
	return func(s *AddSettings) {
		s.Connected = false
	}
}

// WithConnected sets the initial connectivity state of the port (defaults to
// true)
func WithConnected(connected bool) AddOpt {
	return func(s *AddSettings) {
		s.Connected = connected
	}
}

// BuildAddSettings applies the given options over the default settings
func BuildAddSettings(opts ...AddOpt) AddSettings {
	s := AddSettings{Connected: true}
	for _, optFn := range opts {
		optFn(&s)
	}
	return s
}
