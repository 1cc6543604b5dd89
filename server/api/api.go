package api

import "time"

// Error represents an API error
type Error struct {
	Error string `json:"error"`
}

// Port represents a port of the simulated registry
type Port struct {
	Token     string `json:"token"`
	Connected bool   `json:"connected"`
}

// Ports represents a list of ports, in creation order
type Ports struct {
	Ports []Port `json:"ports"`
}

// AddPort is the body of a port creation request. A missing Connected field
// creates a connected port.
type AddPort struct {
	Connected *bool `json:"connected,omitempty"`
}

// ConnectedState is the body of a connectivity change request
type ConnectedState struct {
	Connected bool `json:"connected"`
}

// NewWatcher is the body of a watcher creation request
type NewWatcher struct {
	Kinds []string `json:"kinds"`
}

// Watcher represents a watcher created on the server
type Watcher struct {
	ID    string   `json:"id"`
	Kinds []string `json:"kinds"`
}

// Event represents a connect/disconnect event delivered to a watcher
type Event struct {
	Kind    string    `json:"kind"`
	Seq     uint64    `json:"seq"`
	Target  Port      `json:"target"`
	Created time.Time `json:"created"`
}
