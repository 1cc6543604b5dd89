package port

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Token is the opaque identity of a Port inside a provider registry
type Token string

// Port is a connectable unit tracked by a capability provider. A provider
// hands out the same *Port value on events and on GetPorts calls, so two
// references to the same port are always pointer-equal.
type Port struct {
	token     Token
	connected atomic.Bool
}

// NewPort returns a Port with the given token and initial connectivity state.
// Only capability providers should create ports.
func NewPort(token Token, connected bool) *Port {
	p := &Port{token: token}
	p.connected.Store(connected)
	return p
}

// Token returns the identity of this port
func (p *Port) Token() Token {
	return p.token
}

// Connected reports the current connectivity state of the port
func (p *Port) Connected() bool {
	return p.connected.Load()
}

// SetConnected swaps the connectivity state of the port and reports whether
// the value changed.
func (p *Port) SetConnected(connected bool) bool {
	return p.connected.CompareAndSwap(!connected, connected)
}

// String returns an string representation of the Port
func (p *Port) String() string {
	return fmt.Sprintf("Port{token: %s, connected: %t}", p.token, p.Connected())
}

// Kind is the category of an Event emitted by a capability provider
type Kind string

const (
	// Connect is emitted when a port becomes connected
	Connect Kind = "connect"
	// Disconnect is emitted when a port becomes disconnected
	Disconnect Kind = "disconnect"
)

// AllKinds lists every Kind a provider may emit, in a stable order
var AllKinds = []Kind{Connect, Disconnect}

// Valid returns true when the Kind is one a provider may emit
func (k Kind) Valid() bool {
	return k == Connect || k == Disconnect
}

// ParseKind returns the Kind for the given textual representation
func ParseKind(input string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(input)))
	if !k.Valid() {
		return "", &UnknownKindError{Kind: k}
	}
	return k, nil
}

// ParseKinds parses a comma separated list of kinds, ignoring empty entries
func ParseKinds(input string) ([]Kind, error) {
	var kinds []Kind
	for _, entry := range strings.Split(input, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		k, err := ParseKind(entry)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// KindFor returns the Kind that reports a transition into the given
// connectivity state
func KindFor(connected bool) Kind {
	if connected {
		return Connect
	}
	return Disconnect
}

// Event is a record emitted by a capability provider every time a port
// changes its connectivity state.
type Event struct {
	Kind    Kind
	Target  *Port
	Seq     uint64
	Created time.Time
}

// String returns an string representation for the Event
func (e Event) String() string {
	var buffer strings.Builder
	buffer.WriteString("Event{")
	buffer.WriteString(fmt.Sprintf("seq: %d", e.Seq))
	buffer.WriteString(fmt.Sprintf(", kind: %10s", e.Kind))
	if e.Target != nil {
		buffer.WriteString(fmt.Sprintf(", target: %s", e.Target.Token()))
	}
	buffer.WriteString("}")
	return buffer.String()
}

// Handler is a function that receives events from a Source
type Handler func(Event)

// Source is an observable target that emits events of a set of kinds.
type Source interface {
	// Subscribe registers the handler for every future event of the given
	// kind. The returned function removes the registration.
	Subscribe(kind Kind, handler Handler) (unsubscribe func())
}

// Provider is the capability surface consumed by watchers and clients:
// device enumeration plus connect/disconnect events.
type Provider interface {
	Source
	// GetPorts returns every known port in creation order, regardless of
	// its connectivity state.
	GetPorts(ctx context.Context) ([]*Port, error)
}

// Controller is a Provider that can also be driven from a test harness.
type Controller interface {
	Provider
	// AddPort registers a new port and returns its token
	AddPort(opts ...AddOpt) Token
	// GetPort returns the port with the given token, or a *NotFoundError
	GetPort(token Token) (*Port, error)
	// SetPortConnectedState changes the connectivity state of a known port
	SetPortConnectedState(token Token, connected bool) error
}

// Contains returns true if the given port is present (by identity) in the
// ports slice
func Contains(ports []*Port, p *Port) bool {
	for _, candidate := range ports {
		if candidate == p {
			return true
		}
	}
	return false
}
