// Package fake offers an in-memory capability provider that simulates a
// device registry. Tests drive it through AddPort and SetPortConnectedState
// and observe the connect/disconnect events it emits asynchronously.
package fake

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/capatazlib/go-portwatch/port"
)

// listener is a single subscription to an event kind
type listener struct {
	id      uint64
	handler port.Handler
}

// delivery is an emitted event together with the listeners subscribed to its
// kind at emission time
type delivery struct {
	ev        port.Event
	listeners []listener
}

var _ port.Controller = (*Provider)(nil)

// Provider is an in-memory port registry that implements port.Controller.
//
// Registry mutations happen synchronously on AddPort and
// SetPortConnectedState; the resulting events are queued and delivered in
// emission order by the dispatch loop started with Run.
type Provider struct {
	settings providerSettings

	mu        sync.Mutex
	ports     []*port.Port
	index     map[port.Token]*port.Port
	listeners map[port.Kind][]listener
	lastID    uint64
	seq       uint64

	// pending events waiting for the dispatch loop
	queueMu  sync.Mutex
	queue    []delivery
	notifyCh chan struct{}
}

// New returns a Provider with an empty registry. Events are not delivered
// until Run is called.
func New(opts ...Opt) *Provider {
	settings := defaultSettings()
	for _, optFn := range opts {
		optFn(&settings)
	}
	return &Provider{
		settings:  settings,
		index:     make(map[port.Token]*port.Port),
		listeners: make(map[port.Kind][]listener),
		notifyCh:  make(chan struct{}, 1),
	}
}

// AddPort registers a new port with a fresh token. Ports are connected by
// default; a connect event is emitted only when the port starts connected.
func (p *Provider) AddPort(opts ...port.AddOpt) port.Token {
	addSettings := port.BuildAddSettings(opts...)

	p.mu.Lock()
	defer p.mu.Unlock()

	token := p.settings.newToken()
	newPort := port.NewPort(token, addSettings.Connected)
	p.ports = append(p.ports, newPort)
	p.index[token] = newPort
	p.settings.metrics.PortAdded(addSettings.Connected)

	p.settings.ll.WithFields(logrus.Fields{
		"port.token":     string(token),
		"port.connected": addSettings.Connected,
	}).Debug("port added")

	if addSettings.Connected {
		p.emitLocked(port.Connect, newPort)
	}
	return token
}

// SetPortConnectedState updates the connectivity state of the port with the
// given token. When the state does not change this is a no-op and no event is
// emitted. An unknown token fails with a *port.NotFoundError.
func (p *Provider) SetPortConnectedState(token port.Token, connected bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	target, ok := p.index[token]
	if !ok {
		err := &port.NotFoundError{Token: token}
		p.settings.ll.WithFields(err.KVs()).Warn("set connected state on unknown port")
		return err
	}

	if !target.SetConnected(connected) {
		return nil
	}
	p.settings.metrics.PortChanged(connected)

	p.settings.ll.WithFields(logrus.Fields{
		"port.token":     string(token),
		"port.connected": connected,
	}).Debug("port state changed")

	p.emitLocked(port.KindFor(connected), target)
	return nil
}

// GetPort returns the port registered with the given token
func (p *Provider) GetPort(token port.Token) (*port.Port, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.index[token]
	if !ok {
		return nil, &port.NotFoundError{Token: token}
	}
	return target, nil
}

// GetPorts returns every port of the registry in creation order
func (p *Provider) GetPorts(_ context.Context) ([]*port.Port, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append(p.ports[:0:0], p.ports...), nil
}

// Subscribe registers a handler for every event of the given kind emitted
// after Subscribe returns. The handler is called from the dispatch goroutine,
// one event at a time.
func (p *Provider) Subscribe(kind port.Kind, handler port.Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastID++
	id := p.lastID
	p.listeners[kind] = append(p.listeners[kind], listener{id: id, handler: handler})
	p.settings.metrics.ListenerAdded(kind)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.unsubscribe(kind, id)
		})
	}
}

func (p *Provider) unsubscribe(kind port.Kind, id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ls := p.listeners[kind]
	for i, l := range ls {
		if l.id == id {
			// copy instead of in-place removal: the dispatch loop may be iterating
			// over a previous snapshot of this slice
			remaining := make([]listener, 0, len(ls)-1)
			remaining = append(remaining, ls[:i]...)
			remaining = append(remaining, ls[i+1:]...)
			p.listeners[kind] = remaining
			p.settings.metrics.ListenerRemoved(kind)
			return
		}
	}
}

// emitLocked builds the next event and queues it for dispatching together
// with the current listeners of its kind. It must be called with p.mu held so
// sequence numbers follow registry mutation order and later subscribers never
// see the event.
func (p *Provider) emitLocked(kind port.Kind, target *port.Port) {
	p.seq++
	ev := port.Event{
		Kind:    kind,
		Target:  target,
		Seq:     p.seq,
		Created: p.settings.clock(),
	}
	p.settings.metrics.EventEmitted(kind)

	p.queueMu.Lock()
	p.queue = append(p.queue, delivery{ev: ev, listeners: p.listeners[kind]})
	p.queueMu.Unlock()

	select {
	case p.notifyCh <- struct{}{}:
	default:
	}
}

// takeQueued removes and returns every event waiting for dispatch
func (p *Provider) takeQueued() []delivery {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	ds := p.queue
	p.queue = nil
	return ds
}

func (p *Provider) dispatch(d delivery) {
	for _, l := range d.listeners {
		l.handler(d.ev)
	}
}

// Run executes the dispatch loop until the given context is done. Only one
// Run call may be active at a time.
func (p *Provider) Run(ctx context.Context) error {
	p.settings.ll.Debug("provider dispatch loop started")
	defer p.settings.ll.Debug("provider dispatch loop stopped")
	for {
		for _, d := range p.takeQueued() {
			p.dispatch(d)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.notifyCh:
		}
	}
}
