// Package watcher bridges push-style port events into pull-style, sequential
// waits suitable for linear test scripts.
//
// An EventWatcher subscribes to a set of event kinds of a port.Source as soon
// as it is built, buffers every received event in arrival order, and hands
// them out one at a time through WaitFor.
//
// An EventWatcher supports one outstanding WaitFor call at a time; consumers
// that need to wait concurrently should build a watcher each.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/capatazlib/go-portwatch/port"
)

var (
	// ErrNoKinds is returned when a watcher is built without event kinds
	ErrNoKinds = errors.New("watcher needs at least one event kind")
	// ErrWaitInProgress is returned when WaitFor is called while another
	// WaitFor call on the same watcher is still pending
	ErrWaitInProgress = errors.New("another wait is in progress on this watcher")
	// ErrClosed is returned by WaitFor once the watcher is closed
	ErrClosed = errors.New("watcher is closed")
)

type kindSet map[port.Kind]struct{}

func newKindSet(kinds []port.Kind) kindSet {
	set := make(kindSet, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

func (ks kindSet) has(k port.Kind) bool {
	_, ok := ks[k]
	return ok
}

func (ks kindSet) String() string {
	acc := make([]string, 0, len(ks))
	for _, k := range port.AllKinds {
		if ks.has(k) {
			acc = append(acc, string(k))
		}
	}
	return strings.Join(acc, "|")
}

// waiter is the single parked WaitFor call of a watcher
type waiter struct {
	kinds kindSet
	evCh  chan port.Event
}

// EventWatcher buffers events from a port.Source and exposes them through
// WaitFor.
type EventWatcher struct {
	settings watcherSettings
	kinds    kindSet
	unsubs   []func()

	mu     sync.Mutex
	queue  []port.Event
	parked *waiter
	closed bool
	doneCh chan struct{}
}

// New builds an EventWatcher that observes the given kinds of the source.
// Listeners are registered before New returns; events emitted earlier are not
// observable.
func New(src port.Source, kinds []port.Kind, opts ...Opt) (*EventWatcher, error) {
	if len(kinds) == 0 {
		return nil, ErrNoKinds
	}
	for _, k := range kinds {
		if !k.Valid() {
			return nil, &port.UnknownKindError{Kind: k}
		}
	}

	settings := defaultSettings()
	for _, optFn := range opts {
		optFn(&settings)
	}

	w := &EventWatcher{
		settings: settings,
		kinds:    newKindSet(kinds),
		doneCh:   make(chan struct{}),
	}
	for k := range w.kinds {
		w.unsubs = append(w.unsubs, src.Subscribe(k, w.handle))
	}
	return w, nil
}

// Kinds returns the event kinds this watcher is subscribed to
func (w *EventWatcher) Kinds() []port.Kind {
	acc := make([]port.Kind, 0, len(w.kinds))
	for _, k := range port.AllKinds {
		if w.kinds.has(k) {
			acc = append(acc, k)
		}
	}
	return acc
}

// handle receives every event of the subscribed kinds. A parked waiter that
// matches the event gets it right away; otherwise the event is queued.
func (w *EventWatcher) handle(ev port.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if w.parked != nil && w.parked.kinds.has(ev.Kind) {
		// evCh is buffered with capacity 1 and the waiter slot is cleared right
		// away, so this send never blocks
		w.parked.evCh <- ev
		w.parked = nil
		w.logEvent(ev).Debug("event delivered to waiter")
		return
	}

	w.queue = append(w.queue, ev)
	w.logEvent(ev).Debug("event queued")
}

func (w *EventWatcher) logEvent(ev port.Event) logrus.FieldLogger {
	fields := logrus.Fields{
		"event.kind": string(ev.Kind),
		"event.seq":  ev.Seq,
	}
	if ev.Target != nil {
		fields["port.token"] = string(ev.Target.Token())
	}
	return w.settings.ll.WithFields(fields)
}

// takeLocked removes the oldest queued event whose kind is in the given set
func (w *EventWatcher) takeLocked(kinds kindSet) (port.Event, bool) {
	for i, ev := range w.queue {
		if kinds.has(ev.Kind) {
			w.queue = append(w.queue[:i], w.queue[i+1:]...)
			return ev, true
		}
	}
	return port.Event{}, false
}

func (w *EventWatcher) waitKinds(kinds []port.Kind) (kindSet, error) {
	if len(kinds) == 0 {
		return w.kinds, nil
	}
	for _, k := range kinds {
		if !w.kinds.has(k) {
			return nil, &port.UnknownKindError{Kind: k}
		}
	}
	return newKindSet(kinds), nil
}

// WaitFor returns the next event whose kind is one of the given kinds (any
// subscribed kind when none is given). A matching event that was already
// received is returned immediately; otherwise WaitFor blocks until one
// arrives, the context is done, the configured wait timeout expires or the
// watcher is closed. A returned event is never returned again.
//
// Asking for a kind the watcher is not subscribed to fails with a
// *port.UnknownKindError. While another WaitFor call is blocked, WaitFor
// fails with ErrWaitInProgress even if a matching event is queued.
func (w *EventWatcher) WaitFor(ctx context.Context, kinds ...port.Kind) (port.Event, error) {
	wantKinds, err := w.waitKinds(kinds)
	if err != nil {
		return port.Event{}, err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return port.Event{}, ErrClosed
	}
	if w.parked != nil {
		w.mu.Unlock()
		return port.Event{}, ErrWaitInProgress
	}
	if ev, ok := w.takeLocked(wantKinds); ok {
		w.mu.Unlock()
		return ev, nil
	}
	me := &waiter{kinds: wantKinds, evCh: make(chan port.Event, 1)}
	w.parked = me
	w.mu.Unlock()

	if w.settings.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.settings.waitTimeout)
		defer cancel()
	}

	select {
	case ev := <-me.evCh:
		return ev, nil
	case <-w.doneCh:
		return w.abandon(me, ErrClosed)
	case <-ctx.Done():
		return w.abandon(me, fmt.Errorf("waiting for %s event: %w", wantKinds, ctx.Err()))
	}
}

// abandon releases the waiter slot. If an event reached the waiter in the
// meantime, that event is returned instead of the given error.
func (w *EventWatcher) abandon(me *waiter, err error) (port.Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.parked == me {
		w.parked = nil
		return port.Event{}, err
	}
	select {
	case ev := <-me.evCh:
		return ev, nil
	default:
		return port.Event{}, err
	}
}

// Pending returns the events received but not yet claimed by WaitFor, in
// arrival order
func (w *EventWatcher) Pending() []port.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append(w.queue[:0:0], w.queue...)
}

// Close removes the watcher listeners from the source and releases a pending
// WaitFor call with ErrClosed. Calling Close more than once is a no-op.
func (w *EventWatcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.doneCh)
	w.mu.Unlock()

	for _, unsub := range w.unsubs {
		unsub()
	}
}
