package porttest

import (
	"sync"

	"github.com/capatazlib/go-portwatch/port"
)

// Recorder collects every event a port.Source emits and allows to block a
// goroutine until particular events happen. Unlike an EventWatcher, events are
// never consumed: many iterators may walk the same recorded stream.
type Recorder struct {
	unsubs []func()

	evBufferCond *sync.Cond
	evBuffer     []port.Event
	evDone       bool
}

// EventIterator represents a single iteration over the list of events that have
// been collected by the Recorder that created it.
type EventIterator struct {
	evIx     int
	recorder *Recorder
}

////////////////////////////////////////////////////////////////////////////////

// NewRecorder subscribes to all event kinds of the given source
func NewRecorder(src port.Source) *Recorder {
	var evBufferMux sync.Mutex
	r := &Recorder{
		evBufferCond: sync.NewCond(&evBufferMux),
		evBuffer:     make([]port.Event, 0, 100),
	}
	for _, k := range port.AllKinds {
		r.unsubs = append(r.unsubs, src.Subscribe(k, r.storeEvent))
	}
	return r
}

func (r *Recorder) storeEvent(ev port.Event) {
	r.evBufferCond.L.Lock()
	defer r.evBufferCond.L.Unlock()
	if r.evDone {
		return
	}
	r.evBuffer = append(r.evBuffer, ev)
	r.evBufferCond.Broadcast()
}

// Snapshot returns all the events that this Recorder has collected so far
func (r *Recorder) Snapshot() []port.Event {
	r.evBufferCond.L.Lock()
	defer r.evBufferCond.L.Unlock()
	return append(r.evBuffer[:0:0], r.evBuffer...)
}

// Close stops recording; iterators blocked waiting for new events are
// released.
func (r *Recorder) Close() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.evBufferCond.L.Lock()
	defer r.evBufferCond.L.Unlock()
	r.evDone = true
	r.evBufferCond.Broadcast()
}

// GetEventIx returns the nth recorded event, if the given index is greater
// than the buffer length, this function will wait until that index is reached.
// If the recorder is closed before, the second return value will be false.
func (r *Recorder) GetEventIx(evIx int) (port.Event, bool) {
	r.evBufferCond.L.Lock()
	defer r.evBufferCond.L.Unlock()

	for evIx >= len(r.evBuffer) && !r.evDone {
		r.evBufferCond.Wait()
	}
	if evIx >= len(r.evBuffer) {
		return port.Event{}, false
	}
	return r.evBuffer[evIx], true
}

// Iterator returns an iterator over the collected events. This iterator
// will block waiting for new events
func (r *Recorder) Iterator() *EventIterator {
	return &EventIterator{evIx: 0, recorder: r}
}

// foldl will do a functional fold left (reduce) over the recorded events and
// block when waiting for new events to happen.
func foldl[ACC any](
	ei *EventIterator,
	zero ACC,
	stepFn func(ACC, port.Event) (bool, ACC),
) ACC {
	var shouldContinue bool
	acc := zero

	for {
		ev, ok := ei.recorder.GetEventIx(ei.evIx)
		if !ok {
			// we will never reach that index, stop here
			break
		}
		shouldContinue, acc = stepFn(acc, ev)

		ei.evIx++

		if !shouldContinue {
			break
		}
	}

	return acc
}

// WaitTill blocks until a recorded event returns true for the given
// predicate. It returns false if the recorder got closed before.
func (ei *EventIterator) WaitTill(pred EventP) bool {
	return foldl(ei, false, func(_ bool, ev port.Event) (bool, bool) {
		if pred.Call(ev) {
			return false, true
		}
		return true, false
	})
}

// TakeTill takes all the events that have been collected since the current
// index until the given predicate returns true
func (ei *EventIterator) TakeTill(pred EventP) []port.Event {
	zero := make([]port.Event, 0, 10)
	return foldl(ei, zero, func(acc []port.Event, ev port.Event) (bool, []port.Event) {
		if pred.Call(ev) {
			return false, acc
		}
		acc = append(acc, ev)
		return true, acc
	})
}
