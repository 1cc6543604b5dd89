package watcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capatazlib/go-portwatch/port"
	. "github.com/capatazlib/go-portwatch/porttest"
	"github.com/capatazlib/go-portwatch/watcher"
)

// syncSource is a port.Source that calls handlers on the emitting goroutine,
// it allows to control exactly when events reach the watcher
type syncSource struct {
	mu       sync.Mutex
	handlers map[port.Kind][]port.Handler
	seq      uint64
}

func newSyncSource() *syncSource {
	return &syncSource{handlers: make(map[port.Kind][]port.Handler)}
}

func (s *syncSource) Subscribe(kind port.Kind, h port.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = append(s.handlers[kind], h)
	ix := len(s.handlers[kind]) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.handlers[kind][ix] = nil
	}
}

func (s *syncSource) emit(kind port.Kind, target *port.Port) port.Event {
	s.mu.Lock()
	s.seq++
	ev := port.Event{Kind: kind, Target: target, Seq: s.seq}
	hs := append([]port.Handler(nil), s.handlers[kind]...)
	s.mu.Unlock()
	for _, h := range hs {
		if h != nil {
			h(ev)
		}
	}
	return ev
}

func TestNewRequiresKinds(t *testing.T) {
	_, err := watcher.New(newSyncSource(), nil)
	assert.True(t, errors.Is(err, watcher.ErrNoKinds))

	_, err = watcher.New(newSyncSource(), []port.Kind{"open"})
	assert.True(t, errors.Is(err, &port.UnknownKindError{}))
}

func TestEventsBeforeConstructionAreNotObservable(t *testing.T) {
	src := newSyncSource()
	src.emit(port.Connect, port.NewPort("early", true))

	w := NewWatcher(t, src, port.Connect)
	assert.Empty(t, w.Pending())
	AssertNoEvent(t, w, 20*time.Millisecond, port.Connect)
}

func TestWaitForReturnsQueuedEventsInOrder(t *testing.T) {
	src := newSyncSource()
	w := NewWatcher(t, src, port.Connect, port.Disconnect)

	p1 := port.NewPort("p1", true)
	p2 := port.NewPort("p2", true)
	src.emit(port.Connect, p1)
	src.emit(port.Disconnect, p1)
	src.emit(port.Connect, p2)

	ev := WaitEvent(t, w, port.Connect)
	assert.Same(t, p1, ev.Target)
	ev = WaitEvent(t, w, port.Connect)
	assert.Same(t, p2, ev.Target)

	// the disconnect event stays queued until somebody asks for it
	require.Len(t, w.Pending(), 1)
	ev = WaitEvent(t, w, port.Disconnect)
	assert.Equal(t, port.Disconnect, ev.Kind)
	assert.Empty(t, w.Pending())
}

func TestWaitForWithoutKindsMatchesAnySubscribedKind(t *testing.T) {
	src := newSyncSource()
	w := NewWatcher(t, src, port.Connect, port.Disconnect)

	src.emit(port.Disconnect, port.NewPort("p1", false))
	src.emit(port.Connect, port.NewPort("p2", true))

	assert.Equal(t, port.Disconnect, WaitEvent(t, w).Kind)
	assert.Equal(t, port.Connect, WaitEvent(t, w).Kind)
}

func TestDeliveredEventIsNotObservedTwice(t *testing.T) {
	src := newSyncSource()
	w := NewWatcher(t, src, port.Connect)

	src.emit(port.Connect, port.NewPort("p1", true))
	_ = WaitEvent(t, w, port.Connect)
	AssertNoEvent(t, w, 20*time.Millisecond, port.Connect)
}

func TestWaitForUnsubscribedKindFailsFast(t *testing.T) {
	w := NewWatcher(t, newSyncSource(), port.Connect)
	_, err := w.WaitFor(context.Background(), port.Disconnect)

	var kindErr *port.UnknownKindError
	require.True(t, errors.As(err, &kindErr))
	assert.Equal(t, port.Disconnect, kindErr.Kind)
}

func TestWaitForBlocksUntilMatchingEvent(t *testing.T) {
	src := newSyncSource()
	w := NewWatcher(t, src, port.Connect, port.Disconnect)

	resultCh := make(chan port.Event, 1)
	go func() {
		ev, err := w.WaitFor(context.Background(), port.Connect)
		if err == nil {
			resultCh <- ev
		}
		close(resultCh)
	}()

	// a non-matching event does not resolve the wait
	src.emit(port.Disconnect, port.NewPort("p0", false))
	select {
	case ev := <-resultCh:
		t.Fatalf("wait resolved early with %s", ev)
	case <-time.After(30 * time.Millisecond):
	}

	// the parked waiter may not have been registered yet when the disconnect
	// was emitted, either way the connect event must reach it
	target := port.NewPort("p1", true)
	src.emit(port.Connect, target)

	select {
	case ev, ok := <-resultCh:
		require.True(t, ok, "wait failed")
		assert.Same(t, target, ev.Target)
	case <-time.After(DefaultWaitBudget):
		t.Fatal("wait did not resolve")
	}
	require.Len(t, w.Pending(), 1)
	assert.Equal(t, port.Disconnect, w.Pending()[0].Kind)
}

func TestOverlappingWaitIsRejected(t *testing.T) {
	src := newSyncSource()
	w := NewWatcher(t, src, port.Connect)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := w.WaitFor(ctx, port.Connect)
		errCh <- err
	}()

	// give the first wait time to park
	time.Sleep(20 * time.Millisecond)
	_, err := w.WaitFor(context.Background(), port.Connect)
	assert.True(t, errors.Is(err, watcher.ErrWaitInProgress))

	cancel()
	assert.True(t, errors.Is(<-errCh, context.Canceled))
}

func TestOverlappingWaitIsRejectedWithQueuedMatch(t *testing.T) {
	src := newSyncSource()
	w := NewWatcher(t, src, port.Connect, port.Disconnect)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := w.WaitFor(ctx, port.Disconnect)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	src.emit(port.Connect, port.NewPort("p1", true))
	require.Len(t, w.Pending(), 1)

	_, err := w.WaitFor(context.Background(), port.Connect)
	assert.True(t, errors.Is(err, watcher.ErrWaitInProgress))
	assert.Len(t, w.Pending(), 1)

	cancel()
	assert.True(t, errors.Is(<-errCh, context.Canceled))

	// once the slot is free the queued event is served
	ev, err := w.WaitFor(context.Background(), port.Connect)
	require.NoError(t, err)
	assert.Equal(t, port.Token("p1"), ev.Target.Token())
}

func TestWaitTimeoutOption(t *testing.T) {
	src := newSyncSource()
	w, err := watcher.New(src, []port.Kind{port.Connect}, watcher.WithWaitTimeout(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	_, err = w.WaitFor(context.Background(), port.Connect)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// a timed out wait releases the slot for the next call
	src.emit(port.Connect, port.NewPort("p1", true))
	ev, err := w.WaitFor(context.Background(), port.Connect)
	require.NoError(t, err)
	assert.Equal(t, port.Token("p1"), ev.Target.Token())
}

func TestCloseReleasesPendingWait(t *testing.T) {
	src := newSyncSource()
	w, err := watcher.New(src, []port.Kind{port.Connect})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := w.WaitFor(context.Background(), port.Connect)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	w.Close()
	w.Close()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, watcher.ErrClosed))
	case <-time.After(DefaultWaitBudget):
		t.Fatal("close did not release the pending wait")
	}

	// events after close are dropped
	src.emit(port.Connect, port.NewPort("p1", true))
	assert.Empty(t, w.Pending())
	_, err = w.WaitFor(context.Background(), port.Connect)
	assert.True(t, errors.Is(err, watcher.ErrClosed))
}

func TestKindsAreReportedInStableOrder(t *testing.T) {
	w := NewWatcher(t, newSyncSource(), port.Disconnect, port.Connect)
	assert.Equal(t, []port.Kind{port.Connect, port.Disconnect}, w.Kinds())
}
