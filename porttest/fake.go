// Package porttest contains utilities to assert the event stream of a
// capability provider in tests.
package porttest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capatazlib/go-portwatch/fake"
	"github.com/capatazlib/go-portwatch/port"
	"github.com/capatazlib/go-portwatch/watcher"
)

// DefaultWaitBudget is the time WaitEvent gives a provider to emit an event
const DefaultWaitBudget = 2 * time.Second

// StartFake builds a fake provider and runs its dispatch loop until the test
// finishes
func StartFake(t testing.TB, opts ...fake.Opt) *fake.Provider {
	t.Helper()
	provider := fake.New(opts...)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = provider.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return provider
}

// NewWatcher builds an EventWatcher over the given source and closes it when
// the test finishes
func NewWatcher(t testing.TB, src port.Source, kinds ...port.Kind) *watcher.EventWatcher {
	t.Helper()
	w, err := watcher.New(src, kinds)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

// WaitEvent waits for the next event of the given kinds, failing the test if
// it does not arrive within DefaultWaitBudget
func WaitEvent(t testing.TB, w *watcher.EventWatcher, kinds ...port.Kind) port.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultWaitBudget)
	defer cancel()
	ev, err := w.WaitFor(ctx, kinds...)
	require.NoError(t, err)
	return ev
}
