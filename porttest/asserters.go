package porttest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/capatazlib/go-portwatch/port"
	"github.com/capatazlib/go-portwatch/watcher"
)

func renderEvents(evs []port.Event) string {
	var builder strings.Builder
	for i, ev := range evs {
		builder.WriteString(fmt.Sprintf("  %3d: %s\n", i, ev.String()))
	}
	return builder.String()
}

// verifyExactMatch checks that every provider event matches the predicate at
// the same position, and that there are as many events as predicates.
func verifyExactMatch(preds []EventP, given []port.Event) error {
	if len(preds) != len(given) {
		return fmt.Errorf(
			"expecting %d port event(s), observed %d:\nevents:\n%s",
			len(preds),
			len(given),
			renderEvents(given),
		)
	}
	for i, pred := range preds {
		if !pred.Call(given[i]) {
			return fmt.Errorf(
				"port event %d does not match:\nwant: %s\ngot: %s\nevents:\n%s",
				i,
				pred.String(),
				given[i].String(),
				renderEvents(given),
			)
		}
	}
	return nil
}

// AssertExactMatch asserts that the observed port events match the
// predicates one to one.
func AssertExactMatch(t testing.TB, evs []port.Event, preds []EventP) {
	t.Helper()
	if err := verifyExactMatch(preds, evs); err != nil {
		t.Error(err)
	}
}

// verifyPartialMatch matches (in order) a list of EventP predicates to a list
// of provider events, skipping events in between matches. It fails with the
// predicates left unmatched once the events run out.
func verifyPartialMatch(preds []EventP, given []port.Event) error {
	pending := preds
	var lastMatch *port.Event
	for i := 0; len(pending) > 0 && i < len(given); i++ {
		if pending[0].Call(given[i]) {
			lastMatch = &given[i]
			pending = pending[1:]
		}
	}
	if len(pending) == 0 {
		return nil
	}

	after := "before any port event matched"
	if lastMatch != nil {
		after = fmt.Sprintf("after event #%d (%s)", lastMatch.Seq, lastMatch.Kind)
	}
	pendingStrs := make([]string, 0, len(pending))
	for _, pred := range pending {
		pendingStrs = append(pendingStrs, "  "+pred.String())
	}
	return fmt.Errorf(
		"%d of %d expected port event(s) not observed %s:\n%s\nevents:\n%s",
		len(pending),
		len(preds),
		after,
		strings.Join(pendingStrs, "\n"),
		renderEvents(given),
	)
}

// AssertPartialMatch is an assertion that matches in order a list of EventP
// predicates to a list of provider events. Unrelated events may appear
// between the matched ones.
func AssertPartialMatch(t testing.TB, evs []port.Event, preds []EventP) {
	t.Helper()
	if err := verifyPartialMatch(preds, evs); err != nil {
		t.Error(err)
	}
}

// AssertNoEvent asserts that a WaitFor call for the given kinds stays
// unresolved during the whole window. Nothing is consumed from the watcher
// when the assertion holds.
func AssertNoEvent(t testing.TB, w *watcher.EventWatcher, within time.Duration, kinds ...port.Kind) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()

	ev, err := w.WaitFor(ctx, kinds...)
	if err == nil {
		t.Errorf("expecting no event within %s, but got %s", within, ev.String())
		return
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expecting wait to time out, but failed with: %v", err)
	}
}
