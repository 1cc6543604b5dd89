package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/capatazlib/go-portwatch/port"
	"github.com/capatazlib/go-portwatch/watcher"
)

// ErrAssertion is wrapped by every error reported when the provider does not
// behave as a step expects
var ErrAssertion = errors.New("assertion failed")

func assertionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAssertion, fmt.Sprintf(format, args...))
}

// StepError is the error returned by Run when a step fails
type StepError struct {
	Index int
	Op    string
	Err   error
}

func (err *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", err.Index, err.Op, err.Err)
}

// Unwrap returns the error that made the step fail
func (err *StepError) Unwrap() error {
	return err.Err
}

// KVs returns a metadata map for structured logging
func (err *StepError) KVs() map[string]interface{} {
	kvs := map[string]interface{}{
		"step.index": err.Index,
		"step.op":    err.Op,
	}
	var errKVs port.ErrKVs
	if errors.As(err.Err, &errKVs) {
		for k, v := range errKVs.KVs() {
			kvs[k] = v
		}
	}
	return kvs
}

// StepResult records the outcome of an executed step
type StepResult struct {
	Index    int
	Op       string
	Duration time.Duration
	// Event is the event observed by an expect step, or the unexpected event
	// that broke a quiet step
	Event *port.Event
	// Err is set when the step failed
	Err error
}

// Report lists the steps executed by Run
type Report struct {
	Name  string
	Steps []StepResult
}

// WriteTo renders the report in a human readable form
func (r *Report) WriteTo(out io.Writer) (int64, error) {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("scenario %q: %d step(s)\n", r.Name, len(r.Steps)))
	for _, step := range r.Steps {
		builder.WriteString(fmt.Sprintf("  %3d: %-7s %10s", step.Index, step.Op, step.Duration.Round(time.Microsecond)))
		if step.Event != nil {
			builder.WriteString(" ")
			builder.WriteString(step.Event.String())
		}
		if step.Err != nil {
			builder.WriteString(" FAILED: ")
			builder.WriteString(step.Err.Error())
		}
		builder.WriteString("\n")
	}
	n, err := io.WriteString(out, builder.String())
	return int64(n), err
}

type runSettings struct {
	ll logrus.FieldLogger
}

// RunOpt allows clients to tweak the execution of a scenario
type RunOpt func(*runSettings)

// WithLogger sets the logger used to report every executed step
func WithLogger(ll logrus.FieldLogger) RunOpt {
	return func(s *runSettings) {
		s.ll = ll
	}
}

// runner holds the state of a single scenario execution
type runner struct {
	sc      *Scenario
	ctrl    port.Controller
	w       *watcher.EventWatcher
	aliases map[string]port.Token
}

// Run executes the steps of the scenario in order against the given
// controller. The scenario watcher is built before the first step, so every
// event emitted by the steps is observable. Run stops at the first failing
// step and returns a *StepError together with the partial report, whose last
// entry is the failing step.
func Run(ctx context.Context, sc *Scenario, ctrl port.Controller, opts ...RunOpt) (*Report, error) {
	discard := logrus.New()
	discard.Out = io.Discard
	settings := runSettings{ll: discard}
	for _, optFn := range opts {
		optFn(&settings)
	}
	if err := sc.Normalize(); err != nil {
		return nil, err
	}

	w, err := watcher.New(ctrl, sc.Watch, watcher.WithLogger(settings.ll))
	if err != nil {
		return nil, err
	}
	defer w.Close()

	r := &runner{
		sc:      sc,
		ctrl:    ctrl,
		w:       w,
		aliases: make(map[string]port.Token),
	}
	report := &Report{Name: sc.Name}
	ll := settings.ll.WithField("scenario", sc.Name)

	for i, step := range sc.Steps {
		start := time.Now()
		ev, stepErr := r.exec(ctx, step)
		result := StepResult{Index: i, Op: step.Op(), Duration: time.Since(start), Event: ev, Err: stepErr}
		report.Steps = append(report.Steps, result)

		if stepErr != nil {
			err := &StepError{Index: i, Op: step.Op(), Err: stepErr}
			ll.WithError(stepErr).WithFields(err.KVs()).Warn("scenario step failed")
			return report, err
		}
		ll.WithFields(logrus.Fields{
			"step.index":    i,
			"step.op":       result.Op,
			"step.duration": result.Duration,
		}).Debug("scenario step done")
	}
	ll.Info("scenario passed")
	return report, nil
}

func (r *runner) exec(ctx context.Context, step Step) (*port.Event, error) {
	switch {
	case step.Add != nil:
		connected := step.Add.Connected == nil || *step.Add.Connected
		r.aliases[step.Add.As] = r.ctrl.AddPort(port.WithConnected(connected))
		return nil, nil
	case step.Set != nil:
		return nil, r.ctrl.SetPortConnectedState(r.aliases[step.Set.Port], step.Set.Connected)
	case step.Expect != nil:
		return r.expect(ctx, step.Expect)
	case step.Ports != nil:
		return nil, r.checkPorts(ctx, step.Ports)
	case step.Quiet != nil:
		return r.quiet(ctx, step.Quiet)
	default:
		return nil, invalidf("empty step")
	}
}

func (r *runner) expect(ctx context.Context, step *ExpectStep) (*port.Event, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.sc.Timeout)
	defer cancel()

	ev, err := r.w.WaitFor(waitCtx, step.Kind)
	if err != nil {
		return nil, err
	}
	if step.Port != "" {
		want := r.aliases[step.Port]
		if ev.Target == nil || ev.Target.Token() != want {
			return &ev, assertionf("%s event targets %v, want port %q (%s)", ev.Kind, ev.Target, step.Port, want)
		}
	}

	// the registry must already reflect the event
	ports, err := r.ctrl.GetPorts(ctx)
	if err != nil {
		return &ev, err
	}
	if !port.Contains(ports, ev.Target) {
		return &ev, assertionf("%s event target %v is missing from the port list", ev.Kind, ev.Target)
	}
	return &ev, nil
}

func (r *runner) checkPorts(ctx context.Context, step *PortsStep) error {
	ports, err := r.ctrl.GetPorts(ctx)
	if err != nil {
		return err
	}
	if step.Count != nil && len(ports) != *step.Count {
		return assertionf("got %d port(s), want %d", len(ports), *step.Count)
	}

	byToken := make(map[port.Token]*port.Port, len(ports))
	for _, p := range ports {
		byToken[p.Token()] = p
	}
	check := func(aliases []string, connected bool) error {
		for _, alias := range aliases {
			p, ok := byToken[r.aliases[alias]]
			if !ok {
				return assertionf("port %q is missing from the port list", alias)
			}
			if p.Connected() != connected {
				return assertionf("port %q connected = %t, want %t", alias, p.Connected(), connected)
			}
		}
		return nil
	}
	if err := check(step.Connected, true); err != nil {
		return err
	}
	return check(step.Disconnected, false)
}

func (r *runner) quiet(ctx context.Context, step *QuietStep) (*port.Event, error) {
	waitCtx, cancel := context.WithTimeout(ctx, step.For)
	defer cancel()

	ev, err := r.w.WaitFor(waitCtx, step.Kinds...)
	if err == nil {
		return &ev, assertionf("expecting no event for %s, got %s", step.For, ev.String())
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, nil
	}
	return nil, err
}
