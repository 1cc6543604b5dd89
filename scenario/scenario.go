// Package scenario runs declarative port lifecycle scripts against a
// port.Controller. A scenario is a list of steps that drive the registry
// (add, set) and assert its observable behavior (expect, ports, quiet).
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/capatazlib/go-portwatch/port"
)

// DefaultTimeout is the budget given to every expect step when the scenario
// does not specify one
const DefaultTimeout = 2 * time.Second

// Scenario is a named sequence of steps
type Scenario struct {
	Name string `yaml:"name"`
	// Timeout bounds every expect step
	Timeout time.Duration `yaml:"timeout"`
	// Watch lists the event kinds observed during the run (defaults to all)
	Watch []port.Kind `yaml:"watch"`
	Steps []Step      `yaml:"steps"`
}

// Step is a single action of a scenario, exactly one field must be set
type Step struct {
	Add    *AddStep    `yaml:"add,omitempty"`
	Set    *SetStep    `yaml:"set,omitempty"`
	Expect *ExpectStep `yaml:"expect,omitempty"`
	Ports  *PortsStep  `yaml:"ports,omitempty"`
	Quiet  *QuietStep  `yaml:"quiet,omitempty"`
}

// AddStep adds a port to the registry and names it with an alias
type AddStep struct {
	As        string `yaml:"as"`
	Connected *bool  `yaml:"connected"`
}

// SetStep changes the connectivity state of a previously added port
type SetStep struct {
	Port      string `yaml:"port"`
	Connected bool   `yaml:"connected"`
}

// ExpectStep waits for the next event of the given kind; when Port is set the
// event must target that port
type ExpectStep struct {
	Kind port.Kind `yaml:"kind"`
	Port string    `yaml:"port"`
}

// PortsStep checks the result of GetPorts
type PortsStep struct {
	Count        *int     `yaml:"count"`
	Connected    []string `yaml:"connected"`
	Disconnected []string `yaml:"disconnected"`
}

// QuietStep checks no event of the given kinds arrives for a period of time
type QuietStep struct {
	Kinds []port.Kind   `yaml:"kinds"`
	For   time.Duration `yaml:"for"`
}

// Op returns the name of the action of this step
func (s Step) Op() string {
	switch {
	case s.Add != nil:
		return "add"
	case s.Set != nil:
		return "set"
	case s.Expect != nil:
		return "expect"
	case s.Ports != nil:
		return "ports"
	case s.Quiet != nil:
		return "quiet"
	default:
		return "<empty>"
	}
}

func (s Step) actionCount() int {
	count := 0
	for _, set := range []bool{s.Add != nil, s.Set != nil, s.Expect != nil, s.Ports != nil, s.Quiet != nil} {
		if set {
			count++
		}
	}
	return count
}

// ErrInvalid is wrapped by every validation error of a scenario
var ErrInvalid = errors.New("invalid scenario")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func validKinds(kinds []port.Kind) error {
	for _, k := range kinds {
		if !k.Valid() {
			return &port.UnknownKindError{Kind: k}
		}
	}
	return nil
}

func watching(watch []port.Kind, k port.Kind) bool {
	for _, w := range watch {
		if w == k {
			return true
		}
	}
	return false
}

// Normalize fills defaults in and validates the scenario. Add steps without an
// alias get one named after their position (port-1, port-2, ...).
func (sc *Scenario) Normalize() error {
	if sc.Timeout == 0 {
		sc.Timeout = DefaultTimeout
	}
	if sc.Timeout < 0 {
		return invalidf("negative timeout %s", sc.Timeout)
	}
	if len(sc.Watch) == 0 {
		sc.Watch = append([]port.Kind(nil), port.AllKinds...)
	}
	if err := validKinds(sc.Watch); err != nil {
		return invalidf("watch: %s", err)
	}

	aliases := make(map[string]struct{})
	known := func(stepIx int, alias string) error {
		if _, ok := aliases[alias]; !ok {
			return invalidf("step %d: unknown port alias %q", stepIx, alias)
		}
		return nil
	}
	added := 0

	for i := range sc.Steps {
		step := &sc.Steps[i]
		if step.actionCount() != 1 {
			return invalidf("step %d: exactly one action expected, got %d", i, step.actionCount())
		}
		switch {
		case step.Add != nil:
			added++
			if step.Add.As == "" {
				step.Add.As = fmt.Sprintf("port-%d", added)
			}
			if _, dup := aliases[step.Add.As]; dup {
				return invalidf("step %d: duplicated port alias %q", i, step.Add.As)
			}
			aliases[step.Add.As] = struct{}{}
		case step.Set != nil:
			if err := known(i, step.Set.Port); err != nil {
				return err
			}
		case step.Expect != nil:
			if err := validKinds([]port.Kind{step.Expect.Kind}); err != nil {
				return invalidf("step %d: %s", i, err)
			}
			if !watching(sc.Watch, step.Expect.Kind) {
				return invalidf("step %d: kind %s is not watched", i, step.Expect.Kind)
			}
			if step.Expect.Port != "" {
				if err := known(i, step.Expect.Port); err != nil {
					return err
				}
			}
		case step.Ports != nil:
			if step.Ports.Count != nil && *step.Ports.Count < 0 {
				return invalidf("step %d: negative port count", i)
			}
			for _, group := range [][]string{step.Ports.Connected, step.Ports.Disconnected} {
				for _, alias := range group {
					if err := known(i, alias); err != nil {
						return err
					}
				}
			}
		case step.Quiet != nil:
			if step.Quiet.For <= 0 {
				return invalidf("step %d: quiet needs a positive duration", i)
			}
			if err := validKinds(step.Quiet.Kinds); err != nil {
				return invalidf("step %d: %s", i, err)
			}
			for _, k := range step.Quiet.Kinds {
				if !watching(sc.Watch, k) {
					return invalidf("step %d: kind %s is not watched", i, k)
				}
			}
		}
	}
	return nil
}

// Load decodes and validates a YAML scenario
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("could not decode scenario: %w", err)
	}
	if err := sc.Normalize(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile decodes and validates the YAML scenario stored in the given path
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open scenario: %w", err)
	}
	defer f.Close()
	return Load(f)
}
