package porttest

import (
	"fmt"
	"strings"

	"github.com/capatazlib/go-portwatch/port"
)

////////////////////////////////////////////////////////////////////////////////

// EventP represents a predicate function that allows us to assert properties of
// an Event emitted by a capability provider
type EventP interface {

	// Call will execute the logic of this event predicate
	Call(port.Event) bool

	// Returns an string representation of this event predicate (for debugging
	// purposes)
	String() string
}

// KindP is a predicate that asserts the kind of an event
type KindP struct {
	kind port.Kind
}

// Call will check the event has the expected kind
func (p KindP) Call(ev port.Event) bool {
	return ev.Kind == p.kind
}

func (p KindP) String() string {
	return fmt.Sprintf("kind == %s", p.kind)
}

// IsKind returns a predicate that matches events of the given kind
func IsKind(kind port.Kind) EventP {
	return KindP{kind: kind}
}

// TargetP is a predicate that asserts the identity of the target port of an
// event
type TargetP struct {
	token port.Token
}

// Call will check the event target has the expected token
func (p TargetP) Call(ev port.Event) bool {
	return ev.Target != nil && ev.Target.Token() == p.token
}

func (p TargetP) String() string {
	return fmt.Sprintf("target == %s", p.token)
}

// HasTarget returns a predicate that matches events targeting the port with
// the given token
func HasTarget(token port.Token) EventP {
	return TargetP{token: token}
}

// ConnectP returns a predicate that matches a connect event for the port
// with the given token
func ConnectP(token port.Token) EventP {
	return AndP{Preds: []EventP{IsKind(port.Connect), HasTarget(token)}}
}

// DisconnectP returns a predicate that matches a disconnect event for the
// port with the given token
func DisconnectP(token port.Token) EventP {
	return AndP{Preds: []EventP{IsKind(port.Disconnect), HasTarget(token)}}
}

// AndP is a predicate that builds the conjunction of a group EventP predicates
// (e.g. join EventP predicates with &&)
type AndP struct {
	Preds []EventP
}

// Call will try and verify that all it's grouped predicates return true, if any
// returns false, this predicate function will return false
func (p AndP) Call(ev port.Event) bool {
	for _, pred := range p.Preds {
		if !pred.Call(ev) {
			return false
		}
	}
	return true
}

func (p AndP) String() string {
	acc := make([]string, 0, len(p.Preds))
	for _, pred := range p.Preds {
		acc = append(acc, pred.String())
	}
	return strings.Join(acc, " && ")
}

// OrP is a predicate that builds the adjunction of a group EventP predicates
// (e.g. join EventP predicates with ||)
type OrP struct {
	Preds []EventP
}

// Call will return true as soon as one of it's grouped predicates returns
// true. An empty OrP matches every event.
func (p OrP) Call(ev port.Event) bool {
	if len(p.Preds) == 0 {
		return true
	}
	for _, pred := range p.Preds {
		if pred.Call(ev) {
			return true
		}
	}
	return false
}

func (p OrP) String() string {
	acc := make([]string, 0, len(p.Preds))
	for _, pred := range p.Preds {
		acc = append(acc, pred.String())
	}
	return strings.Join(acc, " || ")
}
