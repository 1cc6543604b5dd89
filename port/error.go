package port

import (
	"fmt"
)

// ErrKVs is an utility interface used to get key-values out of errors that
// carry structured context, so it can be attached to log entries.
type ErrKVs interface {
	KVs() map[string]interface{}
}

// NotFoundError is the error reported when a provider receives a token that
// it never registered.
type NotFoundError struct {
	Token Token
}

func (err *NotFoundError) Error() string {
	return fmt.Sprintf("port not found: %q", string(err.Token))
}

// Is returns true when the given error is also a NotFoundError; it allows
// callers to use errors.Is(err, &NotFoundError{}).
func (err *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// KVs returns a metadata map for structured logging
func (err *NotFoundError) KVs() map[string]interface{} {
	return map[string]interface{}{
		"port.token": string(err.Token),
	}
}

// UnknownKindError is the error reported when an event kind is not supported.
type UnknownKindError struct {
	Kind Kind
}

func (err *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown event kind: %q", string(err.Kind))
}

// Is returns true when the given error is also an UnknownKindError
func (err *UnknownKindError) Is(target error) bool {
	_, ok := target.(*UnknownKindError)
	return ok
}

// KVs returns a metadata map for structured logging
func (err *UnknownKindError) KVs() map[string]interface{} {
	return map[string]interface{}{
		"event.kind": string(err.Kind),
	}
}
