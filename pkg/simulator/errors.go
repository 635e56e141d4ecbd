package simulator

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrSimulatorUnavailable = errors.New("simulator unavailable")
	ErrUnknownBlueprint     = errors.New("unknown blueprint")
	ErrUnknownMap           = errors.New("unknown map")
	ErrSpawnCollision       = errors.New("spawn failed because of collision at spawn position")
	ErrActorDestroyed       = errors.New("actor already destroyed")
)

// Remote error codes carried in bridge error responses.
const (
	CodeNotFound = 404
	CodeConflict = 409
	CodeGone     = 410
	CodeInternal = 500
)

// RemoteError is an error reported by the simulator side.
type RemoteError struct {
	Code    int
	Message string
	err     error
}

// NewRemoteError maps a bridge error code onto the matching sentinel.
func NewRemoteError(code int, message string) *RemoteError {
	e := &RemoteError{Code: code, Message: message}
	switch code {
	case CodeConflict:
		e.err = ErrSpawnCollision
	case CodeGone:
		e.err = ErrActorDestroyed
	}
	return e
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("simulator error %d: %s", e.Code, e.Message)
}

// Unwrap exposes the sentinel matching the code, if any.
func (e *RemoteError) Unwrap() error {
	return e.err
}

// WithSentinel returns a copy of e that unwraps to sentinel. Callers that know
// what a 404 means for their request use it.
func (e *RemoteError) WithSentinel(sentinel error) *RemoteError {
	c := *e
	c.err = sentinel
	return &c
}
