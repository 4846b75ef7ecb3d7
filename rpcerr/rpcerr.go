// Package rpcerr defines the failures a call over the broker can end with.
//
// Every failure is distinct from a successful reply with an empty body: a call
// either returns the reply bytes or one of the errors below (possibly wrapped),
// never both.
package rpcerr

import (
	"github.com/pkg/errors"
)

var (
	// ErrTransportFailure matches any connection, declare, publish or consume error.
	ErrTransportFailure = errors.New("transport failure")

	// ErrDuplicateCorrelationID is returned when a correlation id is registered twice.
	ErrDuplicateCorrelationID = errors.New("duplicate correlation id")

	// ErrCallTimedOut is returned when no reply arrived before the deadline.
	ErrCallTimedOut = errors.New("call timed out")

	// ErrCallCancelled is returned when the caller withdrew interest in the reply.
	ErrCallCancelled = errors.New("call cancelled")

	// ErrClientClosed is returned for calls issued on, or pending in, a closed client.
	ErrClientClosed = errors.New("client closed")
)

// TransportError records the broker operation that failed.
type TransportError struct {
	Op  string // "dial", "declare", "consume", "publish", "connection"
	Err error
}

// Transport wraps err as a TransportError for op. A nil err stays nil.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport " + e.Op + " failed"
	}
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes every TransportError match ErrTransportFailure.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}
