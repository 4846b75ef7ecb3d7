// Package message defines the payloads exchanged between a client and a worker.
//
// Envelope is the command sent to a service queue. It gets serialized by the codec
// layer and published with the caller's reply queue and correlation id attached:
//
//	{"cmd": "search", "params": {"release_id": 4139588}}
//
// The reply body is opaque to the client core. Workers built with the server
// package reply either with the command result or with an ErrorResponse.
package message

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Envelope carries the data for a single command.
type Envelope struct {
	Cmd    string          `json:"cmd"`
	Params json.RawMessage `json:"params"`
}

var emptyParams = json.RawMessage(`{}`)

// NewEnvelope marshals params and wraps them with cmd. Nil params become {}.
func NewEnvelope(cmd string, params any) (*Envelope, error) {
	if cmd == "" {
		return nil, errors.New("message: empty command")
	}
	if params == nil {
		return &Envelope{Cmd: cmd, Params: emptyParams}, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrapf(err, "message: marshal params of %q", cmd)
	}
	return &Envelope{Cmd: cmd, Params: raw}, nil
}

// DecodeParams unmarshals the envelope params into v.
func (e *Envelope) DecodeParams(v any) error {
	if len(e.Params) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(e.Params, v), "message: params of %q", e.Cmd)
}

// HasParam reports whether the params object carries the given top-level key.
func (e *Envelope) HasParam(key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(e.Params, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

// Request is an envelope as received by a worker, with its delivery metadata.
type Request struct {
	Envelope
	CorrelationID string
	ReplyTo       string
	ContentType   string
}

// Reply is what a worker handler produces for a request.
//   - On success: Body is the result bytes (possibly empty), Error is empty.
//   - On failure: Error is non-empty and Body is ignored.
type Reply struct {
	Body  []byte
	Error string
}

// Version is the reply of the built-in "info" command.
type Version struct {
	Subsystem   string
	Name        string
	Description string
}

// ErrorResponse describes a failed command.
type ErrorResponse struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}

type errorBody struct {
	Error *ErrorResponse `json:"error,omitempty"`
}

// EncodeError builds the reply body for a failed command.
func EncodeError(msg, context string) []byte {
	data, _ := json.Marshal(errorBody{Error: &ErrorResponse{Error: msg, Context: context}})
	return data
}

// RemoteError is a failure reported by the worker in the reply body.
type RemoteError struct {
	ErrorResponse
}

func (e *RemoteError) Error() string {
	if e.Context == "" {
		return "remote: " + e.ErrorResponse.Error
	}
	return "remote: " + e.Context + ": " + e.ErrorResponse.Error
}

// ParseError returns a *RemoteError when body is an error reply, nil otherwise.
// Non-object bodies (empty, arrays, scalars) are never error replies.
func ParseError(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var eb errorBody
	if err := json.Unmarshal(trimmed, &eb); err != nil || eb.Error == nil {
		return nil
	}
	return &RemoteError{ErrorResponse: *eb.Error}
}
