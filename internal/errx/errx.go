package errx

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the session reacts to it.
type Kind string

const (
	KindTransport           Kind = "transport"
	KindConnectionExhausted Kind = "connection_exhausted"
	KindMalformedMessage    Kind = "malformed_message"
	KindProtocolSequencing  Kind = "protocol_sequencing"
	KindValidation          Kind = "validation"
	KindPlayback            Kind = "playback"
	KindWorkflow            Kind = "workflow"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrTransport           = &Error{Kind: KindTransport, Message: "transport failure"}
	ErrConnectionExhausted = &Error{Kind: KindConnectionExhausted, Message: "reconnect attempts exhausted"}
	ErrMalformedMessage    = &Error{Kind: KindMalformedMessage, Message: "malformed message"}
	ErrProtocolSequencing  = &Error{Kind: KindProtocolSequencing, Message: "out-of-sequence message"}
	ErrValidation          = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrPlayback            = &Error{Kind: KindPlayback, Message: "segment playback failed"}
	ErrWorkflow            = &Error{Kind: KindWorkflow, Message: "workflow failed"}
)

// Error wraps an underlying error with a kind and a safe message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t != nil {
		return t.Kind == e.Kind
	}
	return false
}

// New creates a new Error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Transport wraps a connect or send failure.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(KindTransport, op, "transport failure", err)
}

// Malformed reports an undecodable or unknown frame.
func Malformed(message string, err error) error {
	return New(KindMalformedMessage, "decode", message, err)
}

// Sequencing reports a frame that is valid but not expected in the current state.
func Sequencing(kind, state string) error {
	return New(KindProtocolSequencing, "route", fmt.Sprintf("%s not valid in state %s", kind, state), nil)
}

// Playback reports a segment-level media failure.
func Playback(ref string, err error) error {
	return New(KindPlayback, "play", "segment "+ref+" failed", err)
}

// Workflow reports a server-side error envelope.
func Workflow(message string) error {
	return New(KindWorkflow, "server", message, nil)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
