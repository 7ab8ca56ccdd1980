package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSharable is returned when a handler instance without the
	// Sharable marker is added while already attached to a pipeline.
	ErrNotSharable = errors.New("pipeline: handler is not sharable and already attached")
	// ErrDuplicateName is returned when a handler name is already taken.
	ErrDuplicateName = errors.New("pipeline: duplicate handler name")
	// ErrNoSuchHandler is returned for an unknown name or instance.
	ErrNoSuchHandler = errors.New("pipeline: no such handler")
	// ErrClosed completes writes issued after the channel closed.
	ErrClosed = errors.New("pipeline: channel closed")
)

// CloseReason categorizes why a channel closed.
type CloseReason int

const (
	ReasonNormal CloseReason = iota
	ReasonFrameTooLong
	ReasonHeartbeatTimeout
	ReasonDecodeError
	ReasonEncodeError
	ReasonTransport
	ReasonError
)

var reasonNames = [...]string{
	ReasonNormal:           "normal",
	ReasonFrameTooLong:     "frame_too_long",
	ReasonHeartbeatTimeout: "heartbeat_timeout",
	ReasonDecodeError:      "decode_error",
	ReasonEncodeError:      "encode_error",
	ReasonTransport:        "transport",
	ReasonError:            "error",
}

func (r CloseReason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("CloseReason(%d)", int(r))
	}
	return reasonNames[r]
}

// Reasoner is implemented by errors that map onto a CloseReason.
type Reasoner interface {
	CloseReason() CloseReason
}

// ReasonOf maps a close cause to its reason. A nil cause is a normal close;
// causes that carry no reason are ReasonError.
func ReasonOf(err error) CloseReason {
	if err == nil {
		return ReasonNormal
	}
	var r Reasoner
	if errors.As(err, &r) {
		return r.CloseReason()
	}
	return ReasonError
}

// EncodeError reports an outbound message no configured encoder accepted.
type EncodeError struct {
	Type string
	Err  error
}

// NewEncodeError builds an EncodeError for msg.
func NewEncodeError(msg any, err error) *EncodeError {
	return &EncodeError{Type: fmt.Sprintf("%T", msg), Err: err}
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: encode %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("pipeline: unsupported outbound message type %s", e.Type)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) CloseReason() CloseReason { return ReasonEncodeError }

// PanicError wraps a value recovered from a handler callback.
type PanicError struct {
	Handler string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pipeline: handler %s panicked: %v", e.Handler, e.Value)
}
