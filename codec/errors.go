package codec

import (
	"errors"
	"fmt"

	"github.com/czx-lab/netpipe/pipeline"
)

var (
	// ErrTooLongFrame is wrapped by a DecodeError raised for a frame above
	// the configured maximum.
	ErrTooLongFrame = errors.New("codec: frame too long")
	// ErrCorruptedFrame is wrapped by a DecodeError raised for a frame whose
	// header cannot describe a valid frame.
	ErrCorruptedFrame = errors.New("codec: corrupted frame")
	// ErrInvalidConf is returned by constructors for unusable parameters.
	ErrInvalidConf = errors.New("codec: invalid configuration")
)

// DecodeError reports a malformed or oversized inbound frame.
type DecodeError struct {
	Err error
	// Length is the frame length observed or declared, -1 when unknown.
	Length int64
	// Max is the configured maximum, 0 when not relevant.
	Max int
}

func (e *DecodeError) Error() string {
	switch {
	case e.Max > 0 && e.Length >= 0:
		return fmt.Sprintf("%v: length %d exceeds %d", e.Err, e.Length, e.Max)
	case e.Max > 0:
		return fmt.Sprintf("%v: exceeds %d", e.Err, e.Max)
	}
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CloseReason implements pipeline.Reasoner.
func (e *DecodeError) CloseReason() pipeline.CloseReason {
	if errors.Is(e.Err, ErrTooLongFrame) {
		return pipeline.ReasonFrameTooLong
	}
	return pipeline.ReasonDecodeError
}

func tooLong(length int64, max int) *DecodeError {
	return &DecodeError{Err: ErrTooLongFrame, Length: length, Max: max}
}

func corrupted(format string, args ...any) *DecodeError {
	return &DecodeError{Err: fmt.Errorf("%w: "+format, append([]any{ErrCorruptedFrame}, args...)...), Length: -1}
}
