package buffer

import (
	"errors"
	"fmt"
)

var (
	// ErrReleased is the sentinel matched by every ReferenceError.
	ErrReleased = errors.New("buffer: use after release")
	// ErrCapacity is the sentinel matched by every CapacityError.
	ErrCapacity = errors.New("buffer: capacity exceeded")
	// ErrIndex is the sentinel matched by every IndexError.
	ErrIndex = errors.New("buffer: index out of bounds")
)

// ReferenceError reports an access to a buffer whose reference count already
// reached zero, including a second Release.
type ReferenceError struct {
	Op     string
	RefCnt int32
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("buffer: %s on released buffer (refCnt: %d)", e.Op, e.RefCnt)
}

func (e *ReferenceError) Unwrap() error { return ErrReleased }

// CapacityError reports growth beyond the buffer's maximum capacity.
type CapacityError struct {
	Required int
	Max      int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("buffer: required capacity %d exceeds max capacity %d", e.Required, e.Max)
}

func (e *CapacityError) Unwrap() error { return ErrCapacity }

// IndexError reports a read past the writer index or an absolute access
// outside the buffer capacity.
type IndexError struct {
	Op       string
	Index    int
	Length   int
	Capacity int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("buffer: %s index %d length %d out of bounds (capacity %d)", e.Op, e.Index, e.Length, e.Capacity)
}

func (e *IndexError) Unwrap() error { return ErrIndex }
