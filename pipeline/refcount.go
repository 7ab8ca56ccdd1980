package pipeline

import (
	"github.com/czx-lab/netpipe/xlog"
	"go.uber.org/zap"
)

// ReferenceCounted is implemented by messages whose storage is released
// explicitly, such as *buffer.Buffer.
type ReferenceCounted interface {
	Retain() error
	Release() (bool, error)
	RefCnt() int32
}

// Release releases msg when it is reference counted.
func Release(msg any) (bool, error) {
	if rc, ok := msg.(ReferenceCounted); ok {
		return rc.Release()
	}
	return false, nil
}

// SafeRelease releases msg and logs instead of returning a failure.
func SafeRelease(msg any) {
	if _, err := Release(msg); err != nil {
		xlog.Write().Warn("failed to release message", zap.Error(err))
	}
}

// Retain retains msg when it is reference counted.
func Retain(msg any) error {
	if rc, ok := msg.(ReferenceCounted); ok {
		return rc.Retain()
	}
	return nil
}
