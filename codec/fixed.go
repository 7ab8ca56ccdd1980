package codec

import (
	"fmt"

	"github.com/czx-lab/netpipe/buffer"
)

// FixedLengthDecoder splits the stream into frames of a constant length.
type FixedLengthDecoder struct {
	length int
}

// NewFixedLengthDecoder returns a decoder for frames of length bytes.
func NewFixedLengthDecoder(length int) (*FixedLengthDecoder, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: frame length %d", ErrInvalidConf, length)
	}
	return &FixedLengthDecoder{length: length}, nil
}

// Decode implements FrameDecoder. Frames are retained slices of in.
func (d *FixedLengthDecoder) Decode(in *buffer.Buffer) (any, error) {
	if in.ReadableBytes() < d.length {
		return nil, nil
	}
	frame, err := in.ReadRetainedSlice(d.length)
	if err != nil {
		return nil, err
	}
	return frame, nil
}
