package codec

import (
	"unicode/utf8"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/pipeline"
)

// StringEncoder writes strings as their bytes.
type StringEncoder struct {
	pipeline.SharableMarker
}

// Encode implements Encoder.
func (StringEncoder) Encode(msg string, out *buffer.Buffer) error {
	_, err := out.WriteString(msg)
	return err
}

// StringDecoder turns frames into strings. With Strict set, frames that are
// not valid UTF-8 raise a DecodeError.
type StringDecoder struct {
	pipeline.SharableMarker
	Strict bool
}

// Decode implements MessageDecoder.
func (d StringDecoder) Decode(msg *buffer.Buffer) (string, error) {
	p := msg.Bytes()
	if d.Strict && !utf8.Valid(p) {
		return "", corrupted("frame of %d bytes is not valid UTF-8", len(p))
	}
	return string(p), nil
}

// BytesEncoder writes byte slices.
type BytesEncoder struct {
	pipeline.SharableMarker
}

// Encode implements Encoder.
func (BytesEncoder) Encode(msg []byte, out *buffer.Buffer) error {
	_, err := out.Write(msg)
	return err
}

// BytesDecoder copies frames into byte slices.
type BytesDecoder struct {
	pipeline.SharableMarker
}

// Decode implements MessageDecoder.
func (BytesDecoder) Decode(msg *buffer.Buffer) ([]byte, error) {
	return append([]byte(nil), msg.Bytes()...), nil
}

// NewStringCodec returns the handlers converting frames to strings and
// strings to bytes.
func NewStringCodec() (*DecoderHandler[*buffer.Buffer, string], *EncoderHandler[string]) {
	return NewMessageDecoder[*buffer.Buffer, string](StringDecoder{}), NewEncoderHandler[string](StringEncoder{})
}
