package codec

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONEncoder writes values of type T as JSON documents.
type JSONEncoder[T any] struct {
	pipeline.SharableMarker
}

// Encode implements Encoder.
func (JSONEncoder[T]) Encode(msg T, out *buffer.Buffer) error {
	stream := json.BorrowStream(out)
	defer json.ReturnStream(stream)
	stream.WriteVal(msg)
	if stream.Error != nil {
		return stream.Error
	}
	return stream.Flush()
}

// JSONDecoder parses frames into values of type T.
type JSONDecoder[T any] struct {
	pipeline.SharableMarker
}

// Decode implements MessageDecoder.
func (JSONDecoder[T]) Decode(msg *buffer.Buffer) (T, error) {
	var v T
	if err := json.Unmarshal(msg.Bytes(), &v); err != nil {
		return v, &DecodeError{Err: err, Length: int64(msg.ReadableBytes())}
	}
	return v, nil
}

// NewJSONCodec returns the handlers converting frames to T and T to bytes.
func NewJSONCodec[T any]() (*DecoderHandler[*buffer.Buffer, T], *EncoderHandler[T]) {
	return NewMessageDecoder[*buffer.Buffer, T](JSONDecoder[T]{}), NewEncoderHandler[T](JSONEncoder[T]{})
}
