package codec

import (
	"google.golang.org/protobuf/proto"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/pipeline"
)

// ProtoEncoder writes protobuf messages in wire format.
type ProtoEncoder struct {
	pipeline.SharableMarker
}

// Encode implements Encoder.
func (ProtoEncoder) Encode(msg proto.Message, out *buffer.Buffer) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// ProtoDecoder parses frames into messages built by a factory.
type ProtoDecoder[T proto.Message] struct {
	pipeline.SharableMarker
	newMessage func() T
}

// NewProtoDecoder returns a decoder unmarshaling into newMessage().
func NewProtoDecoder[T proto.Message](newMessage func() T) ProtoDecoder[T] {
	return ProtoDecoder[T]{newMessage: newMessage}
}

// Decode implements MessageDecoder.
func (d ProtoDecoder[T]) Decode(msg *buffer.Buffer) (T, error) {
	m := d.newMessage()
	if err := proto.Unmarshal(msg.Bytes(), m); err != nil {
		var zero T
		return zero, &DecodeError{Err: err, Length: int64(msg.ReadableBytes())}
	}
	return m, nil
}

// NewProtoCodec returns the handlers converting frames to T and protobuf
// messages to bytes.
func NewProtoCodec[T proto.Message](newMessage func() T) (*DecoderHandler[*buffer.Buffer, T], *EncoderHandler[proto.Message]) {
	return NewMessageDecoder[*buffer.Buffer, T](NewProtoDecoder(newMessage)), NewEncoderHandler[proto.Message](ProtoEncoder{})
}
