package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/pipeline"
)

// LengthFieldConf describes a length-prefixed wire format:
//
//	[LengthFieldOffset bytes][length][LengthAdjustment bytes][payload]
//
// The length field holds the payload length unless LengthAdjustment is
// negative, in which case it also counts that many header bytes.
type LengthFieldConf struct {
	// MaxFrameLength bounds the value carried by the length field.
	MaxFrameLength    int `json:",default=1048576"`
	LengthFieldOffset int `json:",optional"`
	LengthFieldLength int `json:",default=4,options=1|2|3|4|8"`
	LengthAdjustment  int `json:",optional"`
	// InitialBytesToStrip is removed from the front of every frame.
	InitialBytesToStrip int  `json:",optional"`
	LittleEndian        bool `json:",optional"`
	FailFast            bool `json:",default=true"`
}

func (c LengthFieldConf) order() binary.ByteOrder {
	if c.LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func (c LengthFieldConf) validate() error {
	switch c.LengthFieldLength {
	case 1, 2, 3, 4, 8:
	default:
		return fmt.Errorf("%w: length field length %d", ErrInvalidConf, c.LengthFieldLength)
	}
	if c.MaxFrameLength <= 0 {
		return fmt.Errorf("%w: max frame length %d", ErrInvalidConf, c.MaxFrameLength)
	}
	if c.LengthFieldOffset < 0 || c.InitialBytesToStrip < 0 {
		return fmt.Errorf("%w: negative offset or strip", ErrInvalidConf)
	}
	return nil
}

// LengthFieldDecoder extracts frames whose length is carried in a header.
type LengthFieldDecoder struct {
	conf           LengthFieldConf
	order          binary.ByteOrder
	endOffset      int
	discarding     bool
	bytesToDiscard int64
	tooLongLength  int64
}

// NewLengthFieldDecoder validates conf and returns a decoder.
func NewLengthFieldDecoder(conf LengthFieldConf) (*LengthFieldDecoder, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &LengthFieldDecoder{
		conf:      conf,
		order:     conf.order(),
		endOffset: conf.LengthFieldOffset + conf.LengthFieldLength,
	}, nil
}

// Decode implements FrameDecoder. A frame is a retained slice of in holding
// the whole frame minus InitialBytesToStrip leading bytes.
func (d *LengthFieldDecoder) Decode(in *buffer.Buffer) (any, error) {
	if d.discarding {
		if err := d.discard(in); err != nil {
			return nil, err
		}
		if d.discarding {
			return nil, nil
		}
	}
	if in.ReadableBytes() < d.endOffset {
		return nil, nil
	}

	declared, err := in.GetUint(in.ReaderIndex()+d.conf.LengthFieldOffset, d.conf.LengthFieldLength, d.order)
	if err != nil {
		return nil, err
	}
	if declared > math.MaxInt64/2 {
		in.Skip(d.endOffset)
		return nil, corrupted("length field %d out of range", declared)
	}
	frameLength := int64(declared) + int64(d.conf.LengthAdjustment) + int64(d.endOffset)
	if frameLength < int64(d.endOffset) {
		in.Skip(d.endOffset)
		return nil, corrupted("adjusted frame length %d is less than length field end offset %d", frameLength, d.endOffset)
	}
	if declared > uint64(d.conf.MaxFrameLength) {
		return nil, d.exceeded(in, int64(declared), frameLength)
	}

	n := int(frameLength)
	if in.ReadableBytes() < n {
		return nil, nil
	}
	if d.conf.InitialBytesToStrip > n {
		in.Skip(n)
		return nil, corrupted("frame length %d is less than initial bytes to strip %d", n, d.conf.InitialBytesToStrip)
	}
	if err := in.Skip(d.conf.InitialBytesToStrip); err != nil {
		return nil, err
	}
	frame, err := in.ReadRetainedSlice(n - d.conf.InitialBytesToStrip)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// exceeded drops what is readable of an oversized frame and remembers how
// much of it is still to come.
func (d *LengthFieldDecoder) exceeded(in *buffer.Buffer, declared, frameLength int64) error {
	readable := int64(in.ReadableBytes())
	d.tooLongLength = declared
	if remaining := frameLength - readable; remaining <= 0 {
		in.Skip(int(frameLength))
	} else {
		d.discarding = true
		d.bytesToDiscard = remaining
		in.Skip(int(readable))
	}
	return d.failIfNecessary(true)
}

func (d *LengthFieldDecoder) discard(in *buffer.Buffer) error {
	n := min(d.bytesToDiscard, int64(in.ReadableBytes()))
	if err := in.Skip(int(n)); err != nil {
		return err
	}
	d.bytesToDiscard -= n
	return d.failIfNecessary(false)
}

func (d *LengthFieldDecoder) failIfNecessary(first bool) error {
	if d.bytesToDiscard > 0 {
		if d.conf.FailFast && first {
			return tooLong(d.tooLongLength, d.conf.MaxFrameLength)
		}
		return nil
	}
	length := d.tooLongLength
	d.discarding, d.bytesToDiscard, d.tooLongLength = false, 0, 0
	if !d.conf.FailFast || first {
		return tooLong(length, d.conf.MaxFrameLength)
	}
	return nil
}

// LengthFieldPrepender writes the length of each outbound buffer in front
// of it using the layout a LengthFieldDecoder with the same parameters
// reads.
type LengthFieldPrepender struct {
	pipeline.SharableMarker
	lengthFieldLength int
	adjustment        int
	includesHeader    bool
	order             binary.ByteOrder
}

// NewLengthFieldPrepender returns an encoder for LengthFieldDecoder frames
// with a zero offset. When includesHeader is set the length counts the
// length field itself, matching a decoder with LengthAdjustment equal to
// -lengthFieldLength.
func NewLengthFieldPrepender(lengthFieldLength int, includesHeader bool, littleEndian bool) (*LengthFieldPrepender, error) {
	switch lengthFieldLength {
	case 1, 2, 3, 4, 8:
	default:
		return nil, fmt.Errorf("%w: length field length %d", ErrInvalidConf, lengthFieldLength)
	}
	p := &LengthFieldPrepender{
		lengthFieldLength: lengthFieldLength,
		includesHeader:    includesHeader,
		order:             binary.BigEndian,
	}
	if littleEndian {
		p.order = binary.LittleEndian
	}
	return p, nil
}

// WithAdjustment adds adj to every written length.
func (p *LengthFieldPrepender) WithAdjustment(adj int) *LengthFieldPrepender {
	p.adjustment = adj
	return p
}

// Encode implements Encoder.
func (p *LengthFieldPrepender) Encode(msg *buffer.Buffer, out *buffer.Buffer) error {
	length := msg.ReadableBytes() + p.adjustment
	if p.includesHeader {
		length += p.lengthFieldLength
	}
	if length < 0 {
		return fmt.Errorf("codec: adjusted length %d is negative", length)
	}
	if p.lengthFieldLength < 8 && uint64(length) >= 1<<(8*p.lengthFieldLength) {
		return fmt.Errorf("codec: length %d does not fit in %d bytes", length, p.lengthFieldLength)
	}
	if err := out.WriteUint(p.lengthFieldLength, p.order, uint64(length)); err != nil {
		return err
	}
	return out.WriteBuffer(msg)
}
