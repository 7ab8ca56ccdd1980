package codec

import (
	"fmt"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/pipeline"
)

var (
	// LineDelimiters are the delimiters of LineDecoder.
	LineDelimiters = [][]byte{[]byte("\r\n"), []byte("\n")}
	// NulDelimiter splits on zero bytes.
	NulDelimiter = [][]byte{{0}}
)

// DelimiterConf configures a DelimiterDecoder.
type DelimiterConf struct {
	Delimiters [][]byte
	// MaxFrameLength bounds a frame, delimiter excluded.
	MaxFrameLength int
	// KeepDelimiter leaves the delimiter at the end of each frame.
	KeepDelimiter bool
	// FailFast raises ErrTooLongFrame as soon as the limit is passed instead
	// of after the end of the frame was found.
	FailFast bool
}

// DelimiterDecoder splits the stream on one or more delimiters. When several
// delimiters match, the one producing the shortest frame wins.
type DelimiterDecoder struct {
	conf DelimiterConf
	// tail is kept back while discarding so a delimiter split across reads
	// is still found.
	tail int

	discarding bool
	// discarded counts bytes dropped from the frame being discarded.
	discarded int64
}

// NewDelimiterDecoder validates conf and returns a decoder.
func NewDelimiterDecoder(conf DelimiterConf) (*DelimiterDecoder, error) {
	if len(conf.Delimiters) == 0 {
		return nil, fmt.Errorf("%w: no delimiters", ErrInvalidConf)
	}
	for i, d := range conf.Delimiters {
		if len(d) == 0 {
			return nil, fmt.Errorf("%w: empty delimiter at %d", ErrInvalidConf, i)
		}
	}
	if conf.MaxFrameLength <= 0 {
		return nil, fmt.Errorf("%w: max frame length %d", ErrInvalidConf, conf.MaxFrameLength)
	}
	delims := make([][]byte, len(conf.Delimiters))
	for i, d := range conf.Delimiters {
		delims[i] = append([]byte(nil), d...)
	}
	conf.Delimiters = delims
	longest := 0
	for _, delim := range delims {
		longest = max(longest, len(delim))
	}
	return &DelimiterDecoder{conf: conf, tail: longest - 1}, nil
}

// NewLineDecoder splits on "\n" and "\r\n".
func NewLineDecoder(maxFrameLength int, keepDelimiter bool) (*DelimiterDecoder, error) {
	return NewDelimiterDecoder(DelimiterConf{
		Delimiters:     LineDelimiters,
		MaxFrameLength: maxFrameLength,
		KeepDelimiter:  keepDelimiter,
		FailFast:       true,
	})
}

// Decode implements FrameDecoder. Frames are retained slices of in.
func (d *DelimiterDecoder) Decode(in *buffer.Buffer) (any, error) {
	from, to := in.ReaderIndex(), in.WriterIndex()
	frameLen, delimLen := -1, 0
	for _, delim := range d.conf.Delimiters {
		i := in.IndexOf(from, to, delim)
		if i < 0 {
			continue
		}
		if n := i - from; frameLen < 0 || n < frameLen {
			frameLen, delimLen = n, len(delim)
		}
	}

	if frameLen >= 0 {
		if d.discarding {
			total := d.discarded + int64(frameLen)
			d.discarding, d.discarded = false, 0
			if err := in.Skip(frameLen + delimLen); err != nil {
				return nil, err
			}
			if !d.conf.FailFast {
				return nil, tooLong(total, d.conf.MaxFrameLength)
			}
			return nil, nil
		}
		if frameLen > d.conf.MaxFrameLength {
			if err := in.Skip(frameLen + delimLen); err != nil {
				return nil, err
			}
			return nil, tooLong(int64(frameLen), d.conf.MaxFrameLength)
		}
		n := frameLen
		if d.conf.KeepDelimiter {
			n += delimLen
		}
		frame, err := in.ReadRetainedSlice(n)
		if err != nil {
			return nil, err
		}
		if !d.conf.KeepDelimiter {
			if err := in.Skip(delimLen); err != nil {
				pipeline.SafeRelease(frame)
				return nil, err
			}
		}
		return frame, nil
	}

	readable := in.ReadableBytes()
	skip := max(readable-d.tail, 0)
	if d.discarding {
		d.discarded += int64(skip)
		return nil, in.Skip(skip)
	}
	if readable > d.conf.MaxFrameLength {
		d.discarding, d.discarded = true, int64(skip)
		if err := in.Skip(skip); err != nil {
			return nil, err
		}
		if d.conf.FailFast {
			return nil, tooLong(int64(readable), d.conf.MaxFrameLength)
		}
	}
	return nil, nil
}
