package main

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/codec"
	"github.com/czx-lab/netpipe/idle"
	"github.com/czx-lab/netpipe/pipeline"
)

// framing returns the frame decoder stage and the matching outbound
// framer, which is nil when frames carry no trailer or header.
func framing(c CodecConf) (pipeline.Handler, pipeline.Handler, error) {
	switch c.Framing {
	case "", framingLine:
		dec, err := codec.NewLineDecoder(c.MaxFrameLength, false)
		if err != nil {
			return nil, nil, err
		}
		enc := codec.NewEncoderHandler(codec.EncoderFunc[*buffer.Buffer](func(msg *buffer.Buffer, out *buffer.Buffer) error {
			if err := out.WriteBuffer(msg); err != nil {
				return err
			}
			return out.WriteByte('\n')
		}))
		return codec.NewDecoder(dec), enc, nil
	case framingLengthField:
		lc := c.LengthField
		if lc.MaxFrameLength <= 0 {
			lc.MaxFrameLength = c.MaxFrameLength
		}
		if lc.LengthFieldLength == 0 {
			lc.LengthFieldLength = c.PrependLength
		}
		if c.KeepHeader {
			dec, err := codec.NewLengthFieldDecoder(lc)
			if err != nil {
				return nil, nil, err
			}
			return codec.NewDecoder(dec), nil, nil
		}
		if lc.InitialBytesToStrip == 0 {
			lc.InitialBytesToStrip = lc.LengthFieldOffset + lc.LengthFieldLength
		}
		dec, err := codec.NewLengthFieldDecoder(lc)
		if err != nil {
			return nil, nil, err
		}
		enc, err := codec.NewLengthFieldPrepender(lc.LengthFieldLength, false, lc.LittleEndian)
		if err != nil {
			return nil, nil, err
		}
		return codec.NewDecoder(dec), enc, nil
	case framingFixed:
		dec, err := codec.NewFixedLengthDecoder(c.FixedLength)
		if err != nil {
			return nil, nil, err
		}
		return codec.NewDecoder(dec), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown framing %q", c.Framing)
}

// initializer builds the pipeline every channel gets: framing, liveness,
// optional event logging, then the handler returned by terminal.
func initializer(c Config, terminal func() pipeline.Handler) pipeline.Initializer {
	return pipeline.InitializerFunc(func(ch pipeline.Channel) error {
		dec, enc, err := framing(c.Codec)
		if err != nil {
			return err
		}
		hs := []pipeline.Handler{dec}
		if enc != nil {
			hs = append(hs, enc)
		}
		if c.Idle.ReaderIdle > 0 || c.Idle.WriterIdle > 0 || c.Idle.AllIdle > 0 {
			hs = append(hs, idle.NewStateHandler(c.Idle), idle.NewHeartbeatHandler(c.Heartbeat))
		}
		if c.LogEvents {
			hs = append(hs, pipeline.NewLoggingHandler(zapcore.DebugLevel))
		}
		hs = append(hs, codec.NewChunkedWriteHandler(), terminal())
		return ch.Pipeline().AddLastAll(hs...)
	})
}

// echoHandler writes every frame back.
func echoHandler() pipeline.Handler {
	return pipeline.NewTypedInbound(func(ctx *pipeline.Context, frame *buffer.Buffer) {
		ctx.WriteAndFlush(frame)
	}).KeepMessages()
}
