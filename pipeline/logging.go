package pipeline

import (
	"fmt"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/xlog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingHandler logs every event passing through it. One instance may be
// shared by all pipelines.
type LoggingHandler struct {
	SharableMarker
	level  zapcore.Level
	logger *zap.Logger
}

// NewLoggingHandler logs at level through the global logger.
func NewLoggingHandler(level zapcore.Level) *LoggingHandler {
	return &LoggingHandler{level: level, logger: xlog.Named("wire")}
}

func (h *LoggingHandler) log(ctx *Context, event string, fields ...zap.Field) {
	if ce := h.logger.Check(h.level, event); ce != nil {
		ce.Write(append(fields, zap.String("channel", ctx.Channel().ID()))...)
	}
}

func describe(msg any) zap.Field {
	switch m := msg.(type) {
	case *buffer.Buffer:
		return zap.Int("bytes", m.ReadableBytes())
	case []byte:
		return zap.Int("bytes", len(m))
	case string:
		return zap.String("msg", m)
	default:
		return zap.String("type", fmt.Sprintf("%T", msg))
	}
}

func (h *LoggingHandler) ChannelRegistered(ctx *Context) {
	h.log(ctx, "REGISTERED")
	ctx.FireChannelRegistered()
}

func (h *LoggingHandler) ChannelUnregistered(ctx *Context) {
	h.log(ctx, "UNREGISTERED")
	ctx.FireChannelUnregistered()
}

func (h *LoggingHandler) ChannelActive(ctx *Context) {
	h.log(ctx, "ACTIVE", zap.Any("remote", ctx.Channel().RemoteAddr()))
	ctx.FireChannelActive()
}

func (h *LoggingHandler) ChannelInactive(ctx *Context) {
	h.log(ctx, "INACTIVE")
	ctx.FireChannelInactive()
}

func (h *LoggingHandler) ChannelRead(ctx *Context, msg any) {
	h.log(ctx, "READ", describe(msg))
	ctx.FireChannelRead(msg)
}

func (h *LoggingHandler) ChannelReadComplete(ctx *Context) {
	h.log(ctx, "READ COMPLETE")
	ctx.FireChannelReadComplete()
}

func (h *LoggingHandler) UserEventTriggered(ctx *Context, evt any) {
	h.log(ctx, "USER EVENT", zap.Any("event", evt))
	ctx.FireUserEventTriggered(evt)
}

func (h *LoggingHandler) ChannelWritabilityChanged(ctx *Context) {
	h.log(ctx, "WRITABILITY", zap.Bool("writable", ctx.Channel().IsWritable()))
	ctx.FireChannelWritabilityChanged()
}

func (h *LoggingHandler) ErrorCaught(ctx *Context, err error) {
	h.log(ctx, "ERROR", zap.Error(err))
	ctx.FireErrorCaught(err)
}

func (h *LoggingHandler) Write(ctx *Context, msg any, f *eventloop.Future) {
	h.log(ctx, "WRITE", describe(msg))
	ctx.WriteWithFuture(msg, f)
}

func (h *LoggingHandler) Flush(ctx *Context) {
	h.log(ctx, "FLUSH")
	ctx.Flush()
}

func (h *LoggingHandler) Close(ctx *Context, cause error, f *eventloop.Future) {
	h.log(ctx, "CLOSE", zap.Stringer("reason", ReasonOf(cause)))
	ctx.CloseWithFuture(cause, f)
}

var (
	_ InboundHandler  = (*LoggingHandler)(nil)
	_ OutboundHandler = (*LoggingHandler)(nil)
	_ Sharable        = (*LoggingHandler)(nil)
)
