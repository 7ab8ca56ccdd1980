package idle

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/pipeline"
	"github.com/czx-lab/netpipe/xlog"
)

// DefaultSentinel is the heartbeat frame payload.
var DefaultSentinel = []byte("\x00HB\x00")

// TimeoutError closes a connection whose peer missed too many heartbeats.
type TimeoutError struct {
	State  State
	Misses int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("idle: %s after %d missed heartbeats", e.State, e.Misses)
}

// CloseReason implements pipeline.Reasoner.
func (e *TimeoutError) CloseReason() pipeline.CloseReason {
	return pipeline.ReasonHeartbeatTimeout
}

// HeartbeatConf configures a HeartbeatHandler.
type HeartbeatConf struct {
	Sentinel []byte `json:",optional"`
	// MaxMisses is the number of consecutive reader idle events tolerated
	// before closing.
	MaxMisses int `json:",default=3"`
}

// HeartbeatHandler answers idle events from a StateHandler placed before it:
// writer idleness sends a sentinel frame, reader idleness counts a miss and
// closes the channel once MaxMisses consecutive misses were seen. It must
// sit after the frame decoder and encoder so that sentinels are framed like
// any other message.
type HeartbeatHandler struct {
	pipeline.InboundAdapter
	sentinel  []byte
	maxMisses int
	misses    int
	logger    *zap.Logger
}

// NewHeartbeatHandler returns a handler for conf.
func NewHeartbeatHandler(conf HeartbeatConf) *HeartbeatHandler {
	if len(conf.Sentinel) == 0 {
		conf.Sentinel = DefaultSentinel
	}
	if conf.MaxMisses <= 0 {
		conf.MaxMisses = 3
	}
	return &HeartbeatHandler{
		sentinel:  append([]byte(nil), conf.Sentinel...),
		maxMisses: conf.MaxMisses,
		logger:    xlog.Named("idle"),
	}
}

// Misses returns the current count of consecutive reader idle events.
func (h *HeartbeatHandler) Misses() int { return h.misses }

// ChannelRead resets the miss counter and swallows sentinel frames.
func (h *HeartbeatHandler) ChannelRead(ctx *pipeline.Context, msg any) {
	h.misses = 0
	if h.isSentinel(msg) {
		pipeline.SafeRelease(msg)
		return
	}
	ctx.FireChannelRead(msg)
}

func (h *HeartbeatHandler) isSentinel(msg any) bool {
	switch m := msg.(type) {
	case *buffer.Buffer:
		return bytes.Equal(m.Bytes(), h.sentinel)
	case []byte:
		return bytes.Equal(m, h.sentinel)
	}
	return false
}

func (h *HeartbeatHandler) UserEventTriggered(ctx *pipeline.Context, evt any) {
	e, ok := evt.(Event)
	if !ok {
		ctx.FireUserEventTriggered(evt)
		return
	}
	switch e.State {
	case WriterIdle:
		ctx.WriteAndFlush(buffer.Wrap(append([]byte(nil), h.sentinel...)))
	case ReaderIdle:
		h.misses++
		if h.misses >= h.maxMisses {
			h.logger.Warn("peer missed heartbeats, closing",
				zap.String("channel", ctx.Channel().ID()), zap.Int("misses", h.misses))
			ctx.CloseWithCause(&TimeoutError{State: e.State, Misses: h.misses})
			return
		}
	}
	ctx.FireUserEventTriggered(evt)
}
