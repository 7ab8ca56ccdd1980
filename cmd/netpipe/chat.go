package main

import (
	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/pipeline"
)

// chatHandler relays every frame to all members of the room, the sender
// included, and announces joins and leaves.
type chatHandler struct {
	pipeline.InboundAdapter
	room *channel.Group
}

func chatHandlers(room *channel.Group) func() pipeline.Handler {
	return func() pipeline.Handler {
		return &chatHandler{room: room}
	}
}

func (h *chatHandler) ChannelActive(ctx *pipeline.Context) {
	h.room.WriteAndFlush(buffer.FromString(ctx.Channel().RemoteAddr().String() + " joined"))
	h.room.Add(ctx.Channel())
	ctx.FireChannelActive()
}

func (h *chatHandler) ChannelInactive(ctx *pipeline.Context) {
	h.room.WriteAndFlushMatching(buffer.FromString(ctx.Channel().RemoteAddr().String()+" left"), channel.Except(ctx.Channel()))
	ctx.FireChannelInactive()
}

func (h *chatHandler) ChannelRead(ctx *pipeline.Context, msg any) {
	if frame, ok := msg.(*buffer.Buffer); ok {
		h.room.WriteAndFlush(frame)
		return
	}
	ctx.FireChannelRead(msg)
}
