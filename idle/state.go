// Package idle detects connections that stopped reading or writing and
// keeps them alive with heartbeats.
package idle

import (
	"fmt"
	"time"

	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/pipeline"
)

// State names the direction that went idle.
type State int

const (
	ReaderIdle State = iota
	WriterIdle
	AllIdle
)

func (s State) String() string {
	switch s {
	case ReaderIdle:
		return "reader_idle"
	case WriterIdle:
		return "writer_idle"
	case AllIdle:
		return "all_idle"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is the user event fired by StateHandler. First is set on the first
// event of a State since the last matching activity.
type Event struct {
	State State
	First bool
}

// Conf holds idle thresholds. A zero threshold disables that check.
type Conf struct {
	ReaderIdle time.Duration `json:",optional"`
	WriterIdle time.Duration `json:",optional"`
	AllIdle    time.Duration `json:",optional"`
	// Tick is the check interval; it defaults to the smallest threshold.
	Tick time.Duration `json:",optional"`
}

func (c Conf) enabled() bool {
	return c.ReaderIdle > 0 || c.WriterIdle > 0 || c.AllIdle > 0
}

func defaultConf(conf *Conf) {
	if conf.Tick > 0 {
		return
	}
	for _, d := range []time.Duration{conf.ReaderIdle, conf.WriterIdle, conf.AllIdle} {
		if d > 0 && (conf.Tick == 0 || d < conf.Tick) {
			conf.Tick = d
		}
	}
}

const (
	stateIdle = iota
	stateStarted
	stateDestroyed
)

// StateHandler fires an Event every tick while a direction has been idle
// for at least its threshold. Reads count when they complete; writes count
// once the transport accepted them.
type StateHandler struct {
	pipeline.DuplexAdapter
	conf Conf

	state     int
	exec      eventloop.Executor
	ticker    *eventloop.Future
	reading   bool
	lastRead  time.Time
	lastWrite time.Time
	first     [3]bool
}

// NewStateHandler returns a handler for conf.
func NewStateHandler(conf Conf) *StateHandler {
	defaultConf(&conf)
	return &StateHandler{conf: conf}
}

// LastRead returns the time of the last completed read.
func (h *StateHandler) LastRead() time.Time { return h.lastRead }

// LastWrite returns the time of the last completed write.
func (h *StateHandler) LastWrite() time.Time { return h.lastWrite }

// HandlerAdded implements pipeline.LifecycleAware.
func (h *StateHandler) HandlerAdded(ctx *pipeline.Context) {
	if ctx.Channel().IsActive() {
		h.start(ctx)
	}
}

// HandlerRemoved implements pipeline.LifecycleAware.
func (h *StateHandler) HandlerRemoved(*pipeline.Context) {
	h.destroy()
}

func (h *StateHandler) ChannelActive(ctx *pipeline.Context) {
	h.start(ctx)
	ctx.FireChannelActive()
}

func (h *StateHandler) ChannelInactive(ctx *pipeline.Context) {
	h.destroy()
	ctx.FireChannelInactive()
}

func (h *StateHandler) ChannelRead(ctx *pipeline.Context, msg any) {
	if h.conf.ReaderIdle > 0 || h.conf.AllIdle > 0 {
		h.reading = true
		h.first[ReaderIdle], h.first[AllIdle] = true, true
	}
	ctx.FireChannelRead(msg)
}

func (h *StateHandler) ChannelReadComplete(ctx *pipeline.Context) {
	if h.reading {
		h.reading = false
		h.lastRead = ctx.Executor().Now()
	}
	ctx.FireChannelReadComplete()
}

func (h *StateHandler) Write(ctx *pipeline.Context, msg any, f *eventloop.Future) {
	if h.conf.WriterIdle > 0 || h.conf.AllIdle > 0 {
		f.AddListener(func(f *eventloop.Future) {
			if f.IsSuccess() {
				h.lastWrite = ctx.Executor().Now()
				h.first[WriterIdle], h.first[AllIdle] = true, true
			}
		})
	}
	ctx.WriteWithFuture(msg, f)
}

func (h *StateHandler) start(ctx *pipeline.Context) {
	if h.state != stateIdle || !h.conf.enabled() {
		return
	}
	h.state = stateStarted
	h.exec = ctx.Executor()
	now := h.exec.Now()
	h.lastRead, h.lastWrite = now, now
	h.first = [3]bool{true, true, true}
	h.schedule(ctx)
}

func (h *StateHandler) destroy() {
	h.state = stateDestroyed
	if h.ticker != nil {
		h.ticker.Cancel()
		h.ticker = nil
	}
}

func (h *StateHandler) schedule(ctx *pipeline.Context) {
	h.ticker = h.exec.Schedule(h.conf.Tick, func() { h.tick(ctx) })
}

func (h *StateHandler) tick(ctx *pipeline.Context) {
	if h.state != stateStarted || !ctx.Channel().IsActive() {
		return
	}
	now := h.exec.Now()
	lastRead := h.lastRead
	if h.reading {
		lastRead = now
	}
	lastAny := lastRead
	if h.lastWrite.After(lastAny) {
		lastAny = h.lastWrite
	}

	h.check(ctx, ReaderIdle, h.conf.ReaderIdle, now.Sub(lastRead))
	h.check(ctx, WriterIdle, h.conf.WriterIdle, now.Sub(h.lastWrite))
	h.check(ctx, AllIdle, h.conf.AllIdle, now.Sub(lastAny))

	// An event handler may have closed the channel.
	if h.state == stateStarted {
		h.schedule(ctx)
	}
}

func (h *StateHandler) check(ctx *pipeline.Context, s State, threshold, idle time.Duration) {
	if threshold <= 0 || idle < threshold || h.state != stateStarted {
		return
	}
	first := h.first[s]
	h.first[s] = false
	ctx.FireUserEventTriggered(Event{State: s, First: first})
}
