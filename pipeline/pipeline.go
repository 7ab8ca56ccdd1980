// Package pipeline implements the per-channel handler chain.
//
// Inbound events travel from the head to the tail, outbound operations
// from the tail to the head. Each step skips handlers that do not implement
// the direction of the event. The chain may be changed at any time, also
// from inside a callback: mutations take a lock, propagation does not.
package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/xlog"
	"go.uber.org/zap"
)

const (
	headName = "head"
	tailName = "tail"
)

// Pipeline is the ordered handler chain of one channel.
type Pipeline struct {
	mu         sync.Mutex
	ch         Channel
	head, tail *Context
	names      map[string]*Context
	registered atomic.Bool
	logger     *zap.Logger
}

// New returns an empty pipeline for ch.
func New(ch Channel) *Pipeline {
	p := &Pipeline{
		ch:     ch,
		names:  make(map[string]*Context),
		logger: xlog.Named("pipeline").With(zap.String("channel", ch.ID())),
	}
	p.head = newContext(p, headName, &headHandler{})
	p.tail = newContext(p, tailName, &tailHandler{logger: p.logger})
	p.head.next.Store(p.tail)
	p.tail.prev.Store(p.head)
	return p
}

func (p *Pipeline) Channel() Channel { return p.ch }

// AddFirst inserts h right after the head.
func (p *Pipeline) AddFirst(name string, h Handler) error {
	return p.add(name, h, func() (*Context, error) { return p.head, nil })
}

// AddLast inserts h right before the tail.
func (p *Pipeline) AddLast(name string, h Handler) error {
	return p.add(name, h, func() (*Context, error) { return p.tail.prev.Load(), nil })
}

// AddBefore inserts h in front of the handler named base.
func (p *Pipeline) AddBefore(base, name string, h Handler) error {
	return p.add(name, h, func() (*Context, error) {
		ctx, ok := p.names[base]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchHandler, base)
		}
		return ctx.prev.Load(), nil
	})
}

// AddAfter inserts h behind the handler named base.
func (p *Pipeline) AddAfter(base, name string, h Handler) error {
	return p.add(name, h, func() (*Context, error) {
		ctx, ok := p.names[base]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchHandler, base)
		}
		return ctx, nil
	})
}

// AddLastAll appends handlers with generated names.
func (p *Pipeline) AddLastAll(hs ...Handler) error {
	for _, h := range hs {
		if err := p.AddLast("", h); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) add(name string, h Handler, position func() (*Context, error)) error {
	p.mu.Lock()
	prev, err := position()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	ctx, err := p.newContextLocked(name, h, nil)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.insertAfter(prev, ctx)
	p.mu.Unlock()

	p.callHandlerAdded(ctx)
	return nil
}

func (p *Pipeline) newContextLocked(name string, h Handler, replacing *Context) (*Context, error) {
	if h == nil {
		return nil, fmt.Errorf("pipeline: nil handler %q", name)
	}
	if name == "" {
		name = p.generateName(h)
	}
	if name == headName || name == tailName {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	if existing, ok := p.names[name]; ok && existing != replacing {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	if err := attach(h); err != nil {
		return nil, fmt.Errorf("%w: %T", err, h)
	}
	ctx := newContext(p, name, h)
	p.names[name] = ctx
	return ctx, nil
}

func (p *Pipeline) generateName(h Handler) string {
	base := fmt.Sprintf("%T", h)
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s#%d", base, i)
		if _, ok := p.names[name]; !ok {
			return name
		}
	}
}

func (p *Pipeline) insertAfter(prev, ctx *Context) {
	next := prev.next.Load()
	ctx.prev.Store(prev)
	ctx.next.Store(next)
	prev.next.Store(ctx)
	next.prev.Store(ctx)
}

func (p *Pipeline) unlinkLocked(ctx *Context) {
	prev, next := ctx.prev.Load(), ctx.next.Load()
	prev.next.Store(next)
	next.prev.Store(prev)
	delete(p.names, ctx.name)
	ctx.removed.Store(true)
	detach(ctx.handler)
}

// Remove takes the handler named name out of the chain and returns it.
func (p *Pipeline) Remove(name string) (Handler, error) {
	p.mu.Lock()
	ctx, ok := p.names[name]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoSuchHandler, name)
	}
	p.unlinkLocked(ctx)
	p.mu.Unlock()

	p.callHandlerRemoved(ctx)
	return ctx.handler, nil
}

// RemoveHandler takes the given instance out of the chain.
func (p *Pipeline) RemoveHandler(h Handler) error {
	ctx := p.ContextOf(h)
	if ctx == nil {
		return fmt.Errorf("%w: %T", ErrNoSuchHandler, h)
	}
	_, err := p.Remove(ctx.name)
	return err
}

// Replace swaps the handler named oldName for h registered as newName and
// returns the old handler.
func (p *Pipeline) Replace(oldName, newName string, h Handler) (Handler, error) {
	p.mu.Lock()
	old, ok := p.names[oldName]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoSuchHandler, oldName)
	}
	ctx, err := p.newContextLocked(newName, h, old)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	prev, next := old.prev.Load(), old.next.Load()
	ctx.prev.Store(prev)
	ctx.next.Store(next)
	prev.next.Store(ctx)
	next.prev.Store(ctx)
	if old.name != ctx.name {
		delete(p.names, old.name)
	}
	old.removed.Store(true)
	detach(old.handler)
	p.mu.Unlock()

	p.callHandlerAdded(ctx)
	p.callHandlerRemoved(old)
	return old.handler, nil
}

// Get returns the handler named name, or nil.
func (p *Pipeline) Get(name string) Handler {
	if ctx := p.Context(name); ctx != nil {
		return ctx.handler
	}
	return nil
}

// Context returns the context of the handler named name, or nil.
func (p *Pipeline) Context(name string) *Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.names[name]
}

// ContextOf returns the context holding h, or nil.
func (p *Pipeline) ContextOf(h Handler) *Context {
	p.mu.Lock()
	defer p.mu.Unlock()

	for c := p.head.next.Load(); c != p.tail; c = c.next.Load() {
		if c.handler == h {
			return c
		}
	}
	return nil
}

// Names lists handler names from head to tail, sentinels excluded.
func (p *Pipeline) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var names []string
	for c := p.head.next.Load(); c != p.tail; c = c.next.Load() {
		names = append(names, c.name)
	}
	return names
}

// Handlers lists handlers from head to tail, sentinels excluded.
func (p *Pipeline) Handlers() []Handler {
	p.mu.Lock()
	defer p.mu.Unlock()

	var hs []Handler
	for c := p.head.next.Load(); c != p.tail; c = c.next.Load() {
		hs = append(hs, c.handler)
	}
	return hs
}

// callLifecycle runs fn on the executor once the channel is registered,
// inline before that.
func (p *Pipeline) callLifecycle(fn func()) {
	exec := p.ch.Executor()
	if !p.registered.Load() || exec.InLoop() {
		fn()
		return
	}
	if err := exec.Execute(fn); err != nil {
		fn()
	}
}

func (p *Pipeline) callHandlerAdded(ctx *Context) {
	la, ok := ctx.handler.(LifecycleAware)
	if !ok {
		return
	}
	p.callLifecycle(func() {
		defer ctx.recoverInbound(ctx.inbound == nil)
		la.HandlerAdded(ctx)
	})
}

func (p *Pipeline) callHandlerRemoved(ctx *Context) {
	la, ok := ctx.handler.(LifecycleAware)
	if !ok {
		return
	}
	p.callLifecycle(func() {
		defer ctx.recoverInbound(true)
		la.HandlerRemoved(ctx)
	})
}

// inbound runs fn on the channel executor.
func (p *Pipeline) inbound(fn func()) {
	exec := p.ch.Executor()
	if exec.InLoop() {
		fn()
		return
	}
	if err := exec.Execute(fn); err != nil {
		p.logger.Warn("inbound event dropped", zap.Error(err))
	}
}

func (p *Pipeline) FireChannelRegistered() {
	p.inbound(func() {
		p.registered.Store(true)
		p.head.FireChannelRegistered()
	})
}

// FireChannelUnregistered fires the last event of a channel and then
// removes every handler so their HandlerRemoved callbacks run.
func (p *Pipeline) FireChannelUnregistered() {
	p.inbound(func() {
		p.head.FireChannelUnregistered()
		p.destroy()
	})
}

func (p *Pipeline) destroy() {
	for _, name := range p.Names() {
		p.Remove(name)
	}
}

func (p *Pipeline) FireChannelActive() {
	p.inbound(p.head.FireChannelActive)
}

func (p *Pipeline) FireChannelInactive() {
	p.inbound(p.head.FireChannelInactive)
}

func (p *Pipeline) FireChannelRead(msg any) {
	p.inbound(func() { p.head.FireChannelRead(msg) })
}

func (p *Pipeline) FireChannelReadComplete() {
	p.inbound(p.head.FireChannelReadComplete)
}

func (p *Pipeline) FireUserEventTriggered(evt any) {
	p.inbound(func() { p.head.FireUserEventTriggered(evt) })
}

func (p *Pipeline) FireChannelWritabilityChanged() {
	p.inbound(p.head.FireChannelWritabilityChanged)
}

func (p *Pipeline) FireErrorCaught(err error) {
	p.inbound(func() { p.head.FireErrorCaught(err) })
}

// Write starts msg at the tail.
func (p *Pipeline) Write(msg any) *eventloop.Future {
	return p.tail.Write(msg)
}

func (p *Pipeline) WriteAndFlush(msg any) *eventloop.Future {
	return p.tail.WriteAndFlush(msg)
}

func (p *Pipeline) Flush() {
	p.tail.Flush()
}

// Close closes the channel with cause starting at the tail.
func (p *Pipeline) Close(cause error) *eventloop.Future {
	return p.tail.CloseWithCause(cause)
}

// headHandler hands bytes to the transport.
type headHandler struct{}

func (*headHandler) Write(ctx *Context, msg any, f *eventloop.Future) {
	var b *buffer.Buffer
	switch m := msg.(type) {
	case *buffer.Buffer:
		b = m
	case []byte:
		b = buffer.Wrap(m)
	default:
		SafeRelease(msg)
		err := NewEncodeError(msg, nil)
		f.Complete(err)
		ctx.pipeline.head.FireErrorCaught(err)
		return
	}
	ctx.Channel().Unsafe().Write(b, f)
}

func (*headHandler) Flush(ctx *Context) {
	ctx.Channel().Unsafe().Flush()
}

func (*headHandler) Close(ctx *Context, cause error, f *eventloop.Future) {
	ctx.Channel().Unsafe().Close(cause, f)
}

// tailHandler is the terminal stage: it discards what nobody consumed and
// closes the channel on unhandled errors.
type tailHandler struct {
	InboundAdapter
	logger *zap.Logger
}

func (*tailHandler) ChannelRegistered(*Context)         {}
func (*tailHandler) ChannelUnregistered(*Context)       {}
func (*tailHandler) ChannelActive(*Context)             {}
func (*tailHandler) ChannelInactive(*Context)           {}
func (*tailHandler) ChannelReadComplete(*Context)       {}
func (*tailHandler) ChannelWritabilityChanged(*Context) {}

func (t *tailHandler) ChannelRead(ctx *Context, msg any) {
	t.logger.Debug("discarded inbound message that reached the tail", zap.String("type", fmt.Sprintf("%T", msg)))
	SafeRelease(msg)
}

func (t *tailHandler) UserEventTriggered(ctx *Context, evt any) {
	SafeRelease(evt)
}

func (t *tailHandler) ErrorCaught(ctx *Context, err error) {
	t.logger.Error("unrecoverable error reached the tail, closing channel",
		zap.Error(err), zap.Stringer("reason", ReasonOf(err)))
	ctx.CloseWithCause(err)
}
