package channel

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/container/cmap"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/pipeline"
	"github.com/czx-lab/netpipe/xlog"
)

type (
	// Group is a named set of channels. A channel leaves the group on its
	// own once it closes.
	Group struct {
		name    string
		members *cmap.CMap[string, pipeline.Channel]
		logger  *zap.Logger
	}
	// Matcher selects the members an operation applies to.
	Matcher func(pipeline.Channel) bool
)

// All matches every member.
func All() Matcher {
	return func(pipeline.Channel) bool { return true }
}

// Except matches every member but ch.
func Except(ch pipeline.Channel) Matcher {
	return func(m pipeline.Channel) bool { return m != ch }
}

func NewGroup(name string) *Group {
	return &Group{
		name:    name,
		members: cmap.New[string, pipeline.Channel](),
		logger:  xlog.Named("group").With(zap.String("group", name)),
	}
}

func (g *Group) Name() string { return g.name }

func (g *Group) Len() int { return g.members.Len() }

// Add puts ch in the group. It reports false when ch already is a member.
func (g *Group) Add(ch pipeline.Channel) bool {
	if _, loaded := g.members.SetIfAbsent(ch.ID(), ch); loaded {
		return false
	}
	ch.CloseFuture().AddListener(func(*eventloop.Future) {
		g.remove(ch)
	})
	return true
}

// Remove takes ch out of the group.
func (g *Group) Remove(ch pipeline.Channel) bool {
	return g.remove(ch)
}

func (g *Group) remove(ch pipeline.Channel) bool {
	if cur, ok := g.members.Get(ch.ID()); !ok || cur != ch {
		return false
	}
	g.members.Delete(ch.ID())
	return true
}

func (g *Group) Contains(ch pipeline.Channel) bool {
	cur, ok := g.members.Get(ch.ID())
	return ok && cur == ch
}

// Find returns the member with the given id.
func (g *Group) Find(id string) (pipeline.Channel, bool) {
	return g.members.Get(id)
}

func (g *Group) match(m Matcher) []pipeline.Channel {
	var out []pipeline.Channel
	for _, ch := range g.members.Values() {
		if m == nil || m(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// WriteAndFlush writes msg to every member. See WriteAndFlushMatching.
func (g *Group) WriteAndFlush(msg any) *eventloop.Future {
	return g.WriteAndFlushMatching(msg, All())
}

// WriteAndFlushMatching writes msg to the members selected by m. The group
// takes ownership of msg: a buffer is handed to each member as a retained
// slice with its own cursors and released once fanned out. The returned
// future completes when every write did, failing with the joined errors.
func (g *Group) WriteAndFlushMatching(msg any, m Matcher) *eventloop.Future {
	members := g.match(m)
	futures := make([]*eventloop.Future, 0, len(members))
	var errs []error
	for _, ch := range members {
		out := msg
		if b, ok := msg.(*buffer.Buffer); ok {
			dup, err := b.RetainedSlice(b.ReaderIndex(), b.ReadableBytes())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = dup
		}
		futures = append(futures, ch.Pipeline().WriteAndFlush(out))
	}
	pipeline.SafeRelease(msg)
	if len(errs) > 0 {
		g.logger.Warn("broadcast skipped members", zap.Int("skipped", len(errs)), zap.Error(errors.Join(errs...)))
	}
	return join(futures, errs)
}

// Close closes every member.
func (g *Group) Close() *eventloop.Future {
	members := g.match(nil)
	futures := make([]*eventloop.Future, 0, len(members))
	for _, ch := range members {
		futures = append(futures, ch.Pipeline().Close(nil))
	}
	return join(futures, nil)
}

// join completes once all futures are done with the errors of the failed
// ones, errs included.
func join(futures []*eventloop.Future, errs []error) *eventloop.Future {
	f := eventloop.NewFuture(nil)
	if len(futures) == 0 {
		f.Complete(errors.Join(errs...))
		return f
	}
	var (
		mu        sync.Mutex
		remaining = len(futures)
	)
	for _, each := range futures {
		each.AddListener(func(done *eventloop.Future) {
			mu.Lock()
			if err := done.Err(); err != nil {
				errs = append(errs, err)
			}
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				f.Complete(errors.Join(errs...))
			}
		})
	}
	return f
}
