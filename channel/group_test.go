package channel_test

import (
	"testing"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/embedded"
)

func TestGroup(t *testing.T) {
	t.Run("BroadcastReleasesEveryReference", func(t *testing.T) {
		g := channel.NewGroup(t.Name())
		members := []*embedded.Channel{embedded.New(), embedded.New(), embedded.New()}
		for _, ch := range members {
			if !g.Add(ch) {
				t.Fatalf("%s not added", ch.ID())
			}
		}
		if g.Add(members[0]) {
			t.Fatal("member added twice")
		}

		msg := buffer.FromString("hello")
		msg.Skip(1)
		f := g.WriteAndFlush(msg)
		if !f.IsDone() || f.Err() != nil {
			t.Fatalf("broadcast future done=%v err=%v", f.IsDone(), f.Err())
		}
		if got := msg.RefCnt(); got != int32(len(members)) {
			t.Fatalf("refCnt after fan-out = %d, want one per member", got)
		}
		for _, ch := range members {
			out := ch.ReadOutbound()
			if out == nil || out.String() != "ello" {
				t.Fatalf("%s received %v", ch.ID(), out)
			}
			// cursors are per member
			out.Skip(out.ReadableBytes())
			out.Release()
		}
		if got := msg.RefCnt(); got != 0 {
			t.Fatalf("refCnt after members released = %d", got)
		}
	})

	t.Run("Except", func(t *testing.T) {
		g := channel.NewGroup(t.Name())
		sender, other := embedded.New(), embedded.New()
		g.Add(sender)
		g.Add(other)
		g.WriteAndFlushMatching(buffer.FromString("hi"), channel.Except(sender))
		if sender.OutboundLen() != 0 || other.OutboundLen() != 1 {
			t.Fatalf("outbound sender=%d other=%d", sender.OutboundLen(), other.OutboundLen())
		}
	})

	t.Run("ClosedMemberLeaves", func(t *testing.T) {
		g := channel.NewGroup(t.Name())
		a, b := embedded.New(), embedded.New()
		g.Add(a)
		g.Add(b)
		a.Close()
		if g.Contains(a) || g.Len() != 1 {
			t.Fatalf("closed member still in group, len=%d", g.Len())
		}
		if _, ok := g.Find(b.ID()); !ok {
			t.Fatal("open member missing")
		}
	})

	t.Run("Close", func(t *testing.T) {
		g := channel.NewGroup(t.Name())
		a, b := embedded.New(), embedded.New()
		g.Add(a)
		g.Add(b)
		if err := g.Close().Err(); err != nil {
			t.Fatal(err)
		}
		if !a.IsClosed() || !b.IsClosed() || g.Len() != 0 {
			t.Fatalf("closed=%v/%v len=%d", a.IsClosed(), b.IsClosed(), g.Len())
		}
	})

	t.Run("Empty", func(t *testing.T) {
		g := channel.NewGroup(t.Name())
		msg := buffer.FromString("nobody")
		if err := g.WriteAndFlush(msg).Err(); err != nil {
			t.Fatal(err)
		}
		if msg.RefCnt() != 0 {
			t.Fatal("message not released")
		}
	})
}
