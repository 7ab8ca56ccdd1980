package codec_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/codec"
	"github.com/czx-lab/netpipe/embedded"
	"github.com/czx-lab/netpipe/pipeline"
)

func outbound(ch *embedded.Channel) []string {
	var got []string
	for b := ch.ReadOutbound(); b != nil; b = ch.ReadOutbound() {
		got = append(got, b.String())
		b.Release()
	}
	return got
}

func TestChunkedWriteHandler(t *testing.T) {
	payload := "abcdefghijklmnopqrst"

	t.Run("WritesInChunks", func(t *testing.T) {
		ch := embedded.New(codec.NewChunkedWriteHandler())
		f := ch.Pipeline().WriteAndFlush(codec.NewChunkedReader(strings.NewReader(payload), 8))
		got := outbound(ch)
		if len(got) != 3 || got[0] != "abcdefgh" || got[2] != "qrst" || strings.Join(got, "") != payload {
			t.Fatalf("chunks = %q", got)
		}
		if !f.IsSuccess() {
			t.Fatalf("future = %v", f.Err())
		}
	})

	t.Run("PausesWhileNotWritable", func(t *testing.T) {
		ch := embedded.New(codec.NewChunkedWriteHandler())
		ch.SetWritable(false)
		f := ch.Pipeline().WriteAndFlush(codec.NewChunkedReader(strings.NewReader(payload), 8))
		if ch.OutboundLen() != 0 || f.IsDone() {
			t.Fatal("wrote while not writable")
		}
		ch.SetWritable(true)
		if got := outbound(ch); strings.Join(got, "") != payload {
			t.Fatalf("chunks = %q", got)
		}
		if !f.IsSuccess() {
			t.Fatalf("future = %v", f.Err())
		}
	})

	t.Run("KeepsOrder", func(t *testing.T) {
		ch := embedded.New(codec.NewChunkedWriteHandler())
		ch.SetWritable(false)
		ch.Pipeline().Write(codec.NewChunkedReader(strings.NewReader(payload), 16))
		ch.Pipeline().WriteAndFlush(buffer.FromString("after"))
		ch.SetWritable(true)
		got := outbound(ch)
		if len(got) != 3 || got[2] != "after" {
			t.Fatalf("chunks = %q", got)
		}
	})

	t.Run("CloseFailsPending", func(t *testing.T) {
		ch := embedded.New(codec.NewChunkedWriteHandler())
		ch.SetWritable(false)
		f := ch.Pipeline().WriteAndFlush(codec.NewChunkedReader(strings.NewReader(payload), 8))
		ch.Close()
		if !errors.Is(f.Err(), pipeline.ErrClosed) {
			t.Fatalf("err = %v", f.Err())
		}
	})
}

func TestChunkedReader(t *testing.T) {
	r := codec.NewChunkedReader(strings.NewReader("abcde"), 2)
	var chunks []string
	for !r.IsEndOfInput() {
		c, err := r.ReadChunk(buffer.Heap{})
		if err != nil {
			t.Fatal(err)
		}
		if c != nil {
			chunks = append(chunks, c.String())
		}
	}
	if strings.Join(chunks, "|") != "ab|cd|e" {
		t.Fatalf("chunks = %q", chunks)
	}
}
