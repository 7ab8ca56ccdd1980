package codec_test

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/codec"
	"github.com/czx-lab/netpipe/embedded"
	"github.com/czx-lab/netpipe/pipeline"
)

// drain pops every inbound frame as a string and releases it.
func drain(t *testing.T, ch *embedded.Channel) []string {
	t.Helper()
	var got []string
	for m := ch.ReadInbound(); m != nil; m = ch.ReadInbound() {
		b, ok := m.(*buffer.Buffer)
		if !ok {
			t.Fatalf("frame type %T", m)
		}
		got = append(got, b.String())
		if _, err := b.Release(); err != nil {
			t.Fatalf("release frame: %v", err)
		}
	}
	return got
}

func errs(ch *embedded.Channel) []error {
	var out []error
	for err := ch.Err(); err != nil; err = ch.Err() {
		out = append(out, err)
	}
	return out
}

func feed(ch *embedded.Channel, chunks ...string) {
	for _, c := range chunks {
		ch.WriteInbound(buffer.FromString(c))
	}
}

// splitInvariant feeds input split at every pair of points and checks that
// the frames never depend on the split.
func splitInvariant(t *testing.T, newDecoder func() codec.FrameDecoder, input string, want []string) {
	t.Helper()
	for i := 0; i <= len(input); i++ {
		for j := i; j <= len(input); j++ {
			ch := embedded.New(codec.NewDecoder(newDecoder()))
			feed(ch, input[:i], input[i:j], input[j:])
			if got := drain(t, ch); !reflect.DeepEqual(got, want) {
				t.Fatalf("split %d/%d: frames = %q, want %q", i, j, got, want)
			}
			if e := errs(ch); len(e) != 0 {
				t.Fatalf("split %d/%d: errors %v", i, j, e)
			}
		}
	}
}

func mustFixed(t *testing.T, n int) *codec.FixedLengthDecoder {
	t.Helper()
	d, err := codec.NewFixedLengthDecoder(n)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func mustDelimiter(t *testing.T, conf codec.DelimiterConf) *codec.DelimiterDecoder {
	t.Helper()
	d, err := codec.NewDelimiterDecoder(conf)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func mustLengthField(t *testing.T, conf codec.LengthFieldConf) *codec.LengthFieldDecoder {
	t.Helper()
	d, err := codec.NewLengthFieldDecoder(conf)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestFixedLengthDecoder(t *testing.T) {
	t.Run("SplitInvariance", func(t *testing.T) {
		splitInvariant(t, func() codec.FrameDecoder { return mustFixed(t, 3) }, "ABCDEFGHI", []string{"ABC", "DEF", "GHI"})
	})

	t.Run("PartialTailKept", func(t *testing.T) {
		dec := codec.NewDecoder(mustFixed(t, 4))
		ch := embedded.New(dec)
		feed(ch, "ABCDEF")
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"ABCD"}) {
			t.Fatalf("frames = %q", got)
		}
		if dec.Buffered() != 2 {
			t.Fatalf("buffered = %d", dec.Buffered())
		}
	})

	t.Run("InvalidLength", func(t *testing.T) {
		if _, err := codec.NewFixedLengthDecoder(0); !errors.Is(err, codec.ErrInvalidConf) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestDelimiterDecoder(t *testing.T) {
	dollar := [][]byte{[]byte("$$__")}

	t.Run("Scenario", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustDelimiter(t, codec.DelimiterConf{Delimiters: dollar, MaxFrameLength: 64})))
		feed(ch, "AB$$__CD$$__")
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"AB", "CD"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("SplitInvariance", func(t *testing.T) {
		splitInvariant(t, func() codec.FrameDecoder {
			return mustDelimiter(t, codec.DelimiterConf{Delimiters: dollar, MaxFrameLength: 64})
		}, "AB$$__CD$$__EFG$$__", []string{"AB", "CD", "EFG"})
	})

	t.Run("ShortestFrameWins", func(t *testing.T) {
		d, err := codec.NewLineDecoder(64, false)
		if err != nil {
			t.Fatal(err)
		}
		ch := embedded.New(codec.NewDecoder(d))
		feed(ch, "ab\r\ncd\n")
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"ab", "cd"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("KeepDelimiter", func(t *testing.T) {
		d, err := codec.NewLineDecoder(64, true)
		if err != nil {
			t.Fatal(err)
		}
		ch := embedded.New(codec.NewDecoder(d))
		feed(ch, "ab\r\ncd\n")
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"ab\r\n", "cd\n"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("TooLongWithDelimiterPresent", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustDelimiter(t, codec.DelimiterConf{Delimiters: dollar, MaxFrameLength: 2})))
		feed(ch, "ABC$$__DE$$__")
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"DE"}) {
			t.Fatalf("frames = %q", got)
		}
		e := errs(ch)
		var de *codec.DecodeError
		if len(e) != 1 || !errors.As(e[0], &de) || de.Length != 3 {
			t.Fatalf("errors = %v", e)
		}
	})

	t.Run("FailFastDiscard", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustDelimiter(t, codec.DelimiterConf{Delimiters: dollar, MaxFrameLength: 4, FailFast: true})))
		feed(ch, "ABCDEF")
		e := errs(ch)
		var de *codec.DecodeError
		if len(e) != 1 || !errors.As(e[0], &de) || de.Length != 6 || !errors.Is(e[0], codec.ErrTooLongFrame) {
			t.Fatalf("errors after first read = %v", e)
		}
		feed(ch, "G$$__XY$$__")
		if e := errs(ch); len(e) != 0 {
			t.Fatalf("errors after resync = %v", e)
		}
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"XY"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("SplitInvarianceAfterTooLong", func(t *testing.T) {
		const input = "TOOLONG$$__CD$$__"
		for _, failFast := range []bool{true, false} {
			for i := 0; i <= len(input); i++ {
				for j := i; j <= len(input); j++ {
					ch := embedded.New(codec.NewDecoder(mustDelimiter(t, codec.DelimiterConf{Delimiters: dollar, MaxFrameLength: 4, FailFast: failFast})))
					feed(ch, input[:i], input[i:j], input[j:])
					if got := drain(t, ch); !reflect.DeepEqual(got, []string{"CD"}) {
						t.Fatalf("failFast=%v split %d/%d: frames = %q", failFast, i, j, got)
					}
					e := errs(ch)
					if len(e) != 1 || !errors.Is(e[0], codec.ErrTooLongFrame) {
						t.Fatalf("failFast=%v split %d/%d: errors = %v", failFast, i, j, e)
					}
					var de *codec.DecodeError
					if !failFast && (!errors.As(e[0], &de) || de.Length != 7) {
						t.Fatalf("split %d/%d: reported length %v", i, j, e[0])
					}
				}
			}
		}
	})

	t.Run("FailAfterFullScan", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustDelimiter(t, codec.DelimiterConf{Delimiters: dollar, MaxFrameLength: 4})))
		feed(ch, "ABCDEF")
		if e := errs(ch); len(e) != 0 {
			t.Fatalf("errors before delimiter = %v", e)
		}
		feed(ch, "G$$__XY$$__")
		e := errs(ch)
		var de *codec.DecodeError
		if len(e) != 1 || !errors.As(e[0], &de) || de.Length != 7 {
			t.Fatalf("errors = %v", e)
		}
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"XY"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("InvalidConf", func(t *testing.T) {
		for _, conf := range []codec.DelimiterConf{
			{MaxFrameLength: 4},
			{Delimiters: [][]byte{{}}, MaxFrameLength: 4},
			{Delimiters: dollar},
		} {
			if _, err := codec.NewDelimiterDecoder(conf); !errors.Is(err, codec.ErrInvalidConf) {
				t.Fatalf("conf %+v: err = %v", conf, err)
			}
		}
	})
}

func TestLengthFieldDecoder(t *testing.T) {
	hello := "\x00\x00\x00\x05hello"

	t.Run("NoStrip", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustLengthField(t, codec.LengthFieldConf{MaxFrameLength: 1024, LengthFieldLength: 4})))
		feed(ch, hello)
		got := drain(t, ch)
		if len(got) != 1 || got[0] != hello || !bytes.HasSuffix([]byte(got[0]), []byte("hello")) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("StripHeader", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustLengthField(t, codec.LengthFieldConf{MaxFrameLength: 1024, LengthFieldLength: 4, InitialBytesToStrip: 4})))
		feed(ch, hello)
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"hello"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("SplitInvariance", func(t *testing.T) {
		splitInvariant(t, func() codec.FrameDecoder {
			return mustLengthField(t, codec.LengthFieldConf{MaxFrameLength: 1024, LengthFieldLength: 4, InitialBytesToStrip: 4})
		}, hello+"\x00\x00\x00\x02hi\x00\x00\x00\x00", []string{"hello", "hi", ""})
	})

	t.Run("MaxFrameLengthBoundary", func(t *testing.T) {
		conf := codec.LengthFieldConf{MaxFrameLength: 5, LengthFieldLength: 4, InitialBytesToStrip: 4}
		ch := embedded.New(codec.NewDecoder(mustLengthField(t, conf)))
		feed(ch, hello)
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"hello"}) {
			t.Fatalf("frames at max = %q", got)
		}

		feed(ch, "\x00\x00\x00\x06hello!")
		if got := drain(t, ch); len(got) != 0 {
			t.Fatalf("frames above max = %q", got)
		}
		e := errs(ch)
		var de *codec.DecodeError
		if len(e) != 1 || !errors.As(e[0], &de) || de.Length != 6 || de.Max != 5 {
			t.Fatalf("errors = %v", e)
		}
		if pipeline.ReasonOf(e[0]) != pipeline.ReasonFrameTooLong {
			t.Fatalf("reason = %v", pipeline.ReasonOf(e[0]))
		}
	})

	t.Run("DiscardAcrossReads", func(t *testing.T) {
		for _, failFast := range []bool{true, false} {
			conf := codec.LengthFieldConf{MaxFrameLength: 5, LengthFieldLength: 4, InitialBytesToStrip: 4, FailFast: failFast}
			ch := embedded.New(codec.NewDecoder(mustLengthField(t, conf)))
			feed(ch, "\x00\x00\x00\x0aabcdef")
			first := len(errs(ch))
			feed(ch, "ghij\x00\x00\x00\x02hi")
			second := len(errs(ch))
			if failFast && (first != 1 || second != 0) || !failFast && (first != 0 || second != 1) {
				t.Fatalf("failFast=%v: errors per read = %d, %d", failFast, first, second)
			}
			if got := drain(t, ch); !reflect.DeepEqual(got, []string{"hi"}) {
				t.Fatalf("failFast=%v: frames = %q", failFast, got)
			}
		}
	})

	t.Run("LengthIncludesHeader", func(t *testing.T) {
		conf := codec.LengthFieldConf{MaxFrameLength: 1024, LengthFieldLength: 2, LengthAdjustment: -2, InitialBytesToStrip: 2}
		ch := embedded.New(codec.NewDecoder(mustLengthField(t, conf)))
		feed(ch, "\x00\x07hello")
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"hello"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("OffsetAndExtraHeader", func(t *testing.T) {
		conf := codec.LengthFieldConf{MaxFrameLength: 1024, LengthFieldOffset: 1, LengthFieldLength: 2, LengthAdjustment: 1, InitialBytesToStrip: 3}
		ch := embedded.New(codec.NewDecoder(mustLengthField(t, conf)))
		feed(ch, "\xca\x00\x0c\xfeHELLO, WORLD")
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"\xfeHELLO, WORLD"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("LittleEndianThreeBytes", func(t *testing.T) {
		conf := codec.LengthFieldConf{MaxFrameLength: 1024, LengthFieldLength: 3, InitialBytesToStrip: 3, LittleEndian: true}
		ch := embedded.New(codec.NewDecoder(mustLengthField(t, conf)))
		feed(ch, "\x05\x00\x00hello")
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"hello"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("Corrupted", func(t *testing.T) {
		conf := codec.LengthFieldConf{MaxFrameLength: 1024, LengthFieldLength: 2, LengthAdjustment: -4}
		ch := embedded.New(codec.NewDecoder(mustLengthField(t, conf)))
		feed(ch, "\x00\x01")
		e := errs(ch)
		if len(e) != 1 || !errors.Is(e[0], codec.ErrCorruptedFrame) {
			t.Fatalf("errors = %v", e)
		}
		if pipeline.ReasonOf(e[0]) != pipeline.ReasonDecodeError {
			t.Fatalf("reason = %v", pipeline.ReasonOf(e[0]))
		}
	})

	t.Run("InvalidConf", func(t *testing.T) {
		for _, conf := range []codec.LengthFieldConf{
			{MaxFrameLength: 10, LengthFieldLength: 5},
			{LengthFieldLength: 4},
			{MaxFrameLength: 10, LengthFieldLength: 4, InitialBytesToStrip: -1},
		} {
			if _, err := codec.NewLengthFieldDecoder(conf); !errors.Is(err, codec.ErrInvalidConf) {
				t.Fatalf("conf %+v: err = %v", conf, err)
			}
		}
	})
}

func TestByteToMessageDecoder(t *testing.T) {
	t.Run("UnhandledDecodeErrorCloses", func(t *testing.T) {
		conf := codec.LengthFieldConf{MaxFrameLength: 4, LengthFieldLength: 4, FailFast: true}
		ch := embedded.NewRaw(codec.NewDecoder(mustLengthField(t, conf)))
		ch.WriteInbound(buffer.FromString("\x00\x00\x00\x09"))
		if !ch.IsClosed() {
			t.Fatal("channel left open")
		}
		if r := pipeline.ReasonOf(ch.CloseFuture().Err()); r != pipeline.ReasonFrameTooLong {
			t.Fatalf("close reason = %v", r)
		}
	})

	t.Run("FramesOutliveCumulationGrowth", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustFixed(t, 2)))
		feed(ch, "ABC")
		first := ch.ReadInbound().(*buffer.Buffer)
		feed(ch, "D")
		if first.String() != "AB" {
			t.Fatalf("first frame = %q", first.String())
		}
		first.Release()
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"CD"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("ByteSlicesAccepted", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustFixed(t, 2)))
		ch.WriteInbound([]byte("ABCD"))
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"AB", "CD"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("OtherMessagesForwarded", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustFixed(t, 2)))
		ch.WriteInbound(42)
		if got := ch.ReadInbound(); got != 42 {
			t.Fatalf("got %v", got)
		}
	})

	t.Run("RemovalForwardsPending", func(t *testing.T) {
		dec := codec.NewDecoder(mustDelimiter(t, codec.DelimiterConf{Delimiters: [][]byte{[]byte("$$__")}, MaxFrameLength: 64}))
		ch := embedded.New(dec)
		feed(ch, "AB$$__CD")
		if err := ch.Pipeline().RemoveHandler(dec); err != nil {
			t.Fatal(err)
		}
		if got := drain(t, ch); !reflect.DeepEqual(got, []string{"AB", "CD"}) {
			t.Fatalf("frames = %q", got)
		}
	})

	t.Run("InactiveReleasesPartialFrame", func(t *testing.T) {
		ch := embedded.New(codec.NewDecoder(mustFixed(t, 4)))
		in := buffer.FromString("AB")
		ch.WriteInbound(in)
		ch.Close()
		if in.RefCnt() != 0 {
			t.Fatalf("refCnt = %d", in.RefCnt())
		}
		if ch.ReadInbound() != nil {
			t.Fatal("partial frame delivered")
		}
	})
}

func TestDecodeAll(t *testing.T) {
	frames, err := codec.DecodeAll(mustFixed(t, 2), buffer.FromString("ABCDE"))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames = %d", len(frames))
	}
	for i, want := range []string{"AB", "CD"} {
		if got := frames[i].(*buffer.Buffer).String(); got != want {
			t.Fatalf("frame %d = %q", i, got)
		}
	}

	d := mustLengthField(t, codec.LengthFieldConf{MaxFrameLength: 2, LengthFieldLength: 1, InitialBytesToStrip: 1})
	frames, err = codec.DecodeAll(d, buffer.FromString("\x01a\x05abcde"))
	if len(frames) != 1 || !errors.Is(err, codec.ErrTooLongFrame) {
		t.Fatalf("frames = %d, err = %v", len(frames), err)
	}
}
